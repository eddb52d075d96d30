package usecase

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/atvirokodosprendimai/gbfsvalidator/internal/core/domain"
	"github.com/atvirokodosprendimai/gbfsvalidator/internal/core/ports"
)

// SchemaRepository loads base (unpatched) schemas and caches them per
// version and feed. Cached documents are shared between calls and must never
// be mutated; callers clone before patching.
type SchemaRepository struct {
	source ports.SchemaSource
	log    *zap.SugaredLogger
	cache  sync.Map // key: "version/feed" → *baseSchema
	group  singleflight.Group
}

type baseSchema struct {
	doc  domain.SchemaDoc
	text string
}

func NewSchemaRepository(source ports.SchemaSource, log *zap.SugaredLogger) *SchemaRepository {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &SchemaRepository{source: source, log: log}
}

// Base returns the shared base schema for feed under version. It returns an
// error wrapping domain.ErrSchemaNotFound when none is bundled.
func (r *SchemaRepository) Base(version, feed string) (domain.SchemaDoc, error) {
	entry, err := r.load(version, feed)
	if err != nil {
		return nil, err
	}
	return entry.doc, nil
}

// BaseText returns the base schema rendered as JSON text.
func (r *SchemaRepository) BaseText(version, feed string) (string, error) {
	entry, err := r.load(version, feed)
	if err != nil {
		return "", err
	}
	return entry.text, nil
}

func (r *SchemaRepository) load(version, feed string) (*baseSchema, error) {
	cacheKey := version + "/" + feed
	if cached, ok := r.cache.Load(cacheKey); ok {
		return cached.(*baseSchema), nil
	}

	v, err, _ := r.group.Do(cacheKey, func() (any, error) {
		if cached, ok := r.cache.Load(cacheKey); ok {
			return cached, nil
		}
		raw, err := r.source.Open(version, feed)
		if err != nil {
			return nil, err
		}
		doc, err := domain.ParseSchemaDoc(raw)
		if err != nil {
			return nil, fmt.Errorf("schema %s: %w", cacheKey, err)
		}
		text, err := doc.Marshal()
		if err != nil {
			return nil, fmt.Errorf("schema %s: %w", cacheKey, err)
		}
		entry, _ := r.cache.LoadOrStore(cacheKey, &baseSchema{doc: doc, text: string(text)})
		r.log.Debugw("base schema loaded", "version", version, "feed", feed)
		return entry, nil
	})
	if err != nil {
		if !errors.Is(err, domain.ErrSchemaNotFound) {
			r.log.Errorw("load base schema", "version", version, "feed", feed, "error", err)
		}
		return nil, err
	}
	return v.(*baseSchema), nil
}
