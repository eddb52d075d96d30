// Package bundled serves the schemas embedded in the binary.
package bundled

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/atvirokodosprendimai/gbfsvalidator/internal/core/domain"
	"github.com/atvirokodosprendimai/gbfsvalidator/schema"
)

type Source struct {
	fsys fs.FS
}

// NewSource returns a source over the embedded schema bundle.
func NewSource() *Source {
	return &Source{fsys: schema.FS}
}

// NewSourceFS reads schemas laid out as v{version}/{feed}.json from fsys.
func NewSourceFS(fsys fs.FS) *Source {
	return &Source{fsys: fsys}
}

func (s *Source) Open(version, feed string) ([]byte, error) {
	if err := domain.ValidateFeedName(feed); err != nil {
		return nil, fmt.Errorf("%w: %q", domain.ErrSchemaNotFound, feed)
	}
	raw, err := fs.ReadFile(s.fsys, schema.Path(version, feed))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s/%s", domain.ErrSchemaNotFound, version, feed)
	}
	if err != nil {
		return nil, fmt.Errorf("read schema %s/%s: %w", version, feed, err)
	}
	return raw, nil
}
