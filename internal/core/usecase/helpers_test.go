package usecase

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/atvirokodosprendimai/gbfsvalidator/internal/adapters/bundled"
	"github.com/atvirokodosprendimai/gbfsvalidator/internal/core/domain"
)

func newTestCatalog() *Catalog {
	return NewCatalog(NewSchemaRepository(bundled.NewSource(), nil))
}

func newTestValidator(opts ...ValidatorOption) *Validator {
	return NewValidator(newTestCatalog(), opts...)
}

// loadFixtures reads every testdata/v{version}/*.json file keyed by feed name.
func loadFixtures(t *testing.T, version string) map[string][]byte {
	t.Helper()
	paths, err := filepath.Glob(filepath.Join("testdata", "v"+version, "*.json"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)
	feeds := make(map[string][]byte, len(paths))
	for _, p := range paths {
		raw, err := os.ReadFile(p)
		require.NoError(t, err)
		feeds[strings.TrimSuffix(filepath.Base(p), ".json")] = raw
	}
	return feeds
}

func ruleContext(t *testing.T, feeds map[string][]byte) domain.RuleContext {
	t.Helper()
	docs := make([]domain.FeedDocument, 0, len(feeds))
	for name, raw := range feeds {
		doc := parseDocument(name, strings.NewReader(string(raw)))
		require.True(t, doc.Parsed(), "fixture %s does not parse", name)
		docs = append(docs, doc)
	}
	return domain.NewRuleContext(docs...)
}

func keywords(errs []domain.ValidationError) []string {
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, e.Keyword)
	}
	return out
}

type recordingObserver struct {
	mu      sync.Mutex
	reports int
	ignored []string
}

func (o *recordingObserver) ObserveReport(domain.ValidationReport, time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reports++
}

func (o *recordingObserver) ObserveIgnoredFeed(version, feed string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ignored = append(o.ignored, version+"/"+feed)
}
