package usecase

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atvirokodosprendimai/gbfsvalidator/internal/adapters/bundled"
	"github.com/atvirokodosprendimai/gbfsvalidator/internal/core/domain"
)

type countingSource struct {
	inner interface {
		Open(version, feed string) ([]byte, error)
	}
	opens atomic.Int64
}

func (s *countingSource) Open(version, feed string) ([]byte, error) {
	s.opens.Add(1)
	return s.inner.Open(version, feed)
}

func TestSchemaRepositoryCachesBaseSchema(t *testing.T) {
	src := &countingSource{inner: bundled.NewSource()}
	repo := NewSchemaRepository(src, nil)

	first, err := repo.Base("2.3", domain.FeedSystemInformation)
	require.NoError(t, err)
	second, err := repo.Base("2.3", domain.FeedSystemInformation)
	require.NoError(t, err)
	text, err := repo.BaseText("2.3", domain.FeedSystemInformation)
	require.NoError(t, err)

	assert.Equal(t, int64(1), src.opens.Load())
	assert.Equal(t, fmt.Sprintf("%p", first), fmt.Sprintf("%p", second))
	assert.Contains(t, text, `"title":"GBFS v2.3 system_information"`)
}

func TestSchemaRepositoryConcurrentFirstLoad(t *testing.T) {
	src := &countingSource{inner: bundled.NewSource()}
	repo := NewSchemaRepository(src, nil)

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.Base("3.0", domain.FeedVehicleStatus); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int64(1), src.opens.Load())
}

func TestSchemaRepositoryNotFound(t *testing.T) {
	repo := NewSchemaRepository(bundled.NewSource(), nil)
	_, err := repo.Base("3.0", domain.FeedFreeBikeStatus)
	require.ErrorIs(t, err, domain.ErrSchemaNotFound)
	_, err = repo.BaseText("2.3", "no_such_feed")
	require.ErrorIs(t, err, domain.ErrSchemaNotFound)
}

func TestPatchingLeavesBaseSchemaUntouched(t *testing.T) {
	catalog := newTestCatalog()
	v, err := catalog.Version("2.3")
	require.NoError(t, err)
	before, err := v.BaseSchemaText(domain.FeedFreeBikeStatus)
	require.NoError(t, err)

	rc := ruleContext(t, loadFixtures(t, "2.3"))
	patched, err := NewFileValidator(v, nil).PatchedSchema(domain.FeedFreeBikeStatus, rc)
	require.NoError(t, err)
	pricing, err := patched.Object(locBikes + ".properties.pricing_plan_id")
	require.NoError(t, err)
	assert.Equal(t, []any{"p1", "p2"}, pricing["enum"])

	base, err := v.BaseSchema(domain.FeedFreeBikeStatus)
	require.NoError(t, err)
	rendered, err := base.Marshal()
	require.NoError(t, err)
	assert.Equal(t, before, string(rendered))

	baseItems, err := base.Object(locBikes)
	require.NoError(t, err)
	assert.NotContains(t, baseItems, "if")
	basePricing, err := base.Object(locBikes + ".properties.pricing_plan_id")
	require.NoError(t, err)
	assert.NotContains(t, basePricing, "enum")
}

func TestPatchedSchemasDoNotInterfere(t *testing.T) {
	catalog := newTestCatalog()
	v, err := catalog.Version("2.3")
	require.NoError(t, err)
	fv := NewFileValidator(v, nil)

	withPlans := ruleContext(t, map[string][]byte{
		domain.FeedSystemPricingPlans: loadFixtures(t, "2.3")[domain.FeedSystemPricingPlans],
	})
	a, err := fv.PatchedSchema(domain.FeedFreeBikeStatus, withPlans)
	require.NoError(t, err)
	b, err := fv.PatchedSchema(domain.FeedFreeBikeStatus, domain.NewRuleContext())
	require.NoError(t, err)

	aPricing, err := a.Object(locBikes + ".properties.pricing_plan_id")
	require.NoError(t, err)
	bPricing, err := b.Object(locBikes + ".properties.pricing_plan_id")
	require.NoError(t, err)
	assert.Equal(t, []any{"p1", "p2"}, aPricing["enum"])
	assert.NotContains(t, aPricing, "not")
	assert.NotContains(t, bPricing, "enum")
	assert.Equal(t, map[string]any{}, bPricing["not"])
}
