package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atvirokodosprendimai/gbfsvalidator/internal/core/domain"
)

func TestCatalogFeedsPerVersion(t *testing.T) {
	cases := []struct {
		version string
		has     []string
		missing []string
	}{
		{"1.0", []string{"gbfs", "system_information", "free_bike_status", "system_hours"}, []string{"gbfs_versions", "vehicle_types", "vehicle_status"}},
		{"1.1", []string{"gbfs_versions", "system_alerts"}, []string{"vehicle_types", "geofencing_zones"}},
		{"2.0", []string{"gbfs_versions", "system_alerts", "free_bike_status"}, []string{"vehicle_types"}},
		{"2.1", []string{"vehicle_types", "geofencing_zones", "free_bike_status"}, []string{"vehicle_status", "manifest"}},
		{"2.2", []string{"vehicle_types", "free_bike_status"}, []string{"vehicle_status"}},
		{"2.3", []string{"vehicle_types", "free_bike_status", "system_pricing_plans"}, []string{"vehicle_status", "manifest"}},
		{"3.0", []string{"vehicle_status", "manifest", "vehicle_types"}, []string{"free_bike_status", "system_hours", "system_calendar"}},
	}
	catalog := newTestCatalog()
	for _, tc := range cases {
		t.Run(tc.version, func(t *testing.T) {
			v, err := catalog.Version(tc.version)
			require.NoError(t, err)
			assert.Equal(t, tc.version, v.String())
			feeds := v.FeedNames()
			for _, feed := range tc.has {
				assert.Contains(t, feeds, feed)
			}
			for _, feed := range tc.missing {
				assert.NotContains(t, feeds, feed)
			}
		})
	}
}

func TestFeedNamesAreUniqueAndCanonicallyOrdered(t *testing.T) {
	catalog := newTestCatalog()
	for _, version := range SupportedVersions() {
		v, err := catalog.Version(version)
		require.NoError(t, err)
		seen := map[string]bool{}
		last := -1
		for _, feed := range v.FeedNames() {
			require.False(t, seen[feed], "%s lists %s twice", version, feed)
			seen[feed] = true
			idx := indexOf(domain.KnownFeeds, feed)
			require.Greater(t, idx, last, "%s out of order in %s", feed, version)
			last = idx
		}
	}
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}

func TestSupportedVersionsOrdered(t *testing.T) {
	assert.Equal(t, []string{"1.0", "1.1", "2.0", "2.1", "2.2", "2.3", "3.0"}, SupportedVersions())
}

func TestNewVersionUnsupported(t *testing.T) {
	for _, v := range []string{"", "0.9", "2.4", "3.1", "v2.3", "2.3-RC"} {
		_, err := NewVersion(v, nil)
		require.ErrorIs(t, err, domain.ErrUnsupportedVersion, v)
		var uv *domain.UnsupportedVersionError
		require.ErrorAs(t, err, &uv)
		assert.Equal(t, v, uv.Version)
	}
	_, err := newTestCatalog().Version("4.0")
	require.ErrorIs(t, err, domain.ErrUnsupportedVersion)
}

func TestIsRequired(t *testing.T) {
	catalog := newTestCatalog()
	cases := []struct {
		version     string
		gbfsNeeded  bool
		optionalOne string
	}{
		{"1.0", false, "station_status"},
		{"1.1", false, "gbfs_versions"},
		{"2.0", false, "system_alerts"},
		{"2.1", true, "vehicle_types"},
		{"2.2", true, "free_bike_status"},
		{"2.3", true, "system_pricing_plans"},
		{"3.0", true, "manifest"},
	}
	for _, tc := range cases {
		v, err := catalog.Version(tc.version)
		require.NoError(t, err)
		assert.True(t, v.IsRequired(domain.FeedSystemInformation), tc.version)
		assert.Equal(t, tc.gbfsNeeded, v.IsRequired(domain.FeedGBFS), tc.version)
		assert.False(t, v.IsRequired(tc.optionalOne), tc.version)
	}
}

func TestRulePatchersPerVersion(t *testing.T) {
	catalog := newTestCatalog()
	counts := map[string]map[string]int{
		"2.0": {domain.FeedFreeBikeStatus: 0, domain.FeedStationStatus: 0},
		"2.1": {domain.FeedFreeBikeStatus: 3, domain.FeedStationStatus: 2, domain.FeedSystemInformation: 1, domain.FeedStationInformation: 1, domain.FeedVehicleTypes: 0},
		"2.2": {domain.FeedFreeBikeStatus: 4, domain.FeedVehicleTypes: 0},
		"2.3": {domain.FeedFreeBikeStatus: 4, domain.FeedVehicleTypes: 1},
		"3.0": {domain.FeedVehicleStatus: 5, domain.FeedVehicleTypes: 1, domain.FeedStationStatus: 2, domain.FeedFreeBikeStatus: 0},
	}
	for version, feeds := range counts {
		v, err := catalog.Version(version)
		require.NoError(t, err)
		for feed, want := range feeds {
			assert.Len(t, v.RulePatchers(feed), want, "%s %s", version, feed)
		}
	}
}

// Every rule must find its target locations in the bundled schemas, with and
// without siblings.
func TestRulePatchersApplyToBundledSchemas(t *testing.T) {
	full := ruleContext(t, loadFixtures(t, "2.3"))
	empty := domain.NewRuleContext()
	catalog := newTestCatalog()
	for _, version := range SupportedVersions() {
		v, err := catalog.Version(version)
		require.NoError(t, err)
		fv := NewFileValidator(v, nil)
		for _, feed := range v.FeedNames() {
			for _, rc := range []domain.RuleContext{empty, full} {
				schema, err := fv.PatchedSchema(feed, rc)
				require.NoError(t, err, "%s %s", version, feed)
				text, err := schema.Marshal()
				require.NoError(t, err)
				_, err = compileSchema(text)
				require.NoError(t, err, "%s %s", version, feed)
			}
		}
	}
}
