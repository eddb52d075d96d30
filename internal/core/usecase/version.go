package usecase

import (
	"slices"

	"github.com/Masterminds/semver/v3"

	"github.com/atvirokodosprendimai/gbfsvalidator/internal/core/domain"
)

// DefaultVersion is assumed when the discovery file does not declare one.
const DefaultVersion = "2.3"

// legacyVersion is implied by documents that carry no version field; the
// field was introduced in 1.1.
const legacyVersion = "1.0"

var discoveryRequiredFrom = semver.MustParse("2.1")

type versionSpec struct {
	feeds []string
	rules func() map[string][]RulePatcher
}

var (
	feedsV10 = []string{
		domain.FeedGBFS,
		domain.FeedSystemInformation,
		domain.FeedStationInformation,
		domain.FeedStationStatus,
		domain.FeedFreeBikeStatus,
		domain.FeedSystemHours,
		domain.FeedSystemCalendar,
		domain.FeedSystemRegions,
		domain.FeedSystemPricingPlans,
	}
	feedsV11 = append(slices.Clone(feedsV10),
		domain.FeedGBFSVersions,
		domain.FeedSystemAlerts,
	)
	feedsV21 = append(slices.Clone(feedsV11),
		domain.FeedVehicleTypes,
		domain.FeedGeofencingZones,
	)
	feedsV30 = []string{
		domain.FeedGBFS,
		domain.FeedGBFSVersions,
		domain.FeedSystemInformation,
		domain.FeedVehicleTypes,
		domain.FeedStationInformation,
		domain.FeedStationStatus,
		domain.FeedVehicleStatus,
		domain.FeedSystemAlerts,
		domain.FeedSystemRegions,
		domain.FeedSystemPricingPlans,
		domain.FeedGeofencingZones,
		domain.FeedManifest,
	}
)

var versionRegistry = map[string]versionSpec{
	"1.0": {feeds: feedsV10, rules: noRules},
	"1.1": {feeds: feedsV11, rules: noRules},
	"2.0": {feeds: feedsV11, rules: noRules},
	"2.1": {feeds: feedsV21, rules: rulesV21},
	"2.2": {feeds: feedsV21, rules: rulesV22},
	"2.3": {feeds: feedsV21, rules: rulesV23},
	"3.0": {feeds: feedsV30, rules: rulesV30},
}

// SupportedVersions returns every version string the catalog knows, oldest
// first.
func SupportedVersions() []string {
	out := make([]string, 0, len(versionRegistry))
	for v := range versionRegistry {
		out = append(out, v)
	}
	slices.SortFunc(out, func(a, b string) int {
		return semver.MustParse(a).Compare(semver.MustParse(b))
	})
	return out
}

// Version is one supported GBFS revision: its feed catalog, requiredness
// and rule patchers. It is immutable once built.
type Version struct {
	version  string
	semver   *semver.Version
	feeds    []string
	patchers map[string][]RulePatcher
	schemas  *SchemaRepository
}

// NewVersion builds the catalog entry for v. Unknown strings fail with an
// error matching domain.ErrUnsupportedVersion.
func NewVersion(v string, schemas *SchemaRepository) (*Version, error) {
	spec, ok := versionRegistry[v]
	if !ok {
		return nil, &domain.UnsupportedVersionError{Version: v}
	}
	sv, err := semver.NewVersion(v)
	if err != nil {
		return nil, &domain.UnsupportedVersionError{Version: v}
	}
	feeds := make([]string, 0, len(spec.feeds))
	for _, feed := range domain.KnownFeeds {
		if slices.Contains(spec.feeds, feed) {
			feeds = append(feeds, feed)
		}
	}
	return &Version{
		version:  v,
		semver:   sv,
		feeds:    feeds,
		patchers: spec.rules(),
		schemas:  schemas,
	}, nil
}

func (v *Version) String() string {
	return v.version
}

// FeedNames returns the catalog in canonical order.
func (v *Version) FeedNames() []string {
	return slices.Clone(v.feeds)
}

func (v *Version) HasFeed(feed string) bool {
	return slices.Contains(v.feeds, feed)
}

// IsRequired reports whether a missing feed counts as an error.
// system_information is always required; the discovery file from 2.1 on.
func (v *Version) IsRequired(feed string) bool {
	switch feed {
	case domain.FeedSystemInformation:
		return true
	case domain.FeedGBFS:
		return !v.semver.LessThan(discoveryRequiredFrom)
	default:
		return false
	}
}

func (v *Version) RulePatchers(feed string) []RulePatcher {
	return slices.Clone(v.patchers[feed])
}

// BaseSchema returns the shared, unpatched schema for feed.
func (v *Version) BaseSchema(feed string) (domain.SchemaDoc, error) {
	return v.schemas.Base(v.version, feed)
}

func (v *Version) BaseSchemaText(feed string) (string, error) {
	return v.schemas.BaseText(v.version, feed)
}

// Catalog hands out one Version per supported string.
type Catalog struct {
	schemas  *SchemaRepository
	versions map[string]*Version
}

func NewCatalog(schemas *SchemaRepository) *Catalog {
	versions := make(map[string]*Version, len(versionRegistry))
	for v := range versionRegistry {
		built, err := NewVersion(v, schemas)
		if err != nil {
			panic(err)
		}
		versions[v] = built
	}
	return &Catalog{schemas: schemas, versions: versions}
}

func (c *Catalog) Version(v string) (*Version, error) {
	built, ok := c.versions[v]
	if !ok {
		return nil, &domain.UnsupportedVersionError{Version: v}
	}
	return built, nil
}

func (c *Catalog) Schemas() *SchemaRepository {
	return c.schemas
}
