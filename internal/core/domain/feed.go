package domain

import (
	"bytes"
	"regexp"
)

// Canonical GBFS feed names. Not every name is known to every version.
const (
	FeedGBFS               = "gbfs"
	FeedGBFSVersions       = "gbfs_versions"
	FeedSystemInformation  = "system_information"
	FeedVehicleTypes       = "vehicle_types"
	FeedStationInformation = "station_information"
	FeedStationStatus      = "station_status"
	FeedFreeBikeStatus     = "free_bike_status"
	FeedVehicleStatus      = "vehicle_status"
	FeedSystemHours        = "system_hours"
	FeedSystemAlerts       = "system_alerts"
	FeedSystemCalendar     = "system_calendar"
	FeedSystemRegions      = "system_regions"
	FeedSystemPricingPlans = "system_pricing_plans"
	FeedGeofencingZones    = "geofencing_zones"
	FeedManifest           = "manifest"
)

// KnownFeeds lists every canonical feed name in discovery order.
var KnownFeeds = []string{
	FeedGBFS,
	FeedGBFSVersions,
	FeedSystemInformation,
	FeedVehicleTypes,
	FeedStationInformation,
	FeedStationStatus,
	FeedFreeBikeStatus,
	FeedVehicleStatus,
	FeedSystemHours,
	FeedSystemAlerts,
	FeedSystemCalendar,
	FeedSystemRegions,
	FeedSystemPricingPlans,
	FeedGeofencingZones,
	FeedManifest,
}

var feedNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// ValidateFeedName rejects names that cannot address a bundled schema.
func ValidateFeedName(name string) error {
	if !feedNamePattern.MatchString(name) {
		return ErrInvalidFeedName
	}
	return nil
}

// FeedDocument is one submitted file after the parse phase. Raw is kept even
// when parsing fails so that it can be echoed back in the report.
type FeedDocument struct {
	Name        string
	Raw         []byte
	Readable    bool
	Value       any
	Diagnostics []SystemDiagnostic
}

// Parsed reports whether the document decoded to a JSON value.
func (d FeedDocument) Parsed() bool {
	return d.Readable && len(d.Diagnostics) == 0
}

var utf8BOM = []byte("\xef\xbb\xbf")

// Body returns Raw without a leading UTF-8 byte order mark.
func (d FeedDocument) Body() []byte {
	return bytes.TrimPrefix(d.Raw, utf8BOM)
}

// Contents returns the raw text, or nil when the bytes could not be read.
func (d FeedDocument) Contents() *string {
	if !d.Readable {
		return nil
	}
	s := string(d.Raw)
	return &s
}

// LoadedFile is one file fetched by a feed loader. Content is nil when
// the fetch failed, in which case Errors carries the reason.
type LoadedFile struct {
	Name     string             `json:"name"`
	URL      string             `json:"url"`
	Language string             `json:"language"`
	Content  []byte             `json:"-"`
	Errors   []SystemDiagnostic `json:"errors"`
}
