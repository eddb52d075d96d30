package usecase

import (
	"fmt"
	"slices"

	"github.com/buger/jsonparser"

	"github.com/atvirokodosprendimai/gbfsvalidator/internal/core/domain"
)

// RulePatcher derives a call-specific schema from an owned copy of a base
// schema and the sibling documents of the submission. Patchers of one feed
// are applied in order, each seeing the previous output.
type RulePatcher interface {
	Patch(schema domain.SchemaDoc, rc domain.RuleContext) (domain.SchemaDoc, error)
}

// motorizedPropulsion lists propulsion types that report a remaining range.
var motorizedPropulsion = []string{"electric_assist", "electric", "combustion"}

// entrySource names an array of entries inside a sibling feed.
type entrySource struct {
	feed string
	path []string
}

var (
	pricingPlanEntries   = entrySource{feed: domain.FeedSystemPricingPlans, path: []string{"data", "plans"}}
	vehicleTypeEntries   = entrySource{feed: domain.FeedVehicleTypes, path: []string{"data", "vehicle_types"}}
	regionEntries        = entrySource{feed: domain.FeedSystemRegions, path: []string{"data", "regions"}}
	stationInfoEntries   = entrySource{feed: domain.FeedStationInformation, path: []string{"data", "stations"}}
	stationStatusEntries = entrySource{feed: domain.FeedStationStatus, path: []string{"data", "stations"}}
	freeBikeEntries      = entrySource{feed: domain.FeedFreeBikeStatus, path: []string{"data", "bikes"}}
	vehicleStatusEntries = entrySource{feed: domain.FeedVehicleStatus, path: []string{"data", "vehicles"}}
)

// Schema locations targeted by the rules.
const (
	locStations          = "properties.data.properties.stations.items"
	locBikes             = "properties.data.properties.bikes.items"
	locVehicles          = "properties.data.properties.vehicles.items"
	locVehicleTypes      = "properties.data.properties.vehicle_types.items"
	locSystemData        = "properties.data"
	locRentalApps        = "properties.data.properties.rental_apps"
	locTypesAvailableID  = locStations + ".properties.vehicle_types_available.items.properties.vehicle_type_id"
	locDocksAvailableIDs = locStations + ".properties.vehicle_docks_available.items.properties.vehicle_type_ids.items"
)

// each calls fn for every entry of src. It reports false when the sibling
// feed is not part of the submission.
func (src entrySource) each(rc domain.RuleContext, fn func(entry []byte)) bool {
	doc, ok := rc.Lookup(src.feed)
	if !ok {
		return false
	}
	_, _ = jsonparser.ArrayEach(doc.Body(), func(value []byte, dataType jsonparser.ValueType, _ int, err error) {
		if err != nil || dataType != jsonparser.Object {
			return
		}
		fn(value)
	}, src.path...)
	return true
}

// strings collects the distinct string values of field across src entries,
// in document order.
func (src entrySource) strings(rc domain.RuleContext, field string) []string {
	values := make([]string, 0)
	src.each(rc, func(entry []byte) {
		v, err := jsonparser.GetString(entry, field)
		if err != nil || slices.Contains(values, v) {
			return
		}
		values = append(values, v)
	})
	return values
}

// enumRule restricts reference fields to the ids found in a sibling feed.
// An absent sibling admits no value, so every reference fails.
type enumRule struct {
	source  entrySource
	field   string
	targets []string
}

func (r enumRule) Patch(schema domain.SchemaDoc, rc domain.RuleContext) (domain.SchemaDoc, error) {
	values := r.source.strings(rc, r.field)
	for _, target := range r.targets {
		if err := schema.SetEnum(target, values); err != nil {
			return nil, fmt.Errorf("%s enum: %w", r.field, err)
		}
	}
	return schema, nil
}

// requiredIfPresentRule adds field to the required list at target when the
// sibling feed was submitted, whatever its content.
type requiredIfPresentRule struct {
	feed   string
	target string
	field  string
}

func (r requiredIfPresentRule) Patch(schema domain.SchemaDoc, rc domain.RuleContext) (domain.SchemaDoc, error) {
	if !rc.Has(r.feed) {
		return schema, nil
	}
	if err := schema.AppendRequired(r.target, r.field); err != nil {
		return nil, fmt.Errorf("require %s: %w", r.field, err)
	}
	return schema, nil
}

// currentRangeRule requires current_range_meters on entries whose vehicle
// type is motorized.
type currentRangeRule struct {
	target string
}

func (r currentRangeRule) Patch(schema domain.SchemaDoc, rc domain.RuleContext) (domain.SchemaDoc, error) {
	motorized := make([]any, 0)
	vehicleTypeEntries.each(rc, func(entry []byte) {
		propulsion, err := jsonparser.GetString(entry, "propulsion_type")
		if err != nil || !slices.Contains(motorizedPropulsion, propulsion) {
			return
		}
		id, err := jsonparser.GetString(entry, "vehicle_type_id")
		if err != nil || slices.Contains(motorized, any(id)) {
			return
		}
		motorized = append(motorized, id)
	})
	if len(motorized) == 0 {
		return schema, nil
	}

	ifSchema := map[string]any{
		"properties": map[string]any{
			"vehicle_type_id": map[string]any{"enum": motorized},
		},
		"required": []any{"vehicle_type_id"},
	}
	thenSchema := map[string]any{
		"required": []any{"current_range_meters"},
	}
	if err := schema.Set(r.target, "if", ifSchema); err != nil {
		return nil, fmt.Errorf("current range: %w", err)
	}
	if err := schema.Set(r.target, "then", thenSchema); err != nil {
		return nil, fmt.Errorf("current range: %w", err)
	}
	return schema, nil
}

// rentalAppsRule requires rental_apps store details in system_information
// for every platform that some vehicle or station declares a rental URI for.
type rentalAppsRule struct {
	sources []entrySource
}

func (r rentalAppsRule) Patch(schema domain.SchemaDoc, rc domain.RuleContext) (domain.SchemaDoc, error) {
	for _, platform := range []string{"android", "ios"} {
		if !r.declares(rc, platform) {
			continue
		}
		if err := schema.AppendRequired(locSystemData, "rental_apps"); err != nil {
			return nil, fmt.Errorf("rental apps: %w", err)
		}
		if err := schema.AppendRequired(locRentalApps, platform); err != nil {
			return nil, fmt.Errorf("rental apps: %w", err)
		}
	}
	return schema, nil
}

func (r rentalAppsRule) declares(rc domain.RuleContext, platform string) bool {
	found := false
	for _, src := range r.sources {
		src.each(rc, func(entry []byte) {
			if _, _, _, err := jsonparser.Get(entry, "rental_uris", platform); err == nil {
				found = true
			}
		})
		if found {
			return true
		}
	}
	return false
}

func noRules() map[string][]RulePatcher {
	return map[string][]RulePatcher{}
}

func vehicleTypeRefs(targets ...string) enumRule {
	return enumRule{source: vehicleTypeEntries, field: "vehicle_type_id", targets: targets}
}

func pricingPlanRefs(targets ...string) enumRule {
	return enumRule{source: pricingPlanEntries, field: "plan_id", targets: targets}
}

func stationStatusRules() []RulePatcher {
	return []RulePatcher{
		vehicleTypeRefs(locTypesAvailableID, locDocksAvailableIDs),
		requiredIfPresentRule{feed: domain.FeedVehicleTypes, target: locStations, field: "vehicle_types_available"},
	}
}

func vehicleEntryRules(items string) []RulePatcher {
	return []RulePatcher{
		requiredIfPresentRule{feed: domain.FeedVehicleTypes, target: items, field: "vehicle_type_id"},
		vehicleTypeRefs(items + ".properties.vehicle_type_id"),
		currentRangeRule{target: items},
	}
}

func stationInformationRules() []RulePatcher {
	return []RulePatcher{
		enumRule{source: regionEntries, field: "region_id", targets: []string{locStations + ".properties.region_id"}},
	}
}

func rulesV21() map[string][]RulePatcher {
	return map[string][]RulePatcher{
		domain.FeedStationStatus:      stationStatusRules(),
		domain.FeedFreeBikeStatus:     vehicleEntryRules(locBikes),
		domain.FeedSystemInformation:  {rentalAppsRule{sources: []entrySource{freeBikeEntries, stationInfoEntries}}},
		domain.FeedStationInformation: stationInformationRules(),
	}
}

func rulesV22() map[string][]RulePatcher {
	rules := rulesV21()
	rules[domain.FeedFreeBikeStatus] = append(rules[domain.FeedFreeBikeStatus],
		pricingPlanRefs(locBikes+".properties.pricing_plan_id"),
	)
	return rules
}

func rulesV23() map[string][]RulePatcher {
	rules := rulesV22()
	rules[domain.FeedVehicleTypes] = []RulePatcher{
		pricingPlanRefs(
			locVehicleTypes+".properties.default_pricing_plan_id",
			locVehicleTypes+".properties.pricing_plan_ids.items",
		),
	}
	return rules
}

func rulesV30() map[string][]RulePatcher {
	vehicleRules := append(vehicleEntryRules(locVehicles),
		pricingPlanRefs(locVehicles+".properties.pricing_plan_id"),
		enumRule{source: stationStatusEntries, field: "station_id", targets: []string{locVehicles + ".properties.station_id"}},
	)
	return map[string][]RulePatcher{
		domain.FeedVehicleTypes: {
			pricingPlanRefs(
				locVehicleTypes+".properties.default_pricing_plan_id",
				locVehicleTypes+".properties.pricing_plan_ids.items",
			),
		},
		domain.FeedStationStatus:      stationStatusRules(),
		domain.FeedVehicleStatus:      vehicleRules,
		domain.FeedSystemInformation:  {rentalAppsRule{sources: []entrySource{vehicleStatusEntries, stationInfoEntries}}},
		domain.FeedStationInformation: stationInformationRules(),
	}
}
