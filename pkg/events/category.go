package events

import "fmt"

// Category is a typed supply-chain disruption. The string values are the
// wire vocabulary and must not change.
type Category string

const (
	CategoryMaterialShortage   Category = "material_shortage"
	CategoryLogisticsDelay     Category = "logistics_delay"
	CategoryRegulatoryChange   Category = "regulatory_change"
	CategoryQualityRecall      Category = "quality_recall"
	CategoryPriceVolatility    Category = "price_volatility"
	CategoryProductionHalt     Category = "production_halt"
	CategoryGeopolitical       Category = "geopolitical"
	CategoryWeatherDisruption  Category = "weather_disruption"
	CategoryLaborDispute       Category = "labor_dispute"
	CategoryCyberIncident      Category = "cyber_incident"
	CategoryPortCongestion     Category = "port_congestion"
	CategoryCapacityConstraint Category = "capacity_constraint"
)

var allCategories = []Category{
	CategoryMaterialShortage,
	CategoryLogisticsDelay,
	CategoryRegulatoryChange,
	CategoryQualityRecall,
	CategoryPriceVolatility,
	CategoryProductionHalt,
	CategoryGeopolitical,
	CategoryWeatherDisruption,
	CategoryLaborDispute,
	CategoryCyberIncident,
	CategoryPortCongestion,
	CategoryCapacityConstraint,
}

// AllCategories returns every category in declaration order.
func AllCategories() []Category {
	return append([]Category(nil), allCategories...)
}

// ParseCategory validates a wire value.
func ParseCategory(s string) (Category, error) {
	for _, c := range allCategories {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
}

// Severity grades an event.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ParseSeverity validates a wire value. The empty string maps to medium.
func ParseSeverity(s string) (Severity, error) {
	switch Severity(s) {
	case "":
		return SeverityMedium, nil
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return Severity(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSeverity, s)
}

// Agent roles with a default subscription row.
const (
	RoleProcurementAgent    = "procurement_agent"
	RoleTier1Supplier       = "tier_1_supplier"
	RoleTier2Supplier       = "tier_2_supplier"
	RoleLogisticsProvider   = "logistics_provider"
	RoleComplianceAgent     = "compliance_agent"
	RoleAssemblyCoordinator = "assembly_coordinator"
)

var roleDefaults = map[string][]Category{
	RoleProcurementAgent: {
		CategoryMaterialShortage,
		CategoryPriceVolatility,
		CategoryProductionHalt,
		CategoryGeopolitical,
		CategoryQualityRecall,
		CategoryCapacityConstraint,
	},
	RoleTier1Supplier: {
		CategoryMaterialShortage,
		CategoryLogisticsDelay,
		CategoryRegulatoryChange,
		CategoryPriceVolatility,
		CategoryLaborDispute,
	},
	RoleTier2Supplier: {
		CategoryMaterialShortage,
		CategoryPriceVolatility,
		CategoryGeopolitical,
	},
	RoleLogisticsProvider: {
		CategoryLogisticsDelay,
		CategoryWeatherDisruption,
		CategoryPortCongestion,
		CategoryGeopolitical,
		CategoryLaborDispute,
	},
	RoleComplianceAgent: {
		CategoryRegulatoryChange,
		CategoryQualityRecall,
		CategoryGeopolitical,
	},
	RoleAssemblyCoordinator: {
		CategoryProductionHalt,
		CategoryLogisticsDelay,
		CategoryQualityRecall,
		CategoryCapacityConstraint,
	},
}

// RoleDefaults returns the default categories for role. Unknown roles only
// hear about production halts.
func RoleDefaults(role string) []Category {
	if cats, ok := roleDefaults[role]; ok {
		return append([]Category(nil), cats...)
	}
	return []Category{CategoryProductionHalt}
}
