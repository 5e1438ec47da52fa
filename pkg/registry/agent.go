package registry

import (
	"slices"
	"time"
)

// Agent statuses.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// SupplierRoles are the roles ListSuppliers returns.
var SupplierRoles = []string{"tier_1_supplier", "tier_2_supplier", "raw_material_supplier"}

type Product struct {
	ProductID        string         `json:"product_id"`
	Name             string         `json:"name"`
	Category         string         `json:"category"`
	Subcategory      string         `json:"subcategory,omitempty"`
	Specifications   map[string]any `json:"specifications,omitempty"`
	UnitPriceEUR     float64        `json:"unit_price_eur"`
	Currency         string         `json:"currency,omitempty"`
	MinOrderQuantity int            `json:"min_order_quantity,omitempty"`
	LeadTimeDays     int            `json:"lead_time_days,omitempty"`
}

type ProductionCapacity struct {
	UnitsPerMonth         int     `json:"units_per_month"`
	CurrentUtilizationPct float64 `json:"current_utilization_pct"`
}

type Capabilities struct {
	Products           []Product           `json:"products"`
	Services           []string            `json:"services"`
	ProductionCapacity *ProductionCapacity `json:"production_capacity,omitempty"`
}

type Certification struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	IssuedBy    string `json:"issued_by,omitempty"`
	ValidUntil  string `json:"valid_until,omitempty"`
	Status      string `json:"status,omitempty"`
}

type Location struct {
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	City    string  `json:"city,omitempty"`
	Country string  `json:"country,omitempty"`
}

type LocationInfo struct {
	Headquarters    *Location `json:"headquarters,omitempty"`
	ShippingRegions []string  `json:"shipping_regions"`
}

// Trust is the self-declared trust profile. Live reputation overrides
// TrustScore in searches once the agent has transactions.
type Trust struct {
	TrustScore        float64 `json:"trust_score"`
	YearsInOperation  int     `json:"years_in_operation,omitempty"`
	PastContracts     int     `json:"past_contracts,omitempty"`
	OnTimeDeliveryPct float64 `json:"on_time_delivery_pct,omitempty"`
	DefectRatePPM     float64 `json:"defect_rate_ppm,omitempty"`
	DisputeCount12m   int     `json:"dispute_count_12m,omitempty"`
}

type NetworkInfo struct {
	Endpoint              string   `json:"endpoint,omitempty"`
	Protocol              string   `json:"protocol,omitempty"`
	APIVersion            string   `json:"api_version,omitempty"`
	SupportedMessageTypes []string `json:"supported_message_types,omitempty"`
}

// AgentFact is the directory entry for one agent.
type AgentFact struct {
	AgentID        string          `json:"agent_id"`
	Name           string          `json:"name"`
	Role           string          `json:"role"`
	Description    string          `json:"description"`
	Capabilities   Capabilities    `json:"capabilities"`
	Certifications []Certification `json:"certifications"`
	Location       *LocationInfo   `json:"location,omitempty"`
	Trust          *Trust          `json:"trust,omitempty"`
	Network        *NetworkInfo    `json:"network,omitempty"`
	RegisteredAt   time.Time       `json:"registered_at"`
	LastHeartbeat  time.Time       `json:"last_heartbeat"`
	Status         string          `json:"status"`
}

// Clone returns a deep copy of a.
func (a AgentFact) Clone() AgentFact {
	c := a
	c.Capabilities.Products = make([]Product, len(a.Capabilities.Products))
	copy(c.Capabilities.Products, a.Capabilities.Products)
	c.Capabilities.Services = slices.Clone(a.Capabilities.Services)
	if a.Capabilities.ProductionCapacity != nil {
		pc := *a.Capabilities.ProductionCapacity
		c.Capabilities.ProductionCapacity = &pc
	}
	c.Certifications = slices.Clone(a.Certifications)
	if a.Location != nil {
		loc := *a.Location
		if a.Location.Headquarters != nil {
			hq := *a.Location.Headquarters
			loc.Headquarters = &hq
		}
		loc.ShippingRegions = slices.Clone(a.Location.ShippingRegions)
		c.Location = &loc
	}
	if a.Trust != nil {
		t := *a.Trust
		c.Trust = &t
	}
	if a.Network != nil {
		n := *a.Network
		n.SupportedMessageTypes = slices.Clone(a.Network.SupportedMessageTypes)
		c.Network = &n
	}
	return c
}

// StaticTrust is the declared trust score, 0 when absent.
func (a AgentFact) StaticTrust() float64 {
	if a.Trust == nil {
		return 0
	}
	return a.Trust.TrustScore
}

func (a AgentFact) country() string {
	if a.Location == nil || a.Location.Headquarters == nil {
		return ""
	}
	return a.Location.Headquarters.Country
}

func (a AgentFact) servesRegion(region string) bool {
	hq := a.country()
	if hq == "" {
		return false
	}
	return hq == region || slices.Contains(a.Location.ShippingRegions, region)
}

func (a AgentFact) hasProductCategory(category string) bool {
	for _, p := range a.Capabilities.Products {
		if p.Category == category {
			return true
		}
	}
	return false
}

func (a AgentFact) hasCertification(certType string) bool {
	for _, c := range a.Certifications {
		if c.Type == certType {
			return true
		}
	}
	return false
}

// SubscriptionScope derives event-bus filters from the agent: headquarters
// country plus shipping regions, and the categories of its products.
// Duplicates are dropped keeping first occurrences.
func SubscriptionScope(a AgentFact) (regions, productCategories []string) {
	regions = []string{}
	productCategories = []string{}
	add := func(dst []string, v string) []string {
		if v == "" || slices.Contains(dst, v) {
			return dst
		}
		return append(dst, v)
	}
	regions = add(regions, a.country())
	if a.Location != nil {
		for _, r := range a.Location.ShippingRegions {
			regions = add(regions, r)
		}
	}
	for _, p := range a.Capabilities.Products {
		productCategories = add(productCategories, p.Category)
	}
	return regions, productCategories
}

// EligibleForSubscription reports whether the agent is active and its
// declared trust, when present, meets threshold.
func EligibleForSubscription(a AgentFact, threshold float64) bool {
	if a.Status != StatusActive {
		return false
	}
	return a.Trust == nil || a.Trust.TrustScore >= threshold
}
