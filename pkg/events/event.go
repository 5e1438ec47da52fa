package events

import (
	"errors"
	"slices"
	"time"
)

var (
	ErrUnknownCategory = errors.New("unknown disruption category")
	ErrUnknownSeverity = errors.New("unknown severity")
)

// Event is a typed supply-chain disruption. Only AcknowledgedBy and Resolved
// change after publication.
type Event struct {
	EventID            string         `json:"event_id"`
	Timestamp          time.Time      `json:"timestamp"`
	Category           Category       `json:"category"`
	Severity           Severity       `json:"severity"`
	Title              string         `json:"title"`
	Description        string         `json:"description"`
	Source             string         `json:"source"`
	AffectedRegions    []string       `json:"affected_regions"`
	AffectedCategories []string       `json:"affected_categories"`
	AffectedAgents     []string       `json:"affected_agents"`
	ImpactAssessment   string         `json:"impact_assessment"`
	RecommendedActions []string       `json:"recommended_actions"`
	Data               map[string]any `json:"data"`
	AcknowledgedBy     []string       `json:"acknowledged_by"`
	Resolved           bool           `json:"resolved"`
}

// Clone returns a copy that shares no slices or maps with e. Values inside
// Data are copied shallowly.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	c := *e
	c.AffectedRegions = cloneStrings(e.AffectedRegions)
	c.AffectedCategories = cloneStrings(e.AffectedCategories)
	c.AffectedAgents = cloneStrings(e.AffectedAgents)
	c.RecommendedActions = cloneStrings(e.RecommendedActions)
	c.AcknowledgedBy = cloneStrings(e.AcknowledgedBy)
	if e.Data != nil {
		c.Data = make(map[string]any, len(e.Data))
		for k, v := range e.Data {
			c.Data[k] = v
		}
	}
	return &c
}

// Subscription is the routing filter for one agent. Empty Regions or
// ProductCategories mean "no filter" on that axis.
type Subscription struct {
	AgentID           string     `json:"agent_id"`
	AgentName         string     `json:"agent_name"`
	Categories        []Category `json:"categories"`
	Regions           []string   `json:"regions"`
	ProductCategories []string   `json:"product_categories"`
	SubscribedAt      time.Time  `json:"subscribed_at"`
}

func (s Subscription) clone() Subscription {
	s.Categories = slices.Clone(s.Categories)
	s.Regions = cloneStrings(s.Regions)
	s.ProductCategories = cloneStrings(s.ProductCategories)
	return s
}

// Matches reports whether e should be delivered under s.
func (s Subscription) Matches(e *Event) bool {
	if !slices.Contains(s.Categories, e.Category) {
		return false
	}
	if !overlapOrUnfiltered(s.Regions, e.AffectedRegions) {
		return false
	}
	return overlapOrUnfiltered(s.ProductCategories, e.AffectedCategories)
}

// overlapOrUnfiltered is true when either side is empty or the two share an
// element.
func overlapOrUnfiltered(filter, affected []string) bool {
	if len(filter) == 0 || len(affected) == 0 {
		return true
	}
	for _, a := range affected {
		if slices.Contains(filter, a) {
			return true
		}
	}
	return false
}

// Delivery is one row of the append-only delivery log.
type Delivery struct {
	EventID   string    `json:"event_id"`
	AgentID   string    `json:"agent_id"`
	AgentName string    `json:"agent_name"`
	Category  Category  `json:"category"`
	Severity  Severity  `json:"severity"`
	Timestamp time.Time `json:"timestamp"`
}

// Filter selects events. Zero fields match everything.
type Filter struct {
	Category Category
	Severity Severity
}

func (f Filter) matches(e *Event) bool {
	if f.Category != "" && e.Category != f.Category {
		return false
	}
	if f.Severity != "" && e.Severity != f.Severity {
		return false
	}
	return true
}

// SubscriptionView is the subscription row reported in a Summary.
type SubscriptionView struct {
	AgentID           string     `json:"agent_id"`
	AgentName         string     `json:"agent_name"`
	Categories        []Category `json:"categories"`
	Regions           []string   `json:"regions"`
	ProductCategories []string   `json:"product_categories"`
}

// Summary aggregates the bus state. It is recomputed on every call.
type Summary struct {
	TotalEvents        int                `json:"total_events"`
	TotalSubscriptions int                `json:"total_subscriptions"`
	TotalDeliveries    int                `json:"total_deliveries"`
	ByCategory         map[string]int     `json:"by_category"`
	BySeverity         map[string]int     `json:"by_severity"`
	Subscriptions      []SubscriptionView `json:"subscriptions"`
}

func cloneStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return slices.Clone(s)
}

// dedupe drops repeated values keeping first occurrences. Never nil.
func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}
