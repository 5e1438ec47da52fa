package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() func() time.Time {
	t := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	return func() time.Time { return t }
}

func TestRoleDefaults(t *testing.T) {
	assert.Equal(t, []Category{
		CategoryLogisticsDelay,
		CategoryWeatherDisruption,
		CategoryPortCongestion,
		CategoryGeopolitical,
		CategoryLaborDispute,
	}, RoleDefaults(RoleLogisticsProvider))
	assert.Equal(t, []Category{CategoryProductionHalt}, RoleDefaults("ferrari_dealer"))

	// Callers get a copy of the row.
	row := RoleDefaults(RoleTier2Supplier)
	row[0] = CategoryCyberIncident
	assert.Equal(t, CategoryMaterialShortage, RoleDefaults(RoleTier2Supplier)[0])
}

func TestParseCategoryAndSeverity(t *testing.T) {
	c, err := ParseCategory("port_congestion")
	require.NoError(t, err)
	assert.Equal(t, CategoryPortCongestion, c)

	_, err = ParseCategory("alien_invasion")
	assert.ErrorIs(t, err, ErrUnknownCategory)

	s, err := ParseSeverity("")
	require.NoError(t, err)
	assert.Equal(t, SeverityMedium, s)

	_, err = ParseSeverity("catastrophic")
	assert.ErrorIs(t, err, ErrUnknownSeverity)

	assert.Len(t, AllCategories(), 12)
}

func TestSubscriptionMatches(t *testing.T) {
	weatherIT := Subscription{
		Categories: []Category{CategoryWeatherDisruption},
		Regions:    []string{"IT"},
	}

	tests := []struct {
		name string
		sub  Subscription
		evt  Event
		want bool
	}{
		{
			name: "region overlap",
			sub:  weatherIT,
			evt:  Event{Category: CategoryWeatherDisruption, AffectedRegions: []string{"IT", "AT", "DE"}},
			want: true,
		},
		{
			name: "disjoint regions",
			sub:  weatherIT,
			evt:  Event{Category: CategoryWeatherDisruption, AffectedRegions: []string{"FR"}},
			want: false,
		},
		{
			name: "event without regions reaches region-filtered subscriber",
			sub:  weatherIT,
			evt:  Event{Category: CategoryWeatherDisruption},
			want: true,
		},
		{
			name: "subscriber without regions hears every region",
			sub:  Subscription{Categories: []Category{CategoryWeatherDisruption}},
			evt:  Event{Category: CategoryWeatherDisruption, AffectedRegions: []string{"JP"}},
			want: true,
		},
		{
			name: "category not subscribed",
			sub:  weatherIT,
			evt:  Event{Category: CategoryCyberIncident, AffectedRegions: []string{"IT"}},
			want: false,
		},
		{
			name: "product categories disjoint",
			sub: Subscription{
				Categories:        []Category{CategoryMaterialShortage},
				ProductCategories: []string{"brakes"},
			},
			evt:  Event{Category: CategoryMaterialShortage, AffectedCategories: []string{"engine"}},
			want: false,
		},
		{
			name: "product categories overlap with region mismatch",
			sub: Subscription{
				Categories:        []Category{CategoryMaterialShortage},
				Regions:           []string{"DE"},
				ProductCategories: []string{"brakes"},
			},
			evt: Event{
				Category:           CategoryMaterialShortage,
				AffectedRegions:    []string{"CN"},
				AffectedCategories: []string{"brakes"},
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evt := tt.evt
			assert.Equal(t, tt.want, tt.sub.Matches(&evt))
		})
	}
}

func TestBus_WeatherScenario(t *testing.T) {
	bus := NewBus().WithClock(fixedClock())
	bus.Subscribe("brembo-01", "Brembo", RoleTier1Supplier, []string{"IT"}, nil)
	bus.Subscribe("dhl-01", "DHL", RoleLogisticsProvider, nil, nil)
	bus.Subscribe("eu-compliance-agent-01", "EU Compliance Validator", RoleComplianceAgent, []string{"EU"}, nil)

	evt := &Event{
		Category:        CategoryWeatherDisruption,
		Title:           "Alpine snowstorm",
		AffectedRegions: []string{"IT", "AT"},
	}
	recipients := bus.Publish(evt)

	assert.Equal(t, []string{"dhl-01"}, recipients)
	assert.Equal(t, []string{"dhl-01"}, evt.AcknowledgedBy)
	assert.NotEmpty(t, evt.EventID)
	assert.Equal(t, SeverityMedium, evt.Severity)
	assert.Equal(t, fixedClock()(), evt.Timestamp)

	deliveries := bus.Deliveries()
	require.Len(t, deliveries, 1)
	assert.Equal(t, Delivery{
		EventID:   evt.EventID,
		AgentID:   "dhl-01",
		AgentName: "DHL",
		Category:  CategoryWeatherDisruption,
		Severity:  SeverityMedium,
		Timestamp: evt.Timestamp,
	}, deliveries[0])
}

func TestBus_PublishWithoutMatchesReturnsEmpty(t *testing.T) {
	bus := NewBus()
	recipients := bus.Publish(&Event{Category: CategoryCyberIncident})
	assert.NotNil(t, recipients)
	assert.Empty(t, recipients)
	assert.Len(t, bus.Events(Filter{}), 1)
}

func TestBus_SubscribeOverwriteKeepsOrder(t *testing.T) {
	bus := NewBus()
	bus.Subscribe("a", "A", RoleProcurementAgent, nil, nil)
	bus.Subscribe("b", "B", RoleProcurementAgent, nil, nil)
	sub := bus.Subscribe("a", "A2", RoleTier2Supplier, []string{"IT", "IT", "DE"}, nil)

	assert.Equal(t, []string{"IT", "DE"}, sub.Regions)
	assert.Equal(t, []string{}, sub.ProductCategories)

	subs := bus.Subscriptions()
	require.Len(t, subs, 2)
	assert.Equal(t, "a", subs[0].AgentID)
	assert.Equal(t, "A2", subs[0].AgentName)
	assert.Equal(t, RoleDefaults(RoleTier2Supplier), subs[0].Categories)

	recipients := bus.Publish(&Event{Category: CategoryMaterialShortage})
	assert.Equal(t, []string{"a", "b"}, recipients)
}

func TestBus_AcknowledgeIsIdempotent(t *testing.T) {
	bus := NewBus()
	bus.Subscribe("a", "A", RoleProcurementAgent, nil, nil)
	evt := &Event{Category: CategoryProductionHalt}
	bus.Publish(evt)

	assert.True(t, bus.Acknowledge(evt.EventID, "ferrari-procurement-01"))
	assert.True(t, bus.Acknowledge(evt.EventID, "ferrari-procurement-01"))
	assert.True(t, bus.Acknowledge(evt.EventID, "a"))
	assert.False(t, bus.Acknowledge("evt-missing", "a"))

	got := bus.Event(evt.EventID)
	require.NotNil(t, got)
	assert.Equal(t, []string{"a", "ferrari-procurement-01"}, got.AcknowledgedBy)

	// The caller's copy is not touched by later acknowledgements.
	assert.Equal(t, []string{"a"}, evt.AcknowledgedBy)
}

func TestBus_DuplicateEventIDIsReassigned(t *testing.T) {
	bus := NewBus()
	bus.Subscribe("a", "A", RoleProcurementAgent, nil, nil)

	first := &Event{EventID: "evt-supplied", Category: CategoryProductionHalt}
	second := &Event{EventID: "evt-supplied", Category: CategoryMaterialShortage}
	bus.Publish(first)
	bus.Publish(second)

	assert.Equal(t, "evt-supplied", first.EventID)
	assert.NotEqual(t, "evt-supplied", second.EventID)
	assert.Len(t, bus.Events(Filter{}), 2)

	require.True(t, bus.Acknowledge("evt-supplied", "zz"))
	assert.Contains(t, bus.Event("evt-supplied").AcknowledgedBy, "zz")
	assert.Equal(t, CategoryProductionHalt, bus.Event("evt-supplied").Category)
	assert.NotContains(t, bus.Event(second.EventID).AcknowledgedBy, "zz")
	assert.Equal(t, CategoryMaterialShortage, bus.Event(second.EventID).Category)
}

func TestBus_GettersReturnCopies(t *testing.T) {
	bus := NewBus()
	bus.Subscribe("a", "A", RoleProcurementAgent, []string{"IT"}, nil)
	evt := &Event{Category: CategoryProductionHalt, AffectedRegions: []string{"IT"}, Data: map[string]any{"k": "v"}}
	bus.Publish(evt)

	evt.AffectedRegions[0] = "XX"
	evt.Data["k"] = "mutated"

	got := bus.Events(Filter{})[0]
	assert.Equal(t, []string{"IT"}, got.AffectedRegions)
	assert.Equal(t, "v", got.Data["k"])

	got.AcknowledgedBy = append(got.AcknowledgedBy, "intruder")
	assert.Equal(t, []string{"a"}, bus.Event(evt.EventID).AcknowledgedBy)

	sub, ok := bus.Subscription("a")
	require.True(t, ok)
	sub.Regions[0] = "XX"
	sub, _ = bus.Subscription("a")
	assert.Equal(t, []string{"IT"}, sub.Regions)
}

func TestBus_EventsFilter(t *testing.T) {
	bus := NewBus()
	bus.Publish(&Event{Category: CategoryPortCongestion, Severity: SeverityHigh})
	bus.Publish(&Event{Category: CategoryPortCongestion, Severity: SeverityLow})
	bus.Publish(&Event{Category: CategoryGeopolitical, Severity: SeverityHigh})

	assert.Len(t, bus.Events(Filter{}), 3)
	assert.Len(t, bus.Events(Filter{Category: CategoryPortCongestion}), 2)
	assert.Len(t, bus.Events(Filter{Severity: SeverityHigh}), 2)
	assert.Len(t, bus.Events(Filter{Category: CategoryPortCongestion, Severity: SeverityHigh}), 1)
	assert.Empty(t, bus.Events(Filter{Category: CategoryCyberIncident}))
}

func TestBus_AgentEventsUseDeliveryLog(t *testing.T) {
	bus := NewBus()
	bus.Subscribe("dhl-01", "DHL", RoleLogisticsProvider, nil, nil)
	first := &Event{Category: CategoryPortCongestion}
	bus.Publish(first)

	// Re-subscribing with a role that no longer hears port congestion keeps
	// history intact.
	bus.Subscribe("dhl-01", "DHL", RoleComplianceAgent, nil, nil)
	bus.Publish(&Event{Category: CategoryPortCongestion})

	got := bus.AgentEvents("dhl-01")
	require.Len(t, got, 1)
	assert.Equal(t, first.EventID, got[0].EventID)
	assert.Empty(t, bus.AgentEvents("unknown"))
}

func TestBus_Summary(t *testing.T) {
	bus := NewBus()
	bus.Subscribe("a", "A", RoleProcurementAgent, []string{"IT"}, []string{"brakes"})
	bus.Subscribe("b", "B", RoleAssemblyCoordinator, nil, nil)
	bus.Publish(&Event{Category: CategoryProductionHalt, Severity: SeverityCritical})
	bus.Publish(&Event{Category: CategoryProductionHalt})
	bus.Publish(&Event{Category: CategoryGeopolitical})

	s := bus.Summary()
	assert.Equal(t, 3, s.TotalEvents)
	assert.Equal(t, 2, s.TotalSubscriptions)
	assert.Equal(t, 5, s.TotalDeliveries)
	assert.Equal(t, map[string]int{"production_halt": 2, "geopolitical": 1}, s.ByCategory)
	assert.Equal(t, map[string]int{"critical": 1, "medium": 2}, s.BySeverity)
	require.Len(t, s.Subscriptions, 2)
	assert.Equal(t, SubscriptionView{
		AgentID:           "a",
		AgentName:         "A",
		Categories:        RoleDefaults(RoleProcurementAgent),
		Regions:           []string{"IT"},
		ProductCategories: []string{"brakes"},
	}, s.Subscriptions[0])
}

func TestBus_Resolve(t *testing.T) {
	bus := NewBus()
	evt := &Event{Category: CategoryLaborDispute}
	bus.Publish(evt)
	assert.True(t, bus.Resolve(evt.EventID))
	assert.True(t, bus.Event(evt.EventID).Resolved)
	assert.False(t, bus.Resolve("nope"))
}

func TestBus_HandlersRunAfterPublish(t *testing.T) {
	bus := NewBus()
	bus.Subscribe("a", "A", RoleProcurementAgent, nil, nil)

	var seen []string
	bus.AddHandler(func(evt *Event, recipients []string) {
		// Reentrant reads must not deadlock.
		seen = append(seen, bus.Event(evt.EventID).EventID)
		assert.Equal(t, []string{"a"}, recipients)
	})

	evt := &Event{Category: CategoryCapacityConstraint}
	bus.Publish(evt)
	assert.Equal(t, []string{evt.EventID}, seen)
}

func TestBus_ClearIsIdempotent(t *testing.T) {
	bus := NewBus()
	bus.Subscribe("a", "A", RoleProcurementAgent, nil, nil)
	bus.Publish(&Event{Category: CategoryProductionHalt})

	bus.Clear()
	first := bus.Summary()
	bus.Clear()
	second := bus.Summary()

	assert.Equal(t, first, second)
	assert.Zero(t, second.TotalEvents)
	assert.Empty(t, bus.Events(Filter{}))
	assert.Empty(t, bus.Subscriptions())
	assert.Empty(t, bus.Deliveries())
	assert.Empty(t, bus.AgentEvents("a"))
	_, ok := bus.Subscription("a")
	assert.False(t, ok)
}

func TestBus_ConcurrentPublish(t *testing.T) {
	bus := NewBus()
	bus.Subscribe("a", "A", RoleProcurementAgent, nil, nil)

	const n = 50
	done := make(chan struct{})
	for i := 0; i < n; i++ {
		go func() {
			bus.Publish(&Event{Category: CategoryProductionHalt})
			done <- struct{}{}
		}()
	}
	for i := 0; i < n; i++ {
		<-done
	}
	assert.Len(t, bus.Deliveries(), n)
	assert.Equal(t, n, bus.Summary().TotalEvents)
}
