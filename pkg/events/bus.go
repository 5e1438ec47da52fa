// Package events routes typed supply-chain disruption events to subscribed
// agents and keeps an append-only delivery log.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/justKMM/supply-chainer/pkg/idgen"
)

// Handler observes every published event after routing. It receives a copy
// and the recipient list.
type Handler func(evt *Event, recipients []string)

// Bus is an in-memory, synchronous publish/subscribe router.
type Bus struct {
	mu         sync.RWMutex
	subs       map[string]*Subscription
	order      []string
	events     []*Event
	eventByID  map[string]*Event
	deliveries []Delivery
	handlers   []Handler
	clock      func() time.Time
	logger     *slog.Logger
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		subs:      make(map[string]*Subscription),
		eventByID: make(map[string]*Event),
		clock:     time.Now,
		logger:    slog.Default().With("component", "event_bus"),
	}
}

// WithClock overrides the clock for deterministic testing.
func (b *Bus) WithClock(clock func() time.Time) *Bus {
	b.clock = clock
	return b
}

// AddHandler registers h for every subsequent publish.
func (b *Bus) AddHandler(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Subscribe stores the subscription for agentID using the role's default
// categories, replacing any previous one in place.
func (b *Bus) Subscribe(agentID, agentName, role string, regions, productCategories []string) Subscription {
	sub := &Subscription{
		AgentID:           agentID,
		AgentName:         agentName,
		Categories:        RoleDefaults(role),
		Regions:           dedupe(regions),
		ProductCategories: dedupe(productCategories),
		SubscribedAt:      b.clock().UTC(),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.subs[agentID]; !exists {
		b.order = append(b.order, agentID)
	}
	b.subs[agentID] = sub
	b.logger.Debug("subscribed", "agent_id", agentID, "role", role, "categories", len(sub.Categories))
	return sub.clone()
}

// Publish records evt and delivers it to every matching subscription in
// subscription order. Missing ID, timestamp and severity are filled in on
// evt, and an ID already on the bus is replaced with a fresh one. The
// returned recipient list is never nil.
func (b *Bus) Publish(evt *Event) []string {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = b.clock().UTC()
	}
	if evt.Severity == "" {
		evt.Severity = SeverityMedium
	}

	b.mu.Lock()
	if _, dup := b.eventByID[evt.EventID]; dup || evt.EventID == "" {
		if dup {
			b.logger.Warn("event id already published, reassigning", "event_id", evt.EventID)
		}
		evt.EventID = idgen.UniqueAt(idgen.PrefixEvent, b.clock(), b.eventTaken)
	}
	stored := evt.Clone()
	recipients := make([]string, 0)
	for _, id := range b.order {
		sub := b.subs[id]
		if !sub.Matches(stored) {
			continue
		}
		recipients = append(recipients, id)
		b.deliveries = append(b.deliveries, Delivery{
			EventID:   stored.EventID,
			AgentID:   id,
			AgentName: sub.AgentName,
			Category:  stored.Category,
			Severity:  stored.Severity,
			Timestamp: stored.Timestamp,
		})
	}
	stored.AcknowledgedBy = append([]string{}, recipients...)
	evt.AcknowledgedBy = append([]string{}, recipients...)
	b.events = append(b.events, stored)
	b.eventByID[stored.EventID] = stored
	handlers := append([]Handler(nil), b.handlers...)
	snapshot := stored.Clone()
	b.mu.Unlock()

	b.logger.Debug("event published",
		"event_id", snapshot.EventID,
		"category", snapshot.Category,
		"severity", snapshot.Severity,
		"recipients", len(recipients),
	)

	for _, h := range handlers {
		h(snapshot, append([]string(nil), recipients...))
	}
	return recipients
}

func (b *Bus) eventTaken(id string) bool {
	_, ok := b.eventByID[id]
	return ok
}

// Acknowledge adds agentID to the event's acknowledgements once. Unknown
// events are ignored.
func (b *Bus) Acknowledge(eventID, agentID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	evt, ok := b.eventByID[eventID]
	if !ok {
		return false
	}
	for _, a := range evt.AcknowledgedBy {
		if a == agentID {
			return true
		}
	}
	evt.AcknowledgedBy = append(evt.AcknowledgedBy, agentID)
	return true
}

// Resolve marks an event as resolved.
func (b *Bus) Resolve(eventID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	evt, ok := b.eventByID[eventID]
	if !ok {
		return false
	}
	evt.Resolved = true
	return true
}

// Event returns a copy of the event, or nil.
func (b *Bus) Event(eventID string) *Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.eventByID[eventID].Clone()
}

// Events returns the published events matching f in publication order.
func (b *Bus) Events(f Filter) []*Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Event, 0, len(b.events))
	for _, e := range b.events {
		if f.matches(e) {
			out = append(out, e.Clone())
		}
	}
	return out
}

// AgentEvents returns the events the delivery log says agentID received,
// regardless of its current subscription.
func (b *Bus) AgentEvents(agentID string) []*Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	delivered := make(map[string]struct{})
	for _, d := range b.deliveries {
		if d.AgentID == agentID {
			delivered[d.EventID] = struct{}{}
		}
	}
	out := make([]*Event, 0, len(delivered))
	for _, e := range b.events {
		if _, ok := delivered[e.EventID]; ok {
			out = append(out, e.Clone())
		}
	}
	return out
}

// Deliveries returns a copy of the delivery log.
func (b *Bus) Deliveries() []Delivery {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append(make([]Delivery, 0, len(b.deliveries)), b.deliveries...)
}

// Subscription returns the agent's subscription.
func (b *Bus) Subscription(agentID string) (Subscription, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	sub, ok := b.subs[agentID]
	if !ok {
		return Subscription{}, false
	}
	return sub.clone(), true
}

// Subscriptions returns all subscriptions in subscription order.
func (b *Bus) Subscriptions() []Subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Subscription, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.subs[id].clone())
	}
	return out
}

// Summary counts events by category and severity and lists subscriptions.
func (b *Bus) Summary() Summary {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s := Summary{
		TotalEvents:        len(b.events),
		TotalSubscriptions: len(b.subs),
		TotalDeliveries:    len(b.deliveries),
		ByCategory:         make(map[string]int),
		BySeverity:         make(map[string]int),
		Subscriptions:      make([]SubscriptionView, 0, len(b.order)),
	}
	for _, e := range b.events {
		s.ByCategory[string(e.Category)]++
		s.BySeverity[string(e.Severity)]++
	}
	for _, id := range b.order {
		sub := b.subs[id].clone()
		s.Subscriptions = append(s.Subscriptions, SubscriptionView{
			AgentID:           sub.AgentID,
			AgentName:         sub.AgentName,
			Categories:        sub.Categories,
			Regions:           sub.Regions,
			ProductCategories: sub.ProductCategories,
		})
	}
	return s
}

// Clear drops subscriptions, events and the delivery log. Handlers stay
// registered.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[string]*Subscription)
	b.order = nil
	b.events = nil
	b.eventByID = make(map[string]*Event)
	b.deliveries = nil
}
