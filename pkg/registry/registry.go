// Package registry is the in-memory agent directory and the live message
// log shown to operators.
package registry

import (
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/justKMM/supply-chainer/pkg/idgen"
)

var (
	ErrAgentNotFound = errors.New("agent not found")
	ErrInvalidAgent  = errors.New("agent_id is required")
)

// ScoreSource supplies live composite reputation.
type ScoreSource interface {
	Composite(agentID string) (float64, bool)
}

// Query filters Search. Empty strings match everything. A nil MinTrust
// falls back to the registry default.
type Query struct {
	Role              string
	Capability        string
	Region            string
	Certification     string
	MinTrust          *float64
	IncludeDeprecated bool
}

// DeprecatedAgent is a soft-deprecation record.
type DeprecatedAgent struct {
	AgentID string `json:"agent_id"`
	Reason  string `json:"reason"`
}

// HealthFilters are the filters Search applies by default.
type HealthFilters struct {
	MinTrust         float64           `json:"min_trust"`
	DeprecatedAgents []DeprecatedAgent `json:"deprecated_agents"`
	Regions          []string          `json:"regions"`
}

// LiveMessage is one line of the operator-facing activity feed.
type LiveMessage struct {
	MessageID string    `json:"message_id"`
	Timestamp time.Time `json:"timestamp"`
	FromID    string    `json:"from_id"`
	FromLabel string    `json:"from_label"`
	ToID      string    `json:"to_id"`
	ToLabel   string    `json:"to_label"`
	Type      string    `json:"type"`
	Summary   string    `json:"summary"`
	Detail    string    `json:"detail"`
	Color     string    `json:"color"`
	Icon      string    `json:"icon"`
}

// Registry is a thread-safe in-memory directory. Agents are listed in
// registration order.
type Registry struct {
	mu         sync.RWMutex
	agents     map[string]*AgentFact
	order      []string
	deprecated map[string]string
	deprOrder  []string
	messages   []LiveMessage
	scores     ScoreSource
	minTrust   float64
	clock      func() time.Time
	logger     *slog.Logger
}

// New creates a registry. scores may be nil; minTrust is the default
// search threshold.
func New(scores ScoreSource, minTrust float64) *Registry {
	return &Registry{
		agents:     make(map[string]*AgentFact),
		deprecated: make(map[string]string),
		scores:     scores,
		minTrust:   minTrust,
		clock:      time.Now,
		logger:     slog.Default().With("component", "registry"),
	}
}

// WithClock overrides the clock for deterministic testing.
func (r *Registry) WithClock(clock func() time.Time) *Registry {
	r.clock = clock
	return r
}

// Register stores the agent as active, stamping registration and heartbeat
// times. Re-registering replaces the entry in place.
func (r *Registry) Register(agent AgentFact) (AgentFact, error) {
	if agent.AgentID == "" {
		return AgentFact{}, ErrInvalidAgent
	}
	now := r.clock().UTC()
	stored := agent.Clone()
	stored.RegisteredAt = now
	stored.LastHeartbeat = now
	stored.Status = StatusActive

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[agent.AgentID]; !ok {
		r.order = append(r.order, agent.AgentID)
	}
	r.agents[agent.AgentID] = &stored
	r.logger.Debug("agent registered", "agent_id", agent.AgentID, "role", agent.Role)
	return stored.Clone(), nil
}

// Deregister removes the agent. It reports whether it existed.
func (r *Registry) Deregister(agentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[agentID]; !ok {
		return false
	}
	delete(r.agents, agentID)
	r.order = slices.DeleteFunc(r.order, func(id string) bool { return id == agentID })
	return true
}

// SoftDeprecate hides the agent from default searches. Agents already
// deprecated may be deprecated again with a new reason.
func (r *Registry) SoftDeprecate(agentID, reason string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, known := r.agents[agentID]
	_, already := r.deprecated[agentID]
	if !known && !already {
		return false
	}
	if !already {
		r.deprOrder = append(r.deprOrder, agentID)
	}
	r.deprecated[agentID] = reason
	r.logger.Info("agent deprecated", "agent_id", agentID, "reason", reason)
	return true
}

// Get returns the agent.
func (r *Registry) Get(agentID string) (AgentFact, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[agentID]
	if !ok {
		return AgentFact{}, false
	}
	return a.Clone(), true
}

// List returns every agent in registration order.
func (r *Registry) List() []AgentFact {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]AgentFact, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.agents[id].Clone())
	}
	return out
}

// ListSuppliers returns supplier agents, optionally of a single role.
func (r *Registry) ListSuppliers(role string) []AgentFact {
	out := make([]AgentFact, 0)
	for _, a := range r.List() {
		if !slices.Contains(SupplierRoles, a.Role) {
			continue
		}
		if role != "" && a.Role != role {
			continue
		}
		out = append(out, a)
	}
	return out
}

// Search filters agents. The trust filter uses live reputation when the
// agent has any, its declared trust otherwise, and is skipped when the
// threshold is not positive.
func (r *Registry) Search(q Query) []AgentFact {
	threshold := r.minTrust
	if q.MinTrust != nil {
		threshold = *q.MinTrust
	}

	r.mu.RLock()
	candidates := make([]AgentFact, 0, len(r.order))
	for _, id := range r.order {
		if _, dep := r.deprecated[id]; dep && !q.IncludeDeprecated {
			continue
		}
		candidates = append(candidates, r.agents[id].Clone())
	}
	r.mu.RUnlock()

	out := make([]AgentFact, 0, len(candidates))
	for _, a := range candidates {
		if threshold > 0 && r.effectiveTrust(a) < threshold {
			continue
		}
		if q.Role != "" && a.Role != q.Role {
			continue
		}
		if q.Capability != "" && !a.hasProductCategory(q.Capability) {
			continue
		}
		if q.Region != "" && !a.servesRegion(q.Region) {
			continue
		}
		if q.Certification != "" && !a.hasCertification(q.Certification) {
			continue
		}
		out = append(out, a)
	}
	return out
}

func (r *Registry) effectiveTrust(a AgentFact) float64 {
	if r.scores != nil {
		if s, ok := r.scores.Composite(a.AgentID); ok {
			return s
		}
	}
	return a.StaticTrust()
}

// HealthFilters reports the default search threshold and deprecations.
func (r *Registry) HealthFilters() HealthFilters {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h := HealthFilters{
		MinTrust:         r.minTrust,
		DeprecatedAgents: make([]DeprecatedAgent, 0, len(r.deprOrder)),
		Regions:          []string{},
	}
	for _, id := range r.deprOrder {
		h.DeprecatedAgents = append(h.DeprecatedAgents, DeprecatedAgent{AgentID: id, Reason: r.deprecated[id]})
	}
	return h
}

// LogMessage appends msg to the live log, filling ID and timestamp.
func (r *Registry) LogMessage(msg LiveMessage) LiveMessage {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = r.clock().UTC()
	}
	if msg.MessageID == "" {
		msg.MessageID = idgen.NewAt(idgen.PrefixMessage, msg.Timestamp)
	}
	if msg.Color == "" {
		msg.Color = "#2196F3"
	}
	if msg.Icon == "" {
		msg.Icon = "info"
	}
	r.mu.Lock()
	r.messages = append(r.messages, msg)
	r.mu.Unlock()
	return msg
}

// Messages returns the live log in order.
func (r *Registry) Messages() []LiveMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append(make([]LiveMessage, 0, len(r.messages)), r.messages...)
}

// Clear drops agents, messages and deprecations.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents = make(map[string]*AgentFact)
	r.order = nil
	r.deprecated = make(map[string]string)
	r.deprOrder = nil
	r.messages = nil
}
