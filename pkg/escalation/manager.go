// Package escalation pauses work on risky or untrusted agents until a human
// decides how to proceed.
//
// The manager evaluates a CEL policy per agent, tracks each escalation's
// lifecycle, lets callers block on a decision with their own deadline and
// issues a content-hashed receipt when an escalation is resolved.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/justKMM/supply-chainer/pkg/canonicalize"
	"github.com/justKMM/supply-chainer/pkg/idgen"
)

var (
	ErrNotFound      = errors.New("escalation not found")
	ErrNotPending    = errors.New("escalation is not pending")
	ErrInvalidAction = errors.New("invalid escalation action")
	ErrInvalidRule   = errors.New("invalid escalation rule")
	ErrCleared       = errors.New("escalation cleared")
)

// Action is the human decision on an escalation.
type Action string

const (
	ActionProceed         Action = "proceed"
	ActionReject          Action = "reject"
	ActionSubstituteAgent Action = "substitute_agent"
)

// ParseAction validates a wire value.
func ParseAction(s string) (Action, error) {
	switch Action(s) {
	case ActionProceed, ActionReject, ActionSubstituteAgent:
		return Action(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidAction, s)
}

// Status of an escalation.
type Status string

const (
	StatusPending  Status = "pending"
	StatusResolved Status = "resolved"
	StatusTimedOut Status = "timed_out"
	StatusCleared  Status = "cleared"
)

// Escalation is one paused decision about an agent.
type Escalation struct {
	EscalationID string     `json:"escalation_id"`
	Reason       string     `json:"reason"`
	AgentID      string     `json:"agent_id"`
	TrustScore   *float64   `json:"trust_score"`
	RiskScore    *float64   `json:"risk_score"`
	Threshold    float64    `json:"threshold"`
	Status       Status     `json:"status"`
	Action       Action     `json:"action,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	ExpiresAt    time.Time  `json:"expires_at"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
}

// Receipt records how an escalation was resolved.
type Receipt struct {
	ReceiptID    string    `json:"receipt_id"`
	EscalationID string    `json:"escalation_id"`
	Outcome      Status    `json:"outcome"`
	Action       Action    `json:"action,omitempty"`
	ResolvedAt   time.Time `json:"resolved_at"`
	DurationMs   int64     `json:"duration_ms"`
	ContentHash  string    `json:"content_hash"`
}

// StatusView is the polling view: paused while anything is pending.
type StatusView struct {
	Paused     bool        `json:"paused"`
	Escalation *Escalation `json:"escalation"`
}

type entry struct {
	esc  *Escalation
	done chan struct{}
}

// Manager owns the escalation lifecycle.
type Manager struct {
	mu        sync.Mutex
	policy    *Policy
	entries   map[string]*entry
	pending   map[string]string // agent_id -> escalation_id
	latest    string
	threshold float64
	timeout   time.Duration
	clock     func() time.Time
	logger    *slog.Logger
}

// NewManager creates a manager that escalates whenever policy fires.
// threshold is the trust threshold reported alongside trust escalations
// and timeout bounds how long an escalation stays answerable.
func NewManager(policy *Policy, threshold float64, timeout time.Duration) *Manager {
	return &Manager{
		policy:    policy,
		entries:   make(map[string]*entry),
		pending:   make(map[string]string),
		threshold: threshold,
		timeout:   timeout,
		clock:     time.Now,
		logger:    slog.Default().With("component", "escalation"),
	}
}

// WithClock overrides the clock for deterministic testing.
func (m *Manager) WithClock(clock func() time.Time) *Manager {
	m.clock = clock
	return m
}

// Evaluate runs the policy for s. It returns the new or already pending
// escalation for the agent, or nil when the policy does not fire.
func (m *Manager) Evaluate(ctx context.Context, s Subject) (*Escalation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fires, err := m.policy.Fires(s)
	if err != nil {
		return nil, fmt.Errorf("escalation policy for %s: %w", s.AgentID, err)
	}
	if !fires {
		return nil, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.pending[s.AgentID]; ok {
		return copyEscalation(m.entries[id].esc), nil
	}

	now := m.clock().UTC()
	risk := s.Risk
	esc := &Escalation{
		EscalationID: idgen.UniqueAt(idgen.PrefixEscalation, now, m.taken),
		Reason:       reasonFor(s, m.threshold),
		AgentID:      s.AgentID,
		RiskScore:    &risk,
		Threshold:    m.threshold,
		Status:       StatusPending,
		CreatedAt:    now,
		ExpiresAt:    now.Add(m.timeout),
	}
	if s.Trust != nil {
		trust := *s.Trust
		esc.TrustScore = &trust
	}
	m.entries[esc.EscalationID] = &entry{esc: esc, done: make(chan struct{})}
	m.pending[s.AgentID] = esc.EscalationID
	m.latest = esc.EscalationID

	m.logger.Info("escalation raised", "escalation_id", esc.EscalationID, "agent_id", s.AgentID, "reason", esc.Reason)
	return copyEscalation(esc), nil
}

func reasonFor(s Subject, threshold float64) string {
	if s.Trust != nil && *s.Trust < threshold {
		return fmt.Sprintf("Trust score %.2f for %s is below threshold %.2f", *s.Trust, s.AgentID, threshold)
	}
	return fmt.Sprintf("Risk score %.2f for %s requires review", s.Risk, s.AgentID)
}

// Respond resolves a pending escalation with action and wakes any waiter.
func (m *Manager) Respond(escalationID string, action Action) (*Receipt, error) {
	if _, err := ParseAction(string(action)); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[escalationID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, escalationID)
	}
	if e.esc.Status != StatusPending {
		return nil, fmt.Errorf("%w: %q (status=%s)", ErrNotPending, escalationID, e.esc.Status)
	}

	now := m.clock().UTC()
	if now.After(e.esc.ExpiresAt) {
		m.finishLocked(e, StatusTimedOut, "", now)
		return nil, fmt.Errorf("%w: %q expired", ErrNotPending, escalationID)
	}

	m.finishLocked(e, StatusResolved, action, now)
	m.logger.Info("escalation resolved", "escalation_id", escalationID, "action", action)
	return m.receipt(e.esc), nil
}

// finishLocked moves e to a terminal status and releases waiters.
func (m *Manager) finishLocked(e *entry, status Status, action Action, at time.Time) {
	e.esc.Status = status
	e.esc.Action = action
	e.esc.ResolvedAt = &at
	if m.pending[e.esc.AgentID] == e.esc.EscalationID {
		delete(m.pending, e.esc.AgentID)
	}
	close(e.done)
}

// Wait blocks until the escalation is resolved or ctx ends. When ctx ends
// first the escalation times out and ctx.Err() is returned.
func (m *Manager) Wait(ctx context.Context, escalationID string) (Action, error) {
	m.mu.Lock()
	e, ok := m.entries[escalationID]
	m.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrNotFound, escalationID)
	}

	select {
	case <-e.done:
	case <-ctx.Done():
		m.mu.Lock()
		if e.esc.Status == StatusPending {
			m.finishLocked(e, StatusTimedOut, "", m.clock().UTC())
			m.logger.Warn("escalation timed out", "escalation_id", escalationID)
			m.mu.Unlock()
			return "", ctx.Err()
		}
		m.mu.Unlock()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	switch e.esc.Status {
	case StatusResolved:
		return e.esc.Action, nil
	case StatusCleared:
		return "", ErrCleared
	default:
		return "", fmt.Errorf("%w: %q (status=%s)", ErrNotPending, escalationID, e.esc.Status)
	}
}

// CheckTimeouts expires pending escalations past their deadline and
// returns receipts for them.
func (m *Manager) CheckTimeouts() []*Receipt {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock().UTC()
	var receipts []*Receipt
	for _, id := range m.sortedIDsLocked() {
		e := m.entries[id]
		if e.esc.Status == StatusPending && now.After(e.esc.ExpiresAt) {
			m.finishLocked(e, StatusTimedOut, "", now)
			receipts = append(receipts, m.receipt(e.esc))
		}
	}
	return receipts
}

// Get returns a copy of the escalation.
func (m *Manager) Get(escalationID string) (*Escalation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[escalationID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, escalationID)
	}
	return copyEscalation(e.esc), nil
}

// Pending lists pending escalations, oldest first.
func (m *Manager) Pending() []*Escalation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Escalation, 0, len(m.pending))
	for _, id := range m.sortedIDsLocked() {
		if e := m.entries[id]; e.esc.Status == StatusPending {
			out = append(out, copyEscalation(e.esc))
		}
	}
	return out
}

// Status reports whether anything is pending and the escalation to show:
// the oldest pending one, otherwise the most recent.
func (m *Manager) Status() StatusView {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.sortedIDsLocked() {
		if e := m.entries[id]; e.esc.Status == StatusPending {
			return StatusView{Paused: true, Escalation: copyEscalation(e.esc)}
		}
	}
	if e, ok := m.entries[m.latest]; ok {
		return StatusView{Escalation: copyEscalation(e.esc)}
	}
	return StatusView{}
}

// Clear cancels pending escalations and forgets all of them. Waiters get
// ErrCleared.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock().UTC()
	for _, e := range m.entries {
		if e.esc.Status == StatusPending {
			m.finishLocked(e, StatusCleared, "", now)
		}
	}
	m.entries = make(map[string]*entry)
	m.pending = make(map[string]string)
	m.latest = ""
}

func (m *Manager) sortedIDsLocked() []string {
	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := m.entries[ids[i]].esc, m.entries[ids[j]].esc
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return ids[i] < ids[j]
	})
	return ids
}

func (m *Manager) receipt(esc *Escalation) *Receipt {
	resolvedAt := m.clock().UTC()
	if esc.ResolvedAt != nil {
		resolvedAt = *esc.ResolvedAt
	}
	r := &Receipt{
		ReceiptID:    uuid.New().String(),
		EscalationID: esc.EscalationID,
		Outcome:      esc.Status,
		Action:       esc.Action,
		ResolvedAt:   resolvedAt,
		DurationMs:   resolvedAt.Sub(esc.CreatedAt).Milliseconds(),
	}

	hashable := struct {
		EscalationID string `json:"escalation_id"`
		Outcome      Status `json:"outcome"`
		Action       Action `json:"action"`
	}{esc.EscalationID, esc.Status, esc.Action}
	if d, err := canonicalize.Digest(hashable); err == nil {
		r.ContentHash = d
	}
	return r
}

// taken reports whether id is already in use. Callers hold m.mu.
func (m *Manager) taken(id string) bool {
	_, ok := m.entries[id]
	return ok
}

func copyEscalation(e *Escalation) *Escalation {
	c := *e
	if e.TrustScore != nil {
		v := *e.TrustScore
		c.TrustScore = &v
	}
	if e.RiskScore != nil {
		v := *e.RiskScore
		c.RiskScore = &v
	}
	if e.ResolvedAt != nil {
		v := *e.ResolvedAt
		c.ResolvedAt = &v
	}
	return &c
}
