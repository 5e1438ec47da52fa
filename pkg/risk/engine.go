// Package risk tracks per-agent risk reports and spreads them one hop along
// a caller-supplied supply graph snapshot.
package risk

import (
	"encoding/json"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"
)

// KnownRiskTypes lists the risk types agents usually report. Other values
// are accepted.
var KnownRiskTypes = []string{"port_delay", "inventory_shortage", "price_shock", "production_halt"}

// OtherLabel stands in for unlisted values in metric labels.
const OtherLabel = "other"

// TypeLabel returns riskType when it is one of KnownRiskTypes and OtherLabel
// otherwise.
func TypeLabel(riskType string) string {
	if slices.Contains(KnownRiskTypes, riskType) {
		return riskType
	}
	return OtherLabel
}

const (
	edgeFactor   = 0.8
	inheritRatio = 0.5
)

// Report is one risk observation. Severity is clamped to [0,1].
type Report struct {
	AgentID   string    `json:"agent_id"`
	RiskType  string    `json:"risk_type"`
	Severity  float64   `json:"severity"`
	Timestamp time.Time `json:"timestamp"`
}

// Node is a graph vertex. Only the ID takes part in propagation.
type Node struct {
	ID    string `json:"id"`
	Label string `json:"label,omitempty"`
	Role  string `json:"role,omitempty"`
}

// Edge is a directed link from an upstream supplier to its customer.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// UnmarshalJSON accepts both from/to and source/target spellings.
func (e *Edge) UnmarshalJSON(data []byte) error {
	var raw struct {
		From   string `json:"from"`
		Source string `json:"source"`
		To     string `json:"to"`
		Target string `json:"target"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.From = raw.From
	if e.From == "" {
		e.From = raw.Source
	}
	e.To = raw.To
	if e.To == "" {
		e.To = raw.Target
	}
	return nil
}

// Key is the edge identifier used in propagation results.
func (e Edge) Key() string {
	return e.From + "->" + e.To
}

// Engine accumulates reports. It holds no graph.
type Engine struct {
	mu      sync.RWMutex
	reports []Report
	clock   func() time.Time
	logger  *slog.Logger
}

// NewEngine creates an engine with no reports.
func NewEngine() *Engine {
	return &Engine{
		clock:  time.Now,
		logger: slog.Default().With("component", "risk_engine"),
	}
}

// WithClock overrides the clock for deterministic testing.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// ReportRisk appends a clamped report. Reports accumulate and collapse to
// their maximum at query time.
func (e *Engine) ReportRisk(agentID, riskType string, severity float64) Report {
	r := Report{
		AgentID:   agentID,
		RiskType:  riskType,
		Severity:  clamp(severity),
		Timestamp: e.clock().UTC(),
	}
	e.mu.Lock()
	e.reports = append(e.reports, r)
	e.mu.Unlock()
	e.logger.Debug("risk reported", "agent_id", agentID, "risk_type", riskType, "severity", r.Severity)
	return r
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Min(1, math.Max(0, v))
}

// NodeRisks returns the maximum reported severity per agent.
func (e *Engine) NodeRisks() map[string]float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.maxByAgentLocked()
}

func (e *Engine) maxByAgentLocked() map[string]float64 {
	out := make(map[string]float64)
	for _, r := range e.reports {
		if cur, ok := out[r.AgentID]; !ok || r.Severity > cur {
			out[r.AgentID] = r.Severity
		}
	}
	return out
}

// Reports returns every stored report.
func (e *Engine) Reports() []Report {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append(make([]Report, 0, len(e.reports)), e.reports...)
}

// Propagate computes node and edge risk over one snapshot in a single
// pass. Every listed node starts at its base risk, the maximum reported
// severity. Each edge carries 0.8 of its source's base risk and raises its
// target to at least half of it. Only base risk flows, so derived risk
// never travels a second hop. Sources missing from nodes have base risk 0.
func (e *Engine) Propagate(nodes []Node, edges []Edge) (nodeRisk, edgeRisk map[string]float64) {
	e.mu.RLock()
	reported := e.maxByAgentLocked()
	e.mu.RUnlock()

	base := make(map[string]float64, len(nodes))
	for _, n := range nodes {
		base[n.ID] = reported[n.ID]
	}

	nodeRisk = make(map[string]float64, len(nodes))
	for id, r := range base {
		nodeRisk[id] = r
	}
	edgeRisk = make(map[string]float64, len(edges))
	for _, edge := range edges {
		up := base[edge.From]
		edgeRisk[edge.Key()] = up * edgeFactor
		if edge.To != "" && up > 0 {
			nodeRisk[edge.To] = math.Max(nodeRisk[edge.To], up*inheritRatio)
		}
	}
	return nodeRisk, edgeRisk
}

// Clear drops every report.
func (e *Engine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reports = nil
}
