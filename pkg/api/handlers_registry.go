package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/justKMM/supply-chainer/pkg/events"
	"github.com/justKMM/supply-chainer/pkg/idgen"
	"github.com/justKMM/supply-chainer/pkg/registry"
)

const (
	disruptRiskSeverity = 0.6
	procurementID       = "ferrari-procurement-01"
	procurementLabel    = "Ferrari Procurement"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleRegister stores the agent and, when it is active and trusted
// enough, subscribes it to the bus with filters derived from its profile.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var agent registry.AgentFact
	if err := s.schemas.decode(w, r, schemaAgent, &agent); err != nil {
		WriteBadRequest(w, r, err.Error())
		return
	}
	stored, err := s.registry.Register(agent)
	if err != nil {
		if errors.Is(err, registry.ErrInvalidAgent) {
			WriteBadRequest(w, r, err.Error())
			return
		}
		WriteInternal(w, r, err)
		return
	}
	if registry.EligibleForSubscription(stored, s.threshold) {
		regions, products := registry.SubscriptionScope(stored)
		s.bus.Subscribe(stored.AgentID, stored.Name, stored.Role, regions, products)
	}
	writeJSON(w, http.StatusCreated, stored)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := registry.Query{
		Role:          q.Get("role"),
		Capability:    q.Get("capability"),
		Region:        q.Get("region"),
		Certification: q.Get("certification"),
	}
	if v := q.Get("min_trust"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			WriteBadRequest(w, r, fmt.Sprintf("min_trust: %q is not a number", v))
			return
		}
		query.MinTrust = &f
	}
	if v := q.Get("include_deprecated"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			WriteBadRequest(w, r, fmt.Sprintf("include_deprecated: %q is not a boolean", v))
			return
		}
		query.IncludeDeprecated = b
	}
	writeJSON(w, http.StatusOK, s.registry.Search(query))
}

func (s *Server) handleListAgents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.List())
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	agent, ok := s.registry.Get(r.PathValue("id"))
	if !ok {
		WriteNotFound(w, r, "Agent not found")
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (s *Server) handleDeregister(w http.ResponseWriter, r *http.Request) {
	s.registry.Deregister(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeprecate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := s.schemas.decode(w, r, "", &body); err != nil {
		WriteBadRequest(w, r, err.Error())
		return
	}
	id := r.PathValue("id")
	if !s.registry.SoftDeprecate(id, body.Reason) {
		WriteNotFound(w, r, "Agent not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deprecated", "agent_id": id})
}

func (s *Server) handleHealthFilters(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.HealthFilters())
}

func (s *Server) handleLogMessage(w http.ResponseWriter, r *http.Request) {
	var msg registry.LiveMessage
	if err := s.schemas.decode(w, r, schemaLiveMessage, &msg); err != nil {
		WriteBadRequest(w, r, err.Error())
		return
	}
	s.registry.LogMessage(msg)
	writeJSON(w, http.StatusCreated, map[string]string{"status": "logged"})
}

func (s *Server) handleLogs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Messages())
}

// handleDisrupt simulates a production halt at an agent: it is broadcast
// on the bus, reported to the risk engine and surfaced in the live log.
func (s *Server) handleDisrupt(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	agent, ok := s.registry.Get(id)
	if !ok {
		WriteNotFound(w, r, "Agent not found")
		return
	}

	regions, products := registry.SubscriptionScope(agent)
	recipients := s.bus.Publish(&events.Event{
		Category:           events.CategoryProductionHalt,
		Severity:           events.SeverityHigh,
		Title:              fmt.Sprintf("Production halt at %s", agent.Name),
		Description:        "Manual disruption triggered via API",
		Source:             id,
		AffectedRegions:    regions,
		AffectedCategories: products,
		AffectedAgents:     []string{id},
	})
	s.risk.ReportRisk(id, "production_halt", disruptRiskSeverity)
	s.telemetry.RecordRiskReport(r.Context(), "production_halt")

	s.registry.LogMessage(registry.LiveMessage{
		MessageID: idgen.New(idgen.PrefixAlert),
		FromID:    id,
		FromLabel: agent.Name,
		ToID:      procurementID,
		ToLabel:   procurementLabel,
		Type:      "disruption_alert",
		Summary:   fmt.Sprintf("DISRUPTION: %s reports production halt", agent.Name),
		Detail:    "Manual disruption triggered via API",
		Color:     "#F44336",
		Icon:      "alert",
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "disruption_triggered",
		"agent_id":   id,
		"recipients": recipients,
	})
}
