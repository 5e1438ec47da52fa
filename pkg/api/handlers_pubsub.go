package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/justKMM/supply-chainer/pkg/events"
)

const defaultIntelligenceCount = 3

func (s *Server) handlePubSubSummary(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.bus.Summary())
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	var f events.Filter
	if v := r.URL.Query().Get("category"); v != "" {
		c, err := events.ParseCategory(v)
		if err != nil {
			WriteBadRequest(w, r, err.Error())
			return
		}
		f.Category = c
	}
	if v := r.URL.Query().Get("severity"); v != "" {
		sev, err := events.ParseSeverity(v)
		if err != nil {
			WriteBadRequest(w, r, err.Error())
			return
		}
		f.Severity = sev
	}
	writeJSON(w, http.StatusOK, s.bus.Events(f))
}

type publishResponse struct {
	Event      *events.Event `json:"event"`
	Recipients []string      `json:"recipients"`
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	var evt events.Event
	if err := s.schemas.decode(w, r, schemaEvent, &evt); err != nil {
		WriteBadRequest(w, r, err.Error())
		return
	}
	// Identity and acknowledgement state belong to the bus.
	evt.EventID = ""
	evt.AcknowledgedBy = nil
	evt.Resolved = false

	recipients := s.bus.Publish(&evt)
	writeJSON(w, http.StatusCreated, publishResponse{Event: s.bus.Event(evt.EventID), Recipients: recipients})
}

// handleAcknowledge records an acknowledgement by agent_id from the body,
// or by the token subject when the body names none.
func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AgentID string `json:"agent_id"`
	}
	if err := s.schemas.decode(w, r, "", &body); err != nil {
		WriteBadRequest(w, r, err.Error())
		return
	}
	if body.AgentID == "" {
		if c := ClaimsFrom(r.Context()); c != nil {
			body.AgentID = c.Subject
		}
	}
	if body.AgentID == "" {
		WriteBadRequest(w, r, "agent_id is required")
		return
	}
	id := r.PathValue("id")
	if !s.bus.Acknowledge(id, body.AgentID) {
		WriteNotFound(w, r, "Event not found")
		return
	}
	writeJSON(w, http.StatusOK, s.bus.Event(id))
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.bus.Resolve(id) {
		WriteNotFound(w, r, "Event not found")
		return
	}
	writeJSON(w, http.StatusOK, s.bus.Event(id))
}

func (s *Server) handleSubscriptions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.bus.Subscriptions())
}

func (s *Server) handleAgentEvents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.bus.AgentEvents(r.PathValue("id")))
}

func (s *Server) handleDeliveries(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.bus.Deliveries())
}

// handleIntelligence publishes the next ?count= catalogue signals.
func (s *Server) handleIntelligence(w http.ResponseWriter, r *http.Request) {
	count := defaultIntelligenceCount
	if v := r.URL.Query().Get("count"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			WriteBadRequest(w, r, fmt.Sprintf("count: %q is not a positive integer", v))
			return
		}
		count = n
	}
	results := s.feed.Publish(count)
	writeJSON(w, http.StatusOK, map[string]any{
		"published": len(results),
		"signals":   results,
	})
}
