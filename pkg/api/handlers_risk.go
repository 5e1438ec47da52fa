package api

import (
	"errors"
	"net/http"
	"sort"

	"github.com/justKMM/supply-chainer/pkg/escalation"
	"github.com/justKMM/supply-chainer/pkg/observability"
	"github.com/justKMM/supply-chainer/pkg/risk"
)

func (s *Server) handleRiskReport(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AgentID  string  `json:"agent_id"`
		RiskType string  `json:"risk_type"`
		Severity float64 `json:"severity"`
	}
	if err := s.schemas.decode(w, r, schemaRiskReport, &body); err != nil {
		WriteBadRequest(w, r, err.Error())
		return
	}
	report := s.risk.ReportRisk(body.AgentID, body.RiskType, body.Severity)
	s.telemetry.RecordRiskReport(r.Context(), risk.TypeLabel(body.RiskType))
	writeJSON(w, http.StatusCreated, report)
}

func (s *Server) handleRiskNodes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"node_risk": s.risk.NodeRisks(),
		"reports":   s.risk.Reports(),
	})
}

type propagateResponse struct {
	NodeRisk    map[string]float64       `json:"node_risk"`
	EdgeRisk    map[string]float64       `json:"edge_risk"`
	Escalations []*escalation.Escalation `json:"escalations"`
}

// handlePropagate runs one propagation pass and evaluates the escalation
// policy for every node in the result, in ID order.
func (s *Server) handlePropagate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Nodes []risk.Node `json:"nodes"`
		Edges []risk.Edge `json:"edges"`
	}
	if err := s.schemas.decode(w, r, schemaPropagate, &body); err != nil {
		WriteBadRequest(w, r, err.Error())
		return
	}
	ctx, done := s.telemetry.TrackOperation(r.Context(), "risk.propagate")
	nodeRisk, edgeRisk := s.risk.Propagate(body.Nodes, body.Edges)

	pending := make(map[string]bool)
	for _, e := range s.escalations.Pending() {
		pending[e.EscalationID] = true
	}

	ids := make([]string, 0, len(nodeRisk))
	for id := range nodeRisk {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	escalations := make([]*escalation.Escalation, 0)
	for _, id := range ids {
		subject := escalation.Subject{AgentID: id, Risk: nodeRisk[id]}
		if trust, ok := s.ledger.Composite(id); ok {
			subject.Trust = &trust
		}
		esc, err := s.escalations.Evaluate(ctx, subject)
		if err != nil {
			done(err)
			WriteInternal(w, r, err)
			return
		}
		if esc == nil {
			continue
		}
		if !pending[esc.EscalationID] {
			s.telemetry.RecordEscalation(ctx, id)
			observability.AddSpanEvent(ctx, "escalation.opened",
				observability.AttrAgentID.String(id),
				observability.AttrEscalationID.String(esc.EscalationID))
		}
		escalations = append(escalations, esc)
	}
	done(nil)
	writeJSON(w, http.StatusOK, propagateResponse{NodeRisk: nodeRisk, EdgeRisk: edgeRisk, Escalations: escalations})
}

func (s *Server) handleEscalationStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.escalations.Status())
}

func (s *Server) handleEscalationRespond(w http.ResponseWriter, r *http.Request) {
	var body struct {
		EscalationID string `json:"escalation_id"`
		Action       string `json:"action"`
	}
	body.Action = string(escalation.ActionProceed)
	if err := s.schemas.decode(w, r, schemaEscalationResponse, &body); err != nil {
		WriteBadRequest(w, r, err.Error())
		return
	}
	_, err := s.escalations.Respond(body.EscalationID, escalation.Action(body.Action))
	switch {
	case errors.Is(err, escalation.ErrNotFound), errors.Is(err, escalation.ErrNotPending):
		WriteNotFound(w, r, "Escalation not found or already resolved")
		return
	case errors.Is(err, escalation.ErrInvalidAction):
		WriteBadRequest(w, r, err.Error())
		return
	case err != nil:
		WriteInternal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":        "ok",
		"action":        body.Action,
		"escalation_id": body.EscalationID,
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	bundleID, err := s.Reset(r.Context())
	if err != nil {
		WriteInternal(w, r, err)
		return
	}
	resp := map[string]string{"status": "reset"}
	if bundleID != "" {
		resp["archived_bundle_id"] = bundleID
	}
	writeJSON(w, http.StatusOK, resp)
}
