package api

import (
	"errors"
	"net/http"

	"go.opentelemetry.io/otel/attribute"

	"github.com/justKMM/supply-chainer/pkg/observability"
	"github.com/justKMM/supply-chainer/pkg/reputation"
)

// recentAttestations bounds the per-agent reputation payload.
const recentAttestations = 10

func (s *Server) handleTrustSubmit(w http.ResponseWriter, r *http.Request) {
	var sub reputation.TrustSubmission
	if err := s.schemas.decode(w, r, schemaTrustSubmission, &sub); err != nil {
		WriteBadRequest(w, r, err.Error())
		return
	}
	if sub.RaterID == "" {
		if c := ClaimsFrom(r.Context()); c != nil {
			sub.RaterID = c.Subject
		}
	}
	rating := s.ledger.SubmitTrustRating(sub)
	s.telemetry.RecordTrustRating(r.Context(), reputation.DimensionLabel(sub.Dimension))
	writeJSON(w, http.StatusCreated, rating)
}

func (s *Server) handleContextual(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ledger.ContextualScore(r.PathValue("id"), r.URL.Query().Get("dimension")))
}

func (s *Server) handleReputationSummary(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ledger.Summary())
}

func (s *Server) handleScores(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ledger.AllScores())
}

type agentReputation struct {
	Score             *reputation.ReputationScore  `json:"score"`
	ChainVerification reputation.ChainVerification `json:"chain_verification"`
	Attestations      []reputation.Attestation     `json:"attestations"`
}

// handleReputationAgent returns the score, a fresh chain check and the
// most recent attestations only.
func (s *Server) handleReputationAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	score := s.ledger.Score(id)
	if score == nil {
		WriteNotFound(w, r, "No reputation data")
		return
	}
	chain := s.verifyChain(r, id)
	atts := s.ledger.Attestations(id)
	if len(atts) > recentAttestations {
		atts = atts[len(atts)-recentAttestations:]
	}
	writeJSON(w, http.StatusOK, agentReputation{Score: score, ChainVerification: chain, Attestations: atts})
}

func (s *Server) handleVerifyChain(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.verifyChain(r, r.PathValue("id")))
}

func (s *Server) verifyChain(r *http.Request, agentID string) reputation.ChainVerification {
	v := s.ledger.VerifyChain(agentID)
	observability.AddSpanEvent(r.Context(), "chain.verified",
		observability.AttrAgentID.String(agentID),
		attribute.Bool("supplychain.chain.valid", v.Valid),
		attribute.Int("supplychain.chain.length", v.Length))
	if !v.Valid {
		s.telemetry.RecordChainBreaks(r.Context(), agentID, len(v.Breaks))
	}
	return v
}

type recordResponse struct {
	Attestations []reputation.Attestation    `json:"attestations"`
	Score        *reputation.ReputationScore `json:"score"`
}

func (s *Server) handleRecordTransaction(w http.ResponseWriter, r *http.Request) {
	rec := reputation.NewTransactionRecord()
	if err := s.schemas.decode(w, r, schemaTransaction, &rec); err != nil {
		WriteBadRequest(w, r, err.Error())
		return
	}
	_, done := s.telemetry.TrackOperation(r.Context(), "ledger.record", observability.AttrAgentID.String(rec.AgentID))
	atts, err := s.ledger.RecordTransaction(rec)
	done(err)
	if err != nil {
		if errors.Is(err, reputation.ErrMissingAgent) ||
			errors.Is(err, reputation.ErrInvalidQuantity) ||
			errors.Is(err, reputation.ErrInvalidDefects) {
			WriteBadRequest(w, r, err.Error())
			return
		}
		WriteInternal(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, recordResponse{Attestations: atts, Score: s.ledger.Score(rec.AgentID)})
}
