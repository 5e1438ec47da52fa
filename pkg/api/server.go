package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/justKMM/supply-chainer/pkg/archive"
	"github.com/justKMM/supply-chainer/pkg/escalation"
	"github.com/justKMM/supply-chainer/pkg/events"
	"github.com/justKMM/supply-chainer/pkg/feed"
	"github.com/justKMM/supply-chainer/pkg/observability"
	"github.com/justKMM/supply-chainer/pkg/registry"
	"github.com/justKMM/supply-chainer/pkg/reputation"
	"github.com/justKMM/supply-chainer/pkg/risk"
)

// DefaultSubscriptionThreshold is the declared trust an agent needs to be
// subscribed to the bus at registration.
const DefaultSubscriptionThreshold = 0.70

// Archiver stores a ledger bundle before a reset.
type Archiver interface {
	Save(ctx context.Context, b *archive.Bundle) error
}

// Options wires the server. Nil core components are created with
// defaults; nil Archive, Auth, Limiter and Idempotency switch those
// features off.
type Options struct {
	Bus         *events.Bus
	Ledger      *reputation.Ledger
	Risk        *risk.Engine
	Registry    *registry.Registry
	Escalations *escalation.Manager
	Signals     []feed.Signal
	Archive     Archiver
	Telemetry   *observability.Provider
	Auth        *Authenticator
	Limiter     Limiter
	Idempotency IdempotencyStore

	// SubscriptionThreshold defaults to DefaultSubscriptionThreshold when
	// nil.
	SubscriptionThreshold *float64
}

// Server exposes the supply-chain core over HTTP.
type Server struct {
	bus         *events.Bus
	ledger      *reputation.Ledger
	risk        *risk.Engine
	registry    *registry.Registry
	escalations *escalation.Manager
	feed        *feed.Publisher
	archive     Archiver
	telemetry   *observability.Provider
	auth        *Authenticator
	limiter     Limiter
	idempotency IdempotencyStore
	schemas     schemaSet
	threshold   float64
	logger      *slog.Logger
}

// NewServer builds a server and hooks telemetry into the bus and ledger.
func NewServer(opts Options) (*Server, error) {
	schemas, err := compileSchemas()
	if err != nil {
		return nil, err
	}

	s := &Server{
		bus:         opts.Bus,
		ledger:      opts.Ledger,
		risk:        opts.Risk,
		registry:    opts.Registry,
		escalations: opts.Escalations,
		archive:     opts.Archive,
		telemetry:   opts.Telemetry,
		auth:        opts.Auth,
		limiter:     opts.Limiter,
		idempotency: opts.Idempotency,
		schemas:     schemas,
		threshold:   DefaultSubscriptionThreshold,
		logger:      slog.Default().With("component", "api"),
	}
	if opts.SubscriptionThreshold != nil {
		s.threshold = *opts.SubscriptionThreshold
	}
	if s.bus == nil {
		s.bus = events.NewBus()
	}
	if s.ledger == nil {
		s.ledger = reputation.NewLedger()
	}
	if s.risk == nil {
		s.risk = risk.NewEngine()
	}
	if s.registry == nil {
		s.registry = registry.New(s.ledger, 0)
	}
	if s.escalations == nil {
		policy, err := escalation.NewPolicy("")
		if err != nil {
			return nil, err
		}
		s.escalations = escalation.NewManager(policy, s.threshold, 5*time.Minute)
	}
	if s.telemetry == nil {
		s.telemetry, err = observability.New(context.Background(), &observability.Config{Enabled: false})
		if err != nil {
			return nil, err
		}
	}
	signals := opts.Signals
	if signals == nil {
		signals = feed.DefaultSignals()
	}
	s.feed = feed.NewPublisher(s.bus, signals, s.registry)

	s.bus.AddHandler(func(evt *events.Event, recipients []string) {
		s.telemetry.RecordPublish(context.Background(), string(evt.Category), string(evt.Severity), len(recipients))
	})
	s.ledger.OnRecord(func(_ reputation.TransactionRecord, atts []reputation.Attestation) {
		categories := make([]string, len(atts))
		for i, a := range atts {
			categories[i] = a.Category
		}
		s.telemetry.RecordAttestations(context.Background(), categories...)
	})
	return s, nil
}

// Handler returns the routed handler with request IDs, telemetry and rate
// limiting applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.routes(mux)

	var h http.Handler = mux
	if s.limiter != nil {
		h = RateLimit(s.limiter, h)
	}
	h = s.telemetry.HTTPMiddleware(h)
	return RequestID(h)
}

func (s *Server) routes(mux *http.ServeMux) {
	// Mutations authenticate first, then replay on a repeated
	// Idempotency-Key.
	mutate := func(h http.HandlerFunc) http.HandlerFunc {
		if s.idempotency != nil {
			h = Idempotent(s.idempotency, h).ServeHTTP
		}
		return s.auth.Require(h)
	}

	mux.HandleFunc("GET /health", s.handleHealth)
	if mh := s.telemetry.MetricsHandler(); mh != nil {
		mux.Handle("GET /metrics", mh)
	}

	// Registry
	mux.HandleFunc("POST /registry/register", mutate(s.handleRegister))
	mux.HandleFunc("GET /registry/search", s.handleSearch)
	mux.HandleFunc("GET /registry/list", s.handleListAgents)
	mux.HandleFunc("GET /registry/agent/{id}", s.handleGetAgent)
	mux.HandleFunc("DELETE /registry/deregister/{id}", mutate(s.handleDeregister))
	mux.HandleFunc("POST /registry/deprecate/{id}", mutate(s.handleDeprecate))
	mux.HandleFunc("GET /registry/health-filters", s.handleHealthFilters)
	mux.HandleFunc("POST /registry/log", mutate(s.handleLogMessage))
	mux.HandleFunc("GET /registry/logs", s.handleLogs)
	mux.HandleFunc("POST /registry/disrupt/{id}", mutate(s.handleDisrupt))

	// Event bus
	mux.HandleFunc("GET /api/pubsub/summary", s.handlePubSubSummary)
	mux.HandleFunc("GET /api/pubsub/events", s.handleListEvents)
	mux.HandleFunc("POST /api/pubsub/events", mutate(s.handlePublish))
	mux.HandleFunc("POST /api/pubsub/events/{id}/ack", mutate(s.handleAcknowledge))
	mux.HandleFunc("POST /api/pubsub/events/{id}/resolve", mutate(s.handleResolve))
	mux.HandleFunc("GET /api/pubsub/subscriptions", s.handleSubscriptions)
	mux.HandleFunc("GET /api/pubsub/agent/{id}/events", s.handleAgentEvents)
	mux.HandleFunc("GET /api/pubsub/deliveries", s.handleDeliveries)
	mux.HandleFunc("POST /api/pubsub/intelligence", mutate(s.handleIntelligence))

	// Trust and reputation
	mux.HandleFunc("POST /api/trust/submit", mutate(s.handleTrustSubmit))
	mux.HandleFunc("GET /api/trust/contextual/{id}", s.handleContextual)
	mux.HandleFunc("GET /api/reputation/summary", s.handleReputationSummary)
	mux.HandleFunc("GET /api/reputation/scores", s.handleScores)
	mux.HandleFunc("GET /api/reputation/agent/{id}", s.handleReputationAgent)
	mux.HandleFunc("GET /api/reputation/agent/{id}/verify", s.handleVerifyChain)
	mux.HandleFunc("POST /api/reputation/transactions", mutate(s.handleRecordTransaction))

	// Risk and escalation
	mux.HandleFunc("POST /api/risk/report", mutate(s.handleRiskReport))
	mux.HandleFunc("GET /api/risk/nodes", s.handleRiskNodes)
	mux.HandleFunc("POST /api/risk/propagate", mutate(s.handlePropagate))
	mux.HandleFunc("GET /api/escalation/status", s.handleEscalationStatus)
	mux.HandleFunc("POST /api/escalation/respond", mutate(s.handleEscalationRespond))

	mux.HandleFunc("POST /api/reset", mutate(s.handleReset))
}

// SweepEscalations expires overdue escalations every interval until ctx
// is done.
func (s *Server) SweepEscalations(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			for _, r := range s.escalations.CheckTimeouts() {
				s.logger.Info("escalation timed out", "escalation_id", r.EscalationID)
			}
		}
	}
}

// Reset archives the ledger when an archive is configured, then clears
// every component. The archived bundle ID is empty when nothing was
// archived. Nothing is cleared if archiving fails.
func (s *Server) Reset(ctx context.Context) (bundleID string, err error) {
	ctx, done := s.telemetry.TrackOperation(ctx, "state.reset")
	defer func() { done(err) }()

	if s.archive != nil {
		snap := s.ledger.Snapshot()
		if len(snap.Transactions) > 0 {
			b, err := archive.NewBundle(snap)
			if err != nil {
				return "", fmt.Errorf("archive ledger: %w", err)
			}
			if err := s.archive.Save(ctx, b); err != nil {
				return "", fmt.Errorf("archive ledger: %w", err)
			}
			bundleID = b.BundleID
		}
	}

	s.bus.Clear()
	s.ledger.Clear()
	s.risk.Clear()
	s.registry.Clear()
	s.escalations.Clear()
	s.feed.Reset()
	s.logger.Info("state reset", "archived_bundle_id", bundleID)
	return bundleID, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
