// Package reputation keeps an append-only ledger of supplier transactions,
// derives hash-chained attestations from them and scores each agent.
package reputation

import (
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/justKMM/supply-chainer/pkg/idgen"
)

// RecordHook observes each recorded transaction with its attestations.
type RecordHook func(rec TransactionRecord, atts []Attestation)

// Ledger holds transactions, attestation chains and composite scores. One
// mutex guards everything so chain heads cannot race.
type Ledger struct {
	mu           sync.RWMutex
	transactions []TransactionRecord
	attestations []*Attestation
	scores       map[string]*ReputationScore
	lastHash     map[string]string
	ratings      []ContextualRating
	hooks        []RecordHook
	clock        func() time.Time
	logger       *slog.Logger
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		scores:   make(map[string]*ReputationScore),
		lastHash: make(map[string]string),
		clock:    time.Now,
		logger:   slog.Default().With("component", "reputation_ledger"),
	}
}

// WithClock overrides the clock for deterministic testing.
func (l *Ledger) WithClock(clock func() time.Time) *Ledger {
	l.clock = clock
	return l
}

// OnRecord registers a hook called after every successful RecordTransaction.
func (l *Ledger) OnRecord(h RecordHook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hooks = append(l.hooks, h)
}

// RecordTransaction stores rec, appends five chained attestations for its
// agent and recomputes the agent's composite score.
func (l *Ledger) RecordTransaction(rec TransactionRecord) ([]Attestation, error) {
	if rec.AgentID == "" {
		return nil, ErrMissingAgent
	}
	if rec.QuantityOrdered < 0 || rec.QuantityDelivered < 0 || rec.QuantityDelivered > rec.QuantityOrdered {
		return nil, fmt.Errorf("%w: delivered %d of %d", ErrInvalidQuantity, rec.QuantityDelivered, rec.QuantityOrdered)
	}
	if rec.DefectsFound < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDefects, rec.DefectsFound)
	}

	if rec.RecordID == "" {
		rec.RecordID = idgen.New(idgen.PrefixTransaction)
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = l.clock()
	}
	rec.Timestamp = rec.Timestamp.UTC()
	rec.DeliveryVarianceDays = rec.ActualDeliveryDays - rec.PromisedDeliveryDays
	rec.PriceVariancePct = 0
	if rec.QuotedPriceEUR > 0 {
		rec.PriceVariancePct = round((rec.FinalPriceEUR-rec.QuotedPriceEUR)/rec.QuotedPriceEUR*100, 2)
	}

	drafts := draftAttestations(rec)

	l.mu.Lock()
	prev, ok := l.lastHash[rec.AgentID]
	if !ok {
		prev = GenesisHash
	}
	for i := range drafts {
		drafts[i].AttestationID = idgen.New(idgen.PrefixAttestation)
		drafts[i].PreviousHash = prev
		h, err := ComputeHash(&drafts[i])
		if err != nil {
			l.mu.Unlock()
			return nil, err
		}
		drafts[i].Hash = h
		prev = h
	}

	l.transactions = append(l.transactions, rec)
	for i := range drafts {
		stored := cloneAttestation(drafts[i])
		l.attestations = append(l.attestations, &stored)
	}
	l.lastHash[rec.AgentID] = prev
	score := l.recomputeLocked(rec.AgentID, rec.AgentName)
	hooks := append([]RecordHook(nil), l.hooks...)
	l.mu.Unlock()

	l.logger.Debug("transaction recorded",
		"record_id", rec.RecordID,
		"agent_id", rec.AgentID,
		"composite", score.CompositeScore,
		"trend", score.Trend,
	)

	out := cloneAttestations(drafts)
	for _, h := range hooks {
		h(rec, cloneAttestations(drafts))
	}
	return out, nil
}

// recomputeLocked rebuilds the agent's score from its full history.
func (l *Ledger) recomputeLocked(agentID, agentName string) ReputationScore {
	history := make([]*Attestation, 0)
	for _, a := range l.attestations {
		if a.AgentID == agentID {
			history = append(history, a)
		}
	}
	txns := 0
	for _, t := range l.transactions {
		if t.AgentID == agentID {
			txns++
		}
	}

	means, composite := compositeOf(history)
	score := &ReputationScore{
		AgentID:           agentID,
		AgentName:         agentName,
		ComputedAt:        l.clock().UTC(),
		DeliveryScore:     round(means[CategoryDelivery], 3),
		QualityScore:      round(means[CategoryQuality], 3),
		PricingScore:      round(means[CategoryPricing], 3),
		ComplianceScore:   round(means[CategoryCompliance], 3),
		ReliabilityScore:  round(means[CategoryReliability], 3),
		CompositeScore:    round(composite, 3),
		TotalTransactions: txns,
		TotalAttestations: len(history),
		Trend:             trendOf(l.scores[agentID], composite),
		Weights:           maps.Clone(Weights),
	}
	l.scores[agentID] = score
	return *score
}

// Score returns the agent's composite, or nil when it has no transactions.
func (l *Ledger) Score(agentID string) *ReputationScore {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.scores[agentID]
	if !ok {
		return nil
	}
	c := cloneScore(*s)
	return &c
}

// Composite returns the agent's composite score and whether it exists.
func (l *Ledger) Composite(agentID string) (float64, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.scores[agentID]
	if !ok {
		return 0, false
	}
	return s.CompositeScore, true
}

// AllScores returns every score, highest composite first. Ties are broken
// by agent ID.
func (l *Ledger) AllScores() []ReputationScore {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sortedScoresLocked()
}

func (l *Ledger) sortedScoresLocked() []ReputationScore {
	out := make([]ReputationScore, 0, len(l.scores))
	for _, s := range l.scores {
		out = append(out, cloneScore(*s))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CompositeScore != out[j].CompositeScore {
			return out[i].CompositeScore > out[j].CompositeScore
		}
		return out[i].AgentID < out[j].AgentID
	})
	return out
}

// Attestations returns the agent's chain in order. An empty agentID returns
// every attestation.
func (l *Ledger) Attestations(agentID string) []Attestation {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.chainLocked(agentID)
}

func (l *Ledger) chainLocked(agentID string) []Attestation {
	out := make([]Attestation, 0)
	for _, a := range l.attestations {
		if agentID == "" || a.AgentID == agentID {
			out = append(out, cloneAttestation(*a))
		}
	}
	return out
}

// Transactions returns the transaction history in record order.
func (l *Ledger) Transactions() []TransactionRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append(make([]TransactionRecord, 0, len(l.transactions)), l.transactions...)
}

// VerifyChain recomputes every stored hash for the agent. The result is
// never cached so in-place corruption is always visible.
func (l *Ledger) VerifyChain(agentID string) ChainVerification {
	l.mu.RLock()
	chain := l.chainLocked(agentID)
	l.mu.RUnlock()

	v := VerifyAttestations(chain)
	if !v.Valid {
		l.logger.Warn("attestation chain broken", "agent_id", agentID, "breaks", len(v.Breaks))
	}
	return v
}

// Summary returns the leaderboard and a chain verification per scored agent.
func (l *Ledger) Summary() Summary {
	l.mu.RLock()
	scores := l.sortedScoresLocked()
	s := Summary{
		TotalAgentsScored:  len(scores),
		TotalTransactions:  len(l.transactions),
		TotalAttestations:  len(l.attestations),
		Leaderboard:        make([]LeaderboardEntry, 0, len(scores)),
		ChainVerifications: make(map[string]ChainVerification, len(scores)),
	}
	l.mu.RUnlock()

	for _, sc := range scores {
		s.Leaderboard = append(s.Leaderboard, LeaderboardEntry{
			AgentID:        sc.AgentID,
			AgentName:      sc.AgentName,
			CompositeScore: sc.CompositeScore,
			Delivery:       sc.DeliveryScore,
			Quality:        sc.QualityScore,
			Pricing:        sc.PricingScore,
			Compliance:     sc.ComplianceScore,
			Reliability:    sc.ReliabilityScore,
			Transactions:   sc.TotalTransactions,
			Attestations:   sc.TotalAttestations,
			Trend:          sc.Trend,
		})
		s.ChainVerifications[sc.AgentID] = l.VerifyChain(sc.AgentID)
	}
	return s
}

// Snapshot copies the ledger for export.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Snapshot{
		TakenAt:      l.clock().UTC(),
		Transactions: append(make([]TransactionRecord, 0, len(l.transactions)), l.transactions...),
		Attestations: l.chainLocked(""),
		Scores:       l.sortedScoresLocked(),
	}
}

// Clear wipes transactions, attestations, scores and chain heads.
// Contextual ratings are kept across clears.
func (l *Ledger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.transactions = nil
	l.attestations = nil
	l.scores = make(map[string]*ReputationScore)
	l.lastHash = make(map[string]string)
}

func cloneAttestation(a Attestation) Attestation {
	a.Evidence = maps.Clone(a.Evidence)
	return a
}

func cloneAttestations(in []Attestation) []Attestation {
	out := make([]Attestation, len(in))
	for i := range in {
		out[i] = cloneAttestation(in[i])
	}
	return out
}

func cloneScore(s ReputationScore) ReputationScore {
	s.Weights = maps.Clone(s.Weights)
	return s
}
