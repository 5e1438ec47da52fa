package reputation

import (
	"errors"
	"time"
)

var (
	ErrMissingAgent    = errors.New("transaction has no agent_id")
	ErrInvalidQuantity = errors.New("quantity_delivered exceeds quantity_ordered")
	ErrInvalidDefects  = errors.New("defects_found is negative")
)

// GenesisHash is the previous_hash of an agent's first attestation.
const GenesisHash = "genesis"

// Attestation categories, in the order RecordTransaction emits them.
const (
	CategoryDelivery    = "delivery"
	CategoryQuality     = "quality"
	CategoryPricing     = "pricing"
	CategoryCompliance  = "compliance"
	CategoryReliability = "reliability"
)

// Composite weights. They sum to 1.
var Weights = map[string]float64{
	CategoryDelivery:    0.30,
	CategoryQuality:     0.25,
	CategoryPricing:     0.20,
	CategoryCompliance:  0.15,
	CategoryReliability: 0.10,
}

var categoryOrder = []string{
	CategoryDelivery,
	CategoryQuality,
	CategoryPricing,
	CategoryCompliance,
	CategoryReliability,
}

// Compliance attestations are issued by the compliance validator rather
// than the counterparty.
const (
	ComplianceAttesterID   = "eu-compliance-agent-01"
	ComplianceAttesterName = "EU Compliance Validator"
)

// Trend values.
const (
	TrendImproving = "improving"
	TrendStable    = "stable"
	TrendDeclining = "declining"
)

const trendBand = 0.02

// TransactionRecord is one completed order as observed by the counterparty.
// DeliveryVarianceDays and PriceVariancePct are derived at record time.
type TransactionRecord struct {
	RecordID         string    `json:"record_id"`
	Timestamp        time.Time `json:"timestamp"`
	AgentID          string    `json:"agent_id"`
	AgentName        string    `json:"agent_name"`
	CounterpartyID   string    `json:"counterparty_id"`
	CounterpartyName string    `json:"counterparty_name"`
	TransactionType  string    `json:"transaction_type"`
	PONumber         string    `json:"po_number"`

	PromisedDeliveryDays int     `json:"promised_delivery_days"`
	ActualDeliveryDays   int     `json:"actual_delivery_days"`
	OnTime               bool    `json:"on_time"`
	QuotedPriceEUR       float64 `json:"quoted_price_eur"`
	FinalPriceEUR        float64 `json:"final_price_eur"`
	PriceHonored         bool    `json:"price_honored"`
	QualityAccepted      bool    `json:"quality_accepted"`
	DefectsFound         int     `json:"defects_found"`
	QuantityOrdered      int     `json:"quantity_ordered"`
	QuantityDelivered    int     `json:"quantity_delivered"`
	CompliancePassed     bool    `json:"compliance_passed"`
	DisputeRaised        bool    `json:"dispute_raised"`
	DisputeResolved      bool    `json:"dispute_resolved"`

	DeliveryVarianceDays int     `json:"delivery_variance_days"`
	PriceVariancePct     float64 `json:"price_variance_pct"`
}

// NewTransactionRecord returns a record with the "nothing went wrong"
// defaults. Decode request bodies into it so omitted flags stay true.
func NewTransactionRecord() TransactionRecord {
	return TransactionRecord{
		OnTime:           true,
		PriceHonored:     true,
		QualityAccepted:  true,
		CompliancePassed: true,
		DisputeResolved:  true,
	}
}

// Attestation is one scored, hash-chained statement about an agent.
type Attestation struct {
	AttestationID  string         `json:"attestation_id"`
	Timestamp      time.Time      `json:"timestamp"`
	AgentID        string         `json:"agent_id"`
	AgentName      string         `json:"agent_name"`
	AttestedBy     string         `json:"attested_by"`
	AttestedByName string         `json:"attested_by_name"`
	TransactionID  string         `json:"transaction_id"`
	Category       string         `json:"category"`
	Score          float64        `json:"score"`
	Detail         string         `json:"detail"`
	Evidence       map[string]any `json:"evidence"`
	Hash           string         `json:"hash"`
	PreviousHash   string         `json:"previous_hash"`
}

// ReputationScore is an agent's composite, overwritten after every
// transaction.
type ReputationScore struct {
	AgentID           string             `json:"agent_id"`
	AgentName         string             `json:"agent_name"`
	ComputedAt        time.Time          `json:"computed_at"`
	DeliveryScore     float64            `json:"delivery_score"`
	QualityScore      float64            `json:"quality_score"`
	PricingScore      float64            `json:"pricing_score"`
	ComplianceScore   float64            `json:"compliance_score"`
	ReliabilityScore  float64            `json:"reliability_score"`
	CompositeScore    float64            `json:"composite_score"`
	TotalTransactions int                `json:"total_transactions"`
	TotalAttestations int                `json:"total_attestations"`
	Trend             string             `json:"trend"`
	Weights           map[string]float64 `json:"weights"`
}

// ChainBreak identifies an attestation whose stored hash does not match.
type ChainBreak struct {
	Index         int    `json:"index"`
	AttestationID string `json:"attestation_id"`
	Reason        string `json:"reason"`
}

// ReasonHashMismatch is the only break reason.
const ReasonHashMismatch = "hash_mismatch"

// ChainVerification is the result of recomputing an agent's chain.
type ChainVerification struct {
	Valid  bool         `json:"valid"`
	Length int          `json:"length"`
	Breaks []ChainBreak `json:"breaks"`
	Detail string       `json:"detail"`
}

// LeaderboardEntry is one row of the ledger summary.
type LeaderboardEntry struct {
	AgentID        string  `json:"agent_id"`
	AgentName      string  `json:"agent_name"`
	CompositeScore float64 `json:"composite_score"`
	Delivery       float64 `json:"delivery"`
	Quality        float64 `json:"quality"`
	Pricing        float64 `json:"pricing"`
	Compliance     float64 `json:"compliance"`
	Reliability    float64 `json:"reliability"`
	Transactions   int     `json:"transactions"`
	Attestations   int     `json:"attestations"`
	Trend          string  `json:"trend"`
}

// Summary is the leaderboard plus a chain check per scored agent.
type Summary struct {
	TotalAgentsScored  int                          `json:"total_agents_scored"`
	TotalTransactions  int                          `json:"total_transactions"`
	TotalAttestations  int                          `json:"total_attestations"`
	Leaderboard        []LeaderboardEntry           `json:"leaderboard"`
	ChainVerifications map[string]ChainVerification `json:"chain_verifications"`
}

// Snapshot is a point-in-time copy of the ledger used for archiving.
type Snapshot struct {
	TakenAt      time.Time           `json:"taken_at"`
	Transactions []TransactionRecord `json:"transactions"`
	Attestations []Attestation       `json:"attestations"`
	Scores       []ReputationScore   `json:"scores"`
}
