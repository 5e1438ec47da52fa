package reputation

import (
	"fmt"
	"time"

	"github.com/justKMM/supply-chainer/pkg/canonicalize"
)

// hashInput is the set of fields an attestation hash covers.
type hashInput struct {
	AgentID       string  `json:"agent_id"`
	AttestedBy    string  `json:"attested_by"`
	Category      string  `json:"category"`
	Score         float64 `json:"score"`
	TransactionID string  `json:"transaction_id"`
	Timestamp     string  `json:"timestamp"`
	PreviousHash  string  `json:"previous_hash"`
}

// ComputeHash returns the hex SHA-256 of the canonical JSON of the
// attestation's hashed fields. Detail and evidence are not covered.
func ComputeHash(a *Attestation) (string, error) {
	h, err := canonicalize.CanonicalHash(hashInput{
		AgentID:       a.AgentID,
		AttestedBy:    a.AttestedBy,
		Category:      a.Category,
		Score:         a.Score,
		TransactionID: a.TransactionID,
		Timestamp:     a.Timestamp.UTC().Format(time.RFC3339Nano),
		PreviousHash:  a.PreviousHash,
	})
	if err != nil {
		return "", fmt.Errorf("attestation %s: %w", a.AttestationID, err)
	}
	return h, nil
}

// VerifyAttestations recomputes every hash in chain and reports each
// mismatch by its position.
func VerifyAttestations(chain []Attestation) ChainVerification {
	if len(chain) == 0 {
		return ChainVerification{Valid: true, Length: 0, Breaks: []ChainBreak{}, Detail: "No attestations"}
	}

	breaks := []ChainBreak{}
	for i := range chain {
		computed, err := ComputeHash(&chain[i])
		if err != nil || computed != chain[i].Hash {
			breaks = append(breaks, ChainBreak{
				Index:         i,
				AttestationID: chain[i].AttestationID,
				Reason:        ReasonHashMismatch,
			})
		}
	}

	v := ChainVerification{
		Valid:  len(breaks) == 0,
		Length: len(chain),
		Breaks: breaks,
		Detail: "Chain integrity verified",
	}
	if !v.Valid {
		v.Detail = fmt.Sprintf("%d integrity breaks detected", len(breaks))
	}
	return v
}
