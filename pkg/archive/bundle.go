// Package archive exports the reputation ledger as self-verifying bundles
// and stores them in SQL.
package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"

	"github.com/justKMM/supply-chainer/pkg/canonicalize"
	"github.com/justKMM/supply-chainer/pkg/reputation"
)

// FormatVersion is written into every new bundle. Readers accept any
// version matching compatibleVersions.
const (
	FormatVersion      = "1.0.0"
	compatibleVersions = "^1.0"
)

// ReasonBrokenLink marks an attestation whose previous_hash does not point
// at its predecessor in the agent's chain.
const ReasonBrokenLink = "broken_link"

var (
	ErrUnsupportedVersion = errors.New("unsupported bundle version")
	ErrBundleNotFound     = errors.New("bundle not found")
)

// Chain is one agent's attestation chain in export order.
type Chain struct {
	AgentID      string                   `json:"agent_id"`
	Length       int                      `json:"length"`
	Head         string                   `json:"head"`
	Attestations []reputation.Attestation `json:"attestations"`
}

// Bundle is a point-in-time export of the ledger.
type Bundle struct {
	BundleID     string                         `json:"bundle_id"`
	Version      string                         `json:"version"`
	CreatedAt    time.Time                      `json:"created_at"`
	Transactions []reputation.TransactionRecord `json:"transactions"`
	Scores       []reputation.ReputationScore   `json:"scores"`
	Chains       []Chain                        `json:"chains"`
	BundleHash   string                         `json:"bundle_hash"`
}

// NewBundle groups the snapshot's attestations into per-agent chains,
// sorted by agent ID, and seals the result.
func NewBundle(snap reputation.Snapshot) (*Bundle, error) {
	byAgent := make(map[string][]reputation.Attestation)
	for _, a := range snap.Attestations {
		byAgent[a.AgentID] = append(byAgent[a.AgentID], a)
	}
	ids := make([]string, 0, len(byAgent))
	for id := range byAgent {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	chains := make([]Chain, 0, len(ids))
	for _, id := range ids {
		atts := byAgent[id]
		chains = append(chains, Chain{
			AgentID:      id,
			Length:       len(atts),
			Head:         atts[len(atts)-1].Hash,
			Attestations: atts,
		})
	}

	b := &Bundle{
		BundleID:     uuid.NewString(),
		Version:      FormatVersion,
		CreatedAt:    snap.TakenAt.UTC(),
		Transactions: snap.Transactions,
		Scores:       snap.Scores,
		Chains:       chains,
	}
	if b.Transactions == nil {
		b.Transactions = []reputation.TransactionRecord{}
	}
	if b.Scores == nil {
		b.Scores = []reputation.ReputationScore{}
	}
	h, err := ComputeBundleHash(b)
	if err != nil {
		return nil, err
	}
	b.BundleHash = h
	return b, nil
}

// ComputeBundleHash returns the canonical hash of b with BundleHash
// cleared.
func ComputeBundleHash(b *Bundle) (string, error) {
	sealed := *b
	sealed.BundleHash = ""
	d, err := canonicalize.Digest(sealed)
	if err != nil {
		return "", fmt.Errorf("bundle %s: %w", b.BundleID, err)
	}
	return d, nil
}

// ChainReport is the verification outcome for one chain.
type ChainReport struct {
	AgentID      string                       `json:"agent_id"`
	Verification reputation.ChainVerification `json:"verification"`
	LinkBreaks   []reputation.ChainBreak      `json:"link_breaks"`
}

// Valid reports whether both hashes and links hold.
func (r ChainReport) Valid() bool {
	return r.Verification.Valid && len(r.LinkBreaks) == 0
}

// Report is the outcome of VerifyBundle.
type Report struct {
	BundleID     string        `json:"bundle_id"`
	Version      string        `json:"version"`
	Valid        bool          `json:"valid"`
	BundleHashOK bool          `json:"bundle_hash_ok"`
	Attestations int           `json:"attestations"`
	Chains       []ChainReport `json:"chains"`
	ExpectedHash string        `json:"expected_hash,omitempty"`
	ComputedHash string        `json:"computed_hash,omitempty"`
}

// VerifyBundle checks the bundle's format version, its seal, and every
// chain. An incompatible version is an error; integrity failures are
// reported in the Report.
func VerifyBundle(b *Bundle) (Report, error) {
	if err := checkVersion(b.Version); err != nil {
		return Report{}, err
	}

	computed, err := ComputeBundleHash(b)
	if err != nil {
		return Report{}, err
	}
	r := Report{
		BundleID:     b.BundleID,
		Version:      b.Version,
		BundleHashOK: computed == b.BundleHash,
		Chains:       make([]ChainReport, 0, len(b.Chains)),
	}
	if !r.BundleHashOK {
		r.ExpectedHash = b.BundleHash
		r.ComputedHash = computed
	}

	r.Valid = r.BundleHashOK
	for _, c := range b.Chains {
		cr := ChainReport{
			AgentID:      c.AgentID,
			Verification: reputation.VerifyAttestations(c.Attestations),
			LinkBreaks:   linkBreaks(c.Attestations),
		}
		r.Attestations += len(c.Attestations)
		r.Valid = r.Valid && cr.Valid()
		r.Chains = append(r.Chains, cr)
	}
	return r, nil
}

func checkVersion(v string) error {
	constraint, err := semver.NewConstraint(compatibleVersions)
	if err != nil {
		return err
	}
	version, err := semver.NewVersion(v)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrUnsupportedVersion, v, err)
	}
	if !constraint.Check(version) {
		return fmt.Errorf("%w: %s does not satisfy %s", ErrUnsupportedVersion, v, compatibleVersions)
	}
	return nil
}

func linkBreaks(chain []reputation.Attestation) []reputation.ChainBreak {
	breaks := []reputation.ChainBreak{}
	prev := reputation.GenesisHash
	for i, a := range chain {
		if a.PreviousHash != prev {
			breaks = append(breaks, reputation.ChainBreak{
				Index:         i,
				AttestationID: a.AttestationID,
				Reason:        ReasonBrokenLink,
			})
		}
		prev = a.Hash
	}
	return breaks
}

// WriteFile writes b as indented JSON.
func WriteFile(path string, b *Bundle) error {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("encode bundle: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write bundle %q: %w", path, err)
	}
	return nil
}

// ReadFile loads a bundle written by WriteFile.
func ReadFile(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bundle %q: %w", path, err)
	}
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode bundle %q: %w", path, err)
	}
	return &b, nil
}
