package archive

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justKMM/supply-chainer/pkg/reputation"
)

var taken = time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)

func txn(agentID string, onTime bool) reputation.TransactionRecord {
	rec := reputation.NewTransactionRecord()
	rec.AgentID = agentID
	rec.AgentName = agentID
	rec.CounterpartyID = "ferrari-procurement-01"
	rec.PromisedDeliveryDays = 10
	rec.ActualDeliveryDays = 10
	rec.QuotedPriceEUR = 1000
	rec.FinalPriceEUR = 1000
	rec.QuantityOrdered = 5
	rec.QuantityDelivered = 5
	if !onTime {
		rec.OnTime = false
		rec.ActualDeliveryDays = 14
	}
	return rec
}

func sampleSnapshot(t *testing.T) reputation.Snapshot {
	t.Helper()
	l := reputation.NewLedger().WithClock(func() time.Time { return taken })
	for _, rec := range []reputation.TransactionRecord{
		txn("pirelli-01", true), txn("brembo-01", false), txn("brembo-01", true),
	} {
		_, err := l.RecordTransaction(rec)
		require.NoError(t, err)
	}
	return l.Snapshot()
}

func TestNewBundle(t *testing.T) {
	b, err := NewBundle(sampleSnapshot(t))
	require.NoError(t, err)

	assert.Equal(t, FormatVersion, b.Version)
	assert.NotEmpty(t, b.BundleID)
	assert.True(t, strings.HasPrefix(b.BundleHash, "sha256:"))
	assert.Equal(t, taken, b.CreatedAt)
	assert.Len(t, b.Transactions, 3)
	assert.Len(t, b.Scores, 2)

	require.Len(t, b.Chains, 2)
	assert.Equal(t, "brembo-01", b.Chains[0].AgentID)
	assert.Equal(t, 10, b.Chains[0].Length)
	assert.Equal(t, b.Chains[0].Attestations[9].Hash, b.Chains[0].Head)
	assert.Equal(t, "pirelli-01", b.Chains[1].AgentID)
	assert.Equal(t, 5, b.Chains[1].Length)
}

func TestNewBundle_EmptyLedger(t *testing.T) {
	b, err := NewBundle(reputation.NewLedger().Snapshot())
	require.NoError(t, err)
	assert.Empty(t, b.Chains)

	r, err := VerifyBundle(b)
	require.NoError(t, err)
	assert.True(t, r.Valid)
	assert.Equal(t, 0, r.Attestations)
}

func TestVerifyBundle_Intact(t *testing.T) {
	b, err := NewBundle(sampleSnapshot(t))
	require.NoError(t, err)

	r, err := VerifyBundle(b)
	require.NoError(t, err)
	assert.True(t, r.Valid)
	assert.True(t, r.BundleHashOK)
	assert.Equal(t, 15, r.Attestations)
	for _, c := range r.Chains {
		assert.True(t, c.Valid(), c.AgentID)
		assert.Empty(t, c.LinkBreaks)
	}
}

func TestVerifyBundle_DetectsTampering(t *testing.T) {
	b, err := NewBundle(sampleSnapshot(t))
	require.NoError(t, err)

	b.Chains[1].Attestations[2].Score = 0.1

	r, err := VerifyBundle(b)
	require.NoError(t, err)
	assert.False(t, r.Valid)
	assert.False(t, r.BundleHashOK)
	assert.Equal(t, b.BundleHash, r.ExpectedHash)
	assert.NotEqual(t, r.ExpectedHash, r.ComputedHash)

	assert.True(t, r.Chains[0].Valid())
	pirelli := r.Chains[1]
	require.Len(t, pirelli.Verification.Breaks, 1)
	assert.Equal(t, 2, pirelli.Verification.Breaks[0].Index)
	assert.Equal(t, reputation.ReasonHashMismatch, pirelli.Verification.Breaks[0].Reason)
	assert.Empty(t, pirelli.LinkBreaks)
}

func TestVerifyBundle_DetectsRemovedAttestation(t *testing.T) {
	b, err := NewBundle(sampleSnapshot(t))
	require.NoError(t, err)

	chain := b.Chains[0].Attestations
	b.Chains[0].Attestations = append(chain[:3:3], chain[4:]...)
	b.BundleHash, err = ComputeBundleHash(b)
	require.NoError(t, err)

	r, err := VerifyBundle(b)
	require.NoError(t, err)
	assert.True(t, r.BundleHashOK)
	assert.False(t, r.Valid)
	assert.True(t, r.Chains[0].Verification.Valid)
	require.Len(t, r.Chains[0].LinkBreaks, 1)
	assert.Equal(t, 3, r.Chains[0].LinkBreaks[0].Index)
	assert.Equal(t, ReasonBrokenLink, r.Chains[0].LinkBreaks[0].Reason)
}

func TestVerifyBundle_Version(t *testing.T) {
	b, err := NewBundle(sampleSnapshot(t))
	require.NoError(t, err)

	for _, v := range []string{"1.4.2", "1.0.0"} {
		b.Version = v
		_, err := VerifyBundle(b)
		assert.NoError(t, err, v)
	}
	for _, v := range []string{"2.0.0", "0.9.0", "not-a-version"} {
		b.Version = v
		_, err := VerifyBundle(b)
		assert.ErrorIs(t, err, ErrUnsupportedVersion, v)
	}
}

func TestBundleFileRoundTrip(t *testing.T) {
	b, err := NewBundle(sampleSnapshot(t))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "bundle.json")
	require.NoError(t, WriteFile(path, b))

	loaded, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, b.BundleID, loaded.BundleID)

	r, err := VerifyBundle(loaded)
	require.NoError(t, err)
	assert.True(t, r.Valid)

	_, err = ReadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
