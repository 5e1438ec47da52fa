package reputation

import (
	"fmt"
	"math"
)

func round(x float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(x*p) / p
}

func deliveryScore(r TransactionRecord) float64 {
	if r.OnTime {
		return 1.0
	}
	return math.Max(0, 1-math.Abs(float64(r.DeliveryVarianceDays))*0.1)
}

func qualityScore(r TransactionRecord) float64 {
	switch {
	case r.QualityAccepted && r.DefectsFound == 0:
		return 1.0
	case r.QualityAccepted:
		return math.Max(0.2, 0.6-float64(r.DefectsFound)*0.15)
	default:
		return 0.05
	}
}

func pricingScore(r TransactionRecord) float64 {
	if r.PriceHonored {
		return 1.0
	}
	return math.Max(0, 1-math.Abs(r.PriceVariancePct)*0.05)
}

func complianceScore(r TransactionRecord) float64 {
	if r.CompliancePassed {
		return 1.0
	}
	return 0.0
}

func reliabilityScore(r TransactionRecord) float64 {
	switch {
	case !r.DisputeRaised:
		return 1.0
	case r.DisputeResolved:
		return 0.8
	default:
		return 0.5
	}
}

// draftAttestations builds the five unhashed attestations for r in emission
// order.
func draftAttestations(r TransactionRecord) []Attestation {
	base := func(category string, score float64) Attestation {
		return Attestation{
			Timestamp:      r.Timestamp,
			AgentID:        r.AgentID,
			AgentName:      r.AgentName,
			AttestedBy:     r.CounterpartyID,
			AttestedByName: r.CounterpartyName,
			TransactionID:  r.RecordID,
			Category:       category,
			Score:          round(score, 3),
		}
	}

	delivery := base(CategoryDelivery, deliveryScore(r))
	timing := "On-time"
	if !r.OnTime {
		timing = fmt.Sprintf("%dd late", r.DeliveryVarianceDays)
	}
	delivery.Detail = fmt.Sprintf("%s delivery of %d/%d units", timing, r.QuantityDelivered, r.QuantityOrdered)
	delivery.Evidence = map[string]any{
		"promised_days": r.PromisedDeliveryDays,
		"actual_days":   r.ActualDeliveryDays,
		"variance":      r.DeliveryVarianceDays,
	}

	quality := base(CategoryQuality, qualityScore(r))
	verdict := "Accepted"
	if !r.QualityAccepted {
		verdict = "Rejected"
	}
	quality.Detail = fmt.Sprintf("%s, %d defects found", verdict, r.DefectsFound)
	quality.Evidence = map[string]any{"accepted": r.QualityAccepted, "defects": r.DefectsFound}

	pricing := base(CategoryPricing, pricingScore(r))
	honored := "honored"
	if !r.PriceHonored {
		honored = "deviated"
	}
	pricing.Detail = fmt.Sprintf("Price %s (%+.1f%%)", honored, r.PriceVariancePct)
	pricing.Evidence = map[string]any{
		"quoted":       r.QuotedPriceEUR,
		"final":        r.FinalPriceEUR,
		"variance_pct": r.PriceVariancePct,
	}

	compliance := base(CategoryCompliance, complianceScore(r))
	compliance.AttestedBy = ComplianceAttesterID
	compliance.AttestedByName = ComplianceAttesterName
	compliance.Detail = "Compliance passed"
	if !r.CompliancePassed {
		compliance.Detail = "Compliance failed"
	}
	compliance.Evidence = map[string]any{"passed": r.CompliancePassed}

	reliability := base(CategoryReliability, reliabilityScore(r))
	switch {
	case !r.DisputeRaised:
		reliability.Detail = "No disputes"
	case r.DisputeResolved:
		reliability.Detail = "Dispute resolved"
	default:
		reliability.Detail = "Dispute open"
	}
	reliability.Evidence = map[string]any{"dispute_raised": r.DisputeRaised, "dispute_resolved": r.DisputeResolved}

	return []Attestation{delivery, quality, pricing, compliance, reliability}
}

// compositeOf averages each category over history and applies Weights. A
// category with no attestations contributes 0.
func compositeOf(history []*Attestation) (means map[string]float64, composite float64) {
	sums := make(map[string]float64, len(categoryOrder))
	counts := make(map[string]int, len(categoryOrder))
	for _, a := range history {
		sums[a.Category] += a.Score
		counts[a.Category]++
	}
	means = make(map[string]float64, len(categoryOrder))
	for _, c := range categoryOrder {
		if counts[c] > 0 {
			means[c] = sums[c] / float64(counts[c])
		}
		composite += means[c] * Weights[c]
	}
	return means, composite
}

func trendOf(prev *ReputationScore, composite float64) string {
	switch {
	case prev == nil:
		return TrendStable
	case composite > prev.CompositeScore+trendBand:
		return TrendImproving
	case composite < prev.CompositeScore-trendBand:
		return TrendDeclining
	default:
		return TrendStable
	}
}
