package reputation

import (
	"math"
	"slices"
	"time"
)

// ContextualDimensions are the documented rating dimensions. The ledger
// accepts any dimension string.
var ContextualDimensions = []string{
	"on_time_delivery",
	"pricing_honesty",
	"quality",
	"compliance",
	"reliability",
}

// DimensionLabel returns dimension when it is one of ContextualDimensions
// and "other" otherwise.
func DimensionLabel(dimension string) string {
	if slices.Contains(ContextualDimensions, dimension) {
		return dimension
	}
	return "other"
}

const (
	neutralRaterTrust = 0.5
	minRaterWeight    = 0.3
)

// TrustSubmission is a rating of one agent on one dimension by a rater.
type TrustSubmission struct {
	AgentID   string  `json:"agent_id"`
	Dimension string  `json:"dimension"`
	Score     float64 `json:"score"`
	Context   string  `json:"context"`
	RaterID   string  `json:"rater_id"`
}

// ContextualRating is a stored submission with the rater weight applied.
type ContextualRating struct {
	AgentID         string    `json:"agent_id"`
	Dimension       string    `json:"dimension"`
	Score           float64   `json:"score"`
	Context         string    `json:"context"`
	RaterID         string    `json:"rater_id"`
	EffectiveScore  float64   `json:"effective_score"`
	EffectiveWeight float64   `json:"effective_weight"`
	SubmittedAt     time.Time `json:"submitted_at"`
}

// ContextualScore aggregates the ratings of an agent. Score is nil when no
// rating matches.
type ContextualScore struct {
	AgentID     string             `json:"agent_id"`
	Dimension   string             `json:"dimension"`
	Score       *float64           `json:"score"`
	Count       int                `json:"count"`
	ByDimension map[string]float64 `json:"by_dimension,omitempty"`
}

// SubmitTrustRating weights the rating by the rater's own composite score,
// floored at 0.3. Unscored raters count as 0.5.
func (l *Ledger) SubmitTrustRating(sub TrustSubmission) ContextualRating {
	l.mu.Lock()
	defer l.mu.Unlock()

	raterTrust := neutralRaterTrust
	if s, ok := l.scores[sub.RaterID]; ok {
		raterTrust = s.CompositeScore
	}
	weight := math.Max(minRaterWeight, raterTrust)
	rating := ContextualRating{
		AgentID:         sub.AgentID,
		Dimension:       sub.Dimension,
		Score:           sub.Score,
		Context:         sub.Context,
		RaterID:         sub.RaterID,
		EffectiveScore:  sub.Score * weight,
		EffectiveWeight: weight,
		SubmittedAt:     l.clock().UTC(),
	}
	l.ratings = append(l.ratings, rating)
	l.logger.Debug("trust rating submitted", "agent_id", sub.AgentID, "rater_id", sub.RaterID, "weight", weight)
	return rating
}

// ContextualScore returns the weighted mean of the agent's ratings,
// optionally restricted to one dimension.
func (l *Ledger) ContextualScore(agentID, dimension string) ContextualScore {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := ContextualScore{AgentID: agentID, Dimension: dimension}
	var weighted, weights float64
	dimWeighted := make(map[string]float64)
	dimWeights := make(map[string]float64)
	for _, r := range l.ratings {
		if r.AgentID != agentID || (dimension != "" && r.Dimension != dimension) {
			continue
		}
		out.Count++
		weighted += r.EffectiveScore
		weights += r.EffectiveWeight
		dimWeighted[r.Dimension] += r.EffectiveScore
		dimWeights[r.Dimension] += r.EffectiveWeight
	}
	if out.Count == 0 {
		return out
	}

	avg := 0.0
	if weights > 0 {
		avg = round(weighted/weights, 3)
	}
	out.Score = &avg
	out.ByDimension = make(map[string]float64, len(dimWeights))
	for d, w := range dimWeights {
		if w > 0 {
			out.ByDimension[d] = dimWeighted[d] / w
		} else {
			out.ByDimension[d] = 0
		}
	}
	return out
}

// Ratings returns every stored contextual rating.
func (l *Ledger) Ratings() []ContextualRating {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append(make([]ContextualRating, 0, len(l.ratings)), l.ratings...)
}
