//go:build property
// +build property

package reputation_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/justKMM/supply-chainer/pkg/reputation"
)

type txnShape struct {
	OnTime    bool
	LateDays  int
	Defects   int
	Accepted  bool
	Honored   bool
	Markup    float64
	Compliant bool
	Disputed  bool
	Resolved  bool
	Delivered int
}

func genTxnShape() gopter.Gen {
	return gopter.CombineGens(
		gen.Bool(),
		gen.IntRange(0, 30),
		gen.IntRange(0, 10),
		gen.Bool(),
		gen.Bool(),
		gen.Float64Range(-50, 200),
		gen.Bool(),
		gen.Bool(),
		gen.Bool(),
		gen.IntRange(0, 100),
	).Map(func(v []interface{}) txnShape {
		return txnShape{
			OnTime:    v[0].(bool),
			LateDays:  v[1].(int),
			Defects:   v[2].(int),
			Accepted:  v[3].(bool),
			Honored:   v[4].(bool),
			Markup:    v[5].(float64),
			Compliant: v[6].(bool),
			Disputed:  v[7].(bool),
			Resolved:  v[8].(bool),
			Delivered: v[9].(int),
		}
	})
}

func (s txnShape) record(agentID string) reputation.TransactionRecord {
	rec := reputation.NewTransactionRecord()
	rec.AgentID = agentID
	rec.CounterpartyID = "ferrari-procurement-01"
	rec.OnTime = s.OnTime
	rec.PromisedDeliveryDays = 14
	rec.ActualDeliveryDays = 14 + s.LateDays
	rec.QualityAccepted = s.Accepted
	rec.DefectsFound = s.Defects
	rec.PriceHonored = s.Honored
	rec.QuotedPriceEUR = 1000
	rec.FinalPriceEUR = 1000 * (1 + s.Markup/100)
	rec.CompliancePassed = s.Compliant
	rec.DisputeRaised = s.Disputed
	rec.DisputeResolved = s.Resolved
	rec.QuantityOrdered = 100
	rec.QuantityDelivered = s.Delivered
	return rec
}

// TestCompositeStaysInUnitInterval checks composite bounds and chain
// validity over arbitrary transaction sequences.
func TestCompositeStaysInUnitInterval(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("composite in [0,1] and chain valid", prop.ForAll(
		func(shapes []txnShape) bool {
			l := reputation.NewLedger()
			for _, s := range shapes {
				atts, err := l.RecordTransaction(s.record("agent"))
				if err != nil || len(atts) != 5 {
					return false
				}
				for _, a := range atts {
					if a.Score < 0 || a.Score > 1 {
						return false
					}
				}
				c, ok := l.Composite("agent")
				if !ok || c < 0 || c > 1 {
					return false
				}
			}
			v := l.VerifyChain("agent")
			return v.Valid && v.Length == 5*len(shapes)
		},
		gen.SliceOf(genTxnShape()),
	))

	properties.TestingRun(t)
}
