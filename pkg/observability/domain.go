package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Supply-chain attributes.
var (
	AttrAgentID       = attribute.Key("supplychain.agent.id")
	AttrEventCategory = attribute.Key("supplychain.event.category")
	AttrEventSeverity = attribute.Key("supplychain.event.severity")
	AttrAttestation   = attribute.Key("supplychain.attestation.category")
	AttrRiskType      = attribute.Key("supplychain.risk.type")
	AttrDimension     = attribute.Key("supplychain.trust.dimension")
	AttrEscalationID  = attribute.Key("supplychain.escalation.id")
)

// EventOperation returns the attributes of a bus publication.
func EventOperation(category, severity string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEventCategory.String(category),
		AttrEventSeverity.String(severity),
	}
}

// RecordPublish counts one published event and its deliveries.
func (p *Provider) RecordPublish(ctx context.Context, category, severity string, recipients int) {
	attrs := metric.WithAttributes(EventOperation(category, severity)...)
	if p.eventsPublished != nil {
		p.eventsPublished.Add(ctx, 1, attrs)
	}
	if p.deliveries != nil && recipients > 0 {
		p.deliveries.Add(ctx, int64(recipients), attrs)
	}
}

// RecordAttestations counts attestations appended to the ledger, one
// increment per category.
func (p *Provider) RecordAttestations(ctx context.Context, categories ...string) {
	if p.attestationsRecorded == nil {
		return
	}
	for _, c := range categories {
		p.attestationsRecorded.Add(ctx, 1, metric.WithAttributes(AttrAttestation.String(c)))
	}
}

// RecordChainBreaks counts integrity breaks found for an agent.
func (p *Provider) RecordChainBreaks(ctx context.Context, agentID string, n int) {
	if p.chainBreaks != nil && n > 0 {
		p.chainBreaks.Add(ctx, int64(n), metric.WithAttributes(AttrAgentID.String(agentID)))
	}
}

// RecordRiskReport counts a risk report.
func (p *Provider) RecordRiskReport(ctx context.Context, riskType string) {
	if p.riskReports != nil {
		p.riskReports.Add(ctx, 1, metric.WithAttributes(AttrRiskType.String(riskType)))
	}
}

// RecordTrustRating counts a contextual rating submission.
func (p *Provider) RecordTrustRating(ctx context.Context, dimension string) {
	if p.trustRatings != nil {
		p.trustRatings.Add(ctx, 1, metric.WithAttributes(AttrDimension.String(dimension)))
	}
}

// RecordEscalation counts an opened escalation.
func (p *Provider) RecordEscalation(ctx context.Context, agentID string) {
	if p.escalations != nil {
		p.escalations.Add(ctx, 1, metric.WithAttributes(AttrAgentID.String(agentID)))
	}
}

// AddSpanEvent adds an event to the span in ctx.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}
