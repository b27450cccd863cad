// Package metrics exposes the store's business counters through OpenTelemetry.
package metrics

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records order and ledger events. A nil *Metrics discards everything.
type Metrics struct {
	ordersCreated   metric.Int64Counter
	ordersFinalized metric.Int64Counter
	ledgerApplied   metric.Int64Counter
	ledgerRejected  metric.Int64Counter
	ledgerVolume    metric.Float64Counter
	gateRejections  metric.Int64Counter
}

// New registers the counters on a meter from provider.
func New(provider metric.MeterProvider) (*Metrics, error) {
	meter := provider.Meter("github.com/xenking/store-core")

	var (
		m   Metrics
		err error
	)
	if m.ordersCreated, err = meter.Int64Counter("store.orders.created",
		metric.WithDescription("Orders created, by payment path")); err != nil {
		return nil, errors.Wrap(err, "orders.created")
	}
	if m.ordersFinalized, err = meter.Int64Counter("store.orders.finalized",
		metric.WithDescription("Orders moved to a terminal status")); err != nil {
		return nil, errors.Wrap(err, "orders.finalized")
	}
	if m.ledgerApplied, err = meter.Int64Counter("store.ledger.applied",
		metric.WithDescription("Ledger entries written, by kind")); err != nil {
		return nil, errors.Wrap(err, "ledger.applied")
	}
	if m.ledgerRejected, err = meter.Int64Counter("store.ledger.rejected",
		metric.WithDescription("Ledger deltas rejected for insufficient funds")); err != nil {
		return nil, errors.Wrap(err, "ledger.rejected")
	}
	if m.ledgerVolume, err = meter.Float64Counter("store.ledger.volume",
		metric.WithDescription("Absolute USD moved through the ledger, by kind"),
		metric.WithUnit("USD")); err != nil {
		return nil, errors.Wrap(err, "ledger.volume")
	}
	if m.gateRejections, err = meter.Int64Counter("store.gate.rejections",
		metric.WithDescription("Order attempts refused by the store gate")); err != nil {
		return nil, errors.Wrap(err, "gate.rejections")
	}
	return &m, nil
}

func (m *Metrics) OrderCreated(ctx context.Context, path string) {
	if m == nil {
		return
	}
	m.ordersCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("payment_path", path)))
}

func (m *Metrics) OrderFinalized(ctx context.Context, status string, refunded bool) {
	if m == nil {
		return
	}
	m.ordersFinalized.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status),
		attribute.Bool("refunded", refunded),
	))
}

func (m *Metrics) LedgerApplied(ctx context.Context, kind string, amount decimal.Decimal) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("kind", kind))
	m.ledgerApplied.Add(ctx, 1, attrs)
	m.ledgerVolume.Add(ctx, amount.Abs().InexactFloat64(), attrs)
}

func (m *Metrics) LedgerRejected(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.ledgerRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *Metrics) GateRejected(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.gateRejections.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
