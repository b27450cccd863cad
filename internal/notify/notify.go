// Package notify delivers order status changes to customers after the
// change has committed.
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/store-core/internal/domain/order"
)

// Deliverer sends one event to its recipient.
type Deliverer interface {
	Deliver(ctx context.Context, ev order.Event) error
}

// Dispatcher queues events and delivers them from a background worker so the
// order workflow never waits on the network.
type Dispatcher struct {
	deliverer Deliverer
	queue     chan order.Event
	timeout   time.Duration

	mu     sync.RWMutex
	closed bool
}

var _ order.Notifier = (*Dispatcher)(nil)

// NewDispatcher creates a Dispatcher with a queue of size events.
func NewDispatcher(d Deliverer, size int, timeout time.Duration) *Dispatcher {
	return &Dispatcher{
		deliverer: d,
		queue:     make(chan order.Event, size),
		timeout:   timeout,
	}
}

// OrderChanged enqueues ev. When the queue is full the event is dropped.
func (d *Dispatcher) OrderChanged(ctx context.Context, ev order.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.queue <- ev:
	default:
		zctx.From(ctx).Warn("Notification queue full, dropping event",
			zap.Int64("order_id", ev.Order.ID),
			zap.String("status", string(ev.Order.Status)),
		)
	}
}

// Run delivers queued events until ctx is canceled, then drains what is left.
func (d *Dispatcher) Run(ctx context.Context) error {
	lg := zctx.From(ctx)
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ctx, lg, ev)
		case <-ctx.Done():
			d.mu.Lock()
			d.closed = true
			d.mu.Unlock()

			for {
				select {
				case ev := <-d.queue:
					d.deliver(ctx, lg, ev)
				default:
					return nil
				}
			}
		}
	}
}

// deliver is bounded by the timeout only; shutdown does not abort a send.
func (d *Dispatcher) deliver(ctx context.Context, lg *zap.Logger, ev order.Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	if err := d.deliverer.Deliver(ctx, ev); err != nil {
		lg.Warn("Notification delivery failed",
			zap.Int64("order_id", ev.Order.ID),
			zap.Int64("account_id", ev.Order.AccountID),
			zap.Error(err),
		)
	}
}

// Log is a Deliverer that only writes events to the log.
type Log struct {
	lg *zap.Logger
}

// NewLog creates a Log deliverer.
func NewLog(lg *zap.Logger) *Log {
	return &Log{lg: lg}
}

func (l *Log) Deliver(_ context.Context, ev order.Event) error {
	l.lg.Info("Order notification",
		zap.Int64("order_id", ev.Order.ID),
		zap.Int64("account_id", ev.Order.AccountID),
		zap.String("text", Message(ev)),
	)
	return nil
}

// Message renders the customer-facing text for ev.
func Message(ev order.Event) string {
	o := ev.Order
	var b strings.Builder
	switch o.Status {
	case order.StatusPaid:
		if ev.Previous == order.StatusPendingPayment {
			fmt.Fprintf(&b, "Payment for order #%d is confirmed.", o.ID)
		} else {
			fmt.Fprintf(&b, "Order #%d for %s is paid: %s USD.", o.ID, o.ProductName, o.PriceUSD.StringFixed(2))
		}
	case order.StatusPendingPayment:
		fmt.Fprintf(&b, "Order #%d for %s is created. Pay %s USD and wait for confirmation.",
			o.ID, o.ProductName, o.PriceUSD.StringFixed(2))
	case order.StatusPendingReview:
		fmt.Fprintf(&b, "Order #%d is being reviewed by an operator.", o.ID)
	case order.StatusInProgress:
		fmt.Fprintf(&b, "Order #%d is in progress.", o.ID)
	case order.StatusCompleted:
		fmt.Fprintf(&b, "Order #%d is completed. Thank you!", o.ID)
	case order.StatusFailed:
		fmt.Fprintf(&b, "Order #%d failed.", o.ID)
	case order.StatusCanceled:
		fmt.Fprintf(&b, "Order #%d was canceled.", o.ID)
	default:
		fmt.Fprintf(&b, "Order #%d: %s.", o.ID, o.Status)
	}
	if o.Notes != "" && o.Status.Terminal() {
		fmt.Fprintf(&b, " Note: %s", o.Notes)
	}
	if ev.Refund != nil {
		fmt.Fprintf(&b, " %s USD returned to your balance.", ev.Refund.Amount.StringFixed(2))
	}
	return b.String()
}
