// README: Async dispatcher: bounded queue of committed changes, fanned out to sinks.
package notify

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"foodrun/internal/metrics"
	"foodrun/internal/modules/order"
)

const (
	DefaultQueueSize = 1024
	drainTimeout     = 2 * time.Second
)

// Sink is one delivery channel for routed events. Errors are logged and
// never reach the writer that produced the change.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, evt *Event) error
}

// Dispatcher implements order.Publisher. Publish never blocks: when the
// queue is full the change is dropped and clients recover on refetch.
type Dispatcher struct {
	queue  chan order.Change
	router *Router
	sinks  []Sink
	log    *logrus.Logger
}

var _ order.Publisher = (*Dispatcher)(nil)

func NewDispatcher(router *Router, log *logrus.Logger, queueSize int, sinks ...Sink) *Dispatcher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Dispatcher{
		queue:  make(chan order.Change, queueSize),
		router: router,
		sinks:  sinks,
		log:    log,
	}
}

func (d *Dispatcher) Publish(_ context.Context, c order.Change) {
	select {
	case d.queue <- c:
	default:
		metrics.FanoutDropped.WithLabelValues("queue_full").Inc()
		entry := d.log.WithField("kind", c.Kind)
		if c.ShopOrder != nil {
			entry = entry.WithField("shop_order_id", c.ShopOrder.ID)
		}
		entry.Warn("fan-out queue full, dropping change")
	}
}

// Run drains the queue until ctx is done, then flushes what is left.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			d.drain()
			return nil
		case c := <-d.queue:
			d.handle(ctx, c)
		}
	}
}

func (d *Dispatcher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case c := <-d.queue:
			d.handle(ctx, c)
		default:
			return
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, c order.Change) {
	for _, evt := range d.router.Route(ctx, c) {
		metrics.FanoutPublished.WithLabelValues(string(evt.Kind)).Inc()
		for _, sink := range d.sinks {
			if err := sink.Deliver(ctx, evt); err != nil {
				metrics.SinkErrors.WithLabelValues(sink.Name()).Inc()
				d.log.WithError(err).WithFields(logrus.Fields{
					"sink":          sink.Name(),
					"kind":          evt.Kind,
					"shop_order_id": evt.ShopOrderID,
				}).Warn("fan-out sink failed")
			}
		}
	}
}
