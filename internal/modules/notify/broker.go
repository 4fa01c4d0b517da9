// README: Local broker delivering fan-out events to this instance's sessions.
package notify

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"foodrun/internal/metrics"
	"foodrun/internal/modules/board"
	"foodrun/internal/modules/order"
	"foodrun/internal/types"
)

const (
	DefaultBufferSize       = 64
	DefaultCredits    int64 = 1 << 20
)

// Broker is built once in main and shared by the dispatcher, the Redis
// bridge and the WebSocket handler.
type Broker struct {
	topics *topicRegistry
	board  board.Board
	log    *logrus.Logger

	mu          sync.Mutex
	subscribers map[string]*Subscriber

	bufferSize int
	credits    int64

	delivered atomic.Int64
	dropped   atomic.Int64
}

type BrokerOption func(*Broker)

func WithBufferSize(n int) BrokerOption     { return func(b *Broker) { b.bufferSize = n } }
func WithCredits(n int64) BrokerOption      { return func(b *Broker) { b.credits = n } }
func WithBoard(bd board.Board) BrokerOption { return func(b *Broker) { b.board = bd } }

func NewBroker(log *logrus.Logger, opts ...BrokerOption) *Broker {
	if log == nil {
		log = logrus.StandardLogger()
	}
	b := &Broker{
		topics:      newTopicRegistry(),
		log:         log,
		subscribers: make(map[string]*Subscriber),
		bufferSize:  DefaultBufferSize,
		credits:     DefaultCredits,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Subscription is scoped to one client session; Close it on disconnect.
type Subscription struct {
	*Subscriber
	broker *Broker
	once   sync.Once
}

func (s *Subscription) Close() {
	s.once.Do(func() { s.broker.remove(s.Subscriber) })
}

// Subscribe registers a session for the actor's topics.
func (b *Broker) Subscribe(actor order.Actor) *Subscription {
	sub := newSubscriber(uuid.NewString(), actor, b.bufferSize, b.credits)

	b.mu.Lock()
	b.subscribers[sub.ID()] = sub
	b.mu.Unlock()

	for _, topic := range TopicsFor(actor) {
		b.topics.subscribe(topic, sub)
	}
	metrics.Subscriptions.Inc()
	b.log.WithFields(logrus.Fields{
		"subscriber": sub.ID(),
		"actor_id":   actor.ID,
		"role":       actor.Role,
	}).Debug("subscribed")
	return &Subscription{Subscriber: sub, broker: b}
}

func (b *Broker) remove(sub *Subscriber) {
	b.topics.unsubscribeAll(sub)
	b.mu.Lock()
	delete(b.subscribers, sub.ID())
	b.mu.Unlock()
	sub.close()
	metrics.Subscriptions.Dec()
}

func (b *Broker) Name() string { return "broker" }

// Deliver hands evt to every local session on its targets. Couriers that
// receive an open event are recorded on the board.
func (b *Broker) Deliver(ctx context.Context, evt *Event) error {
	var seen []types.ID
	for _, sub := range b.topics.collect(evt.Targets) {
		if !sub.send(evt) {
			b.dropped.Add(1)
			metrics.FanoutDropped.WithLabelValues("subscriber_full").Inc()
			continue
		}
		b.delivered.Add(1)
		if evt.Kind == KindOpen && sub.actor.Role == order.RoleCourier {
			seen = append(seen, sub.actor.ID)
		}
	}

	if b.board != nil && len(seen) > 0 {
		for _, courierID := range seen {
			if err := b.board.MarkSeen(ctx, courierID, evt.ShopOrderID); err != nil {
				b.log.WithError(err).WithField("shop_order_id", evt.ShopOrderID).Warn("board mark seen failed")
				break
			}
		}
	}
	return nil
}

type BrokerStats struct {
	Topics      int   `json:"topics"`
	Subscribers int   `json:"subscribers"`
	Delivered   int64 `json:"delivered"`
	Dropped     int64 `json:"dropped"`
}

func (b *Broker) Stats() BrokerStats {
	b.mu.Lock()
	n := len(b.subscribers)
	b.mu.Unlock()
	return BrokerStats{
		Topics:      b.topics.count(),
		Subscribers: n,
		Delivered:   b.delivered.Load(),
		Dropped:     b.dropped.Load(),
	}
}
