// README: Redis Pub/Sub bridge relaying fan-out events between API instances.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const DefaultBridgeChannel = "foodrun:notify"

type envelope struct {
	Origin string `json:"origin"`
	Event  *Event `json:"event"`
}

// Bridge publishes every routed event to a Redis channel and replays events
// from other instances into the local broker. The origin instance already
// delivered locally, so it skips its own messages.
type Bridge struct {
	redis    *redis.Client
	channel  string
	instance string
	local    *Broker
	log      *logrus.Logger
}

func NewBridge(client *redis.Client, channel, instance string, local *Broker, log *logrus.Logger) *Bridge {
	if channel == "" {
		channel = DefaultBridgeChannel
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Bridge{redis: client, channel: channel, instance: instance, local: local, log: log}
}

func (b *Bridge) Name() string { return "redis_bridge" }

func (b *Bridge) Deliver(ctx context.Context, evt *Event) error {
	data, err := json.Marshal(envelope{Origin: b.instance, Event: evt})
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return b.redis.Publish(ctx, b.channel, data).Err()
}

// Run relays remote events until ctx is done.
func (b *Bridge) Run(ctx context.Context) error {
	sub := b.redis.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	b.log.WithField("channel", b.channel).Info("notify bridge subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.relay(ctx, []byte(msg.Payload))
		}
	}
}

func (b *Bridge) relay(ctx context.Context, payload []byte) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil || env.Event == nil {
		b.log.WithError(err).Warn("notify bridge: bad payload")
		return
	}
	if env.Origin == b.instance {
		return
	}
	if err := b.local.Deliver(ctx, env.Event); err != nil {
		b.log.WithError(err).Warn("notify bridge: local delivery failed")
	}
}
