// README: FCM sink waking mobile clients whose streaming connection is gone.
package notify

import (
	"context"
	"fmt"
	"strings"

	"firebase.google.com/go/v4/messaging"
)

type pushSender interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
}

// PushSink publishes each routed event to the FCM topic of every target.
// Apps subscribe to their own topic name, e.g. "courier-c1" or "couriers".
type PushSink struct {
	sender pushSender
	prefix string
}

func NewPushSink(client *messaging.Client, prefix string) *PushSink {
	return &PushSink{sender: client, prefix: prefix}
}

func (p *PushSink) Name() string { return "fcm_push" }

// Deliver stops at the first failed topic; the dispatcher logs it.
func (p *PushSink) Deliver(ctx context.Context, evt *Event) error {
	for _, target := range evt.Targets {
		msg := &messaging.Message{
			Topic: p.fcmTopic(target),
			Data:  pushData(evt),
			Android: &messaging.AndroidConfig{
				Priority: "high",
			},
		}
		if n := pushNotification(evt); n != nil {
			msg.Notification = n
		}
		if _, err := p.sender.Send(ctx, msg); err != nil {
			return fmt.Errorf("fcm send %s: %w", target, err)
		}
	}
	return nil
}

// fcmTopic maps "courier:c1" to "<prefix>courier-c1"; FCM topic names may
// not contain ':'.
func (p *PushSink) fcmTopic(target string) string {
	return p.prefix + strings.ReplaceAll(target, ":", "-")
}

func pushData(evt *Event) map[string]string {
	data := map[string]string{
		"event_id":      evt.ID,
		"kind":          string(evt.Kind),
		"shop_order_id": string(evt.ShopOrderID),
		"order_id":      string(evt.OrderID),
	}
	if evt.Status != "" {
		data["status"] = string(evt.Status)
	}
	if evt.Aggregate != "" {
		data["aggregate"] = string(evt.Aggregate)
	}
	if evt.Courier != nil {
		data["courier_id"] = string(evt.Courier.ID)
	}
	return data
}

// Only events a person should see get a visible notification; the rest are
// silent data messages that prompt the app to refetch.
func pushNotification(evt *Event) *messaging.Notification {
	switch evt.Kind {
	case KindOpen:
		return &messaging.Notification{Title: "New delivery request", Body: "A shop order is ready to be claimed."}
	case KindAccepted:
		return &messaging.Notification{Title: "Delivery accepted", Body: "A courier has taken the delivery."}
	case KindOrder:
		return &messaging.Notification{Title: "Order update", Body: "Your order is now " + humanStatus(string(evt.Aggregate)) + "."}
	}
	return nil
}

func humanStatus(s string) string {
	return strings.ReplaceAll(s, "_", " ")
}
