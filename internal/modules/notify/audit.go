// README: Kafka sink recording every fan-out event for audit and analytics.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// AuditSink keys messages by shop order so one job's events stay ordered
// within a partition.
type AuditSink struct {
	writer messageWriter
}

func NewAuditSink(brokers []string, topic string, batchTimeout time.Duration) *AuditSink {
	return &AuditSink{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: batchTimeout,
		Async:        true,
	}}
}

func (a *AuditSink) Name() string { return "kafka_audit" }

func (a *AuditSink) Deliver(ctx context.Context, evt *Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return a.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(evt.ShopOrderID),
		Value: data,
		Time:  evt.At,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(evt.Kind)},
		},
	})
}

func (a *AuditSink) Close() error {
	return a.writer.Close()
}
