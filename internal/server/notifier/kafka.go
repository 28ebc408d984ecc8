package notifier

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaNotifier publishes mail events to the topic the mail service
// consumes. Messages are keyed by recipient email so per-recipient ordering
// is preserved across partitions.
type KafkaNotifier struct {
	writer *kafka.Writer
}

func NewKafkaNotifier(broker, topic string) *KafkaNotifier {
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(broker),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			WriteTimeout: 10 * time.Second,
		},
	}
}

func (n *KafkaNotifier) publish(ctx context.Context, event MailEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.Email),
		Value: value,
		Time:  time.Now(),
	})
}

func (n *KafkaNotifier) NotifyVerification(ctx context.Context, email, name, token string) error {
	return n.publish(ctx, MailEvent{Type: EventTypeVerification, Email: email, Name: name, Token: token})
}

func (n *KafkaNotifier) NotifyPasswordReset(ctx context.Context, email, name, token string) error {
	return n.publish(ctx, MailEvent{Type: EventTypePasswordReset, Email: email, Name: name, Token: token})
}

func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
