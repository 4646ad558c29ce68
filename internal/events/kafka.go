package events

import (
	"context"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// messageWriter is the subset of *kafkago.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// KafkaPublisher writes JSON job events to a topic, keyed by job id so that
// events of one job stay ordered within a partition.
type KafkaPublisher struct {
	w      messageWriter
	topic  string
	logger *zap.Logger
}

func NewKafkaPublisher(brokers []string, topic string, logger *zap.Logger) *KafkaPublisher {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireOne,
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	return newKafkaPublisher(w, topic, logger)
}

func newKafkaPublisher(w messageWriter, topic string, logger *zap.Logger) *KafkaPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaPublisher{w: w, topic: topic, logger: logger}
}

func (p *KafkaPublisher) Publish(ctx context.Context, evt JobEvent) error {
	data, err := evt.Marshal()
	if err != nil {
		return fmt.Errorf("marshal %s: %w", evt.Type, err)
	}
	msg := kafkago.Message{
		Key:   []byte(evt.JobID),
		Value: data,
		Time:  evt.TS,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte(evt.Type)},
			{Key: "tenant_id", Value: []byte(evt.TenantID)},
		},
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("failed to publish job event",
			zap.String("topic", p.topic),
			zap.String("event_type", evt.Type),
			zap.String("job_id", evt.JobID),
			zap.Error(err),
		)
		return fmt.Errorf("publish %s: %w", evt.Type, err)
	}
	p.logger.Debug("published job event",
		zap.String("event_type", evt.Type),
		zap.String("job_id", evt.JobID),
	)
	return nil
}

func (p *KafkaPublisher) Close() error { return p.w.Close() }
