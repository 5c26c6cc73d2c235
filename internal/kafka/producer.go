package kafka

import (
	"context"
	"fmt"
	"time"

	"go-retry-consumer/pkg/models"
	"go-retry-consumer/pkg/retry"

	"github.com/coder/quartz"
	kafka "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// messageWriter is the subset of *kafka.Writer the producer uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes messages with delivery guarantees and retry logic
type Producer struct {
	writer      messageWriter
	logger      *zap.Logger
	clock       quartz.Clock
	gate        *retry.DelayGate
	maxRetries  int
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

type ProducerConfig struct {
	Brokers     []string
	Acks        int // -1 for all, 0 for none, 1 for leader
	Retries     int
	Idempotent  bool
	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	Logger      *zap.Logger
	// Clock stamps outgoing messages and drives retry backoff.
	Clock quartz.Clock
}

func NewProducer(cfg ProducerConfig) *Producer {
	// Configure writer with delivery guarantees. Topic is left empty so
	// every message names its own destination.
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequiredAcks(cfg.Acks),
		MaxAttempts:            cfg.Retries,
		WriteTimeout:           10 * time.Second,
		ReadTimeout:            10 * time.Second,
		AllowAutoTopicCreation: false,
		Async:                  false,
	}

	// Idempotent delivery requires acks=all
	if cfg.Idempotent {
		writer.RequiredAcks = kafka.RequireAll
		writer.MaxAttempts = 10
	}

	return newProducer(writer, cfg)
}

func newProducer(writer messageWriter, cfg ProducerConfig) *Producer {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.BaseBackoff == 0 {
		cfg.BaseBackoff = 100 * time.Millisecond
	}
	if cfg.MaxBackoff == 0 {
		cfg.MaxBackoff = 5 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Clock == nil {
		cfg.Clock = quartz.NewReal()
	}

	return &Producer{
		writer:      writer,
		logger:      cfg.Logger,
		clock:       cfg.Clock,
		gate:        retry.NewDelayGate(cfg.Clock),
		maxRetries:  cfg.MaxRetries,
		baseBackoff: cfg.BaseBackoff,
		maxBackoff:  cfg.MaxBackoff,
	}
}

// Publish writes msg to topic, retrying with exponential backoff. It gives
// up early when ctx is done.
func (p *Producer) Publish(ctx context.Context, topic string, msg *models.Message) error {
	out := toKafkaMessage(topic, msg, p.clock.Now())

	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := retry.ExponentialBackoff(attempt-1, p.baseBackoff, p.maxBackoff)

			p.logger.Info("Retrying message publish",
				zap.Int("attempt", attempt),
				zap.String("topic", topic),
				zap.ByteString("key", msg.Key),
				zap.Duration("backoff", backoff),
			)

			if err := p.gate.Wait(ctx, backoff); err != nil {
				return err
			}
		}

		err := p.writer.WriteMessages(ctx, out)
		if err == nil {
			p.logger.Debug("Message published successfully",
				zap.String("topic", topic),
				zap.ByteString("key", msg.Key),
				zap.Int("attempt", attempt+1),
			)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		lastErr = err
		p.logger.Warn("Failed to publish message",
			zap.String("topic", topic),
			zap.ByteString("key", msg.Key),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}

	return fmt.Errorf("failed to publish message after %d attempts: %w", p.maxRetries+1, lastErr)
}

// Close gracefully shuts down the producer
func (p *Producer) Close() error {
	p.logger.Info("Closing producer")
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close producer: %w", err)
	}
	return nil
}

func toKafkaMessage(topic string, msg *models.Message, now time.Time) kafka.Message {
	out := kafka.Message{
		Topic: topic,
		Key:   msg.Key,
		Value: msg.Value,
		Time:  now,
	}
	if len(msg.Headers) > 0 {
		out.Headers = make([]kafka.Header, 0, len(msg.Headers))
		for k, v := range msg.Headers {
			out.Headers = append(out.Headers, kafka.Header{Key: k, Value: v})
		}
	}
	return out
}

func fromKafkaMessage(m kafka.Message) *models.Message {
	headers := make(map[string][]byte, len(m.Headers))
	for _, h := range m.Headers {
		headers[h.Key] = h.Value
	}
	return &models.Message{
		Topic:     m.Topic,
		Key:       m.Key,
		Value:     m.Value,
		Headers:   headers,
		Partition: m.Partition,
		Offset:    m.Offset,
		Timestamp: m.Time,
	}
}
