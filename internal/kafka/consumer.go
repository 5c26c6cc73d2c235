package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go-retry-consumer/pkg/models"

	kafka "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// messageReader is the subset of *kafka.Reader the source uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher sends a message to a named topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, msg *models.Message) error
}

type SourceConfig struct {
	Brokers       []string
	Topic         string
	GroupID       string
	FetchMinBytes int
	FetchMaxBytes int
	// StartOffset applies when the group has no committed offset.
	// Defaults to kafka.FirstOffset.
	StartOffset int64
	Logger      *zap.Logger
}

// Source consumes one topic through a consumer group and implements the
// pipeline's Broker and Resetter contracts. Offsets are committed manually
// and in order, so a crash redelivers every message that was not acked.
type Source struct {
	cfg       SourceConfig
	producer  Publisher
	logger    *zap.Logger
	newReader func() messageReader

	mu      sync.Mutex
	reader  messageReader
	offsets *offsetTracker
}

func NewSource(cfg SourceConfig, producer Publisher) (*Source, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("brokers list cannot be empty")
	}
	if cfg.Topic == "" {
		return nil, errors.New("topic cannot be empty")
	}
	if cfg.GroupID == "" {
		return nil, errors.New("group id cannot be empty")
	}
	if producer == nil {
		return nil, errors.New("producer cannot be nil")
	}
	// kafka.NewReader panics on these
	if cfg.FetchMinBytes < 0 || cfg.FetchMaxBytes < 0 {
		return nil, errors.New("fetch byte limits cannot be negative")
	}
	if cfg.FetchMaxBytes > 0 && cfg.FetchMinBytes > cfg.FetchMaxBytes {
		return nil, fmt.Errorf("fetch min bytes %d exceeds max bytes %d", cfg.FetchMinBytes, cfg.FetchMaxBytes)
	}

	return newSource(cfg, producer, func() messageReader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:        cfg.Brokers,
			Topic:          cfg.Topic,
			GroupID:        cfg.GroupID,
			MinBytes:       cfg.FetchMinBytes,
			MaxBytes:       cfg.FetchMaxBytes,
			CommitInterval: 0, // synchronous commits on Ack
			StartOffset:    cfg.StartOffset,
		})
	}), nil
}

func newSource(cfg SourceConfig, producer Publisher, newReader func() messageReader) *Source {
	if cfg.StartOffset == 0 {
		cfg.StartOffset = kafka.FirstOffset
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Source{
		cfg:       cfg,
		producer:  producer,
		logger:    cfg.Logger.With(zap.String("topic", cfg.Topic), zap.String("group_id", cfg.GroupID)),
		newReader: newReader,
		reader:    newReader(),
		offsets:   newOffsetTracker(),
	}
}

func (s *Source) session() (messageReader, *offsetTracker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reader, s.offsets
}

// Fetch blocks until the next message arrives or ctx is done.
func (s *Source) Fetch(ctx context.Context) (*models.Message, error) {
	reader, offsets := s.session()

	m, err := reader.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}
	offsets.Track(m.Partition, m.Offset)
	return fromKafkaMessage(m), nil
}

// Ack marks msg done. The group offset only advances once every earlier
// message on the partition has been acked as well.
func (s *Source) Ack(ctx context.Context, msg *models.Message) error {
	reader, offsets := s.session()

	commit, ok := offsets.Complete(msg.Partition, msg.Offset)
	if !ok {
		return nil
	}

	err := reader.CommitMessages(ctx, kafka.Message{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    commit,
	})
	if err != nil {
		return fmt.Errorf("failed to commit offset %d on partition %d: %w", commit, msg.Partition, err)
	}

	s.logger.Debug("Offset committed",
		zap.Int("partition", msg.Partition),
		zap.Int64("offset", commit),
	)
	return nil
}

func (s *Source) Publish(ctx context.Context, destination string, msg *models.Message) error {
	return s.producer.Publish(ctx, destination, msg)
}

// Reset replaces the reader. Uncommitted messages are fetched again from
// the group's last committed offset.
func (s *Source) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.reader.Close(); err != nil {
		s.logger.Warn("Failed to close reader during reset", zap.Error(err))
	}
	s.reader = s.newReader()
	s.offsets = newOffsetTracker()

	s.logger.Info("Consumer session reset")
	return nil
}

// Close gracefully shuts down the consumer
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info("Closing consumer")
	if err := s.reader.Close(); err != nil {
		return fmt.Errorf("failed to close consumer: %w", err)
	}
	return nil
}
