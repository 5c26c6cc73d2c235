package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go-retry-consumer/pkg/retry"

	kafka "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// metadataConn is the subset of *kafka.Conn used for health checks.
type metadataConn interface {
	ReadPartitions(topics ...string) ([]kafka.Partition, error)
	Close() error
}

// Client checks broker connectivity and topic metadata.
type Client struct {
	brokers        []string
	requiredTopics []string
	logger         *zap.Logger
	gate           *retry.DelayGate
	dial           func(ctx context.Context, address string) (metadataConn, error)
	baseBackoff    time.Duration
	maxBackoff     time.Duration
}

func NewClient(brokers, requiredTopics []string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		brokers:        brokers,
		requiredTopics: requiredTopics,
		logger:         logger,
		gate:           retry.NewDelayGate(nil),
		dial: func(ctx context.Context, address string) (metadataConn, error) {
			return kafka.DialContext(ctx, "tcp", address)
		},
		baseBackoff: 1 * time.Second,
		maxBackoff:  30 * time.Second,
	}
}

// HealthCheck verifies that a broker is reachable and every required topic
// exists.
func (c *Client) HealthCheck(ctx context.Context) error {
	if len(c.brokers) == 0 {
		return errors.New("no brokers configured")
	}

	var lastErr error
	for _, address := range c.brokers {
		conn, err := c.dial(ctx, address)
		if err != nil {
			lastErr = fmt.Errorf("failed to connect to broker %s: %w", address, err)
			continue
		}
		err = c.checkTopics(conn)
		conn.Close()
		return err
	}
	return lastErr
}

func (c *Client) checkTopics(conn metadataConn) error {
	partitions, err := conn.ReadPartitions(c.requiredTopics...)
	if err != nil {
		return fmt.Errorf("failed to read partitions: %w", err)
	}

	found := make(map[string]bool, len(partitions))
	for _, p := range partitions {
		found[p.Topic] = true
	}
	for _, topic := range c.requiredTopics {
		if !found[topic] {
			return fmt.Errorf("topic %s does not exist", topic)
		}
	}
	return nil
}

// WaitReady runs HealthCheck with exponential backoff until it passes,
// maxAttempts is reached or ctx is done.
func (c *Client) WaitReady(ctx context.Context, maxAttempts int) error {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := retry.ExponentialBackoff(attempt-1, c.baseBackoff, c.maxBackoff)
			c.logger.Info("Waiting for Kafka",
				zap.Int("attempt", attempt+1),
				zap.Int("max_attempts", maxAttempts),
				zap.Duration("backoff", backoff),
			)
			if err := c.gate.Wait(ctx, backoff); err != nil {
				return err
			}
		}

		if lastErr = c.HealthCheck(ctx); lastErr == nil {
			c.logger.Info("Kafka is ready", zap.Strings("brokers", c.brokers))
			return nil
		}
		c.logger.Warn("Kafka health check failed", zap.Error(lastErr))
	}
	return fmt.Errorf("kafka not ready after %d attempts: %w", maxAttempts, lastErr)
}
