package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go-retry-consumer/internal/observability"
	"go-retry-consumer/pkg/models"
	"go-retry-consumer/pkg/retry"

	"github.com/coder/quartz"
	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

var (
	ErrDeliveriesClosed = errors.New("delivery channel closed")
	ErrPublishNacked    = errors.New("publish not confirmed by broker")
)

type BrokerConfig struct {
	Topology       Topology
	PrefetchCount  int
	ConsumerTag    string
	PublishTimeout time.Duration
	Logger         *zap.Logger
	Clock          quartz.Clock
}

// session is one pair of consume and publish channels.
type session struct {
	consume    Channel
	deliveries <-chan amqp.Delivery
	publish    Channel
	confirms   chan amqp.Confirmation

	// seq is the delivery tag of the last successful publish on the publish
	// channel. Guarded by Broker.pubMu.
	seq uint64
}

// Broker consumes one queue and publishes to its retry and dead-letter
// queues. It implements the pipeline's Broker and Resetter contracts.
//
// Publishes are confirmed and serialized on a dedicated channel. A confirm
// is matched to its publish by delivery tag, so a late confirm for an
// abandoned publish is never taken for the current one.
type Broker struct {
	conn   *Connection
	cfg    BrokerConfig
	logger *zap.Logger
	codec  *retry.Codec

	mu       sync.Mutex
	current  *session
	inflight map[*models.Message]inflightDelivery

	pubMu sync.Mutex
}

type inflightDelivery struct {
	session *session
	tag     uint64
}

func NewBroker(conn *Connection, cfg BrokerConfig) (*Broker, error) {
	if conn == nil {
		return nil, errors.New("connection cannot be nil")
	}
	if cfg.Topology.Queue == "" {
		return nil, errors.New("queue cannot be empty")
	}
	if cfg.PrefetchCount <= 0 {
		cfg.PrefetchCount = 10
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = quartz.NewReal()
	}

	b := &Broker{
		conn:     conn,
		cfg:      cfg,
		logger:   cfg.Logger.With(zap.String("queue", cfg.Topology.Queue)),
		codec:    retry.NewCodec(false, observability.GetLogger()),
		inflight: make(map[*models.Message]inflightDelivery),
	}

	s, err := b.open()
	if err != nil {
		return nil, err
	}
	b.current = s
	return b, nil
}

// open declares the topology and starts consuming on fresh channels.
func (b *Broker) open() (*session, error) {
	consume, err := b.conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := b.cfg.Topology.Declare(consume); err != nil {
		consume.Close()
		return nil, err
	}
	if err := consume.Qos(b.cfg.PrefetchCount, 0, false); err != nil {
		consume.Close()
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}
	deliveries, err := consume.Consume(b.cfg.Topology.Queue, b.cfg.ConsumerTag, false, false, false, false, nil)
	if err != nil {
		consume.Close()
		return nil, fmt.Errorf("failed to register consumer: %w", err)
	}

	publish, err := b.conn.Channel()
	if err != nil {
		consume.Close()
		return nil, err
	}
	if err := publish.Confirm(false); err != nil {
		consume.Close()
		publish.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}
	// each in-flight delivery has at most one publish outstanding
	confirms := publish.NotifyPublish(make(chan amqp.Confirmation, b.cfg.PrefetchCount+1))

	b.logger.Info("RabbitMQ session opened", zap.Int("prefetch", b.cfg.PrefetchCount))
	return &session{
		consume:    consume,
		deliveries: deliveries,
		publish:    publish,
		confirms:   confirms,
	}, nil
}

func (b *Broker) session() *session {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Fetch blocks until a delivery arrives or ctx is done.
func (b *Broker) Fetch(ctx context.Context) (*models.Message, error) {
	s := b.session()

	select {
	case d, ok := <-s.deliveries:
		if !ok {
			return nil, ErrDeliveriesClosed
		}
		msg := &models.Message{
			Topic:       b.cfg.Topology.Queue,
			Key:         []byte(d.MessageId),
			Value:       d.Body,
			Headers:     fromTable(d.Headers),
			DeliveryTag: d.DeliveryTag,
			Timestamp:   d.Timestamp,
		}
		if d.MessageId != "" {
			if _, ok := msg.Headers[models.HeaderMessageID]; !ok {
				msg.Headers[models.HeaderMessageID] = []byte(d.MessageId)
			}
		}

		b.mu.Lock()
		b.inflight[msg] = inflightDelivery{session: s, tag: d.DeliveryTag}
		b.mu.Unlock()
		return msg, nil

	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Ack acknowledges msg on the channel it was delivered on. Deliveries from a
// session that has since been reset are skipped; the broker redelivers them.
func (b *Broker) Ack(ctx context.Context, msg *models.Message) error {
	b.mu.Lock()
	d, ok := b.inflight[msg]
	delete(b.inflight, msg)
	current := b.current
	b.mu.Unlock()

	if !ok {
		return fmt.Errorf("unknown delivery %d", msg.DeliveryTag)
	}
	if d.session != current {
		b.logger.Debug("Skipping ack for delivery from a closed session", zap.Uint64("delivery_tag", d.tag))
		return nil
	}
	if err := d.session.consume.Ack(d.tag, false); err != nil {
		return fmt.Errorf("failed to ack delivery %d: %w", d.tag, err)
	}
	return nil
}

// Publish sends msg to the destination queue through the default exchange
// and waits for the broker confirm. Messages bound for the retry queue carry
// the remaining RetryAfter delay as their expiration.
func (b *Broker) Publish(ctx context.Context, destination string, msg *models.Message) error {
	pub := amqp.Publishing{
		Headers:      toTable(msg.Headers),
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    b.cfg.Clock.Now(),
		Body:         msg.Value,
	}
	if id, ok := msg.Header(models.HeaderMessageID); ok {
		pub.MessageId = id
	} else if len(msg.Key) > 0 {
		pub.MessageId = string(msg.Key)
	}
	if destination == b.cfg.Topology.RetryQueue {
		notBefore, ok := b.codec.ReadNotBefore(msg.Headers)
		if !ok {
			notBefore = b.cfg.Clock.Now()
		}
		pub.Expiration = expiration(notBefore, b.cfg.Clock.Now())
	}

	s := b.session()

	b.pubMu.Lock()
	defer b.pubMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.publish.Publish("", destination, false, false, pub); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", destination, err)
	}
	s.seq++
	tag := s.seq

	timer := b.cfg.Clock.NewTimer(b.cfg.PublishTimeout, "rabbitmq", "confirm")
	defer timer.Stop()

	for {
		select {
		case conf, ok := <-s.confirms:
			if !ok {
				return fmt.Errorf("publish to %s: confirm channel closed", destination)
			}
			if conf.DeliveryTag < tag {
				b.logger.Debug("Discarding late confirm",
					zap.Uint64("delivery_tag", conf.DeliveryTag),
					zap.Uint64("expected", tag),
				)
				continue
			}
			if conf.DeliveryTag > tag {
				return fmt.Errorf("publish to %s: confirm %d skipped past publish %d", destination, conf.DeliveryTag, tag)
			}
			if !conf.Ack {
				return fmt.Errorf("publish to %s: %w", destination, ErrPublishNacked)
			}
			b.logger.Debug("Message published",
				zap.String("destination", destination),
				zap.String("expiration", pub.Expiration),
				zap.Uint64("delivery_tag", tag),
			)
			return nil
		case <-timer.C:
			return fmt.Errorf("publish to %s: confirm timed out after %s", destination, b.cfg.PublishTimeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Reset closes the current channels and opens new ones. Unacked deliveries
// of the old session are requeued by the broker.
func (b *Broker) Reset(ctx context.Context) error {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()

	b.mu.Lock()
	old := b.current
	b.mu.Unlock()
	closeSession(old)

	s, err := b.open()
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.current = s
	b.inflight = make(map[*models.Message]inflightDelivery)
	b.mu.Unlock()

	b.logger.Info("RabbitMQ session reset")
	return nil
}

// HealthCheck checks the connection and the binding's queues.
func (b *Broker) HealthCheck(ctx context.Context) error {
	return b.conn.HealthCheck(ctx, b.cfg.Topology.Queues()...)
}

func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	closeSession(b.current)
	return nil
}

func closeSession(s *session) {
	if s == nil {
		return
	}
	s.consume.Close()
	s.publish.Close()
}
