package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

// Channel is the subset of *amqp.Channel the broker uses.
type Channel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueDeclarePassive(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Confirm(noWait bool) error
	NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Ack(tag uint64, multiple bool) error
	Close() error
}

// Dialer opens an AMQP connection.
type Dialer func(url string) (Conn, error)

// Conn is an open AMQP connection.
type Conn interface {
	Channel() (Channel, error)
	IsClosed() bool
	Close() error
}

type amqpConn struct {
	*amqp.Connection
}

func (c amqpConn) Channel() (Channel, error) {
	return c.Connection.Channel()
}

// DialAMQP is the production Dialer.
func DialAMQP(url string) (Conn, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return amqpConn{conn}, nil
}

// Connection is shared by every binding of a process. Each binding opens its
// own channels on it. A closed connection is redialed on the next Channel
// call.
type Connection struct {
	url    string
	dial   Dialer
	logger *zap.Logger

	mu   sync.Mutex
	conn Conn
}

func Dial(url string, logger *zap.Logger) (*Connection, error) {
	return NewConnection(url, DialAMQP, logger)
}

func NewConnection(url string, dial Dialer, logger *zap.Logger) (*Connection, error) {
	if url == "" {
		return nil, errors.New("rabbitmq url cannot be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Connection{url: url, dial: dial, logger: logger}
	conn, err := dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	c.conn = conn
	return c, nil
}

// Channel opens a channel, redialing first if the connection was lost.
func (c *Connection) Channel() (Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || c.conn.IsClosed() {
		c.logger.Warn("RabbitMQ connection closed, redialing")
		conn, err := c.dial(c.url)
		if err != nil {
			return nil, fmt.Errorf("failed to reconnect to rabbitmq: %w", err)
		}
		c.conn = conn
		c.logger.Info("RabbitMQ connection re-established")
	}

	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	return ch, nil
}

// HealthCheck verifies the connection is open and every queue exists. The
// passive declares run on a throwaway channel because a missing queue closes
// the channel it was declared on.
func (c *Connection) HealthCheck(ctx context.Context, queues ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	closed := c.conn == nil || c.conn.IsClosed()
	c.mu.Unlock()
	if closed {
		return errors.New("rabbitmq connection is closed")
	}

	ch, err := c.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	for _, q := range queues {
		if _, err := ch.QueueDeclarePassive(q, true, false, false, false, nil); err != nil {
			return fmt.Errorf("queue %s unavailable: %w", q, err)
		}
	}
	return nil
}

func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || c.conn.IsClosed() {
		return nil
	}
	c.logger.Info("Closing RabbitMQ connection")
	return c.conn.Close()
}
