package rabbitmq

import (
	"errors"
	"sync"

	"github.com/streadway/amqp"
)

// MockChannel is an in-memory Channel for testing
type MockChannel struct {
	mu         sync.Mutex
	declared   map[string]amqp.Table
	existing   map[string]bool
	deliveries chan amqp.Delivery
	confirms   chan amqp.Confirmation
	published  []MockPublishing
	acked      []uint64
	closed     bool

	NackPublishes bool
	HoldConfirms  bool
	PublishErr    error
	AckErr        error
}

type MockPublishing struct {
	Exchange   string
	Key        string
	Publishing amqp.Publishing
}

func NewMockChannel(existingQueues ...string) *MockChannel {
	ch := &MockChannel{
		declared:   make(map[string]amqp.Table),
		existing:   make(map[string]bool),
		deliveries: make(chan amqp.Delivery, 64),
	}
	for _, q := range existingQueues {
		ch.existing[q] = true
	}
	return ch
}

// Deliver queues a delivery for the consumer.
func (c *MockChannel) Deliver(d amqp.Delivery) {
	c.deliveries <- d
}

func (c *MockChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	return nil
}

func (c *MockChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.declared[name] = args
	c.existing[name] = true
	return amqp.Queue{Name: name}, nil
}

func (c *MockChannel) QueueDeclarePassive(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.existing[name] {
		return amqp.Queue{}, &amqp.Error{Code: amqp.NotFound, Reason: "NOT_FOUND - no queue '" + name + "'"}
	}
	return amqp.Queue{Name: name}, nil
}

func (c *MockChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	return c.deliveries, nil
}

func (c *MockChannel) Confirm(noWait bool) error {
	return nil
}

func (c *MockChannel) NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.confirms = confirm
	return confirm
}

func (c *MockChannel) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return amqp.ErrClosed
	}
	if c.PublishErr != nil {
		return c.PublishErr
	}
	c.published = append(c.published, MockPublishing{Exchange: exchange, Key: key, Publishing: msg})
	if c.confirms != nil && !c.HoldConfirms {
		c.confirms <- amqp.Confirmation{DeliveryTag: uint64(len(c.published)), Ack: !c.NackPublishes}
	}
	return nil
}

// SendConfirm delivers conf to the registered confirm listener, as a broker
// confirm arriving after its publisher gave up.
func (c *MockChannel) SendConfirm(conf amqp.Confirmation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.confirms <- conf
}

func (c *MockChannel) Ack(tag uint64, multiple bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.AckErr != nil {
		return c.AckErr
	}
	c.acked = append(c.acked, tag)
	return nil
}

func (c *MockChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.deliveries)
	}
	return nil
}

func (c *MockChannel) Published() []MockPublishing {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]MockPublishing, len(c.published))
	copy(out, c.published)
	return out
}

func (c *MockChannel) Acked() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]uint64, len(c.acked))
	copy(out, c.acked)
	return out
}

func (c *MockChannel) Declared() map[string]amqp.Table {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]amqp.Table, len(c.declared))
	for k, v := range c.declared {
		out[k] = v
	}
	return out
}

func (c *MockChannel) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// MockConn hands out channels from a queue, or fresh ones when empty.
type MockConn struct {
	mu       sync.Mutex
	channels []*MockChannel
	opened   []*MockChannel
	closed   bool

	ChannelErr error
}

func NewMockConn(channels ...*MockChannel) *MockConn {
	return &MockConn{channels: channels}
}

func (c *MockConn) Channel() (Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, amqp.ErrClosed
	}
	if c.ChannelErr != nil {
		return nil, c.ChannelErr
	}

	var ch *MockChannel
	if len(c.channels) > 0 {
		ch, c.channels = c.channels[0], c.channels[1:]
	} else {
		ch = NewMockChannel()
	}
	c.opened = append(c.opened, ch)
	return ch, nil
}

func (c *MockConn) Opened() []*MockChannel {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*MockChannel, len(c.opened))
	copy(out, c.opened)
	return out
}

func (c *MockConn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *MockConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("already closed")
	}
	c.closed = true
	return nil
}

// Drop simulates a lost connection.
func (c *MockConn) Drop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}
