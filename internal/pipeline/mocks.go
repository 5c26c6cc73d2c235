package pipeline

import (
	"context"
	"fmt"
	"sync"

	"go-retry-consumer/pkg/models"
)

// MockBroker is a mock implementation of Broker for testing
type MockBroker struct {
	mu        sync.Mutex
	queue     chan *models.Message
	acked     []*models.Message
	published []PublishedMessage
	events    []string
	resets    int

	FetchFunc   func(ctx context.Context) (*models.Message, error)
	AckFunc     func(ctx context.Context, msg *models.Message) error
	PublishFunc func(ctx context.Context, destination string, msg *models.Message) error
	ResetFunc   func(ctx context.Context) error
}

type PublishedMessage struct {
	Destination string
	Message     *models.Message
}

func NewMockBroker(msgs ...*models.Message) *MockBroker {
	m := &MockBroker{queue: make(chan *models.Message, 1024)}
	for _, msg := range msgs {
		m.queue <- msg
	}
	return m
}

// Push queues a message for a later Fetch.
func (m *MockBroker) Push(msg *models.Message) {
	m.queue <- msg
}

func (m *MockBroker) Fetch(ctx context.Context) (*models.Message, error) {
	if m.FetchFunc != nil {
		return m.FetchFunc(ctx)
	}
	select {
	case msg := <-m.queue:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *MockBroker) Ack(ctx context.Context, msg *models.Message) error {
	if m.AckFunc != nil {
		if err := m.AckFunc(ctx, msg); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.acked = append(m.acked, msg)
	m.events = append(m.events, fmt.Sprintf("ack:%s", msg.Key))
	return nil
}

func (m *MockBroker) Publish(ctx context.Context, destination string, msg *models.Message) error {
	if m.PublishFunc != nil {
		if err := m.PublishFunc(ctx, destination, msg); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, PublishedMessage{Destination: destination, Message: msg})
	m.events = append(m.events, fmt.Sprintf("publish:%s:%s", destination, msg.Key))
	return nil
}

func (m *MockBroker) Reset(ctx context.Context) error {
	m.mu.Lock()
	m.resets++
	m.mu.Unlock()
	if m.ResetFunc != nil {
		return m.ResetFunc(ctx)
	}
	return nil
}

func (m *MockBroker) Acked() []*models.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Message, len(m.acked))
	copy(out, m.acked)
	return out
}

func (m *MockBroker) Published() []PublishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PublishedMessage, len(m.published))
	copy(out, m.published)
	return out
}

// Events returns publish and ack calls in the order they succeeded.
func (m *MockBroker) Events() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	copy(out, m.events)
	return out
}

func (m *MockBroker) Resets() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resets
}

// MockDedupeStore is a mock implementation of DedupeStore for testing
type MockDedupeStore struct {
	mu          sync.RWMutex
	ExistsFunc  func(messageID string) bool
	AddFunc     func(messageID string) error
	existingIDs map[string]bool
}

func NewMockDedupeStore() *MockDedupeStore {
	return &MockDedupeStore{
		existingIDs: make(map[string]bool),
	}
}

func (m *MockDedupeStore) Exists(messageID string) bool {
	if m.ExistsFunc != nil {
		return m.ExistsFunc(messageID)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.existingIDs[messageID]
}

func (m *MockDedupeStore) Add(messageID string) error {
	if m.AddFunc != nil {
		return m.AddFunc(messageID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.existingIDs[messageID] = true
	return nil
}

func (m *MockDedupeStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.existingIDs = make(map[string]bool)
}
