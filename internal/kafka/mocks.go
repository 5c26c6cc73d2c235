package kafka

import (
	"context"
	"fmt"
	"sync"

	"go-retry-consumer/pkg/models"

	kafka "github.com/segmentio/kafka-go"
)

// MockProducer is a mock implementation of Publisher for testing
type MockProducer struct {
	mu                sync.RWMutex
	PublishedMessages []PublishedMessage
	PublishFunc       func(ctx context.Context, topic string, msg *models.Message) error
	FailCount         int
	failureCounter    int
}

type PublishedMessage struct {
	Topic   string
	Message *models.Message
}

func NewMockProducer() *MockProducer {
	return &MockProducer{
		PublishedMessages: make([]PublishedMessage, 0),
	}
}

func (m *MockProducer) Publish(ctx context.Context, topic string, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, topic, msg)
	}

	// Simulate failures for testing retry logic
	if m.FailCount > 0 {
		m.failureCounter++
		if m.failureCounter <= m.FailCount {
			return fmt.Errorf("simulated publish failure %d", m.failureCounter)
		}
	}

	m.PublishedMessages = append(m.PublishedMessages, PublishedMessage{Topic: topic, Message: msg})
	return nil
}

func (m *MockProducer) GetPublishedMessages() []PublishedMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()

	messages := make([]PublishedMessage, len(m.PublishedMessages))
	copy(messages, m.PublishedMessages)
	return messages
}

// mockWriter records writes and fails the first failCount calls.
type mockWriter struct {
	mu        sync.Mutex
	failCount int
	calls     int
	written   []kafka.Message
	closed    bool
}

func (w *mockWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.calls++
	if w.calls <= w.failCount {
		return fmt.Errorf("simulated write failure %d", w.calls)
	}
	w.written = append(w.written, msgs...)
	return nil
}

func (w *mockWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

// mockReader serves queued messages and records commits.
type mockReader struct {
	mu        sync.Mutex
	queue     chan kafka.Message
	committed []kafka.Message
	commitErr error
	closed    bool
}

func newMockReader(msgs ...kafka.Message) *mockReader {
	r := &mockReader{queue: make(chan kafka.Message, 64)}
	for _, m := range msgs {
		r.queue <- m
	}
	return r
}

func (r *mockReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.queue:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *mockReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.commitErr != nil {
		return r.commitErr
	}
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *mockReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *mockReader) Committed() []kafka.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]kafka.Message, len(r.committed))
	copy(out, r.committed)
	return out
}
