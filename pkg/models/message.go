package models

import "time"

// Message represents a message pulled from a broker.
// Kafka fills Partition/Offset, RabbitMQ fills DeliveryTag.
type Message struct {
	Topic       string            `json:"topic"`
	Key         []byte            `json:"key"`
	Value       []byte            `json:"value"`
	Headers     map[string][]byte `json:"headers"`
	Partition   int               `json:"partition,omitempty"`
	Offset      int64             `json:"offset,omitempty"`
	DeliveryTag uint64            `json:"delivery_tag,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

// MessageHeader constants
const (
	HeaderMessageID        = "message-id"
	HeaderEventType        = "event-type"
	HeaderRetryCount       = "RetryCount"
	HeaderRetryAfter       = "RetryAfter"
	HeaderLegacyRetryAfter = "RetryAffter"
	HeaderOriginalTopic    = "original-topic"
	HeaderFailureReason    = "failure-reason"
	HeaderDeadLetteredAt   = "dead-lettered-at"
)

// Header returns the header value as a string.
func (m *Message) Header(name string) (string, bool) {
	if m == nil || m.Headers == nil {
		return "", false
	}
	v, ok := m.Headers[name]
	if !ok {
		return "", false
	}
	return string(v), true
}

// Clone returns a copy whose header map can be modified without touching m.
// Key and Value are shared.
func (m *Message) Clone() *Message {
	c := *m
	c.Headers = make(map[string][]byte, len(m.Headers))
	for k, v := range m.Headers {
		c.Headers[k] = v
	}
	return &c
}
