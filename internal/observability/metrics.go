package observability

import (
	"sync/atomic"
	"time"
)

// MetricsCollector provides hooks for metrics collection
// Can be implemented to integrate with Prometheus, StatsD, etc.
type MetricsCollector interface {
	IncPublished()
	IncPublishFailed()
	IncReceived()
	IncProcessed()
	IncFailed()
	IncRetried()
	IncSentToDLQ()
	IncDropped()
	IncDeferred()
	IncDuplicate()
	IncRecovery()
	ObserveHandlerDuration(d time.Duration)
}

// InMemoryMetrics is a simple in-memory implementation for testing/demo
type InMemoryMetrics struct {
	Published     atomic.Int64
	PublishFailed atomic.Int64
	Received      atomic.Int64
	Processed     atomic.Int64
	Failed        atomic.Int64
	Retried       atomic.Int64
	SentToDLQ     atomic.Int64
	Dropped       atomic.Int64
	Deferred      atomic.Int64
	Duplicates    atomic.Int64
	Recoveries    atomic.Int64
	HandlerNanos  atomic.Int64
}

func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{}
}

func (m *InMemoryMetrics) IncPublished() {
	m.Published.Add(1)
}

func (m *InMemoryMetrics) IncPublishFailed() {
	m.PublishFailed.Add(1)
}

func (m *InMemoryMetrics) IncReceived() {
	m.Received.Add(1)
}

func (m *InMemoryMetrics) IncProcessed() {
	m.Processed.Add(1)
}

func (m *InMemoryMetrics) IncFailed() {
	m.Failed.Add(1)
}

func (m *InMemoryMetrics) IncRetried() {
	m.Retried.Add(1)
}

func (m *InMemoryMetrics) IncSentToDLQ() {
	m.SentToDLQ.Add(1)
}

func (m *InMemoryMetrics) IncDropped() {
	m.Dropped.Add(1)
}

func (m *InMemoryMetrics) IncDeferred() {
	m.Deferred.Add(1)
}

func (m *InMemoryMetrics) IncDuplicate() {
	m.Duplicates.Add(1)
}

func (m *InMemoryMetrics) IncRecovery() {
	m.Recoveries.Add(1)
}

func (m *InMemoryMetrics) ObserveHandlerDuration(d time.Duration) {
	m.HandlerNanos.Add(int64(d))
}

func (m *InMemoryMetrics) GetPublished() int64 {
	return m.Published.Load()
}

func (m *InMemoryMetrics) GetPublishFailed() int64 {
	return m.PublishFailed.Load()
}

func (m *InMemoryMetrics) GetReceived() int64 {
	return m.Received.Load()
}

func (m *InMemoryMetrics) GetProcessed() int64 {
	return m.Processed.Load()
}

func (m *InMemoryMetrics) GetFailed() int64 {
	return m.Failed.Load()
}

func (m *InMemoryMetrics) GetRetried() int64 {
	return m.Retried.Load()
}

func (m *InMemoryMetrics) GetSentToDLQ() int64 {
	return m.SentToDLQ.Load()
}

func (m *InMemoryMetrics) GetDropped() int64 {
	return m.Dropped.Load()
}

func (m *InMemoryMetrics) GetDeferred() int64 {
	return m.Deferred.Load()
}

func (m *InMemoryMetrics) GetDuplicates() int64 {
	return m.Duplicates.Load()
}

func (m *InMemoryMetrics) GetRecoveries() int64 {
	return m.Recoveries.Load()
}
