package service

import (
	"context"
	"fmt"
	"sync"

	"go-retry-consumer/internal/pipeline"
	"go-retry-consumer/pkg/models"
	"go-retry-consumer/pkg/retry"
)

// Router dispatches messages on their event-type header. The handler table
// is fixed at construction.
type Router struct {
	handlers map[string]pipeline.Handler
	fallback pipeline.Handler
}

// NewRouter copies handlers. fallback may be nil, in which case messages
// with an unknown or missing event type are dead-lettered.
func NewRouter(handlers map[string]pipeline.Handler, fallback pipeline.Handler) *Router {
	table := make(map[string]pipeline.Handler, len(handlers))
	for eventType, h := range handlers {
		table[eventType] = h
	}
	return &Router{handlers: table, fallback: fallback}
}

func (r *Router) Handle(ctx context.Context, msg *models.Message, retryCount int) retry.Outcome {
	eventType, _ := msg.Header(models.HeaderEventType)
	if h, ok := r.handlers[eventType]; ok {
		return h.Handle(ctx, msg, retryCount)
	}
	if r.fallback != nil {
		return r.fallback.Handle(ctx, msg, retryCount)
	}
	return retry.DeadLetter(fmt.Errorf("no handler for event type %q", eventType))
}

// EventTypes lists the registered event types.
func (r *Router) EventTypes() []string {
	out := make([]string, 0, len(r.handlers))
	for eventType := range r.handlers {
		out = append(out, eventType)
	}
	return out
}

// InMemoryOrderStore keeps orders keyed by id.
type InMemoryOrderStore struct {
	mu     sync.RWMutex
	orders map[string]models.OrderEvent
}

func NewInMemoryOrderStore() *InMemoryOrderStore {
	return &InMemoryOrderStore{orders: make(map[string]models.OrderEvent)}
}

func (s *InMemoryOrderStore) SaveOrder(ctx context.Context, order *models.OrderEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[order.OrderID] = *order
	return nil
}

func (s *InMemoryOrderStore) Get(orderID string) (models.OrderEvent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[orderID]
	return o, ok
}
