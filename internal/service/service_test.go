package service

import (
	"context"
	"errors"
	"sort"
	"testing"

	"go-retry-consumer/internal/pipeline"
	"go-retry-consumer/pkg/models"
	"go-retry-consumer/pkg/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validOrder = `{
	"event_type": "order_created",
	"order_id": "ORD-2025-001234",
	"customer_id": "CUST-567890",
	"items": [{"product_id": "PROD-111", "name": "iPhone 15 Pro", "quantity": 1, "price": 42900.00}],
	"total_amount": "42900.00",
	"currency": "THB"
}`

type failingStore struct{}

func (failingStore) SaveOrder(ctx context.Context, order *models.OrderEvent) error {
	return errors.New("connection reset by peer")
}

func orderMessage(value, eventType string) *models.Message {
	headers := map[string][]byte{models.HeaderMessageID: []byte("msg-1")}
	if eventType != "" {
		headers[models.HeaderEventType] = []byte(eventType)
	}
	return &models.Message{Key: []byte("ORD-2025-001234"), Value: []byte(value), Headers: headers}
}

func TestMessageProcessor_Process(t *testing.T) {
	store := NewInMemoryOrderStore()
	p := NewMessageProcessor(store)

	require.NoError(t, p.Process(context.Background(), orderMessage(validOrder, "")))

	order, ok := store.Get("ORD-2025-001234")
	require.True(t, ok)
	assert.Equal(t, "CUST-567890", order.CustomerID)
	assert.Len(t, order.Items, 1)
}

func TestMessageProcessor_Failures(t *testing.T) {
	tests := []struct {
		name          string
		value         string
		store         OrderStore
		wantPermanent bool
	}{
		{"invalid json", `{not json`, nil, true},
		{"missing order id", `{"customer_id":"C1"}`, nil, true},
		{"missing customer id", `{"order_id":"O1"}`, nil, true},
		{"zero quantity", `{"order_id":"O1","customer_id":"C1","items":[{"quantity":0}]}`, nil, true},
		{"store failure", validOrder, failingStore{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewMessageProcessor(tt.store)
			err := p.Process(context.Background(), orderMessage(tt.value, ""))
			require.Error(t, err)
			assert.Equal(t, tt.wantPermanent, retry.IsPermanent(err))
			assert.Equal(t, !tt.wantPermanent, retry.IsRetryable(err))
		})
	}
}

func TestMessageProcessor_AsPipelineHandler(t *testing.T) {
	h := pipeline.ErrorHandler(NewMessageProcessor(failingStore{}).Process)

	outcome := h.Handle(context.Background(), orderMessage(validOrder, ""), 0)
	assert.Equal(t, retry.OutcomeRetry, outcome.Kind())

	outcome = h.Handle(context.Background(), orderMessage(`garbage`, ""), 0)
	assert.Equal(t, retry.OutcomeDeadLetter, outcome.Kind())
}

func TestRouter_Dispatch(t *testing.T) {
	var got []string
	record := func(name string) pipeline.Handler {
		return pipeline.HandlerFunc(func(ctx context.Context, msg *models.Message, retryCount int) retry.Outcome {
			got = append(got, name)
			return retry.Processed()
		})
	}

	r := NewRouter(map[string]pipeline.Handler{
		"order_created":   record("created"),
		"order_cancelled": record("cancelled"),
	}, record("fallback"))

	ctx := context.Background()
	r.Handle(ctx, orderMessage(validOrder, "order_created"), 0)
	r.Handle(ctx, orderMessage(validOrder, "order_cancelled"), 0)
	r.Handle(ctx, orderMessage(validOrder, "order_shipped"), 0)
	r.Handle(ctx, orderMessage(validOrder, ""), 0)

	assert.Equal(t, []string{"created", "cancelled", "fallback", "fallback"}, got)

	types := r.EventTypes()
	sort.Strings(types)
	assert.Equal(t, []string{"order_cancelled", "order_created"}, types)
}

func TestRouter_UnknownTypeWithoutFallback(t *testing.T) {
	r := NewRouter(map[string]pipeline.Handler{}, nil)

	outcome := r.Handle(context.Background(), orderMessage(validOrder, "order_shipped"), 0)

	assert.Equal(t, retry.OutcomeDeadLetter, outcome.Kind())
	assert.Contains(t, outcome.Reason().Error(), "order_shipped")
}

func TestRouter_PassesRetryCount(t *testing.T) {
	var seen int
	r := NewRouter(map[string]pipeline.Handler{
		"order_created": pipeline.HandlerFunc(func(ctx context.Context, msg *models.Message, retryCount int) retry.Outcome {
			seen = retryCount
			return retry.Processed()
		}),
	}, nil)

	r.Handle(context.Background(), orderMessage(validOrder, "order_created"), 2)
	assert.Equal(t, 2, seen)
}
