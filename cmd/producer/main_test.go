package main

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"go-retry-consumer/internal/service"
	"go-retry-consumer/pkg/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOrderMessage(t *testing.T) {
	now := time.Date(2025, 11, 7, 10, 30, 45, 0, time.UTC)

	msg, err := newOrderMessage("order_created", 41, now)
	require.NoError(t, err)

	assert.Equal(t, "ORD-2025-000042", string(msg.Key))
	eventType, ok := msg.Header(models.HeaderEventType)
	require.True(t, ok)
	assert.Equal(t, "order_created", eventType)

	id, ok := msg.Header(models.HeaderMessageID)
	require.True(t, ok)
	_, err = uuid.Parse(id)
	assert.NoError(t, err)

	_, hasRetry := msg.Header(models.HeaderRetryCount)
	assert.False(t, hasRetry)

	var order models.OrderEvent
	require.NoError(t, json.Unmarshal(msg.Value, &order))
	assert.Equal(t, "ORD-2025-000042", order.OrderID)
	assert.Len(t, order.Items, 2)
}

func TestNewOrderMessage_AcceptedByProcessor(t *testing.T) {
	store := service.NewInMemoryOrderStore()
	processor := service.NewMessageProcessor(store)

	msg, err := newOrderMessage("order_created", 0, time.Now())
	require.NoError(t, err)
	require.NoError(t, processor.Process(context.Background(), msg))

	_, ok := store.Get(string(msg.Key))
	assert.True(t, ok)
}
