package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go-retry-consumer/internal/observability"
	"go-retry-consumer/pkg/models"
	"go-retry-consumer/pkg/retry"

	"github.com/sirupsen/logrus"
)

// OrderStore persists processed orders. A failing store is retried.
type OrderStore interface {
	SaveOrder(ctx context.Context, order *models.OrderEvent) error
}

// MessageProcessor handles business logic for processing messages
type MessageProcessor struct {
	logger *logrus.Logger
	store  OrderStore
}

func NewMessageProcessor(store OrderStore) *MessageProcessor {
	return &MessageProcessor{
		logger: observability.GetLogger(),
		store:  store,
	}
}

// Process decodes an order event and hands it to the store. Malformed or
// incomplete payloads are permanent failures; store errors are retryable.
func (p *MessageProcessor) Process(ctx context.Context, msg *models.Message) error {
	messageID, _ := msg.Header(models.HeaderMessageID)
	logger := p.logger.WithFields(logrus.Fields{
		"key":        string(msg.Key),
		"message_id": messageID,
	})
	logger.Info("Processing message")

	var order models.OrderEvent
	if err := json.Unmarshal(msg.Value, &order); err != nil {
		return &retry.PermanentError{Err: fmt.Errorf("failed to parse message: %w", err)}
	}
	if err := validateOrder(&order); err != nil {
		return &retry.PermanentError{Err: err}
	}

	if p.store != nil {
		if err := p.store.SaveOrder(ctx, &order); err != nil {
			return &retry.RetryableError{Err: fmt.Errorf("failed to save order %s: %w", order.OrderID, err)}
		}
	}

	logger.WithFields(logrus.Fields{
		"order_id": order.OrderID,
		"items":    len(order.Items),
	}).Debug("Message processed successfully")

	return nil
}

func validateOrder(order *models.OrderEvent) error {
	if order.OrderID == "" {
		return errors.New("order_id is required")
	}
	if order.CustomerID == "" {
		return errors.New("customer_id is required")
	}
	for i, item := range order.Items {
		if item.Quantity <= 0 {
			return fmt.Errorf("item %d: quantity must be positive", i)
		}
	}
	return nil
}
