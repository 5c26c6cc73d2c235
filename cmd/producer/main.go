package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go-retry-consumer/internal/config"
	"go-retry-consumer/internal/kafka"
	"go-retry-consumer/internal/observability"
	"go-retry-consumer/pkg/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

func main() {
	topic := flag.String("topic", "", "destination topic, defaults to KAFKA_PRODUCER_TOPIC")
	count := flag.Int("count", 1, "number of order events to send")
	eventType := flag.String("event-type", "order_created", "value of the event-type header")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		observability.GetLogger().WithError(err).Fatal("Failed to load configuration")
	}
	observability.InitLogger(cfg.Logging.Level)
	logger := observability.GetLogger()

	if *topic == "" {
		*topic = cfg.Producer.Topic
	}

	zapLogger, err := observability.NewZapLogger(cfg.Logging.Level)
	if err != nil {
		logger.WithError(err).Fatal("Failed to build zap logger")
	}
	defer zapLogger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	producer := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:     cfg.Kafka.Brokers,
		Acks:        cfg.Producer.Acks,
		Retries:     cfg.Producer.Retries,
		Idempotent:  cfg.Producer.Idempotent,
		MaxRetries:  5,
		BaseBackoff: time.Second,
		MaxBackoff:  30 * time.Second,
		Logger:      zapLogger,
	})
	defer producer.Close()

	for i := 0; i < *count; i++ {
		msg, err := newOrderMessage(*eventType, i, time.Now())
		if err != nil {
			logger.WithError(err).Fatal("Failed to build message")
		}
		if err := producer.Publish(ctx, *topic, msg); err != nil {
			logger.WithError(err).Error("Failed to send message")
			os.Exit(1)
		}
		logger.WithFields(logrus.Fields{
			"topic":      *topic,
			"key":        string(msg.Key),
			"event_type": *eventType,
		}).Info("Send message to kafka success")
	}
}

// newOrderMessage builds a sample order event keyed by its order id.
func newOrderMessage(eventType string, seq int, now time.Time) (*models.Message, error) {
	order := models.OrderEvent{
		EventType:  eventType,
		Timestamp:  now.UTC().Format(time.RFC3339Nano),
		OrderID:    fmt.Sprintf("ORD-%s-%06d", now.UTC().Format("2006"), seq+1),
		CustomerID: "CUST-567890",
		Items: []models.OrderItem{
			{ProductID: "PROD-111", Name: "iPhone 15 Pro", Quantity: 1, Price: 42900.00},
			{ProductID: "PROD-222", Name: "AirPods Pro", Quantity: 1, Price: 8990.00},
		},
		TotalAmount: "51890.00",
		Currency:    "THB",
		ShippingAddress: models.Address{
			Province:   "Bangkok",
			District:   "Chatuchak",
			PostalCode: "10900",
		},
		PaymentMethod: "credit_card",
		Status:        "pending",
	}

	value, err := json.Marshal(order)
	if err != nil {
		return nil, err
	}

	return &models.Message{
		Key:   []byte(order.OrderID),
		Value: value,
		Headers: map[string][]byte{
			models.HeaderMessageID: []byte(uuid.NewString()),
			models.HeaderEventType: []byte(eventType),
		},
		Timestamp: now,
	}, nil
}
