package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go-retry-consumer/internal/config"
	"go-retry-consumer/internal/health"
	"go-retry-consumer/internal/kafka"
	"go-retry-consumer/internal/observability"
	"go-retry-consumer/internal/pipeline"
	"go-retry-consumer/internal/rabbitmq"
	"go-retry-consumer/internal/service"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
)

// runner is the part of a pipeline main needs.
type runner interface {
	Run(ctx context.Context) error
}

func main() {
	serviceName := flag.String("service", "", "service name, used as the consumer group id when set")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		observability.GetLogger().WithError(err).Fatal("Failed to load configuration")
	}
	if *serviceName != "" {
		cfg.Kafka.GroupID = *serviceName
	}

	observability.InitLogger(cfg.Logging.Level)
	logger := observability.GetLogger()

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("Consumer stopped with a fatal error")
		os.Exit(1)
	}
	logger.Info("Consumer stopped")
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	zapLogger, err := observability.NewZapLogger(cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("failed to build zap logger: %w", err)
	}
	defer zapLogger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bindings, err := cfg.Bindings()
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	metrics := observability.NewPrometheusMetrics(registry)

	checkers := make(map[string]health.Checker)
	var closers []io.Closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				logger.WithError(err).Warn("Failed to close resource")
			}
		}
	}()

	var brokerFor func(b pipeline.Config) (pipeline.Broker, error)
	switch cfg.Broker {
	case config.BrokerKafka:
		brokerFor, err = setupKafka(ctx, cfg, zapLogger, checkers, &closers)
	case config.BrokerRabbitMQ:
		brokerFor, err = setupRabbitMQ(cfg, zapLogger, checkers, &closers)
	default:
		err = fmt.Errorf("unsupported broker %q", cfg.Broker)
	}
	if err != nil {
		return err
	}

	handler := newHandler()

	var dedupe pipeline.DedupeStore
	if cfg.Consumer.DedupeTTL > 0 {
		store := pipeline.NewInMemoryDedupeStore(cfg.Consumer.DedupeTTL, nil)
		go store.RunCleanup(ctx, time.Minute)
		dedupe = store
	}

	runners := make(map[string]runner, len(bindings))
	for _, b := range bindings {
		broker, err := brokerFor(b)
		if err != nil {
			return fmt.Errorf("binding %s: %w", b.Binding, err)
		}

		opts := []pipeline.Option{
			pipeline.WithLogger(logger),
			pipeline.WithMetrics(metrics.Binding(b.Binding)),
		}
		if dedupe != nil {
			opts = append(opts, pipeline.WithDedupeStore(dedupe))
		}

		p, err := pipeline.New(b, broker, handler, opts...)
		if err != nil {
			return fmt.Errorf("binding %s: %w", b.Binding, err)
		}
		runners[b.Binding] = p
		checkers["pipeline:"+b.Binding] = pipelineChecker(p)
	}

	server := health.NewServer(
		cfg.HTTP.Addr,
		health.NewRouter(checkers, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), 5*time.Second, logger),
		logger,
	)
	serverCtx, stopServer := context.WithCancel(context.Background())
	defer stopServer()
	go func() {
		if err := server.Run(serverCtx); err != nil {
			logger.WithError(err).Error("Health server failed")
		}
	}()

	logger.WithFields(logrus.Fields{
		"broker":   cfg.Broker,
		"bindings": len(runners),
	}).Info("Starting consumer")

	return runPipelines(ctx, runners, logger)
}

// runPipelines runs every pipeline concurrently. The first fatal error
// cancels the others and is returned once all have stopped.
func runPipelines(ctx context.Context, runners map[string]runner, logger logrus.FieldLogger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	for name, r := range runners {
		wg.Add(1)
		go func(name string, r runner) {
			defer wg.Done()
			if err := r.Run(ctx); err != nil {
				once.Do(func() {
					firstErr = err
					logger.WithError(err).WithField("binding", name).Error("Pipeline failed, stopping all bindings")
					cancel()
				})
			}
		}(name, r)
	}
	wg.Wait()
	return firstErr
}

func pipelineChecker(p *pipeline.Pipeline) health.Checker {
	return health.CheckerFunc(func(ctx context.Context) error {
		switch s := p.State(); s {
		case pipeline.StateRecovering, pipeline.StateStopped:
			return fmt.Errorf("pipeline is %s", s)
		}
		return nil
	})
}

func newHandler() pipeline.Handler {
	processor := pipeline.ErrorHandler(service.NewMessageProcessor(service.NewInMemoryOrderStore()).Process)
	return service.NewRouter(map[string]pipeline.Handler{
		"order_created":   processor,
		"order_updated":   processor,
		"order_cancelled": processor,
	}, processor)
}

func setupKafka(ctx context.Context, cfg *config.Config, zapLogger *zap.Logger, checkers map[string]health.Checker, closers *[]io.Closer) (func(pipeline.Config) (pipeline.Broker, error), error) {
	destinations := cfg.Destinations()

	if cfg.Kafka.EnsureTopics {
		admin, err := kafka.NewAdmin(kafka.TopicAdminConfig{
			Brokers:           cfg.Kafka.Brokers,
			ClientID:          cfg.Kafka.GroupID,
			Partitions:        int32(cfg.Kafka.TopicPartitions),
			ReplicationFactor: int16(cfg.Kafka.ReplicationFactor),
			Retention:         cfg.Kafka.TopicRetention,
			Logger:            zapLogger,
		})
		if err != nil {
			return nil, err
		}
		err = ensureTopics(admin, cfg.Kafka.ReplicationFactor, destinations, zapLogger)
		admin.Close()
		if err != nil {
			return nil, err
		}
	}

	client := kafka.NewClient(cfg.Kafka.Brokers, destinations, zapLogger)
	if err := client.WaitReady(ctx, cfg.Kafka.ReadyAttempts); err != nil {
		return nil, err
	}
	checkers["kafka"] = client

	producer := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:    cfg.Kafka.Brokers,
		Acks:       cfg.Producer.Acks,
		Retries:    cfg.Producer.Retries,
		Idempotent: cfg.Producer.Idempotent,
		Logger:     zapLogger,
	})
	*closers = append(*closers, producer)

	return func(b pipeline.Config) (pipeline.Broker, error) {
		src, err := kafka.NewSource(kafka.SourceConfig{
			Brokers:       cfg.Kafka.Brokers,
			Topic:         b.Binding,
			GroupID:       cfg.Kafka.GroupID,
			FetchMinBytes: cfg.Kafka.FetchMinBytes,
			FetchMaxBytes: cfg.Kafka.FetchMaxBytes,
			Logger:        zapLogger,
		}, producer)
		if err != nil {
			return nil, err
		}
		*closers = append(*closers, src)
		return src, nil
	}, nil
}

// topicAdmin is the part of kafka.Admin used for provisioning.
type topicAdmin interface {
	ClusterSize() (int, int32, error)
	EnsureTopics(topics ...string) error
}

func ensureTopics(admin topicAdmin, replicationFactor int, topics []string, logger *zap.Logger) error {
	brokers, controller, err := admin.ClusterSize()
	if err != nil {
		return err
	}
	logger.Info("Kafka cluster described", zap.Int("brokers", brokers), zap.Int32("controller", controller))
	if brokers < replicationFactor {
		return fmt.Errorf("replication factor %d exceeds live brokers %d", replicationFactor, brokers)
	}
	return admin.EnsureTopics(topics...)
}

func setupRabbitMQ(cfg *config.Config, zapLogger *zap.Logger, checkers map[string]health.Checker, closers *[]io.Closer) (func(pipeline.Config) (pipeline.Broker, error), error) {
	conn, err := rabbitmq.Dial(cfg.RabbitMQ.URL, zapLogger)
	if err != nil {
		return nil, err
	}
	*closers = append(*closers, conn)

	return func(b pipeline.Config) (pipeline.Broker, error) {
		broker, err := rabbitmq.NewBroker(conn, rabbitmq.BrokerConfig{
			Topology: rabbitmq.Topology{
				Queue:           b.Binding,
				RetryQueue:      b.RetryDestination,
				DeadLetterQueue: b.DeadLetterDestination,
			},
			PrefetchCount:  cfg.RabbitMQ.PrefetchCount,
			ConsumerTag:    cfg.RabbitMQ.ConsumerTag,
			PublishTimeout: cfg.RabbitMQ.PublishTimeout,
			Logger:         zapLogger,
		})
		if err != nil {
			return nil, err
		}
		if _, ok := checkers["rabbitmq:"+b.Binding]; ok {
			return nil, errors.New("duplicate binding")
		}
		checkers["rabbitmq:"+b.Binding] = broker
		*closers = append(*closers, broker)
		return broker, nil
	}, nil
}
