package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"go-retry-consumer/internal/pipeline"
	"go-retry-consumer/pkg/models"
	"go-retry-consumer/pkg/retry"

	"github.com/sirupsen/logrus/hooks/test"
	"go.uber.org/zap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAdmin struct {
	brokers int
	created []string
}

func (f *fakeAdmin) ClusterSize() (int, int32, error) { return f.brokers, 1, nil }

func (f *fakeAdmin) EnsureTopics(topics ...string) error {
	f.created = append(f.created, topics...)
	return nil
}

func TestEnsureTopics(t *testing.T) {
	admin := &fakeAdmin{brokers: 3}
	require.NoError(t, ensureTopics(admin, 3, []string{"orders", "orders-retry", "orders-dlq"}, zap.NewNop()))
	assert.Equal(t, []string{"orders", "orders-retry", "orders-dlq"}, admin.created)

	small := &fakeAdmin{brokers: 1}
	err := ensureTopics(small, 3, []string{"orders"}, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds live brokers")
	assert.Empty(t, small.created)
}

type runnerFunc func(ctx context.Context) error

func (f runnerFunc) Run(ctx context.Context) error { return f(ctx) }

func blockUntilCancelled(stopped chan<- string, name string) runner {
	return runnerFunc(func(ctx context.Context) error {
		<-ctx.Done()
		stopped <- name
		return nil
	})
}

func TestRunPipelines_FatalCancelsOthers(t *testing.T) {
	logger, _ := test.NewNullLogger()
	stopped := make(chan string, 2)
	fatal := &pipeline.FatalError{Binding: "payments", Attempts: 5, Err: errors.New("broker unavailable")}

	err := runPipelines(context.Background(), map[string]runner{
		"orders":       blockUntilCancelled(stopped, "orders"),
		"orders-retry": blockUntilCancelled(stopped, "orders-retry"),
		"payments": runnerFunc(func(ctx context.Context) error {
			return fatal
		}),
	}, logger)

	require.Error(t, err)
	assert.True(t, pipeline.IsFatal(err))
	assert.Len(t, stopped, 2)
}

func TestRunPipelines_CleanShutdown(t *testing.T) {
	logger, _ := test.NewNullLogger()
	stopped := make(chan string, 2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- runPipelines(ctx, map[string]runner{
			"orders":   blockUntilCancelled(stopped, "orders"),
			"payments": blockUntilCancelled(stopped, "payments"),
		}, logger)
	}()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("pipelines did not stop")
	}
	assert.Len(t, stopped, 2)
}

func TestPipelineChecker(t *testing.T) {
	broker := pipeline.NewMockBroker()
	cfg := pipeline.DefaultConfig("orders")
	cfg.RetryDestination = "orders-retry"

	p, err := pipeline.New(cfg, broker, pipeline.HandlerFunc(func(ctx context.Context, msg *models.Message, retryCount int) retry.Outcome {
		return retry.Processed()
	}))
	require.NoError(t, err)

	checker := pipelineChecker(p)
	assert.NoError(t, checker.HealthCheck(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, p.Run(ctx))

	err = checker.HealthCheck(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stopped")
}

func TestNewHandler_RoutesUnknownTypesToProcessor(t *testing.T) {
	h := newHandler()

	msg := &models.Message{
		Value: []byte(`{"order_id":"ORD-1","customer_id":"CUST-1"}`),
		Headers: map[string][]byte{
			models.HeaderEventType: []byte("order_shipped"),
		},
	}
	assert.Equal(t, retry.OutcomeProcessed, h.Handle(context.Background(), msg, 0).Kind())

	msg.Value = []byte("not json")
	assert.Equal(t, retry.OutcomeDeadLetter, h.Handle(context.Background(), msg, 0).Kind())
}
