package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ok(ctx context.Context) error { return nil }

func serve(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRouter_Healthz(t *testing.T) {
	logger, _ := test.NewNullLogger()
	router := NewRouter(nil, nil, time.Second, logger)

	w := serve(t, router, "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
}

func TestRouter_ReadyzAllHealthy(t *testing.T) {
	logger, _ := test.NewNullLogger()
	router := NewRouter(map[string]Checker{
		"kafka":    CheckerFunc(ok),
		"pipeline": CheckerFunc(ok),
	}, nil, time.Second, logger)

	w := serve(t, router, "/readyz")
	assert.Equal(t, http.StatusOK, w.Code)

	var body readiness
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, map[string]string{"kafka": "ok", "pipeline": "ok"}, body.Checks)
}

func TestRouter_ReadyzFailure(t *testing.T) {
	logger, hook := test.NewNullLogger()
	router := NewRouter(map[string]Checker{
		"kafka": CheckerFunc(ok),
		"rabbitmq": CheckerFunc(func(ctx context.Context) error {
			return errors.New("queue orders.dlq unavailable")
		}),
	}, nil, time.Second, logger)

	w := serve(t, router, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body readiness
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "unavailable", body.Status)
	assert.Equal(t, "ok", body.Checks["kafka"])
	assert.Equal(t, "queue orders.dlq unavailable", body.Checks["rabbitmq"])
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "Readiness check failed", hook.LastEntry().Message)
}

func TestRouter_ReadyzTimeout(t *testing.T) {
	logger, _ := test.NewNullLogger()
	router := NewRouter(map[string]Checker{
		"slow": CheckerFunc(func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}),
	}, nil, 10*time.Millisecond, logger)

	w := serve(t, router, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "deadline exceeded")
}

func TestRouter_Metrics(t *testing.T) {
	logger, _ := test.NewNullLogger()
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	router := NewRouter(nil, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), time.Second, logger)

	w := serve(t, router, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "test_total 1")

	w = serve(t, NewRouter(nil, nil, time.Second, logger), "/metrics")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_RunStopsOnCancel(t *testing.T) {
	logger, _ := test.NewNullLogger()
	srv := NewServer("127.0.0.1:0", NewRouter(nil, nil, time.Second, logger), logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
