package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// Checker reports whether a dependency is usable.
type Checker interface {
	HealthCheck(ctx context.Context) error
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context) error

func (f CheckerFunc) HealthCheck(ctx context.Context) error {
	return f(ctx)
}

type readiness struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// NewRouter serves /healthz (liveness), /readyz (every checker within
// timeout) and /metrics when metrics is non-nil.
func NewRouter(checkers map[string]Checker, metrics http.Handler, timeout time.Duration, logger logrus.FieldLogger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.WithError(err).Error("Failed to write health check response")
		}
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		result := runChecks(ctx, checkers)
		status := http.StatusOK
		if result.Status != "ok" {
			status = http.StatusServiceUnavailable
			logger.WithField("checks", result.Checks).Warn("Readiness check failed")
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if err := json.NewEncoder(w).Encode(result); err != nil {
			logger.WithError(err).Error("Failed to write readiness response")
		}
	})

	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	return r
}

func runChecks(ctx context.Context, checkers map[string]Checker) readiness {
	names := make([]string, 0, len(checkers))
	for name := range checkers {
		names = append(names, name)
	}
	sort.Strings(names)

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	result := readiness{Status: "ok", Checks: make(map[string]string, len(names))}
	for _, name := range names {
		wg.Add(1)
		go func(name string, c Checker) {
			defer wg.Done()
			err := c.HealthCheck(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Status = "unavailable"
				result.Checks[name] = err.Error()
				return
			}
			result.Checks[name] = "ok"
		}(name, checkers[name])
	}
	wg.Wait()
	return result
}

// Server runs the health router until its context is cancelled.
type Server struct {
	srv    *http.Server
	logger logrus.FieldLogger
}

func NewServer(addr string, handler http.Handler, logger logrus.FieldLogger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", s.srv.Addr).Info("Health server listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.logger.Info("Shutting down health server")
	return s.srv.Shutdown(shutdownCtx)
}
