package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go-retry-consumer/internal/observability"
	"go-retry-consumer/pkg/models"
	"go-retry-consumer/pkg/retry"

	"github.com/coder/quartz"
	"github.com/sirupsen/logrus"
)

// Pipeline consumes one binding: it fetches messages, runs the handler and
// routes failures to the retry or dead-letter destination. Transport faults
// end the current session and are retried by the recovery loop in Run.
type Pipeline struct {
	cfg       Config
	broker    Broker
	handler   Handler
	clock     quartz.Clock
	gate      *retry.DelayGate
	codec     *retry.Codec
	scheduler *retry.Scheduler
	logger    logrus.FieldLogger
	metrics   observability.MetricsCollector
	dedupe    DedupeStore
	onState   func(State)
	state     atomic.Int32
}

type Option func(*Pipeline)

// WithClock replaces the wall clock used for retry timestamps and delays.
func WithClock(clock quartz.Clock) Option {
	return func(p *Pipeline) { p.clock = clock }
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

func WithMetrics(metrics observability.MetricsCollector) Option {
	return func(p *Pipeline) { p.metrics = metrics }
}

// WithDedupeStore skips messages whose message-id was already processed.
func WithDedupeStore(store DedupeStore) Option {
	return func(p *Pipeline) { p.dedupe = store }
}

// WithStateListener is called on every state transition. It must not block.
func WithStateListener(fn func(State)) Option {
	return func(p *Pipeline) { p.onState = fn }
}

func New(cfg Config, broker Broker, handler Handler, opts ...Option) (*Pipeline, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}
	if broker == nil {
		return nil, errors.New("broker cannot be nil")
	}
	if handler == nil {
		return nil, errors.New("handler cannot be nil")
	}

	p := &Pipeline{
		cfg:     cfg,
		broker:  broker,
		handler: handler,
		clock:   quartz.NewReal(),
		logger:  observability.GetLogger(),
		metrics: observability.NewInMemoryMetrics(),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.logger = p.logger.WithField("binding", cfg.Binding)
	p.gate = retry.NewDelayGate(p.clock)
	p.codec = retry.NewCodec(cfg.WriteLegacyHeader, p.logger)
	p.scheduler = retry.NewScheduler(cfg.BaseRetryDelay, cfg.MaxRetryDelay, cfg.Backoff, p.codec)
	return p, nil
}

// Config returns the effective configuration, defaults applied.
func (p *Pipeline) Config() Config {
	return p.cfg
}

// State returns the most recent state entered by any worker.
func (p *Pipeline) State() State {
	return State(p.state.Load())
}

func (p *Pipeline) enter(s State) {
	p.state.Store(int32(s))
	if p.onState != nil {
		p.onState(s)
	}
}

// Run consumes until ctx is cancelled or recovery gives up.
//
// Cancellation is a clean stop and returns nil. A transport fault ends the
// session; Run waits 2^attempt * RecoveryBaseDelay (capped) and starts a new
// one. The attempt counter resets once a session completes a cycle. After
// RecoveryMaxAttempts consecutive faults Run returns a *FatalError.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.WithField("max_in_flight", p.cfg.MaxInFlight).Info("Starting consumption pipeline")

	attempt := 0
	for {
		progressed, err := p.runSession(ctx)
		if ctx.Err() != nil {
			p.stop("Pipeline stopped")
			return nil
		}
		if err == nil {
			p.stop("Pipeline session ended")
			return nil
		}

		if progressed {
			attempt = 0
		}
		attempt++
		p.metrics.IncRecovery()
		p.enter(StateRecovering)

		entry := p.logger.WithError(err).WithFields(logrus.Fields{
			"attempt":      attempt,
			"max_attempts": p.cfg.RecoveryMaxAttempts,
		})
		if attempt >= p.cfg.RecoveryMaxAttempts {
			entry.Error("Recovery attempts exhausted, giving up")
			p.enter(StateStopped)
			return &FatalError{Binding: p.cfg.Binding, Attempts: attempt, Err: err}
		}

		backoff := retry.ExponentialBackoff(attempt, p.cfg.RecoveryBaseDelay, p.cfg.RecoveryMaxDelay)
		entry.WithField("backoff", backoff).Error("Consumption session failed, recovering")

		if err := p.gate.Wait(ctx, backoff); err != nil {
			p.stop("Pipeline stopped during recovery")
			return nil
		}

		if r, ok := p.broker.(Resetter); ok {
			if err := r.Reset(ctx); err != nil {
				if ctx.Err() != nil {
					p.stop("Pipeline stopped during recovery")
					return nil
				}
				// the next session fails and is counted
				p.logger.WithError(err).Error("Failed to reset broker session")
			}
		}
	}
}

func (p *Pipeline) stop(msg string) {
	p.enter(StateStopped)
	p.logger.Info(msg)
}

// runSession runs one fetcher and MaxInFlight workers until ctx is done or
// any of them hits a transport fault. It reports whether at least one cycle
// completed.
func (p *Pipeline) runSession(ctx context.Context) (bool, error) {
	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg        sync.WaitGroup
		once      sync.Once
		firstErr  error
		completed atomic.Int64
	)
	fail := func(err error) {
		once.Do(func() {
			firstErr = err
			cancel()
		})
	}

	msgChan := make(chan *models.Message)

	for i := 0; i < p.cfg.MaxInFlight; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for msg := range msgChan {
				if err := p.processMessage(sessionCtx, msg, workerID); err != nil {
					if sessionCtx.Err() == nil {
						fail(err)
					}
					continue
				}
				completed.Add(1)
			}
		}(i)
	}

	p.fetcher(sessionCtx, msgChan, fail)
	close(msgChan)
	wg.Wait()

	return completed.Load() > 0, firstErr
}

// fetcher reads messages from the broker and hands them to the workers.
// The channel is unbuffered so no more than MaxInFlight messages are held.
func (p *Pipeline) fetcher(ctx context.Context, msgChan chan<- *models.Message, fail func(error)) {
	for {
		p.enter(StateIdle)
		if ctx.Err() != nil {
			return
		}

		p.enter(StateFetching)
		msg, err := p.fetch(ctx)
		if err != nil {
			if ctx.Err() == nil {
				fail(err)
			}
			return
		}
		if msg == nil {
			continue
		}

		select {
		case msgChan <- msg:
		case <-ctx.Done():
			// not acked; the broker delivers it again
			return
		}
	}
}

func (p *Pipeline) fetch(ctx context.Context) (*models.Message, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	defer cancel()

	msg, err := p.broker.Fetch(fetchCtx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, &retry.TransportError{Op: "fetch", Err: err}
	}
	if msg != nil {
		p.metrics.IncReceived()
	}
	return msg, nil
}
