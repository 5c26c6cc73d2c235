package retry

import (
	"context"
	"time"

	"github.com/coder/quartz"
)

// DelayGate suspends the caller for a duration measured on its clock.
type DelayGate struct {
	clock quartz.Clock
}

func NewDelayGate(clock quartz.Clock) *DelayGate {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &DelayGate{clock: clock}
}

// Wait blocks for d or until ctx is done, whichever comes first.
func (g *DelayGate) Wait(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}

	timer := g.clock.NewTimer(d, "delaygate", "wait")
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// WaitUntil blocks until the clock reaches t.
func (g *DelayGate) WaitUntil(ctx context.Context, t time.Time) error {
	return g.Wait(ctx, t.Sub(g.clock.Now()))
}

// Now exposes the gate's time source.
func (g *DelayGate) Now() time.Time {
	return g.clock.Now()
}
