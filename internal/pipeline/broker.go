package pipeline

import (
	"context"

	"go-retry-consumer/pkg/models"
	"go-retry-consumer/pkg/retry"
)

// Broker is the narrow view of a broker client the pipeline needs.
//
// Fetch blocks until a message arrives or ctx is done. Adapters may return
// (nil, nil) when their poll window elapses without a message.
type Broker interface {
	Fetch(ctx context.Context) (*models.Message, error)
	Ack(ctx context.Context, msg *models.Message) error
	Publish(ctx context.Context, destination string, msg *models.Message) error
}

// Resetter is implemented by brokers that must reopen their session after a
// transport fault so unacknowledged messages are delivered again.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Handler processes one message. retryCount is the number of prior failed
// attempts read from the message headers.
type Handler interface {
	Handle(ctx context.Context, msg *models.Message, retryCount int) retry.Outcome
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg *models.Message, retryCount int) retry.Outcome

func (f HandlerFunc) Handle(ctx context.Context, msg *models.Message, retryCount int) retry.Outcome {
	return f(ctx, msg, retryCount)
}

// ErrorHandler adapts an error-returning processor: nil acks, a
// retry.PermanentError dead-letters and any other error retries.
func ErrorHandler(fn func(ctx context.Context, msg *models.Message) error) Handler {
	return HandlerFunc(func(ctx context.Context, msg *models.Message, _ int) retry.Outcome {
		return retry.FromError(fn(ctx, msg))
	})
}
