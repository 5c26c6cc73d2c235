package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go-retry-consumer/pkg/models"
	"go-retry-consumer/pkg/retry"

	"github.com/sirupsen/logrus"
)

// processMessage runs one cycle for msg. It returns an error only for
// transport faults and cancellation; handler failures are resolved here by
// the retry/dead-letter protocol. The original message is acked at most
// once and only after any republish it depends on has succeeded.
func (p *Pipeline) processMessage(ctx context.Context, msg *models.Message, workerID int) error {
	messageID, _ := msg.Header(models.HeaderMessageID)
	logger := p.logger.WithFields(logrus.Fields{
		"topic":      msg.Topic,
		"partition":  msg.Partition,
		"offset":     msg.Offset,
		"message_id": messageID,
		"worker_id":  workerID,
	})

	p.enter(StateEvaluating)
	retryCount := p.codec.ReadRetryCount(msg.Headers)
	logger = logger.WithField("retry_count", retryCount)

	if !p.scheduler.IsEligibleNow(msg.Headers, p.clock.Now()) {
		notBefore, _ := p.codec.ReadNotBefore(msg.Headers)
		p.metrics.IncDeferred()

		if p.cfg.Eligibility == EligibilityRequeue {
			logger.WithField("not_before", notBefore).Debug("Message not yet eligible, requeueing")
			p.enter(StateRepublishing)
			if err := p.publish(ctx, logger, p.cfg.RetryDestination, msg.Clone()); err != nil {
				return err
			}
			return p.ack(ctx, logger, msg)
		}

		logger.WithField("not_before", notBefore).Debug("Message not yet eligible, waiting")
		if err := p.gate.WaitUntil(ctx, notBefore); err != nil {
			return err
		}
	}

	if p.dedupe != nil && messageID != "" && p.dedupe.Exists(messageID) {
		logger.Info("Duplicate message detected, skipping")
		p.metrics.IncDuplicate()
		p.enter(StateAcking)
		return p.ack(ctx, logger, msg)
	}

	p.enter(StateProcessing)
	outcome := p.invoke(ctx, logger, msg, retryCount)
	if err := ctx.Err(); err != nil {
		logger.Info("Cancelled during processing, leaving message for redelivery")
		return err
	}

	switch outcome.Kind() {
	case retry.OutcomeProcessed:
		p.enter(StateAcking)
		if err := p.ack(ctx, logger, msg); err != nil {
			return err
		}
		p.metrics.IncProcessed()
		logger.Debug("Message processed successfully")
		if p.dedupe != nil && messageID != "" {
			if err := p.dedupe.Add(messageID); err != nil {
				logger.WithError(err).Warn("Failed to record message id")
			}
		}
		return nil

	case retry.OutcomeRetry:
		p.metrics.IncFailed()
		if retryCount+1 >= p.cfg.RetryLimit {
			logger.WithError(outcome.Reason()).WithField("retry_limit", p.cfg.RetryLimit).
				Warn("Retry limit reached, escalating to dead letter")
			return p.deadLetter(ctx, logger, msg, outcome.Reason())
		}
		return p.scheduleRetry(ctx, logger, msg, retryCount+1, outcome.Reason())

	default:
		p.metrics.IncFailed()
		return p.deadLetter(ctx, logger, msg, outcome.Reason())
	}
}

// invoke calls the handler under HandlerTimeout. A panic is folded into a
// Retry outcome so it goes through the same limit check as any failure.
func (p *Pipeline) invoke(ctx context.Context, logger logrus.FieldLogger, msg *models.Message, retryCount int) (outcome retry.Outcome) {
	handlerCtx, cancel := context.WithTimeout(ctx, p.cfg.HandlerTimeout)
	defer cancel()

	start := p.clock.Now()
	defer func() {
		if r := recover(); r != nil {
			logger.WithFields(logrus.Fields{
				"panic": r,
				"stack": string(debug.Stack()),
			}).Error("Panic in handler")
			outcome = retry.Retry(fmt.Errorf("handler panicked: %v", r))
		}
		p.metrics.ObserveHandlerDuration(p.clock.Since(start))
	}()

	outcome = p.handler.Handle(handlerCtx, msg, retryCount)
	if outcome.Kind() != retry.OutcomeProcessed {
		logger.WithError(outcome.Reason()).WithField("outcome", outcome.String()).Error("Message processing failed")
	}
	return outcome
}

// scheduleRetry publishes a copy with RetryCount=next and RetryAfter set
// from the backoff, then acks the original.
func (p *Pipeline) scheduleRetry(ctx context.Context, logger logrus.FieldLogger, msg *models.Message, next int, reason error) error {
	delay := p.scheduler.ComputeNextDelay(next)
	notBefore := p.scheduler.ComputeNotBefore(p.clock.Now(), delay)

	out := msg.Clone()
	out.Headers = p.codec.WriteRetryHeaders(msg.Headers, next, notBefore)
	out.Headers[models.HeaderFailureReason] = []byte(reasonText(reason))
	out.Headers[models.HeaderOriginalTopic] = []byte(originalTopic(msg))

	p.enter(StateRepublishing)
	if err := p.publish(ctx, logger, p.cfg.RetryDestination, out); err != nil {
		return err
	}
	p.metrics.IncRetried()
	logger.WithFields(logrus.Fields{
		"destination": p.cfg.RetryDestination,
		"next_retry":  next,
		"delay":       delay,
	}).Warn("Message sent to retry destination")

	return p.ack(ctx, logger, msg)
}

// deadLetter publishes the message with its retry headers intact, then acks
// the original. With no dead-letter destination the message is acked and
// dropped, logged at error level.
func (p *Pipeline) deadLetter(ctx context.Context, logger logrus.FieldLogger, msg *models.Message, reason error) error {
	p.enter(StateRepublishing)

	if p.cfg.DeadLetterDestination == "" {
		if err := p.ack(ctx, logger, msg); err != nil {
			return err
		}
		p.metrics.IncDropped()
		logger.WithField("failure_reason", reasonText(reason)).
			Error("Dead-letter destination not configured, message dropped")
		return nil
	}

	out := msg.Clone()
	out.Headers[models.HeaderFailureReason] = []byte(reasonText(reason))
	out.Headers[models.HeaderOriginalTopic] = []byte(originalTopic(msg))
	out.Headers[models.HeaderDeadLetteredAt] = []byte(p.clock.Now().UTC().Format(time.RFC3339))

	if err := p.publish(ctx, logger, p.cfg.DeadLetterDestination, out); err != nil {
		return err
	}
	p.metrics.IncSentToDLQ()
	logger.WithField("destination", p.cfg.DeadLetterDestination).Info("Message sent to DLQ")

	return p.ack(ctx, logger, msg)
}

func (p *Pipeline) publish(ctx context.Context, logger logrus.FieldLogger, destination string, msg *models.Message) error {
	if err := p.broker.Publish(ctx, destination, msg); err != nil {
		p.metrics.IncPublishFailed()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.WithError(err).WithField("destination", destination).Error("Failed to publish message, original left unacknowledged")
		return &retry.TransportError{Op: "publish", Err: err}
	}
	p.metrics.IncPublished()
	return nil
}

func (p *Pipeline) ack(ctx context.Context, logger logrus.FieldLogger, msg *models.Message) error {
	if err := p.broker.Ack(ctx, msg); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.WithError(err).Error("Failed to acknowledge message")
		return &retry.TransportError{Op: "ack", Err: err}
	}
	return nil
}

func reasonText(err error) string {
	if err == nil {
		return "unknown"
	}
	return err.Error()
}

func originalTopic(msg *models.Message) string {
	if v, ok := msg.Header(models.HeaderOriginalTopic); ok && v != "" {
		return v
	}
	return msg.Topic
}
