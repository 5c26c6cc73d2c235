package rabbitmq

import (
	"fmt"

	"github.com/streadway/amqp"
)

// Topology names the queues of one binding. Messages published to
// RetryQueue expire after their per-message TTL and are dead-lettered
// through the default exchange back to Queue.
type Topology struct {
	Queue           string
	RetryQueue      string
	DeadLetterQueue string
}

// Declare creates the queues if they do not exist. All queues are durable.
func (t Topology) Declare(ch Channel) error {
	if _, err := ch.QueueDeclare(t.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", t.Queue, err)
	}

	if t.RetryQueue != "" {
		args := amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": t.Queue,
		}
		if _, err := ch.QueueDeclare(t.RetryQueue, true, false, false, false, args); err != nil {
			return fmt.Errorf("failed to declare retry queue %s: %w", t.RetryQueue, err)
		}
	}

	if t.DeadLetterQueue != "" {
		if _, err := ch.QueueDeclare(t.DeadLetterQueue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare dead-letter queue %s: %w", t.DeadLetterQueue, err)
		}
	}
	return nil
}

// Queues lists the non-empty queue names.
func (t Topology) Queues() []string {
	out := []string{t.Queue}
	if t.RetryQueue != "" {
		out = append(out, t.RetryQueue)
	}
	if t.DeadLetterQueue != "" {
		out = append(out, t.DeadLetterQueue)
	}
	return out
}
