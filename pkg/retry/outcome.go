package retry

// OutcomeKind tags which variant of Outcome is active.
type OutcomeKind int

const (
	OutcomeProcessed OutcomeKind = iota
	OutcomeRetry
	OutcomeDeadLetter
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeProcessed:
		return "processed"
	case OutcomeRetry:
		return "retry"
	case OutcomeDeadLetter:
		return "dead_letter"
	default:
		return "unknown"
	}
}

// Outcome is the per-message decision returned by a handler.
// The zero value is Processed.
type Outcome struct {
	kind   OutcomeKind
	reason error
}

// Processed acknowledges the message.
func Processed() Outcome {
	return Outcome{kind: OutcomeProcessed}
}

// Retry asks for the message to be rescheduled.
func Retry(reason error) Outcome {
	return Outcome{kind: OutcomeRetry, reason: reason}
}

// DeadLetter marks the message as terminally failed.
func DeadLetter(reason error) Outcome {
	return Outcome{kind: OutcomeDeadLetter, reason: reason}
}

// FromError maps an error-style result onto an Outcome: nil is Processed,
// a PermanentError is DeadLetter and anything else is Retry.
func FromError(err error) Outcome {
	switch {
	case err == nil:
		return Processed()
	case IsPermanent(err):
		return DeadLetter(err)
	default:
		return Retry(err)
	}
}

func (o Outcome) Kind() OutcomeKind { return o.kind }

// Reason is the failure that produced a Retry or DeadLetter outcome.
func (o Outcome) Reason() error { return o.reason }

func (o Outcome) String() string { return o.kind.String() }
