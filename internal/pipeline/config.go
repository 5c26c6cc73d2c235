package pipeline

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go-retry-consumer/pkg/retry"
)

const (
	DefaultRetryLimit = 3
	MaxRetryLimit     = 10
	MaxRetryDelay     = 6 * time.Hour
)

// EligibilityMode decides what happens to a message whose RetryAfter has
// not been reached yet.
type EligibilityMode string

const (
	// EligibilityWait holds the message in its worker until RetryAfter.
	// Used for Kafka retry topics so partition order is kept and the
	// topic is not polled in a hot loop.
	EligibilityWait EligibilityMode = "wait"
	// EligibilityRequeue republishes the message unchanged to the retry
	// destination and acks it. Used with RabbitMQ TTL retry queues, which
	// deliver it back once the remaining delay has expired.
	EligibilityRequeue EligibilityMode = "requeue"
)

func ParseEligibilityMode(s string) (EligibilityMode, error) {
	switch EligibilityMode(strings.ToLower(strings.TrimSpace(s))) {
	case EligibilityWait:
		return EligibilityWait, nil
	case EligibilityRequeue:
		return EligibilityRequeue, nil
	default:
		return "", fmt.Errorf("unknown eligibility mode %q", s)
	}
}

// Config is the immutable configuration of one consumer binding.
type Config struct {
	Binding               string
	RetryLimit            int
	BaseRetryDelay        time.Duration
	MaxRetryDelay         time.Duration
	Backoff               retry.BackoffStrategy
	RetryDestination      string
	DeadLetterDestination string
	MaxInFlight           int
	HandlerTimeout        time.Duration
	FetchTimeout          time.Duration
	Eligibility           EligibilityMode
	RecoveryMaxAttempts   int
	RecoveryBaseDelay     time.Duration
	RecoveryMaxDelay      time.Duration
	WriteLegacyHeader     bool
}

// DefaultConfig returns a config for binding with every field set to its
// default. Destinations are left empty.
func DefaultConfig(binding string) Config {
	return Config{
		Binding:             binding,
		RetryLimit:          DefaultRetryLimit,
		BaseRetryDelay:      2 * time.Second,
		MaxRetryDelay:       MaxRetryDelay,
		Backoff:             retry.BackoffExponential,
		MaxInFlight:         5,
		HandlerTimeout:      30 * time.Second,
		FetchTimeout:        10 * time.Second,
		Eligibility:         EligibilityWait,
		RecoveryMaxAttempts: 5,
		RecoveryBaseDelay:   time.Second,
		RecoveryMaxDelay:    30 * time.Second,
	}
}

// withDefaults fills zero-valued optional fields. RetryLimit and the retry
// delays are left alone because zero is a valid setting for them.
func (c Config) withDefaults() Config {
	d := DefaultConfig(c.Binding)
	if c.Backoff == "" {
		c.Backoff = d.Backoff
	}
	if c.MaxInFlight == 0 {
		c.MaxInFlight = d.MaxInFlight
	}
	if c.HandlerTimeout == 0 {
		c.HandlerTimeout = d.HandlerTimeout
	}
	if c.FetchTimeout == 0 {
		c.FetchTimeout = d.FetchTimeout
	}
	if c.Eligibility == "" {
		c.Eligibility = d.Eligibility
	}
	if c.RecoveryMaxAttempts == 0 {
		c.RecoveryMaxAttempts = d.RecoveryMaxAttempts
	}
	if c.RecoveryBaseDelay == 0 {
		c.RecoveryBaseDelay = d.RecoveryBaseDelay
	}
	if c.RecoveryMaxDelay == 0 {
		c.RecoveryMaxDelay = d.RecoveryMaxDelay
	}
	return c
}

// ============================================================================
// Validation
// ============================================================================

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Binding) == "" {
		return errors.New("binding cannot be empty")
	}
	if c.RetryLimit < 0 || c.RetryLimit > MaxRetryLimit {
		return fmt.Errorf("retryLimit must be between 0 and %d", MaxRetryLimit)
	}
	if c.BaseRetryDelay < 0 || c.BaseRetryDelay > MaxRetryDelay {
		return fmt.Errorf("baseRetryDelay must be between 0 and %s", MaxRetryDelay)
	}
	if c.MaxRetryDelay < 0 || c.MaxRetryDelay > MaxRetryDelay {
		return fmt.Errorf("maxRetryDelay must be between 0 and %s", MaxRetryDelay)
	}
	if c.MaxRetryDelay < c.BaseRetryDelay {
		return errors.New("maxRetryDelay cannot be less than baseRetryDelay")
	}
	if c.Backoff != retry.BackoffExponential && c.Backoff != retry.BackoffFixed {
		return fmt.Errorf("unknown backoff strategy %q", c.Backoff)
	}
	if c.Eligibility != EligibilityWait && c.Eligibility != EligibilityRequeue {
		return fmt.Errorf("unknown eligibility mode %q", c.Eligibility)
	}
	if c.RetryDestination == "" && (c.RetryLimit > 1 || c.Eligibility == EligibilityRequeue) {
		return errors.New("retryDestination cannot be empty when retries are enabled")
	}
	if c.MaxInFlight <= 0 {
		return errors.New("maxInFlight must be greater than zero")
	}
	if c.HandlerTimeout <= 0 {
		return errors.New("handlerTimeout must be greater than zero")
	}
	if c.FetchTimeout <= 0 {
		return errors.New("fetchTimeout must be greater than zero")
	}
	if c.RecoveryMaxAttempts <= 0 {
		return errors.New("recoveryMaxAttempts must be greater than zero")
	}
	if c.RecoveryBaseDelay < 0 || c.RecoveryMaxDelay < c.RecoveryBaseDelay {
		return errors.New("recovery delays must satisfy 0 <= base <= max")
	}
	return nil
}
