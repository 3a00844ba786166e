// Package resilience wraps calls to external resources with classified,
// jittered exponential-backoff retries. Each resource class carries its own
// retryable predicate; non-retryable errors and exhausted retries propagate
// the original error unchanged.
package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Class identifies an external resource class.
type Class string

const (
	Database      Class = "database"
	ObjectStore   Class = "objectstore"
	Queue         Class = "queue"
	ArchiveSource Class = "archivesource"
)

// RetryNotify is invoked once per retry attempt, before the backoff delay.
type RetryNotify func(class Class, attempt int, delay time.Duration, err error)

// PolicyConfig tunes a single policy.
type PolicyConfig struct {
	MaxAttempts     uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Policy retries an operation while its class predicate reports the error
// as transient.
type Policy struct {
	class     Class
	cfg       PolicyConfig
	retryable func(error) bool
	notify    RetryNotify
}

// NewPolicy builds a policy for a resource class.
func NewPolicy(class Class, cfg PolicyConfig, retryable func(error) bool, notify RetryNotify) *Policy {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 500 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 30 * time.Second
	}
	return &Policy{class: class, cfg: cfg, retryable: retryable, notify: notify}
}

// Class returns the policy's resource class.
func (p *Policy) Class() Class {
	return p.class
}

// Execute runs op, retrying transient failures with jittered exponential
// backoff up to the configured attempt count.
func (p *Policy) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.cfg.InitialInterval
	bo.MaxInterval = p.cfg.MaxInterval
	bo.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(bo, p.cfg.MaxAttempts-1), ctx)

	attempt := 0
	return backoff.RetryNotify(func() error {
		err := op(ctx)
		if err == nil {
			return nil
		}
		// A cancelled pipeline must not sit in backoff loops.
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		if !p.retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, delay time.Duration) {
		attempt++
		if p.notify != nil {
			p.notify(p.class, attempt, delay, err)
		}
	})
}

// Policies bundles one policy per external resource class.
type Policies struct {
	Database      *Policy
	ObjectStore   *Policy
	Queue         *Policy
	ArchiveSource *Policy
}

// NewPolicies builds the default per-class policies.
func NewPolicies(notify RetryNotify) *Policies {
	return &Policies{
		Database: NewPolicy(Database, PolicyConfig{
			MaxAttempts:     5,
			InitialInterval: 200 * time.Millisecond,
			MaxInterval:     5 * time.Second,
		}, RetryableDatabase, notify),
		ObjectStore: NewPolicy(ObjectStore, PolicyConfig{
			MaxAttempts:     5,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     30 * time.Second,
		}, RetryableObjectStore, notify),
		Queue: NewPolicy(Queue, PolicyConfig{
			MaxAttempts:     5,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     10 * time.Second,
		}, RetryableQueue, notify),
		ArchiveSource: NewPolicy(ArchiveSource, PolicyConfig{
			MaxAttempts:     5,
			InitialInterval: time.Second,
			MaxInterval:     30 * time.Second,
		}, RetryableArchiveSource, notify),
	}
}
