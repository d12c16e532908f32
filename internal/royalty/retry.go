package royalty

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// FailureClass distinguishes retryable infrastructure faults from
// data-content faults.
type FailureClass int

const (
	// FailureTransient covers connectivity loss, timeouts, and
	// serialization conflicts. Worth retrying the whole batch.
	FailureTransient FailureClass = iota

	// FailurePermanent covers constraint violations attributable to row
	// content. Retrying the whole batch cannot help; the batch is
	// decomposed to single rows instead.
	FailurePermanent
)

// RetryPolicy is an explicit, injectable backoff schedule for batch writes.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultMaxDelay caps exponential backoff growth.
const DefaultMaxDelay = 10 * time.Second

// PolicyFromConfig derives the writer's retry policy from a run's BatchConfig.
func PolicyFromConfig(cfg BatchConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: cfg.RetryAttempts,
		BaseDelay:   cfg.BackoffBase,
		MaxDelay:    DefaultMaxDelay,
	}
}

// Delay returns the backoff before retry number attempt (0-based):
// base × 2^attempt, capped at MaxDelay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Sleep waits out the backoff for attempt, returning early with the
// context's error if it is cancelled.
func (p RetryPolicy) Sleep(ctx context.Context, attempt int) error {
	t := time.NewTimer(p.Delay(attempt))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Postgres error classes and codes that indicate a retryable fault.
const (
	pgClassConnection     = "08"    // connection exceptions
	pgCodeSerialization   = "40001" // serialization_failure
	pgCodeDeadlock        = "40P01" // deadlock_detected
	pgCodeQueryCanceled   = "57014" // statement_timeout fires this
	pgCodeTooManyConns    = "53300"
	pgCodeInsufficientRes = "53000"
	pgClassIntegrity      = "23" // integrity constraint violations
	pgClassDataException  = "22"
)

// Classify assigns a failure class to a batch write error. Unknown errors
// are treated as transient: a retry then falls through to row-level
// decomposition anyway, so misclassifying permanent as transient only costs
// a few attempts, while the reverse would skip a recoverable retry.
func Classify(err error) FailureClass {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		code := pgErr.Code
		switch {
		case strings.HasPrefix(code, pgClassIntegrity), strings.HasPrefix(code, pgClassDataException):
			return FailurePermanent
		case strings.HasPrefix(code, pgClassConnection),
			code == pgCodeSerialization,
			code == pgCodeDeadlock,
			code == pgCodeQueryCanceled,
			code == pgCodeTooManyConns,
			code == pgCodeInsufficientRes:
			return FailureTransient
		}
		return FailurePermanent
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return FailureTransient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTransient
	}

	return FailureTransient
}
