// Package job runs one compression job under a lease and classifies the
// result as terminal or retryable.
package job

import (
	"fmt"
	"time"
)

// Kind classifies how the caller should treat a job result.
type Kind int

const (
	// Succeeded: artifact verified, original removed.
	Succeeded Kind = iota
	// Skipped: the job was already complete.
	Skipped
	// Retry: a transient cause; resubmit after Delay.
	Retry
	// Fatal: do not resubmit; operator attention needed.
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Succeeded:
		return "succeeded"
	case Skipped:
		return "skipped"
	case Retry:
		return "retry"
	case Fatal:
		return "fatal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Reason values attached to Retry and Fatal results.
const (
	ReasonLeaseDenied  = "lease_denied"
	ReasonLeaseLost    = "lease_lost"
	ReasonCompression  = "compression_error"
	ReasonStore        = "store_error"
	ReasonHashMismatch = "hash_mismatch"
	ReasonSourceGone   = "source_missing"
)

// Result is what Coordinator.Run returns.
type Result struct {
	Kind   Kind
	Reason string
	Err    error
	// Delay is the suggested wait before a retry.
	Delay time.Duration
}

// Terminal reports whether the job must not be resubmitted.
func (r Result) Terminal() bool { return r.Kind != Retry }

// Backoff doubles from Initial up to Max.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

// Delay returns the wait before the given 1-based attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Initial
	for i := 1; i < attempt; i++ {
		if d >= b.Max/2 {
			return b.Max
		}
		d *= 2
	}
	if d > b.Max {
		return b.Max
	}
	return d
}
