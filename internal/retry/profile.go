package retry

import (
	"time"

	"github.com/strikepipe/strikepipe/internal/model"
)

// Profile is a named, immutable retry configuration for activity execution.
// Backoff grows exponentially: interval = min(Initial * Coefficient^attempt,
// Maximum), where attempt counts from zero after the first failure.
type Profile struct {
	// Name identifies the profile in logs.
	Name string

	// InitialInterval is the backoff after the first failed attempt.
	InitialInterval time.Duration

	// MaximumInterval caps the backoff regardless of attempt count.
	MaximumInterval time.Duration

	// BackoffCoefficient is the exponential growth factor.
	BackoffCoefficient float64

	// MaximumAttempts is the total attempt ceiling, first try included.
	MaximumAttempts int

	// ActivityTimeout is the per-call wall-clock budget for one attempt.
	ActivityTimeout time.Duration

	// HeartbeatDeadline is the liveness deadline: an activity that does
	// not heartbeat within this window is treated as failed.
	HeartbeatDeadline time.Duration

	// nonRetryable is the set of error kinds that must never be retried.
	nonRetryable map[model.ErrorKind]struct{}
}

// nonRetryableKinds is shared by both profiles. Retrying any of these can
// never succeed: the failure is in the request or its configuration, not in
// the provider's availability.
var nonRetryableKinds = []model.ErrorKind{
	model.ErrKindAuthentication,
	model.ErrKindPermission,
	model.ErrKindInvalidRequest,
	model.ErrKindRequestTooLarge,
	model.ErrKindConfiguration,
	model.ErrKindInvalidTarget,
	model.ErrKindExecutionLimit,
}

// newProfile builds a profile with the shared non-retryable kind set.
func newProfile(name string, initial, maximum time.Duration, coefficient float64, attempts int, timeout, heartbeat time.Duration) Profile {
	set := make(map[model.ErrorKind]struct{}, len(nonRetryableKinds))
	for _, kind := range nonRetryableKinds {
		set[kind] = struct{}{}
	}
	return Profile{
		Name:               name,
		InitialInterval:    initial,
		MaximumInterval:    maximum,
		BackoffCoefficient: coefficient,
		MaximumAttempts:    attempts,
		ActivityTimeout:    timeout,
		HeartbeatDeadline:  heartbeat,
		nonRetryable:       set,
	}
}

// Production returns the slow, patient profile used for real assessment
// runs. The generous ceiling (50 attempts, 30 minute cap) lets a run survive
// provider outages and billing holds lasting several hours instead of
// failing work that may already be many phases deep.
func Production() Profile {
	return newProfile("production", 5*time.Minute, 30*time.Minute, 2, 50, 2*time.Hour, 30*time.Second)
}

// Testing returns the fast-iteration profile selected when the submission
// requests testing mode. Failures surface within seconds rather than hours.
func Testing() Profile {
	return newProfile("testing", 10*time.Second, 30*time.Second, 2, 5, 10*time.Minute, 30*time.Second)
}

// ForInput selects the profile for a submission: Testing when the input
// requests fast iteration, Production otherwise.
func ForInput(input model.PipelineInput) Profile {
	if input.TestingMode {
		return Testing()
	}
	return Production()
}

// Retryable reports whether an error of the given kind may be retried under
// this profile.
func (p Profile) Retryable(kind model.ErrorKind) bool {
	_, blocked := p.nonRetryable[kind]
	return !blocked
}

// Backoff returns the sleep interval before the given retry. The attempt
// argument counts completed failed attempts, so the first retry passes 1 and
// receives the initial interval.
func (p Profile) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	interval := p.InitialInterval
	for i := 1; i < attempt; i++ {
		interval = time.Duration(float64(interval) * p.BackoffCoefficient)
		if interval >= p.MaximumInterval {
			return p.MaximumInterval
		}
	}
	if interval > p.MaximumInterval {
		return p.MaximumInterval
	}
	return interval
}
