package activity

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/strikepipe/strikepipe/internal/agent"
	"github.com/strikepipe/strikepipe/internal/model"
	"github.com/strikepipe/strikepipe/internal/retry"
)

// Gateway executes phase activities under a retry policy profile.
// One gateway is created per run, carrying the profile selected from the
// submission; it is safe for concurrent use by parallel lanes.
type Gateway struct {
	// profile is the retry policy applied to every call.
	profile retry.Profile

	// executor is the external agent-execution collaborator.
	executor agent.Executor

	// logger is used for structured logging of attempts and backoff.
	logger *slog.Logger

	// sleep waits between attempts. Tests inject an instant sleeper so
	// a 50-attempt production run can be exercised in microseconds.
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets a custom logger for the gateway.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithSleeper replaces the backoff sleeper. Intended for tests.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(g *Gateway) {
		if sleep != nil {
			g.sleep = sleep
		}
	}
}

// New creates a Gateway for the given profile and executor.
func New(profile retry.Profile, executor agent.Executor, opts ...Option) *Gateway {
	g := &Gateway{
		profile:  profile,
		executor: executor,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	return g
}

// Execute runs one phase activity, retrying per the profile. It returns the
// result of the first successful attempt, or the last error once the attempt
// ceiling is reached or a non-retryable error occurs.
func (g *Gateway) Execute(ctx context.Context, req agent.Request) (*agent.Result, error) {
	var lastErr error

	for attempt := 1; attempt <= g.profile.MaximumAttempts; attempt++ {
		result, err := g.attempt(ctx, req)
		if err == nil {
			return result, nil
		}
		lastErr = err

		kind := model.KindOf(err)
		if !g.profile.Retryable(kind) {
			g.logger.Error("activity failed with non-retryable error",
				"runId", req.RunID,
				"agent", req.Agent,
				"attempt", attempt,
				"kind", kind,
				"error", err,
			)
			return nil, err
		}
		if ctx.Err() != nil {
			// The run itself was cancelled; retrying would only delay
			// the cancellation from surfacing.
			return nil, model.WrapClassified(model.ErrKindCancelled, ctx.Err())
		}
		if attempt == g.profile.MaximumAttempts {
			break
		}

		backoff := g.profile.Backoff(attempt)
		g.logger.Warn("activity failed, backing off",
			"runId", req.RunID,
			"agent", req.Agent,
			"attempt", attempt,
			"maxAttempts", g.profile.MaximumAttempts,
			"backoff", backoff,
			"kind", kind,
			"error", err,
		)
		if err := g.sleep(ctx, backoff); err != nil {
			return nil, model.WrapClassified(model.ErrKindCancelled, err)
		}
	}

	g.logger.Error("activity exhausted retry budget",
		"runId", req.RunID,
		"agent", req.Agent,
		"attempts", g.profile.MaximumAttempts,
		"error", lastErr,
	)
	return nil, lastErr
}

// attemptOutcome carries one attempt's result across the watchdog boundary.
type attemptOutcome struct {
	result *agent.Result
	err    error
}

// attempt runs a single activity attempt under the per-call timeout and the
// heartbeat watchdog.
func (g *Gateway) attempt(ctx context.Context, req agent.Request) (*agent.Result, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, g.profile.ActivityTimeout)
	defer cancel()

	// Heartbeats are funneled through a buffered channel so a chatty
	// executor never blocks on the watchdog.
	beats := make(chan struct{}, 1)
	watched := req
	watched.Heartbeat = func() {
		select {
		case beats <- struct{}{}:
		default:
		}
	}

	done := make(chan attemptOutcome, 1)
	go func() {
		result, err := g.executor.Execute(attemptCtx, watched)
		done <- attemptOutcome{result: result, err: err}
	}()

	watchdog := time.NewTimer(g.profile.HeartbeatDeadline)
	defer watchdog.Stop()

	for {
		select {
		case outcome := <-done:
			if outcome.err != nil {
				return nil, g.classifyAttemptError(ctx, attemptCtx, outcome.err)
			}
			return outcome.result, nil

		case <-beats:
			if !watchdog.Stop() {
				<-watchdog.C
			}
			watchdog.Reset(g.profile.HeartbeatDeadline)

		case <-watchdog.C:
			// The activity went silent. Cancel it and wait for the
			// executor goroutine to come back so nothing leaks.
			cancel()
			<-done
			return nil, model.NewClassifiedError(model.ErrKindHeartbeat,
				"activity %s missed heartbeat deadline of %s", req.Agent, g.profile.HeartbeatDeadline)
		}
	}
}

// classifyAttemptError distinguishes per-attempt timeouts (retryable) from
// run-level cancellation (not retryable) before passing other errors through.
func (g *Gateway) classifyAttemptError(runCtx, attemptCtx context.Context, err error) error {
	if runCtx.Err() != nil {
		return model.WrapClassified(model.ErrKindCancelled, err)
	}
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return model.WrapClassified(model.ErrKindTimeout, err)
	}
	return err
}

// sleepContext sleeps for d or until the context is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
