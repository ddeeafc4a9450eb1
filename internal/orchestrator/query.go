package orchestrator

import (
	"time"

	"github.com/strikepipe/strikepipe/internal/model"
)

// QueryService projects run state into read-only progress records. Queries
// are side-effect free and idempotent: two queries with no intervening state
// change return identical records (modulo elapsed time).
type QueryService struct {
	now func() time.Time
}

// QueryOption configures a QueryService.
type QueryOption func(*QueryService)

// WithQueryClock replaces the time source. Intended for tests.
func WithQueryClock(now func() time.Time) QueryOption {
	return func(q *QueryService) {
		if now != nil {
			q.now = now
		}
	}
}

// NewQueryService creates a QueryService.
func NewQueryService(opts ...QueryOption) *QueryService {
	q := &QueryService{now: time.Now}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Query computes the progress record for a live run from a fresh state
// snapshot.
func (q *QueryService) Query(run *Orchestrator) model.PipelineProgress {
	return model.NewPipelineProgress(run.RunID(), run.Snapshot(), q.now())
}

// Project computes the progress record for a stored state snapshot, used for
// runs that are no longer in memory.
func (q *QueryService) Project(runID string, snapshot model.PipelineState) model.PipelineProgress {
	return model.NewPipelineProgress(runID, snapshot, q.now())
}
