package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/armadaproject/jobthroughput/internal/common/benchmarkerrors"
	"github.com/armadaproject/jobthroughput/internal/throughput/domain"
)

// JobRepository persists job records keyed by (RunId, Seq) and the run they belong to.
// Records are appended exactly once and then updated in place.
type JobRepository interface {
	// Append stores a new record. It returns ErrAlreadyExists if the key is taken.
	Append(ctx context.Context, record *domain.JobRecord) error
	// Update replaces a stored record. It returns ErrNotFound if the key is unknown.
	Update(ctx context.Context, record *domain.JobRecord) error
	// GetByState returns the records of a run in any of the given states, ordered by Seq.
	GetByState(ctx context.Context, runId string, states ...domain.JobState) ([]*domain.JobRecord, error)
	// GetAll returns every record of a run ordered by Seq.
	GetAll(ctx context.Context, runId string) ([]*domain.JobRecord, error)
	// SaveRun creates or replaces the run's metadata.
	SaveRun(ctx context.Context, run *RunInfo) error
	// GetRun returns ErrNotFound if the run is unknown.
	GetRun(ctx context.Context, runId string) (*RunInfo, error)
	// ListRuns returns all run ids, oldest first.
	ListRuns(ctx context.Context) ([]string, error)
	HealthCheck(ctx context.Context) (bool, error)
	Close() error
}

// RunInfo is what is needed to recompute a run's metrics from its stored records.
type RunInfo struct {
	RunId          string
	Queue          string
	TotalNodes     int
	TotalTestHours float64
	StartTime      time.Time
	// EndTime is nil while the run is in progress.
	EndTime     *time.Time
	Phase       domain.RunPhase
	AbortReason string
}

func (r *RunInfo) Window() domain.TestWindow {
	return domain.NewTestWindow(r.StartTime, r.TotalTestHours)
}

func recordKey(runId string, seq int) string {
	return fmt.Sprintf("%s/%d", runId, seq)
}

func errRecordExists(record *domain.JobRecord) error {
	return &benchmarkerrors.ErrAlreadyExists{Type: "job record", Value: recordKey(record.RunId, record.Seq)}
}

func errRecordNotFound(record *domain.JobRecord) error {
	return &benchmarkerrors.ErrNotFound{Type: "job record", Value: recordKey(record.RunId, record.Seq)}
}

func errRunNotFound(runId string) error {
	return &benchmarkerrors.ErrNotFound{Type: "run", Value: runId}
}

func stateSet(states []domain.JobState) map[domain.JobState]bool {
	set := make(map[domain.JobState]bool, len(states))
	for _, s := range states {
		set[s] = true
	}
	return set
}
