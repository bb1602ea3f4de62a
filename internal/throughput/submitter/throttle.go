package submitter

import (
	"time"

	"github.com/pkg/errors"
	"k8s.io/utils/clock"

	"github.com/armadaproject/jobthroughput/internal/common/logging"
	"github.com/armadaproject/jobthroughput/internal/common/runcontext"
	"github.com/armadaproject/jobthroughput/internal/throughput/cluster"
	"github.com/armadaproject/jobthroughput/internal/throughput/domain"
	"github.com/armadaproject/jobthroughput/internal/throughput/jobdb"
	"github.com/armadaproject/jobthroughput/internal/throughput/metrics"
	"github.com/armadaproject/jobthroughput/internal/throughput/repository"
)

// persistTimeout bounds storing an attempt once the run context may already be cancelled.
const persistTimeout = 30 * time.Second

var (
	// ErrPlanExhausted means every spec in the plan has been attempted.
	ErrPlanExhausted = errors.New("every planned job has been attempted")
	// ErrWindowExpired means the test window has closed and no further attempts are made.
	ErrWindowExpired = errors.New("test window has expired")
	// ErrNoCapacity means no pending spec fits in the currently free nodes.
	ErrNoCapacity = errors.New("no pending job fits in the free nodes")
	// ErrRunEnded means the run was drained or aborted or its context was cancelled.
	ErrRunEnded = errors.New("run has ended")
)

// Throttle drains a plan into the cluster without exceeding the node budget of the run.
// It is driven by a single goroutine. Records it creates are handed to the JobDb, after which
// the tracker is their only writer.
type Throttle struct {
	run            *domain.RunState
	pending        []domain.JobSpec
	jobDb          *jobdb.JobDb
	scheduler      cluster.Scheduler
	scripts        cluster.ScriptGenerator
	repo           repository.JobRepository
	clock          clock.Clock
	pollInterval   time.Duration
	submitInterval time.Duration
	instruments    *metrics.Instruments
	done           chan struct{}
}

func NewThrottle(
	run *domain.RunState,
	specs []domain.JobSpec,
	jobDb *jobdb.JobDb,
	scheduler cluster.Scheduler,
	scripts cluster.ScriptGenerator,
	repo repository.JobRepository,
	clock clock.Clock,
	pollInterval time.Duration,
	submitInterval time.Duration,
	instruments *metrics.Instruments,
) *Throttle {
	return &Throttle{
		run:            run,
		pending:        append([]domain.JobSpec{}, specs...),
		jobDb:          jobDb,
		scheduler:      scheduler,
		scripts:        scripts,
		repo:           repo,
		clock:          clock,
		pollInterval:   pollInterval,
		submitInterval: submitInterval,
		instruments:    instruments,
		done:           make(chan struct{}),
	}
}

// Pending returns the number of specs not yet attempted.
func (t *Throttle) Pending() int {
	return len(t.pending)
}

// Done is closed when Run returns.
func (t *Throttle) Done() <-chan struct{} {
	return t.done
}

// SubmitNext attempts the first pending spec, in plan order, whose nodes are free.
// The attempt is persisted before SubmitNext returns whether or not the scheduler accepted it.
// A rejected submission is returned as a record in SubmissionError with a nil error; an error is
// returned only when nothing was attempted or the record could not be persisted.
func (t *Throttle) SubmitNext(ctx *runcontext.Context) (*domain.JobRecord, error) {
	if t.run.Phase().IsFinal() || ctx.Err() != nil {
		return nil, ErrRunEnded
	}
	if len(t.pending) == 0 {
		return nil, ErrPlanExhausted
	}
	now := t.clock.Now()
	if !t.run.AcceptingSubmissions(now) {
		return nil, ErrWindowExpired
	}
	idx := -1
	for i, spec := range t.pending {
		if t.jobDb.Reserve(spec.Nodes) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, ErrNoCapacity
	}
	spec := t.pending[idx]
	t.pending = append(t.pending[:idx], t.pending[idx+1:]...)

	record := t.attempt(ctx, spec, now)
	// An interrupt during the attempt must not lose its record.
	persistCtx, cancel := runcontext.Detached(ctx, persistTimeout)
	defer cancel()
	appendErr := t.repo.Append(persistCtx, record)
	if err := t.jobDb.Insert(record); err != nil {
		t.jobDb.ReleaseReservation(spec.Nodes)
		return nil, err
	}
	t.instruments.ReportSubmission(record)
	if appendErr != nil {
		return record, errors.WithMessagef(appendErr, "could not persist job %d", record.Seq)
	}
	return record, nil
}

func (t *Throttle) attempt(ctx *runcontext.Context, spec domain.JobSpec, now time.Time) *domain.JobRecord {
	record := domain.NewJobRecord(t.run.RunId, spec, now)
	log := ctx.Log.WithField("seq", spec.Seq).WithField("classId", spec.ClassId)

	scriptRef, err := t.scripts.Generate(spec.Nodes, spec.DurationMinutes, t.run.Queue)
	if err != nil {
		logging.WithStacktrace(log, err).Error("could not generate job script")
		record.State = domain.SubmissionError
		record.Error = err.Error()
		return record
	}
	record.ScriptRef = scriptRef

	jobId, err := t.scheduler.Submit(ctx, scriptRef)
	if err != nil && ctx.Err() != nil {
		logging.WithStacktrace(log, err).Warn("submission was interrupted; the job may be on the cluster without a job id")
		record.State = domain.SubmissionError
		record.Error = err.Error()
		return record
	}
	if err != nil {
		logging.WithStacktrace(log, err).Warnf("submission of %d node %d minute job failed", spec.Nodes, spec.DurationMinutes)
		record.State = domain.SubmissionError
		record.Error = err.Error()
		return record
	}
	record.JobId = jobId
	record.State = domain.Submitted
	log.WithField("jobId", jobId).Infof("submitted %d node %d minute job", spec.Nodes, spec.DurationMinutes)
	return record
}

// Run submits until the plan is exhausted, the window expires, the run ends or ctx is cancelled.
// When nothing fits it waits for capacity to be released, re-checking at least every poll interval.
func (t *Throttle) Run(ctx *runcontext.Context) error {
	defer close(t.done)
	for {
		record, err := t.SubmitNext(ctx)
		switch {
		case err == nil:
			if record.State == domain.Submitted && t.submitInterval > 0 {
				if !t.wait(ctx, nil, t.submitInterval) {
					return nil
				}
			}
		case errors.Is(err, ErrNoCapacity):
			if !t.wait(ctx, t.jobDb.CapacityReleased(), t.pollInterval) {
				return nil
			}
		case errors.Is(err, ErrPlanExhausted):
			ctx.Log.Info("every planned job has been attempted")
			return nil
		case errors.Is(err, ErrRunEnded):
			return nil
		case errors.Is(err, ErrWindowExpired):
			ctx.Log.Infof("test window expired with %d planned jobs not attempted", len(t.pending))
			return nil
		default:
			return err
		}
	}
}

// wait blocks until wake fires, the timeout passes or the window closes.
// It returns false if the run ended or ctx was cancelled.
func (t *Throttle) wait(ctx *runcontext.Context, wake <-chan struct{}, timeout time.Duration) bool {
	untilWindowEnd := t.run.Window.End().Sub(t.clock.Now())
	if untilWindowEnd < 0 {
		untilWindowEnd = 0
	}
	select {
	case <-ctx.Done():
		return false
	case <-t.run.Done():
		return false
	case <-wake:
	case <-t.clock.After(timeout):
	case <-t.clock.After(untilWindowEnd):
	}
	return true
}
