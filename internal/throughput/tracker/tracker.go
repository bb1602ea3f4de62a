package tracker

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"k8s.io/utils/clock"

	"github.com/armadaproject/jobthroughput/internal/common/logging"
	"github.com/armadaproject/jobthroughput/internal/common/runcontext"
	"github.com/armadaproject/jobthroughput/internal/throughput/cluster"
	"github.com/armadaproject/jobthroughput/internal/throughput/configuration"
	"github.com/armadaproject/jobthroughput/internal/throughput/domain"
	"github.com/armadaproject/jobthroughput/internal/throughput/jobdb"
	"github.com/armadaproject/jobthroughput/internal/throughput/metrics"
	"github.com/armadaproject/jobthroughput/internal/throughput/repository"
)

type Config struct {
	PollInterval    time.Duration
	SummaryInterval time.Duration
	DrainTimeout    time.Duration
	HoldWindow      bool
	TerminalPolicy  configuration.TerminalPolicy
	// Consecutive polls a job must be missing from before it is classified.
	MissingGracePolls int
}

func ConfigFrom(config configuration.Configuration) Config {
	return Config{
		PollInterval:      config.PollInterval,
		SummaryInterval:   config.SummaryInterval,
		DrainTimeout:      config.DrainTimeout,
		HoldWindow:        config.HoldWindow,
		TerminalPolicy:    config.TerminalPolicy,
		MissingGracePolls: config.MissingGracePolls,
	}
}

// Tracker polls the scheduler for the state of live jobs and applies what it sees to the job table.
// Once submission has finished it also decides when the run is drained or has to be aborted.
type Tracker struct {
	config          Config
	run             *domain.RunState
	jobDb           *jobdb.JobDb
	scheduler       cluster.Scheduler
	repo            repository.JobRepository
	clock           clock.WithTicker
	instruments     *metrics.Instruments
	submissionsDone <-chan struct{}
}

func NewTracker(
	config Config,
	run *domain.RunState,
	jobDb *jobdb.JobDb,
	scheduler cluster.Scheduler,
	repo repository.JobRepository,
	clock clock.WithTicker,
	instruments *metrics.Instruments,
	submissionsDone <-chan struct{},
) *Tracker {
	if config.MissingGracePolls < 1 {
		config.MissingGracePolls = 1
	}
	return &Tracker{
		config:          config,
		run:             run,
		jobDb:           jobDb,
		scheduler:       scheduler,
		repo:            repo,
		clock:           clock,
		instruments:     instruments,
		submissionsDone: submissionsDone,
	}
}

// Run polls until the run is drained or aborted or ctx is cancelled.
// Only a failure to persist a record is returned as an error.
func (t *Tracker) Run(ctx *runcontext.Context) error {
	ticker := t.clock.NewTicker(t.config.PollInterval)
	defer ticker.Stop()
	var summaries <-chan time.Time
	if t.config.SummaryInterval > 0 {
		summaryTicker := t.clock.NewTicker(t.config.SummaryInterval)
		defer summaryTicker.Stop()
		summaries = summaryTicker.C()
	}
	submissionsDone := t.submissionsDone
	submissionsFinished := false

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.run.Done():
			return nil
		case <-ticker.C():
			if err := t.Poll(ctx); err != nil {
				return err
			}
		case <-submissionsDone:
			submissionsDone = nil
			submissionsFinished = true
		case <-summaries:
			t.logSummary(ctx)
		}
		if submissionsFinished {
			t.checkRunEnd(ctx)
		}
	}
}

// Poll queries the scheduler once for every live job and applies the result.
// A failed query is logged and skipped. Jobs absent from the result are classified by the
// terminal policy after MissingGracePolls consecutive misses.
func (t *Tracker) Poll(ctx *runcontext.Context) error {
	ids := t.jobDb.LiveJobIds()
	if len(ids) == 0 {
		return nil
	}
	start := t.clock.Now()
	observations, err := t.scheduler.QueryStates(ctx, ids)
	t.instruments.ReportPoll(t.clock.Since(start).Seconds(), err)
	if err != nil {
		logging.WithStacktrace(ctx.Log, err).Warnf("could not query the state of %d jobs; skipping this poll", len(ids))
		return nil
	}

	now := t.clock.Now()
	for _, jobId := range ids {
		obs, reported := observations[jobId]
		vanished := false
		record, transition, err := t.jobDb.Update(jobId, func(r *domain.JobRecord) domain.Transition {
			if reported {
				return r.Apply(obs, now)
			}
			r.MissedPolls++
			if r.MissedPolls < t.config.MissingGracePolls {
				return domain.Transition{From: r.State, To: r.State, Changed: true}
			}
			vanished = true
			return r.Vanish(t.vanishedState(r), now)
		})
		if err != nil {
			return err
		}
		if !transition.Changed {
			continue
		}
		t.instruments.ReportTransition(record, transition, vanished)
		if transition.StateChanged() {
			log := ctx.Log.WithField("jobId", jobId).WithField("seq", record.Seq)
			if vanished {
				log.Infof("job disappeared from the scheduler while %s; classified as %s", transition.From, transition.To)
			} else {
				log.Debugf("job moved from %s to %s", transition.From, transition.To)
			}
		}
		if err := t.repo.Update(ctx, record); err != nil {
			return errors.WithMessagef(err, "could not persist job %d", record.Seq)
		}
	}
	return nil
}

// vanishedState classifies a job the scheduler stopped reporting. Even the lenient policy only assumes
// success for a job that was seen running without an error signal.
func (t *Tracker) vanishedState(r *domain.JobRecord) domain.JobState {
	if t.config.TerminalPolicy == configuration.StrictPolicy || r.Error != "" || r.StartTime == nil {
		return domain.Failed
	}
	return domain.Completed
}

// checkRunEnd is only called once the submitter has stopped.
func (t *Tracker) checkRunEnd(ctx *runcontext.Context) {
	now := t.clock.Now()
	window := t.run.Window
	if t.jobDb.HasLiveJobs() {
		if t.config.DrainTimeout > 0 && window.Expired(now) && now.Sub(window.End()) >= t.config.DrainTimeout {
			reason := fmt.Sprintf("%d jobs still live %s after the test window closed", len(t.jobDb.LiveJobIds()), t.config.DrainTimeout)
			if t.run.Abort(reason) {
				ctx.Log.Warnf("aborting run: %s", reason)
			}
		}
		return
	}
	if t.config.HoldWindow && !window.Expired(now) {
		return
	}
	if t.run.MarkDrained() {
		ctx.Log.Info("every submitted job has finished")
	}
}

func (t *Tracker) logSummary(ctx *runcontext.Context) {
	ctx.Log.Infof("%s (free nodes: %d of %d)", t.jobDb.Counts(), t.jobDb.FreeNodes(), t.jobDb.TotalNodes())
}
