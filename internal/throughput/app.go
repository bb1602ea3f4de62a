// Package throughput runs a job throughput benchmark end to end: it submits a plan against the cluster,
// tracks every job to a terminal state and reports the resulting throughput.
package throughput

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"k8s.io/utils/clock"

	"github.com/armadaproject/jobthroughput/internal/common/logging"
	"github.com/armadaproject/jobthroughput/internal/common/runcontext"
	"github.com/armadaproject/jobthroughput/internal/common/serve"
	"github.com/armadaproject/jobthroughput/internal/common/util"
	"github.com/armadaproject/jobthroughput/internal/throughput/cluster"
	"github.com/armadaproject/jobthroughput/internal/throughput/configuration"
	"github.com/armadaproject/jobthroughput/internal/throughput/domain"
	"github.com/armadaproject/jobthroughput/internal/throughput/jobdb"
	"github.com/armadaproject/jobthroughput/internal/throughput/metrics"
	"github.com/armadaproject/jobthroughput/internal/throughput/planner"
	"github.com/armadaproject/jobthroughput/internal/throughput/repository"
	"github.com/armadaproject/jobthroughput/internal/throughput/submitter"
	"github.com/armadaproject/jobthroughput/internal/throughput/tracker"
	"github.com/armadaproject/jobthroughput/internal/throughput/transport"
)

// Time allowed for writing the final state of a run after the run context has been cancelled.
const finalSaveTimeout = 30 * time.Second

// App runs benchmark plans against one scheduler and one job store.
type App struct {
	config    configuration.Configuration
	scheduler cluster.Scheduler
	scripts   cluster.ScriptGenerator
	repo      repository.JobRepository
	clock     clock.WithTicker
	// Where the report goes when no report path is configured.
	out io.Writer
}

func NewApp(
	config configuration.Configuration,
	scheduler cluster.Scheduler,
	scripts cluster.ScriptGenerator,
	repo repository.JobRepository,
	clock clock.WithTicker,
	out io.Writer,
) *App {
	return &App{
		config:    config,
		scheduler: scheduler,
		scripts:   scripts,
		repo:      repo,
		clock:     clock,
		out:       out,
	}
}

// Result is what a finished run leaves behind.
type Result struct {
	Run     *repository.RunInfo
	Records []*domain.JobRecord
	// Nil when the report could not be computed.
	Report *metrics.Report
}

// Run executes the plan until the run drains or is aborted and then reports on it.
// Cancelling ctx aborts the run without cancelling jobs already on the cluster.
// The returned error is the reason the run failed if it did, otherwise the reason no report could be made.
func (a *App) Run(ctx *runcontext.Context, plan *planner.Plan) (*Result, error) {
	runId := util.NewULID()
	ctx = runcontext.WithLogField(ctx, "runId", runId)
	start := a.clock.Now()
	run := domain.NewRunState(runId, domain.NewTestWindow(start, plan.TotalTestHours), plan.TotalNodes, plan.Queue)
	info := &repository.RunInfo{
		RunId:          runId,
		Queue:          plan.Queue,
		TotalNodes:     plan.TotalNodes,
		TotalTestHours: plan.TotalTestHours,
		StartTime:      start,
		Phase:          domain.Active,
	}

	retrier := transport.NewRetrier(a.config.Transport, ctx.Log)
	repo := repository.NewRetryingJobRepository(a.repo, retrier)
	scheduler := cluster.NewRetryingScheduler(a.scheduler, retrier)
	if err := repo.SaveRun(ctx, info); err != nil {
		return nil, errors.WithMessage(err, "could not record the start of the run")
	}

	db := jobdb.NewJobDb(plan.TotalNodes)
	instruments := metrics.NewInstruments()
	if a.config.MetricsPort > 0 {
		registry := prometheus.NewRegistry()
		registry.MustRegister(instruments, metrics.NewJobTableCollector(plan.Queue, db))
		stop := serve.ServeMetrics(a.config.MetricsPort, registry)
		defer stop()
	}

	throttle := submitter.NewThrottle(
		run, plan.Specs, db, scheduler, a.scripts, repo, a.clock,
		a.config.PollInterval, a.config.SubmitInterval, instruments,
	)
	poller := tracker.NewTracker(
		tracker.ConfigFrom(a.config), run, db, scheduler, repo, a.clock, instruments, throttle.Done(),
	)

	ctx.Log.Infof("starting run: %d jobs on %d nodes of queue %s, window closes at %s",
		len(plan.Specs), plan.TotalNodes, plan.Queue, run.Window.End().Format(time.RFC3339))
	g, groupCtx := runcontext.ErrGroup(ctx)
	g.Go(func() error { return throttle.Run(groupCtx) })
	g.Go(func() error { return poller.Run(groupCtx) })
	runErr := g.Wait()

	switch {
	case runErr != nil:
		run.Abort(runErr.Error())
	case ctx.Err() != nil:
		run.Abort("interrupted")
	}
	end := a.clock.Now()
	info.EndTime = &end
	info.Phase = run.Phase()
	info.AbortReason = run.AbortReason()
	if info.Phase == domain.Aborted {
		log := ctx.Log
		if runErr != nil {
			log = logging.WithStacktrace(log, runErr)
		}
		log.Warnf("run aborted: %s; jobs still on the cluster are not cancelled", info.AbortReason)
	} else {
		ctx.Log.Infof("run finished: %s", db.Counts())
	}

	saveCtx, cancel := runcontext.Detached(ctx, finalSaveTimeout)
	defer cancel()
	if err := repo.SaveRun(saveCtx, info); err != nil {
		logging.WithStacktrace(ctx.Log, err).Error("could not record the end of the run")
		if runErr == nil {
			runErr = err
		}
	}

	result := &Result{Run: info, Records: db.Snapshot()}
	report, reportErr := metrics.Aggregate(info, result.Records, end)
	if reportErr == nil {
		result.Report = report
		if err := WriteReport(report, a.config.Report, a.out); err != nil {
			logging.WithStacktrace(ctx.Log, err).Error("could not write report")
			reportErr = err
		}
	}
	if runErr != nil {
		return result, runErr
	}
	return result, reportErr
}

// WriteReport writes the report to the configured file, or to out if no file is configured.
func WriteReport(report *metrics.Report, config configuration.ReportConfig, out io.Writer) error {
	formatted, err := metrics.FormatterFor(config.Format)(report)
	if err != nil {
		return err
	}
	if config.Path == "" {
		_, err := out.Write(formatted)
		return errors.WithStack(err)
	}
	if err := os.MkdirAll(filepath.Dir(config.Path), 0o755); err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(os.WriteFile(config.Path, formatted, 0o644))
}
