package throughput

import (
	"io"

	"github.com/pkg/errors"
	"k8s.io/utils/clock"

	"github.com/armadaproject/jobthroughput/internal/common/benchmarkerrors"
	"github.com/armadaproject/jobthroughput/internal/common/runcontext"
	"github.com/armadaproject/jobthroughput/internal/throughput/cluster"
	"github.com/armadaproject/jobthroughput/internal/throughput/configuration"
	"github.com/armadaproject/jobthroughput/internal/throughput/metrics"
	"github.com/armadaproject/jobthroughput/internal/throughput/planner"
	"github.com/armadaproject/jobthroughput/internal/throughput/repository"
)

// RunBenchmark plans the mix and runs it against the cluster and store selected by config.
// An invalid mix fails before anything is stored or submitted.
func RunBenchmark(ctx *runcontext.Context, config configuration.Configuration, mix *configuration.MixConfig, out io.Writer) (*Result, error) {
	plan, err := planner.NewPlan(mix)
	if err != nil {
		return nil, err
	}
	ctx.Log.Infof("planned workload\n%s", plan)

	repo, err := repository.New(ctx, config.Store)
	if err != nil {
		return nil, errors.WithMessagef(err, "could not open %s job store", config.Store.Type)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			ctx.Log.WithError(err).Warn("job store did not close cleanly")
		}
	}()

	realClock := clock.RealClock{}
	scheduler, scripts, err := cluster.New(config.Cluster, plan.TotalNodes, realClock)
	if err != nil {
		return nil, err
	}
	return NewApp(config, scheduler, scripts, repo, realClock, out).Run(ctx, plan)
}

// ReportRun recomputes the report of a stored run, by default the most recent one.
// A positive totalNodes overrides the node budget the run was stored with.
func ReportRun(ctx *runcontext.Context, config configuration.Configuration, runId string, totalNodes int, out io.Writer) (*metrics.Report, error) {
	repo, err := repository.New(ctx, config.Store)
	if err != nil {
		return nil, errors.WithMessagef(err, "could not open %s job store", config.Store.Type)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			ctx.Log.WithError(err).Warn("job store did not close cleanly")
		}
	}()
	return reportRun(ctx, repo, clock.RealClock{}, runId, totalNodes, config.Report, out)
}

func reportRun(
	ctx *runcontext.Context,
	repo repository.JobRepository,
	clk clock.PassiveClock,
	runId string,
	totalNodes int,
	config configuration.ReportConfig,
	out io.Writer,
) (*metrics.Report, error) {
	if runId == "" {
		runIds, err := repo.ListRuns(ctx)
		if err != nil {
			return nil, err
		}
		if len(runIds) == 0 {
			return nil, &benchmarkerrors.ErrNotFound{Type: "run", Value: "latest"}
		}
		runId = runIds[len(runIds)-1]
	}
	run, err := repo.GetRun(ctx, runId)
	if err != nil {
		return nil, err
	}
	if totalNodes > 0 {
		run.TotalNodes = totalNodes
	}
	records, err := repo.GetAll(ctx, runId)
	if err != nil {
		return nil, err
	}
	// A run without an end time was interrupted before it could record one.
	reportTime := clk.Now()
	if run.EndTime != nil {
		reportTime = *run.EndTime
	}
	ctx.Log.Infof("reporting on run %s with %d job records", runId, len(records))
	report, err := metrics.Aggregate(run, records, reportTime)
	if err != nil {
		return nil, err
	}
	return report, WriteReport(report, config, out)
}
