package throughput

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/armadaproject/jobthroughput/internal/common/benchmarkerrors"
	"github.com/armadaproject/jobthroughput/internal/common/logging"
	"github.com/armadaproject/jobthroughput/internal/common/runcontext"
	"github.com/armadaproject/jobthroughput/internal/throughput/cluster"
	"github.com/armadaproject/jobthroughput/internal/throughput/configuration"
	"github.com/armadaproject/jobthroughput/internal/throughput/domain"
	"github.com/armadaproject/jobthroughput/internal/throughput/planner"
	"github.com/armadaproject/jobthroughput/internal/throughput/repository"
)

// capacityCheckingCluster fails the test if the fake cluster is ever asked to hold more live jobs than it has nodes.
// Jobs count as live from submission until the scheduler first reports them terminal.
type capacityCheckingCluster struct {
	*cluster.FakeCluster
	totalNodes int

	mu         sync.Mutex
	shapes     map[string]int
	live       map[string]int
	violations []string
}

func newCapacityCheckingCluster(fake *cluster.FakeCluster, totalNodes int) *capacityCheckingCluster {
	return &capacityCheckingCluster{FakeCluster: fake, totalNodes: totalNodes, shapes: map[string]int{}, live: map[string]int{}}
}

func (c *capacityCheckingCluster) Generate(nodes int, durationMinutes int, queue string) (string, error) {
	ref, err := c.FakeCluster.Generate(nodes, durationMinutes, queue)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shapes[ref] = nodes
	return ref, err
}

func (c *capacityCheckingCluster) Submit(ctx context.Context, scriptRef string) (string, error) {
	c.mu.Lock()
	used := 0
	for _, nodes := range c.live {
		used += nodes
	}
	nodes := c.shapes[scriptRef]
	if used+nodes > c.totalNodes {
		c.violations = append(c.violations, scriptRef)
	}
	c.mu.Unlock()

	jobId, err := c.FakeCluster.Submit(ctx, scriptRef)
	if err == nil {
		c.mu.Lock()
		c.live[jobId] = nodes
		c.mu.Unlock()
	}
	return jobId, err
}

func (c *capacityCheckingCluster) QueryStates(ctx context.Context, jobIds []string) (map[string]domain.Observation, error) {
	states, err := c.FakeCluster.QueryStates(ctx, jobIds)
	c.mu.Lock()
	defer c.mu.Unlock()
	for jobId, obs := range states {
		if obs.State.IsTerminal() {
			delete(c.live, jobId)
		}
	}
	return states, err
}

func testConfig() configuration.Configuration {
	return configuration.Configuration{
		PollInterval:      time.Minute,
		SummaryInterval:   10 * time.Minute,
		TerminalPolicy:    configuration.LenientPolicy,
		MissingGracePolls: 2,
		Transport: configuration.TransportConfig{
			Attempts:       3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     time.Millisecond,
		},
		Report: configuration.ReportConfig{Format: configuration.TextReport},
	}
}

func testMix(hours float64) *configuration.MixConfig {
	return &configuration.MixConfig{
		TotalTestHours: hours,
		TotalNodes:     16,
		QueueName:      "batch",
		Order:          configuration.DeclaredOrder,
		Jobs: []configuration.JobClass{
			{
				Nodes: 4,
				Count: 10,
				Durations: []configuration.DurationBucket{
					{Minutes: 10, Ratio: 0.5},
					{Minutes: 20, Ratio: 0.5},
				},
			},
			{
				Name:      "wide",
				Nodes:     8,
				Count:     4,
				Durations: []configuration.DurationBucket{{Minutes: 30, Ratio: 1}},
			},
		},
	}
}

type testHarness struct {
	app     *App
	cluster *capacityCheckingCluster
	repo    repository.JobRepository
	clock   *clocktesting.FakeClock
	out     *bytes.Buffer
}

func withHarness(t *testing.T, config configuration.Configuration, fake configuration.FakeClusterConfig, action func(h testHarness)) {
	clk := clocktesting.NewFakeClock(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	repo, err := repository.NewMemDbJobRepository()
	require.NoError(t, err)
	checked := newCapacityCheckingCluster(cluster.NewFakeCluster(fake, 16, clk), 16)
	out := &bytes.Buffer{}
	action(testHarness{
		app:     NewApp(config, checked, checked, repo, clk, out),
		cluster: checked,
		repo:    repo,
		clock:   clk,
		out:     out,
	})
}

// run drives the fake clock forward until the run returns.
func (h testHarness) run(t *testing.T, ctx *runcontext.Context, plan *planner.Plan) (*Result, error) {
	var result *Result
	var err error
	done := make(chan struct{})
	go func() {
		defer close(done)
		result, err = h.app.Run(ctx, plan)
	}()
	deadline := time.After(30 * time.Second)
	for {
		select {
		case <-done:
			return result, err
		case <-deadline:
			t.Fatal("run did not finish")
		case <-time.After(time.Millisecond):
			h.clock.Step(15 * time.Second)
		}
	}
}

func testContext() *runcontext.Context {
	return runcontext.New(context.Background(), logging.NullEntry())
}

func TestApp_RunsPlanToCompletion(t *testing.T) {
	withHarness(t, testConfig(), configuration.FakeClusterConfig{}, func(h testHarness) {
		plan, err := planner.NewPlan(testMix(4))
		require.NoError(t, err)

		result, err := h.run(t, testContext(), plan)
		require.NoError(t, err)

		assert.Empty(t, h.cluster.violations)
		assert.Equal(t, domain.Drained, result.Run.Phase)
		require.Len(t, result.Records, len(plan.Specs))
		for i, record := range result.Records {
			assert.Equal(t, i, record.Seq)
			assert.Equal(t, domain.Completed, record.State)
			assert.NotNil(t, record.StartTime)
			assert.NotNil(t, record.EndTime)
		}

		stored, err := h.repo.GetAll(context.Background(), result.Run.RunId)
		require.NoError(t, err)
		assert.Len(t, stored, len(plan.Specs))
		run, err := h.repo.GetRun(context.Background(), result.Run.RunId)
		require.NoError(t, err)
		assert.Equal(t, domain.Drained, run.Phase)
		require.NotNil(t, run.EndTime)

		require.NotNil(t, result.Report)
		assert.Equal(t, 14, result.Report.States[domain.Completed])
		assert.Greater(t, result.Report.JobThroughput, 0.0)
		assert.LessOrEqual(t, result.Report.ResourceUtilization, 1.0)
		assert.Contains(t, h.out.String(), "Job throughput:")
	})
}

func TestApp_RejectedSubmissionsAreRecordedOnce(t *testing.T) {
	withHarness(t, testConfig(), configuration.FakeClusterConfig{RejectEvery: 3, FailEvery: 4}, func(h testHarness) {
		plan, err := planner.NewPlan(testMix(4))
		require.NoError(t, err)

		result, err := h.run(t, testContext(), plan)
		require.NoError(t, err)
		assert.Empty(t, h.cluster.violations)

		counts := domain.CountStates(result.Records)
		assert.Equal(t, len(plan.Specs), counts.Total())
		assert.Greater(t, counts[domain.SubmissionError], 0)
		assert.Greater(t, counts[domain.Failed], 0)
		assert.Equal(t, 0, counts.InStates(domain.LiveStates...))
	})
}

func TestApp_WindowExpiryStopsSubmissions(t *testing.T) {
	withHarness(t, testConfig(), configuration.FakeClusterConfig{}, func(h testHarness) {
		plan, err := planner.NewPlan(testMix(0.25))
		require.NoError(t, err)

		result, err := h.run(t, testContext(), plan)
		require.NoError(t, err)
		assert.Equal(t, domain.Drained, result.Run.Phase)
		assert.Less(t, len(result.Records), len(plan.Specs))
		for _, record := range result.Records {
			assert.True(t, record.SubmitTime.Before(result.Run.Window().End()))
			assert.True(t, record.State.IsTerminal())
		}
	})
}

func TestApp_CancelledRunIsAborted(t *testing.T) {
	withHarness(t, testConfig(), configuration.FakeClusterConfig{}, func(h testHarness) {
		plan, err := planner.NewPlan(testMix(4))
		require.NoError(t, err)
		ctx, cancel := runcontext.WithCancel(testContext())
		cancel()

		result, err := h.app.Run(ctx, plan)
		var insufficient *benchmarkerrors.ErrInsufficientData
		assert.True(t, errors.As(err, &insufficient), "got %v", err)
		assert.Equal(t, domain.Aborted, result.Run.Phase)
		assert.Equal(t, "interrupted", result.Run.AbortReason)

		run, err := h.repo.GetRun(context.Background(), result.Run.RunId)
		require.NoError(t, err)
		assert.Equal(t, domain.Aborted, run.Phase)
	})
}

func TestReportRun_UsesLatestRun(t *testing.T) {
	withHarness(t, testConfig(), configuration.FakeClusterConfig{}, func(h testHarness) {
		plan, err := planner.NewPlan(testMix(4))
		require.NoError(t, err)
		first, err := h.run(t, testContext(), plan)
		require.NoError(t, err)
		second, err := h.run(t, testContext(), plan)
		require.NoError(t, err)
		require.NotEqual(t, first.Run.RunId, second.Run.RunId)

		out := &bytes.Buffer{}
		report, err := reportRun(testContext(), h.repo, h.clock, "", 0, configuration.ReportConfig{Format: configuration.JsonReport}, out)
		require.NoError(t, err)
		assert.Equal(t, second.Run.RunId, report.RunId)
		assert.InDelta(t, second.Report.JobThroughput, report.JobThroughput, 1e-9)
		assert.Contains(t, out.String(), `"runId": "`+second.Run.RunId+`"`)

		doubled, err := reportRun(testContext(), h.repo, h.clock, first.Run.RunId, 32, configuration.ReportConfig{}, &bytes.Buffer{})
		require.NoError(t, err)
		assert.InDelta(t, first.Report.ResourceUtilization/2, doubled.ResourceUtilization, 1e-9)
	})
}

func TestReportRun_NoRuns(t *testing.T) {
	repo, err := repository.NewMemDbJobRepository()
	require.NoError(t, err)
	_, err = reportRun(testContext(), repo, clocktesting.NewFakeClock(time.Now()), "", 0, configuration.ReportConfig{}, &bytes.Buffer{})
	assert.True(t, benchmarkerrors.IsNotFound(err))
}
