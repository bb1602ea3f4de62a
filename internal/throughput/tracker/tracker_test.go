package tracker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/armadaproject/jobthroughput/internal/common/logging"
	"github.com/armadaproject/jobthroughput/internal/common/runcontext"
	"github.com/armadaproject/jobthroughput/internal/throughput/cluster"
	"github.com/armadaproject/jobthroughput/internal/throughput/configuration"
	"github.com/armadaproject/jobthroughput/internal/throughput/domain"
	"github.com/armadaproject/jobthroughput/internal/throughput/jobdb"
	"github.com/armadaproject/jobthroughput/internal/throughput/metrics"
	"github.com/armadaproject/jobthroughput/internal/throughput/repository"
)

var baseTime = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type countingRepository struct {
	repository.JobRepository
	updates int
}

func (r *countingRepository) Update(ctx context.Context, record *domain.JobRecord) error {
	r.updates++
	return r.JobRepository.Update(ctx, record)
}

type testSetup struct {
	tracker         *Tracker
	cluster         *cluster.FakeCluster
	jobDb           *jobdb.JobDb
	repo            *countingRepository
	run             *domain.RunState
	clock           *clocktesting.FakeClock
	submissionsDone chan struct{}
}

func defaultConfig() Config {
	return Config{
		PollInterval:      time.Minute,
		SummaryInterval:   5 * time.Minute,
		TerminalPolicy:    configuration.LenientPolicy,
		MissingGracePolls: 2,
	}
}

func withTracker(t *testing.T, config Config, fake configuration.FakeClusterConfig, action func(s testSetup)) {
	clk := clocktesting.NewFakeClock(baseTime)
	memDb, err := repository.NewMemDbJobRepository()
	require.NoError(t, err)
	repo := &countingRepository{JobRepository: memDb}
	run := domain.NewRunState("run", domain.NewTestWindow(baseTime, 1), 8, "q")
	db := jobdb.NewJobDb(8)
	fakeCluster := cluster.NewFakeCluster(fake, 8, clk)
	done := make(chan struct{})
	tracker := NewTracker(config, run, db, fakeCluster, repo, clk, metrics.NewInstruments(), done)
	action(testSetup{
		tracker:         tracker,
		cluster:         fakeCluster,
		jobDb:           db,
		repo:            repo,
		run:             run,
		clock:           clk,
		submissionsDone: done,
	})
}

func testContext() *runcontext.Context {
	return runcontext.New(context.Background(), logging.NullEntry())
}

// submit puts a job on the fake cluster and hands its record to the job table, as the submitter would.
func (s testSetup) submit(t *testing.T, seq int, nodes int, minutes int) string {
	ref, err := s.cluster.Generate(nodes, minutes, "q")
	require.NoError(t, err)
	jobId, err := s.cluster.Submit(context.Background(), ref)
	require.NoError(t, err)

	record := domain.NewJobRecord("run", domain.JobSpec{Seq: seq, ClassId: "c", Nodes: nodes, DurationMinutes: minutes}, s.clock.Now())
	record.JobId = jobId
	record.ScriptRef = ref
	record.State = domain.Submitted
	require.NoError(t, s.repo.Append(context.Background(), record))
	require.True(t, s.jobDb.Reserve(nodes))
	require.NoError(t, s.jobDb.Insert(record))
	return jobId
}

func (s testSetup) stored(t *testing.T, seq int) *domain.JobRecord {
	records, err := s.repo.GetAll(context.Background(), "run")
	require.NoError(t, err)
	for _, r := range records {
		if r.Seq == seq {
			return r
		}
	}
	t.Fatalf("no record with seq %d", seq)
	return nil
}

func TestPoll_AppliesObservedStates(t *testing.T) {
	withTracker(t, defaultConfig(), configuration.FakeClusterConfig{}, func(s testSetup) {
		ctx := testContext()
		s.submit(t, 0, 4, 10)

		require.NoError(t, s.tracker.Poll(ctx))
		running := s.stored(t, 0)
		assert.Equal(t, domain.Running, running.State)
		assert.Equal(t, baseTime, *running.StartTime)
		assert.Equal(t, 4, s.jobDb.CommittedNodes())

		s.clock.Step(10 * time.Minute)
		require.NoError(t, s.tracker.Poll(ctx))
		completed := s.stored(t, 0)
		assert.Equal(t, domain.Completed, completed.State)
		assert.Equal(t, baseTime.Add(10*time.Minute), *completed.EndTime)
		assert.Equal(t, 0, s.jobDb.CommittedNodes())
		assert.Empty(t, s.jobDb.LiveJobIds())
	})
}

func TestPoll_RepeatedObservationIsNotPersistedAgain(t *testing.T) {
	withTracker(t, defaultConfig(), configuration.FakeClusterConfig{}, func(s testSetup) {
		ctx := testContext()
		s.submit(t, 0, 1, 10)

		require.NoError(t, s.tracker.Poll(ctx))
		assert.Equal(t, 1, s.repo.updates)
		require.NoError(t, s.tracker.Poll(ctx))
		assert.Equal(t, 1, s.repo.updates)
	})
}

func TestPoll_FailedQueryIsSkipped(t *testing.T) {
	withTracker(t, defaultConfig(), configuration.FakeClusterConfig{}, func(s testSetup) {
		ctx := testContext()
		s.submit(t, 0, 1, 10)
		s.cluster.InjectTransportErrors(1)

		require.NoError(t, s.tracker.Poll(ctx))
		assert.Equal(t, domain.Submitted, s.stored(t, 0).State)
		assert.Equal(t, 0, s.repo.updates)

		require.NoError(t, s.tracker.Poll(ctx))
		assert.Equal(t, domain.Running, s.stored(t, 0).State)
	})
}

func TestPoll_VanishedJobs(t *testing.T) {
	tests := map[string]struct {
		policy        configuration.TerminalPolicy
		failEvery     int
		expectedState domain.JobState
	}{
		"lenient treats a vanished job as completed": {
			policy:        configuration.LenientPolicy,
			expectedState: domain.Completed,
		},
		"strict treats a vanished job as failed": {
			policy:        configuration.StrictPolicy,
			expectedState: domain.Failed,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			config := defaultConfig()
			config.TerminalPolicy = tc.policy
			withTracker(t, config, configuration.FakeClusterConfig{PurgeTerminal: true}, func(s testSetup) {
				ctx := testContext()
				s.submit(t, 0, 2, 5)
				require.NoError(t, s.tracker.Poll(ctx))
				require.Equal(t, domain.Running, s.stored(t, 0).State)

				s.clock.Step(10 * time.Minute)
				require.NoError(t, s.tracker.Poll(ctx))
				missing := s.stored(t, 0)
				assert.Equal(t, domain.Running, missing.State)
				assert.Equal(t, 1, missing.MissedPolls)
				assert.Equal(t, 2, s.jobDb.CommittedNodes())

				require.NoError(t, s.tracker.Poll(ctx))
				classified := s.stored(t, 0)
				assert.Equal(t, tc.expectedState, classified.State)
				assert.Equal(t, 0, s.jobDb.CommittedNodes())
			})
		})
	}
}

func TestPoll_VanishedAfterErrorSignalIsFailed(t *testing.T) {
	withTracker(t, defaultConfig(), configuration.FakeClusterConfig{PurgeTerminal: true}, func(s testSetup) {
		ctx := testContext()
		jobId := s.submit(t, 0, 1, 5)
		_, _, err := s.jobDb.Update(jobId, func(r *domain.JobRecord) domain.Transition {
			return r.Apply(domain.Observation{State: domain.Running, Error: "suspended"}, baseTime)
		})
		require.NoError(t, err)

		s.clock.Step(10 * time.Minute)
		require.NoError(t, s.tracker.Poll(ctx))
		require.NoError(t, s.tracker.Poll(ctx))
		assert.Equal(t, domain.Failed, s.stored(t, 0).State)
	})
}

func TestPoll_VanishedBeforeSeenRunningIsFailed(t *testing.T) {
	withTracker(t, defaultConfig(), configuration.FakeClusterConfig{PurgeTerminal: true}, func(s testSetup) {
		ctx := testContext()
		s.submit(t, 0, 1, 5)

		s.clock.Step(10 * time.Minute)
		require.NoError(t, s.tracker.Poll(ctx))
		assert.Equal(t, domain.Submitted, s.stored(t, 0).State)
		require.NoError(t, s.tracker.Poll(ctx))

		classified := s.stored(t, 0)
		assert.Equal(t, domain.Failed, classified.State)
		assert.Nil(t, classified.StartTime)
		assert.Equal(t, 0, s.jobDb.CommittedNodes())
	})
}

func TestCheckRunEnd(t *testing.T) {
	tests := map[string]struct {
		holdWindow    bool
		drainTimeout  time.Duration
		liveJob       bool
		elapsed       time.Duration
		expectedPhase domain.RunPhase
	}{
		"drained when nothing is live": {
			expectedPhase: domain.Drained,
		},
		"keeps waiting while jobs are live": {
			liveJob:       true,
			elapsed:       2 * time.Hour,
			expectedPhase: domain.Active,
		},
		"hold window keeps the run open": {
			holdWindow:    true,
			elapsed:       30 * time.Minute,
			expectedPhase: domain.Active,
		},
		"hold window ends at window close": {
			holdWindow:    true,
			elapsed:       time.Hour,
			expectedPhase: domain.Drained,
		},
		"drain timeout aborts": {
			liveJob:       true,
			drainTimeout:  30 * time.Minute,
			elapsed:       90 * time.Minute,
			expectedPhase: domain.Aborted,
		},
		"drain timeout not yet reached": {
			liveJob:       true,
			drainTimeout:  30 * time.Minute,
			elapsed:       80 * time.Minute,
			expectedPhase: domain.Active,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			config := defaultConfig()
			config.HoldWindow = tc.holdWindow
			config.DrainTimeout = tc.drainTimeout
			withTracker(t, config, configuration.FakeClusterConfig{}, func(s testSetup) {
				if tc.liveJob {
					s.submit(t, 0, 1, 600)
				}
				s.clock.Step(tc.elapsed)
				s.tracker.checkRunEnd(testContext())
				assert.Equal(t, tc.expectedPhase, s.run.Phase())
			})
		})
	}
}

func TestRun_EndsWhenDrained(t *testing.T) {
	withTracker(t, defaultConfig(), configuration.FakeClusterConfig{}, func(s testSetup) {
		errs := make(chan error, 1)
		go func() { errs <- s.tracker.Run(testContext()) }()
		close(s.submissionsDone)

		select {
		case err := <-errs:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("tracker did not stop")
		}
		assert.Equal(t, domain.Drained, s.run.Phase())
	})
}
