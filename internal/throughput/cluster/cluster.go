package cluster

import (
	"context"

	"github.com/pkg/errors"
	"k8s.io/utils/clock"

	"github.com/armadaproject/jobthroughput/internal/common/benchmarkerrors"
	"github.com/armadaproject/jobthroughput/internal/throughput/configuration"
	"github.com/armadaproject/jobthroughput/internal/throughput/domain"
	"github.com/armadaproject/jobthroughput/internal/throughput/transport"
)

// Scheduler is the external batch scheduler.
type Scheduler interface {
	// Submit queues the script and returns the scheduler's job id.
	// A rejection is returned as ErrSubmission and a transient failure as ErrTransport.
	Submit(ctx context.Context, scriptRef string) (string, error)
	// QueryStates returns the state of the given jobs. Jobs the scheduler no longer knows about are absent.
	QueryStates(ctx context.Context, jobIds []string) (map[string]domain.Observation, error)
}

// ScriptGenerator turns a job shape into a script reference that the Scheduler can submit.
type ScriptGenerator interface {
	Generate(nodes int, durationMinutes int, queue string) (string, error)
}

// RetryingScheduler retries scheduler calls that fail with ErrTransport.
type RetryingScheduler struct {
	delegate Scheduler
	retrier  *transport.Retrier
}

func NewRetryingScheduler(delegate Scheduler, retrier *transport.Retrier) *RetryingScheduler {
	return &RetryingScheduler{delegate: delegate, retrier: retrier}
}

func (s *RetryingScheduler) Submit(ctx context.Context, scriptRef string) (string, error) {
	var jobId string
	err := s.retrier.Do(ctx, "submit", benchmarkerrors.IsTransport, func() error {
		var err error
		jobId, err = s.delegate.Submit(ctx, scriptRef)
		return err
	})
	return jobId, err
}

func (s *RetryingScheduler) QueryStates(ctx context.Context, jobIds []string) (map[string]domain.Observation, error) {
	var states map[string]domain.Observation
	err := s.retrier.Do(ctx, "query states", benchmarkerrors.IsTransport, func() error {
		var err error
		states, err = s.delegate.QueryStates(ctx, jobIds)
		return err
	})
	return states, err
}

// New builds the scheduler and script generator selected by config.
func New(config configuration.ClusterConfig, totalNodes int, clk clock.PassiveClock) (Scheduler, ScriptGenerator, error) {
	switch config.Type {
	case configuration.SlurmCluster:
		scripts, err := NewFileScriptGenerator(config.ScriptDir, config.ScriptCacheSize)
		if err != nil {
			return nil, nil, err
		}
		return NewSlurmClient(config.Slurm, ExecRunner{}), scripts, nil
	case configuration.FakeCluster:
		fake := NewFakeCluster(config.Fake, totalNodes, clk)
		return fake, fake, nil
	}
	return nil, nil, errors.Errorf("unknown cluster type %q", config.Type)
}
