package repository

import (
	"context"

	"github.com/pkg/errors"

	"github.com/armadaproject/jobthroughput/internal/common/benchmarkerrors"
	"github.com/armadaproject/jobthroughput/internal/throughput/domain"
	"github.com/armadaproject/jobthroughput/internal/throughput/transport"
)

// RetryingJobRepository retries writes and reads that fail for reasons other than the key being taken or missing.
// Errors left after the retries are wrapped in ErrTransport.
type RetryingJobRepository struct {
	JobRepository
	retrier *transport.Retrier
}

func NewRetryingJobRepository(delegate JobRepository, retrier *transport.Retrier) *RetryingJobRepository {
	return &RetryingJobRepository{JobRepository: delegate, retrier: retrier}
}

// Append treats ErrAlreadyExists on a retry as success, since an earlier attempt may have been stored
// before its error was reported.
func (r *RetryingJobRepository) Append(ctx context.Context, record *domain.JobRecord) error {
	attempts := 0
	return r.do(ctx, "append job record", func() error {
		attempts++
		err := r.JobRepository.Append(ctx, record)
		var exists *benchmarkerrors.ErrAlreadyExists
		if attempts > 1 && errors.As(err, &exists) {
			return nil
		}
		return err
	})
}

func (r *RetryingJobRepository) Update(ctx context.Context, record *domain.JobRecord) error {
	return r.do(ctx, "update job record", func() error {
		return r.JobRepository.Update(ctx, record)
	})
}

func (r *RetryingJobRepository) GetAll(ctx context.Context, runId string) ([]*domain.JobRecord, error) {
	var records []*domain.JobRecord
	err := r.do(ctx, "read job records", func() error {
		var err error
		records, err = r.JobRepository.GetAll(ctx, runId)
		return err
	})
	return records, err
}

func (r *RetryingJobRepository) SaveRun(ctx context.Context, run *RunInfo) error {
	return r.do(ctx, "save run", func() error {
		return r.JobRepository.SaveRun(ctx, run)
	})
}

func (r *RetryingJobRepository) do(ctx context.Context, operation string, fn func() error) error {
	err := r.retrier.Do(ctx, operation, isRetriable, fn)
	if err == nil || !isRetriable(err) {
		return err
	}
	return &benchmarkerrors.ErrTransport{Operation: operation, Err: err}
}

func isRetriable(err error) bool {
	var exists *benchmarkerrors.ErrAlreadyExists
	if errors.As(err, &exists) || benchmarkerrors.IsNotFound(err) {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
