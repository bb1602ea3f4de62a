package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"

	"github.com/armadaproject/jobthroughput/internal/throughput/domain"
)

const (
	redisKeyPrefix = "jobthroughput"
	runsKey        = redisKeyPrefix + ":runs"
)

// RedisJobRepository stores each run's records in a hash keyed by sequence number, with JSON values.
type RedisJobRepository struct {
	db redis.UniversalClient
}

func NewRedisJobRepository(db redis.UniversalClient) *RedisJobRepository {
	return &RedisJobRepository{db: db}
}

func jobsKey(runId string) string {
	return fmt.Sprintf("%s:run:%s:jobs", redisKeyPrefix, runId)
}

func (r *RedisJobRepository) Append(_ context.Context, record *domain.JobRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return errors.WithStack(err)
	}
	created, err := r.db.HSetNX(jobsKey(record.RunId), strconv.Itoa(record.Seq), data).Result()
	if err != nil {
		return errors.WithStack(err)
	}
	if !created {
		return errRecordExists(record)
	}
	return nil
}

func (r *RedisJobRepository) Update(_ context.Context, record *domain.JobRecord) error {
	field := strconv.Itoa(record.Seq)
	exists, err := r.db.HExists(jobsKey(record.RunId), field).Result()
	if err != nil {
		return errors.WithStack(err)
	}
	if !exists {
		return errRecordNotFound(record)
	}
	data, err := json.Marshal(record)
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(r.db.HSet(jobsKey(record.RunId), field, data).Err())
}

func (r *RedisJobRepository) GetByState(ctx context.Context, runId string, states ...domain.JobState) ([]*domain.JobRecord, error) {
	all, err := r.GetAll(ctx, runId)
	if err != nil {
		return nil, err
	}
	wanted := stateSet(states)
	result := make([]*domain.JobRecord, 0, len(all))
	for _, record := range all {
		if wanted[record.State] {
			result = append(result, record)
		}
	}
	return result, nil
}

func (r *RedisJobRepository) GetAll(_ context.Context, runId string) ([]*domain.JobRecord, error) {
	values, err := r.db.HGetAll(jobsKey(runId)).Result()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	result := make([]*domain.JobRecord, 0, len(values))
	for field, value := range values {
		record := &domain.JobRecord{}
		if err := json.Unmarshal([]byte(value), record); err != nil {
			return nil, errors.Wrapf(err, "error unmarshalling job record %s", recordKey(runId, mustAtoi(field)))
		}
		result = append(result, record)
	}
	sortBySeq(result)
	return result, nil
}

func (r *RedisJobRepository) SaveRun(_ context.Context, run *RunInfo) error {
	data, err := json.Marshal(run)
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(r.db.HSet(runsKey, run.RunId, data).Err())
}

func (r *RedisJobRepository) GetRun(_ context.Context, runId string) (*RunInfo, error) {
	value, err := r.db.HGet(runsKey, runId).Result()
	if err == redis.Nil {
		return nil, errRunNotFound(runId)
	} else if err != nil {
		return nil, errors.WithStack(err)
	}
	run := &RunInfo{}
	if err := json.Unmarshal([]byte(value), run); err != nil {
		return nil, errors.Wrapf(err, "error unmarshalling run %s", runId)
	}
	return run, nil
}

func (r *RedisJobRepository) ListRuns(_ context.Context) ([]string, error) {
	ids, err := r.db.HKeys(runsKey).Result()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	slices.Sort(ids)
	return ids, nil
}

func (r *RedisJobRepository) HealthCheck(_ context.Context) (bool, error) {
	if err := r.db.Ping().Err(); err != nil {
		return false, errors.Wrap(err, "redis health check failed")
	}
	return true, nil
}

func (r *RedisJobRepository) Close() error {
	return r.db.Close()
}

func mustAtoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
