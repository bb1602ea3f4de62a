package repository

import (
	"context"
	"sort"

	"github.com/hashicorp/go-memdb"
	"github.com/pkg/errors"

	"github.com/armadaproject/jobthroughput/internal/throughput/domain"
)

const (
	jobsTable  = "jobs"
	runsTable  = "runs"
	idIndex    = "id"
	runIndex   = "run"
	stateIndex = "state"
)

// MemDbJobRepository keeps records in a go-memdb database. Nothing survives the process.
// Records are copied on the way in and out, so callers may keep mutating their own.
type MemDbJobRepository struct {
	db *memdb.MemDB
}

func NewMemDbJobRepository() (*MemDbJobRepository, error) {
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &MemDbJobRepository{db: db}, nil
}

func (r *MemDbJobRepository) Append(_ context.Context, record *domain.JobRecord) error {
	txn := r.db.Txn(true)
	defer txn.Abort()
	existing, err := txn.First(jobsTable, idIndex, record.RunId, record.Seq)
	if err != nil {
		return errors.WithStack(err)
	}
	if existing != nil {
		return errRecordExists(record)
	}
	if err := txn.Insert(jobsTable, record.Copy()); err != nil {
		return errors.WithStack(err)
	}
	txn.Commit()
	return nil
}

func (r *MemDbJobRepository) Update(_ context.Context, record *domain.JobRecord) error {
	txn := r.db.Txn(true)
	defer txn.Abort()
	existing, err := txn.First(jobsTable, idIndex, record.RunId, record.Seq)
	if err != nil {
		return errors.WithStack(err)
	}
	if existing == nil {
		return errRecordNotFound(record)
	}
	if err := txn.Insert(jobsTable, record.Copy()); err != nil {
		return errors.WithStack(err)
	}
	txn.Commit()
	return nil
}

func (r *MemDbJobRepository) GetByState(_ context.Context, runId string, states ...domain.JobState) ([]*domain.JobRecord, error) {
	txn := r.db.Txn(false)
	defer txn.Abort()
	result := make([]*domain.JobRecord, 0)
	for _, state := range states {
		// StringFieldIndex only accepts plain strings as lookup arguments
		iter, err := txn.Get(jobsTable, stateIndex, runId, string(state))
		if err != nil {
			return nil, errors.WithStack(err)
		}
		result = appendRecords(result, iter)
	}
	sortBySeq(result)
	return result, nil
}

func (r *MemDbJobRepository) GetAll(_ context.Context, runId string) ([]*domain.JobRecord, error) {
	txn := r.db.Txn(false)
	defer txn.Abort()
	iter, err := txn.Get(jobsTable, runIndex, runId)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	result := appendRecords(make([]*domain.JobRecord, 0), iter)
	sortBySeq(result)
	return result, nil
}

func (r *MemDbJobRepository) SaveRun(_ context.Context, run *RunInfo) error {
	txn := r.db.Txn(true)
	defer txn.Abort()
	c := *run
	if err := txn.Insert(runsTable, &c); err != nil {
		return errors.WithStack(err)
	}
	txn.Commit()
	return nil
}

func (r *MemDbJobRepository) GetRun(_ context.Context, runId string) (*RunInfo, error) {
	txn := r.db.Txn(false)
	defer txn.Abort()
	obj, err := txn.First(runsTable, idIndex, runId)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if obj == nil {
		return nil, errRunNotFound(runId)
	}
	c := *obj.(*RunInfo)
	return &c, nil
}

func (r *MemDbJobRepository) ListRuns(_ context.Context) ([]string, error) {
	txn := r.db.Txn(false)
	defer txn.Abort()
	iter, err := txn.Get(runsTable, idIndex)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	ids := make([]string, 0)
	for obj := iter.Next(); obj != nil; obj = iter.Next() {
		ids = append(ids, obj.(*RunInfo).RunId)
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *MemDbJobRepository) HealthCheck(_ context.Context) (bool, error) {
	return true, nil
}

func (r *MemDbJobRepository) Close() error {
	return nil
}

func appendRecords(result []*domain.JobRecord, iter memdb.ResultIterator) []*domain.JobRecord {
	for obj := iter.Next(); obj != nil; obj = iter.Next() {
		result = append(result, obj.(*domain.JobRecord).Copy())
	}
	return result
}

func sortBySeq(records []*domain.JobRecord) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].Seq < records[j].Seq
	})
}

// schema creates a "jobs" table keyed by run and sequence number, with lookups by run and by state,
// and a "runs" table keyed by run id.
func schema() *memdb.DBSchema {
	jobIndexes := map[string]*memdb.IndexSchema{
		idIndex: {
			Name:   idIndex,
			Unique: true,
			Indexer: &memdb.CompoundIndex{
				Indexes: []memdb.Indexer{
					&memdb.StringFieldIndex{Field: "RunId"},
					&memdb.IntFieldIndex{Field: "Seq"},
				},
			},
		},
		runIndex: {
			Name:    runIndex,
			Unique:  false,
			Indexer: &memdb.StringFieldIndex{Field: "RunId"},
		},
		stateIndex: {
			Name:   stateIndex,
			Unique: false,
			Indexer: &memdb.CompoundIndex{
				Indexes: []memdb.Indexer{
					&memdb.StringFieldIndex{Field: "RunId"},
					&memdb.StringFieldIndex{Field: "State"},
				},
			},
		},
	}
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			jobsTable: {
				Name:    jobsTable,
				Indexes: jobIndexes,
			},
			runsTable: {
				Name: runsTable,
				Indexes: map[string]*memdb.IndexSchema{
					idIndex: {
						Name:    idIndex,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "RunId"},
					},
				},
			},
		},
	}
}
