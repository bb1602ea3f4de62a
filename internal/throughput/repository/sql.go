package repository

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	_ "modernc.org/sqlite"

	"github.com/armadaproject/jobthroughput/internal/throughput/domain"
)

var (
	jobsSqlTable = goqu.T("jobs")
	runsSqlTable = goqu.T("runs")
)

// The same DDL runs on sqlite and postgres. Times are unix milliseconds.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT NOT NULL PRIMARY KEY,
		queue TEXT NOT NULL DEFAULT '',
		total_nodes INTEGER NOT NULL,
		total_test_hours DOUBLE PRECISION NOT NULL,
		start_time BIGINT NOT NULL,
		end_time BIGINT NULL,
		phase TEXT NOT NULL DEFAULT '',
		abort_reason TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS jobs (
		run_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		class_id TEXT NOT NULL DEFAULT '',
		job_id TEXT NOT NULL DEFAULT '',
		nodes INTEGER NOT NULL,
		duration_minutes INTEGER NOT NULL,
		submit_time BIGINT NOT NULL,
		start_time BIGINT NULL,
		end_time BIGINT NULL,
		state TEXT NOT NULL,
		script_ref TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		missed_polls INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (run_id, seq)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_run_state ON jobs (run_id, state)`,
}

type jobRow struct {
	RunId           string        `db:"run_id"`
	Seq             int           `db:"seq"`
	ClassId         string        `db:"class_id"`
	JobId           string        `db:"job_id"`
	Nodes           int           `db:"nodes"`
	DurationMinutes int           `db:"duration_minutes"`
	SubmitTime      int64         `db:"submit_time"`
	StartTime       sql.NullInt64 `db:"start_time"`
	EndTime         sql.NullInt64 `db:"end_time"`
	State           string        `db:"state"`
	ScriptRef       string        `db:"script_ref"`
	Error           string        `db:"error"`
	MissedPolls     int           `db:"missed_polls"`
}

type runRow struct {
	RunId          string        `db:"run_id"`
	Queue          string        `db:"queue"`
	TotalNodes     int           `db:"total_nodes"`
	TotalTestHours float64       `db:"total_test_hours"`
	StartTime      int64         `db:"start_time"`
	EndTime        sql.NullInt64 `db:"end_time"`
	Phase          string        `db:"phase"`
	AbortReason    string        `db:"abort_reason"`
}

// SqlJobRepository stores records in sqlite or postgres, building statements with goqu.
type SqlJobRepository struct {
	db     *sql.DB
	goquDb *goqu.Database
	// sqlite allows a single writer, and SaveRun is a read-modify-write on either database
	writeLock sync.Mutex
}

// NewSqliteJobRepository opens (creating if needed) the sqlite database at path.
func NewSqliteJobRepository(ctx context.Context, path string) (*SqlJobRepository, error) {
	dir := filepath.Dir(path)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "could not make directory at %s for sqlite db", dir)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "error opening sqlite db %s", path)
	}
	r := &SqlJobRepository{db: db, goquDb: goqu.New("sqlite3", db)}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, errors.WithStack(err)
	}
	if err := r.setup(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

// NewPostgresJobRepository connects to postgres with the given libpq connection parameters.
func NewPostgresJobRepository(ctx context.Context, connection map[string]string) (*SqlJobRepository, error) {
	db, err := sql.Open("pgx", CreateConnectionString(connection))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	r := &SqlJobRepository{db: db, goquDb: goqu.New("postgres", db)}
	if err := r.setup(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

// CreateConnectionString renders libpq key/value connection parameters, quoting every value.
func CreateConnectionString(values map[string]string) string {
	// https://www.postgresql.org/docs/current/libpq-connect.html#LIBPQ-CONNSTRING
	keys := maps.Keys(values)
	slices.Sort(keys)
	replacer := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"='"+replacer.Replace(values[k])+"'")
	}
	return strings.Join(parts, " ")
}

func (r *SqlJobRepository) setup(ctx context.Context) error {
	r.writeLock.Lock()
	defer r.writeLock.Unlock()
	for _, stmt := range schemaStatements {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "error creating job tables")
		}
	}
	return nil
}

func (r *SqlJobRepository) Append(ctx context.Context, record *domain.JobRecord) error {
	r.writeLock.Lock()
	defer r.writeLock.Unlock()
	result, err := r.goquDb.Insert(jobsSqlTable).
		Prepared(true).
		Rows(toJobRow(record)).
		OnConflict(goqu.DoNothing()).
		Executor().
		ExecContext(ctx)
	if err != nil {
		return errors.WithStack(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return errors.WithStack(err)
	}
	if n == 0 {
		return errRecordExists(record)
	}
	return nil
}

func (r *SqlJobRepository) Update(ctx context.Context, record *domain.JobRecord) error {
	r.writeLock.Lock()
	defer r.writeLock.Unlock()
	row := toJobRow(record)
	result, err := r.goquDb.Update(jobsSqlTable).
		Prepared(true).
		Set(goqu.Record{
			"class_id":         row.ClassId,
			"job_id":           row.JobId,
			"nodes":            row.Nodes,
			"duration_minutes": row.DurationMinutes,
			"submit_time":      row.SubmitTime,
			"start_time":       row.StartTime,
			"end_time":         row.EndTime,
			"state":            row.State,
			"script_ref":       row.ScriptRef,
			"error":            row.Error,
			"missed_polls":     row.MissedPolls,
		}).
		Where(goqu.C("run_id").Eq(row.RunId), goqu.C("seq").Eq(row.Seq)).
		Executor().
		ExecContext(ctx)
	if err != nil {
		return errors.WithStack(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return errors.WithStack(err)
	}
	if n == 0 {
		return errRecordNotFound(record)
	}
	return nil
}

func (r *SqlJobRepository) GetByState(ctx context.Context, runId string, states ...domain.JobState) ([]*domain.JobRecord, error) {
	if len(states) == 0 {
		return []*domain.JobRecord{}, nil
	}
	names := make([]string, len(states))
	for i, s := range states {
		names[i] = string(s)
	}
	return r.selectJobs(ctx, goqu.C("run_id").Eq(runId), goqu.C("state").In(names))
}

func (r *SqlJobRepository) GetAll(ctx context.Context, runId string) ([]*domain.JobRecord, error) {
	return r.selectJobs(ctx, goqu.C("run_id").Eq(runId))
}

func (r *SqlJobRepository) selectJobs(ctx context.Context, filters ...goqu.Expression) ([]*domain.JobRecord, error) {
	var rows []jobRow
	err := r.goquDb.From(jobsSqlTable).
		Prepared(true).
		Where(filters...).
		Order(goqu.C("seq").Asc()).
		ScanStructsContext(ctx, &rows)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	records := make([]*domain.JobRecord, len(rows))
	for i, row := range rows {
		records[i], err = fromJobRow(row)
		if err != nil {
			return nil, err
		}
	}
	return records, nil
}

func (r *SqlJobRepository) SaveRun(ctx context.Context, run *RunInfo) error {
	r.writeLock.Lock()
	defer r.writeLock.Unlock()
	row := toRunRow(run)
	result, err := r.goquDb.Update(runsSqlTable).
		Prepared(true).
		Set(goqu.Record{
			"queue":            row.Queue,
			"total_nodes":      row.TotalNodes,
			"total_test_hours": row.TotalTestHours,
			"start_time":       row.StartTime,
			"end_time":         row.EndTime,
			"phase":            row.Phase,
			"abort_reason":     row.AbortReason,
		}).
		Where(goqu.C("run_id").Eq(row.RunId)).
		Executor().
		ExecContext(ctx)
	if err != nil {
		return errors.WithStack(err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return errors.WithStack(err)
	} else if n > 0 {
		return nil
	}
	_, err = r.goquDb.Insert(runsSqlTable).Prepared(true).Rows(row).Executor().ExecContext(ctx)
	return errors.WithStack(err)
}

func (r *SqlJobRepository) GetRun(ctx context.Context, runId string) (*RunInfo, error) {
	var row runRow
	found, err := r.goquDb.From(runsSqlTable).
		Prepared(true).
		Where(goqu.C("run_id").Eq(runId)).
		ScanStructContext(ctx, &row)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if !found {
		return nil, errRunNotFound(runId)
	}
	return fromRunRow(row), nil
}

func (r *SqlJobRepository) ListRuns(ctx context.Context) ([]string, error) {
	ids := make([]string, 0)
	err := r.goquDb.From(runsSqlTable).
		Prepared(true).
		Select(goqu.C("run_id")).
		Order(goqu.C("run_id").Asc()).
		ScanValsContext(ctx, &ids)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return ids, nil
}

func (r *SqlJobRepository) HealthCheck(ctx context.Context) (bool, error) {
	if err := r.db.PingContext(ctx); err != nil {
		return false, errors.Wrap(err, "database health check failed")
	}
	return true, nil
}

func (r *SqlJobRepository) Close() error {
	return r.db.Close()
}

func toJobRow(record *domain.JobRecord) jobRow {
	return jobRow{
		RunId:           record.RunId,
		Seq:             record.Seq,
		ClassId:         record.ClassId,
		JobId:           record.JobId,
		Nodes:           record.Nodes,
		DurationMinutes: record.DurationMinutes,
		SubmitTime:      record.SubmitTime.UnixMilli(),
		StartTime:       toNullMillis(record.StartTime),
		EndTime:         toNullMillis(record.EndTime),
		State:           string(record.State),
		ScriptRef:       record.ScriptRef,
		Error:           record.Error,
		MissedPolls:     record.MissedPolls,
	}
}

func fromJobRow(row jobRow) (*domain.JobRecord, error) {
	state, err := domain.ParseJobState(row.State)
	if err != nil {
		return nil, errors.WithMessage(err, fmt.Sprintf("job record %s", recordKey(row.RunId, row.Seq)))
	}
	return &domain.JobRecord{
		RunId:           row.RunId,
		Seq:             row.Seq,
		ClassId:         row.ClassId,
		JobId:           row.JobId,
		Nodes:           row.Nodes,
		DurationMinutes: row.DurationMinutes,
		SubmitTime:      time.UnixMilli(row.SubmitTime).UTC(),
		StartTime:       fromNullMillis(row.StartTime),
		EndTime:         fromNullMillis(row.EndTime),
		State:           state,
		ScriptRef:       row.ScriptRef,
		Error:           row.Error,
		MissedPolls:     row.MissedPolls,
	}, nil
}

func toRunRow(run *RunInfo) runRow {
	return runRow{
		RunId:          run.RunId,
		Queue:          run.Queue,
		TotalNodes:     run.TotalNodes,
		TotalTestHours: run.TotalTestHours,
		StartTime:      run.StartTime.UnixMilli(),
		EndTime:        toNullMillis(run.EndTime),
		Phase:          string(run.Phase),
		AbortReason:    run.AbortReason,
	}
}

func fromRunRow(row runRow) *RunInfo {
	return &RunInfo{
		RunId:          row.RunId,
		Queue:          row.Queue,
		TotalNodes:     row.TotalNodes,
		TotalTestHours: row.TotalTestHours,
		StartTime:      time.UnixMilli(row.StartTime).UTC(),
		EndTime:        fromNullMillis(row.EndTime),
		Phase:          domain.RunPhase(row.Phase),
		AbortReason:    row.AbortReason,
	}
}

func toNullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromNullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	return domain.TimePtr(time.UnixMilli(v.Int64).UTC())
}
