package configuration

import (
	"time"
)

// TerminalPolicy decides how a job that disappears from scheduler queries is classified.
type TerminalPolicy string

const (
	// LenientPolicy treats a vanished job as Completed unless its last signal was an error.
	LenientPolicy TerminalPolicy = "lenient"
	// StrictPolicy treats a vanished job as Failed.
	StrictPolicy TerminalPolicy = "strict"
)

type StoreType string

const (
	SqliteStore   StoreType = "sqlite"
	PostgresStore StoreType = "postgres"
	RedisStore    StoreType = "redis"
	MemoryStore   StoreType = "memory"
)

type ClusterType string

const (
	SlurmCluster ClusterType = "slurm"
	FakeCluster  ClusterType = "fake"
)

type ReportFormat string

const (
	TextReport ReportFormat = "text"
	YamlReport ReportFormat = "yaml"
	JsonReport ReportFormat = "json"
)

type Configuration struct {
	LogLevel string
	// How often the scheduler is queried for the state of live jobs.
	// Also bounds how long the submitter waits for capacity before re-checking.
	PollInterval time.Duration
	// How often the tracker logs a summary of job states.
	SummaryInterval time.Duration
	// Pause after each successful submission.
	SubmitInterval time.Duration
	// Once the window has expired, abort if jobs are still live after this long. Zero waits forever.
	DrainTimeout time.Duration
	// Keep tracking until the window closes even when every job has finished early.
	HoldWindow        bool
	TerminalPolicy    TerminalPolicy
	MissingGracePolls int
	Transport         TransportConfig
	Store             StoreConfig
	Cluster           ClusterConfig
	// Serve prometheus metrics on this port. Zero disables the endpoint.
	MetricsPort uint16
	Report      ReportConfig
}

// TransportConfig bounds retries of scheduler and store calls that fail transiently.
type TransportConfig struct {
	Attempts       uint
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type StoreConfig struct {
	Type StoreType
	// Sqlite database file
	Path string
	// Postgres connection parameters, e.g. host, port, user, password, dbname, sslmode
	Postgres map[string]string
	Redis    RedisConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type ClusterConfig struct {
	Type ClusterType
	// Directory the generated batch scripts are written to
	ScriptDir       string
	ScriptCacheSize int
	Slurm           SlurmConfig
	Fake            FakeClusterConfig
}

type SlurmConfig struct {
	Sbatch          string
	Sacct           string
	ExtraSbatchArgs []string
}

// FakeClusterConfig configures the in-process scheduler used for dry runs.
type FakeClusterConfig struct {
	// Fraction of the planned duration a fake job actually runs for
	TimeScale float64
	// Reject every Nth submission. Zero disables.
	RejectEvery int
	// Fail every Nth job that runs. Zero disables.
	FailEvery int
	// Drop terminal jobs from query results, like a scheduler that only lists live jobs
	PurgeTerminal bool
}

type ReportConfig struct {
	// File the report is written to. Empty writes to stdout.
	Path   string
	Format ReportFormat
}
