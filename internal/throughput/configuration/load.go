package configuration

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/armadaproject/jobthroughput/internal/common/benchmarkerrors"
	"github.com/armadaproject/jobthroughput/internal/common/config"
)

var CustomHooks = []mapstructure.DecodeHookFunc{
	config.EnumHookFunc(LenientPolicy, StrictPolicy),
	config.EnumHookFunc(SqliteStore, PostgresStore, RedisStore, MemoryStore),
	config.EnumHookFunc(SlurmCluster, FakeCluster),
	config.EnumHookFunc(TextReport, YamlReport, JsonReport),
}

// SetDefaults registers the default value of every setting, which also makes every key visible to
// viper's environment variable lookup.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logLevel", "info")
	v.SetDefault("pollInterval", 30*time.Second)
	v.SetDefault("summaryInterval", 5*time.Minute)
	v.SetDefault("submitInterval", time.Second)
	v.SetDefault("drainTimeout", time.Duration(0))
	v.SetDefault("holdWindow", false)
	v.SetDefault("terminalPolicy", string(LenientPolicy))
	v.SetDefault("missingGracePolls", 2)
	v.SetDefault("transport.attempts", 4)
	v.SetDefault("transport.initialBackoff", time.Second)
	v.SetDefault("transport.maxBackoff", 30*time.Second)
	v.SetDefault("store.type", string(SqliteStore))
	v.SetDefault("store.path", "job_throughput.db")
	v.SetDefault("store.postgres", map[string]string{})
	v.SetDefault("store.redis.addr", "localhost:6379")
	v.SetDefault("store.redis.password", "")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("cluster.type", string(SlurmCluster))
	v.SetDefault("cluster.scriptDir", "scripts")
	v.SetDefault("cluster.scriptCacheSize", 128)
	v.SetDefault("cluster.slurm.sbatch", "sbatch")
	v.SetDefault("cluster.slurm.sacct", "sacct")
	v.SetDefault("cluster.slurm.extraSbatchArgs", []string{})
	v.SetDefault("cluster.fake.timeScale", 1.0)
	v.SetDefault("cluster.fake.rejectEvery", 0)
	v.SetDefault("cluster.fake.failEvery", 0)
	v.SetDefault("cluster.fake.purgeTerminal", false)
	v.SetDefault("metricsPort", 0)
	v.SetDefault("report.path", "")
	v.SetDefault("report.format", string(TextReport))
}

// Load decodes and validates the configuration held by v.
func Load(v *viper.Viper) (*Configuration, error) {
	var c Configuration
	if err := config.Unmarshal(v, &c, CustomHooks...); err != nil {
		// mapstructure flattens hook errors into strings, so the offending key is only in the message.
		return nil, &benchmarkerrors.ErrInvalidArgument{Name: "configuration", Value: v.ConfigFileUsed(), Message: err.Error()}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate reports every invalid setting at once.
func (c *Configuration) Validate() error {
	var result *multierror.Error
	invalid := func(name string, value interface{}, message string) {
		result = multierror.Append(result, &benchmarkerrors.ErrInvalidArgument{Name: name, Value: value, Message: message})
	}

	if c.PollInterval <= 0 {
		invalid("pollInterval", c.PollInterval, "must be positive")
	}
	if c.SummaryInterval < 0 {
		invalid("summaryInterval", c.SummaryInterval, "must not be negative")
	}
	if c.SubmitInterval < 0 {
		invalid("submitInterval", c.SubmitInterval, "must not be negative")
	}
	if c.DrainTimeout < 0 {
		invalid("drainTimeout", c.DrainTimeout, "must not be negative")
	}
	if c.MissingGracePolls < 1 {
		invalid("missingGracePolls", c.MissingGracePolls, "must be at least 1")
	}
	if c.Transport.Attempts < 1 {
		invalid("transport.attempts", c.Transport.Attempts, "must be at least 1")
	}
	if c.Transport.MaxBackoff < c.Transport.InitialBackoff {
		invalid("transport.maxBackoff", c.Transport.MaxBackoff, "must not be less than transport.initialBackoff")
	}
	switch c.Store.Type {
	case SqliteStore:
		if c.Store.Path == "" {
			invalid("store.path", c.Store.Path, "required for the sqlite store")
		}
	case PostgresStore:
		if len(c.Store.Postgres) == 0 {
			invalid("store.postgres", c.Store.Postgres, "connection parameters are required for the postgres store")
		}
	case RedisStore:
		if c.Store.Redis.Addr == "" {
			invalid("store.redis.addr", c.Store.Redis.Addr, "required for the redis store")
		}
	case MemoryStore:
	default:
		invalid("store.type", c.Store.Type, fmt.Sprintf("must be one of %s, %s, %s, %s", SqliteStore, PostgresStore, RedisStore, MemoryStore))
	}
	switch c.Cluster.Type {
	case SlurmCluster:
		if c.Cluster.ScriptDir == "" {
			invalid("cluster.scriptDir", c.Cluster.ScriptDir, "required for the slurm cluster")
		}
	case FakeCluster:
		if c.Cluster.Fake.TimeScale <= 0 {
			invalid("cluster.fake.timeScale", c.Cluster.Fake.TimeScale, "must be positive")
		}
	default:
		invalid("cluster.type", c.Cluster.Type, fmt.Sprintf("must be %s or %s", SlurmCluster, FakeCluster))
	}
	if c.Cluster.ScriptCacheSize < 1 {
		invalid("cluster.scriptCacheSize", c.Cluster.ScriptCacheSize, "must be at least 1")
	}
	switch c.Report.Format {
	case TextReport, YamlReport, JsonReport:
	default:
		invalid("report.format", c.Report.Format, fmt.Sprintf("must be one of %s, %s, %s", TextReport, YamlReport, JsonReport))
	}
	return result.ErrorOrNil()
}
