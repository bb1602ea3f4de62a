package configuration

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armadaproject/jobthroughput/internal/common/benchmarkerrors"
)

const jsonMix = `{
  "total_test_hours": 2,
  "total_nodes": 64,
  "queue_name": "normal",
  "jobs": [
    {"nodes": 10, "count": 10, "durations": [{"minutes": 30, "ratio": 0.3}, {"minutes": 60, "ratio": 0.5}, {"minutes": 120, "ratio": 0.2}]}
  ]
}`

const yamlMix = `
queue_name: normal
order: shuffled
shuffle_seed: 7
jobs:
  - name: wide
    nodes: 32
    count: 4
    durations:
      - minutes: 60
        ratio: 1.0
`

func TestDecodeMixConfig_Json(t *testing.T) {
	mix, err := DecodeMixConfig(strings.NewReader(jsonMix))
	require.NoError(t, err)
	assert.Equal(t, 2.0, mix.TotalTestHours)
	assert.Equal(t, 64, mix.TotalNodes)
	assert.Equal(t, DeclaredOrder, mix.Order)
	require.Len(t, mix.Jobs, 1)
	assert.Equal(t, "jobs[0]", mix.Jobs[0].Id(0))
	assert.Equal(t, []DurationBucket{{30, 0.3}, {60, 0.5}, {120, 0.2}}, mix.Jobs[0].Durations)
}

func TestDecodeMixConfig_YamlKeepsDefaults(t *testing.T) {
	mix, err := DecodeMixConfig(strings.NewReader(yamlMix))
	require.NoError(t, err)
	assert.Equal(t, DefaultTotalTestHours, mix.TotalTestHours)
	assert.Equal(t, DefaultTotalNodes, mix.TotalNodes)
	assert.Equal(t, ShuffledOrder, mix.Order)
	assert.Equal(t, int64(7), mix.ShuffleSeed)
	assert.Equal(t, "wide", mix.Jobs[0].Id(0))
}

func TestMixConfig_Validate(t *testing.T) {
	mix := MixConfig{
		Order: "random",
		Jobs:  []JobClass{{Name: "a"}, {Name: "a"}},
	}
	err := mix.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue_name")
	assert.Contains(t, err.Error(), "order")
	assert.Contains(t, err.Error(), "jobs[1].name")

	var invalid *benchmarkerrors.ErrInvalidArgument
	assert.True(t, errors.As(err, &invalid))
	assert.Equal(t, benchmarkerrors.ExitInvalidInput, benchmarkerrors.ExitCodeFromError(err))
}

func TestLoadMixConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mix.json")
	require.NoError(t, os.WriteFile(path, []byte(jsonMix), 0o644))
	mix, err := LoadMixConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "normal", mix.QueueName)

	_, err = LoadMixConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestLoad_Defaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	c, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, c.PollInterval)
	assert.Equal(t, LenientPolicy, c.TerminalPolicy)
	assert.Equal(t, 2, c.MissingGracePolls)
	assert.Equal(t, uint(4), c.Transport.Attempts)
	assert.Equal(t, SqliteStore, c.Store.Type)
	assert.Equal(t, SlurmCluster, c.Cluster.Type)
	assert.Equal(t, "sbatch", c.Cluster.Slurm.Sbatch)
	assert.Equal(t, TextReport, c.Report.Format)
}

func TestLoad_Overrides(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("terminalPolicy", "STRICT")
	v.Set("pollInterval", "5s")
	v.Set("store.type", "redis")
	v.Set("cluster.type", "fake")
	v.Set("cluster.fake.rejectEvery", 3)

	c, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, StrictPolicy, c.TerminalPolicy)
	assert.Equal(t, 5*time.Second, c.PollInterval)
	assert.Equal(t, RedisStore, c.Store.Type)
	assert.Equal(t, FakeCluster, c.Cluster.Type)
	assert.Equal(t, 3, c.Cluster.Fake.RejectEvery)
}

func TestLoad_UnknownEnum(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("terminalPolicy", "optimistic")
	_, err := Load(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "optimistic")
	assert.True(t, benchmarkerrors.IsPlanningError(err))
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	c, err := Load(v)
	require.NoError(t, err)

	c.PollInterval = 0
	c.MissingGracePolls = 0
	c.Store.Type = PostgresStore
	c.Transport.MaxBackoff = time.Millisecond

	err = c.Validate()
	require.Error(t, err)
	for _, field := range []string{"pollInterval", "missingGracePolls", "store.postgres", "transport.maxBackoff"} {
		assert.Contains(t, err.Error(), field)
	}
}
