package cmd

import (
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/armadaproject/jobthroughput/internal/common/app"
	"github.com/armadaproject/jobthroughput/internal/common/logging"
	"github.com/armadaproject/jobthroughput/internal/common/runcontext"
	"github.com/armadaproject/jobthroughput/internal/throughput"
	"github.com/armadaproject/jobthroughput/internal/throughput/configuration"
)

var runFlags = map[string]string{
	"cluster":         "cluster.type",
	"store":           "store.type",
	"store-path":      "store.path",
	"script-dir":      "cluster.scriptDir",
	"poll-interval":   "pollInterval",
	"drain-timeout":   "drainTimeout",
	"hold-window":     "holdWindow",
	"terminal-policy": "terminalPolicy",
	"metrics-port":    "metricsPort",
	"report-path":     "report.path",
	"report-format":   "report.format",
	"log-level":       "logLevel",
}

func runCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run ./path/to/mix.yaml",
		Short: "Submit a job mix and report its throughput",
		Long: `Plans the job mix, submits it to the cluster for the duration of the test window,
tracks every job until it finishes and prints the throughput report.

Example mix.yaml:

  total_test_hours: 4.5
  total_nodes: 64
  queue_name: benchmark
  jobs:
    - name: small
      nodes: 4
      count: 100
      durations:
        - minutes: 10
          ratio: 0.5
        - minutes: 30
          ratio: 0.5
`,
		Args: cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return bindFlags(v, cmd.Flags(), runFlags)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig(cmd, v)
			if err != nil {
				return err
			}
			logging.ConfigureLogging(config.LogLevel)

			mix, err := configuration.LoadMixConfig(args[0])
			if err != nil {
				return err
			}
			ctx := runcontext.New(app.CreateContextWithShutdown(), log.NewEntry(log.StandardLogger()))
			_, err = throughput.RunBenchmark(ctx, *config, mix, cmd.OutOrStdout())
			return err
		},
	}
	cmd.Flags().String("cluster", "", "scheduler to submit to: slurm or fake")
	cmd.Flags().String("store", "", "job record store: sqlite, postgres, redis or memory")
	cmd.Flags().String("store-path", "", "sqlite database file")
	cmd.Flags().String("script-dir", "", "directory batch scripts are written to")
	cmd.Flags().Duration("poll-interval", 0, "how often job states are queried")
	cmd.Flags().Duration("drain-timeout", 0, "abort if jobs are still running this long after the window closes")
	cmd.Flags().Bool("hold-window", false, "keep tracking until the window closes even if every job finished early")
	cmd.Flags().String("terminal-policy", "", "state of jobs that vanish from the scheduler: lenient or strict")
	cmd.Flags().Uint16("metrics-port", 0, "serve prometheus metrics on this port")
	cmd.Flags().String("report-path", "", "write the report to this file instead of stdout")
	cmd.Flags().String("report-format", "", "report format: text, yaml or json")
	cmd.Flags().String("log-level", "", "log level")
	return cmd
}
