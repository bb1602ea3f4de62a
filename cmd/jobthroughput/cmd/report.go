package cmd

import (
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/armadaproject/jobthroughput/internal/common/app"
	"github.com/armadaproject/jobthroughput/internal/common/logging"
	"github.com/armadaproject/jobthroughput/internal/common/runcontext"
	"github.com/armadaproject/jobthroughput/internal/throughput"
)

var reportFlags = map[string]string{
	"store":         "store.type",
	"store-path":    "store.path",
	"report-path":   "report.path",
	"report-format": "report.format",
	"log-level":     "logLevel",
}

func reportCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Recompute the throughput report of a stored run",
		Long: `Recomputes the report of a run from the job records held in the store.
Without --run-id the most recent run is reported on.`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return bindFlags(v, cmd.Flags(), reportFlags)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig(cmd, v)
			if err != nil {
				return err
			}
			logging.ConfigureLogging(config.LogLevel)

			runId, err := cmd.Flags().GetString("run-id")
			if err != nil {
				return err
			}
			totalNodes, err := cmd.Flags().GetInt("total-nodes")
			if err != nil {
				return err
			}
			ctx := runcontext.New(app.CreateContextWithShutdown(), log.NewEntry(log.StandardLogger()))
			_, err = throughput.ReportRun(ctx, *config, runId, totalNodes, cmd.OutOrStdout())
			return err
		},
	}
	cmd.Flags().String("run-id", "", "run to report on (default is the most recent run)")
	cmd.Flags().Int("total-nodes", 0, "node budget to compute utilization against (default is the budget the run was planned with)")
	cmd.Flags().String("store", "", "job record store: sqlite, postgres, redis or memory")
	cmd.Flags().String("store-path", "", "sqlite database file")
	cmd.Flags().String("report-path", "", "write the report to this file instead of stdout")
	cmd.Flags().String("report-format", "", "report format: text, yaml or json")
	cmd.Flags().String("log-level", "", "log level")
	return cmd
}
