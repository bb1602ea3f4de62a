package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/armadaproject/jobthroughput/internal/common/config"
	"github.com/armadaproject/jobthroughput/internal/throughput/configuration"
)

// RootCmd is the root Cobra command that gets called from the main func.
// All other sub-commands should be registered here.
func RootCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:          "jobthroughput",
		Short:        "jobthroughput measures how much work a batch cluster gets through in a fixed window.",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().String("config", "", "config file (default is $HOME/.jobthroughput.yaml)")

	cmd.AddCommand(
		runCmd(v),
		planCmd(),
		reportCmd(v),
		versionCmd(),
	)
	return cmd
}

// bindFlags binds each flag to its configuration key. Binding happens once the command to execute is known,
// so flags of the same name on other commands never shadow it.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) error {
	for flag, key := range keys {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return err
		}
	}
	return nil
}

// loadConfig reads the config file named by --config, then environment variables, then bound flags.
func loadConfig(cmd *cobra.Command, v *viper.Viper) (*configuration.Configuration, error) {
	cfgFile, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	configuration.SetDefaults(v)
	if err := config.LoadConfigFile(v, cfgFile); err != nil {
		return nil, err
	}
	return configuration.Load(v)
}
