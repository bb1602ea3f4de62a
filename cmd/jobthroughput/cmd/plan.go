package cmd

import (
	"fmt"

	"github.com/sanity-io/litter"
	"github.com/spf13/cobra"

	"github.com/armadaproject/jobthroughput/internal/common/logging"
	"github.com/armadaproject/jobthroughput/internal/throughput/configuration"
	"github.com/armadaproject/jobthroughput/internal/throughput/planner"
)

func planCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan ./path/to/mix.yaml",
		Short: "Validate a job mix and print the jobs it expands to, without submitting anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.ConfigureCliLogging()
			verbose, err := cmd.Flags().GetBool("verbose")
			if err != nil {
				return err
			}

			mix, err := configuration.LoadMixConfig(args[0])
			if err != nil {
				return err
			}
			plan, err := planner.NewPlan(mix)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprint(out, plan)
			if verbose {
				dump := litter.Options{StripPackageNames: true, HidePrivateFields: true}
				fmt.Fprintln(out, dump.Sdump(plan.Specs))
			}
			return nil
		},
	}
	cmd.Flags().BoolP("verbose", "v", false, "also print every planned job")
	return cmd
}
