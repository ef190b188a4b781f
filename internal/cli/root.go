package cli

import (
	"github.com/spf13/cobra"
)

var (
	flagLogLevel  string
	flagLogFormat string
	flagScenario  string
)

// NewRootCmd creates the root cobra command for the bleq binary.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "bleq",
		Short:        "bleq schedules BLE radio tasks",
		Long:         "bleq runs a BLE task scheduler with an admin API, or replays a simulation scenario against it.",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level, overrides LOG_LEVEL")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "", "Log format (json, text), overrides LOG_FORMAT")
	root.PersistentFlags().StringVar(&flagScenario, "scenario", "", "Simulation scenario file, overrides SCENARIO_FILE")

	root.AddCommand(
		newServeCmd(),
		newSimulateCmd(),
	)

	return root
}
