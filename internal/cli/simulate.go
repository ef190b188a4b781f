package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"bleq/internal/app"
	"bleq/internal/config"
	"bleq/internal/logger"
	"bleq/internal/transport/sim"
)

func newSimulateCmd() *cobra.Command {
	var (
		output  string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "simulate [scenario.yaml]",
		Short: "Run a scenario to completion and print what happened",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if len(args) == 1 {
				cfg.Simulation.ScenarioFile = args[0]
			}
			if cfg.Simulation.ScenarioFile == "" {
				return errors.New("a scenario file is required")
			}
			if err = config.Validate(cfg); err != nil {
				return err
			}
			logger.Init(cfg.Log.Level, cfg.Log.Format)

			sc, err := sim.LoadScenario(cfg.Simulation.ScenarioFile)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			report, err := app.Simulate(ctx, cfg.Session(), sc)
			if err != nil {
				return err
			}
			return writeReport(cmd.OutOrStdout(), output, report)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "yaml", "Report format (yaml, json)")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "Give up after this long")
	return cmd
}

func writeReport(w io.Writer, format string, report *app.SimulationReport) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(report); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
