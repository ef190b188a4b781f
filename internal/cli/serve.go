package cli

import (
	"github.com/spf13/cobra"

	"bleq/internal/app"
	"bleq/internal/config"
)

func newServeCmd() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and the admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if port != "" {
				cfg.System.Port = port
			}
			if err = config.Validate(cfg); err != nil {
				return err
			}
			application := app.New(cfg)
			return application.Run()
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "Admin API port, overrides ADMIN_PORT")
	return cmd
}

// loadConfig reads the environment and applies the persistent flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load("bleq")
	if err != nil {
		return nil, err
	}
	if flagLogLevel != "" {
		cfg.Log.Level = flagLogLevel
	}
	if flagLogFormat != "" {
		cfg.Log.Format = flagLogFormat
	}
	if flagScenario != "" {
		cfg.Simulation.ScenarioFile = flagScenario
	}
	return cfg, nil
}
