package main

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/your-org/attendance/internal/config"
	"github.com/your-org/attendance/internal/observability"
)

type app struct {
	configPath string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "attendance",
		Short: "Camera based face recognition attendance",
		Long: `attendance watches one or more cameras, recognizes enrolled people against a
roster of reference images and records their daily check-in and check-out.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// .env file is optional
			_ = godotenv.Load()

			cfg, err := config.Load(a.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			a.cfg = cfg
			observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to YAML config file (environment only when empty)")

	root.AddCommand(
		a.runCmd(),
		a.reportCmd(),
		a.incidentsCmd(),
		a.probeCmd(),
		a.identityCmd(),
		a.cameraCmd(),
	)
	return root
}
