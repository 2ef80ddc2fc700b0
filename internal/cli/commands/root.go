package commands

import (
	"fmt"
	"log/slog"

	"github.com/mlhmz/dockermc-dashboard/internal/config"
	"github.com/spf13/cobra"
)

var (
	logger *slog.Logger
	cfg    *config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "dockermc-dashboard",
	Short: "Docker Minecraft Dashboard",
	Long: `A dashboard backend for provisioning and operating Minecraft servers on Portainer.

This tool provides both a REST API server and CLI commands to create servers,
manage their lifecycle and files, and put them behind Velocity or BungeeCord proxies.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		if level, _ := cmd.Flags().GetString("log-level"); level != "" {
			cfg.Log.Level = level
		}
		if format, _ := cmd.Flags().GetString("log-format"); format != "" {
			cfg.Log.Format = format
		}
		logger = config.SetupLogger(cfg.Log)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringP("log-level", "l", "", "Log level (DEBUG, INFO, WARN, ERROR)")
	rootCmd.PersistentFlags().StringP("log-format", "f", "", "Log format (json, text)")
}
