// Package cmd defines the CLI commands of the pageweight executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/pageweight/internal/config"
	"github.com/JakeFAU/pageweight/internal/server"
)

// configKeyType is the key for storing the loaded Config in the context.
type configKeyType string

const configKey configKeyType = "config"

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *cobra.Command {
	var (
		cfgFile  string
		envFiles []string
	)
	cmd := &cobra.Command{
		Use:   "pageweight",
		Short: "Tracks the byte weight of a few web pages over time.",
		Long: `pageweight measures the mobile page of each tracked site together with
its linked CSS and JavaScript, stores one time-series point per run and
serves a cached recent history.`,
		SilenceUsage: true,

		// Configuration is loaded once here and shared with every subcommand.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadDotEnv(envFiles...); err != nil {
				return err
			}
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), configKey, &cfg))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	cmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env"}, "dotenv files loaded before the environment is read")

	cmd.AddCommand(
		newServeCmd(),
		newRunCmd(),
		newPingCmd(),
		newHistoryCmd(),
		newMigrateCmd(),
	)
	return cmd
}

func resolveConfig(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	return cfg, nil
}

// buildApp wires the application for commands that need the tracker.
func buildApp(ctx context.Context) (*server.App, error) {
	cfg, err := resolveConfig(ctx)
	if err != nil {
		return nil, err
	}
	app, err := server.Build(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize application services: %w", err)
	}
	return app, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
