package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/pageweight/internal/api"
	"github.com/JakeFAU/pageweight/internal/server"
)

// stateNeeds names the state a one-shot command hands to later invocations.
type stateNeeds struct {
	cache bool
	store bool
}

// buildTaskApp refuses in-process drivers for state that must outlive the
// command, then builds the application.
func buildTaskApp(cmd *cobra.Command, needs stateNeeds) (*server.App, error) {
	cfg, err := resolveConfig(cmd.Context())
	if err != nil {
		return nil, err
	}
	if needs.store && cfg.Storage.Driver == "memory" {
		return nil, fmt.Errorf("%s: storage.driver memory loses measurements when the process exits; use postgres or sqlite", cmd.Name())
	}
	if needs.cache && cfg.Cache.Driver == "memory" {
		return nil, fmt.Errorf("%s: cache.driver memory loses the ping when the process exits; use redis", cmd.Name())
	}
	app, err := buildApp(cmd.Context())
	if err != nil {
		return nil, err
	}
	if cfg.Cache.Driver == "memory" {
		app.Logger().Warn("cache.driver is memory, scheduler state is not shared with other invocations",
			zap.String("command", cmd.Name()))
	}
	return app, nil
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Measures every tracked site once if the scheduler admits it",
		Long: `Asks the configured scheduler for permission and, when admitted,
measures each tracked site sequentially. Diagnostic lines are written to
stdout. A rejected run prints the reason and exits successfully.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := buildTaskApp(cmd, stateNeeds{store: true})
			if err != nil {
				return err
			}
			defer app.Close()

			report, err := app.Tracker().Run(cmd.Context(), cmd.OutOrStdout())
			if err != nil {
				return fmt.Errorf("run: %w", err)
			}
			app.Logger().Info("run finished",
				zap.Bool("accepted", report.Decision.Accepted),
				zap.Int("recorded", report.Recorded()),
			)
			return nil
		},
	}
}

func newPingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Records a ping that allows the next run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := buildTaskApp(cmd, stateNeeds{cache: true})
			if err != nil {
				return err
			}
			defer app.Close()

			at, err := app.Tracker().Ping(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Ping saved: %s\n", at.UTC().Format(time.RFC3339))
			return err
		},
	}
}

func newHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history [site]",
		Short: "Prints the recent measurements of a site as JSON, oldest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			site := api.DefaultSite
			if len(args) == 1 {
				site = args[0]
			}
			app, err := buildTaskApp(cmd, stateNeeds{store: true})
			if err != nil {
				return err
			}
			defer app.Close()

			rows, err := app.Tracker().History(cmd.Context(), site)
			if err != nil {
				return fmt.Errorf("history %s: %w", site, err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rows)
		},
	}
}
