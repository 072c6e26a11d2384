// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/inkboard/inkboot/internal/config"
	"github.com/inkboard/inkboot/internal/health"
	"github.com/inkboard/inkboot/pkg/types"
)

// newHealthcheckCommand creates `inkboot healthcheck`, the image HEALTHCHECK probe.
func newHealthcheckCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "healthcheck [url]",
		Short: "Probe the health endpoint once; exit 0 when healthy, 1 otherwise",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.loadConfig(cmd.Context())
			if err != nil {
				return app.fail(cmd, types.ExitFailure, err)
			}
			prober := healthProber(cfg, args)
			if err := health.CheckOnce(cmd.Context(), prober, cfg.Health); err != nil {
				return app.fail(cmd, types.ExitFailure, err)
			}
			fmt.Fprintf(app.stdout, "%s %s is healthy\n", SuccessStyle.Render("✓"), prober.URL)
			return nil
		},
	}
}

// newHealthCommand creates the `inkboot health` command tree.
func newHealthCommand(app *App) *cobra.Command {
	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Observe the service health endpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	var exitOnUnhealthy bool
	watchCmd := &cobra.Command{
		Use:   "watch [url]",
		Short: "Probe the health endpoint on the configured interval and report transitions",
		Long: `Probe the health endpoint every health.interval and report status changes.

The service starts in "starting". Failures during health.start_period do not
count; health.retries consecutive failures after it mark the service unhealthy,
and any success marks it healthy again.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.loadConfig(cmd.Context())
			if err != nil {
				return app.fail(cmd, types.ExitFailure, err)
			}
			prober := healthProber(cfg, args)

			opts := []health.MonitorOption{
				health.WithMonitorLogger(app.logger),
				health.OnTransition(func(tr health.Transition) {
					fmt.Fprintf(app.stdout, "%s %s -> %s\n",
						SubtitleStyle.Render(tr.At.Format("15:04:05")), tr.From, statusStyle(tr.To))
				}),
			}
			if exitOnUnhealthy {
				opts = append(opts, health.StopWhenUnhealthy())
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), interruptSignals...)
			defer stop()
			fmt.Fprintf(app.stdout, "watching %s every %s\n", CmdStyle.Render(prober.URL), cfg.Health.Interval)
			if _, err := health.NewMonitor(prober, cfg.Health, opts...).Run(ctx); err != nil {
				return app.fail(cmd, types.ExitFailure, err)
			}
			return nil
		},
	}
	watchCmd.Flags().BoolVar(&exitOnUnhealthy, "exit-on-unhealthy", false, "exit 1 as soon as the service becomes unhealthy")

	healthCmd.AddCommand(watchCmd)
	return healthCmd
}

func healthProber(cfg *config.Config, args []string) health.HTTPProber {
	url := cfg.HealthURL()
	if len(args) == 1 {
		url = args[0]
	}
	return health.HTTPProber{URL: url, Timeout: cfg.Health.Timeout}
}

func statusStyle(s health.Status) string {
	switch s {
	case health.StatusHealthy:
		return SuccessStyle.Render(s.String())
	case health.StatusUnhealthy:
		return ErrorStyle.Render(s.String())
	default:
		return WarningStyle.Render(s.String())
	}
}
