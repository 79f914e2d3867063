package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zgpcy/oci-cost-sync/internal/costcache"
	"github.com/zgpcy/oci-cost-sync/internal/provider"
	"github.com/zgpcy/oci-cost-sync/internal/scheduler"
	"github.com/zgpcy/oci-cost-sync/internal/utilization"
)

// withApp runs fn with a wired app and a context cancelled on SIGINT or SIGTERM
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, a *app) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, opts, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.close(); err != nil {
			a.logger.Error("Error closing connections", "error", err)
		}
	}()
	return fn(ctx, a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newSyncResourcesCmd(opts *rootOptions) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "resources",
		Short: "Sync the resource inventory of one user, or of every user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if user == "" {
					reports, err := a.inventory.SyncAll(ctx)
					if perr := printJSON(cmd.OutOrStdout(), reports); perr != nil {
						return perr
					}
					return err
				}
				report, err := a.inventory.SyncUser(ctx, user)
				if err != nil {
					return err
				}
				if err := printJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
				return report.Err()
			})
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "User to sync (default: every configured user)")
	return cmd
}

func newSyncMetricsCmd(opts *rootOptions) *cobra.Command {
	var (
		user        string
		days        int
		aggregation string
	)
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Sync daily utilization samples of one user, or of every user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			agg := provider.Aggregation("")
			if aggregation != "" {
				parsed, err := provider.ParseAggregation(aggregation)
				if err != nil {
					return err
				}
				agg = parsed
			}
			syncOpts := utilization.Options{LookbackDays: days, Aggregation: agg}

			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if user == "" {
					reports, err := a.utilization.SyncAll(ctx, syncOpts)
					if perr := printJSON(cmd.OutOrStdout(), reports); perr != nil {
						return perr
					}
					return err
				}
				report, err := a.utilization.SyncUser(ctx, user, syncOpts)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), report)
			})
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "User to sync (default: every configured user)")
	cmd.Flags().IntVar(&days, "days", 0, fmt.Sprintf("Lookback in days, 1..%d (default: configured lookback)", utilization.MaxLookbackDays))
	cmd.Flags().StringVar(&aggregation, "aggregation", "", "mean, max or min (default: configured aggregation)")
	return cmd
}

func newRolloverCmd(opts *rootOptions) *cobra.Command {
	var (
		user   string
		period string
	)
	cmd := &cobra.Command{
		Use:   "rollover",
		Short: "Close an ended period, moving its costs from the hot cache to the durable store",
		Long: "Without --period, closes the previous period for every user and retries " +
			"rollovers left CLOSING by earlier failures, exactly like the scheduled job.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if user != "" && period == "" {
				return fmt.Errorf("--user requires --period")
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if period == "" {
					exec, err := a.scheduler.Run(ctx, scheduler.JobRollover)
					if perr := printJSON(cmd.OutOrStdout(), exec); perr != nil {
						return perr
					}
					return err
				}

				p, err := provider.ParsePeriod(period)
				if err != nil {
					return err
				}
				if user != "" {
					outcome, err := a.costs.Rollover(ctx, user, p)
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), map[string]string{"user": user, "period": string(p), "outcome": string(outcome)})
				}
				summary, err := a.costs.RolloverPeriod(ctx, p)
				if perr := printJSON(cmd.OutOrStdout(), summary); perr != nil {
					return perr
				}
				return err
			})
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "Roll over a single user (requires --period)")
	cmd.Flags().StringVarP(&period, "period", "p", "", "Period to close, YYYY-MM")
	return cmd
}

func newSweepCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete utilization samples older than the retention window",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				exec, err := a.scheduler.Run(ctx, scheduler.JobRetentionSweep)
				if perr := printJSON(cmd.OutOrStdout(), exec); perr != nil {
					return perr
				}
				return err
			})
		},
	}
}

func newCostsCmd(opts *rootOptions) *cobra.Command {
	var (
		period  string
		service string
		refresh bool
		stats   bool
	)
	cmd := &cobra.Command{
		Use:   "costs <user>",
		Short: "Print the cost records of a user for one period",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user := args[0]
			var p provider.Period
			if period != "" {
				parsed, err := provider.ParsePeriod(period)
				if err != nil {
					return err
				}
				p = parsed
			}

			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if stats {
					s, err := a.costs.Stats(ctx, user)
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), s)
				}
				res, err := a.costs.GetCosts(ctx, user, p, costcache.Filter{Service: service, Refresh: refresh})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().StringVarP(&period, "period", "p", "", "Period, YYYY-MM (default: current)")
	cmd.Flags().StringVar(&service, "service", "", "Only records of this service")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Bypass the hot cache for the current period")
	cmd.Flags().BoolVar(&stats, "stats", false, "Print period summaries instead of records")
	return cmd
}
