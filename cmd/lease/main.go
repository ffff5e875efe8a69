package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/ava-labs/eventstream/pkg/lease"
	"github.com/ava-labs/eventstream/pkg/utils"
)

var rootCmd = &cobra.Command{
	Use:   "lease",
	Short: "Manage a lease on a storage blob or container",
	Long: `Manage a lease on a storage blob or container.

Renew, release and change act on a lease held elsewhere and require --lease-id.
Hold acquires a lease and keeps renewing it until interrupted, then releases it.
The resource URL may carry a SAS token in its query string.`,
	SilenceUsage: true,
}

var acquireCmd = &cobra.Command{
	Use:   "acquire",
	Short: "Acquire a new lease and print its id",
	RunE: func(cmd *cobra.Command, _ []string) error {
		duration, err := cmd.Flags().GetDuration("duration")
		if err != nil {
			return fmt.Errorf("failed to get duration: %w", err)
		}
		return withClient(cmd, false, func(ctx context.Context, c *lease.Client, cond lease.Conditions) error {
			if err := c.Acquire(ctx, duration, cond); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), c.ID())
			return nil
		})
	},
}

var renewCmd = &cobra.Command{
	Use:   "renew",
	Short: "Renew a held lease",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(cmd, true, func(ctx context.Context, c *lease.Client, cond lease.Conditions) error {
			return c.Renew(ctx, cond)
		})
	},
}

var releaseCmd = &cobra.Command{
	Use:   "release",
	Short: "Release a held lease",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(cmd, true, func(ctx context.Context, c *lease.Client, cond lease.Conditions) error {
			return c.Release(ctx, cond)
		})
	},
}

var changeCmd = &cobra.Command{
	Use:   "change",
	Short: "Change the id of a held lease and print the new id",
	RunE: func(cmd *cobra.Command, _ []string) error {
		proposed, err := cmd.Flags().GetString("proposed-id")
		if err != nil {
			return fmt.Errorf("failed to get proposed id: %w", err)
		}
		return withClient(cmd, true, func(ctx context.Context, c *lease.Client, cond lease.Conditions) error {
			if err := c.Change(ctx, proposed, cond); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), c.ID())
			return nil
		})
	},
}

var breakCmd = &cobra.Command{
	Use:   "break",
	Short: "Break the lease and print the seconds until it can be acquired again",
	RunE: func(cmd *cobra.Command, _ []string) error {
		var period *time.Duration
		if cmd.Flags().Changed("break-period") {
			p, err := cmd.Flags().GetDuration("break-period")
			if err != nil {
				return fmt.Errorf("failed to get break period: %w", err)
			}
			period = &p
		}
		return withClient(cmd, false, func(ctx context.Context, c *lease.Client, cond lease.Conditions) error {
			remaining, err := c.Break(ctx, period, cond)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), int(remaining.Seconds()))
			return nil
		})
	},
}

var holdCmd = &cobra.Command{
	Use:   "hold",
	Short: "Acquire a lease, print its id and keep renewing it until interrupted",
	RunE: func(cmd *cobra.Command, _ []string) error {
		duration, err := cmd.Flags().GetDuration("duration")
		if err != nil {
			return fmt.Errorf("failed to get duration: %w", err)
		}
		kcfg := lease.DefaultKeeperConfig()
		if kcfg.Interval, err = cmd.Flags().GetDuration("renew-interval"); err != nil {
			return fmt.Errorf("failed to get renew interval: %w", err)
		}
		return withClient(cmd, false, func(ctx context.Context, c *lease.Client, cond lease.Conditions) error {
			return hold(ctx, c, cond, duration, kcfg, cmd.OutOrStdout())
		})
	},
}

// hold acquires the lease and renews it until ctx is done, then releases it.
func hold(ctx context.Context, c *lease.Client, cond lease.Conditions, duration time.Duration, kcfg lease.KeeperConfig, out io.Writer) error {
	if err := kcfg.Validate(); err != nil {
		return err
	}
	if duration != lease.Infinite && kcfg.Interval >= duration {
		return fmt.Errorf("renew interval %s must be shorter than the lease duration %s", kcfg.Interval, duration)
	}
	if err := c.Acquire(ctx, duration, cond); err != nil {
		return err
	}
	fmt.Fprintln(out, c.ID())
	return lease.Keep(ctx, c, kcfg)
}

// withClient builds a lease client from the command flags and runs fn with
// the request conditions given on the command line.
func withClient(cmd *cobra.Command, held bool, fn func(context.Context, *lease.Client, lease.Conditions) error) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	cond, err := buildConditions(cmd)
	if err != nil {
		return err
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	sugar, err := utils.NewSugaredLogger("lease", verbose)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer sugar.Sync() //nolint:errcheck // best-effort flush; ignore sync errors

	return run(cmd.Context(), sugar, cfg, cond, held, fn)
}

func run(ctx context.Context, log *zap.SugaredLogger, cfg lease.Config, cond lease.Conditions, held bool, fn func(context.Context, *lease.Client, lease.Conditions) error, opts ...lease.Option) error {
	if held {
		opts = append(opts, lease.WithHeldLease())
	}
	c, err := lease.NewClient(cfg, log, nil, opts...)
	if err != nil {
		return fmt.Errorf("failed to create lease client: %w", err)
	}
	return fn(ctx, c, cond)
}

// addPersistentFlags defines the flags shared by every subcommand.
func addPersistentFlags(fs *pflag.FlagSet) {
	fs.StringP("url", "u", "", "The blob or container URL, optionally with a SAS token (env LEASE_URL)")
	fs.StringP("target", "t", string(lease.TargetBlob), "The resource kind: blob or container (env LEASE_TARGET)")
	fs.StringP("lease-id", "l", "", "The lease id to propose or act on (env LEASE_ID)")
	fs.Uint64("max-retries", lease.DefaultMaxRetries, "Retries for throttled or failed requests")
	fs.Duration("retry-backoff", lease.DefaultRetryBackoff, "Initial wait between retries")
	fs.Duration("timeout", lease.DefaultRequestTimeout, "Per-request timeout")
	fs.String("if-modified-since", "", "Only act if modified since this RFC 3339 time")
	fs.String("if-unmodified-since", "", "Only act if not modified since this RFC 3339 time")
	fs.String("if-match", "", "Only act if the ETag matches")
	fs.String("if-none-match", "", "Only act if the ETag does not match")
	fs.BoolP("verbose", "v", false, "Enable verbose logging")
}

func init() {
	addPersistentFlags(rootCmd.PersistentFlags())

	acquireCmd.Flags().DurationP("duration", "d", lease.Infinite, "Lease duration between 15s and 60s, or -1s for infinite")
	changeCmd.Flags().StringP("proposed-id", "p", "", "The new lease id (UUID)")
	holdCmd.Flags().DurationP("duration", "d", 60*time.Second, "Lease duration between 15s and 60s")
	holdCmd.Flags().Duration("renew-interval", lease.DefaultKeeperConfig().Interval, "Time between renewals")
	breakCmd.Flags().DurationP("break-period", "b", 0, "Time the lease may continue before it breaks, up to 60s")

	changeCmd.MarkFlagRequired("proposed-id") //nolint:errcheck // flag is defined above

	rootCmd.AddCommand(acquireCmd, renewCmd, releaseCmd, changeCmd, breakCmd, holdCmd)
}

func main() {
	// Variables already set in the environment win over .env.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
