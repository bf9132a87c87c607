package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/radiusdt/email-analytics/internal/analytics"
	"github.com/radiusdt/email-analytics/internal/config"
	"github.com/radiusdt/email-analytics/internal/database"
	"github.com/radiusdt/email-analytics/internal/middleware"
	"github.com/radiusdt/email-analytics/internal/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// env is what every subcommand needs: config, logger and open stores.
type env struct {
	cfg      *config.Config
	logger   *zap.Logger
	conns    *database.Connections
	services *analytics.Services
}

func setup(ctx context.Context, cmd *cobra.Command) (*env, error) {
	cfg, err := config.LoadMaintenance()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	level, _ := cmd.Flags().GetString("log-level")
	logger, err := middleware.NewLogger(level, "console")
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	// In-memory stores are process-local.
	cfg.Storage.FallbackToMemory = false
	if cfg.Storage.RollupBackend == config.RollupBackendMemory {
		return nil, fmt.Errorf("rollup backend %q has nothing to reconcile", cfg.Storage.RollupBackend)
	}

	conns, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	events, rollups, err := storage.Open(conns.Pool(), conns.RedisClient(), cfg, logger)
	if err != nil {
		conns.Close()
		return nil, err
	}

	return &env{
		cfg:      cfg,
		logger:   logger,
		conns:    conns,
		services: analytics.NewServices(events, rollups, cfg, nil, logger),
	}, nil
}

func (e *env) close() {
	e.conns.Close()
	_ = e.logger.Sync()
}

func addRangeFlags(cmd *cobra.Command) {
	cmd.Flags().String("start", "", "first day to check, YYYY-MM-DD (default: end minus the query window)")
	cmd.Flags().String("end", "", "last day to check, YYYY-MM-DD (default: today, UTC)")
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Reconcile rollups against the event store",
		Long: `Compare the daily rollups with counts derived from the event store and
recompute the range when any counter drifted.

Ingestion in the serving process is not paused by this command. Run it
while webhooks are stopped, or use POST /admin/reconcile on the server,
which orders the repair against in-flight events.

Examples:
  email-analytics-reconcile run
  email-analytics-reconcile run --start 2024-01-01 --end 2024-01-31 --force`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			e, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			defer e.close()

			startStr, _ := cmd.Flags().GetString("start")
			endStr, _ := cmd.Flags().GetString("end")
			force, _ := cmd.Flags().GetBool("force")

			start, end, err := e.services.Query.ResolveRange(startStr, endStr)
			if err != nil {
				return err
			}

			report, err := e.services.Reconciler.Reconcile(ctx, start, end, force)
			if err != nil {
				return fmt.Errorf("reconcile: %w", err)
			}
			return writeJSON(cmd.OutOrStdout(), report)
		},
	}

	addRangeFlags(cmd)
	cmd.Flags().Bool("force", false, "recompute even when no drift is found")

	return cmd
}

func verifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Report rollup drift without repairing it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			e, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			defer e.close()

			startStr, _ := cmd.Flags().GetString("start")
			endStr, _ := cmd.Flags().GetString("end")

			start, end, err := e.services.Query.ResolveRange(startStr, endStr)
			if err != nil {
				return err
			}

			mismatches, err := e.services.Reconciler.Verify(ctx, start, end)
			if err != nil {
				return fmt.Errorf("verify: %w", err)
			}
			if err := writeJSON(cmd.OutOrStdout(), mismatches); err != nil {
				return err
			}
			if len(mismatches) > 0 {
				return fmt.Errorf("%d rollup counters drifted", len(mismatches))
			}
			return nil
		},
	}

	addRangeFlags(cmd)

	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			cfg, err := config.LoadMaintenance()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			level, _ := cmd.Flags().GetString("log-level")
			logger, err := middleware.NewLogger(level, "console")
			if err != nil {
				return fmt.Errorf("create logger: %w", err)
			}
			defer logger.Sync()

			cfg.Database.Migrate = true
			db, err := database.NewPostgresDB(ctx, cfg.Database, logger)
			if err != nil {
				return err
			}
			db.Close()

			fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
			return nil
		},
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
