package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/fleximart/retail-etl/app/config"
	"github.com/fleximart/retail-etl/app/logger"
	"github.com/fleximart/retail-etl/app/pipeline"
	"github.com/fleximart/retail-etl/app/report"
	"github.com/fleximart/retail-etl/app/runs"
	"github.com/fleximart/retail-etl/models"
)

type app struct {
	configPath string
	cfg        *config.Config
	log        *logger.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "fleximart-etl",
		Short:         "Load FlexiMart customer, product and sales feeds into the store and warehouse",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			log, err := logger.New(cfg.LogMode, cfg.LogFile)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			a.cfg, a.log = cfg, log
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.log != nil {
				a.log.Sync()
			}
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "YAML config file (environment variables take precedence)")

	root.AddCommand(a.runCmd(), a.migrateCmd(), a.calendarCmd(), a.serveCmd())
	return root
}

func (a *app) open(ctx context.Context) (*gorm.DB, error) {
	db, err := models.Open(a.cfg.DSN())
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, a.cfg.StoreTimeout)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func (a *app) runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one ETL batch and write the data-quality report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			db, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer closeDB(db)

			r, err := runBatch(ctx, a.cfg, db, a.log, time.Now)
			if err != nil && r.RunID != "" {
				return fmt.Errorf("run %s: %w", r.RunID, err)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run %s %s, report written to %s\n", r.RunID, r.Status, a.cfg.ReportFile)
			return nil
		},
	}
}

// runBatch creates any missing tables, then runs one batch.
func runBatch(ctx context.Context, cfg *config.Config, db *gorm.DB, log *logger.Logger, now func() time.Time) (report.Report, error) {
	if err := models.Migrate(ctx, db); err != nil {
		return report.Report{}, err
	}
	p, err := pipeline.New(cfg, db, log, now)
	if err != nil {
		return report.Report{}, err
	}
	return p.Run(ctx)
}

func (a *app) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the store and warehouse tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer closeDB(db)

			if err := models.Migrate(cmd.Context(), db); err != nil {
				return err
			}
			a.log.Info("schema migrated")
			return nil
		},
	}
}

func (a *app) calendarCmd() *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "calendar",
		Short: "Seed dim_date for an inclusive range of days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			start, err := time.Parse(time.DateOnly, from)
			if err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			end, err := time.Parse(time.DateOnly, to)
			if err != nil {
				return fmt.Errorf("--to: %w", err)
			}

			db, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer closeDB(db)

			n, err := models.SeedCalendar(cmd.Context(), db, start, end)
			if err != nil {
				return err
			}
			a.log.Info("calendar seeded", "from", from, "to", to, "days", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "2020-01-01", "first day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "2030-12-31", "last day (YYYY-MM-DD)")
	return cmd
}

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the run history over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			db, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer closeDB(db)

			handler := runs.NewRunsHandler(models.NewRunsRepository(db))
			mux := http.NewServeMux()
			mux.HandleFunc("GET /runs", handler.HandleList)
			mux.HandleFunc("GET /runs/{id}", handler.HandleGet)

			srv := &http.Server{
				Addr:              a.cfg.HTTPAddr,
				Handler:           mux,
				ReadHeaderTimeout: 5 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				a.log.Info("starting run api", "addr", srv.Addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			a.log.Info("shutting down run api")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}
