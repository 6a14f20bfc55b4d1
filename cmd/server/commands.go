package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/phrazzld/agent-infra/internal/config"
	"github.com/phrazzld/agent-infra/internal/platform/logger"
	"github.com/phrazzld/agent-infra/internal/platform/postgres"
)

type rootOptions struct {
	configFile string
	envFiles   []string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "agent-infra",
		Short:         "Task queue backed API service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (default: ./config.yaml if present)")
	root.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", []string{".env"}, "dotenv files loaded before reading configuration")

	root.AddCommand(newServeCmd(opts), newWorkerCmd(opts), newMigrateCmd(opts))
	return root
}

// load reads dotenv files and configuration, then installs the process
// logger.
func (o *rootOptions) load() (*config.Config, *slog.Logger, error) {
	if err := config.LoadDotEnv(o.envFiles...); err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(o.configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	log, err := logger.Setup(cfg.Server)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up logger: %w", err)
	}
	return cfg, log, nil
}

func signalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var withWorker bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			app, err := newApplication(ctx, cfg, log)
			if err != nil {
				log.Error("application.startup.failed", "error", err)
				return err
			}
			defer app.cleanup()

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return app.serveHTTP(gctx, newRouter(app.routerDeps()))
			})
			if withWorker && !cfg.Task.AlwaysEager {
				worker := app.newWorker()
				g.Go(func() error { return worker.Run(gctx) })
			}
			return g.Wait()
		},
	}
	cmd.Flags().BoolVar(&withWorker, "with-worker", false, "also consume tasks in this process")
	return cmd
}

func newWorkerCmd(opts *rootOptions) *cobra.Command {
	var concurrency int
	var queues []string

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume and execute queued tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			if cfg.Task.AlwaysEager {
				return errors.New("worker cannot run with task.always_eager enabled")
			}
			if concurrency > 0 {
				cfg.Task.WorkerCount = concurrency
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			app, err := newApplication(ctx, cfg, log)
			if err != nil {
				log.Error("application.startup.failed", "error", err)
				return err
			}
			defer app.cleanup()

			worker := app.newWorker(queues...)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return worker.Run(gctx) })
			return g.Wait()
		},
	}
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 0, "number of consumer goroutines (default: task.worker_count)")
	cmd.Flags().StringSliceVarP(&queues, "queues", "Q", nil, "queues to consume (default: every registered queue)")
	return cmd
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down|status|version]",
		Short:     "Apply or inspect database migrations",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{postgres.MigrateUp, postgres.MigrateDown, postgres.MigrateStatus, postgres.MigrateVersion},
		RunE: func(cmd *cobra.Command, args []string) error {
			command := postgres.MigrateUp
			if len(args) == 1 {
				command = args[0]
			}

			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			db, err := postgres.Open(ctx, cfg.Database, log)
			if err != nil {
				return err
			}
			defer func() {
				if err := db.Close(); err != nil {
					log.Error("failed to close database connection", "error", err)
				}
			}()

			return postgres.Migrate(ctx, db, command, log)
		},
	}
}
