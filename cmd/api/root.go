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

	"blog-api/internal/app"
	"blog-api/internal/config"
	"blog-api/internal/db"
	"blog-api/internal/observability"
)

const shutdownTimeout = 10 * time.Second

// NewRootCmd serves the API when run without a subcommand.
func NewRootCmd() *cobra.Command {
	serve := NewServeCmd()

	cmd := &cobra.Command{
		Use:           "blog-api",
		Short:         "Blog platform HTTP API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve.RunE,
	}
	cmd.Flags().AddFlagSet(serve.Flags())

	cmd.AddCommand(serve)
	cmd.AddCommand(NewMigrateCmd())
	return cmd
}

func NewServeCmd() *cobra.Command {
	var skipMigrations bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run migrations and start the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := observability.NewLogger()

			runtime, err := app.Build(app.Options{LoadDotEnv: true, RunMigrations: !skipMigrations})
			if err != nil {
				logger.Err("bootstrap_failed", err, nil)
				return err
			}
			defer func() { _ = runtime.Close() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return serveHTTP(ctx, logger, ":"+runtime.Config.Port, runtime.Handler)
		},
	}
	cmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "do not apply migrations before serving")
	return cmd
}

func serveHTTP(ctx context.Context, logger *observability.Logger, addr string, handler http.Handler) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server_start", map[string]any{"addr": addr})
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		logger.Err("server_failed", err, nil)
		return err
	case <-ctx.Done():
	}

	logger.Info("server_shutdown", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func NewMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down|status]",
		Short:     "Apply, roll back or inspect database migrations",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{string(db.MigrateUp), string(db.MigrateDown), string(db.MigrateStatus)},
		RunE: func(cmd *cobra.Command, args []string) error {
			command := db.MigrateUp
			if len(args) == 1 {
				command = db.MigrateCommand(args[0])
			}

			cfg, err := config.Load(true)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger := observability.NewLogger()

			pool, err := db.Connect(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer pool.Close()

			return db.Migrate(cmd.Context(), pool, logger, command)
		},
	}
}
