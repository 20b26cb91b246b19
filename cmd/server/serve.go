package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/cors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rpattn/casetrail/internal/commandlog"
	"github.com/rpattn/casetrail/internal/config"
	"github.com/rpattn/casetrail/internal/db"
	"github.com/rpattn/casetrail/internal/httpapi"
	"github.com/rpattn/casetrail/internal/repository"
	"github.com/rpattn/casetrail/internal/repository/memory"
	"github.com/rpattn/casetrail/internal/repository/postgres"
	"github.com/rpattn/casetrail/internal/testcases"
)

func newServeCmd(load func() (config.Config, error)) *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			logger, err := cfg.Log.NewLogger(os.Stderr)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger, migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", true, "apply pending migrations before serving (postgres only)")
	return cmd
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger, migrate bool) (repository.Store, error) {
	if cfg.Store == config.StoreMemory {
		logger.Warn("using in-memory store; state is lost on exit")
		return memory.New(), nil
	}

	if migrate {
		if err := db.RunMigrations(cfg.Database, logger); err != nil {
			return nil, err
		}
	}
	isolation, err := db.ParseIsolation(cfg.Isolation)
	if err != nil {
		return nil, err
	}
	conn, err := db.NewConnection(ctx, cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return postgres.NewStore(conn, postgres.WithIsolation(isolation)), nil
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger, migrate bool) error {
	store, err := openStore(ctx, cfg, logger, migrate)
	if err != nil {
		return err
	}
	defer store.Close()

	commands := commandlog.NewService(store, nil,
		commandlog.WithLogger(logger),
		commandlog.WithStackLimits(cfg.Stack.DefaultLimit, cfg.Stack.MaxLimit),
	)
	cases := testcases.NewService(store, testcases.WithLogger(logger))

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      corsHandler.Handler(httpapi.NewRouter(commands, cases, logger)),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting server", "addr", cfg.Server.Addr, "store", cfg.Store)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server exited")
	return nil
}
