package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"go.uber.org/fx"

	"warship-tracker/internal/config"
	"warship-tracker/internal/constants"
	fxmodules "warship-tracker/internal/fx"
	"warship-tracker/internal/middleware"
	"warship-tracker/internal/scheduler"
	"warship-tracker/internal/server"
	"warship-tracker/internal/worker"
)

func main() {
	fx.New(
		fxmodules.Module,
		fx.Invoke(runPipeline),
		fx.Invoke(runServer),
	).Run()
}

func runPipeline(
	lc fx.Lifecycle,
	sched *scheduler.Scheduler,
	pool *worker.Pool,
	logger zerolog.Logger,
) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				go sched.Run(ctx)
				pool.Run(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			logger.Info().Msg("stopping refresh pipeline")
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
				logger.Warn().Msg("refresh pipeline did not drain before deadline")
			}
			return nil
		},
	})
}

func runServer(
	lc fx.Lifecycle,
	health *server.HealthServer,
	cfg *config.Config,
	db *sql.DB,
	logger zerolog.Logger,
) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", health.Health)
	mux.HandleFunc("GET /metrics", health.Metrics)
	mux.HandleFunc("POST /enroll", health.Enroll)
	mux.HandleFunc("POST /unenroll", health.Unenroll)

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	handler := middleware.RequestID(logger)(c.Handler(mux))

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: handler,
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				logger.Info().Str("addr", srv.Addr).Msg("server starting")
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Fatal().Err(err).Msg("server failed")
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info().Msg("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
			defer cancel()

			if err := db.Close(); err != nil {
				logger.Warn().Err(err).Msg("error closing database connection")
			}

			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("server shutdown failed")
				return err
			}
			logger.Info().Msg("server stopped gracefully")
			return nil
		},
	})
}
