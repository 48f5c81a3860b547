package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jroyal/phasetrack/internal/app"
	"github.com/jroyal/phasetrack/internal/config"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the cycle scheduler and the HTTP API",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialize application services: %w", err)
	}
	zap.ReplaceGlobals(a.Logger)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           a.Server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	runnerDone := make(chan error, 1)
	if cfg.Runner.InitialPhase != "" {
		go func() { runnerDone <- a.Runner.Run(ctx) }()
	}

	go func() {
		a.Logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if serveErr := srv.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			a.Logger.Error("http server error", zap.Error(serveErr))
			stop()
		}
	}()

	select {
	case <-ctx.Done():
	case runErr := <-runnerDone:
		if runErr != nil {
			a.Logger.Error("runner error", zap.Error(runErr))
			stop()
		} else {
			// The runner left the tracked phases; keep serving the
			// history until a shutdown signal arrives.
			a.Logger.Info("runner finished, serving history only")
			<-ctx.Done()
		}
	}
	a.Logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.Logger.Error("server shutdown error", zap.Error(err))
	}
	a.Close(shutdownCtx)
	a.Logger.Info("shutdown complete")
	return nil
}
