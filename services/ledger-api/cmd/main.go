package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coinledger/coinledger/pkg"
	"github.com/coinledger/coinledger/services/ledger-api/app"
	"go.uber.org/zap"
)

func main() {
	// Initialize logger
	pkg.InitLogger()
	logger := pkg.Logger

	ctx := context.Background()
	srv, cleanup, err := app.NewApp(ctx, logger)
	if err != nil {
		logger.Fatal("failed to initialize application", zap.Error(err))
	}
	defer cleanup()

	// Start a server in goroutine to allow signal handling
	go func() {
		logger.Sugar().Infow("Ledger API started", "addr", srv.Addr)
		if err = srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Handle shutdown signals (SIGINT, SIGTERM) for a K8s pod termination grace period
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	// Timeout context for draining connections (align with K8s terminationGracePeriodSeconds)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("shutdown error", zap.Error(err))
	}

	// Flush logs before exit for observability
	_ = logger.Sync()
}
