package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/mcclellann/lendingLedger/pkg/config"
	"github.com/mcclellann/lendingLedger/pkg/ledger"
	"github.com/mcclellann/lendingLedger/pkg/store"
	"github.com/sirupsen/logrus"
)

func openStorage(cfg *config.Config) (store.Storage, error) {
	if cfg.DBDriver == config.DriverPostgres {
		s, err := store.NewPostgresStore(cfg.PostgresDSN())
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	s, err := store.NewSQLiteStore(cfg.SQLitePath)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}
	logger.SetLevel(cfg.LogLevel)

	storage, err := openStorage(cfg)
	if err != nil {
		logger.Fatalf("Failed to initialize %s store: %v", cfg.DBDriver, err)
	}
	logger.WithField("driver", cfg.DBDriver).Info("Database connection established and schema initialized")

	server := NewServer(storage, logger, ledger.WithOverviewConcurrency(cfg.OverviewConcurrency))
	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: server.Router(),
	}

	go func() {
		logger.Infof("Server starting on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Errorf("Error during server shutdown: %v", err)
	}
	if err := server.storage.Close(); err != nil {
		logger.Errorf("Error closing store: %v", err)
	}
	logger.Info("Server stopped")
}
