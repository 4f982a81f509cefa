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

	"github.com/library-service/cmd/api/book"
	"github.com/library-service/cmd/api/config"
	bookhttp "github.com/library-service/cmd/api/http"
	"github.com/library-service/cmd/api/notifications"
	"github.com/library-service/cmd/api/scheduler"
	"github.com/library-service/cmd/api/storage"
)

func main() {
	err := run()
	if err != nil {
		slog.Error("library api stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.NewConfig(".env")
	slog.SetDefault(cfg.Log.NewLogger(os.Stderr))

	//connect to the store and apply migrations:
	repo, closeStore, err := storage.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer closeStore()

	ntfy := notifications.NewNtfy(cfg.Ntfy.Enabled, cfg.Ntfy.BaseURL, &http.Client{Timeout: cfg.Ntfy.Timeout})
	libraryService := book.NewService(repo, ntfy, cfg.Ntfy.Timeout)
	libraryHandler := bookhttp.NewLibraryHandler(libraryService, cfg.Loans.RetryAttempts)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.OverdueSweep.Enabled {
		sweep := scheduler.NewOverdueSweep(libraryService, cfg.OverdueSweep.Schedule, cfg.OverdueSweep.Timeout)
		if err := sweep.Start(ctx); err != nil {
			return err
		}
		defer sweep.Stop()
	}

	//create and init http server:
	server := bookhttp.NewServer(bookhttp.ServerConfig{Port: cfg.HTTP.Port, RequestTimeout: cfg.HTTP.RequestTimeout}, libraryHandler)

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", server.Addr)
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- fmt.Errorf("unexpected http server error: %w", err)
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, shutdownRelease := context.WithTimeout(context.Background(), cfg.Global.ShutdownTimeout)
	defer shutdownRelease()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP shutdown error: %w", err)
	}
	slog.Info("graceful shutdown complete")
	return nil
}
