package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"omr-grader/internal/batch"
	"omr-grader/internal/config"
	"omr-grader/internal/server"
	"omr-grader/internal/store"

	"github.com/spf13/cobra"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the grading HTTP API",
	Long:  "Serve /api/v1/grade, layout templates and the batch history over HTTP.",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (default from PORT)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}
	if servePort > 0 {
		cfg.Port = servePort
	}

	l, err := cfg.ResolveLayout()
	if err != nil {
		return err
	}

	if err := ensureDBDir(cfg.DatabaseURL); err != nil {
		return err
	}
	db, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}

	objectStore, err := cfg.ObjectStore()
	if err != nil {
		return err
	}

	svc := server.NewService(server.Options{
		DB:       db,
		Store:    objectStore,
		Bucket:   cfg.ReportBucket,
		Layout:   l,
		Batch:    batch.Options{Workers: cfg.Workers, Timeout: cfg.Timeout},
		DebugDir: cfg.DebugDir,
	})
	srv := server.NewHTTPServer(svc, cfg.Port)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Printf("starting server on port %d (layout %s, storage %s)", cfg.Port, l.Name(), cfg.StorageBackend)
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

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
