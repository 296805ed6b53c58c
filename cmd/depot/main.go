package main

import (
	"context"
	"depot/internal/core"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

func Run(ctx context.Context, args []string) error {

	if err := core.LoadEnvFiles(".env"); err != nil {
		return err
	}

	var settings core.Settings
	flags := flag.NewFlagSet("depot", flag.ContinueOnError)
	settings.RegisterFlags(flags)
	if err := flags.Parse(args); err != nil {
		return err
	}

	if err := core.SetupLogging(os.Stdout, settings.LogLevel); err != nil {
		return err
	}

	// Ensure data directory is absolute for easier debugging.
	absDataDir, err := filepath.Abs(settings.DataDir)
	if err != nil {
		return fmt.Errorf("failed to resolve data directory: %w", err)
	}
	settings.DataDir = absDataDir

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	d, err := settings.OpenDepot(ctx, reg)
	if err != nil {
		return fmt.Errorf("failed to open depot: %w", err)
	}
	defer d.Close()

	authenticator, err := settings.Authenticator()
	if err != nil {
		return err
	}
	if authenticator == nil {
		slog.Warn("Authentication is disabled")
	}

	server, err := core.NewServer(core.NewConfig(
		core.WithStore(d.Store),
		core.WithThumbnails(d.Thumbnails),
		core.WithAuthEngine(authenticator),
		core.WithMaxUploadBytes(settings.MaxUploadBytes),
		core.WithGatherer(reg),
	))
	if err != nil {
		return fmt.Errorf("failed to create depot server: %w", err)
	}

	httpServer := &http.Server{
		Addr:              settings.Listen,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 20 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      5 * time.Minute,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	eg.Go(func() error {
		slog.Info("Starting depot HTTP server", "addr", settings.Listen, "backend", settings.Backend, "container", settings.Container)
		err := httpServer.ListenAndServe()
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	slog.Info("Depot started")
	return eg.Wait()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := Run(ctx, os.Args[1:]); err != nil {
		slog.Error("Depot exited with error", "error", err)
		os.Exit(1)
	}
}
