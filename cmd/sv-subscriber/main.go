package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"go.opentelemetry.io/contrib/bridges/otelslog"

	cfgpkg "dash0.com/sv-subscriber/internal/config"
	"dash0.com/sv-subscriber/internal/listener"
	"dash0.com/sv-subscriber/internal/orchestrator"
	otelsetup "dash0.com/sv-subscriber/internal/otel"
)

const name = "dash0.com/sv-subscriber"

func main() {
	err := run(context.Background(), os.Args[1:], os.Getenv)

	switch exitCode(err) {
	case 0:
	case 2:
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	default:
		log.Fatalln(err)
	}
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, cfgpkg.ErrUsage):
		return 2
	default:
		return 1
	}
}

func run(ctx context.Context, args []string, getenv func(string) string) (err error) {
	cfg, err := cfgpkg.Load(args, getenv)
	if err != nil {
		return err
	}

	level, err := cfgpkg.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}

	// Set up OpenTelemetry.
	otelShutdown, err := otelsetup.Setup(ctx, otelsetup.WithIdentity(cfg.Identity))
	if err != nil {
		return err
	}

	defer func() { err = errors.Join(err, otelShutdown(context.Background())) }()

	// Instance logger bridged to OTel.
	logger := slog.New(otelsetup.NewLevelHandler(level, otelslog.NewHandler(name)))
	slog.SetDefault(logger)
	logger.Info("Starting application",
		slog.Int64("identity", cfg.Identity),
		slog.String("interface", cfg.InterfaceID),
		slog.String("store", cfg.Store.Driver),
	)

	return serve(ctx, cfg, logger)
}

// serve runs one subscriber until ctx is done or SIGINT/SIGTERM arrives.
func serve(ctx context.Context, cfg cfgpkg.Config, logger *slog.Logger, opts ...orchestrator.Option) (err error) {
	svc, err := orchestrator.New(cfg, logger, opts...)
	if err != nil {
		return err
	}

	// The signal path only cancels a context; the forwarder turns that
	// into the stop token polled by Wait.
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-sigCtx.Done()
		svc.RequestStop()
	}()

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GracefulTimeout)
		defer cancel()

		err = errors.Join(err, svc.Close(shutdownCtx))
	}()

	if err := svc.Configure(listener.New(svc, logger)); err != nil {
		return err
	}

	if err := svc.Start(context.Background()); err != nil {
		return err
	}

	if err := svc.Wait(context.Background()); err != nil {
		logger.Error("Receiver stopped; shutting down", slog.String("err", err.Error()))
		return err
	}

	logger.Info("Shutdown requested; stopping subscriber")

	return nil
}
