// Command iris-pgwire runs the PostgreSQL wire-protocol front end as a
// standalone binary: it loads configuration, wires the translator/executor/
// pool stack together, and starts the listener. The core package never does
// any of this itself — see wire.NewServer's Non-goals.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	wire "github.com/intersystems-community/iris-pgwire"
	"github.com/intersystems-community/iris-pgwire/events"
	"github.com/intersystems-community/iris-pgwire/internal/executor"
	"github.com/intersystems-community/iris-pgwire/internal/translator"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context, cfg *Config) error {
	zapLogger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("iris-pgwire: build logger: %w", err)
	}
	defer zapLogger.Sync()

	logger := newZapSlogLogger(zapLogger)

	registry := prometheus.NewRegistry()
	sink := events.Multi{events.NewPrometheusSink(registry), events.NewSlogSink(logger)}

	metricsAddr := ":9090"
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		if err := http.ListenAndServe(metricsAddr, mux); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics server stopped", slog.String("err", err.Error()))
		}
	}()

	tr := translator.New(translator.Config{SLA: cfg.translatorSLA()}, logger)

	var exec executor.Executor
	switch cfg.Backend.Kind {
	case "external":
		return fmt.Errorf("iris-pgwire: backend.kind=external requires a DriverConn wired to a real IRIS driver, which this binary does not bundle")
	default:
		exec = executor.NewEmbedded(newMemoryBackend(), int64(cfg.Pool.Size))
	}

	copyCfg := CopyConfig{BatchRows: cfg.Copy.BatchRows, BatchBytes: cfg.Copy.BatchBytes}

	srv, err := wire.NewServer(
		newParseFn(tr, exec, sink, copyCfg),
		wire.Auth(wire.ClearTextPassword(func(username, password string) (bool, error) {
			return cfg.Auth.Method == "trust" || password != "", nil
		})),
		wire.ShutdownDrain(cfg.shutdownDrain()),
	)
	if err != nil {
		return fmt.Errorf("iris-pgwire: build server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", slog.String("addr", cfg.Listen.Addr))
		errCh <- srv.ListenAndServe(cfg.Listen.Addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("shutting down", slog.Duration("drain", cfg.shutdownDrain()))
		return srv.Close()
	}
}
