// sntrayd runs a StatusNotifierWatcher and a StatusNotifierHost on the
// session bus. The host keeps a tray of items and logs its changes, which
// is enough to provide a watcher to a desktop without a panel and to smoke
// test applications and panels.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/shelepuginivan/sntray"
	"github.com/shelepuginivan/sntray/internal/config"
	"github.com/shelepuginivan/sntray/internal/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flags := pflag.NewFlagSet("sntrayd", pflag.ContinueOnError)

	configPath := flags.StringP("config", "c", "", "path to a YAML config file")
	watcher := flags.Bool("watcher", true, "run the StatusNotifierWatcher")
	host := flags.Bool("host", true, "run a StatusNotifierHost")
	suffix := flags.String("watcher-suffix", "", "suffix of the watcher name, e.g. for testing")
	scrollThreshold := flags.Float64("scroll-threshold", sntray.DefaultScrollThreshold, "smooth scroll delta per Scroll call")
	callTimeout := flags.Duration("call-timeout", sntray.DefaultCallTimeout, "timeout of D-Bus method calls")
	logLevel := flags.String("log-level", "info", "log level: debug, info, warn or error")
	dev := flags.Bool("dev", false, "human readable development logs")
	metricsAddr := flags.String("metrics-addr", "", "serve Prometheus metrics on this address")

	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}

		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	// Flags given explicitly win over the file and the environment.
	flags.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "watcher":
			cfg.Watcher.Enabled = *watcher
		case "host":
			cfg.Host.Enabled = *host
		case "watcher-suffix":
			cfg.Watcher.Suffix = *suffix
		case "scroll-threshold":
			cfg.Host.ScrollThreshold = *scrollThreshold
		case "call-timeout":
			cfg.Host.CallTimeout = *callTimeout
		case "log-level":
			cfg.Logging.Level = *logLevel
		case "dev":
			cfg.Logging.Development = *dev
		case "metrics-addr":
			cfg.Metrics.Addr = *metricsAddr
		}
	})

	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(cfg.LoggerConfig())
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return fmt.Errorf("failed to connect to session bus: %w", err)
	}
	defer conn.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	opts := []sntray.Option{
		sntray.WithLogger(logger),
		sntray.WithMetrics(sntray.NewMetrics(registry)),
		sntray.WithWatcherSuffix(cfg.Watcher.Suffix),
		sntray.WithScrollThreshold(cfg.Host.ScrollThreshold),
		sntray.WithCallTimeout(cfg.Host.CallTimeout),
	}

	loop := sntray.NewLoop(opts...)

	if cfg.Metrics.Addr != "" {
		server := serveMetrics(cfg.Metrics.Addr, registry, logger)
		defer shutdown(server, logger)
	}

	if cfg.Watcher.Enabled {
		w := sntray.NewWatcher(conn, loop, opts...)
		if err := w.Launch(); err != nil {
			return err
		}
		defer w.Shutdown() //nolint:errcheck

		logger.Info("watcher started", zap.String("name", w.Name()))
	}

	if cfg.Host.Enabled {
		tray := sntray.NewTray(conn, loop, opts...)
		tray.OnChange(func() { logTray(logger, tray) })
		defer tray.Close()

		h := sntray.NewHost(conn, loop, tray, opts...)
		if err := h.Listen(); err != nil {
			return err
		}
		defer h.Close() //nolint:errcheck

		logger.Info("host started", zap.String("name", h.Name()))
	}

	err = loop.Run(ctx)
	logger.Info("shutting down")

	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}

func logTray(logger *zap.Logger, tray *sntray.Tray) {
	items := make([]string, 0, tray.Len())

	for _, item := range tray.Items() {
		if item.State() != sntray.StateReady {
			continue
		}

		items = append(items, fmt.Sprintf("%s (%s, %s)", item.ID(), item.Status(), item.ServiceID()))
	}

	logger.Info("tray changed", zap.Strings("items", items))
}

func serveMetrics(addr string, registry *prometheus.Registry, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("serving metrics", zap.String("addr", addr))

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	return server
}

func shutdown(server *http.Server, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("failed to stop metrics server", zap.Error(err))
	}
}
