// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/sttp/lib/capture"
	"github.com/bureau-foundation/sttp/lib/clock"
	"github.com/bureau-foundation/sttp/lib/config"
	"github.com/bureau-foundation/sttp/lib/ticks"
	"github.com/bureau-foundation/sttp/lib/version"
	"github.com/bureau-foundation/sttp/transport"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// options holds the command-line flags. Flags that were set override
// the configuration file.
type options struct {
	configPath        string
	host              string
	port              uint16
	filter            string
	record            string
	recordCompression string
	metricsAddress    string
	logLevel          string
	dump              string
	showVersion       bool
}

func newFlagSet(opts *options) *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("sttp-subscriber", pflag.ContinueOnError)
	flagSet.StringVar(&opts.configPath, "config", "", "path to the YAML config file (default: $STTP_CONFIG, if set)")
	flagSet.StringVar(&opts.host, "host", "", "publisher host name or address")
	flagSet.Uint16Var(&opts.port, "port", 0, "publisher port")
	flagSet.StringVarP(&opts.filter, "filter", "f", "", "subscription filter expression")
	flagSet.StringVar(&opts.record, "record", "", "record received measurements to this capture file")
	flagSet.StringVar(&opts.recordCompression, "record-compression", "", "capture compression: none, lz4 or zstd")
	flagSet.StringVar(&opts.metricsAddress, "metrics-address", "", "serve Prometheus metrics on this host:port")
	flagSet.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error (debug logs every measurement)")
	flagSet.StringVar(&opts.dump, "dump", "", "print a capture file and exit")
	flagSet.BoolVar(&opts.showVersion, "version", false, "print version information and exit")
	return flagSet
}

func run(args []string, stdout, stderr io.Writer) error {
	var opts options
	flagSet := newFlagSet(&opts)
	flagSet.SetOutput(stderr)
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if flagSet.NArg() > 0 {
		return fmt.Errorf("unexpected argument: %s", flagSet.Arg(0))
	}

	if opts.showVersion {
		version.Print(stdout, "sttp-subscriber")
		return nil
	}
	if opts.dump != "" {
		return dumpCapture(opts.dump, stdout)
	}

	cfg, err := loadConfig(flagSet, &opts)
	if err != nil {
		return err
	}
	level, _ := cfg.LogLevel()
	logger := newLogger(stderr, level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return subscribe(ctx, cfg, logger, clock.Real())
}

// loadConfig reads the config file, if any, applies flag overrides and
// validates the result.
func loadConfig(flagSet *pflag.FlagSet, opts *options) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	switch {
	case opts.configPath != "":
		cfg, err = config.LoadFile(opts.configPath)
	case os.Getenv("STTP_CONFIG") != "":
		cfg, err = config.Load()
	default:
		cfg = config.Default()
	}
	if err != nil {
		return nil, err
	}

	if flagSet.Changed("host") {
		cfg.Publisher.Host = opts.host
	}
	if flagSet.Changed("port") {
		cfg.Publisher.Port = opts.port
	}
	if flagSet.Changed("filter") {
		cfg.Subscription.FilterExpression = opts.filter
	}
	if flagSet.Changed("record") {
		cfg.Capture.Path = opts.record
	}
	if flagSet.Changed("record-compression") {
		cfg.Capture.Compression = opts.recordCompression
	}
	if flagSet.Changed("metrics-address") {
		cfg.Metrics.Address = opts.metricsAddress
	}
	if flagSet.Changed("log-level") {
		cfg.Logging.Level = opts.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration:\n%w", err)
	}
	return cfg, nil
}

// subscribe runs the subscriber until ctx is cancelled, the initial
// connection fails for good, or a historical replay completes.
func subscribe(ctx context.Context, cfg *config.Config, logger *slog.Logger, clk clock.Clock) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := transport.NewMetrics(registry)
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	if cfg.Metrics.Address != "" {
		shutdown, err := serveMetrics(cfg.Metrics.Address, registry, logger)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	publisher := net.JoinHostPort(cfg.Publisher.Host, strconv.Itoa(int(cfg.Publisher.Port)))

	var recorder *capture.Recorder
	if cfg.Capture.Path != "" {
		compression, _ := cfg.CaptureCompression()
		recorder, err = capture.Create(cfg.Capture.Path, capture.RecorderOptions{
			Compression: compression,
			Header: capture.Header{
				Publisher:        publisher,
				FilterExpression: cfg.Subscription.FilterExpression,
				Started:          ticks.FromTime(clk.Now()),
				Source:           "sttp-subscriber " + version.Info(),
			},
			Logger: logger,
		})
		if err != nil {
			return err
		}
		defer func() {
			if err := recorder.Close(); err != nil {
				logger.Error("closing capture file", "error", err)
			}
		}()
	}

	transportConfig := cfg.TransportConfig()
	transportConfig.Logger = logger
	transportConfig.Clock = clk
	transportConfig.Metrics = metrics
	subscriber, err := transport.NewDataSubscriber(transportConfig)
	if err != nil {
		return err
	}
	defer subscriber.Dispose()

	handler := newSubscriberHandler(logger, clk, recorder)
	handler.subscriberID = subscriber.SubscriberID
	subscriber.SetHandler(handler)
	subscriber.SetSubscription(cfg.SubscriptionInfo())

	logger.Info("sttp subscriber starting",
		"publisher", publisher,
		"filter", cfg.Subscription.FilterExpression,
		"capture", cfg.Capture.Path,
		"version", version.Info(),
	)

	connected := make(chan transport.ConnectStatus, 1)
	go func() {
		connected <- subscriber.Connector().Connect(subscriber, cfg.Publisher.Host, cfg.Publisher.Port)
	}()

	var statsTick <-chan time.Time
	if cfg.Logging.StatsInterval > 0 {
		ticker := clk.NewTicker(cfg.Logging.StatsInterval)
		defer ticker.Stop()
		statsTick = ticker.C
	}
	var flushTick <-chan time.Time
	if recorder != nil {
		ticker := clk.NewTicker(cfg.Capture.FlushInterval)
		defer ticker.Stop()
		flushTick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			subscriber.Connector().Cancel()
			logStats(logger, subscriber, handler)
			return nil

		case status := <-connected:
			connected = nil
			if status == transport.ConnectFailed {
				return fmt.Errorf("could not connect to %s", publisher)
			}

		case <-handler.processingComplete():
			logStats(logger, subscriber, handler)
			return nil

		case <-statsTick:
			logStats(logger, subscriber, handler)

		case <-flushTick:
			if err := recorder.Flush(); err != nil {
				logger.Error("flushing capture file", "error", err)
			}
		}
	}
}

func logStats(logger *slog.Logger, subscriber *transport.DataSubscriber, handler *subscriberHandler) {
	stats := handler.stats()
	logger.Info("subscriber statistics",
		"state", subscriber.State(),
		"signals", stats.Signals,
		"batches", stats.Batches,
		"measurements", stats.Measurements,
		"command_channel_bytes", subscriber.TotalCommandChannelBytesReceived(),
		"data_channel_bytes", subscriber.TotalDataChannelBytesReceived(),
	)
}

// serveMetrics serves registry on address until the returned function
// is called.
func serveMetrics(address string, registry *prometheus.Registry, logger *slog.Logger) (func(), error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	logger.Info("serving metrics", "address", listener.Addr().String())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}, nil
}
