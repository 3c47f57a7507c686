// Command signalbridge bridges a Signal gateway's receive stream to a
// conversational assistant webhook, archiving every message into
// TimescaleDB along the way.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nugget/signalbridge/internal/archive"
	"github.com/nugget/signalbridge/internal/assistant"
	"github.com/nugget/signalbridge/internal/authz"
	"github.com/nugget/signalbridge/internal/buildinfo"
	"github.com/nugget/signalbridge/internal/config"
	"github.com/nugget/signalbridge/internal/connwatch"
	"github.com/nugget/signalbridge/internal/gateway"
	"github.com/nugget/signalbridge/internal/groupcache"
	"github.com/nugget/signalbridge/internal/httpkit"
	"github.com/nugget/signalbridge/internal/router"
	"github.com/nugget/signalbridge/internal/signalmsg"
	"github.com/nugget/signalbridge/internal/status"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "signalbridge: config:", err)
		return 1
	}

	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
	slog.SetDefault(logger)

	logger.Info("starting signalbridge", "version", buildinfo.String(), "account", cfg.RegisteredAccount)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	archiveWriter, err := archive.New(cfg.Timescale.DSN(), archive.Config{
		QueueCapacity:       10000,
		BatchSize:           cfg.Timescale.BatchSize,
		BatchTimeout:        cfg.Timescale.BatchTimeout(),
		MaxConcurrentWrites: 5,
	}, logger)
	if err != nil {
		logger.Error("failed to open archive database handle", "error", err)
		return 1
	}
	defer archiveWriter.Close()

	schemaCtx, schemaCancel := context.WithTimeout(ctx, 30*time.Second)
	defer schemaCancel()
	if err := archiveWriter.EnsureSchema(schemaCtx); err != nil {
		logger.Error("schema initialization failed", "error", err)
		return 1
	}

	httpClient := httpkit.NewClient(
		httpkit.WithTimeout(30*time.Second),
		httpkit.WithRetry(3, 500*time.Millisecond),
		httpkit.WithLogger(logger),
	)

	signalClient := gateway.New(cfg.SignalEndpoint, cfg.RegisteredAccount, httpClient, archiveWriter, logger)
	assistantClient := assistant.New(cfg.WebhookURL, cfg.AuthToken, httpClient)
	authzList := authz.New(cfg.AuthorizationWhitelist, logger)
	groups := groupcache.New(signalClient, cfg.RegisteredAccount, cfg.GroupCacheSize)

	msgRouter := router.New(cfg.RegisteredAccount, authzList, groups, archiveWriter, signalClient, assistantClient, logger)

	receiver := gateway.NewReceiver(cfg.SignalEndpoint, cfg.RegisteredAccount, func(ctx context.Context, payload []byte) {
		env, err := signalmsg.Decode(payload)
		if err != nil {
			logger.Warn("discarding malformed envelope", "error", err, "payload", string(payload))
			return
		}
		msgRouter.Handle(ctx, env)
	}, logger)

	reachability := connwatch.NewManager(logger)
	reachability.Watch(ctx, connwatch.WatcherConfig{
		Name: "signal-gateway",
		Probe: func(probeCtx context.Context) error {
			return signalClient.Ping(probeCtx)
		},
		Backoff: connwatch.DefaultBackoffConfig(),
		OnDown: func(err error) {
			logger.Warn("signal gateway unreachable; receive loop will keep retrying on its own fixed schedule", "error", err)
		},
	})

	archiveWriter.Start(ctx)

	statusMux := http.NewServeMux()
	statusMux.HandleFunc("/status", status.Handler(
		func() string { return receiver.State().String() },
		archiveWriter,
		groups,
		reachability,
	))
	statusServer := &http.Server{Addr: ":8081", Handler: statusMux}
	go func() {
		if err := statusServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("status server failed", "error", err)
		}
	}()

	receiverDone := make(chan struct{})
	go func() {
		receiver.Run(ctx)
		close(receiverDone)
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = statusServer.Shutdown(shutdownCtx)

	select {
	case <-receiverDone:
	case <-shutdownCtx.Done():
		logger.Warn("receive loop did not exit within shutdown timeout")
	}

	archiveWriter.Stop(shutdownCtx)
	reachability.Stop()

	logger.Info("shutdown complete")
	return 0
}
