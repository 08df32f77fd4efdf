package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/avelar/feedgate/internal/api"
	"github.com/avelar/feedgate/internal/auth"
	"github.com/avelar/feedgate/internal/cache"
	"github.com/avelar/feedgate/internal/config"
	"github.com/avelar/feedgate/internal/connection"
	"github.com/avelar/feedgate/internal/hub"
	"github.com/avelar/feedgate/internal/metrics"
	"github.com/avelar/feedgate/internal/model"
	"github.com/avelar/feedgate/internal/poller"
	"github.com/avelar/feedgate/internal/server"
	"github.com/avelar/feedgate/internal/state"
	"github.com/avelar/feedgate/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/gateway.local.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("starting feedgate",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"environment", cfg.Upstream.Environment,
		"rest_url", cfg.Upstream.ResolveRestURL(),
		"ws_url", cfg.Upstream.ResolveWSURL(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var creds *auth.Credentials
	if cfg.Upstream.APIKey != "" || cfg.Upstream.APISecret != "" {
		creds = &auth.Credentials{
			APIKey:    cfg.Upstream.APIKey,
			APISecret: cfg.Upstream.APISecret,
		}
	}

	// Upstream REST client
	apiClient := api.NewClient(
		cfg.Upstream.ResolveRestURL(),
		creds,
		api.WithLogger(logger),
		api.WithTimeout(cfg.Upstream.Timeout),
		api.WithRetries(cfg.Upstream.MaxRetries, time.Second),
	)

	tickerCache := cache.New[[]model.Ticker](logger)
	reconciler := state.New(logger)

	// Upstream connection manager and fanout hub. The hub relays
	// subscriptions through the manager, and the manager dispatches inbound
	// frames into the hub.
	manager := connection.NewManager(connection.ManagerConfig{
		WSURL:                cfg.Upstream.ResolveWSURL(),
		Credentials:          creds,
		ConnectTimeout:       cfg.Connection.ConnectTimeout,
		ReconnectBaseDelay:   cfg.Connection.ReconnectBaseDelay,
		MaxReconnectAttempts: cfg.Connection.MaxReconnectAttempts,
		PingInterval:         cfg.Connection.PingInterval,
		PingTimeout:          cfg.Connection.PingTimeout,
		WriteTimeout:         cfg.Connection.WriteTimeout,
		BufferSize:           cfg.Connection.BufferSize,
	}, nil, logger)

	fanout := hub.New(manager, reconciler, logger)
	manager.SetDispatch(func(frame connection.Frame, raw connection.TimestampedMessage) {
		metrics.FramesInTotal.WithLabelValues(frame.Type).Inc()
		fanout.HandleFrame(frame, raw)
	})

	srv := server.New(
		cfg.Server,
		cfg.Metrics.Path,
		apiClient,
		tickerCache,
		cfg.Cache.TickerTTL,
		fanout,
		manager,
		reconciler,
		logger,
	)

	if err := manager.Start(ctx); err != nil {
		logger.Error("failed to start connection manager", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		manager.Stop(shutdownCtx)
	}()

	if cfg.Cache.WarmTickers {
		warmer := poller.New(poller.Config{
			Interval: cfg.Cache.WarmInterval,
		}, tickerCache, apiClient.GetTickers, logger)
		if err := warmer.Start(ctx); err != nil {
			logger.Error("failed to start cache warmer", "error", err)
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			warmer.Stop(shutdownCtx)
		}()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(srv.Start)

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		select {
		case err := <-manager.Terminal():
			logger.Error("upstream unavailable, shutting down", "error", err)
			return err
		case <-gctx.Done():
			return nil
		}
	})

	// Gauge sampler
	g.Go(func() error {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				metrics.UpstreamState.Set(float64(manager.State()))
			}
		}
	})

	logger.Info("feedgate running",
		"instance_id", cfg.Instance.ID,
		"port", cfg.Server.Port,
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("shutting down after failure", "error", err)
		os.Exit(1)
	}

	logger.Info("feedgate stopped")
}
