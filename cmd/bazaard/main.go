package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bazaar/config"
	"bazaar/core"
	"bazaar/core/events"
	"bazaar/gateway"
	"bazaar/gateway/middleware"
	"bazaar/observability"
	"bazaar/observability/logging"
	"bazaar/state"
	"bazaar/storage"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./config.toml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slogFatal("load config", err)
	}

	logger := logging.Setup(cfg.Observability.ServiceName, cfg.Observability.Environment)

	arbiter, err := cfg.ArbiterAddress()
	if err != nil {
		slogFatal("parse arbiter address", err)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		slogFatal("open database", err)
	}
	defer db.Close()

	store, err := state.NewStore(db)
	if err != nil {
		slogFatal("open state store", err)
	}

	node := core.NewNode(store, core.Config{
		HoldPeriod:    cfg.HoldPeriod,
		DisputeWindow: cfg.DisputeWindow,
		Arbiter:       arbiter,
	})

	eventLog := events.NewLog(cfg.EventLogCapacity)
	eventLog.Subscribe(observability.EventMetrics{})
	node.SetEmitter(eventLog)

	var auth *middleware.Authenticator
	if cfg.Gateway.AuthEnabled {
		auth = middleware.NewAuthenticator(middleware.AuthConfig{
			Enabled:    true,
			HMACSecret: cfg.Gateway.JWTSecret,
			Issuer:     cfg.Gateway.Issuer,
			Audience:   cfg.Gateway.Audience,
		}, logger)
	} else {
		logger.Warn("gateway auth disabled; caller identity taken from request bodies")
	}

	var limiter *middleware.RateLimiter
	if len(cfg.Gateway.RateLimits) > 0 {
		limits := make(map[string]middleware.RateLimit, len(cfg.Gateway.RateLimits))
		for route, limit := range cfg.Gateway.RateLimits {
			limits[route] = middleware.RateLimit{
				RequestsPerMinute: limit.RequestsPerMinute,
				Burst:             limit.Burst,
			}
		}
		limiter = middleware.NewRateLimiter(limits, logger)
	}

	obs := middleware.NewObservability(middleware.ObservabilityConfig{
		ServiceName:   cfg.Observability.ServiceName,
		MetricsPrefix: cfg.Observability.MetricsPrefix,
		LogRequests:   cfg.Observability.LogRequests,
		Enabled:       cfg.Observability.Enabled,
	}, logger)

	server := gateway.New(node, eventLog, logger, auth, limiter, obs)
	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", "addr", cfg.ListenAddress)
		errCh <- httpServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", "err", err)
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slogFatal("http server", err)
		}
	}
}

func slogFatal(msg string, err error) {
	slog.Error(msg, "err", err)
	os.Exit(1)
}
