// Package main is the entry point for the broccoli gateway, the throttled,
// cached, signed-request gateway between application workers and the Amazon
// MWS / Product Advertising APIs.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/prn-tf/broccoli-gateway/internal/config"
	"github.com/prn-tf/broccoli-gateway/internal/gateway"
	"github.com/prn-tf/broccoli-gateway/internal/handler"
	"github.com/prn-tf/broccoli-gateway/internal/kvstore"
	"github.com/prn-tf/broccoli-gateway/internal/metrics"
	"github.com/prn-tf/broccoli-gateway/internal/mws"
)

// Version information (set at build time)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg := config.MustLoad(*configPath)

	initLogger(cfg.Logging)

	log.Info().
		Str("version", Version).
		Str("build_time", BuildTime).
		Str("git_commit", GitCommit).
		Msg("Starting broccoli gateway")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store kvstore.Store
	if cfg.Redis.Enabled {
		redisStore, err := kvstore.NewRedisStoreFromURL(ctx, cfg.Redis.URL)
		if err != nil {
			log.Fatal().Err(err).Msg("connecting to redis")
		}
		defer redisStore.Close()
		store = redisStore
	} else {
		log.Warn().Msg("redis disabled, quota state is process-local")
		memStore := kvstore.NewMemoryStore()
		defer memStore.Stop()
		store = memStore
	}

	m := metrics.New(nil)

	gw, err := gateway.New(gateway.Config{
		Credentials: mws.Credentials{
			AccessKey:     cfg.MWS.AccessKey,
			SecretKey:     cfg.MWS.SecretKey,
			AccountID:     cfg.MWS.SellerID,
			AssociateTag:  cfg.MWS.AssociateTag,
			AuthToken:     cfg.MWS.AuthToken,
			Domain:        cfg.MWS.Domain,
			DefaultMarket: cfg.MWS.DefaultMarket,
		},
		Store:        store,
		HTTPClient:   &http.Client{Timeout: cfg.Outbound.Timeout},
		PendingTTL:   cfg.Throttle.PendingTTL,
		TTLOverrides: cfg.Cache.TTLOverrides,
		Metrics:      m,
		Logger:       log.Logger,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("initializing gateway")
	}

	router := handler.NewRouter(handler.RouterConfig{
		Gateway: gw,
		Logger:  log.Logger,
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:    cfg.Server.Host + ":" + strconv.Itoa(cfg.Metrics.Port),
			Handler: mux,
		}
		go func() {
			log.Info().Str("addr", metricsServer.Addr).Msg("metrics server listening")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("gateway listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("metrics server shutdown")
		}
	}
}

// initLogger configures the global zerolog logger.
func initLogger(cfg config.LoggingConfig) {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}
