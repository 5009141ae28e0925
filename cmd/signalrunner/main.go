// Package main wires the Signal Engine, its Trade Queue, hub client, state
// store, and operator HTTP surface together and runs them until terminated.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mreyes/signalrunner/api"
	"github.com/mreyes/signalrunner/config"
	"github.com/mreyes/signalrunner/exchange"
	"github.com/mreyes/signalrunner/hub"
	"github.com/mreyes/signalrunner/models"
	"github.com/mreyes/signalrunner/notify"
	"github.com/mreyes/signalrunner/queue"
	"github.com/mreyes/signalrunner/signalengine"
	"github.com/mreyes/signalrunner/state"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	log.Info().Msg("starting signalrunner trade executor")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.LogFormat == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	if cfg.ExchangeAPIKey == "" {
		log.Warn().Msg("no exchange credentials configured, running against the virtual ledger")
	}

	store, err := state.Open(cfg.DatabasePath, nil, cfg.MaxDatabaseRows, 100*time.Millisecond)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open state store")
	}
	defer store.Close()

	var gw exchange.Gateway
	if cfg.ExchangeAPIKey != "" {
		gw = exchange.NewBinanceGateway(cfg.ExchangeAPIKey, cfg.ExchangeAPISecret, false, cfg.BalanceSyncDelay)
	} else {
		gw = exchange.NewVirtualLedger(cfg.VirtualWalletFunds, []string{"USDT", cfg.ReferenceSymbol})
	}

	notifier := notify.New(models.NotificationLevel(cfg.NotifyMinLevel))
	notifier.Register(notify.LogSink{})
	ring := notify.NewRingSink(500)
	notifier.Register(ring)

	q := queue.New(200 * time.Millisecond)

	engine := signalengine.New(cfg, gw, store, q, nil, notifier, nil)
	hubClient := hub.NewClient(cfg.HubURL, cfg.HubKey, engine)
	engine.SetHub(hubClient)

	store.SetSource(engine)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	raw, err := store.LoadAll()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load persisted state")
	}

	hubOpenTrades, err := hubClient.FetchAllOpenTrades(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to fetch the hub's open-trade view; reconciling against persisted state alone")
	}

	if err := engine.Reconcile(ctx, raw, hubOpenTrades); err != nil {
		log.Fatal().Err(err).Msg("startup reconciliation failed")
	}

	go q.Run(ctx)
	go hubClient.Run(ctx)
	go engine.RunBackground(ctx)

	router := api.NewRouter(cfg, engine, store, ring)
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("operator API listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("operator API server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	cancel()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := store.Flush(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to flush state on shutdown")
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("operator API server forced to shutdown")
	}

	log.Info().Msg("shutdown complete")
}
