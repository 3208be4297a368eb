package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"replyguard/internal/api"
	"replyguard/internal/config"
	"replyguard/internal/cooldown"
	"replyguard/internal/dispatch"
	"replyguard/internal/history"
	"replyguard/internal/ingest"
	"replyguard/internal/logging"
	"replyguard/internal/model"
	"replyguard/internal/storage"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook API, kafka bridge and cache evictor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	cfgManager, err := loadConfig()
	if err != nil {
		return err
	}
	cfg := cfgManager.Get()
	logger := logging.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return err
	}
	defer store.Close()

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err = store.Init(initCtx)
	cancel()
	if err != nil {
		recordStatus(store, model.ServiceStatus{Status: model.StatusError, ErrorRecord: err.Error()}, logger)
		return fmt.Errorf("init %s store: %w", cfg.Storage.Driver, err)
	}
	recordStatus(store, model.ServiceStatus{Status: model.StatusOnline, LastConnection: time.Now().UTC()}, logger)

	loc, err := time.LoadLocation(cfg.Schedule.Timezone)
	if err != nil {
		return fmt.Errorf("load timezone: %w", err)
	}

	cache := cooldown.NewMemoryCache()
	controller := cooldown.NewController(store, cache, cooldown.Options{
		Window:       cfg.Cooldown.Window.Std(),
		StoreTimeout: cfg.Cooldown.StoreTimeout.Std(),
		Location:     loc,
		Coalesce:     cfg.Cooldown.Coalesce,
		Logger:       logger,
	})
	evictor := cooldown.NewEvictor(cache, cfg.Cooldown.SweepInterval.Std(), cfg.Cooldown.CacheRetention.Std(), nil, logger)
	go evictor.Run(ctx)

	hist := history.NewStore(cfg.History.StoreLimit)
	dispatcher, err := dispatch.New(cfg, controller, hist, logger)
	if err != nil {
		return err
	}

	_, apiDone := api.Start(ctx, api.Deps{
		Config:     cfgManager,
		Dispatcher: dispatcher,
		Controller: controller,
		Cache:      cache,
		Evictor:    evictor,
		Store:      store,
		History:    hist,
		Logger:     logger,
		Version:    version,
	})
	kafkaDone := ingest.StartKafka(ctx, cfgManager, dispatcher, logger)

	go cfgManager.Watch(3*time.Second, func(next *config.Config) {
		logging.SetLevel(next.LogLevel)
		if err := dispatcher.UpdateConfig(next); err != nil {
			logger.Error("config reload rejected", "err", err)
			return
		}
		// cooldown, storage, api and kafka settings are bound at startup; only
		// messages, schedule, intents and log level follow a reload
		logger.Info("config reloaded", "path", cfgManager.Path())
	}, func(err error) {
		logger.Warn("config reload failed", "err", err)
	}, ctx.Done())

	logger.Info("replyguard started",
		"version", version,
		"storage", cfg.Storage.Driver,
		"window", cfg.Cooldown.Window.String(),
		"coalesce", cfg.Cooldown.Coalesce,
	)
	<-ctx.Done()
	logger.Info("replyguard shutting down")
	<-apiDone
	<-kafkaDone
	recordStatus(store, model.ServiceStatus{Status: model.StatusOffline, LastShutdown: time.Now().UTC()}, logger)
	return nil
}

func recordStatus(sink storage.StatusSink, status model.ServiceStatus, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := sink.SaveStatus(ctx, status); err != nil {
		logger.Warn("service status not recorded", "status", status.Status, "kind", storage.KindOf(storage.Classify(err)), "err", err)
	}
}
