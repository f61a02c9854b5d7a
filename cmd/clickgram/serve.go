package main

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/basket/clickgram/internal/base"
	"github.com/basket/clickgram/internal/bus"
	"github.com/basket/clickgram/internal/clickup"
	"github.com/basket/clickgram/internal/config"
	"github.com/basket/clickgram/internal/gateway"
	"github.com/basket/clickgram/internal/locale"
	"github.com/basket/clickgram/internal/otel"
	"github.com/basket/clickgram/internal/persistence"
	"github.com/basket/clickgram/internal/relay"
	"github.com/basket/clickgram/internal/secrets"
	"github.com/basket/clickgram/internal/telegram"
	"github.com/basket/clickgram/internal/telemetry"
)

func runServe(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	var g globalFlags
	flags := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	g.register(flags)
	if code, done := parseFlags(flags, args, stdout, stderr); done {
		return code
	}

	cfg, err := config.Load(g.configPath)
	if err != nil {
		return fatalStartup(nil, stderr, "E_CONFIG_LOAD", err)
	}
	logger, sink, err := telemetry.NewLogger(telemetry.Options{
		Dir:      cfg.LogDir,
		Level:    cfg.LogLevel,
		Quiet:    g.quiet,
		Compress: cfg.LogCompress,
		Console:  stdout,
	})
	if err != nil {
		return fatalStartup(nil, stderr, "E_LOGGER_INIT", err)
	}
	defer sink.Close()
	slog.SetDefault(logger)
	stopRotation, err := sink.StartRotation(logger)
	if err != nil {
		return fatalStartup(logger, stderr, "E_LOG_ROTATION", err)
	}
	defer stopRotation()
	logger.Info("startup phase", "phase", "config_loaded", "path", cfg.Path, "fingerprint", cfg.Fingerprint())

	provider, err := otel.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fatalStartup(logger, stderr, "E_OTEL_INIT", err)
	}
	defer provider.Shutdown(context.Background())
	metrics, err := otel.NewMetrics(provider.Meter)
	if err != nil {
		return fatalStartup(logger, stderr, "E_OTEL_INIT", err)
	}

	eventBus := bus.New()
	defer eventBus.Close()

	driver, driverName, closeDriver, err := persistence.Open(cfg.Database)
	if err != nil {
		return fatalStartup(logger, stderr, "E_STORE_OPEN", err)
	}
	defer closeDriver()

	index := base.NewIndex(base.Options{
		Driver: driver,
		Logger: logger.With("component", "base"),
		Bus:    eventBus,
		OnPersistError: func(error) {
			metrics.CountPersistError(context.Background())
		},
	})
	if err := loadIndex(ctx, index); err != nil {
		return fatalStartup(logger, stderr, "E_STORE_LOAD", err)
	}
	// Persists still in flight must land before the driver closes.
	defer index.Wait()
	metrics.AddRecords(ctx, int64(index.Size()))
	logger.Info("startup phase", "phase", "records_loaded", "driver", driverName, "records", index.Size())
	go observeRecords(ctx, eventBus, metrics, logger)

	cu := clickup.New(clickup.Options{
		BaseURL: cfg.ClickUp.APIURL,
		Team:    cfg.ClickUp.TeamID,
		Tracer:  provider.Tracer,
		Metrics: metrics,
	})
	tg := telegram.New(telegram.Options{
		APIEndpoint:  cfg.Telegram.APIEndpoint,
		FileEndpoint: cfg.Telegram.FileEndpoint,
		Tracer:       provider.Tracer,
		Metrics:      metrics,
	})
	if !g.skipSecrets {
		loader := secrets.NewLoader(cfg.Secrets, logger)
		if _, err := loader.Load(ctx, cu, tg); err != nil {
			if ctx.Err() != nil {
				logger.Info("shutdown before secrets arrived")
				return 0
			}
			return fatalStartup(logger, stderr, "E_SECRETS_LOAD", err)
		}
	}

	live := config.NewLive(cfg)
	deps := relay.Deps{Records: index, Tasks: cu, Chat: tg, Logger: logger.With("component", "relay")}
	tgRouter := relay.NewTelegramRouter(deps, routerSettings(cfg))
	cuRouter := relay.NewClickUpRouter(deps, routerSettings(cfg))
	handlerOpts := relay.HandlerOptions{Logger: logger, Bus: eventBus, Tracer: provider.Tracer, Metrics: metrics}

	server := gateway.New(gateway.Config{
		Telegram: relay.Handler(tgRouter, handlerOpts),
		ClickUp:  relay.Handler(cuRouter, handlerOpts),
		Auth: gateway.NewWebhookAuth(
			tg.SecretToken,
			func() string { return live.Get().ClickUp.WebhookSecret },
			metrics, logger,
		),
		RateLimit:         cfg.RateLimit,
		Records:           index,
		DriverName:        driverName,
		ConfigFingerprint: func() string { return live.Get().Fingerprint() },
		Metrics:           metrics,
		Logger:            logger,
	})
	server.StartBackgroundTasks(ctx)

	watcher := config.NewWatcher(cfg.Path, 0, logger)
	if err := watcher.Start(ctx); err != nil {
		logger.Warn("config watcher unavailable", "error", err)
	} else {
		go reloadOnChange(watcher.Events(), live, logger, tgRouter, cuRouter)
	}

	logger.Info("startup phase", "phase", "listening", "addr", cfg.Addr())
	if err := server.ListenAndServe(ctx, cfg.Addr()); err != nil {
		return fatalStartup(logger, stderr, "E_LISTENER", err)
	}
	logger.Info("shutdown complete")
	return 0
}

// loadIndex fills index from its driver. A store that does not exist yet
// starts empty.
func loadIndex(ctx context.Context, index *base.Index) error {
	err := index.Load(ctx)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func routerSettings(cfg config.Config) relay.Settings {
	return relay.Settings{
		ListID:        cfg.ClickUp.ListID,
		CommandPrefix: cfg.ClickUp.CommandPrefix,
		AccountField:  cfg.ClickUp.AccountField,
		Strings:       locale.New(cfg.DefaultLanguage),
	}
}

type settingsUpdater interface {
	UpdateSettings(relay.Settings)
}

func reloadOnChange(events <-chan config.ReloadEvent, live *config.Live, logger *slog.Logger, routers ...settingsUpdater) {
	for range events {
		before := live.Get().Fingerprint()
		next, err := live.Reload()
		if err != nil {
			logger.Error("config reload failed; keeping previous config", "error", err)
			continue
		}
		if next.Fingerprint() == before {
			continue
		}
		for _, r := range routers {
			r.UpdateSettings(routerSettings(next))
		}
		logger.Info("config reloaded", "fingerprint", next.Fingerprint())
	}
}

// observeRecords logs record lifecycle events and tracks the live count.
func observeRecords(ctx context.Context, b *bus.Bus, metrics *otel.Metrics, logger *slog.Logger) {
	sub := b.Subscribe("record.")
	defer b.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			if n := sub.Dropped(); n > 0 {
				logger.Warn("record events dropped", "count", n)
			}
			return
		case ev, ok := <-sub.Ch():
			if !ok {
				return
			}
			rec, _ := ev.Payload.(bus.RecordEvent)
			switch ev.Topic {
			case bus.TopicRecordCreated:
				metrics.AddRecords(ctx, 1)
			case bus.TopicRecordDeleted:
				metrics.AddRecords(ctx, -1)
			}
			logger.Debug("record event", "topic", ev.Topic, "chat_id", rec.Chat, "task_id", rec.Task)
		}
	}
}
