package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/rs/zerolog"

	"github.com/moonssword/tg-autoposting-bot/internal/assets"
	"github.com/moonssword/tg-autoposting-bot/internal/config"
	"github.com/moonssword/tg-autoposting-bot/internal/dispatch"
	"github.com/moonssword/tg-autoposting-bot/internal/domain"
	"github.com/moonssword/tg-autoposting-bot/internal/metrics"
	"github.com/moonssword/tg-autoposting-bot/internal/planner"
	"github.com/moonssword/tg-autoposting-bot/internal/reconcile"
	"github.com/moonssword/tg-autoposting-bot/internal/scheduler"
	"github.com/moonssword/tg-autoposting-bot/internal/storage"
	"github.com/moonssword/tg-autoposting-bot/internal/telegram"
	"github.com/moonssword/tg-autoposting-bot/pkg/logx"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config file (json or yaml)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfgPath); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string) error {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, closeLog, err := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	if err != nil {
		return err
	}
	defer closeLog()
	mgr.SetLogger(log)

	pool, err := storage.Connect(ctx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	if cfg.Database.Migrate {
		if err := storage.Migrate(cfg.Database.URL); err != nil {
			return err
		}
		log.Info().Msg("database migrations applied")
	}

	store := storage.New(pool, storage.Options{
		FreshnessWindow: cfg.FreshnessWindow(),
		RetentionWindow: cfg.RetentionWindow(),
	}, log)

	apiTimeout, _ := config.ParseDurationField("telegram.api_timeout", cfg.Telegram.APITimeout)
	tg, err := telegram.New(telegram.Config{
		Token:      cfg.Telegram.Token,
		RatePerSec: cfg.Telegram.RatePerSec,
		APITimeout: apiTimeout,
	}, log)
	if err != nil {
		return err
	}

	cleaner := assets.NewCleaner(cfg.Storage.BaseURL, cfg.Storage.AuthToken, log)
	m := metrics.New()
	if cfg.Metrics.Addr != "" {
		go m.Serve(ctx, cfg.Metrics.Addr, log)
	}

	// Channel mapping is read through the manager so a config reload takes
	// effect at the next attempt, not the next restart.
	resolve := func(city string) (int64, bool) {
		id, ok := mgr.Get().Posting.Channels[city]
		return id, ok && id != 0
	}

	pl := planner.New(store, log)
	rec := reconcile.New(store, tg, cleaner, resolve, reconcile.Hooks{
		MessagesDeleted: func(n int) { m.MessagesDeleted.Add(float64(n)) },
		AssetsDeleted:   func(n int) { m.AssetsDeleted.Add(float64(n)) },
	}, log)

	sched, err := scheduler.New(cfg.Posting.Timezone, log)
	if err != nil {
		return err
	}

	postJob := func(jobCtx context.Context) {
		start := time.Now()
		defer func() { m.ObserveRun("post", time.Since(start)) }()
		runPosting(jobCtx, mgr, pl, store, tg, resolve, m, log)
	}
	for _, at := range cfg.Posting.PostTimes {
		if err := sched.AddDaily("post@"+at, at, postJob); err != nil {
			return err
		}
	}
	if err := sched.AddDaily("cleanup", cfg.CleanupTime(), func(jobCtx context.Context) {
		start := time.Now()
		defer func() { m.ObserveRun("cleanup", time.Since(start)) }()
		if err := rec.Run(jobCtx); err != nil {
			log.Error().Err(err).Msg("reconciliation run aborted")
		}
	}); err != nil {
		return err
	}

	go func() {
		if err := mgr.Watch(ctx); err != nil {
			log.Warn().Err(err).Msg("config watcher stopped")
		}
	}()
	// Trigger times and timezone are bound at startup; log reloads so the
	// operator knows a restart is needed for those.
	go func() {
		sub := mgr.Subscribe(1)
		defer mgr.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case next := <-sub:
				if next == nil {
					return
				}
				log.Info().Msg("config applied; channel map and run limits updated (trigger times need a restart)")
			}
		}
	}()

	sched.Start(ctx)
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	log.Info().Str("config", cfgPath).Int("post_times", len(cfg.Posting.PostTimes)).Str("cleanup", cfg.CleanupTime()).Msg("bot started")

	<-ctx.Done()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	sched.Stop()
	log.Info().Msg("bot stopped")
	return nil
}

// runPosting builds a fresh plan and dispatch loop per trigger so every run
// works from an immutable config snapshot.
func runPosting(ctx context.Context, mgr *config.Manager, pl *planner.Planner,
	store *storage.Postgres, tg *telegram.Client, resolve dispatch.Resolver,
	m *metrics.Metrics, log zerolog.Logger,
) {
	cfg := mgr.Get()
	plan, err := pl.Plan(ctx, cfg.Cities(), cfg.Posting.MaxPostsPerRun)
	if err != nil {
		log.Error().Err(err).Msg("posting run aborted")
		return
	}
	if plan.Empty() {
		log.Debug().Msg("no eligible ads; posting run skipped")
		return
	}

	loop := dispatch.New(store, tg, resolve, dispatch.Config{
		SlotInterval: cfg.PostInterval(),
		ItemPace:     cfg.ItemPace(),
		ParseMode:    parseMode(cfg.Telegram.ParseMode),
		AssetMode:    assetMode(cfg.Storage.AssetMode),
		AssetBaseURL: cfg.Storage.BaseURL,
	}, dispatch.Hooks{
		Posted: func(city string) { m.AdsPosted.WithLabelValues(city).Inc() },
		Failed: func(city, reason string) { m.AdsFailed.WithLabelValues(city, reason).Inc() },
	}, log)
	loop.Run(ctx, plan)
}

func parseMode(s string) domain.ParseMode {
	if s == "plain" {
		return domain.ModePlain
	}
	return domain.ModeMarkdown
}

func assetMode(s string) assets.Mode {
	if s == "raw" {
		return assets.ModeRaw
	}
	return assets.ModeDerived
}
