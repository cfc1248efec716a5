// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jeranaias/promptlab/internal/billing"
	"github.com/jeranaias/promptlab/internal/config"
	"github.com/jeranaias/promptlab/internal/model"
	"github.com/jeranaias/promptlab/internal/provider"
	"github.com/jeranaias/promptlab/internal/quota"
	"github.com/jeranaias/promptlab/internal/server"
	"github.com/jeranaias/promptlab/internal/session"
	"github.com/jeranaias/promptlab/internal/storage"
)

// loadConfig loads configuration, honoring --config.
func loadConfig(args Args) *config.Config {
	var (
		cfg *config.Config
		err error
	)
	if args.ConfigPath != "" {
		cfg, err = config.LoadFromPath(args.ConfigPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		fatal("failed to load config: %v", err)
	}
	return cfg
}

// stores bundles the persistence layer opened from one config.
type stores struct {
	conversations  *storage.ConversationStore
	configurations *storage.ConfigurationStore
	users          *storage.UserStore
	usage          *storage.UsageStore
}

// openStores opens all stores under the configured data directory.
func openStores(cfg *config.Config) *stores {
	if err := os.MkdirAll(cfg.Storage.DataDir, 0700); err != nil {
		fatal("failed to create data directory: %v", err)
	}
	conversations, err := storage.NewConversationStore(cfg.Storage.DataDir, cfg.Storage.MaxConversations)
	if err != nil {
		fatal("failed to open conversation store: %v", err)
	}
	configurations, err := storage.NewConfigurationStore(cfg.Storage.DataDir)
	if err != nil {
		fatal("failed to open configuration store: %v", err)
	}
	users, err := storage.NewUserStore(cfg.Storage.DataDir)
	if err != nil {
		fatal("failed to open user store: %v", err)
	}
	usage, err := storage.OpenUsageStore(cfg.Storage.UsageDBPath)
	if err != nil {
		fatal("failed to open usage store: %v", err)
	}
	return &stores{
		conversations:  conversations,
		configurations: configurations,
		users:          users,
		usage:          usage,
	}
}

// HandleServe runs the API server until interrupted.
func HandleServe(args Args) {
	cfg := loadConfig(args)
	st := openStores(cfg)
	defer st.usage.Close()

	// Quota counters live in Redis when configured so multiple instances
	// share one budget; otherwise in process memory.
	var counter quota.CounterStore
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		counter = quota.NewRedisCounter(rdb)
		log.Printf("QUOTA_BACKEND | backend=redis addr=%s", cfg.Redis.Addr)
	} else {
		counter = quota.NewMemoryCounter()
		log.Printf("QUOTA_BACKEND | backend=memory")
	}

	budget := func(u *model.User) int64 {
		if u.MonthlyTokenQuota > 0 {
			return u.MonthlyTokenQuota
		}
		return cfg.MonthlyTokens(string(u.Plan))
	}
	// Seed counters from the usage store so an in-process counter picks up
	// the month's consumption after a restart.
	usageTotals := func(ctx context.Context, userID string, from, to time.Time) (int64, error) {
		summary, err := st.usage.Summarize(ctx, userID, from, to)
		if err != nil {
			return 0, err
		}
		return summary.TotalTokens(), nil
	}
	enforcer := quota.NewEnforcer(counter, budget, usageTotals, cfg.Quota.Enabled)

	limiter := quota.NewLimiterStore(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)

	chatter := provider.NewClient(cfg.Provider.APIKey).
		WithBaseURL(cfg.Provider.BaseURL).
		WithMaxRetries(cfg.Provider.MaxRetries)

	// Idle conversations are ended and persisted in the background.
	tracker := session.NewTracker(session.DefaultIdleTimeout, func(conversationID string) {
		conv, err := st.conversations.Load(conversationID)
		if err != nil {
			return
		}
		if err := conv.End(); err != nil {
			return
		}
		if err := st.conversations.Save(conv); err != nil {
			log.Printf("IDLE_END_SAVE_FAILED | conversation=%s error=%v", conversationID, err)
		}
	})

	srv := server.New(cfg, server.Deps{
		Chatter:        chatter,
		Conversations:  st.conversations,
		Configurations: st.configurations,
		Users:          st.users,
		Usage:          st.usage,
		Enforcer:       enforcer,
		Limiter:        limiter,
		Rates:          billing.NewRateCard(cfg.Billing.Rates),
		Invoicer:       billing.NewInvoicer(st.usage),
		Costs:          billing.NewTracker(),
		Tracker:        tracker,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go tracker.Run(ctx)
	limiter.StartJanitor(ctx, 2*time.Minute)

	// Hot-reload is advisory; a changed config takes full effect on
	// restart, but the notice keeps operators from waiting on one.
	if watchPath := configWatchPath(args); watchPath != "" {
		if w, err := config.NewWatcher(watchPath, 0, func(_ *config.Config) {
			log.Printf("CONFIG_RELOADED | path=%s (restart to apply server settings)", watchPath)
		}); err == nil {
			if err := w.Watch(); err == nil {
				defer w.Close()
			}
		}
	}

	if err := srv.Start(ctx); err != nil {
		fatal("server failed: %v", err)
	}
}

// configWatchPath resolves the config file the watcher should follow.
func configWatchPath(args Args) string {
	if args.ConfigPath != "" {
		return args.ConfigPath
	}
	path, err := config.PathTOML()
	if err != nil {
		return ""
	}
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}
