// Package app wires configuration, storage, transports, the pipeline and
// the job table into one runnable unit. main stays thin; everything that
// can fail at startup fails here with a useful error.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/AetherSilva/G3r4kiHub/internal/analytics"
	"github.com/AetherSilva/G3r4kiHub/internal/catalog"
	"github.com/AetherSilva/G3r4kiHub/internal/config"
	"github.com/AetherSilva/G3r4kiHub/internal/dedup"
	"github.com/AetherSilva/G3r4kiHub/internal/domain"
	"github.com/AetherSilva/G3r4kiHub/internal/format"
	"github.com/AetherSilva/G3r4kiHub/internal/pipeline"
	"github.com/AetherSilva/G3r4kiHub/internal/ports"
	"github.com/AetherSilva/G3r4kiHub/internal/publish"
	"github.com/AetherSilva/G3r4kiHub/internal/ratelimit"
	"github.com/AetherSilva/G3r4kiHub/internal/retry"
	"github.com/AetherSilva/G3r4kiHub/internal/scheduler"
	"github.com/AetherSilva/G3r4kiHub/internal/status"
	"github.com/AetherSilva/G3r4kiHub/internal/storage"
	"github.com/AetherSilva/G3r4kiHub/internal/transport/dealsource"
	"github.com/AetherSilva/G3r4kiHub/internal/transport/telegram"
	"github.com/AetherSilva/G3r4kiHub/pkg/logx"
)

const (
	JobPostDeals = "post_deals"
	JobAnalytics = "analytics"
	JobCleanup   = "cleanup"
)

type App struct {
	cfgPath string
	cfg     *config.Config
	log     logx.Logger

	store      *storage.SQLite
	channel    *telegram.Channel
	cache      *dedup.Cache
	poster     *pipeline.Poster
	reconciler *analytics.Reconciler
	orch       *scheduler.Orchestrator
	statusSrv  *status.Server

	clock ports.Clock
	loc   *time.Location
}

func New(cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	log, err := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}

	loc, err := time.LoadLocation(cfg.Posting.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone: %w", err)
	}

	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: cfg.Storage.BusyTimeout.Std(),
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}

	channel, err := telegram.New(telegram.Config{
		Token:     cfg.Telegram.Token,
		ChannelID: cfg.Telegram.ChannelID,
		GroupID:   cfg.Telegram.GroupID,
		APIURL:    cfg.Telegram.APIURL,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("telegram: %w", err)
	}

	source, err := dealsource.New(dealsource.Config{
		BaseURL: cfg.Catalog.BaseURL,
		Timeout: cfg.Catalog.Timeout.Std(),
	}, log.With(logx.String("comp", "dealsource")))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("dealsource: %w", err)
	}

	clock := ports.SystemClock{}

	catalogLimiter := ratelimit.New("catalog", cfg.Catalog.RatePerSec, 1, cfg.Catalog.MaxWait.Std())
	channelLimiter := ratelimit.New("channel", float64(cfg.Telegram.RatePerMin)/60.0, 1, cfg.Telegram.MaxWait.Std())

	policy := retry.Policy{}

	fetcher := catalog.NewFetcher(source, catalogLimiter, policy, log.With(logx.String("comp", "catalog")))
	publisher := publish.New(channel, channelLimiter, policy, log.With(logx.String("comp", "publish")))

	cache := dedup.New(store, clock, cfg.Dedup.Cooldown.Std(), cfg.Dedup.Retention.Std(),
		log.With(logx.String("comp", "dedup")))

	formatter := format.Formatter{
		PartnerTag: cfg.Catalog.PartnerTag,
		Disclosure: cfg.Posting.Disclosure,
	}

	poster := pipeline.NewPoster(fetcher, cache, formatter, publisher, store, clock,
		posterConfig(cfg, loc), log.With(logx.String("comp", "pipeline")))

	reconciler := analytics.New(channel, store, channelLimiter, clock, cfg.Analytics.CommissionRate,
		log.With(logx.String("comp", "analytics")))

	orch := scheduler.New(store, clock, loc, log.With(logx.String("comp", "scheduler")))

	a := &App{
		cfgPath:    cfgPath,
		cfg:        cfg,
		log:        log,
		store:      store,
		channel:    channel,
		cache:      cache,
		poster:     poster,
		reconciler: reconciler,
		orch:       orch,
		clock:      clock,
		loc:        loc,
	}

	if err := a.registerJobs(); err != nil {
		_ = store.Close()
		return nil, err
	}

	if cfg.Status.Enabled {
		a.statusSrv = status.New(cfg.Status.Addr, orch, store, clock,
			log.With(logx.String("comp", "status")))
	}
	return a, nil
}

func (a *App) registerJobs() error {
	jobs := []scheduler.Job{
		{
			Name:    JobPostDeals,
			Spec:    a.cfg.Posting.Schedule,
			Timeout: 10 * time.Minute,
			Run:     a.runPostDeals,
		},
		{
			Name:    JobCleanup,
			Spec:    a.cfg.Cleanup.Schedule,
			Timeout: 5 * time.Minute,
			Run:     a.runCleanup,
		},
	}
	if a.cfg.Analytics.Enabled {
		jobs = append(jobs, scheduler.Job{
			Name:    JobAnalytics,
			Spec:    a.cfg.Analytics.Schedule,
			Timeout: 15 * time.Minute,
			Run:     a.runAnalytics,
		})
	} else {
		a.log.Info("analytics job disabled")
	}

	for _, j := range jobs {
		if err := a.orch.Register(j); err != nil {
			return err
		}
	}
	return nil
}

// Start rebuilds local state from the store, then begins scheduling. The
// repair runs before rehydration so entries lost to a crash between
// publish and commit re-enter the cache.
func (a *App) Start(ctx context.Context) error {
	repaired, err := a.store.RepairDedup(ctx, a.clock.Now().Add(-a.cache.Cooldown()))
	if err != nil {
		return fmt.Errorf("dedup repair: %w", err)
	}
	if repaired > 0 {
		a.log.Warn("dedup entries repaired from published history", logx.Int64("count", repaired))
	}
	if err := a.cache.Rehydrate(ctx); err != nil {
		return fmt.Errorf("dedup rehydrate: %w", err)
	}

	if err := a.orch.Start(ctx); err != nil {
		return err
	}

	if a.statusSrv != nil {
		go func() {
			if err := a.statusSrv.Start(); err != nil {
				a.log.Error("status server failed", logx.Err(err))
			}
		}()
	}

	go func() {
		if err := config.Watch(ctx, a.cfgPath, a.log.With(logx.String("comp", "config")), a.onConfigChange); err != nil {
			a.log.Warn("config watch unavailable", logx.Err(err))
		}
	}()

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify ready sent")
	}

	a.log.Info("started",
		logx.Int("dedup_entries", a.cache.Len()),
		logx.String("tz", a.loc.String()))
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	var firstErr error
	if err := a.orch.Stop(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if a.statusSrv != nil {
		if err := a.statusSrv.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := a.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	a.log.Info("stopped")
	_ = a.log.Close()
	return firstErr
}

// onConfigChange applies the posting knobs that are safe to change at
// runtime. Token, storage path and schedules need a restart.
func (a *App) onConfigChange(next *config.Config) {
	loc, err := time.LoadLocation(next.Posting.Timezone)
	if err != nil {
		a.log.Warn("config reload: bad timezone kept old", logx.Err(err))
		loc = a.loc
	}
	a.poster.Apply(posterConfig(next, loc))
	a.log.Info("posting config reloaded",
		logx.Int("posts_per_day", next.Posting.PostsPerDay),
		logx.Int("posts_per_run", next.Posting.PostsPerRun),
		logx.Float64("min_discount", next.Catalog.MinDiscount))
}

func (a *App) runPostDeals(ctx context.Context) (domain.Outcome, string, error) {
	res, err := a.poster.RunCycle(ctx)
	if err != nil {
		return domain.OutcomeFailed, res.Summary(), err
	}
	return res.Outcome, res.Summary(), nil
}

func (a *App) runAnalytics(ctx context.Context) (domain.Outcome, string, error) {
	updated, err := a.reconciler.Reconcile(ctx, a.cfg.Analytics.Window.Std())
	if err != nil {
		return domain.OutcomeFailed, fmt.Sprintf("updated=%d", updated), err
	}

	stats, err := a.store.DashboardStats(ctx, a.clock.Now().In(a.loc))
	if err != nil {
		return domain.OutcomePartial, fmt.Sprintf("updated=%d report=skipped", updated), err
	}
	if err := a.channel.SendReport(ctx, format.FormatAnalyticsReport(stats)); err != nil {
		a.log.Warn("analytics report delivery failed", logx.Err(err))
		return domain.OutcomePartial, fmt.Sprintf("updated=%d report=failed", updated), nil
	}
	return domain.OutcomeSucceeded, fmt.Sprintf("updated=%d", updated), nil
}

func (a *App) runCleanup(ctx context.Context) (domain.Outcome, string, error) {
	deactivated, err := a.cache.Cleanup(ctx)
	if err != nil {
		return domain.OutcomeFailed, "", err
	}
	pruned, err := a.store.PruneJobRuns(ctx, a.clock.Now().Add(-a.cfg.Cleanup.JobRunMaxAge.Std()))
	if err != nil {
		return domain.OutcomePartial, fmt.Sprintf("deactivated=%d", deactivated), err
	}
	return domain.OutcomeSucceeded, fmt.Sprintf("deactivated=%d pruned_runs=%d", deactivated, pruned), nil
}

func posterConfig(cfg *config.Config, loc *time.Location) pipeline.Config {
	return pipeline.Config{
		StartHour:   cfg.Posting.StartHour,
		EndHour:     cfg.Posting.EndHour,
		Location:    loc,
		PostsPerDay: cfg.Posting.PostsPerDay,
		PostsPerRun: cfg.Posting.PostsPerRun,
		Filters: domain.Filters{
			MinDiscount: cfg.Catalog.MinDiscount,
			MinPrice:    cfg.Catalog.MinPrice,
			MaxPrice:    cfg.Catalog.MaxPrice,
			Categories:  cfg.Catalog.Categories,
			MaxResults:  cfg.Catalog.MaxResults,
		},
	}
}
