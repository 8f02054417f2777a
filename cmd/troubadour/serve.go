package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"troubadour/accounts"
	"troubadour/benchmark"
	"troubadour/cache"
	"troubadour/config"
	"troubadour/jobs"
	"troubadour/middleware/ratelimit/application"
	"troubadour/middleware/ratelimit/domain"
	"troubadour/middleware/ratelimit/infra"
	"troubadour/notify"
	"troubadour/server"
	"troubadour/store"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the background jobs",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	var rdb *redis.Client
	if cfg.UsesRedis() {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = rdb.Close() }()

		pingCtx, cancelPing := context.WithTimeout(ctx, 2*time.Second)
		_, err := rdb.Ping(pingCtx).Result()
		cancelPing()
		if err != nil {
			return fmt.Errorf("redis ping error: %w", err)
		}
	}

	observer := cache.ObserverFunc(func(ev cache.Event, key string) {
		logger.Debug("cache", zap.String("event", string(ev)), zap.String("key", key))
	})
	tiers := accounts.NewResolver(st, cfg.Cache.TierTTL, cache.WithObserver(observer))
	tiers.StartJanitor(ctx, cfg.Cache.SweepEvery)
	benchmarks := benchmark.NewService(st, cfg.Cache.BenchmarkTTL, cache.WithObserver(observer))
	benchmarks.StartJanitor(ctx, cfg.Cache.SweepEvery)

	reviews := application.NewTieredLimiter(tiers, tierLimiters(ctx, cfg, rdb))
	reviews.OnResolveError = func(key domain.Key, err error) {
		logger.Warn("tier lookup failed, applying free quota", zap.String("user", string(key)), zap.Error(err))
	}

	public := infra.NewTokenBucket(cfg.Public.RPS, cfg.Public.Burst)
	public.StartJanitor(ctx)

	counters, stats, cluster := statsStores(cfg, rdb)

	var gate *application.Gate
	if cfg.Concurrency.Max > 0 {
		gate = application.NewGate(infra.NewSlots(cfg.Concurrency.Max), cfg.Concurrency.Timeout)
	}

	notifier, closeNotifier, err := newNotifier(cfg)
	if err != nil {
		return err
	}
	defer closeNotifier()

	sched := jobs.NewScheduler(logger)
	sched.Start(ctx,
		jobs.Job{
			Name:  "digest",
			Every: cfg.Jobs.DigestEvery,
			Run: (&jobs.Digest{
				Source:   st,
				Notifier: notifier,
				Period:   cfg.Jobs.Period,
				Logger:   logger,
			}).Run,
		},
		jobs.Job{
			Name:  "churn",
			Every: cfg.Jobs.ChurnEvery,
			Run: (&jobs.Churn{
				Source:    st,
				Notifier:  notifier,
				Period:    cfg.Jobs.Period,
				Threshold: cfg.Jobs.ChurnThreshold,
				Recipient: cfg.Jobs.ChurnRecipient,
				Logger:    logger,
			}).Run,
		},
	)

	handler := server.New(server.Options{
		Store:      st,
		Benchmarks: benchmarks,
		Tiers:      tiers,
		Reviews:    reviews,
		Public:     public,
		Stats:      stats,
		Counters:   counters,
		Cluster:    cluster,
		Gate:       gate,
		RetryAfter: cfg.Rate.RetryAfter,
		AddHeaders: cfg.Rate.AddHeaders,
		TrustXFF:   cfg.Rate.TrustXFF,
		AdminToken: cfg.Admin.Token,
		Logger:     logger,
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("troubadour listening",
		zap.String("addr", cfg.ListenAddr),
		zap.String("database", st.Driver()),
	)
	logger.Info("rate",
		zap.String("backend", cfg.Rate.Backend),
		zap.Duration("window", cfg.Rate.Window),
		zap.Int("free", cfg.Rate.FreeMax),
		zap.Int("artist", cfg.Rate.ArtistMax),
		zap.Int("pro", cfg.Rate.ProMax),
		zap.String("stats", cfg.Rate.Stats),
	)
	if cfg.Admin.Token == "" {
		logger.Warn("ADMIN_TOKEN not set: admin routes and score callback are disabled")
	}
	logger.Info("public", zap.Float64("rps", cfg.Public.RPS), zap.Int("burst", cfg.Public.Burst))
	logger.Info("concurrency", zap.Int("max", cfg.Concurrency.Max), zap.Duration("wait", cfg.Concurrency.Timeout))

	err = srv.ListenAndServe()
	cancel()
	sched.Wait()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// tierLimiters cria uma janela por tier. No backend memory cada janela tem
// seu próprio janitor; no redis a expiração fica com o PEXPIRE do script.
func tierLimiters(ctx context.Context, cfg config.Config, rdb redis.Scripter) map[domain.Tier]domain.Limiter {
	quotas := map[domain.Tier]int{
		domain.TierFree:   cfg.Rate.FreeMax,
		domain.TierArtist: cfg.Rate.ArtistMax,
		domain.TierPro:    cfg.Rate.ProMax,
	}
	out := make(map[domain.Tier]domain.Limiter, len(quotas))
	for tier, quota := range quotas {
		if cfg.Rate.Backend == "redis" {
			out[tier] = infra.NewRedisWindow(rdb, quota, cfg.Rate.Window,
				infra.WithWindowPrefix(cfg.Redis.Prefix+":ratelimit:window"))
			continue
		}
		w := infra.NewSlidingWindow(quota, cfg.Rate.Window, infra.WithSweepEvery(cfg.Rate.SweepEvery))
		w.StartJanitor(ctx)
		out[tier] = w
	}
	return out
}

// statsStores devolve os contadores em memória (rota de admin) e o destino
// das decisões. Com stats=redis as decisões vão para os dois e o hash do
// Redis vira o total do cluster.
func statsStores(cfg config.Config, rdb redis.Cmdable) (*infra.MemoryStatsStore, domain.StatsStore, server.ClusterStats) {
	if cfg.Rate.Stats == "off" {
		return nil, nil, nil
	}
	mem := infra.NewMemoryStatsStore(infra.WithTrackKeys(cfg.Rate.TrackKeys))
	if cfg.Rate.Stats != "redis" {
		return mem, mem, nil
	}
	shared := infra.NewRedisStatsStore(rdb,
		infra.WithStatsPrefix(cfg.Redis.Prefix+":ratelimit:stats"),
		infra.WithStatsTrackKeys(cfg.Rate.TrackKeys),
	)
	return mem, infra.MultiStatsStore{mem, shared}, shared
}

func newNotifier(cfg config.Config) (notify.Notifier, func(), error) {
	logNotifier := notify.LogNotifier{Logger: logger}
	if cfg.NATS.URL == "" {
		return logNotifier, func() {}, nil
	}
	nc, err := notify.Connect(cfg.NATS.URL, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}
	n := notify.Multi{logNotifier, notify.NewNATSNotifier(nc, cfg.NATS.SubjectPrefix)}
	return n, func() { _ = nc.Drain() }, nil
}
