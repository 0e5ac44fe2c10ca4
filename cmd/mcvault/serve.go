package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/rendis/mcvault/internal/auth"
	"github.com/rendis/mcvault/internal/config"
	"github.com/rendis/mcvault/internal/metrics"
	"github.com/rendis/mcvault/internal/ratelimit"
	"github.com/rendis/mcvault/internal/scheduler"
	"github.com/rendis/mcvault/internal/server"
	"github.com/rendis/mcvault/internal/validation"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the vault HTTP server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx, cfg, logger)
	},
}

func runServe(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	app, err := openVault(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	reg, m, err := metrics.NewRegistry()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	validator, err := validation.NewRequestValidator()
	if err != nil {
		return fmt.Errorf("request schemas: %w", err)
	}

	authn := auth.NewAuthenticator(app.store, cfg.Server.TokenCacheTTL, logger)
	limiter, memLimiter, err := newLimiter(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer limiter.Close()

	sched := scheduler.NewScheduler(scheduler.DefaultTick, logger)
	jobs := []scheduler.Job{
		scheduler.SweepJob(scheduler.JobTokenSweep, cfg.Server.SweepSchedule, authn),
		scheduler.AuditPruneJob("@daily", app.store, cfg.Server.AuditRetention),
	}
	if memLimiter != nil {
		jobs = append(jobs, scheduler.SweepJob(scheduler.JobRateLimitSweep, cfg.Server.SweepSchedule, memLimiter))
	}
	if err := scheduleJobs(sched, jobs, time.Now(), logger); err != nil {
		return err
	}
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	if cfg.Server.MetricsAddr != "" {
		go serveMetrics(ctx, cfg.Server.MetricsAddr, metrics.Handler(reg), logger)
	}

	srv := server.New(server.Deps{
		Vault:         app.vault,
		Auth:          authn,
		Limiter:       limiter,
		Validator:     validator,
		Metrics:       m,
		Logger:        logger,
		Hub:           app.hub,
		AdminUser:     cfg.Server.AdminUser,
		AdminPassword: cfg.Server.AdminPassword,
	})
	if err := srv.ListenAndServe(ctx, cfg.Server.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// newLimiter returns the Redis limiter when redis_addr is set, the in-memory
// one otherwise. The second result is non-nil only for the in-memory limiter,
// which needs periodic sweeping.
func newLimiter(ctx context.Context, cfg *config.Config, logger *slog.Logger) (ratelimit.Limiter, *ratelimit.MemoryLimiter, error) {
	policy := ratelimit.Policy{Limit: cfg.Server.RateLimit, Window: cfg.Server.RateWindow}
	if cfg.Server.RedisAddr == "" {
		mem := ratelimit.NewMemoryLimiter(policy)
		return mem, mem, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Server.RedisAddr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		// Limiter errors fail open, so an unreachable Redis only loses limiting.
		logger.Warn("redis unreachable; rate limiting degraded", "addr", cfg.Server.RedisAddr, "error", err)
	}
	return ratelimit.NewRedisLimiter(client, policy, ratelimit.DefaultKeyPrefix), nil, nil
}

// scheduleJobs registers jobs and logs when each first runs.
func scheduleJobs(sched *scheduler.Scheduler, jobs []scheduler.Job, now time.Time, logger *slog.Logger) error {
	for _, j := range jobs {
		next, err := sched.CalculateNextRun(j.Spec, now)
		if err != nil {
			return fmt.Errorf("schedule %s: %w", j.Name, err)
		}
		if err := sched.Add(j); err != nil {
			return fmt.Errorf("schedule %s: %w", j.Name, err)
		}
		logger.Info("job scheduled",
			slog.String("job", j.Name),
			slog.String("spec", j.Spec),
			slog.Time("next_run", next))
	}
	return nil
}

func serveMetrics(ctx context.Context, addr string, h http.Handler, logger *slog.Logger) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logger.Info("metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server failed", "error", err)
	}
}
