package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/geocoder89/authcore/internal/auth"
	"github.com/geocoder89/authcore/internal/config"
	"github.com/geocoder89/authcore/internal/db"
	httpx "github.com/geocoder89/authcore/internal/http"
	"github.com/geocoder89/authcore/internal/http/handlers"
	"github.com/geocoder89/authcore/internal/kv"
	"github.com/geocoder89/authcore/internal/notifications"
	"github.com/geocoder89/authcore/internal/observability"
	"github.com/geocoder89/authcore/internal/ratelimit"
	"github.com/geocoder89/authcore/internal/repo/memory"
	"github.com/geocoder89/authcore/internal/repo/postgres"
	"github.com/geocoder89/authcore/internal/security"
	"github.com/geocoder89/authcore/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load the config set up
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	// start up the observability logger
	log := observability.NewLogger(cfg.Env)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped with error", "err", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	if cfg.OTelEndpoint != "" {
		shutdownTracer, err := observability.InitTracer(ctx, observability.TracerConfig{
			ServiceName: "authcore",
			Endpoint:    cfg.OTelEndpoint,
			Env:         cfg.Env,
		})
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := config.WithTimeout(5 * time.Second)
			defer cancel()
			_ = shutdownTracer(sctx)
		}()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom := observability.NewProm(reg)

	checks := map[string]handlers.Check{}

	// user directory
	var users auth.Directory
	switch cfg.UserStore {
	case "postgres":
		pool, err := db.NewPool(ctx, cfg.DBURL, cfg.DBMaxConns)
		if err != nil {
			return fmt.Errorf("db connect: %w", err)
		}
		defer pool.Close()

		if err := db.EnsureSchema(ctx, pool); err != nil {
			return err
		}
		users = postgres.NewUsersRepo(pool, prom)
		checks["postgres"] = func(ctx context.Context) error { return pool.Ping(ctx) }
	default:
		users = memory.NewUsersRepo()
	}

	// sessions and rate limits
	var (
		backend      kv.Store[session.Session]
		loginLimiter ratelimit.Limiter
		ipLimiter    ratelimit.Limiter
	)
	switch cfg.SessionStore {
	case "redis":
		rdb := kv.NewRedisClient(kv.RedisConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPass, DB: cfg.RedisDB})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis connect: %w", err)
		}
		backend = kv.NewRedisStore[session.Session](rdb, "authcore:session:")
		loginLimiter = ratelimit.NewRedisLimiter(rdb, "authcore:rl:", cfg.LoginRateLimit, cfg.LoginRateWindow, nil)
		ipLimiter = ratelimit.NewRedisLimiter(rdb, "authcore:rl:", cfg.LoginRateLimit*5, cfg.LoginRateWindow, nil)
		checks["redis"] = func(ctx context.Context) error { return redisPing(ctx, rdb) }
	default:
		backend = kv.NewMemoryStore[session.Session]()
		loginLimiter = ratelimit.NewMemoryLimiter(cfg.LoginRateLimit, cfg.LoginRateWindow, nil)
		ipLimiter = ratelimit.NewMemoryLimiter(cfg.LoginRateLimit*5, cfg.LoginRateWindow, nil)
	}
	sessions := session.NewStore(backend)

	tokens, err := auth.NewTokenManager(cfg.JWTSecret, auth.WithIssuer(cfg.JWTIssuer))
	if err != nil {
		return err
	}

	manager := auth.NewManager(auth.Config{
		AccessTokenTTL:      cfg.AccessTokenTTL,
		SessionTTL:          cfg.SessionTTL,
		RememberMeTTL:       cfg.RememberMeTTL,
		LoginTimeout:        cfg.LoginTimeout,
		MaxLoginAttempts:    cfg.MaxLoginAttempts,
		LockoutDuration:     cfg.LockoutDuration,
		TOTPIssuer:          cfg.TOTPIssuer,
		BindTokensToSession: cfg.BindTokens,
	}, users, sessions, tokens,
		auth.WithHasher(security.NewHasher(security.WithIterations(cfg.HashIterations))),
		auth.WithHashPool(security.NewHashPool(cfg.HashWorkers)),
		auth.WithLoginLimiter(loginLimiter),
		auth.WithLogger(log),
		auth.WithMetrics(prom),
		auth.WithNotifier(notifications.NewProtectedNotifier(
			notifications.NewLogNotifier(log),
			notifications.ProtectedNotifierConfig{},
		)),
	)

	if created, err := db.EnsureAdminUser(ctx, manager, cfg); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	} else if created {
		log.Info("admin user created")
	}

	sweeps := observability.NewSweepStats()

	router := httpx.NewRouter(httpx.RouterDeps{
		Env:         cfg.Env,
		Log:         log,
		Manager:     manager,
		Prom:        prom,
		Gatherer:    reg,
		CORSOrigins: cfg.CORSOrigins,
		IPLimiter:   ipLimiter,
		Checks:      checks,
		SweepStats:  sweeps,
	})

	// server set up
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("Server starting", "port", cfg.Port, "env", cfg.Env,
			"user_store", cfg.UserStore, "session_store", cfg.SessionStore)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		sessions.RunSweeper(gctx, cfg.SweepInterval, log, func(removed int, took time.Duration, err error) {
			sweeps.Observe(removed, took, err)
			if err == nil {
				prom.ObserveSweep(removed)
			}
		})
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		log.Info("server shutting down")

		sctx, cancel := config.WithTimeout(10 * time.Second)
		defer cancel()

		if err := srv.Shutdown(sctx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	})

	err = g.Wait()
	manager.Drain()

	snap := sweeps.Snapshot()
	log.Info("session sweeper summary", "runs", snap.Runs, "failures", snap.Failures, "removed", snap.Removed)
	return err
}

func redisPing(ctx context.Context, rdb redis.UniversalClient) error {
	return rdb.Ping(ctx).Err()
}
