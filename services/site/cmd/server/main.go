package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"folio/internal/metrics"
	"folio/internal/ratelimit"
	"folio/internal/security"
	"folio/internal/util"
	"folio/pkg/store"
	"folio/services/site/internal/app"
	"folio/services/site/internal/config"
	"folio/services/site/internal/server"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	sessionTTL, err := config.ParseSessionTTL(cfg.SessionTTL)
	if err != nil {
		log.Fatalf("failed to parse session TTL: %v", err)
	}
	guestTTL := sessionTTL
	if cfg.GuestSessionTTL != "" {
		if guestTTL, err = config.ParseSessionTTL(cfg.GuestSessionTTL); err != nil {
			log.Fatalf("failed to parse guest session TTL: %v", err)
		}
	}
	probeInterval, err := config.ParseProbeInterval(cfg.RateLimitProbeInterval)
	if err != nil {
		log.Fatalf("failed to parse rate limit probe interval: %v", err)
	}
	sameSite, err := config.ParseSameSite(cfg.GuestCookieSameSite)
	if err != nil {
		log.Fatalf("failed to parse guest cookie SameSite: %v", err)
	}
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	var backing store.Store
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, progress and messages are kept in memory only")
		backing = store.NewMemoryStore()
	} else {
		dsn := cfg.DatabaseURL
		backing = store.NewLazyStore(func() (store.Store, error) {
			s, err := store.NewGormStore(dsn)
			if err != nil {
				return nil, err
			}
			return s, nil
		})
	}
	defer backing.Close()

	var revoker store.TokenRevoker
	if cfg.RedisAddr != "" {
		redisRevoker := store.NewRedisTokenRevoker(cfg.RedisAddr, cfg.RedisPassword, "")
		defer redisRevoker.Close()
		revoker = redisRevoker
	} else {
		revoker = store.NewMemoryTokenRevoker()
	}
	sessions, err := store.NewJWTSessionStore(cfg.SessionSecret, sessionTTL, revoker, store.JWTOptions{
		GuestTTL: guestTTL,
	})
	if err != nil {
		log.Fatalf("failed to init sessions: %v", err)
	}

	appCore, err := app.New(app.Config{
		Store:         backing,
		Sessions:      sessions,
		AdminPassword: cfg.AdminPassword,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	m := metrics.New()
	limiter := ratelimit.New(ratelimit.Options{
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		ProbeInterval: probeInterval,
		OnBackendChange: func(backend string) {
			m.SetLimiterBackend(backend, ratelimit.BackendRedis, ratelimit.BackendMemory)
		},
	})
	defer limiter.Close()
	m.SetLimiterBackend(limiter.Backend(), ratelimit.BackendRedis, ratelimit.BackendMemory)
	if cfg.RedisAddr == "" {
		logger.Warn("REDIS_ADDR not set, rate limits are per process")
	}

	alerter := security.NewAuditAlerter(cfg.RedisAddr, cfg.RedisPassword, "")
	defer alerter.Close()

	httpServer, err := server.New(server.Config{
		App:                        appCore,
		Limiter:                    limiter,
		Alerter:                    alerter,
		Metrics:                    m,
		CORS:                       util.NewCORS(cfg.AllowedOrigins),
		TrustedProxies:             trusted,
		Production:                 cfg.IsProduction(),
		CookieSecure:               cfg.CookiesSecure(),
		GuestSameSite:              sameSite,
		ContactRateLimitPerHour:    cfg.ContactRateLimitPerHour,
		LoginRateLimitPer15Min:     cfg.LoginRateLimitPer15Min,
		ProgressRateLimitPerMinute: cfg.ProgressRateLimitPerMinute,
		Ready:                      backing.Ping,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           httpServer.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server listening", "addr", addr, "environment", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		slog.Info("server shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("server error", "err", err)
	}
}
