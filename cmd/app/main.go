// File: cmd/app/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v75"

	"entitlement-sync/internal/config"
	"entitlement-sync/internal/domain/ports/adapter"
	payAdapters "entitlement-sync/internal/infra/adapters/payment"
	"entitlement-sync/internal/infra/api"
	"entitlement-sync/internal/infra/api/apiv1"
	"entitlement-sync/internal/infra/auth"
	pg "entitlement-sync/internal/infra/db/postgres"
	"entitlement-sync/internal/infra/logging"
	"entitlement-sync/internal/infra/metrics"
	red "entitlement-sync/internal/infra/redis"
	"entitlement-sync/internal/infra/sched"
	"entitlement-sync/internal/usecase"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (noop provider, console logs)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("developer mode enabled")
	}
	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit, cfg.Billing.Provider)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error().Err(err).Msg("exiting")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) error {
	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	go reportPoolStats(ctx, pool)

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer redisClient.Close()
	locker := red.NewLocker(redisClient)
	rateLimiter := red.NewRateLimiter(redisClient)

	// ---- Payment provider ----
	provider, err := newProvider(cfg)
	if err != nil {
		return fmt.Errorf("payment provider: %w", err)
	}
	logger.Info().Str("provider", provider.Name()).Msg("payment provider ready")
	provider = payAdapters.Instrument(provider)

	// ---- Session resolver ----
	sessions, err := auth.NewJWTSessionResolver(auth.Config{
		Issuer:       cfg.Auth.Issuer,
		Audience:     cfg.Auth.Audience,
		HMACSecret:   []byte(cfg.Auth.HMACSecret),
		PublicKeyPEM: []byte(cfg.Auth.PublicKeyPEM),
		Leeway:       cfg.Auth.Leeway,
	})
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	// ---- Repositories / use cases ----
	profiles := pg.NewProfileRepo(pool)
	txm := pg.NewTxManager(pool)
	guard := usecase.NewOwnershipGuard(profiles, logger)
	subUC := usecase.NewSubscriptionUseCase(profiles, txm, provider, guard, locker, usecase.SubscriptionOptions{
		CallbackBaseURL: cfg.Billing.CallbackBaseURL,
		ProviderTimeout: cfg.Billing.ProviderTimeout,
		LockTTL:         cfg.Redis.LockTTL,
	}, logger)

	// ---- Reconciler ----
	if cfg.Reconciler.Enabled {
		rec := sched.NewSubscriptionReconciler(subUC, profiles, cfg.Reconciler.Interval, cfg.Reconciler.BatchSize, cfg.Reconciler.Workers, logger)
		go func() {
			if err := rec.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("reconciler stopped")
			}
		}()
	}

	// ---- HTTP ----
	v1 := apiv1.NewServer(subUC, sessions, apiv1.Options{
		CookieName:        cfg.HTTP.CookieName,
		CheckoutPerMinute: cfg.RateLimit.CheckoutPerMinute,
		Limiter:           rateLimiter,
		Dev:               cfg.Runtime.Dev,
	}, logger)
	router := api.NewRouter(logger, cfg.HTTP.RequestTimeout, func(r chi.Router) { apiv1.RegisterAPIV1(r, v1) })

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("http listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	// ---- Graceful shutdown ----
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown requested")
	case err := <-errc:
		return fmt.Errorf("http server: %w", err)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func newProvider(cfg *config.Config) (adapter.PaymentProvider, error) {
	switch cfg.Billing.Provider {
	case config.ProviderLemonSqueezy:
		return payAdapters.NewLemonSqueezyGateway(cfg.LemonSqueezy.APIKey, cfg.LemonSqueezy.BaseURL, cfg.LemonSqueezy.StoreID)
	case config.ProviderStripe:
		var backend stripe.Backend
		if cfg.Stripe.BackendURL != "" {
			backend = payAdapters.NewStripeBackend(cfg.Stripe.BackendURL)
		}
		return payAdapters.NewStripeGateway(cfg.Stripe.SecretKey, backend)
	case config.ProviderNoop:
		return payAdapters.NewNoopPaymentGateway(), nil
	default:
		return nil, fmt.Errorf("unknown billing provider %q", cfg.Billing.Provider)
	}
}

func reportPoolStats(ctx context.Context, pool *pgxpool.Pool) {
	t := time.NewTicker(15 * time.Second)
	defer t.Stop()
	for {
		metrics.SetDBPoolStats(pool.Stat())
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
