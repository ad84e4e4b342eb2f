package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/lightwheel10/affiliate-finder-mvp-sub005/pkg/account"
	"github.com/lightwheel10/affiliate-finder-mvp-sub005/pkg/billing"
	zerologadapter "github.com/lightwheel10/affiliate-finder-mvp-sub005/pkg/billing/logger/zerolog"
	prommetrics "github.com/lightwheel10/affiliate-finder-mvp-sub005/pkg/billing/metrics/prometheus"
	stripeprovider "github.com/lightwheel10/affiliate-finder-mvp-sub005/pkg/billing/stripe"
	"github.com/lightwheel10/affiliate-finder-mvp-sub005/pkg/credits"
	"github.com/lightwheel10/affiliate-finder-mvp-sub005/storage/memory"
	"github.com/lightwheel10/affiliate-finder-mvp-sub005/storage/postgres"
	redisevents "github.com/lightwheel10/affiliate-finder-mvp-sub005/storage/redis"
)

func main() {
	// .env is optional; real deployments inject environment directly.
	_ = godotenv.Load()

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("LOG_PRETTY") == "true" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, cleanup, err := buildStore(ctx, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize store")
	}
	defer cleanup()

	events, err := buildEventRegistry(logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize event registry")
	}

	creditManager, err := credits.NewManager(store)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize credit manager")
	}

	provider, err := stripeprovider.NewProvider(stripeprovider.Config{
		Config: billing.Config{
			Store:         store,
			WebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
			APIKey:        os.Getenv("STRIPE_API_KEY"),
			Prices:        pricesFromEnv(logger),
			Events:        events,
			Logger:        zerologadapter.NewLogger(logger),
			Metrics:       prommetrics.DefaultMetrics("affiliate_finder"),
		},
		CreditManager: creditManager,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize billing provider")
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Method(http.MethodPost, "/webhooks/stripe", provider.WebhookHandler())
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", addr).Msg("webhook server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown failed")
	}
}

// buildStore selects the account store from the environment: PostgreSQL
// when DATABASE_URL is set, otherwise the in-memory store.
func buildStore(ctx context.Context, logger zerolog.Logger) (account.Store, func(), error) {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		config := postgres.DefaultConfig()
		config.ConnectionString = dsn
		store, err := postgres.New(ctx, config)
		if err != nil {
			return nil, nil, err
		}
		logger.Info().Msg("using postgres store")
		return store, store.Close, nil
	}
	logger.Warn().Msg("DATABASE_URL not set, using in-memory store")
	return memory.NewStore(), func() {}, nil
}

// buildEventRegistry selects the idempotency guard: Redis when
// REDIS_ADDR is set (shared across instances), otherwise in-process.
func buildEventRegistry(logger zerolog.Logger) (billing.ProcessedEvents, error) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return billing.NewEventCache(billing.DefaultEventTTL), nil
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: os.Getenv("REDIS_PASSWORD"),
	})
	registry, err := redisevents.New(client, redisevents.DefaultConfig())
	if err != nil {
		return nil, err
	}
	logger.Info().Str("addr", addr).Msg("using redis event registry")
	return registry, nil
}

// pricesFromEnv parses STRIPE_PRICE_MAP, a comma-separated list of
// price_id=plan:interval entries, e.g.
// "price_123=starter:monthly,price_456=pro:annual".
func pricesFromEnv(logger zerolog.Logger) map[string]billing.PriceMapping {
	raw := os.Getenv("STRIPE_PRICE_MAP")
	if raw == "" {
		return nil
	}
	prices := make(map[string]billing.PriceMapping)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		key, value, ok := strings.Cut(entry, "=")
		if !ok {
			logger.Warn().Str("entry", entry).Msg("skipping malformed price map entry")
			continue
		}
		planPart, intervalPart, _ := strings.Cut(value, ":")
		plan, ok := credits.LookupPlan(planPart)
		if !ok {
			logger.Warn().Str("entry", entry).Msg("skipping price map entry with unknown plan")
			continue
		}
		interval := account.IntervalMonthly
		if intervalPart == "annual" || intervalPart == "yearly" || intervalPart == "year" {
			interval = account.IntervalAnnual
		}
		prices[strings.ToLower(strings.TrimSpace(key))] = billing.PriceMapping{
			Plan:     plan,
			Interval: interval,
		}
	}
	return prices
}
