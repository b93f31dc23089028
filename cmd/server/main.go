package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/fairmarket/settlement-engine/internal/config"
	"github.com/fairmarket/settlement-engine/internal/custody"
	"github.com/fairmarket/settlement-engine/internal/ledger"
	"github.com/fairmarket/settlement-engine/internal/market"
	"github.com/fairmarket/settlement-engine/internal/metrics"
	"github.com/fairmarket/settlement-engine/internal/oracle"
	"github.com/fairmarket/settlement-engine/internal/settle"
	"github.com/fairmarket/settlement-engine/internal/store"
)

// unitScale is the smallest-unit scale shared by the supported currencies
// (18 decimals).
var unitScale = decimal.New(1, 18)

// devRates seeds the fixed oracle when no feed is configured. Fixed-point
// with 8 decimals.
var devRates = map[string]decimal.Decimal{
	"ETH":  decimal.New(3000, 8),
	"DAI":  decimal.New(1, 8),
	"LINK": decimal.New(25, 8),
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := config.Load()

	// --- Store ---
	var st store.Store
	var cleanup []func()
	var rdb *redis.Client

	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
	}

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if rdb != nil {
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Price oracle ---
	var feed oracle.PriceOracle
	if rdb != nil {
		feed = oracle.NewRedisOracle(rdb)
		slog.Info("Redis price feed enabled")
	} else {
		slog.Warn("REDIS_URL not set, using fixed development rates")
		feed = oracle.NewFixedOracle(devRates)
	}

	// --- Custody ---
	// The in-memory bank is the reference adapter; a chain- or
	// broker-backed adapter replaces it in production deployments.
	bank := custody.NewBank()
	funds := bank.Currency()

	// --- Event hub ---
	hub := market.NewHub()
	go hub.Run()

	// --- Settlement core ---
	params := settle.NewParams(cfg.AdminOwner, cfg.FeeRecipient, cfg.FeeBps)
	offerLedger := ledger.New(st, bank, cfg.Operator, hub)

	currencies := []settle.Currency{
		settle.NewNativeCurrency(cfg.NativeTag, unitScale, funds, cfg.Operator),
	}
	for _, tag := range cfg.TokenTags {
		currencies = append(currencies, settle.NewTokenCurrency(tag, unitScale, funds, cfg.Operator))
	}

	engine := settle.NewEngine(offerLedger, st, feed, bank, params, currencies, hub)
	svc := market.NewService(offerLedger, engine, params, st)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"settlement-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for the settlement event feed.
		r.Get("/ws", hub.HandleWS)

		// Offers.
		r.Get("/offers", svc.ListOffers)
		r.Post("/offers", svc.CreateOffer)
		r.Get("/offers/{offerID}", svc.GetOffer)
		r.Post("/offers/{offerID}/cancel", svc.CancelOffer)
		r.Get("/offers/{offerID}/quote", svc.Quote)
		r.Get("/offers/{offerID}/settlements", svc.ListOfferSettlements)

		// Settlement.
		r.Post("/offers/{offerID}/purchase", svc.Purchase)
		r.Get("/settlements/{settlementID}", svc.GetSettlement)

		// Admin.
		r.Post("/admin/fee", svc.UpdateFee)
		r.Post("/admin/recipient", svc.UpdateRecipient)
		r.Post("/admin/owner", svc.TransferOwnership)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("settlement-engine listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down settlement-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("settlement-engine stopped")
}
