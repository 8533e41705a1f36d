package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bloodyteeths/mkfakturi-sub000/internal/config"
	"github.com/bloodyteeths/mkfakturi-sub000/internal/gateway"
	"github.com/bloodyteeths/mkfakturi-sub000/internal/handler"
	"github.com/bloodyteeths/mkfakturi-sub000/internal/infra/cache"
	"github.com/bloodyteeths/mkfakturi-sub000/internal/infra/observability"
	"github.com/bloodyteeths/mkfakturi-sub000/internal/infra/resilience"
	"github.com/bloodyteeths/mkfakturi-sub000/internal/port"
	"github.com/bloodyteeths/mkfakturi-sub000/internal/rates"
	"github.com/bloodyteeths/mkfakturi-sub000/internal/recon"
	"github.com/bloodyteeths/mkfakturi-sub000/internal/store"
	syncpkg "github.com/bloodyteeths/mkfakturi-sub000/internal/sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("initial_backoff", cfg.InitialBackoff),
		zap.Int("lookback_days", cfg.LookbackDays),
		zap.Duration("account_delay", cfg.AccountDelay),
		zap.Duration("sync_interval", cfg.SyncInterval),
		zap.Int("match_window_days", cfg.MatchWindowDays),
		zap.Float64("amount_tolerance", cfg.AmountTolerance),
		zap.Duration("reconcile_interval", cfg.ReconcileInterval),
	)

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "banksyncd")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Store ---
	st, err := store.Open(cfg.DatabaseDSN, logger)
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	defer st.Close()

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := st.Ping(pingCtx); err != nil {
		pingCancel()
		logger.Fatal("database unreachable", zap.Error(err))
	}
	pingCancel()

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}

	// --- Gateways ---
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	registry := gateway.NewRegistry(httpClient, cfg.Banks, resilienceCfg, logger)

	// --- Exchange rates ---
	var rateProvider port.RateProvider
	if cfg.RatesURL != "" {
		rateCache := cache.New[decimal.Decimal](cfg.RatesTTL)
		rateProvider = rates.NewHTTPProvider(
			httpClient,
			cfg.RatesURL,
			rateCache,
			resilience.NewCircuitBreaker("rates-api"),
			resilienceCfg,
			logger,
		)
	} else {
		logger.Warn("RATES_URL not set, using static exchange rate table")
		rateProvider = rates.NewFixed(rates.DefaultTable())
	}

	// --- Sync ---
	runner := syncpkg.NewRunner(
		syncpkg.Config{LookbackDays: cfg.LookbackDays, AccountDelay: cfg.AccountDelay},
		registry,
		st.Tokens,
		st.Accounts,
		st.Transactions,
		cfg.MaxConcurrency,
		metrics,
		logger,
	)

	// --- Reconciliation ---
	engine := recon.NewEngine(
		recon.Config{
			WindowDays:      cfg.MatchWindowDays,
			AmountTolerance: cfg.AmountTolerance,
		},
		st.Transactions,
		st.Invoices,
		rateProvider,
		st,
		metrics,
		logger,
	)

	// --- Background loops ---
	loopCtx, loopCancel := context.WithCancel(context.Background())
	defer loopCancel()

	go syncLoop(loopCtx, runner, cfg.SyncInterval, logger)
	go reconcileLoop(loopCtx, engine, st.Tokens, cfg.ReconcileInterval, logger)

	// --- Router ---
	router := handler.NewRouter(runner, engine, st, st.Accounts, st.Payments, metrics, logger)

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	loopCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("server forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

// syncLoop runs a full sync of all stored connections on a fixed interval.
// The first run fires immediately on startup.
func syncLoop(ctx context.Context, runner *syncpkg.Runner, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := runner.SyncAll(ctx); err != nil {
			logger.Error("scheduled sync failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// reconcileLoop matches pending transactions for every company that has at
// least one bank connection.
func reconcileLoop(ctx context.Context, engine *recon.Engine, tokens port.TokenStore, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		reconcileAll(ctx, engine, tokens, logger)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func reconcileAll(ctx context.Context, engine *recon.Engine, tokens port.TokenStore, logger *zap.Logger) {
	connections, err := tokens.ListConnections(ctx)
	if err != nil {
		logger.Error("listing connections for reconciliation failed", zap.Error(err))
		return
	}

	seen := make(map[string]bool)
	for _, conn := range connections {
		if seen[conn.CompanyID] {
			continue
		}
		seen[conn.CompanyID] = true

		results, err := engine.MatchAllTransactions(ctx, conn.CompanyID)
		if err != nil {
			logger.Error("scheduled reconciliation failed",
				zap.String("company_id", conn.CompanyID),
				zap.Error(err),
			)
			continue
		}
		matched := 0
		for _, res := range results {
			if res.Matched {
				matched++
			}
		}
		logger.Info("scheduled reconciliation finished",
			zap.String("company_id", conn.CompanyID),
			zap.Int("processed", len(results)),
			zap.Int("matched", matched),
		)
	}
}
