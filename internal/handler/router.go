// Package handler exposes the operational HTTP surface: health, metrics
// and internal trigger endpoints for sync and reconciliation runs. The
// product-facing API lives in the invoicing backend, not here.
package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/bloodyteeths/mkfakturi-sub000/internal/domain"
	"github.com/bloodyteeths/mkfakturi-sub000/internal/infra/observability"
	"github.com/bloodyteeths/mkfakturi-sub000/internal/recon"
	syncpkg "github.com/bloodyteeths/mkfakturi-sub000/internal/sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Syncer triggers sync runs.
type Syncer interface {
	SyncOne(ctx context.Context, bankCode, companyID string) *syncpkg.Summary
}

// Reconciler is implemented by the reconciliation engine.
type Reconciler interface {
	MatchAllTransactions(ctx context.Context, companyID string) ([]recon.Result, error)
	GetMatchingStats(ctx context.Context, companyID string) (*domain.MatchingStats, error)
}

// Pinger checks the storage connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// AccountLister reads the synced bank accounts of a company.
type AccountLister interface {
	ListByCompany(ctx context.Context, companyID string) ([]domain.BankAccount, error)
}

// PaymentLister reads the payments recorded against an invoice.
type PaymentLister interface {
	ListByInvoice(ctx context.Context, invoiceID string) ([]domain.Payment, error)
}

// NewRouter creates the operational HTTP router.
func NewRouter(syncer Syncer, engine Reconciler, pinger Pinger, accounts AccountLister, payments PaymentLister, metrics *observability.Metrics, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", healthzHandler(pinger))
	r.Get("/readyz", readyzHandler())
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	r.Route("/internal", func(r chi.Router) {
		r.Post("/sync/{bank}", syncHandler(syncer, logger))
		r.Post("/reconcile", reconcileHandler(engine, logger))
		r.Get("/reconcile/stats", statsHandler(engine, logger))
		r.Get("/accounts", accountsHandler(accounts, logger))
		r.Get("/invoices/{invoiceID}/payments", paymentsHandler(payments, logger))
	})

	return r
}

func healthzHandler(pinger Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := pinger.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func readyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func syncHandler(syncer Syncer, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bank := chi.URLParam(r, "bank")
		companyID := r.URL.Query().Get("company_id")
		if companyID == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "company_id is required"})
			return
		}

		summary := syncer.SyncOne(r.Context(), bank, companyID)
		if summary == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown bank: " + bank})
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}

func reconcileHandler(engine Reconciler, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		companyID := r.URL.Query().Get("company_id")
		if companyID == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "company_id is required"})
			return
		}

		results, err := engine.MatchAllTransactions(r.Context(), companyID)
		if err != nil {
			logger.Error("reconcile trigger failed", zap.String("company_id", companyID), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		matched := 0
		for _, res := range results {
			if res.Matched {
				matched++
			}
		}
		writeJSON(w, http.StatusOK, map[string]int{"processed": len(results), "matched": matched})
	}
}

func statsHandler(engine Reconciler, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		companyID := r.URL.Query().Get("company_id")
		if companyID == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "company_id is required"})
			return
		}

		stats, err := engine.GetMatchingStats(r.Context(), companyID)
		if err != nil {
			logger.Error("stats failed", zap.String("company_id", companyID), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func accountsHandler(accounts AccountLister, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		companyID := r.URL.Query().Get("company_id")
		if companyID == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "company_id is required"})
			return
		}

		list, err := accounts.ListByCompany(r.Context(), companyID)
		if err != nil {
			logger.Error("account listing failed", zap.String("company_id", companyID), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"accounts": list})
	}
}

func paymentsHandler(payments PaymentLister, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		invoiceID := chi.URLParam(r, "invoiceID")

		list, err := payments.ListByInvoice(r.Context(), invoiceID)
		if err != nil {
			logger.Error("payment listing failed", zap.String("invoice_id", invoiceID), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"payments": list})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
