// Package api 管理面 HTTP 接口
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/payments/platform/internal/events"
	"github.com/payments/platform/internal/ledger"
	"github.com/payments/platform/internal/notification"
	"github.com/payments/platform/internal/reconciliation"
	"github.com/payments/platform/pkg/logger"
)

// Reconciler 对账依赖
type Reconciler interface {
	Reconcile(ctx context.Context, scope reconciliation.Scope) (*reconciliation.Result, error)
	Stats(ctx context.Context) (*reconciliation.HealthStats, error)
}

// Notifier 通知依赖
type Notifier interface {
	Get(ctx context.Context, id string) (*notification.Record, error)
	Retry(ctx context.Context, id string) (*notification.Record, error)
	Stats(ctx context.Context) (*notification.Statistics, error)
}

// LedgerReader 账本只读依赖
type LedgerReader interface {
	GetEntry(ctx context.Context, paymentID string) (*ledger.Entry, error)
}

// Server 管理面服务
type Server struct {
	reconciler Reconciler
	notifier   Notifier
	ledger     LedgerReader
	publisher  events.Publisher
	metrics    http.Handler
	log        *logger.Logger
}

// NewServer 创建服务
func NewServer(reconciler Reconciler, notifier Notifier, ledgerReader LedgerReader, publisher events.Publisher, metricsHandler http.Handler, log *logger.Logger) *Server {
	if log == nil {
		log = logger.New("admin-api", nil)
	}
	return &Server{
		reconciler: reconciler,
		notifier:   notifier,
		ledger:     ledgerReader,
		publisher:  publisher,
		metrics:    metricsHandler,
		log:        log,
	}
}

// Router 构建路由
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.recoveryMiddleware)

	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/payments", s.handleInitiatePayment)
		r.Get("/payments/{paymentId}", s.handleGetPayment)

		r.Post("/reconciliation/run", s.handleReconcile)
		r.Get("/reconciliation/stats", s.handleReconciliationStats)

		r.Get("/notifications/stats", s.handleNotificationStats)
		r.Get("/notifications/{notificationId}", s.handleGetNotification)
		r.Post("/notifications/{notificationId}/retry", s.handleRetryNotification)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "up"})
}
