package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/payments/platform/internal/events"
	"github.com/payments/platform/internal/ledger"
	"github.com/payments/platform/internal/reconciliation"
	commonerrors "github.com/payments/platform/pkg/errors"
)

// initiatePaymentRequest 发起支付请求
type initiatePaymentRequest struct {
	PaymentID     string `json:"paymentId"`
	OrderID       string `json:"orderId"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	UserID        string `json:"userId"`
	MerchantID    string `json:"merchantId"`
	PaymentMethod string `json:"paymentMethod"`
}

// handleInitiatePayment 注入 PaymentInitiated 事件启动 saga
func (s *Server) handleInitiatePayment(w http.ResponseWriter, r *http.Request) {
	var req initiatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, commonerrors.New(commonerrors.CodeInvalidParam, "invalid request body"))
		return
	}
	if req.OrderID == "" || req.Amount == "" || req.Currency == "" {
		writeError(w, r, commonerrors.New(commonerrors.CodeInvalidParam, "orderId, amount and currency are required"))
		return
	}

	if req.PaymentID == "" {
		req.PaymentID = uuid.NewString()
	}

	event := &events.PaymentInitiated{
		PaymentID:     req.PaymentID,
		OrderID:       req.OrderID,
		Amount:        req.Amount,
		Currency:      req.Currency,
		UserID:        req.UserID,
		MerchantID:    req.MerchantID,
		PaymentMethod: req.PaymentMethod,
		CorrelationID: uuid.NewString(),
		Timestamp:     time.Now(),
	}

	if err := s.publisher.Publish(r.Context(), event); err != nil {
		s.log.WithError(err).Error("publish PaymentInitiated failed")
		writeError(w, r, commonerrors.New(commonerrors.CodeInternal, "failed to publish payment event"))
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"paymentId":     event.PaymentID,
		"correlationId": event.CorrelationID,
		"status":        ledger.StatusInitiated,
	})
}

// handleGetPayment 查询账本条目
func (s *Server) handleGetPayment(w http.ResponseWriter, r *http.Request) {
	paymentID := chi.URLParam(r, "paymentId")

	entry, err := s.ledger.GetEntry(r.Context(), paymentID)
	if err == ledger.ErrNotFound {
		writeError(w, r, commonerrors.ErrPaymentNotFound)
		return
	}
	if err != nil {
		s.log.WithError(err).Error("get ledger entry failed")
		writeError(w, r, commonerrors.New(commonerrors.CodeInternal, "failed to read ledger"))
		return
	}

	writeJSON(w, http.StatusOK, entry)
}

// reconcileRequest 对账请求
type reconcileRequest struct {
	Scope   string `json:"scope"` // full | range | order
	From    string `json:"from,omitempty"`
	To      string `json:"to,omitempty"`
	OrderID string `json:"orderId,omitempty"`
}

// handleReconcile 同步触发对账
func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	var req reconcileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, commonerrors.New(commonerrors.CodeInvalidParam, "invalid request body"))
		return
	}

	var scope reconciliation.Scope
	switch req.Scope {
	case "", "full":
		scope = reconciliation.PendingScope()
	case "range":
		from, err := time.Parse(time.RFC3339, req.From)
		if err != nil {
			writeError(w, r, commonerrors.New(commonerrors.CodeInvalidParam, "from must be RFC3339"))
			return
		}
		to, err := time.Parse(time.RFC3339, req.To)
		if err != nil {
			writeError(w, r, commonerrors.New(commonerrors.CodeInvalidParam, "to must be RFC3339"))
			return
		}
		scope = reconciliation.RangeScope(from, to)
	case "order":
		if req.OrderID == "" {
			writeError(w, r, commonerrors.New(commonerrors.CodeInvalidParam, "orderId is required for order scope"))
			return
		}
		scope = reconciliation.OrderScope(req.OrderID)
	default:
		writeError(w, r, commonerrors.New(commonerrors.CodeInvalidParam, "scope must be full, range or order"))
		return
	}

	result, err := s.reconciler.Reconcile(r.Context(), scope)
	if err != nil {
		s.log.WithError(err).Error("reconciliation run failed")
		writeError(w, r, commonerrors.New(commonerrors.CodeReconciliationFailed, "reconciliation run failed"))
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleReconciliationStats 对账统计
func (s *Server) handleReconciliationStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.reconciler.Stats(r.Context())
	if err != nil {
		s.log.WithError(err).Error("reconciliation stats failed")
		writeError(w, r, commonerrors.New(commonerrors.CodeInternal, "failed to read reconciliation stats"))
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleGetNotification 查询通知
func (s *Server) handleGetNotification(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "notificationId")

	record, err := s.notifier.Get(r.Context(), id)
	if err == commonerrors.ErrNotificationNotFound {
		writeError(w, r, commonerrors.ErrNotificationNotFound)
		return
	}
	if err != nil {
		s.log.WithError(err).Error("get notification failed")
		writeError(w, r, commonerrors.New(commonerrors.CodeInternal, "failed to read notification"))
		return
	}

	writeJSON(w, http.StatusOK, record)
}

// handleRetryNotification 重发通知
func (s *Server) handleRetryNotification(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "notificationId")

	record, err := s.notifier.Retry(r.Context(), id)
	if err == commonerrors.ErrNotificationNotFound {
		writeError(w, r, commonerrors.ErrNotificationNotFound)
		return
	}
	if err != nil {
		s.log.WithError(err).Error("retry notification failed")
		writeError(w, r, commonerrors.New(commonerrors.CodeInternal, "failed to retry notification"))
		return
	}

	writeJSON(w, http.StatusOK, record)
}

// handleNotificationStats 通知统计
func (s *Server) handleNotificationStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.notifier.Stats(r.Context())
	if err != nil {
		s.log.WithError(err).Error("notification stats failed")
		writeError(w, r, commonerrors.New(commonerrors.CodeInternal, "failed to read notification stats"))
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
