// Package reconciliation 账本对账引擎
package reconciliation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/payments/platform/internal/ledger"
	"github.com/payments/platform/internal/metrics"
	"github.com/payments/platform/pkg/decimal"
	"github.com/payments/platform/pkg/logger"
)

// 运行状态
const (
	StatusCompleted = "COMPLETED"
	StatusPartial   = "PARTIAL"
	StatusFailed    = "FAILED"
)

// 不一致类型
const (
	MismatchMissingSettlementID = "MISSING_SETTLEMENT_ID"
	MismatchStatus              = "STATUS_MISMATCH"
	MismatchStuckAuthorization  = "STUCK_AUTHORIZATION"
)

// 严重级别
const (
	SeverityHigh   = "HIGH"
	SeverityMedium = "MEDIUM"
	SeverityLow    = "LOW"
)

// 卡单判定窗口
const stuckAuthorizationAge = 24 * time.Hour

// ScopeKind 对账范围类型
type ScopeKind int

const (
	ScopePending ScopeKind = iota
	ScopeDateRange
	ScopeOrder
)

// Scope 对账范围：全部待对账、时间范围或单个订单
type Scope struct {
	Kind    ScopeKind
	From    time.Time
	To      time.Time
	OrderID string
}

// PendingScope 全量待对账范围
func PendingScope() Scope {
	return Scope{Kind: ScopePending}
}

// RangeScope 时间范围
func RangeScope(from, to time.Time) Scope {
	return Scope{Kind: ScopeDateRange, From: from, To: to}
}

// OrderScope 单订单范围
func OrderScope(orderID string) Scope {
	return Scope{Kind: ScopeOrder, OrderID: orderID}
}

// Mismatch 单条不一致
type Mismatch struct {
	PaymentID    string    `json:"paymentId"`
	SettlementID string    `json:"settlementId,omitempty"`
	OrderID      string    `json:"orderId"`
	MismatchType string    `json:"mismatchType"`
	Description  string    `json:"description"`
	DetectedAt   time.Time `json:"detectedAt"`
	Severity     string    `json:"severity"`
}

// Stats 对账统计
type Stats struct {
	TotalPayments       int    `json:"totalPayments"`
	MatchedTransactions int    `json:"matchedTransactions"`
	UnmatchedPayments   int    `json:"unmatchedPayments"`
	TotalAmount         string `json:"totalAmount"`
	MatchedAmount       string `json:"matchedAmount"`
	MismatchedAmount    string `json:"mismatchedAmount"`
}

// Result 单次对账结果，仅作为审计记录，不作为可变状态
type Result struct {
	ReconciliationID string     `json:"reconciliationId"`
	RunAt            time.Time  `json:"runAt"`
	Status           string     `json:"status"`
	Stats            Stats      `json:"stats"`
	Mismatches       []Mismatch `json:"mismatches"`
}

// UnreadableScope 区分账本不可读产生的空 FAILED 结果与
// 全部不符的业务性 FAILED
func (r *Result) UnreadableScope() bool {
	return r.Status == StatusFailed && r.Stats.TotalPayments == 0 && len(r.Mismatches) == 0
}

// LedgerSource 对账读写依赖。读取为扫描开始时的快照语义，
// 扫描中被 saga 修改的条目留待下一轮。
type LedgerSource interface {
	ListByReconStatus(ctx context.Context, status string, limit int) ([]*ledger.Entry, error)
	ListByCreatedRange(ctx context.Context, fromMs, toMs int64) ([]*ledger.Entry, error)
	ListByOrder(ctx context.Context, orderID string) ([]*ledger.Entry, error)
	UpdateReconStatus(ctx context.Context, paymentID, status string, reconciledAtMs int64) error
	CountByReconStatus(ctx context.Context) (map[string]int64, error)
}

// Service 对账服务
type Service struct {
	store     LedgerSource
	metrics   *metrics.Metrics
	log       *logger.Logger
	batchSize int
	now       func() time.Time
}

// NewService 创建对账服务
func NewService(store LedgerSource, m *metrics.Metrics, log *logger.Logger, batchSize int) *Service {
	if log == nil {
		log = logger.New("reconciliation", nil)
	}
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &Service{store: store, metrics: m, log: log, batchSize: batchSize, now: time.Now}
}

// Reconcile 对指定范围执行对账。范围完全不可读时返回 FAILED 结果
// （空 mismatch、零统计），不抛致命错误。
func (s *Service) Reconcile(ctx context.Context, scope Scope) (*Result, error) {
	reconciliationID := uuid.NewString()
	runAt := s.now()
	log := s.log.WithField("reconciliationId", reconciliationID)

	entries, err := s.listScope(ctx, scope)
	if err != nil {
		log.WithError(err).Error("reconciliation scope unreadable")
		result := s.failedResult(reconciliationID, runAt)
		s.metrics.IncReconciliationRun(result.Status)
		return result, nil
	}

	log.Infof("reconciliation started", map[string]interface{}{
		"entries": len(entries),
	})

	result := s.reconcileEntries(ctx, entries, reconciliationID, runAt)
	s.metrics.IncReconciliationRun(result.Status)

	log.Infof("reconciliation finished", map[string]interface{}{
		"status":     result.Status,
		"matched":    result.Stats.MatchedTransactions,
		"mismatches": len(result.Mismatches),
	})
	return result, nil
}

func (s *Service) listScope(ctx context.Context, scope Scope) ([]*ledger.Entry, error) {
	switch scope.Kind {
	case ScopePending:
		return s.store.ListByReconStatus(ctx, ledger.ReconPending, s.batchSize)
	case ScopeDateRange:
		return s.store.ListByCreatedRange(ctx, scope.From.UnixMilli(), scope.To.UnixMilli())
	case ScopeOrder:
		return s.store.ListByOrder(ctx, scope.OrderID)
	}
	return nil, fmt.Errorf("unknown reconciliation scope: %d", scope.Kind)
}

// reconcileEntries 核心对账循环。每条的状态更新独立提交，
// 单条失败跳过，不影响其他条目；ctx 取消可在条目间中止。
func (s *Service) reconcileEntries(ctx context.Context, entries []*ledger.Entry, reconciliationID string, runAt time.Time) *Result {
	var mismatches []Mismatch
	matched := 0
	totalAmount := decimal.Zero
	matchedAmount := decimal.Zero

	for _, entry := range entries {
		if ctx.Err() != nil {
			s.log.Warn("reconciliation aborted between entries")
			break
		}

		amount, err := decimal.New(entry.Amount)
		if err != nil {
			amount = decimal.Zero
		}
		totalAmount = totalAmount.Add(amount)

		mismatch := s.analyzeEntry(entry)
		status := ledger.ReconMatched
		if mismatch != nil {
			mismatches = append(mismatches, *mismatch)
			status = ledger.ReconMismatch
			s.metrics.IncMismatch(mismatch.MismatchType)
		} else {
			matched++
			matchedAmount = matchedAmount.Add(amount)
		}

		if err := s.store.UpdateReconStatus(ctx, entry.PaymentID, status, s.now().UnixMilli()); err != nil {
			// 单条写回失败：留待下一轮，继续处理其余条目
			s.log.WithError(err).Errorf("reconciliation status update skipped", map[string]interface{}{
				"paymentId": entry.PaymentID,
			})
		}
	}

	status := StatusCompleted
	if len(mismatches) > 0 {
		if matched > 0 {
			status = StatusPartial
		} else {
			status = StatusFailed
		}
	}

	return &Result{
		ReconciliationID: reconciliationID,
		RunAt:            runAt,
		Status:           status,
		Stats: Stats{
			TotalPayments:       len(entries),
			MatchedTransactions: matched,
			UnmatchedPayments:   len(mismatches),
			TotalAmount:         totalAmount.String(),
			MatchedAmount:       matchedAmount.String(),
			MismatchedAmount:    totalAmount.Sub(matchedAmount).String(),
		},
		Mismatches: mismatches,
	}
}

// analyzeEntry 按固定优先级检查单条账目，最多产生一条不一致
func (s *Service) analyzeEntry(entry *ledger.Entry) *Mismatch {
	// 检查 1：SETTLED 但缺少清算单号
	if entry.Status == ledger.StatusSettled && entry.SettlementID == "" {
		return &Mismatch{
			PaymentID:    entry.PaymentID,
			OrderID:      entry.OrderID,
			MismatchType: MismatchMissingSettlementID,
			Description:  "payment marked as SETTLED but missing settlement ID",
			DetectedAt:   s.now(),
			Severity:     SeverityHigh,
		}
	}

	// 检查 2：有清算单号但状态不是 SETTLED
	if entry.SettlementID != "" && entry.Status != ledger.StatusSettled {
		return &Mismatch{
			PaymentID:    entry.PaymentID,
			SettlementID: entry.SettlementID,
			OrderID:      entry.OrderID,
			MismatchType: MismatchStatus,
			Description:  "settlement ID present but payment not marked as SETTLED",
			DetectedAt:   s.now(),
			Severity:     SeverityMedium,
		}
	}

	// 检查 3：AUTHORIZED 超过 24 小时未推进
	if entry.Status == ledger.StatusAuthorized &&
		time.UnixMilli(entry.CreatedAtMs).Before(s.now().Add(-stuckAuthorizationAge)) {
		return &Mismatch{
			PaymentID:    entry.PaymentID,
			OrderID:      entry.OrderID,
			MismatchType: MismatchStuckAuthorization,
			Description:  "payment stuck in AUTHORIZED status for more than 24 hours",
			DetectedAt:   s.now(),
			Severity:     SeverityMedium,
		}
	}

	return nil
}

func (s *Service) failedResult(reconciliationID string, runAt time.Time) *Result {
	return &Result{
		ReconciliationID: reconciliationID,
		RunAt:            runAt,
		Status:           StatusFailed,
		Stats: Stats{
			TotalAmount:      decimal.Zero.String(),
			MatchedAmount:    decimal.Zero.String(),
			MismatchedAmount: decimal.Zero.String(),
		},
		Mismatches: []Mismatch{},
	}
}

// HealthStats 对账健康统计
type HealthStats struct {
	GeneratedAt time.Time        `json:"generatedAt"`
	Total       int64            `json:"total"`
	ByStatus    map[string]int64 `json:"byStatus"`
}

// Stats 返回账本当前对账状态分布
func (s *Service) Stats(ctx context.Context) (*HealthStats, error) {
	counts, err := s.store.CountByReconStatus(ctx)
	if err != nil {
		return nil, err
	}
	var total int64
	for _, c := range counts {
		total += c
	}
	return &HealthStats{GeneratedAt: s.now(), Total: total, ByStatus: counts}, nil
}

// HealthCheck 轻量健康检查：统计分布，不一致比例过高时告警日志
func (s *Service) HealthCheck(ctx context.Context) error {
	stats, err := s.Stats(ctx)
	if err != nil {
		return err
	}

	mismatched := stats.ByStatus[ledger.ReconMismatch]
	if stats.Total > 0 && mismatched*10 > stats.Total {
		s.log.Warnf("high reconciliation mismatch rate", map[string]interface{}{
			"total":      stats.Total,
			"mismatched": mismatched,
		})
	} else {
		s.log.Infof("reconciliation health check", map[string]interface{}{
			"total":      stats.Total,
			"mismatched": mismatched,
		})
	}
	return nil
}
