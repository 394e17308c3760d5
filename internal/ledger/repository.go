package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("ledger entry not found")
)

const entryColumns = `payment_id, order_id, user_id, merchant_id, payment_method,
	amount, currency, payment_status, authorization_code, risk_score,
	settlement_id, settlement_date_ms, failure_reason,
	reconciliation_status, last_reconciled_at_ms, correlation_id,
	created_at_ms, updated_at_ms`

// Repository 账本仓储
type Repository struct {
	db *sql.DB
}

// NewRepository 创建仓储
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// CreateEntry 首次观察到 PaymentInitiated 时创建条目。
// 已存在则不做任何修改，返回 false（幂等）。
func (r *Repository) CreateEntry(ctx context.Context, e *Entry) (bool, error) {
	query := `
		INSERT INTO payment_platform.payment_ledger (` + entryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (payment_id) DO NOTHING
	`
	result, err := r.db.ExecContext(ctx, query,
		e.PaymentID, e.OrderID, e.UserID, e.MerchantID, e.PaymentMethod,
		e.Amount, e.Currency, e.Status, nullString(e.AuthorizationCode), e.RiskScore,
		nullString(e.SettlementID), nullInt64(e.SettlementDateMs), nullString(e.FailureReason),
		e.ReconStatus, nullInt64(e.LastReconciledMs), e.CorrelationID,
		e.CreatedAtMs, e.UpdatedAtMs,
	)
	if err != nil {
		return false, fmt.Errorf("insert ledger entry: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows == 1, nil
}

// GetEntry 按 paymentId 查询
func (r *Repository) GetEntry(ctx context.Context, paymentID string) (*Entry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM payment_platform.payment_ledger
		WHERE payment_id = $1
	`
	e, err := scanEntry(r.db.QueryRowContext(ctx, query, paymentID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query ledger entry: %w", err)
	}
	return e, nil
}

// MarkAuthorized 授权通过：INITIATED -> AUTHORIZED（CAS）
func (r *Repository) MarkAuthorized(ctx context.Context, paymentID, authCode string, riskScore int, updateMs int64) (bool, error) {
	query := `
		UPDATE payment_platform.payment_ledger
		SET payment_status = $1, authorization_code = $2, risk_score = $3, updated_at_ms = $4
		WHERE payment_id = $5 AND payment_status = $6
	`
	return r.execTransition(ctx, query, StatusAuthorized, authCode, riskScore, updateMs, paymentID, StatusInitiated)
}

// MarkRejected 授权拒绝：INITIATED -> REJECTED（CAS）
func (r *Repository) MarkRejected(ctx context.Context, paymentID, reason string, riskScore int, updateMs int64) (bool, error) {
	query := `
		UPDATE payment_platform.payment_ledger
		SET payment_status = $1, failure_reason = $2, risk_score = $3, updated_at_ms = $4
		WHERE payment_id = $5 AND payment_status = $6
	`
	return r.execTransition(ctx, query, StatusRejected, reason, riskScore, updateMs, paymentID, StatusInitiated)
}

// BeginSettlement 进入清算：AUTHORIZED -> SETTLEMENT_PENDING（CAS）
func (r *Repository) BeginSettlement(ctx context.Context, paymentID string, updateMs int64) (bool, error) {
	query := `
		UPDATE payment_platform.payment_ledger
		SET payment_status = $1, updated_at_ms = $2
		WHERE payment_id = $3 AND payment_status = $4
	`
	return r.execTransition(ctx, query, StatusSettlementPending, updateMs, paymentID, StatusAuthorized)
}

// MarkSettled 清算成功：SETTLEMENT_PENDING -> SETTLED（CAS）
func (r *Repository) MarkSettled(ctx context.Context, paymentID, settlementID string, settledAtMs, updateMs int64) (bool, error) {
	query := `
		UPDATE payment_platform.payment_ledger
		SET payment_status = $1, settlement_id = $2, settlement_date_ms = $3, updated_at_ms = $4
		WHERE payment_id = $5 AND payment_status = $6
	`
	return r.execTransition(ctx, query, StatusSettled, settlementID, settledAtMs, updateMs, paymentID, StatusSettlementPending)
}

// MarkFailed 清算失败：SETTLEMENT_PENDING -> FAILED（CAS）
func (r *Repository) MarkFailed(ctx context.Context, paymentID, reason string, updateMs int64) (bool, error) {
	query := `
		UPDATE payment_platform.payment_ledger
		SET payment_status = $1, failure_reason = $2, updated_at_ms = $3
		WHERE payment_id = $4 AND payment_status = $5
	`
	return r.execTransition(ctx, query, StatusFailed, reason, updateMs, paymentID, StatusSettlementPending)
}

func (r *Repository) execTransition(ctx context.Context, query string, args ...interface{}) (bool, error) {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("transition status: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows == 1, nil
}

// ListByReconStatus 按对账状态查询
func (r *Repository) ListByReconStatus(ctx context.Context, status string, limit int) ([]*Entry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM payment_platform.payment_ledger
		WHERE reconciliation_status = $1
		ORDER BY created_at_ms
		LIMIT $2
	`
	return r.queryEntries(ctx, query, status, limit)
}

// ListByCreatedRange 按创建时间范围查询
func (r *Repository) ListByCreatedRange(ctx context.Context, fromMs, toMs int64) ([]*Entry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM payment_platform.payment_ledger
		WHERE created_at_ms >= $1 AND created_at_ms < $2
		ORDER BY created_at_ms
	`
	return r.queryEntries(ctx, query, fromMs, toMs)
}

// ListByOrder 按订单查询
func (r *Repository) ListByOrder(ctx context.Context, orderID string) ([]*Entry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM payment_platform.payment_ledger
		WHERE order_id = $1
		ORDER BY created_at_ms
	`
	return r.queryEntries(ctx, query, orderID)
}

// UpdateReconStatus 更新单条对账状态。每条更新独立提交，
// 失败可跳过不影响其他条目。
func (r *Repository) UpdateReconStatus(ctx context.Context, paymentID, status string, reconciledAtMs int64) error {
	query := `
		UPDATE payment_platform.payment_ledger
		SET reconciliation_status = $1, last_reconciled_at_ms = $2
		WHERE payment_id = $3
	`
	result, err := r.db.ExecContext(ctx, query, status, reconciledAtMs, paymentID)
	if err != nil {
		return fmt.Errorf("update reconciliation status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// CountByReconStatus 按对账状态统计条目数
func (r *Repository) CountByReconStatus(ctx context.Context) (map[string]int64, error) {
	query := `
		SELECT reconciliation_status, COUNT(*)
		FROM payment_platform.payment_ledger
		GROUP BY reconciliation_status
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("count by reconciliation status: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return counts, nil
}

func (r *Repository) queryEntries(ctx context.Context, query string, args ...interface{}) ([]*Entry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var e Entry
	var authCode, settlementID, failureReason sql.NullString
	var settlementDateMs, lastReconciledMs sql.NullInt64

	err := row.Scan(
		&e.PaymentID, &e.OrderID, &e.UserID, &e.MerchantID, &e.PaymentMethod,
		&e.Amount, &e.Currency, &e.Status, &authCode, &e.RiskScore,
		&settlementID, &settlementDateMs, &failureReason,
		&e.ReconStatus, &lastReconciledMs, &e.CorrelationID,
		&e.CreatedAtMs, &e.UpdatedAtMs,
	)
	if err != nil {
		return nil, err
	}

	e.AuthorizationCode = authCode.String
	e.SettlementID = settlementID.String
	e.SettlementDateMs = settlementDateMs.Int64
	e.FailureReason = failureReason.String
	e.LastReconciledMs = lastReconciledMs.Int64
	return &e, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullInt64(v int64) interface{} {
	if v == 0 {
		return nil
	}
	return v
}
