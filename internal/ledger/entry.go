// Package ledger 支付账本
package ledger

// 支付状态，状态机单调推进，不允许回退
const (
	StatusInitiated         = "INITIATED"
	StatusAuthorized        = "AUTHORIZED"
	StatusRejected          = "REJECTED"
	StatusSettlementPending = "SETTLEMENT_PENDING"
	StatusSettled           = "SETTLED"
	StatusFailed            = "FAILED"
)

// 对账状态
const (
	ReconPending  = "PENDING"
	ReconMatched  = "MATCHED"
	ReconMismatch = "MISMATCH"
)

// TerminalStatus 是否为终态
func TerminalStatus(status string) bool {
	switch status {
	case StatusRejected, StatusSettled, StatusFailed:
		return true
	}
	return false
}

// Entry 支付账本条目，每个 paymentId 一行，只追加不删除
type Entry struct {
	PaymentID         string
	OrderID           string
	UserID            string
	MerchantID        string
	PaymentMethod     string
	Amount            string // 十进制字符串
	Currency          string
	Status            string
	AuthorizationCode string // 授权前为空
	RiskScore         int    // 授权前为 0
	SettlementID      string // 清算前为空
	SettlementDateMs  int64  // 清算前为 0
	FailureReason     string // 终态拒绝/失败原因
	ReconStatus       string
	LastReconciledMs  int64 // 未对账为 0
	CorrelationID     string
	CreatedAtMs       int64
	UpdatedAtMs       int64
}
