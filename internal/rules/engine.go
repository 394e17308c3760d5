// Package rules 支付授权规则引擎
package rules

import (
	"strings"

	"github.com/payments/platform/internal/events"
	"github.com/payments/platform/pkg/decimal"
	commonerrors "github.com/payments/platform/pkg/errors"
)

// 规则阈值
var (
	amountLimit    = decimal.MustNew("10000")
	highAmount     = decimal.MustNew("5000")
	mediumAmount   = decimal.MustNew("1000")
	maxRiskScore   = 100
	riskRejectOver = 80
)

// 支持的币种
var supportedCurrencies = map[string]struct{}{
	"USD": {},
	"EUR": {},
	"GBP": {},
}

// Rejection 拒绝原因
type Rejection struct {
	Code    commonerrors.Code `json:"code"`
	Message string            `json:"message"`
}

// Verdict 授权评估结果，评估后不可变
type Verdict struct {
	Approved         bool        `json:"approved"`
	RiskScore        int         `json:"riskScore"`
	RejectionReasons []Rejection `json:"rejectionReasons"`
}

// Reason 拼接所有拒绝原因
func (v *Verdict) Reason() string {
	parts := make([]string, 0, len(v.RejectionReasons))
	for _, r := range v.RejectionReasons {
		parts = append(parts, string(r.Code)+": "+r.Message)
	}
	return strings.Join(parts, "; ")
}

// Engine 规则引擎。Evaluate 为纯函数，无 I/O，相同输入结果确定。
type Engine struct{}

// NewEngine 创建规则引擎
func NewEngine() *Engine {
	return &Engine{}
}

// Evaluate 评估支付。所有规则独立执行，失败规则全部累积到结果中。
func (e *Engine) Evaluate(payment *events.PaymentInitiated) *Verdict {
	verdict := &Verdict{Approved: true}

	amount, amountErr := decimal.New(payment.Amount)

	// 规则 1：金额上限。金额解析失败按系统错误拒绝，而非业务超限
	if amountErr != nil {
		verdict.reject(commonerrors.CodeSystemError, "transaction amount is not a valid decimal")
	} else if amount.Cmp(amountLimit) > 0 {
		verdict.reject(commonerrors.CodeAmountExceedsLimit, "transaction amount exceeds daily limit")
	}

	// 规则 2：风险评分
	verdict.RiskScore = riskScore(amount, payment.PaymentMethod)
	if verdict.RiskScore > riskRejectOver {
		verdict.reject(commonerrors.CodeHighRisk, "transaction flagged as high risk")
	}

	// 规则 3：商户校验
	if !validMerchant(payment.MerchantID) {
		verdict.reject(commonerrors.CodeInvalidMerchant, "merchant not authorized")
	}

	// 规则 4：币种校验
	if _, ok := supportedCurrencies[payment.Currency]; !ok {
		verdict.reject(commonerrors.CodeInvalidCurrency, "currency not supported")
	}

	return verdict
}

func (v *Verdict) reject(code commonerrors.Code, message string) {
	v.Approved = false
	v.RejectionReasons = append(v.RejectionReasons, Rejection{Code: code, Message: message})
}

// riskScore 计算风险评分，金额越大评分单调不减
func riskScore(amount *decimal.Decimal, paymentMethod string) int {
	score := 0

	if amount != nil {
		if amount.Cmp(highAmount) > 0 {
			score += 30
		}
		if amount.Cmp(mediumAmount) > 0 {
			score += 10
		}
	}

	if strings.Contains(paymentMethod, "crypto") {
		score += 20
	}

	if score > maxRiskScore {
		score = maxRiskScore
	}
	return score
}

func validMerchant(merchantID string) bool {
	return merchantID != "" && len(merchantID) > 3
}
