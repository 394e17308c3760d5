// Package errors 定义支付平台统一错误码
package errors

import (
	"fmt"
	"net/http"
)

// Code 错误码
type Code string

// 错误码定义
const (
	// 通用错误
	CodeOK            Code = "OK"
	CodeUnknown       Code = "UNKNOWN"
	CodeInvalidParam  Code = "INVALID_PARAM"
	CodeNotFound      Code = "NOT_FOUND"
	CodeAlreadyExists Code = "ALREADY_EXISTS"
	CodeInternal      Code = "INTERNAL"
	CodeUnavailable   Code = "UNAVAILABLE"
	CodeTimeout       Code = "TIMEOUT"
	CodeSystemError   Code = "SYSTEM_ERROR"

	// 授权
	CodeAuthFailed         Code = "AUTH_FAILED"
	CodeAmountExceedsLimit Code = "AMOUNT_EXCEEDS_LIMIT"
	CodeHighRisk           Code = "HIGH_RISK"
	CodeInvalidMerchant    Code = "INVALID_MERCHANT"
	CodeInvalidCurrency    Code = "INVALID_CURRENCY"

	// 清算
	CodeProviderError       Code = "PROVIDER_ERROR"
	CodeMaxRetriesExceeded  Code = "MAX_RETRIES_EXCEEDED"
	CodeSettleFailure       Code = "SETTLE_FAILURE"
	CodeIdempotencyConflict Code = "IDEMPOTENCY_CONFLICT"

	// 支付单
	CodePaymentNotFound   Code = "PAYMENT_NOT_FOUND"
	CodeInvalidTransition Code = "INVALID_TRANSITION"

	// 对账
	CodeReconciliationFailed Code = "RECONCILIATION_FAILED"

	// 通知
	CodeNotificationNotFound Code = "NOTIFICATION_NOT_FOUND"
)

// Error 业务错误
type Error struct {
	Code      Code   `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	RequestID string `json:"requestId,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// New 创建错误
func New(code Code, message string) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Retryable: isRetryable(code),
	}
}

// Newf 创建格式化错误
func Newf(code Code, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// WithRequestID 添加请求 ID
func (e *Error) WithRequestID(requestID string) *Error {
	e.RequestID = requestID
	return e
}

// HTTPStatus 返回对应的 HTTP 状态码
func (e *Error) HTTPStatus() int {
	return httpStatus(e.Code)
}

// isRetryable 判断是否可重试
func isRetryable(code Code) bool {
	switch code {
	case CodeProviderError, CodeTimeout, CodeUnavailable, CodeSystemError:
		return true
	default:
		return false
	}
}

// httpStatus 错误码对应的 HTTP 状态码
func httpStatus(code Code) int {
	switch code {
	case CodeOK:
		return http.StatusOK
	case CodeInvalidParam, CodeInvalidCurrency, CodeInvalidMerchant:
		return http.StatusBadRequest
	case CodeNotFound, CodePaymentNotFound, CodeNotificationNotFound:
		return http.StatusNotFound
	case CodeAlreadyExists, CodeIdempotencyConflict, CodeInvalidTransition:
		return http.StatusConflict
	case CodeInternal, CodeUnknown, CodeSystemError, CodeReconciliationFailed:
		return http.StatusInternalServerError
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// 预定义错误
var (
	ErrInvalidParam         = New(CodeInvalidParam, "invalid parameter")
	ErrNotFound             = New(CodeNotFound, "not found")
	ErrPaymentNotFound      = New(CodePaymentNotFound, "payment not found")
	ErrNotificationNotFound = New(CodeNotificationNotFound, "notification not found")
	ErrInvalidTransition    = New(CodeInvalidTransition, "invalid payment status transition")
)
