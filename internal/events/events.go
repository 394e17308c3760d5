// Package events 支付生命周期事件定义
package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// 事件类型
const (
	KindPaymentInitiated  = "PaymentInitiated"
	KindPaymentAuthorized = "PaymentAuthorized"
	KindPaymentRejected   = "PaymentRejected"
	KindPaymentSettled    = "PaymentSettled"
	KindPaymentFailed     = "PaymentFailed"
)

// Event 支付事件。Key 返回分区键（paymentId），同键事件保证有序。
type Event interface {
	Kind() string
	Key() string
}

// PaymentInitiated 支付发起
type PaymentInitiated struct {
	PaymentID     string    `json:"paymentId"`
	OrderID       string    `json:"orderId"`
	Amount        string    `json:"amount"`
	Currency      string    `json:"currency"`
	UserID        string    `json:"userId"`
	MerchantID    string    `json:"merchantId"`
	PaymentMethod string    `json:"paymentMethod"`
	CorrelationID string    `json:"correlationId"`
	Timestamp     time.Time `json:"timestamp"`
}

func (e *PaymentInitiated) Kind() string { return KindPaymentInitiated }
func (e *PaymentInitiated) Key() string  { return e.PaymentID }

// PaymentAuthorized 支付授权通过
type PaymentAuthorized struct {
	PaymentID         string    `json:"paymentId"`
	OrderID           string    `json:"orderId"`
	AuthorizationCode string    `json:"authorizationCode"`
	RiskScore         int       `json:"riskScore"`
	Amount            string    `json:"amount"`
	CorrelationID     string    `json:"correlationId"`
	Timestamp         time.Time `json:"timestamp"`
}

func (e *PaymentAuthorized) Kind() string { return KindPaymentAuthorized }
func (e *PaymentAuthorized) Key() string  { return e.PaymentID }

// PaymentRejected 支付授权拒绝
type PaymentRejected struct {
	PaymentID       string    `json:"paymentId"`
	OrderID         string    `json:"orderId"`
	RejectionReason string    `json:"rejectionReason"`
	ErrorCode       string    `json:"errorCode"`
	Amount          string    `json:"amount"`
	CorrelationID   string    `json:"correlationId"`
	Timestamp       time.Time `json:"timestamp"`
}

func (e *PaymentRejected) Kind() string { return KindPaymentRejected }
func (e *PaymentRejected) Key() string  { return e.PaymentID }

// PaymentSettled 支付清算完成
type PaymentSettled struct {
	PaymentID      string    `json:"paymentId"`
	OrderID        string    `json:"orderId"`
	SettlementID   string    `json:"settlementId"`
	SettlementDate time.Time `json:"settlementDate"`
	Amount         string    `json:"amount"`
	CorrelationID  string    `json:"correlationId"`
	Timestamp      time.Time `json:"timestamp"`
}

func (e *PaymentSettled) Kind() string { return KindPaymentSettled }
func (e *PaymentSettled) Key() string  { return e.PaymentID }

// PaymentFailed 支付清算失败（重试耗尽）
type PaymentFailed struct {
	PaymentID      string    `json:"paymentId"`
	OrderID        string    `json:"orderId"`
	FailureReasons string    `json:"failureReasons"`
	ErrorCode      string    `json:"errorCode"`
	Amount         string    `json:"amount"`
	CorrelationID  string    `json:"correlationId"`
	Timestamp      time.Time `json:"timestamp"`
}

func (e *PaymentFailed) Kind() string { return KindPaymentFailed }
func (e *PaymentFailed) Key() string  { return e.PaymentID }

// Decode 按事件类型反序列化
func Decode(kind string, data []byte) (Event, error) {
	var event Event
	switch kind {
	case KindPaymentInitiated:
		event = &PaymentInitiated{}
	case KindPaymentAuthorized:
		event = &PaymentAuthorized{}
	case KindPaymentRejected:
		event = &PaymentRejected{}
	case KindPaymentSettled:
		event = &PaymentSettled{}
	case KindPaymentFailed:
		event = &PaymentFailed{}
	default:
		return nil, fmt.Errorf("unknown event kind: %s", kind)
	}
	if err := json.Unmarshal(data, event); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", kind, err)
	}
	return event, nil
}
