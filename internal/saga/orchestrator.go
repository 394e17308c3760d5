// Package saga 支付 saga 编排器
package saga

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/payments/platform/internal/events"
	"github.com/payments/platform/internal/ledger"
	"github.com/payments/platform/internal/metrics"
	"github.com/payments/platform/internal/rules"
	"github.com/payments/platform/internal/settlement"
	commonerrors "github.com/payments/platform/pkg/errors"
	"github.com/payments/platform/pkg/logger"
	"github.com/payments/platform/pkg/stream"
)

// LedgerStore 账本依赖接口。状态迁移方法为 CAS 语义：
// 当前状态与期望前置状态匹配才生效，返回 false 表示未迁移。
type LedgerStore interface {
	CreateEntry(ctx context.Context, e *ledger.Entry) (bool, error)
	GetEntry(ctx context.Context, paymentID string) (*ledger.Entry, error)
	MarkAuthorized(ctx context.Context, paymentID, authCode string, riskScore int, updateMs int64) (bool, error)
	MarkRejected(ctx context.Context, paymentID, reason string, riskScore int, updateMs int64) (bool, error)
	BeginSettlement(ctx context.Context, paymentID string, updateMs int64) (bool, error)
	MarkSettled(ctx context.Context, paymentID, settlementID string, settledAtMs, updateMs int64) (bool, error)
	MarkFailed(ctx context.Context, paymentID, reason string, updateMs int64) (bool, error)
}

// Settler 清算依赖接口
type Settler interface {
	Process(ctx context.Context, req *settlement.Request) *settlement.Outcome
}

// Orchestrator 按事件驱动支付状态机：
//
//	INITIATED  --(规则通过)--> AUTHORIZED
//	INITIATED  --(规则拒绝/评估异常)--> REJECTED
//	AUTHORIZED --> SETTLEMENT_PENDING --(清算成功)--> SETTLED
//	AUTHORIZED --> SETTLEMENT_PENDING --(重试耗尽)--> FAILED
//
// 同一 paymentId 的事件由消费层保证串行，重复投递通过账本
// 状态 CAS 检测并吸收为 no-op。
type Orchestrator struct {
	ledger    LedgerStore
	rules     *rules.Engine
	settler   Settler
	publisher events.Publisher
	topics    events.Topics
	metrics   *metrics.Metrics
	log       *logger.Logger
	now       func() time.Time
}

// New 创建编排器
func New(store LedgerStore, engine *rules.Engine, settler Settler, publisher events.Publisher, topics events.Topics, m *metrics.Metrics, log *logger.Logger) *Orchestrator {
	if log == nil {
		log = logger.New("payment-saga", nil)
	}
	return &Orchestrator{
		ledger:    store,
		rules:     engine,
		settler:   settler,
		publisher: publisher,
		topics:    topics,
		metrics:   m,
		log:       log,
		now:       time.Now,
	}
}

// HandleMessage 流消费入口，按 topic 解码后驱动状态机
func (o *Orchestrator) HandleMessage(ctx context.Context, msg *stream.Message) error {
	kind, err := o.topics.KindFor(msg.Stream)
	if err != nil {
		return err
	}

	event, err := events.Decode(kind, msg.Data)
	if err != nil {
		return err
	}

	switch e := event.(type) {
	case *events.PaymentInitiated:
		return o.HandleInitiated(ctx, e)
	case *events.PaymentAuthorized:
		return o.HandleAuthorized(ctx, e)
	default:
		// 其余事件类型由下游投影消费，编排器不订阅
		return nil
	}
}

// HandleInitiated 处理 PaymentInitiated：建账、评估规则、授权或拒绝
func (o *Orchestrator) HandleInitiated(ctx context.Context, evt *events.PaymentInitiated) error {
	ctx = logger.ContextWithCorrelationID(ctx, evt.CorrelationID)
	log := o.log.WithContext(ctx).WithField("paymentId", evt.PaymentID)

	nowMs := o.now().UnixMilli()
	created, err := o.ledger.CreateEntry(ctx, &ledger.Entry{
		PaymentID:     evt.PaymentID,
		OrderID:       evt.OrderID,
		UserID:        evt.UserID,
		MerchantID:    evt.MerchantID,
		PaymentMethod: evt.PaymentMethod,
		Amount:        evt.Amount,
		Currency:      evt.Currency,
		Status:        ledger.StatusInitiated,
		ReconStatus:   ledger.ReconPending,
		CorrelationID: evt.CorrelationID,
		CreatedAtMs:   nowMs,
		UpdatedAtMs:   nowMs,
	})
	if err != nil {
		return err
	}

	if created {
		o.metrics.IncLedgerEntries()
	} else {
		existing, err := o.ledger.GetEntry(ctx, evt.PaymentID)
		if err != nil {
			return err
		}
		if existing.Status != ledger.StatusInitiated {
			// 重复投递，已处理过
			o.metrics.IncDuplicate(events.KindPaymentInitiated)
			log.Info("duplicate PaymentInitiated absorbed")
			return nil
		}
		// 仍处于 INITIATED：此前处理中断，重投后继续评估
	}

	verdict, errCode := o.evaluate(evt)
	o.metrics.IncVerdict(verdict.Approved)

	if verdict.Approved {
		return o.authorize(ctx, evt, verdict, log)
	}
	return o.reject(ctx, evt, verdict, errCode, log)
}

func (o *Orchestrator) authorize(ctx context.Context, evt *events.PaymentInitiated, verdict *rules.Verdict, log *logger.Logger) error {
	authCode := generateAuthCode()
	ok, err := o.ledger.MarkAuthorized(ctx, evt.PaymentID, authCode, verdict.RiskScore, o.now().UnixMilli())
	if err != nil {
		return err
	}
	if !ok {
		o.metrics.IncDuplicate(events.KindPaymentInitiated)
		log.Info("duplicate PaymentInitiated absorbed")
		return nil
	}
	o.metrics.IncTransition(ledger.StatusAuthorized)
	log.Infof("payment authorized", map[string]interface{}{
		"riskScore": verdict.RiskScore,
	})

	return o.publisher.Publish(ctx, &events.PaymentAuthorized{
		PaymentID:         evt.PaymentID,
		OrderID:           evt.OrderID,
		AuthorizationCode: authCode,
		RiskScore:         verdict.RiskScore,
		Amount:            evt.Amount,
		CorrelationID:     evt.CorrelationID,
		Timestamp:         o.now(),
	})
}

func (o *Orchestrator) reject(ctx context.Context, evt *events.PaymentInitiated, verdict *rules.Verdict, errCode commonerrors.Code, log *logger.Logger) error {
	reason := verdict.Reason()
	ok, err := o.ledger.MarkRejected(ctx, evt.PaymentID, reason, verdict.RiskScore, o.now().UnixMilli())
	if err != nil {
		return err
	}
	if !ok {
		o.metrics.IncDuplicate(events.KindPaymentInitiated)
		log.Info("duplicate PaymentInitiated absorbed")
		return nil
	}
	o.metrics.IncTransition(ledger.StatusRejected)
	log.Warnf("payment rejected", map[string]interface{}{
		"errorCode": string(errCode),
		"reason":    reason,
	})

	return o.publisher.Publish(ctx, &events.PaymentRejected{
		PaymentID:       evt.PaymentID,
		OrderID:         evt.OrderID,
		RejectionReason: reason,
		ErrorCode:       string(errCode),
		Amount:          evt.Amount,
		CorrelationID:   evt.CorrelationID,
		Timestamp:       o.now(),
	})
}

// evaluate 调用规则引擎；评估过程中的 panic 转为 SYSTEM_ERROR 拒绝，
// 保证支付不会停留在 INITIATED。
func (o *Orchestrator) evaluate(evt *events.PaymentInitiated) (verdict *rules.Verdict, errCode commonerrors.Code) {
	errCode = commonerrors.CodeAuthFailed
	defer func() {
		if v := recover(); v != nil {
			verdict = &rules.Verdict{
				Approved: false,
				RejectionReasons: []rules.Rejection{{
					Code:    commonerrors.CodeSystemError,
					Message: fmt.Sprintf("system error during authorization: %v", v),
				}},
			}
			errCode = commonerrors.CodeSystemError
		}
	}()
	verdict = o.rules.Evaluate(evt)
	return verdict, errCode
}

// HandleAuthorized 处理 PaymentAuthorized：进入清算，成功 SETTLED，重试耗尽 FAILED
func (o *Orchestrator) HandleAuthorized(ctx context.Context, evt *events.PaymentAuthorized) error {
	ctx = logger.ContextWithCorrelationID(ctx, evt.CorrelationID)
	log := o.log.WithContext(ctx).WithField("paymentId", evt.PaymentID)

	entry, err := o.ledger.GetEntry(ctx, evt.PaymentID)
	if err != nil {
		return err
	}

	ok, err := o.ledger.BeginSettlement(ctx, evt.PaymentID, o.now().UnixMilli())
	if err != nil {
		return err
	}
	if ok {
		o.metrics.IncTransition(ledger.StatusSettlementPending)
	} else {
		entry, err = o.ledger.GetEntry(ctx, evt.PaymentID)
		if err != nil {
			return err
		}
		if entry.Status != ledger.StatusSettlementPending {
			// 已到终态，重复投递
			o.metrics.IncDuplicate(events.KindPaymentAuthorized)
			log.Info("duplicate PaymentAuthorized absorbed")
			return nil
		}
		// 仍处于 SETTLEMENT_PENDING：此前清算中断，重投后继续
	}

	start := o.now()
	outcome := o.settler.Process(ctx, &settlement.Request{
		PaymentID:         evt.PaymentID,
		OrderID:           evt.OrderID,
		Amount:            evt.Amount,
		Currency:          entry.Currency,
		AuthorizationCode: evt.AuthorizationCode,
	})
	o.metrics.ObserveSettlementLatency(o.now().Sub(start))
	o.metrics.AddSettlementAttempts(outcome.AttemptsUsed)

	if outcome.Settled {
		return o.settle(ctx, evt, outcome, log)
	}
	return o.fail(ctx, evt, outcome, log)
}

func (o *Orchestrator) settle(ctx context.Context, evt *events.PaymentAuthorized, outcome *settlement.Outcome, log *logger.Logger) error {
	settledAt := o.now()
	ok, err := o.ledger.MarkSettled(ctx, evt.PaymentID, outcome.SettlementID, settledAt.UnixMilli(), settledAt.UnixMilli())
	if err != nil {
		return err
	}
	if !ok {
		return commonerrors.Newf(commonerrors.CodeInvalidTransition,
			"payment %s left SETTLEMENT_PENDING during settlement", evt.PaymentID)
	}
	o.metrics.IncTransition(ledger.StatusSettled)
	log.Infof("payment settled", map[string]interface{}{
		"settlementId": outcome.SettlementID,
		"attempts":     outcome.AttemptsUsed,
	})

	return o.publisher.Publish(ctx, &events.PaymentSettled{
		PaymentID:      evt.PaymentID,
		OrderID:        evt.OrderID,
		SettlementID:   outcome.SettlementID,
		SettlementDate: settledAt,
		Amount:         evt.Amount,
		CorrelationID:  evt.CorrelationID,
		Timestamp:      o.now(),
	})
}

func (o *Orchestrator) fail(ctx context.Context, evt *events.PaymentAuthorized, outcome *settlement.Outcome, log *logger.Logger) error {
	reason := outcome.Reason()
	ok, err := o.ledger.MarkFailed(ctx, evt.PaymentID, reason, o.now().UnixMilli())
	if err != nil {
		return err
	}
	if !ok {
		return commonerrors.Newf(commonerrors.CodeInvalidTransition,
			"payment %s left SETTLEMENT_PENDING during settlement", evt.PaymentID)
	}
	o.metrics.IncTransition(ledger.StatusFailed)
	log.Errorf("payment failed", map[string]interface{}{
		"attempts": outcome.AttemptsUsed,
		"reason":   reason,
	})

	return o.publisher.Publish(ctx, &events.PaymentFailed{
		PaymentID:      evt.PaymentID,
		OrderID:        evt.OrderID,
		FailureReasons: reason,
		ErrorCode:      string(commonerrors.CodeMaxRetriesExceeded),
		Amount:         evt.Amount,
		CorrelationID:  evt.CorrelationID,
		Timestamp:      o.now(),
	})
}

func generateAuthCode() string {
	return "AUTH_" + strings.ToUpper(uuid.NewString()[:8])
}
