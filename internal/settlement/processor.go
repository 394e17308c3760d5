package settlement

import (
	"context"
	"fmt"
	"time"

	commonerrors "github.com/payments/platform/pkg/errors"
	"github.com/payments/platform/pkg/logger"
)

// Config 重试配置
type Config struct {
	MaxAttempts int
	RetryDelay  time.Duration
}

// FailureReason 失败原因
type FailureReason struct {
	Code    commonerrors.Code `json:"code"`
	Message string            `json:"message"`
}

// Outcome 清算结果。settled 时 SettlementID 非空；
// AttemptsUsed 为实际发起的尝试次数 (1..MaxAttempts)。
type Outcome struct {
	Settled        bool
	SettlementID   string
	AttemptsUsed   int
	FailureReasons []FailureReason
}

// Reason 拼接所有失败原因
func (o *Outcome) Reason() string {
	s := ""
	for i, r := range o.FailureReasons {
		if i > 0 {
			s += "; "
		}
		s += string(r.Code) + ": " + r.Message
	}
	return s
}

// IDGenerator 清算单号生成器
type IDGenerator interface {
	NextID() int64
}

// Processor 清算处理器。重试间隔只阻塞当前支付的任务，
// 不同支付的清算彼此独立调度。
type Processor struct {
	provider Provider
	idGen    IDGenerator
	cfg      Config
	log      *logger.Logger
}

// NewProcessor 创建处理器
func NewProcessor(provider Provider, idGen IDGenerator, cfg Config, log *logger.Logger) *Processor {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if log == nil {
		log = logger.New("settlement", nil)
	}
	return &Processor{provider: provider, idGen: idGen, cfg: cfg, log: log}
}

// Process 执行清算，最多 MaxAttempts 次顺序尝试。
// 成功立即返回；失败累积分类原因，重试耗尽后追加 MAX_RETRIES_EXCEEDED。
func (p *Processor) Process(ctx context.Context, req *Request) *Outcome {
	outcome := &Outcome{}

	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		outcome.AttemptsUsed = attempt

		err := p.attempt(ctx, req)
		if err == nil {
			outcome.Settled = true
			outcome.SettlementID = fmt.Sprintf("SETTLE_%d", p.idGen.NextID())
			p.log.Infof("payment settled", map[string]interface{}{
				"paymentId":    req.PaymentID,
				"settlementId": outcome.SettlementID,
				"attempt":      attempt,
			})
			return outcome
		}

		outcome.FailureReasons = append(outcome.FailureReasons, classify(err))
		p.log.WithError(err).Warnf("settlement attempt failed", map[string]interface{}{
			"paymentId": req.PaymentID,
			"attempt":   attempt,
		})

		if attempt < p.cfg.MaxAttempts {
			if !p.wait(ctx) {
				outcome.FailureReasons = append(outcome.FailureReasons, FailureReason{
					Code:    commonerrors.CodeSystemError,
					Message: "settlement canceled: " + ctx.Err().Error(),
				})
				return outcome
			}
		}
	}

	outcome.FailureReasons = append(outcome.FailureReasons, FailureReason{
		Code:    commonerrors.CodeMaxRetriesExceeded,
		Message: "maximum retry attempts exceeded",
	})
	p.log.Errorf("settlement failed after max attempts", map[string]interface{}{
		"paymentId": req.PaymentID,
		"attempts":  outcome.AttemptsUsed,
	})
	return outcome
}

// attempt 单次尝试，provider panic 转为 error
func (p *Processor) attempt(ctx context.Context, req *Request) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &panicError{value: v}
		}
	}()
	return p.provider.Settle(ctx, req)
}

// wait 重试间隔，ctx 取消时返回 false
func (p *Processor) wait(ctx context.Context) bool {
	if p.cfg.RetryDelay <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(p.cfg.RetryDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

type panicError struct {
	value interface{}
}

func (e *panicError) Error() string {
	return fmt.Sprintf("settlement panic: %v", e.value)
}

// classify 失败分类：panic 为 SYSTEM_ERROR，其余为 PROVIDER_ERROR
func classify(err error) FailureReason {
	if _, ok := err.(*panicError); ok {
		return FailureReason{Code: commonerrors.CodeSystemError, Message: err.Error()}
	}
	return FailureReason{Code: commonerrors.CodeProviderError, Message: err.Error()}
}
