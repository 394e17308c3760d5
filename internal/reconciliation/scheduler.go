package reconciliation

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/payments/platform/pkg/logger"
)

// SchedulerConfig 调度配置
type SchedulerConfig struct {
	DailyCron   string // 每日全量对账，默认凌晨 2 点
	HealthCron  string // 每小时健康检查
	MaxAttempts int
	RetryDelay  time.Duration
}

// DefaultSchedulerConfig 默认配置
var DefaultSchedulerConfig = SchedulerConfig{
	DailyCron:   "0 2 * * *",
	HealthCron:  "0 * * * *",
	MaxAttempts: 3,
	RetryDelay:  5 * time.Second,
}

// Scheduler 周期对账调度器。对账与 saga 并行运行，
// 只读陈旧容忍的投影并写 saga 不读的状态字段，无需跨任务锁。
type Scheduler struct {
	service *Service
	cfg     SchedulerConfig
	log     *logger.Logger
	cron    *cron.Cron
}

// NewScheduler 创建调度器
func NewScheduler(service *Service, cfg SchedulerConfig, log *logger.Logger) *Scheduler {
	if cfg.DailyCron == "" {
		cfg.DailyCron = DefaultSchedulerConfig.DailyCron
	}
	if cfg.HealthCron == "" {
		cfg.HealthCron = DefaultSchedulerConfig.HealthCron
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = DefaultSchedulerConfig.MaxAttempts
	}
	if log == nil {
		log = logger.New("reconciliation-scheduler", nil)
	}
	return &Scheduler{service: service, cfg: cfg, log: log}
}

// Start 注册任务并启动
func (s *Scheduler) Start(ctx context.Context) error {
	s.cron = cron.New()

	if _, err := s.cron.AddFunc(s.cfg.DailyCron, func() {
		s.runDaily(ctx)
	}); err != nil {
		return err
	}

	if _, err := s.cron.AddFunc(s.cfg.HealthCron, func() {
		if ctx.Err() != nil {
			return
		}
		if err := s.service.HealthCheck(ctx); err != nil {
			s.log.WithError(err).Error("reconciliation health check failed")
		}
	}); err != nil {
		return err
	}

	s.cron.Start()
	return nil
}

// Stop 停止调度，等待运行中的任务结束
func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// runDaily 每日全量对账，失败时有限重试
func (s *Scheduler) runDaily(ctx context.Context) {
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return
		}

		result, err := s.service.Reconcile(ctx, PendingScope())
		if err != nil {
			s.log.WithError(err).Warnf("scheduled reconciliation attempt failed", map[string]interface{}{
				"attempt": attempt,
			})
		} else if result.UnreadableScope() {
			// 空的 FAILED 结果表示账本不可读，重试
			s.log.Warnf("scheduled reconciliation could not read ledger", map[string]interface{}{
				"reconciliationId": result.ReconciliationID,
				"attempt":          attempt,
			})
		} else {
			// 业务性 FAILED（全部不符）是对账结论，不重跑
			if result.Status == StatusFailed {
				s.log.Warnf("scheduled reconciliation found mismatches only", map[string]interface{}{
					"reconciliationId": result.ReconciliationID,
					"mismatches":       len(result.Mismatches),
					"attempt":          attempt,
				})
			} else {
				s.log.Infof("scheduled reconciliation completed", map[string]interface{}{
					"reconciliationId": result.ReconciliationID,
					"status":           result.Status,
					"attempt":          attempt,
				})
			}
			return
		}

		if attempt < s.cfg.MaxAttempts {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.cfg.RetryDelay):
			}
		}
	}
	s.log.Error("scheduled reconciliation failed after max attempts")
}
