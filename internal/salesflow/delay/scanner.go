package delay

import (
	"context"
	"fmt"
	"time"

	"backend/internal/logger"
	"backend/internal/metrics"
	"backend/internal/salesflow"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// scanLeaseKey 扫描租约的 redis 键
const scanLeaseKey = "salesflow:delay_scan:lease"

// Scanner 周期性延期扫描
// 遍历所有 IN_PROGRESS 工作流中未完成且带截止日期的步骤 6 台账行。
// 多实例部署时通过 redis SETNX 租约保证同一轮扫描只有一个实例执行，
// 行上的 dangerAlarmSent 标记再兜底去重。
type Scanner struct {
	db       *gorm.DB
	monitor  *Monitor
	redis    redis.UniversalClient
	leaseTTL time.Duration
	logger   *zap.Logger
}

// NewScanner 创建扫描器；redisClient 为 nil 时跳过租约（单实例/测试）
func NewScanner(db *gorm.DB, redisClient redis.UniversalClient, leaseTTL time.Duration) *Scanner {
	if leaseTTL <= 0 {
		leaseTTL = 5 * time.Minute
	}
	return &Scanner{
		db:       db,
		monitor:  NewMonitor(db),
		redis:    redisClient,
		leaseTTL: leaseTTL,
		logger:   logger.Get(),
	}
}

// Scan 执行一轮扫描，返回本轮产出的告警意图
func (s *Scanner) Scan(ctx context.Context, now time.Time) ([]salesflow.Intent, error) {
	if !s.acquireLease(ctx) {
		s.logger.Debug("延期扫描租约被其他实例持有，跳过本轮")
		return nil, nil
	}

	start := time.Now()
	defer func() {
		metrics.DelayScanDuration.Observe(time.Since(start).Seconds())
	}()

	var rows []*salesflow.WorkflowStepCompletion
	err := s.db.WithContext(ctx).
		Model(&salesflow.WorkflowStepCompletion{}).
		Joins("JOIN project_workflows ON project_workflows.id = workflow_step_completions.workflow_id").
		Where("project_workflows.status = ? AND project_workflows.active = ?", salesflow.StatusInProgress, true).
		Where("workflow_step_completions.step_number = ?", salesflow.StepExecution).
		Where("workflow_step_completions.completed = ?", false).
		Where("workflow_step_completions.expected_completion_date IS NOT NULL").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("查询待扫描台账行失败: %w", err)
	}

	var intents []salesflow.Intent
	for _, row := range rows {
		intent, err := s.monitor.CheckDelay(ctx, row, now)
		if err != nil {
			// 单行失败不中断整轮扫描
			s.logger.Error("延期检查失败",
				zap.String("workflow_id", row.WorkflowID),
				zap.Error(err),
			)
			continue
		}
		if intent != nil {
			intents = append(intents, *intent)
		}
	}

	s.logger.Info("延期扫描完成",
		zap.Int("scanned", len(rows)),
		zap.Int("alarms", len(intents)),
	)
	return intents, nil
}

// acquireLease 抢占本轮扫描租约，redis 未配置时直接放行
func (s *Scanner) acquireLease(ctx context.Context) bool {
	if s.redis == nil {
		return true
	}
	ok, err := s.redis.SetNX(ctx, scanLeaseKey, time.Now().UTC().Format(time.RFC3339), s.leaseTTL).Result()
	if err != nil {
		// redis 故障时退化为无租约运行，行级标记仍保证告警不重复落库
		s.logger.Warn("获取扫描租约失败，退化为无租约执行", zap.Error(err))
		return true
	}
	return ok
}
