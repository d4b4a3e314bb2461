package delay

import (
	"context"
	"fmt"
	"time"

	"backend/internal/logger"
	"backend/internal/metrics"
	"backend/internal/salesflow"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Monitor 延期监控
// 比较步骤 6（项目实施）的截止日期与当前时间，超期时置位 isDelayed，
// 并一次性地产出危险告警意图（dangerAlarmSent 翻转 false→true 恰好一次）。
// 步骤已完成后永远不再触发，迟到的完成是既成事实而非持续告警条件。
type Monitor struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewMonitor 创建延期监控
func NewMonitor(db *gorm.DB) *Monitor {
	return &Monitor{db: db, logger: logger.Get()}
}

// CheckDelay 检查单条台账行是否超期，幂等
// 返回需要发送的告警意图，没有新告警时返回 nil。
func (m *Monitor) CheckDelay(ctx context.Context, row *salesflow.WorkflowStepCompletion, now time.Time) (*salesflow.Intent, error) {
	// 已完成的步骤不再告警
	if row.Completed {
		return nil, nil
	}
	if row.ExpectedCompletionDate == nil || !now.After(*row.ExpectedCompletionDate) {
		return nil, nil
	}

	updates := map[string]any{"updated_at": now}
	if !row.IsDelayed {
		updates["is_delayed"] = true
	}

	var intent *salesflow.Intent
	if !row.DangerAlarmSent {
		updates["danger_alarm_sent"] = true
		i := salesflow.NewNotifyIntent(salesflow.NotifyIntent{
			TargetRole:  "sales_manager",
			Title:       "项目实施延期告警",
			Message:     fmt.Sprintf("项目 %s 的实施步骤已超过截止日期 %s", row.ProjectID, row.ExpectedCompletionDate.Format("2006-01-02")),
			Priority:    "danger",
			RelatedType: "project_workflow",
			RelatedID:   row.WorkflowID,
		})
		intent = &i
	}

	if len(updates) == 1 {
		// 标记都已置位，纯粹的重复检查
		return nil, nil
	}

	// 告警标记的置位以 CAS 兜底多实例并发扫描：只有翻转成功的一方发告警
	q := m.db.WithContext(ctx).
		Model(&salesflow.WorkflowStepCompletion{}).
		Where("id = ? AND completed = ?", row.ID, false)
	if intent != nil {
		q = q.Where("danger_alarm_sent = ?", false)
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return nil, fmt.Errorf("更新延期标记失败: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// 另一实例已抢先置位
		return nil, nil
	}

	row.IsDelayed = true
	if intent != nil {
		row.DangerAlarmSent = true
		metrics.DangerAlarmTotal.Inc()
		m.logger.Warn("项目实施延期，已发出危险告警",
			zap.String("workflow_id", row.WorkflowID),
			zap.String("project_id", row.ProjectID),
			zap.Timep("expected_completion", row.ExpectedCompletionDate),
		)
	}
	return intent, nil
}
