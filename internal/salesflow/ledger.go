package salesflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// StepLedger 步骤完成台账，保证每个 (workflowID, stepNumber) 只有一行。
// 行在步骤首次被触达时惰性创建，审计需要，永不删除。
type StepLedger struct {
	db *gorm.DB
}

// NewStepLedger 创建 StepLedger 实例
func NewStepLedger(db *gorm.DB) *StepLedger {
	return &StepLedger{db: db}
}

// GetOrCreate 取出或惰性创建台账行
// 唯一索引 idx_workflow_step 兜底并发下的重复插入。
func (l *StepLedger) GetOrCreate(ctx context.Context, tx *gorm.DB, workflowID, projectID string, stepNumber int) (*WorkflowStepCompletion, error) {
	if !ValidStep(stepNumber) {
		return nil, fmt.Errorf("%w: 步骤编号 %d", ErrOutOfOrder, stepNumber)
	}
	if tx == nil {
		tx = l.db
	}

	var row WorkflowStepCompletion
	err := tx.WithContext(ctx).
		Where("workflow_id = ? AND step_number = ?", workflowID, stepNumber).
		First(&row).Error
	if err == nil {
		return &row, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, fmt.Errorf("查询台账行失败: %w", err)
	}

	row = WorkflowStepCompletion{
		ID:         uuid.New().String(),
		WorkflowID: workflowID,
		ProjectID:  projectID,
		StepNumber: stepNumber,
		StepName:   StepName(stepNumber),
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}
	if err := tx.WithContext(ctx).Create(&row).Error; err != nil {
		// 并发插入撞唯一索引时回退到已存在的行
		var existing WorkflowStepCompletion
		if qerr := tx.WithContext(ctx).
			Where("workflow_id = ? AND step_number = ?", workflowID, stepNumber).
			First(&existing).Error; qerr == nil {
			return &existing, nil
		}
		return nil, fmt.Errorf("创建台账行失败: %w", err)
	}
	return &row, nil
}

// MarkCompleted 将台账行标记为已完成
func (l *StepLedger) MarkCompleted(ctx context.Context, tx *gorm.DB, row *WorkflowStepCompletion, actor string, at time.Time) error {
	if row.Completed {
		return fmt.Errorf("%w: 步骤 %d", ErrAlreadyCompleted, row.StepNumber)
	}
	if tx == nil {
		tx = l.db
	}

	row.Completed = true
	row.CompletedBy = actor
	row.CompletedAt = &at
	row.UpdatedAt = at
	if err := tx.WithContext(ctx).Model(row).Updates(map[string]any{
		"completed":    true,
		"completed_by": actor,
		"completed_at": at,
		"updated_at":   at,
	}).Error; err != nil {
		return fmt.Errorf("更新台账行失败: %w", err)
	}
	return nil
}

// ListByWorkflow 返回某工作流的全部台账行（步骤升序）
func (l *StepLedger) ListByWorkflow(ctx context.Context, workflowID string) ([]*WorkflowStepCompletion, error) {
	var rows []*WorkflowStepCompletion
	if err := l.db.WithContext(ctx).
		Where("workflow_id = ?", workflowID).
		Order("step_number ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("查询台账失败: %w", err)
	}
	return rows, nil
}

// MarkExternalCompleted 记录外部模块动作完成（如售前模块上传报价数据）
func (l *StepLedger) MarkExternalCompleted(ctx context.Context, workflowID string, stepNumber int, actor string, at time.Time) error {
	res := l.db.WithContext(ctx).
		Model(&WorkflowStepCompletion{}).
		Where("workflow_id = ? AND step_number = ? AND needs_external_action = ?", workflowID, stepNumber, true).
		Updates(map[string]any{
			"external_action_completed": true,
			"external_completed_by":     actor,
			"external_completed_at":     at,
			"updated_at":                at,
		})
	if res.Error != nil {
		return fmt.Errorf("记录外部动作失败: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: 工作流 %s 步骤 %d", ErrNotFound, workflowID, stepNumber)
	}
	return nil
}
