package salesflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"backend/internal/logger"
	"backend/internal/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Engine 销售项目工作流引擎
// 驱动 8 个步骤按序完成，维护 ProjectWorkflow 聚合与步骤台账，
// 状态变更落库后以意图列表的形式返回副作用（通知、库存扣减），
// 由调用方的队列基础设施异步执行。
//
// 并发模型：同一工作流的变更由进程内按 workflowID 的互斥锁串行化，
// 聚合上的 version 列做乐观锁兜底跨进程的并发写。
type Engine struct {
	db     *gorm.DB
	ledger *StepLedger
	logger *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// EngineOption 引擎自定义配置
type EngineOption func(*Engine)

// WithEngineLogger 注入自定义日志器
func WithEngineLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// NewEngine 创建工作流引擎
func NewEngine(db *gorm.DB, opts ...EngineOption) *Engine {
	e := &Engine{
		db:     db,
		ledger: NewStepLedger(db),
		logger: logger.Get(),
		locks:  make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Ledger 暴露台账（外部模块回写动作完成时使用）
func (e *Engine) Ledger() *StepLedger {
	return e.ledger
}

// lockFor 取出 workflowID 对应的互斥锁
func (e *Engine) lockFor(workflowID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[workflowID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[workflowID] = l
	}
	return l
}

// 各步骤完成后需要知会的角色
var stepOwnerRoles = map[int]string{
	StepSiteSurvey:      "sales",
	StepPresalesPricing: "presales",
	StepQuotation:       "sales",
	StepMissingItems:    "storage_manager",
	StepTenderAccept:    "sales_manager",
	StepExecution:       "execution_team",
	StepHandover:        "sales",
	StepCompletion:      "sales_manager",
}

// StartWorkflow 为项目创建工作流，currentStep=1，状态 IN_PROGRESS
// 项目已存在活跃工作流时返回 ErrAlreadyExists。
func (e *Engine) StartWorkflow(ctx context.Context, projectID, createdBy string) (*ProjectWorkflow, error) {
	if projectID == "" {
		return nil, fmt.Errorf("项目 ID 不能为空")
	}

	var count int64
	if err := e.db.WithContext(ctx).
		Model(&ProjectWorkflow{}).
		Where("project_id = ? AND active = ?", projectID, true).
		Count(&count).Error; err != nil {
		return nil, fmt.Errorf("查询既有工作流失败: %w", err)
	}
	if count > 0 {
		return nil, fmt.Errorf("%w: 项目 %s", ErrAlreadyExists, projectID)
	}

	now := time.Now().UTC()
	wf := &ProjectWorkflow{
		ID:          uuid.New().String(),
		ProjectID:   projectID,
		CurrentStep: StepSiteSurvey,
		Status:      StatusInProgress,
		Version:     1,
		Active:      true,
		CreatedBy:   createdBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(wf).Error; err != nil {
			return fmt.Errorf("创建工作流失败: %w", err)
		}
		// 步骤 1 的台账行随工作流一并创建
		if _, err := e.ledger.GetOrCreate(ctx, tx, wf.ID, projectID, StepSiteSurvey); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.WorkflowStartedTotal.Inc()
	e.logger.Info("工作流已创建",
		zap.String("workflow_id", wf.ID),
		zap.String("project_id", projectID),
		zap.String("created_by", createdBy),
	)
	return wf, nil
}

// CompleteStepPayload 完成步骤时的附加数据
type CompleteStepPayload struct {
	// 步骤 6 完成时由实施团队填写
	HasIssues       bool   `json:"has_issues"`
	CompletionNotes string `json:"completion_notes"`

	// 推进到下一步时生效：下一步的截止日期（仅步骤 6 使用）
	ExpectedCompletionDate *time.Time `json:"expected_completion_date"`

	// 推进到下一步时生效：下一步依赖外部模块上传数据
	NeedsExternalAction bool   `json:"needs_external_action"`
	ExternalModule      string `json:"external_module"`
}

// CompleteStepResult 完成步骤的结果与待执行的副作用意图
type CompleteStepResult struct {
	Workflow *ProjectWorkflow        `json:"workflow"`
	Step     *WorkflowStepCompletion `json:"step"`
	Intents  []Intent                `json:"intents"`
}

// CompleteStep 按序完成一个步骤
// stepNumber 必须等于 currentStep；步骤 4 额外要求所有缺料申请已终结
// （审批网关关闭），否则返回 ErrGateOpen，子流程循环期间步骤 4 保持打开。
// expectedVersion > 0 时校验乐观锁版本，不匹配返回 ErrConflict。
func (e *Engine) CompleteStep(ctx context.Context, workflowID string, stepNumber int, actor string, payload CompleteStepPayload, expectedVersion int) (*CompleteStepResult, error) {
	if !ValidStep(stepNumber) {
		return nil, fmt.Errorf("%w: 步骤编号 %d", ErrOutOfOrder, stepNumber)
	}

	lock := e.lockFor(workflowID)
	lock.Lock()
	defer lock.Unlock()

	var (
		wf      ProjectWorkflow
		row     *WorkflowStepCompletion
		intents []Intent
	)

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := loadActiveWorkflow(ctx, tx, workflowID, &wf); err != nil {
			return err
		}
		if wf.Status != StatusInProgress {
			return fmt.Errorf("%w: 状态 %s 不允许完成步骤", ErrInvalidTransition, wf.Status)
		}
		if expectedVersion > 0 && expectedVersion != wf.Version {
			return fmt.Errorf("%w: 期望版本 %d，当前版本 %d", ErrConflict, expectedVersion, wf.Version)
		}
		if stepNumber != wf.CurrentStep {
			return fmt.Errorf("%w: 当前步骤 %d，试图完成 %d", ErrOutOfOrder, wf.CurrentStep, stepNumber)
		}

		// 步骤 4 的审批网关：所有缺料申请终结后才允许关闭
		if stepNumber == StepMissingItems {
			var open int64
			if err := tx.Model(&MissingItemRequest{}).
				Where("workflow_id = ? AND approval_status NOT IN ?", workflowID,
					[]string{ApprovalFullyApproved, ApprovalRejected}).
				Count(&open).Error; err != nil {
				return fmt.Errorf("查询缺料申请失败: %w", err)
			}
			if open > 0 {
				return fmt.Errorf("%w: %d 条申请待审批", ErrGateOpen, open)
			}
		}

		var err error
		row, err = e.ledger.GetOrCreate(ctx, tx, wf.ID, wf.ProjectID, stepNumber)
		if err != nil {
			return err
		}
		if row.Completed {
			return fmt.Errorf("%w: 步骤 %d", ErrAlreadyCompleted, stepNumber)
		}

		now := time.Now().UTC()

		// 步骤 6 完成时记录实施团队的结项信息
		if stepNumber == StepExecution {
			if err := tx.Model(row).Updates(map[string]any{
				"has_issues":               payload.HasIssues,
				"project_completion_notes": payload.CompletionNotes,
			}).Error; err != nil {
				return fmt.Errorf("记录结项信息失败: %w", err)
			}
			row.HasIssues = payload.HasIssues
			row.ProjectCompletionNotes = payload.CompletionNotes
		}

		if err := e.ledger.MarkCompleted(ctx, tx, row, actor, now); err != nil {
			return err
		}

		updates := map[string]any{
			"version":    wf.Version + 1,
			"updated_at": now,
		}
		if stepNumber == StepCompletion {
			updates["status"] = StatusCompleted
			updates["completed_at"] = now
		} else {
			updates["current_step"] = stepNumber + 1
		}

		// 乐观锁写回：version 列 CAS，未命中即并发冲突
		res := tx.Model(&ProjectWorkflow{}).
			Where("id = ? AND version = ?", wf.ID, wf.Version).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("更新工作流失败: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: 工作流 %s", ErrConflict, wf.ID)
		}
		wf.Version++
		wf.UpdatedAt = now
		if stepNumber == StepCompletion {
			wf.Status = StatusCompleted
			wf.CompletedAt = &now
		} else {
			wf.CurrentStep = stepNumber + 1
		}

		// 惰性创建下一步的台账行，带上载荷里的步骤属性
		if stepNumber != StepCompletion {
			next, err := e.ledger.GetOrCreate(ctx, tx, wf.ID, wf.ProjectID, wf.CurrentStep)
			if err != nil {
				return err
			}
			nextUpdates := map[string]any{}
			if wf.CurrentStep == StepExecution && payload.ExpectedCompletionDate != nil {
				nextUpdates["expected_completion_date"] = *payload.ExpectedCompletionDate
				next.ExpectedCompletionDate = payload.ExpectedCompletionDate
			}
			if payload.NeedsExternalAction && payload.ExternalModule != "" {
				nextUpdates["needs_external_action"] = true
				nextUpdates["external_module"] = payload.ExternalModule
				next.NeedsExternalAction = true
				next.ExternalModule = payload.ExternalModule
			}
			if len(nextUpdates) > 0 {
				if err := tx.Model(next).Updates(nextUpdates).Error; err != nil {
					return fmt.Errorf("更新下一步台账行失败: %w", err)
				}
			}

			// 下一步依赖外部模块时知会该模块
			if next.NeedsExternalAction && next.ExternalModule != "" {
				intents = append(intents, NewNotifyIntent(NotifyIntent{
					TargetRole:  next.ExternalModule,
					Title:       "等待外部模块动作",
					Message:     fmt.Sprintf("项目 %s 的步骤「%s」等待 %s 模块上传数据", wf.ProjectID, StepName(wf.CurrentStep), next.ExternalModule),
					Priority:    "normal",
					RelatedType: "project_workflow",
					RelatedID:   wf.ID,
				}))
			}

			// 知会下一步的责任角色
			intents = append(intents, NewNotifyIntent(NotifyIntent{
				TargetRole:  stepOwnerRoles[wf.CurrentStep],
				Title:       "工作流步骤已推进",
				Message:     fmt.Sprintf("项目 %s 进入步骤「%s」", wf.ProjectID, StepName(wf.CurrentStep)),
				Priority:    "normal",
				RelatedType: "project_workflow",
				RelatedID:   wf.ID,
			}))
		} else {
			intents = append(intents, NewNotifyIntent(NotifyIntent{
				TargetRole:  stepOwnerRoles[StepCompletion],
				Title:       "项目工作流已完成",
				Message:     fmt.Sprintf("项目 %s 的全部 8 个步骤已完成", wf.ProjectID),
				Priority:    "normal",
				RelatedType: "project_workflow",
				RelatedID:   wf.ID,
			}))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.StepCompletedTotal.WithLabelValues(StepName(stepNumber)).Inc()
	e.logger.Info("步骤已完成",
		zap.String("workflow_id", wf.ID),
		zap.Int("step", stepNumber),
		zap.String("actor", actor),
		zap.Int("current_step", wf.CurrentStep),
		zap.String("status", wf.Status),
	)
	return &CompleteStepResult{Workflow: &wf, Step: row, Intents: intents}, nil
}

// RejectWorkflow 驳回工作流（唯一的终止路径）
// 仅 IN_PROGRESS 可驳回；驳回原因记录在步骤 5（标书受理）的台账行上，
// 已完成的步骤保留审计记录，不做回滚。COMPLETED 后驳回返回 ErrInvalidTransition。
func (e *Engine) RejectWorkflow(ctx context.Context, workflowID string, stepNumber int, reason, actor string, expectedVersion int) (*ProjectWorkflow, []Intent, error) {
	if !ValidStep(stepNumber) {
		return nil, nil, fmt.Errorf("%w: 步骤编号 %d", ErrOutOfOrder, stepNumber)
	}

	lock := e.lockFor(workflowID)
	lock.Lock()
	defer lock.Unlock()

	var wf ProjectWorkflow
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := loadActiveWorkflow(ctx, tx, workflowID, &wf); err != nil {
			return err
		}
		if wf.Status != StatusInProgress {
			return fmt.Errorf("%w: 状态 %s 不允许驳回", ErrInvalidTransition, wf.Status)
		}
		if expectedVersion > 0 && expectedVersion != wf.Version {
			return fmt.Errorf("%w: 期望版本 %d，当前版本 %d", ErrConflict, expectedVersion, wf.Version)
		}

		now := time.Now().UTC()
		// 驳回建模为发生在标书受理步骤
		row, err := e.ledger.GetOrCreate(ctx, tx, wf.ID, wf.ProjectID, StepTenderAccept)
		if err != nil {
			return err
		}
		if err := tx.Model(row).Updates(map[string]any{
			"rejection_reason": reason,
			"updated_at":       now,
		}).Error; err != nil {
			return fmt.Errorf("记录驳回原因失败: %w", err)
		}

		res := tx.Model(&ProjectWorkflow{}).
			Where("id = ? AND version = ?", wf.ID, wf.Version).
			Updates(map[string]any{
				"status":     StatusRejected,
				"version":    wf.Version + 1,
				"updated_at": now,
			})
		if res.Error != nil {
			return fmt.Errorf("驳回工作流失败: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: 工作流 %s", ErrConflict, wf.ID)
		}
		wf.Status = StatusRejected
		wf.Version++
		wf.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	metrics.WorkflowRejectedTotal.Inc()
	e.logger.Info("工作流已驳回",
		zap.String("workflow_id", wf.ID),
		zap.Int("step", stepNumber),
		zap.String("actor", actor),
		zap.String("reason", reason),
	)
	intents := []Intent{NewNotifyIntent(NotifyIntent{
		TargetRole:  "sales",
		Title:       "项目工作流已驳回",
		Message:     fmt.Sprintf("项目 %s 的工作流被驳回: %s", wf.ProjectID, reason),
		Priority:    "high",
		RelatedType: "project_workflow",
		RelatedID:   wf.ID,
	})}
	return &wf, intents, nil
}

// HoldWorkflow 挂起工作流（IN_PROGRESS → ON_HOLD），不影响步骤与台账
func (e *Engine) HoldWorkflow(ctx context.Context, workflowID, actor string) (*ProjectWorkflow, error) {
	return e.toggleHold(ctx, workflowID, actor, StatusInProgress, StatusOnHold)
}

// ResumeWorkflow 恢复工作流（ON_HOLD → IN_PROGRESS）
func (e *Engine) ResumeWorkflow(ctx context.Context, workflowID, actor string) (*ProjectWorkflow, error) {
	return e.toggleHold(ctx, workflowID, actor, StatusOnHold, StatusInProgress)
}

func (e *Engine) toggleHold(ctx context.Context, workflowID, actor, from, to string) (*ProjectWorkflow, error) {
	lock := e.lockFor(workflowID)
	lock.Lock()
	defer lock.Unlock()

	var wf ProjectWorkflow
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := loadActiveWorkflow(ctx, tx, workflowID, &wf); err != nil {
			return err
		}
		if wf.Status != from {
			return fmt.Errorf("%w: %s → %s 不允许", ErrInvalidTransition, wf.Status, to)
		}
		now := time.Now().UTC()
		res := tx.Model(&ProjectWorkflow{}).
			Where("id = ? AND version = ?", wf.ID, wf.Version).
			Updates(map[string]any{
				"status":     to,
				"version":    wf.Version + 1,
				"updated_at": now,
			})
		if res.Error != nil {
			return fmt.Errorf("变更工作流状态失败: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: 工作流 %s", ErrConflict, wf.ID)
		}
		wf.Status = to
		wf.Version++
		wf.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("工作流状态已变更",
		zap.String("workflow_id", wf.ID),
		zap.String("status", to),
		zap.String("actor", actor),
	)
	return &wf, nil
}

// StepState 步骤快照（由台账推导）
type StepState struct {
	StepNumber              int        `json:"step_number"`
	StepName                string     `json:"step_name"`
	Completed               bool       `json:"completed"`
	CompletedBy             string     `json:"completed_by,omitempty"`
	CompletedAt             *time.Time `json:"completed_at,omitempty"`
	NeedsExternalAction     bool       `json:"needs_external_action"`
	ExternalModule          string     `json:"external_module,omitempty"`
	ExternalActionCompleted bool       `json:"external_action_completed"`
	ExpectedCompletionDate  *time.Time `json:"expected_completion_date,omitempty"`
	IsDelayed               bool       `json:"is_delayed"`
	DangerAlarmSent         bool       `json:"danger_alarm_sent"`
}

// StatusSnapshot 工作流只读快照
type StatusSnapshot struct {
	WorkflowID  string      `json:"workflow_id"`
	ProjectID   string      `json:"project_id"`
	CurrentStep int         `json:"current_step"`
	Status      string      `json:"status"`
	Version     int         `json:"version"`
	CreatedAt   time.Time   `json:"created_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	Steps       []StepState `json:"steps"`
}

// GetStatus 读取工作流快照，步骤完成状态由台账行推导
func (e *Engine) GetStatus(ctx context.Context, workflowID string) (*StatusSnapshot, error) {
	var wf ProjectWorkflow
	if err := loadActiveWorkflow(ctx, e.db, workflowID, &wf); err != nil {
		return nil, err
	}

	rows, err := e.ledger.ListByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	byStep := make(map[int]*WorkflowStepCompletion, len(rows))
	for _, r := range rows {
		byStep[r.StepNumber] = r
	}

	snapshot := &StatusSnapshot{
		WorkflowID:  wf.ID,
		ProjectID:   wf.ProjectID,
		CurrentStep: wf.CurrentStep,
		Status:      wf.Status,
		Version:     wf.Version,
		CreatedAt:   wf.CreatedAt,
		CompletedAt: wf.CompletedAt,
		Steps:       make([]StepState, 0, StepCount),
	}
	for step := StepSiteSurvey; step <= StepCompletion; step++ {
		state := StepState{StepNumber: step, StepName: StepName(step)}
		if r, ok := byStep[step]; ok {
			state.Completed = r.Completed
			state.CompletedBy = r.CompletedBy
			state.CompletedAt = r.CompletedAt
			state.NeedsExternalAction = r.NeedsExternalAction
			state.ExternalModule = r.ExternalModule
			state.ExternalActionCompleted = r.ExternalActionCompleted
			state.ExpectedCompletionDate = r.ExpectedCompletionDate
			state.IsDelayed = r.IsDelayed
			state.DangerAlarmSent = r.DangerAlarmSent
		}
		snapshot.Steps = append(snapshot.Steps, state)
	}
	return snapshot, nil
}

// Archive 逻辑删除工作流（项目归档时调用，记录保留）
func (e *Engine) Archive(ctx context.Context, workflowID, actor string) error {
	lock := e.lockFor(workflowID)
	lock.Lock()
	defer lock.Unlock()

	res := e.db.WithContext(ctx).
		Model(&ProjectWorkflow{}).
		Where("id = ? AND active = ?", workflowID, true).
		Updates(map[string]any{
			"active":     false,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("归档工作流失败: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: 工作流 %s", ErrNotFound, workflowID)
	}
	e.logger.Info("工作流已归档", zap.String("workflow_id", workflowID), zap.String("actor", actor))
	return nil
}

// loadActiveWorkflow 读取活跃工作流，不存在返回 ErrNotFound
func loadActiveWorkflow(ctx context.Context, tx *gorm.DB, workflowID string, out *ProjectWorkflow) error {
	err := tx.WithContext(ctx).
		Where("id = ? AND active = ?", workflowID, true).
		First(out).Error
	if err == gorm.ErrRecordNotFound {
		return fmt.Errorf("%w: 工作流 %s", ErrNotFound, workflowID)
	}
	if err != nil {
		return fmt.Errorf("查询工作流失败: %w", err)
	}
	return nil
}
