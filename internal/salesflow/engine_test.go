package salesflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"backend/internal/logger"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestMain(m *testing.M) {
	if err := logger.Init("error", "console", "stdout"); err != nil {
		fmt.Printf("初始化测试日志失败: %v\n", err)
		os.Exit(1)
	}
	os.Exit(m.Run())
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&ProjectWorkflow{},
		&WorkflowStepCompletion{},
		&MissingItemRequest{},
	))
	return db
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return NewEngine(openTestDB(t), WithEngineLogger(zap.NewNop()))
}

// advanceTo 把工作流推进到目标步骤
func advanceTo(t *testing.T, e *Engine, workflowID string, targetStep int) {
	t.Helper()
	ctx := context.Background()
	for step := StepSiteSurvey; step < targetStep; step++ {
		_, err := e.CompleteStep(ctx, workflowID, step, "tester", CompleteStepPayload{}, 0)
		require.NoError(t, err, "推进到步骤 %d 失败", step+1)
	}
}

func TestStartWorkflow(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	wf, err := e.StartWorkflow(ctx, "project-1", "sales-1")
	require.NoError(t, err)
	require.Equal(t, StepSiteSurvey, wf.CurrentStep)
	require.Equal(t, StatusInProgress, wf.Status)
	require.Equal(t, 1, wf.Version)
	require.True(t, wf.Active)

	// 步骤 1 的台账行随工作流一并创建
	rows, err := e.Ledger().ListByWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, StepSiteSurvey, rows[0].StepNumber)
	require.False(t, rows[0].Completed)
}

func TestStartWorkflowDuplicate(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.StartWorkflow(ctx, "project-1", "sales-1")
	require.NoError(t, err)

	_, err = e.StartWorkflow(ctx, "project-1", "sales-2")
	require.ErrorIs(t, err, ErrAlreadyExists)
}

func TestCompleteStepOutOfOrder(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	wf, err := e.StartWorkflow(ctx, "project-1", "sales-1")
	require.NoError(t, err)

	_, err = e.CompleteStep(ctx, wf.ID, StepQuotation, "tester", CompleteStepPayload{}, 0)
	require.ErrorIs(t, err, ErrOutOfOrder)

	// 步骤 1 之后无法再次完成步骤 1
	_, err = e.CompleteStep(ctx, wf.ID, StepSiteSurvey, "tester", CompleteStepPayload{}, 0)
	require.NoError(t, err)
	_, err = e.CompleteStep(ctx, wf.ID, StepSiteSurvey, "tester", CompleteStepPayload{}, 0)
	require.ErrorIs(t, err, ErrOutOfOrder)
}

func TestCompleteStepAdvances(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	wf, err := e.StartWorkflow(ctx, "project-1", "sales-1")
	require.NoError(t, err)

	result, err := e.CompleteStep(ctx, wf.ID, StepSiteSurvey, "sales-1", CompleteStepPayload{}, wf.Version)
	require.NoError(t, err)
	require.Equal(t, StepPresalesPricing, result.Workflow.CurrentStep)
	require.Equal(t, 2, result.Workflow.Version)
	require.True(t, result.Step.Completed)
	require.Equal(t, "sales-1", result.Step.CompletedBy)
	require.NotEmpty(t, result.Intents, "推进后应产出通知意图")
}

func TestCompleteStepVersionConflict(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	wf, err := e.StartWorkflow(ctx, "project-1", "sales-1")
	require.NoError(t, err)

	_, err = e.CompleteStep(ctx, wf.ID, StepSiteSurvey, "tester", CompleteStepPayload{}, wf.Version+5)
	require.ErrorIs(t, err, ErrConflict)
}

func TestCompleteStepExternalAction(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	wf, err := e.StartWorkflow(ctx, "project-1", "sales-1")
	require.NoError(t, err)

	// 完成步骤 1 时声明步骤 2 依赖售前模块上传报价
	result, err := e.CompleteStep(ctx, wf.ID, StepSiteSurvey, "sales-1", CompleteStepPayload{
		NeedsExternalAction: true,
		ExternalModule:      "presales",
	}, 0)
	require.NoError(t, err)

	rows, err := e.Ledger().ListByWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	next := rows[1]
	require.Equal(t, StepPresalesPricing, next.StepNumber)
	require.True(t, next.NeedsExternalAction)
	require.Equal(t, "presales", next.ExternalModule)
	require.False(t, next.ExternalActionCompleted)

	// 外部模块和下一步责任角色都要被知会
	var targets []string
	for _, intent := range result.Intents {
		require.Equal(t, IntentNotify, intent.Type)
		targets = append(targets, intent.Notify.TargetRole)
	}
	require.Contains(t, targets, "presales")

	// 外部模块回写动作完成
	require.NoError(t, e.Ledger().MarkExternalCompleted(ctx, wf.ID, StepPresalesPricing, "presales-svc", time.Now().UTC()))
	snapshot, err := e.GetStatus(ctx, wf.ID)
	require.NoError(t, err)
	require.True(t, snapshot.Steps[StepPresalesPricing-1].ExternalActionCompleted)
}

func TestStepFourGate(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	wf, err := e.StartWorkflow(ctx, "project-1", "sales-1")
	require.NoError(t, err)
	advanceTo(t, e, wf.ID, StepMissingItems)

	// 未终结的缺料申请挡住步骤 4
	req := &MissingItemRequest{
		ID:             uuid.NewString(),
		WorkflowID:     wf.ID,
		ProjectID:      wf.ProjectID,
		ItemName:       "电缆",
		Quantity:       10,
		RequestedBy:    "sales-1",
		ApprovalStatus: ApprovalPending,
	}
	require.NoError(t, e.db.Create(req).Error)

	_, err = e.CompleteStep(ctx, wf.ID, StepMissingItems, "storage-1", CompleteStepPayload{}, 0)
	require.ErrorIs(t, err, ErrGateOpen)

	// 半签状态仍然挡住
	require.NoError(t, e.db.Model(req).Update("approval_status", ApprovalByMaster).Error)
	_, err = e.CompleteStep(ctx, wf.ID, StepMissingItems, "storage-1", CompleteStepPayload{}, 0)
	require.ErrorIs(t, err, ErrGateOpen)

	// 终结后网关关闭
	require.NoError(t, e.db.Model(req).Update("approval_status", ApprovalFullyApproved).Error)
	result, err := e.CompleteStep(ctx, wf.ID, StepMissingItems, "storage-1", CompleteStepPayload{}, 0)
	require.NoError(t, err)
	require.Equal(t, StepTenderAccept, result.Workflow.CurrentStep)
}

func TestFullRunCompletes(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	wf, err := e.StartWorkflow(ctx, "project-1", "sales-1")
	require.NoError(t, err)
	advanceTo(t, e, wf.ID, StepTenderAccept)

	// 完成步骤 5 时为实施步骤设置截止日期
	deadline := time.Now().UTC().Add(30 * 24 * time.Hour)
	_, err = e.CompleteStep(ctx, wf.ID, StepTenderAccept, "manager-1", CompleteStepPayload{
		ExpectedCompletionDate: &deadline,
	}, 0)
	require.NoError(t, err)

	// 步骤 6 完成时记录结项信息
	_, err = e.CompleteStep(ctx, wf.ID, StepExecution, "exec-1", CompleteStepPayload{
		HasIssues:       true,
		CompletionNotes: "现场调试遗留两处问题",
	}, 0)
	require.NoError(t, err)

	_, err = e.CompleteStep(ctx, wf.ID, StepHandover, "sales-1", CompleteStepPayload{}, 0)
	require.NoError(t, err)

	result, err := e.CompleteStep(ctx, wf.ID, StepCompletion, "manager-1", CompleteStepPayload{}, 0)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, result.Workflow.Status)
	require.NotNil(t, result.Workflow.CompletedAt)
	require.Len(t, result.Intents, 1)
	require.Equal(t, "sales_manager", result.Intents[0].Notify.TargetRole)

	snapshot, err := e.GetStatus(ctx, wf.ID)
	require.NoError(t, err)
	require.Len(t, snapshot.Steps, StepCount)
	for _, step := range snapshot.Steps {
		require.True(t, step.Completed, "步骤 %d 应已完成", step.StepNumber)
	}
	exec := snapshot.Steps[StepExecution-1]
	require.NotNil(t, exec.ExpectedCompletionDate)

	var execRow WorkflowStepCompletion
	require.NoError(t, e.db.Where("workflow_id = ? AND step_number = ?", wf.ID, StepExecution).First(&execRow).Error)
	require.True(t, execRow.HasIssues)
	require.Equal(t, "现场调试遗留两处问题", execRow.ProjectCompletionNotes)

	// 完成后任何操作都被拒绝
	_, _, err = e.RejectWorkflow(ctx, wf.ID, StepTenderAccept, "太贵", "manager-1", 0)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRejectWorkflow(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	wf, err := e.StartWorkflow(ctx, "project-1", "sales-1")
	require.NoError(t, err)
	advanceTo(t, e, wf.ID, StepTenderAccept)

	rejected, intents, err := e.RejectWorkflow(ctx, wf.ID, StepTenderAccept, "标书不合格", "manager-1", 0)
	require.NoError(t, err)
	require.Equal(t, StatusRejected, rejected.Status)
	require.Len(t, intents, 1)
	require.Equal(t, "sales", intents[0].Notify.TargetRole)

	// 驳回原因记录在步骤 5 的台账行上
	var row WorkflowStepCompletion
	require.NoError(t, e.db.Where("workflow_id = ? AND step_number = ?", wf.ID, StepTenderAccept).First(&row).Error)
	require.Equal(t, "标书不合格", row.RejectionReason)

	// 已完成的步骤保留审计记录
	rows, err := e.Ledger().ListByWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	for _, r := range rows {
		if r.StepNumber < StepTenderAccept {
			require.True(t, r.Completed)
		}
	}

	// 终态后不能继续推进
	_, err = e.CompleteStep(ctx, wf.ID, StepTenderAccept, "manager-1", CompleteStepPayload{}, 0)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestHoldAndResume(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	wf, err := e.StartWorkflow(ctx, "project-1", "sales-1")
	require.NoError(t, err)

	held, err := e.HoldWorkflow(ctx, wf.ID, "manager-1")
	require.NoError(t, err)
	require.Equal(t, StatusOnHold, held.Status)

	// 挂起期间不能推进
	_, err = e.CompleteStep(ctx, wf.ID, StepSiteSurvey, "tester", CompleteStepPayload{}, 0)
	require.ErrorIs(t, err, ErrInvalidTransition)

	// 重复挂起被拒绝
	_, err = e.HoldWorkflow(ctx, wf.ID, "manager-1")
	require.ErrorIs(t, err, ErrInvalidTransition)

	resumed, err := e.ResumeWorkflow(ctx, wf.ID, "manager-1")
	require.NoError(t, err)
	require.Equal(t, StatusInProgress, resumed.Status)

	_, err = e.CompleteStep(ctx, wf.ID, StepSiteSurvey, "tester", CompleteStepPayload{}, 0)
	require.NoError(t, err)
}

func TestArchiveWorkflow(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	wf, err := e.StartWorkflow(ctx, "project-1", "sales-1")
	require.NoError(t, err)

	require.NoError(t, e.Archive(ctx, wf.ID, "admin"))

	_, err = e.GetStatus(ctx, wf.ID)
	require.ErrorIs(t, err, ErrNotFound)

	// 归档后项目可以重新启动工作流
	_, err = e.StartWorkflow(ctx, "project-1", "sales-1")
	require.NoError(t, err)

	require.True(t, errors.Is(e.Archive(ctx, "missing", "admin"), ErrNotFound))
}

func TestGetStatusDerivedFromLedger(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	wf, err := e.StartWorkflow(ctx, "project-1", "sales-1")
	require.NoError(t, err)
	advanceTo(t, e, wf.ID, StepQuotation)

	snapshot, err := e.GetStatus(ctx, wf.ID)
	require.NoError(t, err)
	require.Equal(t, StepQuotation, snapshot.CurrentStep)
	require.Len(t, snapshot.Steps, StepCount)
	for _, step := range snapshot.Steps {
		if step.StepNumber < StepQuotation {
			require.True(t, step.Completed, "步骤 %d 应已完成", step.StepNumber)
		} else {
			require.False(t, step.Completed, "步骤 %d 不应完成", step.StepNumber)
		}
	}
}
