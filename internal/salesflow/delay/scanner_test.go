package delay

import (
	"context"
	"testing"
	"time"

	"backend/internal/salesflow"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func seedWorkflowWithExecution(t *testing.T, db *gorm.DB, status string, deadline time.Time) *salesflow.ProjectWorkflow {
	t.Helper()
	wf := &salesflow.ProjectWorkflow{
		ID:          uuid.NewString(),
		ProjectID:   uuid.NewString(),
		CurrentStep: salesflow.StepExecution,
		Status:      status,
		Version:     1,
		Active:      true,
	}
	require.NoError(t, db.Create(wf).Error)
	row := &salesflow.WorkflowStepCompletion{
		ID:                     uuid.NewString(),
		WorkflowID:             wf.ID,
		ProjectID:              wf.ProjectID,
		StepNumber:             salesflow.StepExecution,
		StepName:               salesflow.StepName(salesflow.StepExecution),
		ExpectedCompletionDate: &deadline,
	}
	require.NoError(t, db.Create(row).Error)
	return wf
}

func TestScanFindsOverdueRows(t *testing.T) {
	db := openTestDB(t)
	s := NewScanner(db, nil, 0)
	ctx := context.Background()
	now := time.Now().UTC()

	overdue := seedWorkflowWithExecution(t, db, salesflow.StatusInProgress, now.Add(-48*time.Hour))
	seedWorkflowWithExecution(t, db, salesflow.StatusInProgress, now.Add(48*time.Hour))
	// 挂起与驳回的工作流不在扫描范围
	seedWorkflowWithExecution(t, db, salesflow.StatusOnHold, now.Add(-48*time.Hour))
	seedWorkflowWithExecution(t, db, salesflow.StatusRejected, now.Add(-48*time.Hour))

	intents, err := s.Scan(ctx, now)
	require.NoError(t, err)
	require.Len(t, intents, 1)
	require.Equal(t, overdue.ID, intents[0].Notify.RelatedID)

	// 第二轮扫描不重复告警
	intents, err = s.Scan(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	require.Empty(t, intents)
}

func TestScanSkipsCompletedRows(t *testing.T) {
	db := openTestDB(t)
	s := NewScanner(db, nil, 0)
	ctx := context.Background()
	now := time.Now().UTC()

	wf := seedWorkflowWithExecution(t, db, salesflow.StatusInProgress, now.Add(-48*time.Hour))
	require.NoError(t, db.Model(&salesflow.WorkflowStepCompletion{}).
		Where("workflow_id = ?", wf.ID).
		Update("completed", true).Error)

	intents, err := s.Scan(ctx, now)
	require.NoError(t, err)
	require.Empty(t, intents)
}
