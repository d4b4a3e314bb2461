package delay

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"backend/internal/logger"
	"backend/internal/salesflow"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
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
		&salesflow.ProjectWorkflow{},
		&salesflow.WorkflowStepCompletion{},
	))
	return db
}

func seedExecutionRow(t *testing.T, db *gorm.DB, deadline *time.Time, completed bool) *salesflow.WorkflowStepCompletion {
	t.Helper()
	row := &salesflow.WorkflowStepCompletion{
		ID:                     uuid.NewString(),
		WorkflowID:             uuid.NewString(),
		ProjectID:              uuid.NewString(),
		StepNumber:             salesflow.StepExecution,
		StepName:               salesflow.StepName(salesflow.StepExecution),
		Completed:              completed,
		ExpectedCompletionDate: deadline,
	}
	require.NoError(t, db.Create(row).Error)
	return row
}

func TestCheckDelayNotOverdue(t *testing.T) {
	db := openTestDB(t)
	m := NewMonitor(db)
	ctx := context.Background()
	now := time.Now().UTC()

	// 没有截止日期
	row := seedExecutionRow(t, db, nil, false)
	intent, err := m.CheckDelay(ctx, row, now)
	require.NoError(t, err)
	require.Nil(t, intent)

	// 截止日期未到
	future := now.Add(24 * time.Hour)
	row = seedExecutionRow(t, db, &future, false)
	intent, err = m.CheckDelay(ctx, row, now)
	require.NoError(t, err)
	require.Nil(t, intent)
	require.False(t, row.IsDelayed)
}

func TestCheckDelayAlarmsOnce(t *testing.T) {
	db := openTestDB(t)
	m := NewMonitor(db)
	ctx := context.Background()
	now := time.Now().UTC()

	past := now.Add(-24 * time.Hour)
	row := seedExecutionRow(t, db, &past, false)

	intent, err := m.CheckDelay(ctx, row, now)
	require.NoError(t, err)
	require.NotNil(t, intent)
	require.Equal(t, salesflow.IntentNotify, intent.Type)
	require.Equal(t, "sales_manager", intent.Notify.TargetRole)
	require.Equal(t, "danger", intent.Notify.Priority)
	require.True(t, row.IsDelayed)
	require.True(t, row.DangerAlarmSent)

	// 告警恰好一次：后续检查不再产出
	var reloaded salesflow.WorkflowStepCompletion
	require.NoError(t, db.Where("id = ?", row.ID).First(&reloaded).Error)
	require.True(t, reloaded.DangerAlarmSent)

	intent, err = m.CheckDelay(ctx, &reloaded, now.Add(time.Hour))
	require.NoError(t, err)
	require.Nil(t, intent)
}

func TestCheckDelaySkipsCompleted(t *testing.T) {
	db := openTestDB(t)
	m := NewMonitor(db)
	ctx := context.Background()
	now := time.Now().UTC()

	// 迟到的完成是既成事实，不再告警
	past := now.Add(-24 * time.Hour)
	row := seedExecutionRow(t, db, &past, true)

	intent, err := m.CheckDelay(ctx, row, now)
	require.NoError(t, err)
	require.Nil(t, intent)
	require.False(t, row.IsDelayed)
}

func TestCheckDelayConcurrentCAS(t *testing.T) {
	db := openTestDB(t)
	m := NewMonitor(db)
	ctx := context.Background()
	now := time.Now().UTC()

	past := now.Add(-24 * time.Hour)
	row := seedExecutionRow(t, db, &past, false)

	// 模拟另一实例抢先置位
	stale := *row
	first, err := m.CheckDelay(ctx, row, now)
	require.NoError(t, err)
	require.NotNil(t, first)

	// 旧快照再次检查：CAS 未命中，不重复告警
	second, err := m.CheckDelay(ctx, &stale, now)
	require.NoError(t, err)
	require.Nil(t, second)
}
