package notification

import (
	"context"
	"fmt"
	"os"
	"testing"

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
	require.NoError(t, db.AutoMigrate(&Notification{}))
	return db
}

func TestDispatchPersists(t *testing.T) {
	db := openTestDB(t)
	s := NewService(db)
	ctx := context.Background()

	err := s.Dispatch(ctx, &salesflow.NotifyIntent{
		TargetRole:  "sales_manager",
		Title:       "项目实施延期告警",
		Message:     "项目 X 超期",
		Priority:    "danger",
		RelatedType: "project_workflow",
		RelatedID:   "wf-1",
	})
	require.NoError(t, err)

	var n Notification
	require.NoError(t, db.First(&n).Error)
	require.Equal(t, "sales_manager", n.TargetRole)
	require.Equal(t, "danger", n.Priority)
	require.False(t, n.Read)
}

func TestDispatchValidation(t *testing.T) {
	s := NewService(openTestDB(t))
	ctx := context.Background()

	require.Error(t, s.Dispatch(ctx, nil))
	// 缺少接收者
	require.Error(t, s.Dispatch(ctx, &salesflow.NotifyIntent{Title: "无主通知"}))
}

func TestListFilters(t *testing.T) {
	db := openTestDB(t)
	s := NewService(db)
	ctx := context.Background()

	require.NoError(t, s.Dispatch(ctx, &salesflow.NotifyIntent{TargetUserID: "user-1", Title: "个人通知"}))
	require.NoError(t, s.Dispatch(ctx, &salesflow.NotifyIntent{TargetRole: "sales", Title: "角色通知"}))
	require.NoError(t, s.Dispatch(ctx, &salesflow.NotifyIntent{TargetRole: "master", Title: "他人通知"}))

	// 用户 + 角色：并集
	list, err := s.List(ctx, &ListRequest{UserID: "user-1", Role: "sales"})
	require.NoError(t, err)
	require.Len(t, list, 2)

	// 仅角色
	list, err = s.List(ctx, &ListRequest{Role: "master"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "他人通知", list[0].Title)
}

func TestMarkRead(t *testing.T) {
	db := openTestDB(t)
	s := NewService(db)
	ctx := context.Background()

	require.NoError(t, s.Dispatch(ctx, &salesflow.NotifyIntent{TargetUserID: "user-1", Title: "通知"}))
	var n Notification
	require.NoError(t, db.First(&n).Error)

	require.NoError(t, s.MarkRead(ctx, n.ID))

	var reloaded Notification
	require.NoError(t, db.Where("id = ?", n.ID).First(&reloaded).Error)
	require.True(t, reloaded.Read)
	require.NotNil(t, reloaded.ReadAt)

	// 已读过滤
	list, err := s.List(ctx, &ListRequest{UserID: "user-1", UnreadOnly: true})
	require.NoError(t, err)
	require.Empty(t, list)
}
