package approval

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
		&salesflow.ProjectWorkflow{},
		&salesflow.MissingItemRequest{},
	))
	return db
}

func newTestGate(t *testing.T) (*Gate, *gorm.DB) {
	t.Helper()
	db := openTestDB(t)
	return NewGate(db, WithGateLogger(zap.NewNop())), db
}

func seedWorkflow(t *testing.T, db *gorm.DB, status string) *salesflow.ProjectWorkflow {
	t.Helper()
	wf := &salesflow.ProjectWorkflow{
		ID:          uuid.NewString(),
		ProjectID:   uuid.NewString(),
		CurrentStep: salesflow.StepMissingItems,
		Status:      status,
		Version:     1,
		Active:      true,
	}
	require.NoError(t, db.Create(wf).Error)
	return wf
}

func seedRequest(t *testing.T, g *Gate, db *gorm.DB) *salesflow.MissingItemRequest {
	t.Helper()
	wf := seedWorkflow(t, db, salesflow.StatusInProgress)
	req, intents, err := g.CreateRequest(context.Background(), &CreateRequestInput{
		WorkflowID:  wf.ID,
		ItemName:    "电缆",
		Quantity:    10,
		Urgency:     "high",
		RequestedBy: "sales-1",
	})
	require.NoError(t, err)
	require.Equal(t, salesflow.ApprovalPending, req.ApprovalStatus)
	// 两个审批角色都要被知会
	require.Len(t, intents, 2)
	return req
}

func TestComputeStatus(t *testing.T) {
	require.Equal(t, salesflow.ApprovalPending, computeStatus(false, false))
	require.Equal(t, salesflow.ApprovalByMaster, computeStatus(true, false))
	require.Equal(t, salesflow.ApprovalBySalesManager, computeStatus(false, true))
	require.Equal(t, salesflow.ApprovalFullyApproved, computeStatus(true, true))
}

func TestCreateRequestValidation(t *testing.T) {
	g, db := newTestGate(t)
	ctx := context.Background()

	_, _, err := g.CreateRequest(ctx, &CreateRequestInput{WorkflowID: "missing", ItemName: "电缆", Quantity: 1})
	require.ErrorIs(t, err, salesflow.ErrNotFound)

	// 工作流非 IN_PROGRESS 时不允许发起
	wf := seedWorkflow(t, db, salesflow.StatusOnHold)
	_, _, err = g.CreateRequest(ctx, &CreateRequestInput{WorkflowID: wf.ID, ItemName: "电缆", Quantity: 1})
	require.ErrorIs(t, err, salesflow.ErrInvalidTransition)
}

func TestApprovalOrderCommutes(t *testing.T) {
	orders := [][2]Role{
		{RoleMaster, RoleSalesManager},
		{RoleSalesManager, RoleMaster},
	}
	for _, order := range orders {
		g, db := newTestGate(t)
		ctx := context.Background()
		req := seedRequest(t, g, db)

		first, intents, err := g.RecordApproval(ctx, req.ID, order[0], "approver-a")
		require.NoError(t, err)
		require.False(t, first.Final())
		require.Empty(t, intents, "半签不应产出意图")

		second, intents, err := g.RecordApproval(ctx, req.ID, order[1], "approver-b")
		require.NoError(t, err)
		require.Equal(t, salesflow.ApprovalFullyApproved, second.ApprovalStatus)

		// 双签齐备时产出恰好一条库存扣减意图，requestID 作幂等键
		var deducts int
		for _, intent := range intents {
			if intent.Type == salesflow.IntentStorageDeduct {
				deducts++
				require.Equal(t, req.ID, intent.Deduct.RequestID)
				require.Equal(t, "电缆", intent.Deduct.ItemName)
				require.Equal(t, 10, intent.Deduct.Quantity)
			}
		}
		require.Equal(t, 1, deducts)
	}
}

func TestSameRoleApprovalIdempotent(t *testing.T) {
	g, db := newTestGate(t)
	ctx := context.Background()
	req := seedRequest(t, g, db)

	first, _, err := g.RecordApproval(ctx, req.ID, RoleMaster, "master-1")
	require.NoError(t, err)
	require.Equal(t, salesflow.ApprovalByMaster, first.ApprovalStatus)

	// 同一角色重复签核：状态不变，不报错，不产出意图
	again, intents, err := g.RecordApproval(ctx, req.ID, RoleMaster, "master-2")
	require.NoError(t, err)
	require.Equal(t, salesflow.ApprovalByMaster, again.ApprovalStatus)
	require.Empty(t, intents)
	require.Equal(t, "master-2", *again.ApprovedByMasterID)
}

func TestApprovalAfterFinal(t *testing.T) {
	g, db := newTestGate(t)
	ctx := context.Background()
	req := seedRequest(t, g, db)

	_, _, err := g.RecordApproval(ctx, req.ID, RoleMaster, "master-1")
	require.NoError(t, err)
	_, _, err = g.RecordApproval(ctx, req.ID, RoleSalesManager, "manager-1")
	require.NoError(t, err)

	// 终态之后的签核与驳回都被拒绝
	_, _, err = g.RecordApproval(ctx, req.ID, RoleMaster, "master-1")
	require.ErrorIs(t, err, salesflow.ErrAlreadyFinal)
	_, _, err = g.Reject(ctx, req.ID, "不需要了", "manager-1")
	require.ErrorIs(t, err, salesflow.ErrAlreadyFinal)
}

func TestRejectIsTerminal(t *testing.T) {
	g, db := newTestGate(t)
	ctx := context.Background()
	req := seedRequest(t, g, db)

	_, _, err := g.RecordApproval(ctx, req.ID, RoleMaster, "master-1")
	require.NoError(t, err)

	rejected, intents, err := g.Reject(ctx, req.ID, "库存充足", "manager-1")
	require.NoError(t, err)
	require.Equal(t, salesflow.ApprovalRejected, rejected.ApprovalStatus)
	require.Equal(t, "库存充足", rejected.RejectionReason)
	require.Len(t, intents, 1)

	// 驳回后另一方的签核也被拒绝
	_, _, err = g.RecordApproval(ctx, req.ID, RoleSalesManager, "manager-1")
	require.ErrorIs(t, err, salesflow.ErrAlreadyFinal)
}

func TestInvalidRole(t *testing.T) {
	g, db := newTestGate(t)
	req := seedRequest(t, g, db)

	_, _, err := g.RecordApproval(context.Background(), req.ID, Role("sales"), "sales-1")
	require.ErrorIs(t, err, salesflow.ErrInvalidRole)
}

func TestConfirmDelivery(t *testing.T) {
	g, db := newTestGate(t)
	ctx := context.Background()
	req := seedRequest(t, g, db)

	// 审批未通过时不能确认到货
	_, err := g.ConfirmDelivery(ctx, req.ID, "sales-1")
	require.ErrorIs(t, err, salesflow.ErrInvalidTransition)

	_, _, err = g.RecordApproval(ctx, req.ID, RoleMaster, "master-1")
	require.NoError(t, err)
	_, _, err = g.RecordApproval(ctx, req.ID, RoleSalesManager, "manager-1")
	require.NoError(t, err)

	confirmed, err := g.ConfirmDelivery(ctx, req.ID, "sales-1")
	require.NoError(t, err)
	require.True(t, confirmed.ItemDelivered)
	require.Equal(t, "sales-1", confirmed.DeliveryConfirmedBy)

	// 重复确认幂等，确认人不变
	again, err := g.ConfirmDelivery(ctx, req.ID, "sales-2")
	require.NoError(t, err)
	require.True(t, again.ItemDelivered)
	require.Equal(t, "sales-1", again.DeliveryConfirmedBy)
}

func TestListByWorkflow(t *testing.T) {
	g, db := newTestGate(t)
	ctx := context.Background()
	wf := seedWorkflow(t, db, salesflow.StatusInProgress)

	for i := 0; i < 3; i++ {
		_, _, err := g.CreateRequest(ctx, &CreateRequestInput{
			WorkflowID:  wf.ID,
			ItemName:    fmt.Sprintf("物料-%d", i),
			Quantity:    i + 1,
			RequestedBy: "sales-1",
		})
		require.NoError(t, err)
	}

	reqs, err := g.ListByWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	require.Len(t, reqs, 3)
}
