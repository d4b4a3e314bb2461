package approval

import (
	"context"
	"fmt"
	"time"

	"backend/internal/logger"
	"backend/internal/metrics"
	"backend/internal/salesflow"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Role 审批角色
type Role string

const (
	// RoleMaster 仓库主管
	RoleMaster Role = "master"
	// RoleSalesManager 销售经理
	RoleSalesManager Role = "sales_manager"
)

// Gate 双人签核网关
// 两个独立审批槽位，approvalStatus 永远由槽位纯函数推导
// （而不是各处零散置位），REJECTED 是显式终态覆盖。
type Gate struct {
	db     *gorm.DB
	logger *zap.Logger
}

// GateOption 自定义配置
type GateOption func(*Gate)

// WithGateLogger 注入自定义日志器
func WithGateLogger(l *zap.Logger) GateOption {
	return func(g *Gate) { g.logger = l }
}

// NewGate 创建审批网关
func NewGate(db *gorm.DB, opts ...GateOption) *Gate {
	g := &Gate{
		db:     db,
		logger: logger.Get(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// computeStatus 由两个签核槽位推导审批状态（唯一事实来源）
func computeStatus(masterSet, salesManagerSet bool) string {
	switch {
	case masterSet && salesManagerSet:
		return salesflow.ApprovalFullyApproved
	case masterSet:
		return salesflow.ApprovalByMaster
	case salesManagerSet:
		return salesflow.ApprovalBySalesManager
	default:
		return salesflow.ApprovalPending
	}
}

// CreateRequestInput 创建缺料申请的输入
type CreateRequestInput struct {
	WorkflowID  string `json:"workflow_id"`
	ProjectID   string `json:"project_id"`
	ItemName    string `json:"item_name"`
	Quantity    int    `json:"quantity"`
	Specs       string `json:"specs"`
	Urgency     string `json:"urgency"`
	RequestedBy string `json:"requested_by"`
}

// CreateRequest 创建缺料申请（工作流处于步骤 4、销售发现缺料时发起）
func (g *Gate) CreateRequest(ctx context.Context, input *CreateRequestInput) (*salesflow.MissingItemRequest, []salesflow.Intent, error) {
	if input.ItemName == "" {
		return nil, nil, fmt.Errorf("物料名称不能为空")
	}
	if input.Quantity <= 0 {
		return nil, nil, fmt.Errorf("数量必须为正数")
	}
	if input.Urgency == "" {
		input.Urgency = "normal"
	}

	var wf salesflow.ProjectWorkflow
	err := g.db.WithContext(ctx).
		Where("id = ? AND active = ?", input.WorkflowID, true).
		First(&wf).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil, fmt.Errorf("%w: 工作流 %s", salesflow.ErrNotFound, input.WorkflowID)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("查询工作流失败: %w", err)
	}
	if wf.Status != salesflow.StatusInProgress {
		return nil, nil, fmt.Errorf("%w: 状态 %s 不允许发起缺料申请", salesflow.ErrInvalidTransition, wf.Status)
	}

	now := time.Now().UTC()
	req := &salesflow.MissingItemRequest{
		ID:             uuid.New().String(),
		WorkflowID:     input.WorkflowID,
		ProjectID:      wf.ProjectID,
		ItemName:       input.ItemName,
		Quantity:       input.Quantity,
		Specs:          input.Specs,
		Urgency:        input.Urgency,
		RequestedBy:    input.RequestedBy,
		ApprovalStatus: salesflow.ApprovalPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := g.db.WithContext(ctx).Create(req).Error; err != nil {
		return nil, nil, fmt.Errorf("创建缺料申请失败: %w", err)
	}

	metrics.ApprovalPendingGauge.Inc()
	g.logger.Info("缺料申请已创建",
		zap.String("request_id", req.ID),
		zap.String("workflow_id", req.WorkflowID),
		zap.String("item", req.ItemName),
		zap.Int("quantity", req.Quantity),
	)

	intents := []salesflow.Intent{
		salesflow.NewNotifyIntent(salesflow.NotifyIntent{
			TargetRole:  string(RoleMaster),
			Title:       "缺料申请待审批",
			Message:     fmt.Sprintf("项目 %s 申请物料「%s」x%d，等待双人审批", req.ProjectID, req.ItemName, req.Quantity),
			Priority:    req.Urgency,
			RelatedType: "missing_item_request",
			RelatedID:   req.ID,
		}),
		salesflow.NewNotifyIntent(salesflow.NotifyIntent{
			TargetRole:  string(RoleSalesManager),
			Title:       "缺料申请待审批",
			Message:     fmt.Sprintf("项目 %s 申请物料「%s」x%d，等待双人审批", req.ProjectID, req.ItemName, req.Quantity),
			Priority:    req.Urgency,
			RelatedType: "missing_item_request",
			RelatedID:   req.ID,
		}),
	}
	return req, intents, nil
}

// RecordApproval 记录一方签核
// 同一角色重复签核只刷新时间戳，状态不变也不报错；
// 终态（FULLY_APPROVED / REJECTED）后的签核返回 ErrAlreadyFinal；
// 双签齐备时转为 FULLY_APPROVED 并产出库存扣减意图（requestID 作幂等键）。
func (g *Gate) RecordApproval(ctx context.Context, requestID string, role Role, approverID string) (*salesflow.MissingItemRequest, []salesflow.Intent, error) {
	if role != RoleMaster && role != RoleSalesManager {
		return nil, nil, fmt.Errorf("%w: %s", salesflow.ErrInvalidRole, role)
	}

	var req salesflow.MissingItemRequest
	var intents []salesflow.Intent

	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := loadRequest(ctx, tx, requestID, &req); err != nil {
			return err
		}
		if req.Final() {
			return fmt.Errorf("%w: 状态 %s", salesflow.ErrAlreadyFinal, req.ApprovalStatus)
		}

		now := time.Now().UTC()
		updates := map[string]any{"updated_at": now}
		switch role {
		case RoleMaster:
			updates["approved_by_master_id"] = approverID
			updates["approved_by_master_at"] = now
			req.ApprovedByMasterID = &approverID
			req.ApprovedByMasterAt = &now
		case RoleSalesManager:
			updates["approved_by_sales_manager_id"] = approverID
			updates["approved_by_sales_manager_at"] = now
			req.ApprovedBySalesManagerID = &approverID
			req.ApprovedBySalesManagerAt = &now
		}

		// 每次变更后由槽位重新推导状态
		newStatus := computeStatus(req.ApprovedByMasterID != nil, req.ApprovedBySalesManagerID != nil)
		updates["approval_status"] = newStatus

		if err := tx.Model(&salesflow.MissingItemRequest{}).
			Where("id = ?", req.ID).
			Updates(updates).Error; err != nil {
			return fmt.Errorf("记录签核失败: %w", err)
		}
		req.ApprovalStatus = newStatus
		req.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	metrics.ApprovalDecisionTotal.WithLabelValues(string(role), "approved").Inc()
	g.logger.Info("缺料申请签核已记录",
		zap.String("request_id", req.ID),
		zap.String("role", string(role)),
		zap.String("approver", approverID),
		zap.String("status", req.ApprovalStatus),
	)

	if req.ApprovalStatus == salesflow.ApprovalFullyApproved {
		metrics.ApprovalPendingGauge.Dec()
		intents = append(intents,
			salesflow.NewStorageDeductIntent(req.ID, req.ItemName, req.Quantity),
			salesflow.NewNotifyIntent(salesflow.NotifyIntent{
				TargetUserID: req.RequestedBy,
				Title:        "缺料申请已通过",
				Message:      fmt.Sprintf("物料「%s」x%d 双签通过，库存即将扣减", req.ItemName, req.Quantity),
				Priority:     "normal",
				RelatedType:  "missing_item_request",
				RelatedID:    req.ID,
			}),
		)
	}
	return &req, intents, nil
}

// Reject 驳回缺料申请（显式终态覆盖，之后任何签核返回 ErrAlreadyFinal）
func (g *Gate) Reject(ctx context.Context, requestID, reason, actor string) (*salesflow.MissingItemRequest, []salesflow.Intent, error) {
	var req salesflow.MissingItemRequest
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := loadRequest(ctx, tx, requestID, &req); err != nil {
			return err
		}
		if req.Final() {
			return fmt.Errorf("%w: 状态 %s", salesflow.ErrAlreadyFinal, req.ApprovalStatus)
		}

		now := time.Now().UTC()
		if err := tx.Model(&salesflow.MissingItemRequest{}).
			Where("id = ?", req.ID).
			Updates(map[string]any{
				"approval_status":  salesflow.ApprovalRejected,
				"rejection_reason": reason,
				"rejected_by":      actor,
				"updated_at":       now,
			}).Error; err != nil {
			return fmt.Errorf("驳回缺料申请失败: %w", err)
		}
		req.ApprovalStatus = salesflow.ApprovalRejected
		req.RejectionReason = reason
		req.RejectedBy = actor
		req.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	metrics.ApprovalPendingGauge.Dec()
	metrics.ApprovalDecisionTotal.WithLabelValues("any", "rejected").Inc()
	g.logger.Info("缺料申请已驳回",
		zap.String("request_id", req.ID),
		zap.String("actor", actor),
		zap.String("reason", reason),
	)

	intents := []salesflow.Intent{salesflow.NewNotifyIntent(salesflow.NotifyIntent{
		TargetUserID: req.RequestedBy,
		Title:        "缺料申请被驳回",
		Message:      fmt.Sprintf("物料「%s」的申请被驳回: %s", req.ItemName, reason),
		Priority:     "high",
		RelatedType:  "missing_item_request",
		RelatedID:    req.ID,
	})}
	return &req, intents, nil
}

// ConfirmDelivery 确认物料到货（审批终结后的独立变更，不会重新打开审批）
func (g *Gate) ConfirmDelivery(ctx context.Context, requestID, actor string) (*salesflow.MissingItemRequest, error) {
	var req salesflow.MissingItemRequest
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := loadRequest(ctx, tx, requestID, &req); err != nil {
			return err
		}
		if req.ApprovalStatus != salesflow.ApprovalFullyApproved {
			return fmt.Errorf("%w: 仅 FULLY_APPROVED 的申请可确认到货", salesflow.ErrInvalidTransition)
		}
		if req.ItemDelivered {
			// 重复确认视为幂等
			return nil
		}

		now := time.Now().UTC()
		if err := tx.Model(&salesflow.MissingItemRequest{}).
			Where("id = ?", req.ID).
			Updates(map[string]any{
				"item_delivered":        true,
				"delivery_confirmed_by": actor,
				"delivery_confirmed_at": now,
				"updated_at":            now,
			}).Error; err != nil {
			return fmt.Errorf("确认到货失败: %w", err)
		}
		req.ItemDelivered = true
		req.DeliveryConfirmedBy = actor
		req.DeliveryConfirmedAt = &now
		req.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	g.logger.Info("缺料申请到货已确认",
		zap.String("request_id", req.ID),
		zap.String("actor", actor),
	)
	return &req, nil
}

// GetRequest 查询单条缺料申请
func (g *Gate) GetRequest(ctx context.Context, requestID string) (*salesflow.MissingItemRequest, error) {
	var req salesflow.MissingItemRequest
	if err := loadRequest(ctx, g.db, requestID, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// ListByWorkflow 查询某工作流的所有缺料申请（创建时间降序）
func (g *Gate) ListByWorkflow(ctx context.Context, workflowID string) ([]*salesflow.MissingItemRequest, error) {
	var reqs []*salesflow.MissingItemRequest
	if err := g.db.WithContext(ctx).
		Where("workflow_id = ?", workflowID).
		Order("created_at DESC").
		Find(&reqs).Error; err != nil {
		return nil, fmt.Errorf("查询缺料申请失败: %w", err)
	}
	return reqs, nil
}

func loadRequest(ctx context.Context, tx *gorm.DB, requestID string, out *salesflow.MissingItemRequest) error {
	err := tx.WithContext(ctx).Where("id = ?", requestID).First(out).Error
	if err == gorm.ErrRecordNotFound {
		return fmt.Errorf("%w: 缺料申请 %s", salesflow.ErrNotFound, requestID)
	}
	if err != nil {
		return fmt.Errorf("查询缺料申请失败: %w", err)
	}
	return nil
}
