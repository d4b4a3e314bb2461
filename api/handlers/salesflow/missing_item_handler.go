package salesflow

import (
	"backend/internal/auth"
	"backend/internal/common"
	"backend/internal/infra/queue"
	"backend/internal/salesflow/approval"

	"github.com/gin-gonic/gin"
)

// MissingItemHandler 缺料申请 Handler
type MissingItemHandler struct {
	gate        *approval.Gate
	queueClient queue.Client
}

// NewMissingItemHandler 创建 MissingItemHandler 实例
func NewMissingItemHandler(gate *approval.Gate, queueClient queue.Client) *MissingItemHandler {
	return &MissingItemHandler{gate: gate, queueClient: queueClient}
}

// CreateRequest 销售在步骤 4 发现缺料时发起申请
func (h *MissingItemHandler) CreateRequest(c *gin.Context) {
	workflowID := c.Param("id")

	var req CreateMissingItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ResponseBadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	input := &approval.CreateRequestInput{
		WorkflowID:  workflowID,
		ProjectID:   req.ProjectID,
		ItemName:    req.ItemName,
		Quantity:    req.Quantity,
		Specs:       req.Specs,
		Urgency:     req.Urgency,
		RequestedBy: actorID(c),
	}

	created, intents, err := h.gate.CreateRequest(c.Request.Context(), input)
	if err != nil {
		responseDomainError(c, err)
		return
	}

	dispatchIntents(h.queueClient, intents)
	common.ResponseCreated(c, created)
}

// Approve 记录一方签核（库管或销售经理），双方齐备后触发库存扣减
func (h *MissingItemHandler) Approve(c *gin.Context) {
	requestID := c.Param("id")

	role, ok := approverRole(c)
	if !ok {
		common.ResponseError(c, common.CodeInvalidRole, "当前用户不具备审批角色")
		return
	}

	req, intents, err := h.gate.RecordApproval(c.Request.Context(), requestID, role, actorID(c))
	if err != nil {
		responseDomainError(c, err)
		return
	}

	dispatchIntents(h.queueClient, intents)
	common.ResponseSuccess(c, req)
}

// Reject 任一方驳回，申请进入终态
func (h *MissingItemHandler) Reject(c *gin.Context) {
	requestID := c.Param("id")

	var body RejectMissingItemRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		common.ResponseBadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	req, intents, err := h.gate.Reject(c.Request.Context(), requestID, body.Reason, actorID(c))
	if err != nil {
		responseDomainError(c, err)
		return
	}

	dispatchIntents(h.queueClient, intents)
	common.ResponseSuccess(c, req)
}

// ConfirmDelivery 销售确认物料已送达
func (h *MissingItemHandler) ConfirmDelivery(c *gin.Context) {
	req, err := h.gate.ConfirmDelivery(c.Request.Context(), c.Param("id"), actorID(c))
	if err != nil {
		responseDomainError(c, err)
		return
	}
	common.ResponseSuccess(c, req)
}

// GetRequest 查询单个缺料申请
func (h *MissingItemHandler) GetRequest(c *gin.Context) {
	req, err := h.gate.GetRequest(c.Request.Context(), c.Param("id"))
	if err != nil {
		responseDomainError(c, err)
		return
	}
	common.ResponseSuccess(c, req)
}

// ListByWorkflow 查询工作流下的全部缺料申请
func (h *MissingItemHandler) ListByWorkflow(c *gin.Context) {
	reqs, err := h.gate.ListByWorkflow(c.Request.Context(), c.Param("id"))
	if err != nil {
		responseDomainError(c, err)
		return
	}
	common.ResponseSuccess(c, reqs)
}

// approverRole 由认证用户的角色推导审批方，库管优先
func approverRole(c *gin.Context) (approval.Role, bool) {
	user := auth.GetUserContext(c)
	if user == nil {
		return "", false
	}
	if user.HasRole(string(approval.RoleMaster)) {
		return approval.RoleMaster, true
	}
	if user.HasRole(string(approval.RoleSalesManager)) {
		return approval.RoleSalesManager, true
	}
	return "", false
}
