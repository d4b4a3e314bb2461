package salesflow

import (
	"backend/internal/auth"
	"backend/internal/common"
	"backend/internal/infra/queue"
	"backend/internal/logger"
	"backend/internal/salesflow"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// WorkflowHandler 项目工作流 Handler
type WorkflowHandler struct {
	engine      *salesflow.Engine
	queueClient queue.Client
}

// NewWorkflowHandler 创建 WorkflowHandler 实例
func NewWorkflowHandler(engine *salesflow.Engine, queueClient queue.Client) *WorkflowHandler {
	return &WorkflowHandler{engine: engine, queueClient: queueClient}
}

// StartWorkflow 为项目启动销售工作流
func (h *WorkflowHandler) StartWorkflow(c *gin.Context) {
	var req StartWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ResponseBadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	wf, err := h.engine.StartWorkflow(c.Request.Context(), req.ProjectID, actorID(c))
	if err != nil {
		responseDomainError(c, err)
		return
	}

	common.ResponseCreated(c, wf)
}

// CompleteStep 完成当前步骤并推进工作流
func (h *WorkflowHandler) CompleteStep(c *gin.Context) {
	workflowID := c.Param("id")

	var req CompleteStepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ResponseBadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	payload := salesflow.CompleteStepPayload{
		HasIssues:              req.HasIssues,
		CompletionNotes:        req.CompletionNotes,
		ExpectedCompletionDate: req.ExpectedCompletionDate,
		NeedsExternalAction:    req.NeedsExternalAction,
		ExternalModule:         req.ExternalModule,
	}

	result, err := h.engine.CompleteStep(c.Request.Context(), workflowID, req.StepNumber, actorID(c), payload, req.ExpectedVersion)
	if err != nil {
		responseDomainError(c, err)
		return
	}

	dispatchIntents(h.queueClient, result.Intents)
	common.ResponseSuccess(c, result)
}

// RejectWorkflow 商务审核驳回，工作流进入终态
func (h *WorkflowHandler) RejectWorkflow(c *gin.Context) {
	workflowID := c.Param("id")

	var req RejectWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ResponseBadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	wf, intents, err := h.engine.RejectWorkflow(c.Request.Context(), workflowID, req.StepNumber, req.Reason, actorID(c), req.ExpectedVersion)
	if err != nil {
		responseDomainError(c, err)
		return
	}

	dispatchIntents(h.queueClient, intents)
	common.ResponseSuccess(c, wf)
}

// HoldWorkflow 挂起工作流
func (h *WorkflowHandler) HoldWorkflow(c *gin.Context) {
	wf, err := h.engine.HoldWorkflow(c.Request.Context(), c.Param("id"), actorID(c))
	if err != nil {
		responseDomainError(c, err)
		return
	}
	common.ResponseSuccess(c, wf)
}

// ResumeWorkflow 恢复挂起的工作流
func (h *WorkflowHandler) ResumeWorkflow(c *gin.Context) {
	wf, err := h.engine.ResumeWorkflow(c.Request.Context(), c.Param("id"), actorID(c))
	if err != nil {
		responseDomainError(c, err)
		return
	}
	common.ResponseSuccess(c, wf)
}

// GetStatus 查询工作流状态快照
func (h *WorkflowHandler) GetStatus(c *gin.Context) {
	snapshot, err := h.engine.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		responseDomainError(c, err)
		return
	}
	common.ResponseSuccess(c, snapshot)
}

// ArchiveWorkflow 归档终态工作流
func (h *WorkflowHandler) ArchiveWorkflow(c *gin.Context) {
	if err := h.engine.Archive(c.Request.Context(), c.Param("id"), actorID(c)); err != nil {
		responseDomainError(c, err)
		return
	}
	common.ResponseSuccessMessage(c, "工作流已归档", nil)
}

// CompleteExternalAction 外部模块动作完成回调（如售前模块上传报价数据）
func (h *WorkflowHandler) CompleteExternalAction(c *gin.Context) {
	workflowID := c.Param("id")

	var req ExternalActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ResponseBadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	if err := h.engine.Ledger().MarkExternalCompleted(c.Request.Context(), workflowID, req.StepNumber, actorID(c), timeNow()); err != nil {
		responseDomainError(c, err)
		return
	}
	common.ResponseSuccessMessage(c, "外部动作已记录", nil)
}

// actorID 从认证上下文中取操作人 ID
func actorID(c *gin.Context) string {
	if user := auth.GetUserContext(c); user != nil {
		return user.UserID
	}
	return ""
}

// dispatchIntents 将副作用意图投递到任务队列
// 状态变更已提交，入队失败只记录日志，由上层补偿
func dispatchIntents(queueClient queue.Client, intents []salesflow.Intent) {
	if len(intents) == 0 {
		return
	}
	if err := queueClient.EnqueueIntents(intents); err != nil {
		logger.Warn("副作用意图入队失败",
			zap.Int("count", len(intents)),
			zap.Error(err),
		)
	}
}
