package salesflow

import (
	"errors"
	"time"

	"backend/internal/common"
	"backend/internal/salesflow"

	"github.com/gin-gonic/gin"
)

// timeNow 可在测试中替换
var timeNow = time.Now

// StartWorkflowRequest 启动项目工作流请求
type StartWorkflowRequest struct {
	ProjectID string `json:"project_id" binding:"required"`
}

// CompleteStepRequest 完成步骤请求
type CompleteStepRequest struct {
	StepNumber      int  `json:"step_number" binding:"required,min=1,max=8"`
	ExpectedVersion int  `json:"expected_version" binding:"min=0"`
	HasIssues       bool `json:"has_issues"`

	CompletionNotes        string     `json:"completion_notes"`
	ExpectedCompletionDate *time.Time `json:"expected_completion_date"`
	NeedsExternalAction    bool       `json:"needs_external_action"`
	ExternalModule         string     `json:"external_module"`
}

// RejectWorkflowRequest 驳回工作流请求
type RejectWorkflowRequest struct {
	StepNumber      int    `json:"step_number" binding:"required,min=1,max=8"`
	Reason          string `json:"reason" binding:"required"`
	ExpectedVersion int    `json:"expected_version" binding:"min=0"`
}

// ExternalActionRequest 外部模块动作完成回调请求
type ExternalActionRequest struct {
	StepNumber int `json:"step_number" binding:"required,min=1,max=8"`
}

// CreateMissingItemRequest 创建缺料申请请求
type CreateMissingItemRequest struct {
	ProjectID string `json:"project_id" binding:"required"`
	ItemName  string `json:"item_name" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required,min=1"`
	Specs     string `json:"specs"`
	Urgency   string `json:"urgency"`
}

// RejectMissingItemRequest 驳回缺料申请请求
type RejectMissingItemRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// responseDomainError 将领域错误映射为业务状态码响应
func responseDomainError(c *gin.Context, err error) {
	code := common.CodeInternalError
	switch {
	case errors.Is(err, salesflow.ErrNotFound):
		code = common.CodeWorkflowNotFound
	case errors.Is(err, salesflow.ErrOutOfOrder):
		code = common.CodeStepOutOfOrder
	case errors.Is(err, salesflow.ErrAlreadyCompleted):
		code = common.CodeStepAlreadyCompleted
	case errors.Is(err, salesflow.ErrAlreadyExists):
		code = common.CodeConflict
	case errors.Is(err, salesflow.ErrConflict):
		code = common.CodeVersionConflict
	case errors.Is(err, salesflow.ErrInvalidTransition):
		code = common.CodeInvalidTransition
	case errors.Is(err, salesflow.ErrGateOpen):
		code = common.CodeGateOpen
	case errors.Is(err, salesflow.ErrAlreadyFinal):
		code = common.CodeRequestFinal
	case errors.Is(err, salesflow.ErrInvalidRole):
		code = common.CodeInvalidRole
	}
	common.ResponseError(c, code, err.Error())
}
