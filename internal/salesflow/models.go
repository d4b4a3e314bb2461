package salesflow

import "time"

// 工作流状态
const (
	StatusInProgress = "IN_PROGRESS"
	StatusCompleted  = "COMPLETED"
	StatusRejected   = "REJECTED"
	StatusOnHold     = "ON_HOLD"
)

// 缺料申请审批状态
const (
	ApprovalPending        = "PENDING"
	ApprovalByMaster       = "APPROVED_BY_MASTER"
	ApprovalBySalesManager = "APPROVED_BY_SALES_MANAGER"
	ApprovalFullyApproved  = "FULLY_APPROVED"
	ApprovalRejected       = "REJECTED"
)

// ProjectWorkflow 销售项目工作流聚合（每个项目一条）
// 各步骤的完成状态以台账（WorkflowStepCompletion）为唯一事实来源，
// 查询时由台账推导，聚合上不再冗余存储布尔标记。
type ProjectWorkflow struct {
	ID        string `json:"id" gorm:"primaryKey;type:uuid"`
	ProjectID string `json:"projectId" gorm:"type:uuid;not null;uniqueIndex"`

	// 当前步骤 [1,8] 与状态
	CurrentStep int    `json:"currentStep" gorm:"not null;default:1"`
	Status      string `json:"status" gorm:"size:50;not null;default:IN_PROGRESS"`

	// 乐观锁版本号，调用方携带期望版本，冲突时拒绝写入
	Version int `json:"version" gorm:"not null;default:1"`

	// 软删除标记（项目归档时置为 false，记录永不物理删除）
	Active bool `json:"active" gorm:"not null;default:true"`

	CreatedBy   string     `json:"createdBy" gorm:"size:100"`
	CreatedAt   time.Time  `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt   time.Time  `json:"updatedAt" gorm:"not null;autoUpdateTime"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// WorkflowStepCompletion 步骤完成台账（每个工作流每步一条，审计记录不删除）
type WorkflowStepCompletion struct {
	ID         string `json:"id" gorm:"primaryKey;type:uuid"`
	WorkflowID string `json:"workflowId" gorm:"type:uuid;not null;uniqueIndex:idx_workflow_step,priority:1"`
	ProjectID  string `json:"projectId" gorm:"type:uuid;not null;index"`

	StepNumber int    `json:"stepNumber" gorm:"not null;uniqueIndex:idx_workflow_step,priority:2"`
	StepName   string `json:"stepName" gorm:"size:100;not null"`

	Completed   bool       `json:"completed" gorm:"not null;default:false"`
	CompletedBy string     `json:"completedBy" gorm:"size:100"`
	CompletedAt *time.Time `json:"completedAt"`

	// 外部动作子状态：步骤的完成依赖其他模块上传的数据（如售前报价）
	NeedsExternalAction     bool       `json:"needsExternalAction" gorm:"not null;default:false"`
	ExternalModule          string     `json:"externalModule" gorm:"size:100"`
	ExternalActionCompleted bool       `json:"externalActionCompleted" gorm:"not null;default:false"`
	ExternalCompletedBy     string     `json:"externalCompletedBy" gorm:"size:100"`
	ExternalCompletedAt     *time.Time `json:"externalCompletedAt"`

	// 步骤 5（标书受理）专用：驳回原因
	RejectionReason string `json:"rejectionReason" gorm:"type:text"`

	// 步骤 6（项目实施）专用：截止日期与延期告警
	ExpectedCompletionDate *time.Time `json:"expectedCompletionDate"`
	IsDelayed              bool       `json:"isDelayed" gorm:"not null;default:false"`
	DangerAlarmSent        bool       `json:"dangerAlarmSent" gorm:"not null;default:false"`

	// 步骤 6 完成时由实施团队填写
	HasIssues              bool   `json:"hasIssues" gorm:"not null;default:false"`
	ProjectCompletionNotes string `json:"projectCompletionNotes" gorm:"type:text"`

	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"not null;autoUpdateTime"`
}

// MissingItemRequest 缺料申请（挂在步骤 4 的双人审批子流程）
// approvalStatus 完全由两个审批槽位推导，REJECTED 为显式终态覆盖。
type MissingItemRequest struct {
	ID         string `json:"id" gorm:"primaryKey;type:uuid"`
	WorkflowID string `json:"workflowId" gorm:"type:uuid;not null;index"`
	ProjectID  string `json:"projectId" gorm:"type:uuid;not null;index"`

	// 物料信息
	ItemName string `json:"itemName" gorm:"size:255;not null"`
	Quantity int    `json:"quantity" gorm:"not null"`
	Specs    string `json:"specs" gorm:"type:text"`
	Urgency  string `json:"urgency" gorm:"size:50;default:normal"` // low, normal, high

	RequestedBy    string `json:"requestedBy" gorm:"size:100;not null"`
	ApprovalStatus string `json:"approvalStatus" gorm:"size:50;not null;default:PENDING"`

	// 两个独立审批槽位
	ApprovedByMasterID       *string    `json:"approvedByMasterId" gorm:"size:100"`
	ApprovedByMasterAt       *time.Time `json:"approvedByMasterAt"`
	ApprovedBySalesManagerID *string    `json:"approvedBySalesManagerId" gorm:"size:100"`
	ApprovedBySalesManagerAt *time.Time `json:"approvedBySalesManagerAt"`

	RejectionReason string `json:"rejectionReason" gorm:"type:text"`
	RejectedBy      string `json:"rejectedBy" gorm:"size:100"`

	// 到货确认是后置的独立变更，不会重新打开审批
	ItemDelivered       bool       `json:"itemDelivered" gorm:"not null;default:false"`
	DeliveryConfirmedBy string     `json:"deliveryConfirmedBy" gorm:"size:100"`
	DeliveryConfirmedAt *time.Time `json:"deliveryConfirmedAt"`

	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"not null;autoUpdateTime"`
}

// Final 审批是否已进入终态（FULLY_APPROVED 或 REJECTED）
func (r *MissingItemRequest) Final() bool {
	return r.ApprovalStatus == ApprovalFullyApproved || r.ApprovalStatus == ApprovalRejected
}
