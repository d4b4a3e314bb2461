package salesflow

// 销售项目工作流的 8 个有序步骤
const (
	StepSiteSurvey      = 1 // 现场勘查
	StepPresalesPricing = 2 // 售前报价
	StepQuotation       = 3 // 出具报价单
	StepMissingItems    = 4 // 缺料处理（双人审批子流程）
	StepTenderAccept    = 5 // 标书受理
	StepExecution       = 6 // 项目实施（含截止日期与延期告警）
	StepHandover        = 7 // 项目交接
	StepCompletion      = 8 // 项目收尾
)

// StepCount 步骤总数
const StepCount = 8

var stepNames = map[int]string{
	StepSiteSurvey:      "site_survey",
	StepPresalesPricing: "presales_pricing",
	StepQuotation:       "quotation",
	StepMissingItems:    "missing_items",
	StepTenderAccept:    "tender_acceptance",
	StepExecution:       "project_execution",
	StepHandover:        "handover",
	StepCompletion:      "completion",
}

// StepName 返回步骤编号对应的名称，未知编号返回空串
func StepName(stepNumber int) string {
	return stepNames[stepNumber]
}

// ValidStep 步骤编号是否在 [1,8] 内
func ValidStep(stepNumber int) bool {
	return stepNumber >= StepSiteSurvey && stepNumber <= StepCompletion
}
