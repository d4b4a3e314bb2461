package common

// APIResponse 统一API响应格式
type APIResponse struct {
	Success bool   `json:"success"`           // 是否成功
	Data    any    `json:"data,omitempty"`    // 响应数据
	Message string `json:"message,omitempty"` // 提示信息
	Code    int    `json:"code"`              // 业务状态码
}

// SuccessResponse 成功响应
func SuccessResponse(data any) APIResponse {
	return APIResponse{
		Success: true,
		Data:    data,
		Code:    CodeSuccess,
	}
}

// SuccessMessageResponse 成功响应（带消息）
func SuccessMessageResponse(message string, data any) APIResponse {
	return APIResponse{
		Success: true,
		Data:    data,
		Message: message,
		Code:    CodeSuccess,
	}
}

// ErrorResponse 错误响应
func ErrorResponse(code int, message string) APIResponse {
	return APIResponse{
		Success: false,
		Message: message,
		Code:    code,
	}
}

// ============================================================================
// 业务状态码定义
// ============================================================================

const (
	CodeSuccess = 0

	// 通用错误码 (1000-1999)
	CodeInvalidRequest = 1000 // 请求参数错误
	CodeUnauthorized   = 1001 // 未授权
	CodeForbidden      = 1002 // 禁止访问
	CodeNotFound       = 1003 // 资源不存在
	CodeConflict       = 1004 // 资源冲突
	CodeInternalError  = 1005 // 内部错误

	// 工作流相关错误码 (2000-2099)
	CodeWorkflowNotFound     = 2000 // 工作流不存在
	CodeStepOutOfOrder       = 2001 // 步骤顺序错误
	CodeStepAlreadyCompleted = 2002 // 步骤已完成
	CodeVersionConflict      = 2003 // 版本冲突，需刷新重试
	CodeInvalidTransition    = 2004 // 非法状态流转
	CodeGateOpen             = 2005 // 存在未关闭的缺料申请

	// 缺料审批相关错误码 (2100-2199)
	CodeRequestNotFound = 2100 // 缺料申请不存在
	CodeRequestFinal    = 2101 // 申请已进入终态
	CodeInvalidRole     = 2102 // 审批角色无效

	// 库存相关错误码 (2200-2299)
	CodeItemNotFound      = 2200 // 库存物品不存在
	CodeInsufficientStock = 2201 // 库存不足
)

// ErrorMessages 错误码对应的默认消息
var ErrorMessages = map[int]string{
	CodeSuccess:        "操作成功",
	CodeInvalidRequest: "请求参数错误",
	CodeUnauthorized:   "未授权，请先登录",
	CodeForbidden:      "无权限访问",
	CodeNotFound:       "资源不存在",
	CodeConflict:       "资源冲突",
	CodeInternalError:  "系统内部错误",

	CodeWorkflowNotFound:     "工作流不存在",
	CodeStepOutOfOrder:       "步骤必须按顺序完成",
	CodeStepAlreadyCompleted: "该步骤已完成",
	CodeVersionConflict:      "数据已被其他用户修改，请刷新后重试",
	CodeInvalidTransition:    "当前状态不允许该操作",
	CodeGateOpen:             "存在未关闭的缺料申请",

	CodeRequestNotFound: "缺料申请不存在",
	CodeRequestFinal:    "申请已进入终态",
	CodeInvalidRole:     "审批角色无效",

	CodeItemNotFound:      "库存物品不存在",
	CodeInsufficientStock: "库存不足",
}

// GetErrorMessage 获取错误码对应的消息
func GetErrorMessage(code int) string {
	if msg, ok := ErrorMessages[code]; ok {
		return msg
	}
	return "未知错误"
}

// BusinessError 业务错误
type BusinessError struct {
	Code    int
	Message string
}

// Error 实现error接口
func (e *BusinessError) Error() string {
	return e.Message
}

// NewBusinessError 创建业务错误
func NewBusinessError(code int, message string) *BusinessError {
	if message == "" {
		message = GetErrorMessage(code)
	}
	return &BusinessError{Code: code, Message: message}
}
