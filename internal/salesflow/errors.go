package salesflow

import "errors"

// 工作流引擎的业务错误，校验全部发生在落库之前（validate-then-commit），
// 调用方通过 errors.Is 区分错误种类。
var (
	// ErrNotFound 工作流或申请不存在
	ErrNotFound = errors.New("记录不存在")
	// ErrOutOfOrder 步骤未按 1→8 顺序完成
	ErrOutOfOrder = errors.New("步骤顺序错误")
	// ErrAlreadyCompleted 步骤已标记完成
	ErrAlreadyCompleted = errors.New("步骤已完成")
	// ErrAlreadyFinal 审批已进入终态（FULLY_APPROVED / REJECTED）
	ErrAlreadyFinal = errors.New("审批已终结")
	// ErrInvalidRole 审批角色不在网关配置的两个角色内
	ErrInvalidRole = errors.New("无效的审批角色")
	// ErrAlreadyExists 项目已存在活跃工作流
	ErrAlreadyExists = errors.New("工作流已存在")
	// ErrInvalidTransition 当前状态不允许该操作（挂起/恢复/驳回）
	ErrInvalidTransition = errors.New("非法的状态变更")
	// ErrConflict 乐观锁版本不匹配
	ErrConflict = errors.New("版本冲突")
	// ErrGateOpen 步骤 4 仍有未终结的缺料申请，审批网关未关闭
	ErrGateOpen = errors.New("存在未终结的缺料申请")
)
