package salesflow

// 副作用意图：引擎只负责产出意图，状态变更落库后由调用方基础设施
// （任务队列 worker）异步执行，失败不回传引擎。

// IntentType 意图类型
type IntentType string

const (
	// IntentNotify 发送站内/角色通知
	IntentNotify IntentType = "notify"
	// IntentStorageDeduct 扣减库存数量
	IntentStorageDeduct IntentType = "storage_deduct"
)

// Intent 副作用意图（可 JSON 序列化，直接作为队列任务载荷）
type Intent struct {
	Type   IntentType           `json:"type"`
	Notify *NotifyIntent        `json:"notify,omitempty"`
	Deduct *StorageDeductIntent `json:"deduct,omitempty"`
}

// NotifyIntent 通知意图，target 为用户或角色二选一
type NotifyIntent struct {
	TargetUserID string `json:"target_user_id,omitempty"`
	TargetRole   string `json:"target_role,omitempty"`
	Title        string `json:"title"`
	Message      string `json:"message"`
	Priority     string `json:"priority"` // low, normal, high, danger
	RelatedType  string `json:"related_type,omitempty"`
	RelatedID    string `json:"related_id,omitempty"`
}

// StorageDeductIntent 库存扣减意图
// RequestID 兼作幂等键，队列至少一次投递下重复执行安全。
type StorageDeductIntent struct {
	RequestID string `json:"request_id"`
	ItemName  string `json:"item_name"`
	Quantity  int    `json:"quantity"`
}

// NewNotifyIntent 构造通知意图
func NewNotifyIntent(n NotifyIntent) Intent {
	return Intent{Type: IntentNotify, Notify: &n}
}

// NewStorageDeductIntent 构造库存扣减意图
func NewStorageDeductIntent(requestID, itemName string, quantity int) Intent {
	return Intent{Type: IntentStorageDeduct, Deduct: &StorageDeductIntent{
		RequestID: requestID,
		ItemName:  itemName,
		Quantity:  quantity,
	}}
}
