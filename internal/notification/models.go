package notification

import "time"

// Notification 站内通知记录
// 通知意图由 worker 落库为站内通知，target 为用户或角色二选一。
type Notification struct {
	ID string `json:"id" gorm:"primaryKey;type:uuid"`

	TargetUserID string `json:"targetUserId" gorm:"size:100;index"`
	TargetRole   string `json:"targetRole" gorm:"size:100;index"`

	Title    string `json:"title" gorm:"size:255;not null"`
	Message  string `json:"message" gorm:"type:text"`
	Priority string `json:"priority" gorm:"size:50;not null;default:normal"` // low, normal, high, danger

	// 关联实体（工作流、缺料申请）
	RelatedType string `json:"relatedType" gorm:"size:100"`
	RelatedID   string `json:"relatedId" gorm:"size:100;index"`

	Read   bool       `json:"read" gorm:"not null;default:false"`
	ReadAt *time.Time `json:"readAt"`

	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime;index"`
}
