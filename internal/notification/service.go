package notification

import (
	"context"
	"fmt"
	"time"

	"backend/internal/logger"
	"backend/internal/salesflow"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Service 通知服务
// 执行引擎产出的通知意图：落库为站内通知并打日志。
// 投递失败只在这里记录，永远不回传工作流引擎。
type Service struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewService 创建通知服务
func NewService(db *gorm.DB) *Service {
	return &Service{db: db, logger: logger.Get()}
}

// Dispatch 执行一条通知意图
func (s *Service) Dispatch(ctx context.Context, intent *salesflow.NotifyIntent) error {
	if intent == nil {
		return fmt.Errorf("通知意图为空")
	}
	if intent.TargetUserID == "" && intent.TargetRole == "" {
		return fmt.Errorf("通知缺少接收者")
	}

	n := &Notification{
		ID:           uuid.New().String(),
		TargetUserID: intent.TargetUserID,
		TargetRole:   intent.TargetRole,
		Title:        intent.Title,
		Message:      intent.Message,
		Priority:     intent.Priority,
		RelatedType:  intent.RelatedType,
		RelatedID:    intent.RelatedID,
		CreatedAt:    time.Now().UTC(),
	}
	if n.Priority == "" {
		n.Priority = "normal"
	}

	if err := s.db.WithContext(ctx).Create(n).Error; err != nil {
		return fmt.Errorf("写入通知失败: %w", err)
	}

	s.logger.Info("通知已投递",
		zap.String("notification_id", n.ID),
		zap.String("target_user", n.TargetUserID),
		zap.String("target_role", n.TargetRole),
		zap.String("title", n.Title),
		zap.String("priority", n.Priority),
	)
	return nil
}

// ListRequest 查询通知列表的过滤条件
type ListRequest struct {
	UserID     string
	Role       string
	UnreadOnly bool
	Limit      int
}

// List 查询通知（按用户或角色，创建时间降序）
func (s *Service) List(ctx context.Context, req *ListRequest) ([]*Notification, error) {
	query := s.db.WithContext(ctx).Model(&Notification{})
	if req.UserID != "" && req.Role != "" {
		query = query.Where("target_user_id = ? OR target_role = ?", req.UserID, req.Role)
	} else if req.UserID != "" {
		query = query.Where("target_user_id = ?", req.UserID)
	} else if req.Role != "" {
		query = query.Where("target_role = ?", req.Role)
	}
	if req.UnreadOnly {
		query = query.Where("read = ?", false)
	}
	limit := req.Limit
	if limit < 1 || limit > 200 {
		limit = 50
	}

	var list []*Notification
	if err := query.Order("created_at DESC").Limit(limit).Find(&list).Error; err != nil {
		return nil, fmt.Errorf("查询通知失败: %w", err)
	}
	return list, nil
}

// MarkRead 标记通知已读
func (s *Service) MarkRead(ctx context.Context, notificationID string) error {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).
		Model(&Notification{}).
		Where("id = ? AND read = ?", notificationID, false).
		Updates(map[string]any{
			"read":    true,
			"read_at": now,
		})
	if res.Error != nil {
		return fmt.Errorf("标记已读失败: %w", res.Error)
	}
	return nil
}
