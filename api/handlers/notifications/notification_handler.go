package notifications

import (
	"strconv"

	"backend/internal/auth"
	"backend/internal/common"
	"backend/internal/notification"

	"github.com/gin-gonic/gin"
)

// NotificationHandler 站内通知 Handler
type NotificationHandler struct {
	service *notification.Service
}

// NewNotificationHandler 创建 NotificationHandler 实例
func NewNotificationHandler(service *notification.Service) *NotificationHandler {
	return &NotificationHandler{service: service}
}

// List 查询当前用户的通知，含按角色投递的通知
func (h *NotificationHandler) List(c *gin.Context) {
	req := &notification.ListRequest{
		Role:       c.Query("role"),
		UnreadOnly: c.Query("unread_only") == "true",
	}

	if user := auth.GetUserContext(c); user != nil {
		req.UserID = user.UserID
		// 未显式指定角色时按用户自身角色过滤
		if req.Role == "" && len(user.Roles) > 0 {
			req.Role = user.Roles[0]
		}
	}

	if limit := c.Query("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			req.Limit = n
		}
	}

	items, err := h.service.List(c.Request.Context(), req)
	if err != nil {
		common.ResponseServerError(c, err.Error())
		return
	}
	common.ResponseSuccess(c, items)
}

// MarkRead 标记通知为已读
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	if err := h.service.MarkRead(c.Request.Context(), c.Param("id")); err != nil {
		common.ResponseNotFound(c, err.Error())
		return
	}
	common.ResponseSuccessMessage(c, "已标记为已读", nil)
}
