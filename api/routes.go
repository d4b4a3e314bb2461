package api

import (
	notificationHandlers "backend/api/handlers/notifications"
	salesflowHandlers "backend/api/handlers/salesflow"
	storageHandlers "backend/api/handlers/storage"
	"backend/internal/auth"
	"backend/internal/salesflow/approval"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

// handlerSet 路由挂载所需的全部 Handler
type handlerSet struct {
	workflow     *salesflowHandlers.WorkflowHandler
	missingItem  *salesflowHandlers.MissingItemHandler
	notification *notificationHandlers.NotificationHandler
	storage      *storageHandlers.StorageHandler
}

// registerRoutes 注册全部路由
func registerRoutes(router *gin.Engine, db *gorm.DB, jwtService *auth.JWTService, h *handlerSet) {
	// 系统端点，无需认证
	router.GET("/health", HealthCheck(db))
	router.GET("/ready", ReadinessCheck(db))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	api.Use(auth.AuthMiddleware(jwtService))

	workflows := api.Group("/workflows")
	{
		workflows.POST("", h.workflow.StartWorkflow)
		workflows.GET("/:id", h.workflow.GetStatus)
		workflows.POST("/:id/steps/complete", h.workflow.CompleteStep)
		workflows.POST("/:id/reject", auth.RequireRole(string(approval.RoleSalesManager)), h.workflow.RejectWorkflow)
		workflows.POST("/:id/hold", h.workflow.HoldWorkflow)
		workflows.POST("/:id/resume", h.workflow.ResumeWorkflow)
		workflows.POST("/:id/archive", h.workflow.ArchiveWorkflow)
		workflows.POST("/:id/external-actions", h.workflow.CompleteExternalAction)

		workflows.POST("/:id/missing-items", h.missingItem.CreateRequest)
		workflows.GET("/:id/missing-items", h.missingItem.ListByWorkflow)
	}

	missingItems := api.Group("/missing-items")
	{
		approverOnly := auth.RequireRole(string(approval.RoleMaster), string(approval.RoleSalesManager))
		missingItems.GET("/:id", h.missingItem.GetRequest)
		missingItems.POST("/:id/approve", approverOnly, h.missingItem.Approve)
		missingItems.POST("/:id/reject", approverOnly, h.missingItem.Reject)
		missingItems.POST("/:id/delivery", h.missingItem.ConfirmDelivery)
	}

	notifications := api.Group("/notifications")
	{
		notifications.GET("", h.notification.List)
		notifications.POST("/:id/read", h.notification.MarkRead)
	}

	api.GET("/storage/items/:name", h.storage.GetItem)
}
