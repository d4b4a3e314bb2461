package api

import (
	notificationHandlers "backend/api/handlers/notifications"
	salesflowHandlers "backend/api/handlers/salesflow"
	storageHandlers "backend/api/handlers/storage"
	"backend/internal/auth"
	"backend/internal/config"
	"backend/internal/infra"
	"backend/internal/infra/queue"
	"backend/internal/logger"
	"backend/internal/middleware"
	"backend/internal/notification"
	"backend/internal/salesflow"
	"backend/internal/salesflow/approval"
	"backend/internal/salesflow/delay"
	"backend/internal/storage"
	"backend/internal/worker"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// SetupRouter 设置并返回 Gin 路由和 Worker 服务器
func SetupRouter(db *gorm.DB, cfg *config.Config) (*gin.Engine, *worker.Server) {
	gin.SetMode(ginMode(cfg.Server.Mode))

	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestIDMiddleware(), RequestLogger(), CORS())
	router.Use(middleware.RateLimitMiddleware(middleware.NewRateLimiter(nil)))

	// 队列客户端：副作用意图经 Redis 队列异步执行
	queueClient := queue.NewClient(cfg.Redis)

	redisClient := infra.GetRedis()

	// 领域服务
	log := logger.Get()
	engine := salesflow.NewEngine(db, salesflow.WithEngineLogger(log))
	gate := approval.NewGate(db, approval.WithGateLogger(log))
	scanner := delay.NewScanner(db, redisClient, cfg.Workflow.GetDelayScanLeaseTTL())
	notifier := notification.NewService(db)
	storageLedger := storage.NewLedger(db)

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Issuer, redisClient)

	// Worker：消费意图队列和延期扫描任务
	workerServer := worker.NewServer(cfg.Redis, notifier, storageLedger, scanner, queueClient, log)

	registerRoutes(router, db, jwtService, &handlerSet{
		workflow:     salesflowHandlers.NewWorkflowHandler(engine, queueClient),
		missingItem:  salesflowHandlers.NewMissingItemHandler(gate, queueClient),
		notification: notificationHandlers.NewNotificationHandler(notifier),
		storage:      storageHandlers.NewStorageHandler(storageLedger),
	})

	return router, workerServer
}

func ginMode(mode string) string {
	switch mode {
	case "release":
		return gin.ReleaseMode
	case "test":
		return gin.TestMode
	default:
		return gin.DebugMode
	}
}
