package worker

import (
	"context"
	"fmt"

	"backend/internal/config"
	"backend/internal/infra/queue"
	"backend/internal/notification"
	"backend/internal/salesflow/delay"
	"backend/internal/storage"
	"backend/internal/worker/handlers"
	"backend/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Server 队列 Worker 服务器
type Server struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	logger *zap.Logger
}

// NewServer 创建 Worker 服务器并注册任务处理器
func NewServer(
	cfg config.RedisConfig,
	notifier *notification.Service,
	storageLedger *storage.Ledger,
	scanner *delay.Scanner,
	queueClient queue.Client,
	logger *zap.Logger,
) *Server {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Password: cfg.Password,
			DB:       cfg.DB,
		},
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"intents": 6, // 意图分发优先级高
				"default": 1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("任务执行失败",
					zap.String("type", task.Type()),
					zap.Error(err),
				)
			}),
		},
	)

	mux := asynq.NewServeMux()

	// 注册意图分发处理器
	intentHandler := handlers.NewIntentHandler(notifier, storageLedger, logger)
	mux.HandleFunc(tasks.TypeDispatchIntent, intentHandler.HandleDispatchIntent)

	// 注册延期扫描处理器
	delayHandler := handlers.NewDelayHandler(scanner, queueClient, logger)
	mux.HandleFunc(tasks.TypeDelayScan, delayHandler.HandleDelayScan)

	return &Server{
		server: srv,
		mux:    mux,
		logger: logger,
	}
}

// Run 启动 Worker 服务器
func (s *Server) Run() error {
	s.logger.Info("Worker 服务器启动中...")
	return s.server.Run(s.mux)
}

// Start 非阻塞启动
func (s *Server) Start() error {
	s.logger.Info("Worker 服务器启动中 (后台)...")
	return s.server.Start(s.mux)
}

// Shutdown 停止 Worker 服务器
func (s *Server) Shutdown() {
	s.logger.Info("Worker 服务器停止中...")
	s.server.Shutdown()
}
