package worker

import (
	"fmt"
	"time"

	"backend/internal/config"
	"backend/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Scheduler 周期任务调度器
// 目前只有延期扫描一个周期任务；扫描侧的 redis 租约保证
// 多实例同时入队也只有一个实例真正执行扫描。
type Scheduler struct {
	scheduler *asynq.Scheduler
	logger    *zap.Logger
}

// NewScheduler 创建调度器并注册延期扫描任务
func NewScheduler(cfg config.RedisConfig, scanInterval time.Duration, logger *zap.Logger) (*Scheduler, error) {
	if scanInterval <= 0 {
		scanInterval = time.Hour
	}

	scheduler := asynq.NewScheduler(
		asynq.RedisClientOpt{
			Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Password: cfg.Password,
			DB:       cfg.DB,
		},
		&asynq.SchedulerOpts{},
	)

	task := asynq.NewTask(tasks.TypeDelayScan, nil)
	entryID, err := scheduler.Register(
		fmt.Sprintf("@every %s", scanInterval),
		task,
		asynq.Queue("default"),
		asynq.MaxRetry(0),
	)
	if err != nil {
		return nil, fmt.Errorf("注册延期扫描任务失败: %w", err)
	}

	logger.Info("延期扫描任务已注册",
		zap.String("entry_id", entryID),
		zap.Duration("interval", scanInterval),
	)
	return &Scheduler{scheduler: scheduler, logger: logger}, nil
}

// Start 非阻塞启动
func (s *Scheduler) Start() error {
	s.logger.Info("周期任务调度器启动中...")
	return s.scheduler.Start()
}

// Shutdown 停止调度器
func (s *Scheduler) Shutdown() {
	s.logger.Info("周期任务调度器停止中...")
	s.scheduler.Shutdown()
}
