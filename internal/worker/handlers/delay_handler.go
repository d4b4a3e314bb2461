package handlers

import (
	"context"
	"time"

	"backend/internal/infra/queue"
	"backend/internal/salesflow/delay"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// DelayHandler 延期扫描任务处理器
// 扫描产出的告警意图重新入队，与其他意图走同一条分发链路。
type DelayHandler struct {
	scanner *delay.Scanner
	queue   queue.Client
	logger  *zap.Logger
}

// NewDelayHandler 创建延期扫描处理器
func NewDelayHandler(scanner *delay.Scanner, queueClient queue.Client, logger *zap.Logger) *DelayHandler {
	return &DelayHandler{
		scanner: scanner,
		queue:   queueClient,
		logger:  logger,
	}
}

// HandleDelayScan 执行一轮延期扫描
func (h *DelayHandler) HandleDelayScan(ctx context.Context, task *asynq.Task) error {
	intents, err := h.scanner.Scan(ctx, time.Now().UTC())
	if err != nil {
		h.logger.Error("延期扫描失败", zap.Error(err))
		return err
	}
	if len(intents) == 0 {
		return nil
	}
	if err := h.queue.EnqueueIntents(intents); err != nil {
		// 告警标记已落库，入队失败只记录；下一轮扫描不会重复告警，
		// 漏发的告警由人工通过快照接口发现
		h.logger.Error("告警意图入队失败", zap.Error(err))
	}
	return nil
}
