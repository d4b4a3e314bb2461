package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"backend/internal/metrics"
	"backend/internal/notification"
	"backend/internal/salesflow"
	"backend/internal/storage"
	"backend/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// IntentHandler 副作用意图执行器
// 通知意图交给通知服务落库，库存扣减意图交给库存台账，
// 队列至少一次投递下依赖幂等键保证不重复扣减。
type IntentHandler struct {
	notifier *notification.Service
	ledger   *storage.Ledger
	logger   *zap.Logger
}

// NewIntentHandler 创建意图执行器
func NewIntentHandler(notifier *notification.Service, ledger *storage.Ledger, logger *zap.Logger) *IntentHandler {
	return &IntentHandler{
		notifier: notifier,
		ledger:   ledger,
		logger:   logger,
	}
}

// HandleDispatchIntent 处理意图分发任务
func (h *IntentHandler) HandleDispatchIntent(ctx context.Context, task *asynq.Task) error {
	var payload tasks.DispatchIntentPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload failed: %w", err)
	}
	intent := payload.Intent

	var err error
	switch intent.Type {
	case salesflow.IntentNotify:
		err = h.notifier.Dispatch(ctx, intent.Notify)
	case salesflow.IntentStorageDeduct:
		if intent.Deduct == nil {
			return fmt.Errorf("库存扣减意图缺少载荷")
		}
		err = h.ledger.Deduct(ctx, intent.Deduct.RequestID, intent.Deduct.ItemName, intent.Deduct.Quantity)
	default:
		// 未知类型不重试
		h.logger.Error("未知的意图类型", zap.String("type", string(intent.Type)))
		return nil
	}

	if err != nil {
		metrics.IntentDispatchedTotal.WithLabelValues(string(intent.Type), "failed").Inc()
		h.logger.Error("意图执行失败",
			zap.String("type", string(intent.Type)),
			zap.Error(err),
		)
		return err
	}

	metrics.IntentDispatchedTotal.WithLabelValues(string(intent.Type), "success").Inc()
	return nil
}
