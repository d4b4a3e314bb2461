package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"backend/internal/config"
	"backend/internal/salesflow"
	"backend/internal/worker/tasks"

	"github.com/hibiken/asynq"
)

// Client 任务队列客户端接口
// 工作流引擎的状态变更落库后，调用方通过这里把副作用意图推入队列，
// 投递语义为至少一次，下游执行方自行保证幂等。
type Client interface {
	EnqueueIntent(intent salesflow.Intent) error
	EnqueueIntents(intents []salesflow.Intent) error
	Close() error
}

type asynqClient struct {
	client *asynq.Client
}

// NewClient 创建任务队列客户端
func NewClient(cfg config.RedisConfig) Client {
	client := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &asynqClient{client: client}
}

func (c *asynqClient) EnqueueIntent(intent salesflow.Intent) error {
	payload, err := json.Marshal(tasks.DispatchIntentPayload{Intent: intent})
	if err != nil {
		return fmt.Errorf("marshal payload failed: %w", err)
	}

	task := asynq.NewTask(tasks.TypeDispatchIntent, payload)

	// 意图执行失败重试 3 次，超时 1 分钟
	_, err = c.client.Enqueue(task,
		asynq.MaxRetry(3),
		asynq.Timeout(time.Minute),
		asynq.Queue("intents"),
	)
	if err != nil {
		return fmt.Errorf("enqueue task failed: %w", err)
	}
	return nil
}

// EnqueueIntents 批量入队，单条失败不阻断其余
func (c *asynqClient) EnqueueIntents(intents []salesflow.Intent) error {
	var firstErr error
	for _, intent := range intents {
		if err := c.EnqueueIntent(intent); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *asynqClient) Close() error {
	return c.client.Close()
}
