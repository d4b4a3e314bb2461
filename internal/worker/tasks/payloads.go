package tasks

import "backend/internal/salesflow"

// Task Types
const (
	TypeDispatchIntent = "salesflow:dispatch_intent"
	TypeDelayScan      = "salesflow:delay_scan"
)

// DispatchIntentPayload 副作用意图分发任务载荷
type DispatchIntentPayload struct {
	Intent salesflow.Intent `json:"intent"`
}

// DelayScanPayload 延期扫描任务载荷（周期任务，无参数）
type DelayScanPayload struct{}
