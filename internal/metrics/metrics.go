package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 工作流指标
var (
	// WorkflowStartedTotal 创建的工作流总数
	WorkflowStartedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "salesflow_workflow_started_total",
			Help: "创建的项目工作流总数",
		},
	)

	// StepCompletedTotal 完成的步骤总数
	StepCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salesflow_step_completed_total",
			Help: "完成的工作流步骤总数",
		},
		[]string{"step_name"},
	)

	// WorkflowRejectedTotal 驳回的工作流总数
	WorkflowRejectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "salesflow_workflow_rejected_total",
			Help: "驳回的项目工作流总数",
		},
	)
)

// 审批指标
var (
	// ApprovalPendingGauge 待审批的缺料申请数量
	ApprovalPendingGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "salesflow_missing_item_pending",
			Help: "待审批的缺料申请数量",
		},
	)

	// ApprovalDecisionTotal 审批决定总数
	ApprovalDecisionTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salesflow_approval_decision_total",
			Help: "缺料申请审批决定总数",
		},
		[]string{"role", "result"},
	)
)

// 延期监控指标
var (
	// DangerAlarmTotal 发出的延期危险告警总数
	DangerAlarmTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "salesflow_danger_alarm_total",
			Help: "发出的延期危险告警总数",
		},
	)

	// DelayScanDuration 延期扫描耗时（秒）
	DelayScanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "salesflow_delay_scan_duration_seconds",
			Help:    "延期扫描耗时分布",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		},
	)
)

// 意图分发指标
var (
	// IntentDispatchedTotal 分发执行的副作用意图总数
	IntentDispatchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salesflow_intent_dispatched_total",
			Help: "分发执行的副作用意图总数",
		},
		[]string{"type", "status"},
	)
)
