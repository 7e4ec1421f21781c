package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 闹钟注册/取消计数
	AlarmRegistrationCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alarm_registration_count",
			Help: "Total number of alarm registry operations",
		},
		[]string{"op", "result"}, // op: schedule, cancel; result: registered, past_due, canceled, permission_denied, error
	)

	// 闹钟触发计数
	AlarmFiredCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alarm_fired_count",
			Help: "Total number of alarms delivered to the presentation entry point",
		},
		[]string{"kind"},
	)

	// 闹钟触发延迟（毫秒）：实际触发时间 - 计划触发时间
	AlarmFireLag = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "alarm_fire_lag_ms",
			Help:    "Delay between scheduled and actual alarm delivery in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 12), // 10ms to ~40s
		},
	)

	// 展示结束计数
	PresentationOutcomeCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alarm_presentation_outcome_count",
			Help: "Total number of closed alarm presentations by outcome",
		},
		[]string{"outcome"},
	)

	// 远程删除请求计数
	TaskDeletionCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "task_deletion_count",
			Help: "Total number of remote task deletions by status",
		},
		[]string{"status"},
	)

	// 远程删除延迟（毫秒）
	TaskDeletionLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "task_deletion_latency_ms",
			Help:    "Remote task deletion latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 12),
		},
		[]string{"status"},
	)

	// Supervisor 重启计数
	SupervisorRestartCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supervisor_restart_count",
			Help: "Total number of background presence (re)starts",
		},
		[]string{"reason"}, // boot, ui_launched, stopped, task_removed, panic
	)

	// MQ 消费延迟（毫秒）
	MQConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_consume_latency_ms",
			Help:    "MQ message consumption latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10),
		},
		[]string{"routing_key", "queue"},
	)

	// HTTP 请求延迟（秒）
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"method", "path", "status"},
	)
)

// RecordRegistration 记录注册表操作
func RecordRegistration(op, result string) {
	AlarmRegistrationCount.WithLabelValues(op, result).Inc()
}

// RecordAlarmFired 记录闹钟触发及其延迟
func RecordAlarmFired(kind string, lag time.Duration) {
	AlarmFiredCount.WithLabelValues(kind).Inc()
	if lag < 0 {
		lag = 0
	}
	AlarmFireLag.Observe(float64(lag.Milliseconds()))
}

// RecordPresentationOutcome 记录展示结束方式
func RecordPresentationOutcome(outcome string) {
	PresentationOutcomeCount.WithLabelValues(outcome).Inc()
}

// RecordTaskDeletion 记录远程删除结果
func RecordTaskDeletion(status string, duration time.Duration) {
	TaskDeletionCount.WithLabelValues(status).Inc()
	TaskDeletionLatency.WithLabelValues(status).Observe(float64(duration.Milliseconds()))
}

// IncrementSupervisorRestart 增加 supervisor 启动计数
func IncrementSupervisorRestart(reason string) {
	SupervisorRestartCount.WithLabelValues(reason).Inc()
}

// RecordMQConsumeLatency 记录 MQ 消费延迟
func RecordMQConsumeLatency(routingKey, queue string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(routingKey, queue).Observe(float64(duration.Milliseconds()))
}

// RecordHTTPRequestDuration 记录 HTTP 请求延迟
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}
