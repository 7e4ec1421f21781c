package model

import (
	"fmt"
	"strings"
	"time"
)

// Kind 区分两类调用方：带截止时间的任务 / 日程事件。核心逻辑中不区分对待。
type Kind string

const (
	KindTask     Kind = "TASK"
	KindSchedule Kind = "SCHEDULE"
)

// ParseKind 解析 kind，空字符串默认为 TASK
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToUpper(strings.TrimSpace(s))) {
	case "", KindTask:
		return KindTask, nil
	case KindSchedule:
		return KindSchedule, nil
	default:
		return "", fmt.Errorf("unknown alarm kind %q", s)
	}
}

// AlarmRequest 一次闹钟注册请求，注册后由闹钟注册表持有
type AlarmRequest struct {
	TaskID    string
	Title     string
	TriggerAt time.Time
	Kind      Kind
}

// AlarmPayload 闹钟触发时交给展示入口的不透明载荷
type AlarmPayload struct {
	TaskID *string `json:"task_id"`
	Title  string  `json:"title"`
	Kind   Kind    `json:"kind"`
}

// TaskIDOrEmpty 便于日志输出
func (p AlarmPayload) TaskIDOrEmpty() string {
	if p.TaskID == nil {
		return ""
	}
	return *p.TaskID
}

// Outcome 展示结束的方式
type Outcome string

const (
	OutcomeDismissed       Outcome = "dismissed"
	OutcomeCompleted       Outcome = "completed"
	OutcomeTimedOut        Outcome = "timed_out"
	OutcomeExternalDismiss Outcome = "external_dismiss"
	OutcomeDestroyed       Outcome = "destroyed"
	OutcomeReplaced        Outcome = "replaced"
)

// AlarmRecord 一次展示的历史记录
type AlarmRecord struct {
	ID          int64     `json:"id"`
	TaskID      *string   `json:"task_id"`
	Title       string    `json:"title"`
	Kind        Kind      `json:"kind"`
	Outcome     Outcome   `json:"outcome"`
	PresentedAt time.Time `json:"presented_at"`
	ClosedAt    time.Time `json:"closed_at"`
}
