// Package osalarm 是闹钟注册表，相当于操作系统的闹钟服务：按 RequestKey
// 保存精确、可唤醒的一次性触发器，到点把载荷交给展示入口。
package osalarm

import (
	"context"
	"strconv"
	"time"

	"alarmd/internal/model"
)

// RequestKey 由 taskID 确定性派生，同一任务的重复注册会覆盖而不是叠加。
// 64 位，不同任务之间实际上不会碰撞。
type RequestKey uint64

func (k RequestKey) String() string { return strconv.FormatUint(uint64(k), 10) }

// ParseRequestKey 解析 String() 的输出
func ParseRequestKey(s string) (RequestKey, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return RequestKey(n), nil
}

// Trigger 一个已注册的触发器
type Trigger struct {
	Key          RequestKey         `json:"key,string"`
	TriggerAt    time.Time          `json:"trigger_at"`
	Exact        bool               `json:"exact"`
	WakeFromIdle bool               `json:"wake_from_idle"`
	Payload      model.AlarmPayload `json:"payload"`
}

// FireFunc 闹钟到点时调用的展示入口
type FireFunc func(ctx context.Context, payload model.AlarmPayload)

// Service 闹钟注册表
type Service interface {
	// Register 注册触发器，同 key 的已有注册被替换
	Register(ctx context.Context, t Trigger) error
	// Cancel 注销 key 对应的闹钟，不存在时为 no-op
	Cancel(ctx context.Context, key RequestKey) error
	// InvalidateHandle 作废 key 对应的待触发句柄；作废后的句柄即使闹钟仍在也不会投递
	InvalidateHandle(ctx context.Context, key RequestKey) error
	// Pending 列出尚未触发的注册
	Pending(ctx context.Context) ([]Trigger, error)
}
