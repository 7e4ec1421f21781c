// Package alarm 按任务 ID 注册/取消精确、可唤醒的一次性闹钟。
package alarm

import (
	"context"
	"encoding/binary"
	"strings"

	"alarmd/internal/credential"
	"alarmd/internal/model"
	"alarmd/internal/osalarm"
	"alarmd/pkg/clock"
	"alarmd/pkg/logger"
	"alarmd/pkg/metrics"

	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
)

// PermissionExactAlarm "schedule exact alarms" 权限名
const PermissionExactAlarm = "SCHEDULE_EXACT_ALARM"

// Scheduler 注入到 UI 桥接层的闹钟接口
type Scheduler interface {
	Schedule(ctx context.Context, req model.AlarmRequest) error
	Cancel(ctx context.Context, taskID string) error
}

// PermissionChecker 精确闹钟权限查询
type PermissionChecker interface {
	CanScheduleExactAlarms() bool
}

// TokenSource 返回当前权威会话 token（由认证层持有）
type TokenSource func(ctx context.Context) string

// Registrar Scheduler 的实现
type Registrar struct {
	service     osalarm.Service
	permissions PermissionChecker
	mirror      credential.Mirror
	tokens      TokenSource
	clock       clock.Clock
	logger      *zap.Logger
}

func NewRegistrar(
	service osalarm.Service,
	permissions PermissionChecker,
	mirror credential.Mirror,
	tokens TokenSource,
	c clock.Clock,
	logger *zap.Logger,
) *Registrar {
	return &Registrar{
		service:     service,
		permissions: permissions,
		mirror:      mirror,
		tokens:      tokens,
		clock:       c,
		logger:      logger,
	}
}

// RequestKeyFor 只由 taskID 决定的请求 key（BLAKE2b 摘要的前 64 位）
func RequestKeyFor(taskID string) osalarm.RequestKey {
	sum := blake2b.Sum256([]byte(taskID))
	return osalarm.RequestKey(binary.BigEndian.Uint64(sum[:8]))
}

// Schedule 先无条件取消旧闹钟；触发时间已过则只做取消；否则刷新 token 镜像并注册新闹钟
func (r *Registrar) Schedule(ctx context.Context, req model.AlarmRequest) error {
	log := logger.WithTrace(ctx, r.logger).With(zap.String("task_id", req.TaskID))

	if strings.TrimSpace(req.TaskID) == "" {
		metrics.RecordRegistration("schedule", "invalid")
		return &AlarmError{Kind: KindInvalidRequest, Err: ErrInvalidRequest}
	}
	if req.Kind == "" {
		req.Kind = model.KindTask
	}

	if err := r.Cancel(ctx, req.TaskID); err != nil {
		return err
	}

	now := r.clock.Now()
	if !req.TriggerAt.After(now) {
		log.Info("Trigger time already passed, alarm canceled only",
			zap.Time("trigger_at", req.TriggerAt),
			zap.Time("now", now),
		)
		metrics.RecordRegistration("schedule", "past_due")
		return nil
	}

	if r.permissions != nil && !r.permissions.CanScheduleExactAlarms() {
		log.Warn("Exact alarm permission not granted")
		metrics.RecordRegistration("schedule", "permission_denied")
		return &AlarmError{Kind: KindPermissionDenied, TaskID: req.TaskID, Permission: PermissionExactAlarm}
	}

	if r.tokens != nil {
		if token := r.tokens(ctx); token != "" {
			r.mirror.Write(ctx, token)
		}
	}

	taskID := req.TaskID
	trigger := osalarm.Trigger{
		Key:          RequestKeyFor(req.TaskID),
		TriggerAt:    req.TriggerAt,
		Exact:        true,
		WakeFromIdle: true,
		Payload: model.AlarmPayload{
			TaskID: &taskID,
			Title:  req.Title,
			Kind:   req.Kind,
		},
	}
	if err := r.service.Register(ctx, trigger); err != nil {
		log.Error("Failed to register alarm", zap.Error(err))
		metrics.RecordRegistration("schedule", "error")
		return &AlarmError{Kind: KindScheduleFailed, TaskID: req.TaskID, Err: err}
	}

	log.Info("Alarm scheduled",
		zap.String("title", req.Title),
		zap.String("kind", string(req.Kind)),
		zap.Time("trigger_at", req.TriggerAt),
		zap.Stringer("request_key", trigger.Key),
	)
	metrics.RecordRegistration("schedule", "registered")
	return nil
}

// Cancel 注销闹钟并作废待触发句柄；不存在时为 no-op
func (r *Registrar) Cancel(ctx context.Context, taskID string) error {
	key := RequestKeyFor(taskID)

	if err := r.service.Cancel(ctx, key); err != nil {
		metrics.RecordRegistration("cancel", "error")
		return &AlarmError{Kind: KindCancelFailed, TaskID: taskID, Err: err}
	}
	if err := r.service.InvalidateHandle(ctx, key); err != nil {
		metrics.RecordRegistration("cancel", "error")
		return &AlarmError{Kind: KindCancelFailed, TaskID: taskID, Err: err}
	}

	r.logger.Debug("Alarm canceled", zap.String("task_id", taskID), zap.Stringer("request_key", key))
	metrics.RecordRegistration("cancel", "canceled")
	return nil
}

// Pending 列出当前注册的闹钟
func (r *Registrar) Pending(ctx context.Context) ([]osalarm.Trigger, error) {
	return r.service.Pending(ctx)
}

// StaticPermissions 由配置决定的权限状态
type StaticPermissions struct {
	ExactAlarm     bool
	FullScreen     bool
	OverlayGranted bool
}

func (p StaticPermissions) CanScheduleExactAlarms() bool { return p.ExactAlarm }
func (p StaticPermissions) CanUseFullScreenIntent() bool { return p.FullScreen }
func (p StaticPermissions) CanDrawOverlays() bool        { return p.OverlayGranted }
