package mqhandler

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	mqcontract "alarmd/contracts/mq"
	"alarmd/internal/alarm"
	"alarmd/internal/model"
	"alarmd/pkg/logger"

	"go.uber.org/zap"
)

// Scheduler 注册器对外暴露的操作
type Scheduler interface {
	Schedule(ctx context.Context, req model.AlarmRequest) error
	Cancel(ctx context.Context, taskID string) error
}

// Publisher 发布 MQ 事件
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

type AlarmScheduleHandler struct {
	scheduler Scheduler
	publisher Publisher
	logger    *zap.Logger
}

func NewAlarmScheduleHandler(scheduler Scheduler, publisher Publisher, logger *zap.Logger) *AlarmScheduleHandler {
	return &AlarmScheduleHandler{
		scheduler: scheduler,
		publisher: publisher,
		logger:    logger,
	}
}

// Handle -- alarm.schedule：任务获得或修改了截止时间
func (h *AlarmScheduleHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	log := logger.WithTrace(ctx, h.logger)

	var p mqcontract.AlarmSchedulePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		log.Error("Failed to unmarshal alarm schedule payload", zap.Error(err))
		return err
	}

	kind, err := model.ParseKind(p.Kind)
	if err != nil {
		h.reportFailure(ctx, p.TaskID, &alarm.AlarmError{Kind: alarm.KindInvalidRequest, TaskID: p.TaskID, Err: err})
		return nil
	}

	req := model.AlarmRequest{
		TaskID:    p.TaskID,
		Title:     p.Title,
		TriggerAt: time.UnixMilli(p.TriggerAtMs),
		Kind:      kind,
	}
	err = h.scheduler.Schedule(ctx, req)
	if err == nil {
		return nil
	}

	// 注册表暂时不可用时交给 MQ 重投一次，其余失败直接反馈给 UI 层
	if errors.Is(err, alarm.ErrScheduleFailed) {
		log.Warn("Alarm registry unavailable, message will be retried",
			zap.String("task_id", p.TaskID),
			zap.Error(err),
		)
		return err
	}
	h.reportFailure(ctx, p.TaskID, err)
	return nil
}

func (h *AlarmScheduleHandler) reportFailure(ctx context.Context, taskID string, err error) {
	log := logger.WithTrace(ctx, h.logger)

	reason := string(alarm.KindOf(err))
	if reason == "" {
		reason = string(alarm.KindScheduleFailed)
	}
	log.Warn("Alarm schedule rejected",
		zap.String("task_id", taskID),
		zap.String("reason", reason),
		zap.Error(err),
	)

	failure := mqcontract.AlarmScheduleFailedPayload{
		TaskID: taskID,
		Reason: reason,
		Error:  err.Error(),
	}
	if perr := h.publisher.Publish(ctx, mqcontract.RoutingAlarmScheduleFailed, failure); perr != nil {
		log.Error("Failed to publish schedule failure",
			zap.String("task_id", taskID),
			zap.Error(perr),
		)
	}
}

type AlarmCancelHandler struct {
	scheduler Scheduler
	logger    *zap.Logger
}

func NewAlarmCancelHandler(scheduler Scheduler, logger *zap.Logger) *AlarmCancelHandler {
	return &AlarmCancelHandler{scheduler: scheduler, logger: logger}
}

// Handle -- alarm.cancel：任务完成、删除或清除了截止时间
func (h *AlarmCancelHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	var p mqcontract.AlarmCancelPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		h.logger.Error("Failed to unmarshal alarm cancel payload", zap.Error(err))
		return err
	}

	if err := h.scheduler.Cancel(ctx, p.TaskID); err != nil {
		logger.WithTrace(ctx, h.logger).Error("Failed to cancel alarm",
			zap.String("task_id", p.TaskID),
			zap.Error(err),
		)
		return err
	}
	return nil
}
