package mqhandler

import (
	"context"
	"encoding/json"

	mqcontract "alarmd/contracts/mq"
	"alarmd/internal/deletion"
	"alarmd/pkg/logger"

	"go.uber.org/zap"
)

// OnceGate 重复投递去重
type OnceGate interface {
	AcquireOnce(ctx context.Context, handler, id string) bool
}

type DeleteRequestedHandler struct {
	deleter deletion.TaskDeleter
	dedup   OnceGate
	logger  *zap.Logger
}

func NewDeleteRequestedHandler(deleter deletion.TaskDeleter, dedup OnceGate, logger *zap.Logger) *DeleteRequestedHandler {
	return &DeleteRequestedHandler{
		deleter: deleter,
		dedup:   dedup,
		logger:  logger,
	}
}

// Handle -- alarm.delete_requested：交给后台远程删除后立即确认，不阻塞消费者。
// 失败由删除组件自己记录。
func (h *DeleteRequestedHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	var p mqcontract.AlarmDeleteRequestedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		h.logger.Error("Failed to unmarshal delete requested payload", zap.Error(err))
		return err
	}
	if p.TaskID == "" {
		h.logger.Warn("Delete requested without task id, ignored")
		return nil
	}

	if h.dedup != nil && !h.dedup.AcquireOnce(ctx, "delete_requested", p.TaskID) {
		return nil
	}

	logger.WithTrace(ctx, h.logger).Info("Delete requested", zap.String("task_id", p.TaskID))
	h.deleter.GoFrom(ctx, p.TaskID)
	return nil
}
