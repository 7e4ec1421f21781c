package httpserver

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"alarmd/internal/alarm"
	"alarmd/internal/credential"
	"alarmd/internal/dismissal"
	"alarmd/internal/model"
	"alarmd/internal/osalarm"
	"alarmd/internal/presentation"
	"alarmd/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AlarmService 注册器
type AlarmService interface {
	Schedule(ctx context.Context, req model.AlarmRequest) error
	Cancel(ctx context.Context, taskID string) error
	Pending(ctx context.Context) ([]osalarm.Trigger, error)
}

// PresentationControl 当前展示的操作
type PresentationControl interface {
	State() presentation.State
	Current() (presentation.Snapshot, bool)
	Dismiss() bool
	MarkComplete() error
}

// HistoryReader 展示历史查询
type HistoryReader interface {
	ListRecent(ctx context.Context, limit int) ([]model.AlarmRecord, error)
}

type AlarmHandler struct {
	alarms       AlarmService
	presentation PresentationControl
	dismiss      dismissal.Signaler
	session      credential.SessionStore
	history      HistoryReader
	logger       *zap.Logger
}

func NewAlarmHandler(
	alarms AlarmService,
	presentation PresentationControl,
	dismiss dismissal.Signaler,
	session credential.SessionStore,
	history HistoryReader,
	logger *zap.Logger,
) *AlarmHandler {
	return &AlarmHandler{
		alarms:       alarms,
		presentation: presentation,
		dismiss:      dismiss,
		session:      session,
		history:      history,
		logger:       logger,
	}
}

type scheduleRequest struct {
	TaskID      string `json:"task_id" binding:"required"`
	Title       string `json:"title"`
	TriggerAtMs int64  `json:"trigger_at_ms" binding:"required"`
	Kind        string `json:"kind"`
}

type pendingAlarm struct {
	RequestKey string     `json:"request_key"`
	TaskID     *string    `json:"task_id"`
	Title      string     `json:"title"`
	Kind       model.Kind `json:"kind"`
	TriggerAt  time.Time  `json:"trigger_at"`
}

// Schedule POST /alarms
func (h *AlarmHandler) Schedule(c *gin.Context) {
	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	kind, err := model.ParseKind(req.Kind)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// 注册前用调用方的 token 刷新凭证镜像
	ctx := credential.WithSessionToken(c.Request.Context(), c.GetString("token"))
	err = h.alarms.Schedule(ctx, model.AlarmRequest{
		TaskID:    req.TaskID,
		Title:     req.Title,
		TriggerAt: time.UnixMilli(req.TriggerAtMs),
		Kind:      kind,
	})
	if err != nil {
		h.writeAlarmError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "task_id": req.TaskID})
}

// Cancel DELETE /alarms/:taskId
func (h *AlarmHandler) Cancel(c *gin.Context) {
	taskID := c.Param("taskId")
	if err := h.alarms.Cancel(c.Request.Context(), taskID); err != nil {
		h.writeAlarmError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "canceled", "task_id": taskID})
}

// Pending GET /alarms
func (h *AlarmHandler) Pending(c *gin.Context) {
	triggers, err := h.alarms.Pending(c.Request.Context())
	if err != nil {
		h.writeAlarmError(c, err)
		return
	}
	out := make([]pendingAlarm, 0, len(triggers))
	for _, t := range triggers {
		out = append(out, pendingAlarm{
			RequestKey: t.Key.String(),
			TaskID:     t.Payload.TaskID,
			Title:      t.Payload.Title,
			Kind:       t.Payload.Kind,
			TriggerAt:  t.TriggerAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"alarms": out, "count": len(out)})
}

// BroadcastDismiss POST /alarms/dismiss：无目标的关闭广播
func (h *AlarmHandler) BroadcastDismiss(c *gin.Context) {
	h.dismiss.SignalDismiss()
	c.JSON(http.StatusAccepted, gin.H{"status": "signaled"})
}

// Presentation GET /presentation
func (h *AlarmHandler) Presentation(c *gin.Context) {
	snap, ok := h.presentation.Current()
	if !ok {
		c.JSON(http.StatusOK, gin.H{"state": presentation.StateIdle})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": presentation.StatePresenting, "alarm": snap})
}

// DismissPresentation POST /presentation/dismiss
func (h *AlarmHandler) DismissPresentation(c *gin.Context) {
	if !h.presentation.Dismiss() {
		c.JSON(http.StatusConflict, gin.H{"error": presentation.ErrNotPresenting.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": h.presentation.State()})
}

// CompletePresentation POST /presentation/complete：关闭后在后台删除任务
func (h *AlarmHandler) CompletePresentation(c *gin.Context) {
	err := h.presentation.MarkComplete()
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{"state": h.presentation.State()})
	case errors.Is(err, presentation.ErrNotPresenting):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, presentation.ErrNoTask):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// PutSession PUT /session：调用方自己的 token 成为当前会话并写入镜像
func (h *AlarmHandler) PutSession(c *gin.Context) {
	token := c.GetString("token")
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}
	h.session.Acquire(c.Request.Context(), token)
	c.Status(http.StatusNoContent)
}

// DeleteSession DELETE /session：登出
func (h *AlarmHandler) DeleteSession(c *gin.Context) {
	h.session.Clear(c.Request.Context())
	c.Status(http.StatusNoContent)
}

// History GET /alarms/history?limit=
func (h *AlarmHandler) History(c *gin.Context) {
	limit := 0
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}

	records, err := h.history.ListRecent(c.Request.Context(), limit)
	if err != nil {
		logger.WithTrace(c.Request.Context(), h.logger).Error("Failed to list alarm history", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records, "count": len(records)})
}

// writeAlarmError 权限问题 403，请求非法 400，其余 500
func (h *AlarmHandler) writeAlarmError(c *gin.Context, err error) {
	body := gin.H{"error": err.Error(), "kind": string(alarm.KindOf(err))}

	var ae *alarm.AlarmError
	if errors.As(err, &ae) && ae.Permission != "" {
		body["permission"] = ae.Permission
	}

	switch {
	case errors.Is(err, alarm.ErrPermissionDenied):
		c.JSON(http.StatusForbidden, body)
	case errors.Is(err, alarm.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, body)
	default:
		logger.WithTrace(c.Request.Context(), h.logger).Error("Alarm operation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, body)
	}
}
