package mqhandler

import (
	"context"
	"encoding/json"

	mqcontract "alarmd/contracts/mq"
	"alarmd/internal/credential"
	"alarmd/internal/dismissal"

	"go.uber.org/zap"
)

type DismissHandler struct {
	signaler dismissal.Signaler
	logger   *zap.Logger
}

func NewDismissHandler(signaler dismissal.Signaler, logger *zap.Logger) *DismissHandler {
	return &DismissHandler{signaler: signaler, logger: logger}
}

// Handle -- alarm.dismiss：无负载，关闭当前展示（如果有）
func (h *DismissHandler) Handle(_ context.Context, _ json.RawMessage) error {
	h.signaler.SignalDismiss()
	h.logger.Debug("Dismiss signal forwarded")
	return nil
}

// SessionHandler 同步登录态（会话 token 和凭证镜像）
type SessionHandler struct {
	session credential.SessionStore
	logger  *zap.Logger
}

func NewSessionHandler(session credential.SessionStore, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{session: session, logger: logger}
}

// HandleTokenAcquired -- session.token_acquired
func (h *SessionHandler) HandleTokenAcquired(ctx context.Context, raw json.RawMessage) error {
	var p mqcontract.SessionTokenPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		h.logger.Error("Failed to unmarshal session token payload", zap.Error(err))
		return err
	}
	if p.Token == "" {
		h.logger.Warn("Session token payload without token, ignored")
		return nil
	}
	h.session.Acquire(ctx, p.Token)
	return nil
}

// HandleCleared -- session.cleared（登出）
func (h *SessionHandler) HandleCleared(ctx context.Context, _ json.RawMessage) error {
	h.session.Clear(ctx)
	return nil
}

// Lifecycle 设备/应用生命周期信号的接收方
type Lifecycle interface {
	OnBoot()
	OnMainUILaunched()
	OnTaskRemoved()
	OnScreenOn()
}

type DeviceSignalHandler struct {
	lifecycle Lifecycle
	logger    *zap.Logger
}

func NewDeviceSignalHandler(lifecycle Lifecycle, logger *zap.Logger) *DeviceSignalHandler {
	return &DeviceSignalHandler{lifecycle: lifecycle, logger: logger}
}

// Handler 按 routing key 返回对应的处理函数
func (h *DeviceSignalHandler) Handler(routingKey string) func(context.Context, json.RawMessage) error {
	var action func()
	switch routingKey {
	case mqcontract.RoutingDeviceBootCompleted:
		action = h.lifecycle.OnBoot
	case mqcontract.RoutingAppUILaunched:
		action = h.lifecycle.OnMainUILaunched
	case mqcontract.RoutingAppTaskRemoved:
		action = h.lifecycle.OnTaskRemoved
	case mqcontract.RoutingDeviceScreenOn:
		action = h.lifecycle.OnScreenOn
	default:
		return nil
	}
	return func(context.Context, json.RawMessage) error {
		h.logger.Info("Device signal received", zap.String("signal", routingKey))
		action()
		return nil
	}
}
