package device

import (
	"context"
	"fmt"

	mqcontract "alarmd/contracts/mq"
	"alarmd/internal/supervisor"

	"go.uber.org/zap"
)

// Publisher 发布 MQ 事件
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

// MQLauncher 通过 ui.launch 事件请求 UI 层把主界面拉到前台
type MQLauncher struct {
	publisher Publisher
	logger    *zap.Logger
}

func NewMQLauncher(publisher Publisher, logger *zap.Logger) *MQLauncher {
	return &MQLauncher{publisher: publisher, logger: logger}
}

func (l *MQLauncher) LaunchMainUI(ctx context.Context, opts supervisor.LaunchOptions) error {
	payload := mqcontract.UILaunchPayload{FromScreenOn: opts.FromScreenOn}
	if err := l.publisher.Publish(ctx, mqcontract.RoutingUILaunch, payload); err != nil {
		return fmt.Errorf("publish %s: %w", mqcontract.RoutingUILaunch, err)
	}
	l.logger.Info("Main UI launch requested", zap.Bool("from_screen_on", opts.FromScreenOn))
	return nil
}
