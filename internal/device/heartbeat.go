package device

import (
	"context"
	"time"

	"alarmd/pkg/clock"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	DefaultPresenceKey       = "alarm:presence"
	DefaultHeartbeatInterval = 10 * time.Second
)

// Heartbeat 常驻后台存在：定期刷新 redis 中带 TTL 的存在标记，
// 外部据此判断进程是否还活着。
type Heartbeat struct {
	rdb      *redis.Client
	key      string
	interval time.Duration
	clock    clock.Clock
	logger   *zap.Logger
}

func NewHeartbeat(rdb *redis.Client, c clock.Clock, logger *zap.Logger) *Heartbeat {
	return &Heartbeat{
		rdb:      rdb,
		key:      DefaultPresenceKey,
		interval: DefaultHeartbeatInterval,
		clock:    c,
		logger:   logger,
	}
}

func (h *Heartbeat) WithInterval(d time.Duration) *Heartbeat {
	if d > 0 {
		h.interval = d
	}
	return h
}

func (h *Heartbeat) WithKey(key string) *Heartbeat {
	if key != "" {
		h.key = key
	}
	return h
}

// Run 阻塞直到 ctx 取消；退出时删除存在标记
func (h *Heartbeat) Run(ctx context.Context) error {
	ticker := h.clock.NewTicker(h.interval)
	defer ticker.Stop()
	defer h.clear()

	h.beat(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			h.beat(ctx)
		}
	}
}

// Alive 存在标记是否还在
func (h *Heartbeat) Alive(ctx context.Context) bool {
	n, err := h.rdb.Exists(ctx, h.key).Result()
	return err == nil && n > 0
}

func (h *Heartbeat) beat(ctx context.Context) {
	// TTL 覆盖三个心跳周期，偶尔漏一次不会误判
	now := h.clock.Now().UnixMilli()
	if err := h.rdb.Set(ctx, h.key, now, 3*h.interval).Err(); err != nil {
		h.logger.Warn("Failed to refresh presence", zap.String("key", h.key), zap.Error(err))
	}
}

func (h *Heartbeat) clear() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.rdb.Del(ctx, h.key).Err(); err != nil {
		h.logger.Warn("Failed to clear presence", zap.String("key", h.key), zap.Error(err))
	}
}
