// Package credential 把会话 bearer token 单向镜像到应用进程生命周期之外也能读取的存储中。
// 镜像只是可用性优化：写入/清除失败只记录日志，不返回给调用方。
package credential

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultKey Redis 中存放镜像 token 的 key
const DefaultKey = "alarm:credential"

// Mirror 单槽位的 token 镜像，整值替换/读取
type Mirror interface {
	Write(ctx context.Context, token string)
	Clear(ctx context.Context)
	// Read 返回当前 token，没有或读取失败时返回空字符串
	Read(ctx context.Context) string
}

// RedisMirror 把 token 存在 Redis 单个 key 中，闹钟触发的组件即使在新进程里也能读到
type RedisMirror struct {
	rdb     *redis.Client
	key     string
	timeout time.Duration
	logger  *zap.Logger
}

func NewRedisMirror(rdb *redis.Client, key string, logger *zap.Logger) *RedisMirror {
	if key == "" {
		key = DefaultKey
	}
	return &RedisMirror{
		rdb:     rdb,
		key:     key,
		timeout: 2 * time.Second,
		logger:  logger,
	}
}

func (m *RedisMirror) Write(ctx context.Context, token string) {
	if token == "" {
		// 空 token 等价于清除
		m.Clear(ctx)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	if err := m.rdb.Set(ctx, m.key, token, 0).Err(); err != nil {
		m.logger.Warn("Failed to mirror credential", zap.String("key", m.key), zap.Error(err))
		return
	}
	m.logger.Debug("Credential mirrored", zap.String("key", m.key))
}

func (m *RedisMirror) Clear(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	if err := m.rdb.Del(ctx, m.key).Err(); err != nil {
		m.logger.Warn("Failed to clear mirrored credential", zap.String("key", m.key), zap.Error(err))
		return
	}
	m.logger.Info("Mirrored credential cleared", zap.String("key", m.key))
}

func (m *RedisMirror) Read(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	token, err := m.rdb.Get(ctx, m.key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			m.logger.Warn("Failed to read mirrored credential", zap.String("key", m.key), zap.Error(err))
		}
		return ""
	}
	return token
}

// MemoryMirror 进程内实现，用于测试和不启用 Redis 的单进程运行
type MemoryMirror struct {
	v atomic.Value // string
}

func NewMemoryMirror() *MemoryMirror {
	m := &MemoryMirror{}
	m.v.Store("")
	return m
}

func (m *MemoryMirror) Write(_ context.Context, token string) { m.v.Store(token) }

func (m *MemoryMirror) Clear(_ context.Context) { m.v.Store("") }

func (m *MemoryMirror) Read(_ context.Context) string { return m.v.Load().(string) }
