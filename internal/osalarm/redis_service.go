package osalarm

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"alarmd/pkg/clock"
	"alarmd/pkg/metrics"
	"alarmd/pkg/trace"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	DefaultTriggersKey = "alarm:triggers"
	DefaultHandlesKey  = "alarm:handles"
)

// claimScript 原子地取出到期的触发器：ZSET 中删除成功且句柄仍有效的才返回
var claimScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
local out = {}
for _, member in ipairs(due) do
	if redis.call('ZREM', KEYS[1], member) == 1 then
		local handle = redis.call('HGET', KEYS[2], member)
		redis.call('HDEL', KEYS[2], member)
		if handle then
			table.insert(out, member)
			table.insert(out, handle)
		end
	end
end
return out
`)

// RedisService 持久化注册表：ZSET 保存 key → 触发时间（毫秒），HASH 保存 key → 句柄（载荷）。
// 进程重启后 Run 会立刻投递错过的触发器，且每个触发器只投递一次。
type RedisService struct {
	rdb          *redis.Client
	triggersKey  string
	handlesKey   string
	clock        clock.Clock
	fire         FireFunc
	pollInterval time.Duration
	batchSize    int
	logger       *zap.Logger
}

func NewRedisService(rdb *redis.Client, c clock.Clock, fire FireFunc, logger *zap.Logger) *RedisService {
	return &RedisService{
		rdb:          rdb,
		triggersKey:  DefaultTriggersKey,
		handlesKey:   DefaultHandlesKey,
		clock:        c,
		fire:         fire,
		pollInterval: time.Second,
		batchSize:    100,
		logger:       logger,
	}
}

// WithPollInterval 设置扫描间隔
func (s *RedisService) WithPollInterval(d time.Duration) *RedisService {
	if d > 0 {
		s.pollInterval = d
	}
	return s
}

// WithKeys 设置 Redis key（多实例隔离）
func (s *RedisService) WithKeys(triggersKey, handlesKey string) *RedisService {
	s.triggersKey = triggersKey
	s.handlesKey = handlesKey
	return s
}

func (s *RedisService) Register(ctx context.Context, t Trigger) error {
	handle, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to encode trigger: %w", err)
	}
	member := t.Key.String()
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, s.triggersKey, redis.Z{Score: float64(t.TriggerAt.UnixMilli()), Member: member})
		pipe.HSet(ctx, s.handlesKey, member, handle)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to register trigger %s: %w", member, err)
	}
	s.logger.Debug("Alarm registered",
		zap.String("key", member),
		zap.Time("trigger_at", t.TriggerAt),
	)
	return nil
}

func (s *RedisService) Cancel(ctx context.Context, key RequestKey) error {
	if err := s.rdb.ZRem(ctx, s.triggersKey, key.String()).Err(); err != nil {
		return fmt.Errorf("failed to cancel trigger %s: %w", key, err)
	}
	return nil
}

func (s *RedisService) InvalidateHandle(ctx context.Context, key RequestKey) error {
	if err := s.rdb.HDel(ctx, s.handlesKey, key.String()).Err(); err != nil {
		return fmt.Errorf("failed to invalidate handle %s: %w", key, err)
	}
	return nil
}

func (s *RedisService) Pending(ctx context.Context) ([]Trigger, error) {
	members, err := s.rdb.ZRange(ctx, s.triggersKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list triggers: %w", err)
	}
	if len(members) == 0 {
		return nil, nil
	}
	handles, err := s.rdb.HMGet(ctx, s.handlesKey, members...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load handles: %w", err)
	}

	out := make([]Trigger, 0, len(members))
	for i, h := range handles {
		raw, ok := h.(string)
		if !ok {
			continue
		}
		var t Trigger
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			s.logger.Warn("Skipping malformed trigger handle", zap.String("key", members[i]), zap.Error(err))
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TriggerAt.Before(out[j].TriggerAt) })
	return out, nil
}

// Run 周期性投递到期的触发器，直到 ctx 结束
func (s *RedisService) Run(ctx context.Context) error {
	s.logger.Info("Starting alarm registry dispatcher",
		zap.Duration("poll_interval", s.pollInterval),
		zap.String("triggers_key", s.triggersKey),
	)

	// 启动时立即投递错过的触发器（例如重启期间到期的）
	s.DispatchDue(ctx)

	ticker := s.clock.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Alarm registry dispatcher stopped")
			return ctx.Err()
		case <-ticker.C():
			s.DispatchDue(ctx)
		}
	}
}

// DispatchDue 取出并投递所有到期的触发器，返回投递数量
func (s *RedisService) DispatchDue(ctx context.Context) int {
	now := s.clock.Now()
	res, err := claimScript.Run(ctx, s.rdb,
		[]string{s.triggersKey, s.handlesKey},
		now.UnixMilli(), s.batchSize,
	).StringSlice()
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("Failed to claim due triggers", zap.Error(err))
		}
		return 0
	}

	delivered := 0
	for i := 0; i+1 < len(res); i += 2 {
		var t Trigger
		if err := json.Unmarshal([]byte(res[i+1]), &t); err != nil {
			s.logger.Error("Dropping malformed trigger handle", zap.String("key", res[i]), zap.Error(err))
			continue
		}
		metrics.RecordAlarmFired(string(t.Payload.Kind), now.Sub(t.TriggerAt))
		s.deliver(t)
		delivered++
	}
	return delivered
}

func (s *RedisService) deliver(t Trigger) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Alarm delivery panic recovered", zap.Stringer("key", t.Key), zap.Any("panic", r))
		}
	}()
	s.fire(trace.Ensure(context.Background()), t.Payload)
}
