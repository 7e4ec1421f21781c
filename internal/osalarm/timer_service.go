package osalarm

import (
	"context"
	"sort"
	"sync"

	"alarmd/pkg/clock"
	"alarmd/pkg/metrics"
	"alarmd/pkg/trace"

	"go.uber.org/zap"
)

// TimerService 进程内注册表，每个 key 一个定时器，进程退出即丢失
type TimerService struct {
	mu      sync.Mutex
	entries map[RequestKey]*timerEntry
	clock   clock.Clock
	fire    FireFunc
	logger  *zap.Logger
}

type timerEntry struct {
	trigger       Trigger
	timer         clock.Timer
	handleRevoked bool
}

func NewTimerService(c clock.Clock, fire FireFunc, logger *zap.Logger) *TimerService {
	return &TimerService{
		entries: make(map[RequestKey]*timerEntry),
		clock:   c,
		fire:    fire,
		logger:  logger,
	}
}

func (s *TimerService) Register(_ context.Context, t Trigger) error {
	s.mu.Lock()
	if old, ok := s.entries[t.Key]; ok {
		old.timer.Stop()
		delete(s.entries, t.Key)
	}
	entry := &timerEntry{trigger: t}
	s.entries[t.Key] = entry
	delay := t.TriggerAt.Sub(s.clock.Now())
	s.mu.Unlock()

	// AfterFunc 在 delay <= 0 时可能同步回调，所以不能持锁调用
	timer := s.clock.AfterFunc(delay, func() { s.deliver(t.Key, entry) })

	s.mu.Lock()
	entry.timer = timer
	s.mu.Unlock()

	s.logger.Debug("Alarm registered",
		zap.Stringer("key", t.Key),
		zap.Time("trigger_at", t.TriggerAt),
	)
	return nil
}

func (s *TimerService) deliver(key RequestKey, entry *timerEntry) {
	s.mu.Lock()
	current, ok := s.entries[key]
	if !ok || current != entry {
		s.mu.Unlock()
		return
	}
	delete(s.entries, key)
	revoked := entry.handleRevoked
	s.mu.Unlock()

	if revoked {
		s.logger.Debug("Alarm handle revoked, skipping delivery", zap.Stringer("key", key))
		return
	}

	metrics.RecordAlarmFired(string(entry.trigger.Payload.Kind), s.clock.Now().Sub(entry.trigger.TriggerAt))
	s.fire(trace.Ensure(context.Background()), entry.trigger.Payload)
}

func (s *TimerService) Cancel(_ context.Context, key RequestKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.entries[key]; ok {
		if entry.timer != nil {
			entry.timer.Stop()
		}
		delete(s.entries, key)
	}
	return nil
}

func (s *TimerService) InvalidateHandle(_ context.Context, key RequestKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.entries[key]; ok {
		entry.handleRevoked = true
	}
	return nil
}

func (s *TimerService) Pending(_ context.Context) ([]Trigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Trigger, 0, len(s.entries))
	for _, e := range s.entries {
		if !e.handleRevoked {
			out = append(out, e.trigger)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TriggerAt.Before(out[j].TriggerAt) })
	return out, nil
}
