package osalarm

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"alarmd/internal/model"
	"alarmd/pkg/clock"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type fireRecorder struct {
	mu    sync.Mutex
	fired []model.AlarmPayload
}

func (r *fireRecorder) fire(_ context.Context, p model.AlarmPayload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fired = append(r.fired, p)
}

func (r *fireRecorder) titles() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.fired))
	for _, p := range r.fired {
		out = append(out, p.Title)
	}
	return out
}

func strPtr(s string) *string { return &s }

func trigger(key RequestKey, at time.Time, title string) Trigger {
	return Trigger{
		Key:          key,
		TriggerAt:    at,
		Exact:        true,
		WakeFromIdle: true,
		Payload:      model.AlarmPayload{TaskID: strPtr(title), Title: title, Kind: model.KindTask},
	}
}

var epoch = time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

func TestTimerServiceFiresOnce(t *testing.T) {
	c := clock.Fake(epoch)
	rec := &fireRecorder{}
	s := NewTimerService(c, rec.fire, zap.NewNop())
	ctx := context.Background()

	if err := s.Register(ctx, trigger(1, epoch.Add(2*time.Second), "a")); err != nil {
		t.Fatal(err)
	}
	c.Advance(time.Second)
	if len(rec.titles()) != 0 {
		t.Fatal("fired early")
	}
	c.Advance(2 * time.Second)
	c.Advance(10 * time.Second)
	if got := rec.titles(); len(got) != 1 || got[0] != "a" {
		t.Fatalf("fired = %v", got)
	}
	pending, _ := s.Pending(ctx)
	if len(pending) != 0 {
		t.Fatalf("pending after fire = %d", len(pending))
	}
}

func TestTimerServiceRegisterReplacesSameKey(t *testing.T) {
	c := clock.Fake(epoch)
	rec := &fireRecorder{}
	s := NewTimerService(c, rec.fire, zap.NewNop())
	ctx := context.Background()

	_ = s.Register(ctx, trigger(7, epoch.Add(time.Second), "first"))
	_ = s.Register(ctx, trigger(7, epoch.Add(5*time.Second), "second"))

	pending, _ := s.Pending(ctx)
	if len(pending) != 1 || !pending[0].TriggerAt.Equal(epoch.Add(5*time.Second)) {
		t.Fatalf("pending = %+v", pending)
	}

	c.Advance(10 * time.Second)
	if got := rec.titles(); len(got) != 1 || got[0] != "second" {
		t.Fatalf("fired = %v", got)
	}
}

func TestTimerServiceCancelAndInvalidate(t *testing.T) {
	c := clock.Fake(epoch)
	rec := &fireRecorder{}
	s := NewTimerService(c, rec.fire, zap.NewNop())
	ctx := context.Background()

	_ = s.Register(ctx, trigger(1, epoch.Add(time.Second), "canceled"))
	_ = s.Register(ctx, trigger(2, epoch.Add(time.Second), "revoked"))

	if err := s.Cancel(ctx, 1); err != nil {
		t.Fatal(err)
	}
	if err := s.InvalidateHandle(ctx, 2); err != nil {
		t.Fatal(err)
	}
	// 不存在的 key
	if err := s.Cancel(ctx, 99); err != nil {
		t.Fatal(err)
	}
	if err := s.InvalidateHandle(ctx, 99); err != nil {
		t.Fatal(err)
	}

	c.Advance(5 * time.Second)
	if got := rec.titles(); len(got) != 0 {
		t.Fatalf("fired = %v, want none", got)
	}
}

func newRedisService(t *testing.T, c clock.Clock, rec *fireRecorder) (*RedisService, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisService(rdb, c, rec.fire, zap.NewNop()), mr
}

func TestRedisServiceDispatchDue(t *testing.T) {
	c := clock.Fake(epoch)
	rec := &fireRecorder{}
	s, _ := newRedisService(t, c, rec)
	ctx := context.Background()

	_ = s.Register(ctx, trigger(1, epoch.Add(2*time.Second), "soon"))
	_ = s.Register(ctx, trigger(2, epoch.Add(time.Hour), "later"))

	if n := s.DispatchDue(ctx); n != 0 {
		t.Fatalf("dispatched %d before due", n)
	}

	c.Advance(3 * time.Second)
	if n := s.DispatchDue(ctx); n != 1 {
		t.Fatalf("dispatched %d, want 1", n)
	}
	if n := s.DispatchDue(ctx); n != 0 {
		t.Fatalf("second dispatch delivered %d, want 0", n)
	}
	if got := rec.titles(); len(got) != 1 || got[0] != "soon" {
		t.Fatalf("fired = %v", got)
	}

	pending, err := s.Pending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].Payload.Title != "later" {
		t.Fatalf("pending = %+v", pending)
	}
}

func TestRedisServiceReplaceCancelInvalidate(t *testing.T) {
	c := clock.Fake(epoch)
	rec := &fireRecorder{}
	s, mr := newRedisService(t, c, rec)
	ctx := context.Background()

	_ = s.Register(ctx, trigger(5, epoch.Add(time.Second), "old"))
	_ = s.Register(ctx, trigger(5, epoch.Add(4*time.Second), "new"))
	members, _ := mr.ZMembers(DefaultTriggersKey)
	if len(members) != 1 {
		t.Fatalf("members = %v", members)
	}

	_ = s.Register(ctx, trigger(6, epoch.Add(time.Second), "revoked"))
	_ = s.InvalidateHandle(ctx, 6)
	_ = s.Register(ctx, trigger(8, epoch.Add(time.Second), "canceled"))
	_ = s.Cancel(ctx, 8)

	c.Advance(5 * time.Second)
	s.DispatchDue(ctx)
	if got := rec.titles(); len(got) != 1 || got[0] != "new" {
		t.Fatalf("fired = %v", got)
	}
}

func TestRedisServiceSurvivesRestart(t *testing.T) {
	c := clock.Fake(epoch)
	rec := &fireRecorder{}
	s, mr := newRedisService(t, c, rec)
	ctx := context.Background()
	_ = s.Register(ctx, trigger(3, epoch.Add(time.Second), "persisted"))

	// 新的 service 实例（模拟进程重启）读取同一个 Redis
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	rec2 := &fireRecorder{}
	restarted := NewRedisService(rdb, c, rec2.fire, zap.NewNop())

	c.Advance(time.Minute)
	if n := restarted.DispatchDue(ctx); n != 1 {
		t.Fatalf("dispatched %d after restart", n)
	}
	if got := rec2.titles(); len(got) != 1 || got[0] != "persisted" {
		t.Fatalf("fired = %v", got)
	}
}

func TestRequestKeyRoundTrip(t *testing.T) {
	for _, want := range []RequestKey{0, 4000000000, math.MaxUint64} {
		k, err := ParseRequestKey(want.String())
		if err != nil || k != want {
			t.Fatalf("k = %d, err = %v, want %d", k, err, want)
		}
	}
}
