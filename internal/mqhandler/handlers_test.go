package mqhandler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	mqcontract "alarmd/contracts/mq"
	"alarmd/internal/alarm"
	"alarmd/internal/credential"
	"alarmd/internal/deletion"
	"alarmd/internal/dismissal"
	"alarmd/internal/model"
	"alarmd/internal/osalarm"
	"alarmd/pkg/clock"
	"alarmd/pkg/mq"

	"go.uber.org/zap"
)

type fakeScheduler struct {
	scheduled []model.AlarmRequest
	canceled  []string
	err       error
}

func (s *fakeScheduler) Schedule(_ context.Context, req model.AlarmRequest) error {
	s.scheduled = append(s.scheduled, req)
	return s.err
}

func (s *fakeScheduler) Cancel(_ context.Context, taskID string) error {
	s.canceled = append(s.canceled, taskID)
	return s.err
}

type published struct {
	key     string
	payload any
}

type fakePublisher struct {
	events []published
}

func (p *fakePublisher) Publish(_ context.Context, key string, payload any) error {
	p.events = append(p.events, published{key, payload})
	return nil
}

func raw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestScheduleHandlerBuildsRequest(t *testing.T) {
	s := &fakeScheduler{}
	h := NewAlarmScheduleHandler(s, &fakePublisher{}, zap.NewNop())

	at := time.Date(2026, 10, 18, 17, 0, 0, 0, time.UTC)
	err := h.Handle(context.Background(), raw(t, mqcontract.AlarmSchedulePayload{
		TaskID:      "t1",
		Title:       "Submit report",
		TriggerAtMs: at.UnixMilli(),
		Kind:        "SCHEDULE",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if len(s.scheduled) != 1 {
		t.Fatalf("scheduled = %v", s.scheduled)
	}
	got := s.scheduled[0]
	if got.TaskID != "t1" || got.Title != "Submit report" || !got.TriggerAt.Equal(at) || got.Kind != model.KindSchedule {
		t.Fatalf("request = %+v", got)
	}
}

func TestScheduleHandlerReportsPermissionDenied(t *testing.T) {
	s := &fakeScheduler{err: &alarm.AlarmError{
		Kind:       alarm.KindPermissionDenied,
		TaskID:     "t1",
		Permission: alarm.PermissionExactAlarm,
	}}
	pub := &fakePublisher{}
	h := NewAlarmScheduleHandler(s, pub, zap.NewNop())

	err := h.Handle(context.Background(), raw(t, mqcontract.AlarmSchedulePayload{TaskID: "t1", TriggerAtMs: 1}))
	if err != nil {
		t.Fatalf("permission failure must be acked, got %v", err)
	}
	if len(pub.events) != 1 || pub.events[0].key != mqcontract.RoutingAlarmScheduleFailed {
		t.Fatalf("events = %+v", pub.events)
	}
	failure := pub.events[0].payload.(mqcontract.AlarmScheduleFailedPayload)
	if failure.TaskID != "t1" || failure.Reason != string(alarm.KindPermissionDenied) {
		t.Fatalf("failure = %+v", failure)
	}
}

func TestScheduleHandlerRejectsUnknownKind(t *testing.T) {
	s := &fakeScheduler{}
	pub := &fakePublisher{}
	h := NewAlarmScheduleHandler(s, pub, zap.NewNop())

	_ = h.Handle(context.Background(), raw(t, mqcontract.AlarmSchedulePayload{TaskID: "t1", Kind: "MEETING"}))
	if len(s.scheduled) != 0 {
		t.Fatal("invalid kind must not reach the registrar")
	}
	if len(pub.events) != 1 || pub.events[0].payload.(mqcontract.AlarmScheduleFailedPayload).Reason != string(alarm.KindInvalidRequest) {
		t.Fatalf("events = %+v", pub.events)
	}
}

func TestScheduleHandlerRetriesRegistryFailure(t *testing.T) {
	s := &fakeScheduler{err: &alarm.AlarmError{Kind: alarm.KindScheduleFailed, TaskID: "t1", Err: errors.New("redis down")}}
	pub := &fakePublisher{}
	h := NewAlarmScheduleHandler(s, pub, zap.NewNop())

	err := h.Handle(context.Background(), raw(t, mqcontract.AlarmSchedulePayload{TaskID: "t1", TriggerAtMs: 1}))
	if !errors.Is(err, alarm.ErrScheduleFailed) {
		t.Fatalf("err = %v", err)
	}
	if len(pub.events) != 0 {
		t.Fatal("transient failure should not be reported to the UI")
	}
}

func TestScheduleHandlerMalformedPayload(t *testing.T) {
	h := NewAlarmScheduleHandler(&fakeScheduler{}, &fakePublisher{}, zap.NewNop())
	if err := h.Handle(context.Background(), json.RawMessage(`{"task_id":`)); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestCancelHandler(t *testing.T) {
	s := &fakeScheduler{}
	h := NewAlarmCancelHandler(s, zap.NewNop())
	if err := h.Handle(context.Background(), raw(t, mqcontract.AlarmCancelPayload{TaskID: "t9"})); err != nil {
		t.Fatal(err)
	}
	if len(s.canceled) != 1 || s.canceled[0] != "t9" {
		t.Fatalf("canceled = %v", s.canceled)
	}
}

type fakeDeleter struct {
	mu  sync.Mutex
	ids []string
}

func (d *fakeDeleter) Go(taskID string) {
	d.GoFrom(context.Background(), taskID)
}

func (d *fakeDeleter) GoFrom(_ context.Context, taskID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ids = append(d.ids, taskID)
}

type memoryGate map[string]bool

func (g memoryGate) AcquireOnce(_ context.Context, handler, id string) bool {
	key := handler + ":" + id
	if g[key] {
		return false
	}
	g[key] = true
	return true
}

func TestDeleteRequestedHandlerDeduplicates(t *testing.T) {
	d := &fakeDeleter{}
	h := NewDeleteRequestedHandler(d, memoryGate{}, zap.NewNop())

	msg := raw(t, mqcontract.AlarmDeleteRequestedPayload{TaskID: "t4"})
	_ = h.Handle(context.Background(), msg)
	_ = h.Handle(context.Background(), msg)
	_ = h.Handle(context.Background(), raw(t, mqcontract.AlarmDeleteRequestedPayload{}))

	if len(d.ids) != 1 || d.ids[0] != "t4" {
		t.Fatalf("deleted = %v", d.ids)
	}
}

func TestDeleteRequestedDoesNotBlockOnSlowTaskService(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	bus := dismissal.NewBus()
	signals, unsubscribe := bus.Subscribe()
	defer unsubscribe()
	deleter := deletion.NewDeleter(srv.URL, credential.NewMemoryMirror(), bus, zap.NewNop())
	h := NewDeleteRequestedHandler(deleter, nil, zap.NewNop())

	done := make(chan error, 1)
	go func() {
		done <- h.Handle(context.Background(), raw(t, mqcontract.AlarmDeleteRequestedPayload{TaskID: "t1"}))
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		close(release)
		t.Fatal("Handle blocked on the remote deletion")
	}

	close(release)
	deleter.Wait()
	select {
	case <-signals:
	default:
		t.Fatal("background deletion did not signal dismiss")
	}
}

func TestScheduleOverMQRefreshesMirrorFromSession(t *testing.T) {
	ctx := context.Background()
	c := clock.Fake(time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC))
	mirror := credential.NewMemoryMirror()
	session := credential.NewSession(mirror)
	registry := osalarm.NewTimerService(c, func(context.Context, model.AlarmPayload) {}, zap.NewNop())
	registrar := alarm.NewRegistrar(registry, alarm.StaticPermissions{ExactAlarm: true}, mirror, session.Token, c, zap.NewNop())

	sh := NewSessionHandler(session, zap.NewNop())
	if err := sh.HandleTokenAcquired(ctx, raw(t, mqcontract.SessionTokenPayload{Token: "tok"})); err != nil {
		t.Fatal(err)
	}
	// 镜像丢失（例如 redis 被清空），会话仍在
	mirror.Clear(ctx)

	h := NewAlarmScheduleHandler(registrar, &fakePublisher{}, zap.NewNop())
	err := h.Handle(ctx, raw(t, mqcontract.AlarmSchedulePayload{
		TaskID:      "t1",
		Title:       "Submit report",
		TriggerAtMs: c.Now().Add(time.Hour).UnixMilli(),
	}))
	if err != nil {
		t.Fatal(err)
	}
	pending, _ := registrar.Pending(ctx)
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}
	if got := mirror.Read(ctx); got != "tok" {
		t.Fatalf("mirror = %q, want refreshed before registration", got)
	}

	_ = sh.HandleCleared(ctx, nil)
	_ = h.Handle(ctx, raw(t, mqcontract.AlarmSchedulePayload{TaskID: "t2", TriggerAtMs: c.Now().Add(time.Hour).UnixMilli()}))
	if got := mirror.Read(ctx); got != "" {
		t.Fatalf("mirror = %q after logout, want empty", got)
	}
}

func TestDismissAndSessionHandlers(t *testing.T) {
	bus := dismissal.NewBus()
	signals, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	if err := NewDismissHandler(bus, zap.NewNop()).Handle(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	select {
	case <-signals:
	default:
		t.Fatal("dismiss not forwarded")
	}

	mirror := credential.NewMemoryMirror()
	sh := NewSessionHandler(credential.NewSession(mirror), zap.NewNop())
	ctx := context.Background()
	_ = sh.HandleTokenAcquired(ctx, raw(t, mqcontract.SessionTokenPayload{Token: "tok"}))
	if mirror.Read(ctx) != "tok" {
		t.Fatal("token not mirrored")
	}
	_ = sh.HandleTokenAcquired(ctx, raw(t, mqcontract.SessionTokenPayload{}))
	if mirror.Read(ctx) != "tok" {
		t.Fatal("empty token payload must not overwrite the session")
	}
	_ = sh.HandleCleared(ctx, nil)
	if mirror.Read(ctx) != "" {
		t.Fatal("mirror not cleared")
	}
}

type fakeLifecycle struct {
	calls []string
}

func (l *fakeLifecycle) OnBoot()           { l.calls = append(l.calls, "boot") }
func (l *fakeLifecycle) OnMainUILaunched() { l.calls = append(l.calls, "ui") }
func (l *fakeLifecycle) OnTaskRemoved()    { l.calls = append(l.calls, "removed") }
func (l *fakeLifecycle) OnScreenOn()       { l.calls = append(l.calls, "screen") }

type mapSetter map[string]mq.MessageHandler

func (m mapSetter) SetHandler(key string, h mq.MessageHandler) { m[key] = h }

func TestBindRoutesEveryKey(t *testing.T) {
	life := &fakeLifecycle{}
	setter := mapSetter{}
	Bind(setter, Handlers{
		Schedule: NewAlarmScheduleHandler(&fakeScheduler{}, &fakePublisher{}, zap.NewNop()),
		Cancel:   NewAlarmCancelHandler(&fakeScheduler{}, zap.NewNop()),
		Delete:   NewDeleteRequestedHandler(&fakeDeleter{}, nil, zap.NewNop()),
		Dismiss:  NewDismissHandler(dismissal.NewBus(), zap.NewNop()),
		Session:  NewSessionHandler(credential.NewSession(credential.NewMemoryMirror()), zap.NewNop()),
		Device:   NewDeviceSignalHandler(life, zap.NewNop()),
	})

	for _, key := range RoutingKeys() {
		if setter[key] == nil {
			t.Fatalf("no handler for %s", key)
		}
	}

	for _, key := range []string{
		mqcontract.RoutingDeviceBootCompleted,
		mqcontract.RoutingAppUILaunched,
		mqcontract.RoutingAppTaskRemoved,
		mqcontract.RoutingDeviceScreenOn,
	} {
		if err := setter[key](context.Background(), nil); err != nil {
			t.Fatal(err)
		}
	}
	want := []string{"boot", "ui", "removed", "screen"}
	for i, w := range want {
		if life.calls[i] != w {
			t.Fatalf("calls = %v, want %v", life.calls, want)
		}
	}
}
