// Package presentation 闹钟到点时的全屏展示：点亮屏幕、循环响铃和振动，
// 只提供"关闭"和"标记完成"两种处理方式，60 秒无操作自动关闭。
package presentation

import (
	"context"
	"errors"
	"sync"
	"time"

	"alarmd/internal/model"
	"alarmd/pkg/clock"
	"alarmd/pkg/logger"
	"alarmd/pkg/metrics"

	"go.uber.org/zap"
)

// DefaultTimeout 无操作自动关闭时间
const DefaultTimeout = 60 * time.Second

// 展示所需权限名
const (
	PermissionFullScreenIntent = "USE_FULL_SCREEN_INTENT"
	PermissionOverlay          = "SYSTEM_ALERT_WINDOW"
)

var (
	// ErrFullScreenDenied 没有全屏展示权限
	ErrFullScreenDenied = errors.New("full-screen intent permission not granted")
	// ErrOverlayDenied 没有覆盖显示权限，无法盖在其他界面之上
	ErrOverlayDenied = errors.New("overlay permission not granted")
	// ErrNotPresenting 当前没有展示
	ErrNotPresenting = errors.New("no alarm is presenting")
	// ErrNoTask 通用闹钟（无任务 ID）不提供标记完成
	ErrNoTask = errors.New("alarm has no task to complete")
)

// State 展示状态
type State string

const (
	StateIdle       State = "idle"
	StatePresenting State = "presenting"
)

// AsyncDeleter 后台执行远程删除，调用立即返回
type AsyncDeleter interface {
	Go(taskID string)
}

// OutcomeRecorder 记录每次展示的结束方式
type OutcomeRecorder interface {
	Record(ctx context.Context, rec model.AlarmRecord)
}

// Subscriber 关闭广播的订阅端
type Subscriber interface {
	Subscribe() (<-chan struct{}, func())
}

// Snapshot 当前展示的只读视图
type Snapshot struct {
	TaskID      *string    `json:"task_id"`
	Title       string     `json:"title"`
	Kind        model.Kind `json:"kind"`
	PresentedAt time.Time  `json:"presented_at"`
	Sound       bool       `json:"sound"`
	Vibration   bool       `json:"vibration"`
}

type Presenter struct {
	devices     Devices
	bus         Subscriber
	deleter     AsyncDeleter
	permissions Permissions
	recorder    OutcomeRecorder
	clock       clock.Clock
	timeout     time.Duration
	logger      *zap.Logger

	presentMu sync.Mutex // 串行化 Present
	mu        sync.Mutex
	current   *session
}

type session struct {
	payload     model.AlarmPayload
	presentedAt time.Time
	soundOn     bool
	vibrationOn bool
	displayOn   bool
	timer       clock.Timer
	unsubscribe func()
	done        chan struct{}
	once        sync.Once
}

func NewPresenter(
	devices Devices,
	bus Subscriber,
	deleter AsyncDeleter,
	permissions Permissions,
	recorder OutcomeRecorder,
	c clock.Clock,
	logger *zap.Logger,
) *Presenter {
	return &Presenter{
		devices:     devices,
		bus:         bus,
		deleter:     deleter,
		permissions: permissions,
		recorder:    recorder,
		clock:       c,
		timeout:     DefaultTimeout,
		logger:      logger,
	}
}

// WithTimeout 设置自动关闭时间
func (p *Presenter) WithTimeout(d time.Duration) *Presenter {
	if d > 0 {
		p.timeout = d
	}
	return p
}

// Fire 作为闹钟注册表的投递入口
func (p *Presenter) Fire(ctx context.Context, payload model.AlarmPayload) {
	if err := p.Present(ctx, payload); err != nil {
		logger.WithTrace(ctx, p.logger).Error("Failed to present alarm",
			zap.String("task_id", payload.TaskIDOrEmpty()),
			zap.Error(err),
		)
	}
}

// Present Idle → Presenting。已有展示时先关闭旧的。
func (p *Presenter) Present(ctx context.Context, payload model.AlarmPayload) error {
	log := logger.WithTrace(ctx, p.logger).With(
		zap.String("task_id", payload.TaskIDOrEmpty()),
		zap.String("title", payload.Title),
	)

	if p.permissions != nil {
		if !p.permissions.CanUseFullScreenIntent() {
			log.Warn("Full-screen intent permission not granted")
			return ErrFullScreenDenied
		}
		if !p.permissions.CanDrawOverlays() {
			log.Warn("Overlay permission not granted")
			return ErrOverlayDenied
		}
	}
	if payload.Kind == "" {
		payload.Kind = model.KindTask
	}

	p.presentMu.Lock()
	defer p.presentMu.Unlock()

	p.mu.Lock()
	previous := p.current
	p.mu.Unlock()
	if previous != nil {
		p.finish(previous, model.OutcomeReplaced)
	}

	s := &session{
		payload:     payload,
		presentedAt: p.clock.Now(),
		done:        make(chan struct{}),
	}

	if err := p.devices.Display.WakeAndUnlock(); err != nil {
		log.Warn("Failed to wake display", zap.Error(err))
	} else {
		s.displayOn = true
	}
	s.soundOn = p.startSound(log)
	if err := p.devices.Vibrator.Vibrate(VibrationPattern, 0); err != nil {
		log.Warn("Failed to start vibration", zap.Error(err))
	} else {
		s.vibrationOn = true
	}

	s.timer = p.clock.AfterFunc(p.timeout, func() {
		p.finish(s, model.OutcomeTimedOut)
	})

	// 订阅和发布 current 在同一把锁内完成，finish 总能看到完整的 session
	p.mu.Lock()
	signals, unsubscribe := p.bus.Subscribe()
	s.unsubscribe = unsubscribe
	p.current = s
	p.mu.Unlock()

	go func() {
		select {
		case <-signals:
			p.finish(s, model.OutcomeExternalDismiss)
		case <-s.done:
		}
	}()

	log.Info("Alarm presenting",
		zap.Bool("sound", s.soundOn),
		zap.Bool("vibration", s.vibrationOn),
		zap.Duration("timeout", p.timeout),
	)
	return nil
}

// startSound 优先闹钟铃声，失败时退回通知铃声；都失败时静默展示
func (p *Presenter) startSound(log *zap.Logger) bool {
	for _, kind := range []SoundKind{SoundAlarm, SoundNotification} {
		uri, ok := p.devices.Catalog.DefaultURI(kind)
		if !ok {
			continue
		}
		if err := p.devices.Sound.PlayLoop(uri); err != nil {
			log.Warn("Failed to play alarm sound", zap.String("uri", uri), zap.Error(err))
			continue
		}
		return true
	}
	log.Warn("No alarm sound available, presenting silently")
	return false
}

// Dismiss 用户点击"关闭"
func (p *Presenter) Dismiss() bool {
	s := p.active()
	if s == nil {
		return false
	}
	return p.finish(s, model.OutcomeDismissed)
}

// MarkComplete 用户点击"标记完成"：先关闭展示，再在后台删除任务，不等待网络
func (p *Presenter) MarkComplete() error {
	s := p.active()
	if s == nil {
		return ErrNotPresenting
	}
	if s.payload.TaskID == nil {
		return ErrNoTask
	}
	taskID := *s.payload.TaskID

	if !p.finish(s, model.OutcomeCompleted) {
		// 已经被其他路径关闭
		return ErrNotPresenting
	}
	p.deleter.Go(taskID)
	return nil
}

// Destroy 展示被系统销毁
func (p *Presenter) Destroy() {
	if s := p.active(); s != nil {
		p.finish(s, model.OutcomeDestroyed)
	}
}

// State 当前状态
func (p *Presenter) State() State {
	if p.active() == nil {
		return StateIdle
	}
	return StatePresenting
}

// Current 当前展示的快照
func (p *Presenter) Current() (Snapshot, bool) {
	s := p.active()
	if s == nil {
		return Snapshot{}, false
	}
	return Snapshot{
		TaskID:      s.payload.TaskID,
		Title:       s.payload.Title,
		Kind:        s.payload.Kind,
		PresentedAt: s.presentedAt,
		Sound:       s.soundOn,
		Vibration:   s.vibrationOn,
	}, true
}

func (p *Presenter) active() *session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// finish 所有退出路径汇合于此；每个 session 只执行一次，返回本次调用是否真正关闭了它
func (p *Presenter) finish(s *session, outcome model.Outcome) bool {
	closed := false
	s.once.Do(func() {
		closed = true

		p.mu.Lock()
		if p.current == s {
			p.current = nil
		}
		p.mu.Unlock()

		p.teardown(s)

		closedAt := p.clock.Now()
		metrics.RecordPresentationOutcome(string(outcome))
		p.logger.Info("Alarm presentation closed",
			zap.String("task_id", s.payload.TaskIDOrEmpty()),
			zap.String("outcome", string(outcome)),
			zap.Duration("shown_for", closedAt.Sub(s.presentedAt)),
		)
		if p.recorder != nil {
			p.recorder.Record(context.Background(), model.AlarmRecord{
				TaskID:      s.payload.TaskID,
				Title:       s.payload.Title,
				Kind:        s.payload.Kind,
				Outcome:     outcome,
				PresentedAt: s.presentedAt,
				ClosedAt:    closedAt,
			})
		}
	})
	return closed
}

// teardown 取消订阅、取消定时器、释放声音/振动/屏幕
func (p *Presenter) teardown(s *session) {
	close(s.done)
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	if s.soundOn {
		p.devices.Sound.Stop()
	}
	if s.vibrationOn {
		p.devices.Vibrator.Cancel()
	}
	if s.displayOn {
		p.devices.Display.Release()
	}
}
