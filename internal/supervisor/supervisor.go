// Package supervisor 保证常驻后台存在：开机、主界面启动时拉起，
// 退出、崩溃或被移出最近任务后重启，连续快速退出时退避；亮屏后延迟把主界面拉回前台。
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"alarmd/pkg/clock"
	"alarmd/pkg/metrics"

	"go.uber.org/zap"
)

// DefaultScreenOnDelay 亮屏到拉起主界面的去抖延迟
const DefaultScreenOnDelay = 300 * time.Millisecond

// 连续快速退出时的退避：运行不足 stableRun 视为快速退出，
// 等待从 minBackoff 起翻倍，上限 maxBackoff
const (
	stableRun  = time.Second
	minBackoff = 100 * time.Millisecond
	maxBackoff = 30 * time.Second
)

// 重启原因，同时作为 supervisor_restart_count 的 reason 标签
const (
	ReasonBoot        = "boot"
	ReasonUILaunched  = "ui_launched"
	ReasonStopped     = "stopped"
	ReasonPanic       = "panic"
	ReasonTaskRemoved = "task_removed"
)

// Presence 常驻后台的工作，Run 阻塞到 ctx 取消或自身退出
type Presence interface {
	Run(ctx context.Context) error
}

// PresenceFunc 把函数适配成 Presence
type PresenceFunc func(ctx context.Context) error

func (f PresenceFunc) Run(ctx context.Context) error { return f(ctx) }

// All 并行运行多个 Presence；任意一个退出时取消其余的，返回最先退出者的错误
func All(presences ...Presence) Presence {
	return PresenceFunc(func(ctx context.Context) error {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		errs := make(chan error, len(presences))
		for _, p := range presences {
			go func(p Presence) {
				errs <- runRecovered(ctx, p)
			}(p)
		}

		err := <-errs
		cancel()
		for i := 1; i < len(presences); i++ {
			<-errs
		}
		return err
	})
}

func runRecovered(ctx context.Context, p Presence) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errPanic, r)
		}
	}()
	return p.Run(ctx)
}

// LaunchOptions 拉起主界面的参数
type LaunchOptions struct {
	FromScreenOn bool
}

// Launcher 把主界面拉到前台
type Launcher interface {
	LaunchMainUI(ctx context.Context, opts LaunchOptions) error
}

var errPanic = errors.New("presence panicked")

type Supervisor struct {
	presence      Presence
	launcher      Launcher
	clock         clock.Clock
	restartDelay  time.Duration
	screenOnDelay time.Duration
	logger        *zap.Logger

	base       context.Context
	baseCancel context.CancelFunc

	mu        sync.Mutex
	running   bool
	stopped   bool
	forced    bool
	cancelRun context.CancelFunc
	debounce  clock.Timer
	screenGen uint64
	wg        sync.WaitGroup
}

func NewSupervisor(presence Presence, launcher Launcher, c clock.Clock, logger *zap.Logger) *Supervisor {
	base, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		presence:      presence,
		launcher:      launcher,
		clock:         c,
		screenOnDelay: DefaultScreenOnDelay,
		logger:        logger,
		base:          base,
		baseCancel:    cancel,
	}
}

// WithRestartDelay 设置 Run 退出后到重启的等待时间，默认 0；
// 连续快速退出时实际等待不低于退避值
func (s *Supervisor) WithRestartDelay(d time.Duration) *Supervisor {
	if d >= 0 {
		s.restartDelay = d
	}
	return s
}

// WithScreenOnDelay 设置亮屏去抖延迟
func (s *Supervisor) WithScreenOnDelay(d time.Duration) *Supervisor {
	if d > 0 {
		s.screenOnDelay = d
	}
	return s
}

// OnBoot 设备启动完成
func (s *Supervisor) OnBoot() {
	s.ensureRunning(ReasonBoot)
}

// OnMainUILaunched 主界面启动
func (s *Supervisor) OnMainUILaunched() {
	s.ensureRunning(ReasonUILaunched)
}

// OnTaskRemoved 应用被移出最近任务：强制重启后台存在
func (s *Supervisor) OnTaskRemoved() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if s.running {
		s.forced = true
		if s.cancelRun != nil {
			s.cancelRun()
		}
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.ensureRunning(ReasonTaskRemoved)
}

// OnScreenOn 亮屏：去抖后拉起主界面，连续信号只触发一次
func (s *Supervisor) OnScreenOn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if s.debounce != nil {
		s.debounce.Stop()
	}
	s.screenGen++
	gen := s.screenGen
	s.debounce = s.clock.AfterFunc(s.screenOnDelay, func() { s.launchFromScreenOn(gen) })
}

// Running 后台存在是否在运行
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Shutdown 停止后台存在，不再重启
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	s.stopped = true
	if s.debounce != nil {
		s.debounce.Stop()
	}
	s.mu.Unlock()

	s.baseCancel()
	s.wg.Wait()
	s.logger.Info("Supervisor stopped")
}

func (s *Supervisor) ensureRunning(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.running {
		return
	}
	s.running = true
	s.wg.Add(1)
	go s.loop(reason)
}

func (s *Supervisor) loop(reason string) {
	defer s.wg.Done()

	fastExits := 0
	for {
		metrics.IncrementSupervisorRestart(reason)
		s.logger.Info("Starting background presence", zap.String("reason", reason))

		runCtx, cancel := context.WithCancel(s.base)
		s.mu.Lock()
		s.cancelRun = cancel
		s.mu.Unlock()

		started := s.clock.Now()
		err := s.runOnce(runCtx)
		cancel()
		ran := s.clock.Now().Sub(started)

		s.mu.Lock()
		s.cancelRun = nil
		if s.stopped {
			s.running = false
			s.mu.Unlock()
			return
		}
		forced := s.forced
		s.forced = false
		s.mu.Unlock()

		switch {
		case forced:
			reason = ReasonTaskRemoved
		case errors.Is(err, errPanic):
			reason = ReasonPanic
		default:
			reason = ReasonStopped
		}
		delay := s.restartDelay
		if ran < stableRun {
			fastExits++
			delay = max(delay, backoff(fastExits))
		} else {
			fastExits = 0
		}
		if forced {
			delay = 0
		}
		s.logger.Warn("Background presence exited, restarting",
			zap.String("reason", reason),
			zap.Duration("ran", ran),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		if !forced && !s.wait(delay) {
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
			return
		}
	}
}

// backoff 第 n 次连续快速退出后的最短等待
func backoff(n int) time.Duration {
	d := minBackoff
	for i := 1; i < n && d < maxBackoff; i++ {
		d *= 2
	}
	return min(d, maxBackoff)
}

// runOnce 执行一次 Run，panic 转成错误
func (s *Supervisor) runOnce(ctx context.Context) error {
	return runRecovered(ctx, s.presence)
}

// wait 等待 d，Shutdown 时返回 false
func (s *Supervisor) wait(d time.Duration) bool {
	if d <= 0 {
		return s.base.Err() == nil
	}
	done := make(chan struct{})
	t := s.clock.AfterFunc(d, func() { close(done) })
	select {
	case <-done:
		return true
	case <-s.base.Done():
		t.Stop()
		return false
	}
}

func (s *Supervisor) launchFromScreenOn(gen uint64) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic while launching main UI", zap.Any("panic", r))
		}
	}()

	s.mu.Lock()
	if s.stopped || gen != s.screenGen {
		// 已被更新的亮屏信号取代
		s.mu.Unlock()
		return
	}
	s.debounce = nil
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(s.base, 5*time.Second)
	defer cancel()
	if err := s.launcher.LaunchMainUI(ctx, LaunchOptions{FromScreenOn: true}); err != nil {
		s.logger.Warn("Failed to launch main UI after screen on", zap.Error(err))
	}
}
