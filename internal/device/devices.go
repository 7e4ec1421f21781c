// Package device 无界面环境下的设备实现：屏幕、声音、振动和通知渠道只记录日志并维护状态，
// 供展示组件在服务端进程里驱动。
package device

import (
	"errors"
	"sync"
	"time"

	"alarmd/internal/presentation"

	"go.uber.org/zap"
)

// ErrNoSound 没有配置可播放的声音
var ErrNoSound = errors.New("sound uri is empty")

// Display 记录点亮/释放屏幕
type Display struct {
	mu     sync.Mutex
	held   bool
	logger *zap.Logger
}

func NewDisplay(logger *zap.Logger) *Display {
	return &Display{logger: logger}
}

func (d *Display) WakeAndUnlock() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.held = true
	d.logger.Info("Display wake lock acquired")
	return nil
}

func (d *Display) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.held {
		return
	}
	d.held = false
	d.logger.Info("Display wake lock released")
}

// Held 是否持有唤醒锁
func (d *Display) Held() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.held
}

// SoundCatalog 来自配置的默认声音，空字符串表示设备上没有该类声音
type SoundCatalog struct {
	Alarm        string
	Notification string
}

func (c SoundCatalog) DefaultURI(kind presentation.SoundKind) (string, bool) {
	var uri string
	switch kind {
	case presentation.SoundAlarm:
		uri = c.Alarm
	case presentation.SoundNotification:
		uri = c.Notification
	}
	return uri, uri != ""
}

// SoundPlayer 记录循环播放
type SoundPlayer struct {
	mu      sync.Mutex
	playing string
	logger  *zap.Logger
}

func NewSoundPlayer(logger *zap.Logger) *SoundPlayer {
	return &SoundPlayer{logger: logger}
}

func (p *SoundPlayer) PlayLoop(uri string) error {
	if uri == "" {
		return ErrNoSound
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = uri
	p.logger.Info("Sound playing", zap.String("uri", uri), zap.Bool("looping", true))
	return nil
}

func (p *SoundPlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.playing == "" {
		return
	}
	p.logger.Info("Sound stopped", zap.String("uri", p.playing))
	p.playing = ""
}

// Playing 当前播放的声音，空表示静音
func (p *SoundPlayer) Playing() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// Vibrator 记录振动模式
type Vibrator struct {
	mu       sync.Mutex
	active   bool
	disabled bool
	logger   *zap.Logger
}

// NewVibrator disabled 为 true 时模拟没有振动器的设备
func NewVibrator(disabled bool, logger *zap.Logger) *Vibrator {
	return &Vibrator{disabled: disabled, logger: logger}
}

// ErrNoVibrator 设备不支持振动
var ErrNoVibrator = errors.New("vibrator not available")

func (v *Vibrator) Vibrate(pattern []time.Duration, repeat int) error {
	if v.disabled {
		return ErrNoVibrator
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.active = true
	v.logger.Info("Vibration started",
		zap.Durations("pattern", pattern),
		zap.Int("repeat", repeat),
	)
	return nil
}

func (v *Vibrator) Cancel() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.active {
		return
	}
	v.active = false
	v.logger.Info("Vibration canceled")
}

func (v *Vibrator) Active() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.active
}

// Channels 通知渠道登记表
type Channels struct {
	mu       sync.Mutex
	channels map[string]presentation.ChannelConfig
	logger   *zap.Logger
}

func NewChannels(logger *zap.Logger) *Channels {
	return &Channels{
		channels: make(map[string]presentation.ChannelConfig),
		logger:   logger,
	}
}

// EnsureChannel 已存在同 ID 渠道时不做任何修改
func (c *Channels) EnsureChannel(cfg presentation.ChannelConfig) error {
	if cfg.ID == "" {
		return errors.New("channel id is empty")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.channels[cfg.ID]; ok {
		return nil
	}
	c.channels[cfg.ID] = cfg
	c.logger.Info("Notification channel declared",
		zap.String("channel_id", cfg.ID),
		zap.String("importance", string(cfg.Importance)),
		zap.String("visibility", string(cfg.Visibility)),
		zap.Bool("bypass_dnd", cfg.BypassDND),
		zap.Bool("silent", cfg.Silent),
	)
	return nil
}

func (c *Channels) Get(id string) (presentation.ChannelConfig, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cfg, ok := c.channels[id]
	return cfg, ok
}

// New 组装展示用的一套设备
func New(catalog SoundCatalog, vibratorDisabled bool, logger *zap.Logger) presentation.Devices {
	return presentation.Devices{
		Display:  NewDisplay(logger),
		Catalog:  catalog,
		Sound:    NewSoundPlayer(logger),
		Vibrator: NewVibrator(vibratorDisabled, logger),
	}
}
