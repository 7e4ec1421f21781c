package presentation

import "time"

// Display 点亮屏幕并越过锁屏
type Display interface {
	WakeAndUnlock() error
	Release()
}

// SoundKind 系统默认声音类型
type SoundKind int

const (
	SoundAlarm SoundKind = iota
	SoundNotification
)

// SoundCatalog 查询设备上配置的默认声音
type SoundCatalog interface {
	DefaultURI(kind SoundKind) (string, bool)
}

// SoundPlayer 循环播放声音
type SoundPlayer interface {
	PlayLoop(uri string) error
	Stop()
}

// Vibrator 按模式振动，repeat 为重复起始下标，-1 表示不重复
type Vibrator interface {
	Vibrate(pattern []time.Duration, repeat int) error
	Cancel()
}

// Permissions 展示开始前检查的两项权限：锁屏全屏展示、覆盖在其他界面之上
type Permissions interface {
	CanUseFullScreenIntent() bool
	CanDrawOverlays() bool
}

// Devices 展示用到的设备
type Devices struct {
	Display  Display
	Catalog  SoundCatalog
	Sound    SoundPlayer
	Vibrator Vibrator
}

// VibrationPattern 等待 0ms，振 1s，停 0.5s，振 1s，停 0.5s，从头重复
var VibrationPattern = []time.Duration{
	0,
	1000 * time.Millisecond,
	500 * time.Millisecond,
	1000 * time.Millisecond,
	500 * time.Millisecond,
}

// Importance 通知渠道重要性
type Importance string

// Visibility 锁屏可见性
type Visibility string

const (
	ImportanceHigh   Importance = "high"
	VisibilityPublic Visibility = "public"
)

// ChannelConfig 通知渠道声明
type ChannelConfig struct {
	ID         string
	Name       string
	Importance Importance
	Visibility Visibility
	BypassDND  bool
	// Silent 为 true 时渠道本身不发声，声音和振动由展示自己负责
	Silent bool
}

// AlarmChannel 截止时间闹钟使用的渠道
var AlarmChannel = ChannelConfig{
	ID:         "deadline_alarm",
	Name:       "Deadline alarms",
	Importance: ImportanceHigh,
	Visibility: VisibilityPublic,
	BypassDND:  true,
	Silent:     true,
}

// ChannelRegistrar 声明通知渠道（幂等）
type ChannelRegistrar interface {
	EnsureChannel(cfg ChannelConfig) error
}
