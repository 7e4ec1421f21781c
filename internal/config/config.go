package config

import (
	"fmt"
	"time"

	"alarmd/pkg/config"
)

const (
	RegistryMemory = "memory"
	RegistryRedis  = "redis"
)

type Config struct {
	LogLevel     string              `yaml:"log_level"`
	DB           config.DBConfig     `yaml:"db"`
	MQ           config.MQConfig     `yaml:"mq"`
	Redis        config.RedisConfig  `yaml:"redis"`
	JWT          config.JWTConfig    `yaml:"jwt"`
	Server       config.ServerConfig `yaml:"server"`
	Consumer     ConsumerConfig      `yaml:"consumer"`
	TaskService  TaskServiceConfig   `yaml:"task_service"`
	Permissions  PermissionsConfig   `yaml:"permissions"`
	Presentation PresentationConfig  `yaml:"presentation"`
	Supervisor   SupervisorConfig    `yaml:"supervisor"`
	Registry     RegistryConfig      `yaml:"registry"`
	Credential   CredentialConfig    `yaml:"credential"`
}

type ConsumerConfig struct {
	Queue    string        `yaml:"queue"`
	DedupTTL time.Duration `yaml:"dedup_ttl"`
}

// TaskServiceConfig 远程任务服务
type TaskServiceConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// PermissionsConfig 平台授予的权限，由部署方声明
type PermissionsConfig struct {
	ExactAlarm       bool `yaml:"exact_alarm"`
	FullScreenIntent bool `yaml:"full_screen_intent"`
	Overlay          bool `yaml:"overlay"`
}

type PresentationConfig struct {
	Timeout           time.Duration `yaml:"timeout"`
	AlarmSound        string        `yaml:"alarm_sound"`
	NotificationSound string        `yaml:"notification_sound"`
	VibratorDisabled  bool          `yaml:"vibrator_disabled"`
	HistoryBuffer     int           `yaml:"history_buffer"`
}

type SupervisorConfig struct {
	RestartDelay      time.Duration `yaml:"restart_delay"`
	ScreenOnDelay     time.Duration `yaml:"screen_on_delay"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// RegistryConfig 闹钟注册表后端：memory 仅进程内，redis 可跨重启
type RegistryConfig struct {
	Backend      string        `yaml:"backend"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type CredentialConfig struct {
	Key string `yaml:"key"`
}

// Default 未配置项的默认值
func Default() Config {
	return Config{
		LogLevel: "info",
		DB:       config.DBConfig{SSLMode: "disable", MaxConns: 4},
		MQ:       config.MQConfig{Exchange: "alarm.events", Prefetch: 16, ConnectRetries: 5},
		Redis:    config.RedisConfig{PoolSize: 10},
		Server:   config.ServerConfig{Port: "8090", ShutdownTimeout: 30 * time.Second},
		Consumer: ConsumerConfig{
			Queue:    "alarmd.events.q",
			DedupTTL: 10 * time.Minute,
		},
		TaskService: TaskServiceConfig{Timeout: 10 * time.Second},
		Presentation: PresentationConfig{
			Timeout:       60 * time.Second,
			HistoryBuffer: 64,
		},
		Supervisor: SupervisorConfig{
			ScreenOnDelay:     300 * time.Millisecond,
			HeartbeatInterval: 10 * time.Second,
		},
		Registry: RegistryConfig{
			Backend:      RegistryRedis,
			PollInterval: 500 * time.Millisecond,
		},
		Credential: CredentialConfig{Key: "alarm:credential"},
	}
}

// Load 读取 config/base.yaml + <env>.yaml，再用环境变量覆盖
func Load(env, dir string) (*Config, error) {
	cfg := Default()
	if err := config.Decode(env, dir, &cfg); err != nil {
		return nil, err
	}

	// 环境变量覆盖
	config.OverrideDBFromEnv(&cfg.DB)
	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideRedisFromEnv(&cfg.Redis)
	config.OverrideJWTFromEnv(&cfg.JWT)
	config.OverrideServerFromEnv(&cfg.Server)
	overrideFromEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func overrideFromEnv(cfg *Config) {
	cfg.LogLevel = config.StringFromEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.TaskService.BaseURL = config.StringFromEnv("TASK_SERVICE_URL", cfg.TaskService.BaseURL)
	cfg.Registry.Backend = config.StringFromEnv("ALARM_REGISTRY_BACKEND", cfg.Registry.Backend)
	cfg.Consumer.Queue = config.StringFromEnv("ALARM_QUEUE", cfg.Consumer.Queue)

	cfg.Permissions.ExactAlarm = config.BoolFromEnv("PERMISSION_EXACT_ALARM", cfg.Permissions.ExactAlarm)
	cfg.Permissions.FullScreenIntent = config.BoolFromEnv("PERMISSION_FULL_SCREEN_INTENT", cfg.Permissions.FullScreenIntent)
	cfg.Permissions.Overlay = config.BoolFromEnv("PERMISSION_OVERLAY", cfg.Permissions.Overlay)

	cfg.TaskService.Timeout = config.DurationFromEnv("TASK_SERVICE_TIMEOUT", cfg.TaskService.Timeout)
	cfg.Presentation.Timeout = config.DurationFromEnv("PRESENTATION_TIMEOUT", cfg.Presentation.Timeout)
	cfg.Supervisor.RestartDelay = config.DurationFromEnv("SUPERVISOR_RESTART_DELAY", cfg.Supervisor.RestartDelay)
	cfg.Supervisor.ScreenOnDelay = config.DurationFromEnv("SUPERVISOR_SCREEN_ON_DELAY", cfg.Supervisor.ScreenOnDelay)
	cfg.Registry.PollInterval = config.DurationFromEnv("ALARM_REGISTRY_POLL_INTERVAL", cfg.Registry.PollInterval)
}

// Validate 启动前检查必填项
func (c *Config) Validate() error {
	if c.TaskService.BaseURL == "" {
		return fmt.Errorf("task_service.base_url is required")
	}
	if c.JWT.Secret == "" {
		return fmt.Errorf("jwt.secret is required")
	}
	if c.MQ.URL == "" {
		return fmt.Errorf("mq.url is required")
	}
	if c.MQ.Exchange == "" {
		return fmt.Errorf("mq.exchange is required")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}
	switch c.Registry.Backend {
	case RegistryMemory, RegistryRedis:
	default:
		return fmt.Errorf("unknown registry backend %q", c.Registry.Backend)
	}
	if c.Registry.PollInterval <= 0 {
		return fmt.Errorf("registry.poll_interval must be positive")
	}
	return nil
}
