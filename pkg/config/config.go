package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

// DBConfig 历史库连接；Enabled=false 时服务不连数据库
type DBConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int32  `yaml:"max_conns"`
}

// DSN 拼出 pgx 可解析的连接串，用户名和密码会被转义
func (c DBConfig) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Name,
		RawQuery: url.Values{"sslmode": {sslMode}}.Encode(),
	}
	return u.String()
}

// MQConfig 消息队列配置
type MQConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
	// 每个消费者未 ack 的最大消息数，0 表示不限制
	Prefetch int `yaml:"prefetch"`
	// 启动时连接失败的重试次数
	ConnectRetries int `yaml:"connect_retries"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// ServerConfig 控制面 HTTP 服务
type ServerConfig struct {
	Port            string        `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// OverrideDBFromEnv 从环境变量覆盖数据库配置
func OverrideDBFromEnv(cfg *DBConfig) {
	cfg.Enabled = BoolFromEnv("DB_ENABLED", cfg.Enabled)
	cfg.Host = StringFromEnv("DB_HOST", cfg.Host)
	cfg.Port = IntFromEnv("DB_PORT", cfg.Port)
	cfg.User = StringFromEnv("DB_USER", cfg.User)
	cfg.Password = StringFromEnv("DB_PASSWORD", cfg.Password)
	cfg.Name = StringFromEnv("DB_NAME", cfg.Name)
	cfg.SSLMode = StringFromEnv("DB_SSLMODE", cfg.SSLMode)
}

// OverrideMQFromEnv 从环境变量覆盖MQ配置
func OverrideMQFromEnv(cfg *MQConfig) {
	cfg.URL = StringFromEnv("MQ_URL", cfg.URL)
	cfg.Exchange = StringFromEnv("MQ_EXCHANGE", cfg.Exchange)
	cfg.Prefetch = IntFromEnv("MQ_PREFETCH", cfg.Prefetch)
}

// OverrideRedisFromEnv 从环境变量覆盖Redis配置
func OverrideRedisFromEnv(cfg *RedisConfig) {
	cfg.Addr = StringFromEnv("REDIS_ADDR", cfg.Addr)
	cfg.Password = StringFromEnv("REDIS_PASSWORD", cfg.Password)
	cfg.DB = IntFromEnv("REDIS_DB", cfg.DB)
}

func OverrideJWTFromEnv(cfg *JWTConfig) {
	cfg.Secret = StringFromEnv("JWT_SECRET", cfg.Secret)
}

func OverrideServerFromEnv(cfg *ServerConfig) {
	cfg.Port = StringFromEnv("SERVER_PORT", cfg.Port)
	cfg.ShutdownTimeout = DurationFromEnv("SERVER_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
}

// StringFromEnv 环境变量非空时返回它，否则返回原值
func StringFromEnv(key, current string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return current
}

// IntFromEnv 解析失败保留原值
func IntFromEnv(key string, current int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return current
}

// BoolFromEnv 解析失败保留原值
func BoolFromEnv(key string, current bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return current
}

// DurationFromEnv 读取 time.ParseDuration 格式的环境变量，解析失败保留原值
func DurationFromEnv(key string, current time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return current
}
