package mq

import (
	"fmt"
	"time"

	"alarmd/pkg/config"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// DefaultExchange 应用内广播使用的 topic exchange
const DefaultExchange = "alarm.events"

const connectBackoff = 2 * time.Second

// Dial 连接 RabbitMQ；启动时 broker 可能还没就绪，按 ConnectRetries 重试
func Dial(cfg config.MQConfig, logger *zap.Logger) (*amqp091.Connection, error) {
	attempts := cfg.ConnectRetries + 1
	var lastErr error
	for i := 1; i <= attempts; i++ {
		conn, err := amqp091.Dial(cfg.URL)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if i < attempts {
			logger.Warn("RabbitMQ not reachable, retrying",
				zap.Int("attempt", i),
				zap.Int("max_attempts", attempts),
				zap.Error(err),
			)
			time.Sleep(connectBackoff)
		}
	}
	return nil, fmt.Errorf("connect to RabbitMQ after %d attempts: %w", attempts, lastErr)
}

func exchangeName(cfg config.MQConfig) string {
	if cfg.Exchange == "" {
		return DefaultExchange
	}
	return cfg.Exchange
}

// openChannel 打开 channel 并声明 durable topic exchange
func openChannel(conn *amqp091.Connection, exchange string) (*amqp091.Channel, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return ch, nil
}
