package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"alarmd/pkg/config"
	"alarmd/pkg/metrics"
	"alarmd/pkg/trace"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type MessageHandler func(ctx context.Context, data json.RawMessage) error

type Consumer struct {
	channel     *amqp091.Channel
	queue       amqp091.Queue
	routingKeys []string
	handlers    map[string]MessageHandler
	conn        *amqp091.Connection
	logger      *zap.Logger
	stopOnce    sync.Once
	tag         string
}

// NewConsumer creates a consumer bound to one or more routing keys.
// 同一个队列可以绑定多个 routing key，按 routing key 分发给 handler。
func NewConsumer(cfg config.MQConfig, queueName string, routingKeys []string, logger *zap.Logger) (*Consumer, error) {
	conn, err := Dial(cfg, logger)
	if err != nil {
		return nil, err
	}

	exchange := exchangeName(cfg)
	ch, err := openChannel(conn, exchange)
	if err != nil {
		conn.Close()
		return nil, err
	}

	if cfg.Prefetch > 0 {
		if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("failed to set prefetch: %w", err)
		}
	}

	q, err := ch.QueueDeclare(
		queueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	for _, key := range routingKeys {
		if err := ch.QueueBind(q.Name, key, exchange, false, nil); err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("failed to bind queue to %s: %w", key, err)
		}
	}

	logger.Info("Consumer initialized",
		zap.Strings("routing_keys", routingKeys),
		zap.String("queue", queueName),
		zap.String("exchange", exchange),
		zap.Int("prefetch", cfg.Prefetch),
	)

	return &Consumer{
		conn:        conn,
		channel:     ch,
		queue:       q,
		routingKeys: routingKeys,
		handlers:    make(map[string]MessageHandler),
		logger:      logger,
		tag:         "alarmd-" + queueName,
	}, nil
}

// SetHandler 为某个 routing key 注册 handler
func (c *Consumer) SetHandler(routingKey string, h MessageHandler) {
	c.handlers[routingKey] = h
}

// Stop 取消消费，StartConsuming 随后返回
func (c *Consumer) Stop() {
	c.stopOnce.Do(func() {
		if c.channel != nil {
			if err := c.channel.Cancel(c.tag, false); err != nil {
				c.logger.Warn("Failed to cancel consumer", zap.String("queue", c.queue.Name), zap.Error(err))
			}
		}
	})
}

func (c *Consumer) Close() {
	c.Stop()
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// StartConsuming starts consuming messages. This method blocks and should be called in a goroutine.
func (c *Consumer) StartConsuming() error {
	if len(c.handlers) == 0 {
		return fmt.Errorf("consumer handler not set")
	}

	deliveries, err := c.channel.Consume(
		c.queue.Name,
		c.tag,
		false, // 手动ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("Consumer started consuming messages",
		zap.Strings("routing_keys", c.routingKeys),
		zap.String("queue", c.queue.Name),
	)

	for msg := range deliveries {
		c.handleDelivery(msg)
	}
	return nil
}

// handleDelivery 保证每条消息都会被 ack 或 nack
func (c *Consumer) handleDelivery(msg amqp091.Delivery) {
	start := time.Now()
	ctx := context.Background()
	if traceID, ok := msg.Headers[trace.HeaderName].(string); ok && traceID != "" {
		ctx = trace.WithContext(ctx, traceID)
	} else {
		ctx = trace.Ensure(ctx)
	}

	log := c.logger.With(
		zap.String("routing_key", msg.RoutingKey),
		zap.String("queue", c.queue.Name),
		zap.String("trace_id", trace.FromContext(ctx)),
	)

	defer func() {
		if r := recover(); r != nil {
			log.Error("Handler panic recovered", zap.Any("panic", r))
			// panic 的消息不重新入队，避免毒消息无限循环
			if err := msg.Nack(false, false); err != nil {
				log.Error("Failed to nack message after panic", zap.Error(err))
			}
		}
	}()

	handler, ok := c.handlers[msg.RoutingKey]
	if !ok {
		log.Warn("No handler for routing key, dropping message")
		_ = msg.Ack(false)
		return
	}

	if err := handler(ctx, msg.Body); err != nil {
		log.Error("Handler error", zap.Error(err))
		// 业务失败 → 重新入队，让 MQ 重试
		if err := msg.Nack(false, !msg.Redelivered); err != nil {
			log.Error("Failed to nack message", zap.Error(err))
		}
		return
	}

	if err := msg.Ack(false); err != nil {
		log.Error("Failed to ack message", zap.Error(err))
	}
	metrics.RecordMQConsumeLatency(msg.RoutingKey, c.queue.Name, time.Since(start))
}
