package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"alarmd/pkg/config"
	"alarmd/pkg/trace"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Publisher 向 exchange 发布 JSON 消息；channel 被 broker 关闭后下次发布时重新打开
type Publisher struct {
	conn     *amqp091.Connection
	exchange string
	logger   *zap.Logger

	mu      sync.Mutex // amqp channel 不是并发安全的
	channel *amqp091.Channel
}

func NewPublisher(cfg config.MQConfig, logger *zap.Logger) (*Publisher, error) {
	conn, err := Dial(cfg, logger)
	if err != nil {
		return nil, err
	}

	exchange := exchangeName(cfg)
	ch, err := openChannel(conn, exchange)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	return &Publisher{
		conn:     conn,
		exchange: exchange,
		channel:  ch,
		logger:   logger,
	}, nil
}

func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}

// IsConnected 连接仍然存活（channel 可以重开）
func (p *Publisher) IsConnected() bool {
	return p.conn != nil && !p.conn.IsClosed()
}

// Publish 以持久化消息发布，trace_id 通过 header 传播
func (p *Publisher) Publish(ctx context.Context, routingKey string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", routingKey, err)
	}

	headers := amqp091.Table{}
	if traceID := trace.FromContext(ctx); traceID != "" {
		headers[trace.HeaderName] = traceID
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel == nil || p.channel.IsClosed() {
		if !p.IsConnected() {
			return fmt.Errorf("publish %s: connection closed", routingKey)
		}
		ch, err := openChannel(p.conn, p.exchange)
		if err != nil {
			return fmt.Errorf("publish %s: %w", routingKey, err)
		}
		p.logger.Info("Publisher channel reopened", zap.String("exchange", p.exchange))
		p.channel = ch
	}

	return p.channel.PublishWithContext(
		ctx,
		p.exchange,
		routingKey,
		false,
		false,
		amqp091.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp091.Persistent,
			Headers:      headers,
		},
	)
}
