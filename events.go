package tempaccess

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	eventExchange       = "access-events"
	grantExpiredRouting = "grant.expired"
)

// ExpiryPublisher emits grant expiry events for notification and audit
// consumers.
type ExpiryPublisher interface {
	PublishGrantExpired(ctx context.Context, grant *AccessGrant) error
	Close() error
}

// GrantExpiredEvent is the wire payload for an expiry notification.
type GrantExpiredEvent struct {
	GrantID   string    `json:"grantId"`
	Username  string    `json:"username"`
	Role      Role      `json:"role"`
	ExpiresAt time.Time `json:"expiresAt"`
	EmittedAt time.Time `json:"emittedAt"`
}

// EventPublisher publishes expiry events to RabbitMQ. An empty URI builds
// a disabled publisher so deployments without a broker keep working.
type EventPublisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	log     *zap.SugaredLogger

	// enabled flips to false from the NotifyClose goroutine while publish
	// calls keep reading it.
	enabled atomic.Bool
}

// NewEventPublisher connects to RabbitMQ and declares the event exchange.
func NewEventPublisher(uri string, log *zap.SugaredLogger) (*EventPublisher, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if uri == "" {
		log.Warn("RabbitMQ URI is empty, expiry event publishing is disabled")
		return &EventPublisher{log: log}, nil
	}

	conn, err := amqp.Dial(uri)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	if err := channel.ExchangeDeclare(eventExchange, "topic", true, false, false, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	p := &EventPublisher{conn: conn, channel: channel, log: log}
	p.enabled.Store(true)

	closeChan := make(chan *amqp.Error, 1)
	conn.NotifyClose(closeChan)
	go func() {
		if err := <-closeChan; err != nil {
			p.log.Warnw("RabbitMQ connection closed, expiry events disabled", "error", err)
			p.enabled.Store(false)
		}
	}()

	return p, nil
}

// PublishGrantExpired emits one expiry event for a grant.
func (p *EventPublisher) PublishGrantExpired(ctx context.Context, grant *AccessGrant) error {
	if !p.enabled.Load() {
		return nil
	}

	event := GrantExpiredEvent{
		GrantID:   grant.ID,
		Username:  grant.Username,
		Role:      grant.Role,
		ExpiresAt: grant.ExpiresAt,
		EmittedAt: time.Now(),
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode expiry event: %w", err)
	}

	err = p.channel.PublishWithContext(ctx, eventExchange, grantExpiredRouting, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish expiry event: %w", err)
	}

	p.log.Infow("published expiry event", "grant", grant.ID, "username", grant.Username)
	return nil
}

// Close releases the channel and connection.
func (p *EventPublisher) Close() error {
	if !p.enabled.Swap(false) {
		return nil
	}
	if err := p.channel.Close(); err != nil {
		return err
	}
	return p.conn.Close()
}
