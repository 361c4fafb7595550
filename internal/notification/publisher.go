package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"formation-review/internal/common/logger"

	"github.com/redis/go-redis/v9"
)

// Publisher hands a live frame to every subscriber of a recipient.
type Publisher interface {
	Publish(ctx context.Context, recipientID string, msg []byte) error
}

// LocalPublisher delivers straight to the in-process hub.
type LocalPublisher struct {
	hub *Hub
}

func NewLocalPublisher(hub *Hub) *LocalPublisher {
	return &LocalPublisher{hub: hub}
}

func (p *LocalPublisher) Publish(_ context.Context, recipientID string, msg []byte) error {
	p.hub.Publish(recipientID, msg)
	return nil
}

type relayEnvelope struct {
	RecipientID string          `json:"recipient_id"`
	Payload     json.RawMessage `json:"payload"`
}

// RedisRelay publishes through a redis channel so every API replica delivers
// to its own subscribers.
type RedisRelay struct {
	client  *redis.Client
	channel string
	hub     *Hub
	logger  logger.Logger
}

func NewRedisRelay(client *redis.Client, channel string, hub *Hub, log logger.Logger) *RedisRelay {
	return &RedisRelay{
		client:  client,
		channel: channel,
		hub:     hub,
		logger:  log.WithFields(map[string]interface{}{"component": "live-relay"}),
	}
}

func (r *RedisRelay) Publish(ctx context.Context, recipientID string, msg []byte) error {
	body, err := json.Marshal(relayEnvelope{RecipientID: recipientID, Payload: msg})
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel, body).Err(); err != nil {
		return fmt.Errorf("relay publish: %w", err)
	}
	return nil
}

// Start subscribes to the relay channel and forwards messages to the hub
// until ctx is cancelled. It returns once the subscription is confirmed.
func (r *RedisRelay) Start(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("relay subscribe %s: %w", r.channel, err)
	}

	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				r.forward(m.Payload)
			}
		}
	}()

	r.logger.Info("live relay subscribed", map[string]interface{}{"channel": r.channel})
	return nil
}

func (r *RedisRelay) forward(raw string) {
	var env relayEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil || env.RecipientID == "" {
		r.logger.Warn("dropping malformed relay message", map[string]interface{}{"error": err})
		return
	}
	r.hub.Publish(env.RecipientID, env.Payload)
}
