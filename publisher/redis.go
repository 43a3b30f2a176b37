// Package publisher fans committed marketplace events out to Redis so other
// services can follow the market without polling the node.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tolelom/tolmarket/events"
	"github.com/tolelom/tolmarket/internal/queue"
	"go.uber.org/zap"
)

// LastSaleKey is the Redis hash mapping item ID to its latest sale.
const LastSaleKey = "tolmarket:last_sale"

// Redis publishes every event as JSON on a channel, and on a per-type
// channel "<channel>:<type>". Completed sales are also recorded in
// LastSaleKey. Publishing happens on a background worker so a slow Redis
// never holds up the ledger.
type Redis struct {
	client  *redis.Client
	channel string
	timeout time.Duration
	q       *queue.Queue[events.Event]
	log     *zap.Logger
}

// NewRedis creates a publisher with room for buffer pending events.
func NewRedis(client *redis.Client, channel string, buffer int, log *zap.Logger) *Redis {
	if log == nil {
		log = zap.NewNop()
	}
	return &Redis{
		client:  client,
		channel: channel,
		timeout: 2 * time.Second,
		q:       queue.New[events.Event](buffer),
		log:     log.Named("publisher"),
	}
}

// Connect dials Redis and checks it responds.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis %s: %w", addr, err)
	}
	return client, nil
}

// Attach subscribes the publisher to every event on em and starts the
// worker.
func (p *Redis) Attach(em *events.Emitter) {
	p.q.Start(1, func(_ int, ev events.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()
		if err := p.Publish(ctx, ev); err != nil {
			p.log.Warn("publish failed", zap.String("event", string(ev.Type)), zap.Error(err))
		}
	})
	em.SubscribeAll(func(ev events.Event) {
		if !p.q.Push(ev) {
			p.log.Warn("event dropped, publish queue full", zap.String("event", string(ev.Type)), zap.String("tx", ev.TxID))
		}
	})
}

// Publish sends ev synchronously.
func (p *Redis) Publish(ctx context.Context, ev events.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	pipe := p.client.TxPipeline()
	pipe.Publish(ctx, p.channel, data)
	pipe.Publish(ctx, p.channel+":"+string(ev.Type), data)
	if sale, ok := events.SaleFromEvent(ev); ok {
		raw, err := json.Marshal(sale)
		if err != nil {
			return fmt.Errorf("encode sale: %w", err)
		}
		pipe.HSet(ctx, LastSaleKey, sale.ItemID, raw)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Close drains pending events and closes the client.
func (p *Redis) Close() error {
	p.q.Close()
	return p.client.Close()
}
