package publisher_test

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/events"
	"github.com/tolelom/tolmarket/publisher"
)

func getRedisClient(t *testing.T) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client, err := publisher.Connect(context.Background(), addr, "", 0)
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	return client
}

func TestPublishSale(t *testing.T) {
	client := getRedisClient(t)
	ctx := context.Background()
	channel := "tolmarket-test:" + time.Now().Format("150405.000000")

	watcher := redis.NewClient(&redis.Options{Addr: client.Options().Addr})
	defer watcher.Close()
	sub := watcher.Subscribe(ctx, channel+":"+string(events.EventBought))
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	p := publisher.NewRedis(client, channel, 16, nil)
	em := events.NewEmitter(nil)
	p.Attach(em)
	client.HDel(ctx, publisher.LastSaleKey, "redis-test-item")

	em.Emit(events.New(events.WithTx(ctx, "tx9"), events.EventBought, map[string]any{
		"item_id": "redis-test-item", "seller": "A", "buyer": "B", "value": uint64(42),
	}))

	msg, err := sub.ReceiveMessage(ctx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	var ev events.Event
	if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Type != events.EventBought || ev.TxID != "tx9" {
		t.Errorf("published event: %+v", ev)
	}

	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	raw, err := watcher.HGet(ctx, publisher.LastSaleKey, "redis-test-item").Result()
	if err != nil {
		t.Fatalf("last sale: %v", err)
	}
	var sale core.Sale
	if err := json.Unmarshal([]byte(raw), &sale); err != nil {
		t.Fatal(err)
	}
	if sale.Value != 42 || sale.Kind != core.SaleOffer {
		t.Errorf("last sale: %+v", sale)
	}
	watcher.HDel(ctx, publisher.LastSaleKey, "redis-test-item")
}
