package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/authz-api/pkg/circuitbreaker"
	"github.com/jwalitptl/authz-api/pkg/messaging"
)

func unreachable() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
}

func TestNewRedisBroker_BadURL(t *testing.T) {
	_, err := NewRedisBroker(context.Background(), Config{URL: "://nope"})
	assert.Error(t, err)
}

func TestPublish_OpensBreakerOnFailures(t *testing.T) {
	b := NewRedisBrokerFromClient(unreachable(), nil)
	defer b.Close()

	msg := messaging.Message{Type: "audit", Source: "test", Timestamp: time.Now(), Payload: map[string]string{"k": "v"}}
	for i := 0; i < 5; i++ {
		err := b.Publish(context.Background(), "audit-events", msg)
		require.Error(t, err)
		assert.NotErrorIs(t, err, circuitbreaker.ErrOpen)
	}

	err := b.Publish(context.Background(), "audit-events", msg)
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
}

func TestPublishSubscribe(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	b, err := NewRedisBroker(ctx, Config{URL: url})
	require.NoError(t, err)
	defer b.Close()

	ch, err := b.Subscribe(ctx, "authz-test")
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "authz-test", messaging.Message{Type: "audit", Payload: "hello"}))

	select {
	case msg := <-ch:
		assert.Equal(t, "audit", msg.Type)
		assert.Equal(t, "hello", msg.Payload)
	case <-ctx.Done():
		t.Fatal("no message received")
	}
}
