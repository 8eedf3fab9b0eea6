package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexofis/lexofis/internal/auth"
)

func TestRedisEventBusPublishSubscribe(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	bus := auth.NewRedisEventBus(client, "", nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	want := auth.Event{Kind: auth.EventSignedOut, At: baseTime}
	require.NoError(t, bus.Publish(ctx, want))

	select {
	case got := <-events:
		assert.Equal(t, auth.EventSignedOut, got.Kind)
		assert.True(t, got.At.Equal(baseTime))
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
	}
}

func TestRedisEventBusSkipsMalformedPayloads(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	bus := auth.NewRedisEventBus(client, "", nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	require.NoError(t, client.Publish(ctx, auth.DefaultEventChannel, "{garbage").Err())
	require.NoError(t, bus.Publish(ctx, auth.Event{Kind: auth.EventRotated, At: baseTime}))

	select {
	case got := <-events:
		// The broken payload was skipped, the next one came through.
		assert.Equal(t, auth.EventRotated, got.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
	}
}

func TestRedisEventBusClosesOnContextCancel(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	bus := auth.NewRedisEventBus(client, "lexofis:test:events", nil)

	ctx, cancel := context.WithCancel(context.Background())
	events, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	cancel()

	select {
	case _, ok := <-events:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("event channel not closed after cancel")
	}
}
