package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRedisBrokerRoundTrip(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	broker := NewRedisBrokerWithClient(client, "test", zaptest.NewLogger(t))
	defer broker.Close()

	sub, err := broker.Subscriber("analysis-result", "analysis-results-group")
	require.NoError(t, err)
	defer sub.Close()

	// A second subscriber must join the existing group without error.
	other, err := broker.Subscriber("analysis-result", "analysis-results-group")
	require.NoError(t, err)
	defer other.Close()

	pub, err := broker.Publisher("analysis-result")
	require.NoError(t, err)
	require.NoError(t, pub.Publish(context.Background(), "c-9", []byte(`{"contentId":"c-9"}`)))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msg, err := sub.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "c-9", msg.Key)
	assert.JSONEq(t, `{"contentId":"c-9"}`, string(msg.Value))
	msg.Ack()

	pending, err := client.XPending(context.Background(), "analysis-result", "analysis-results-group").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), pending.Count)
}

func TestRedisSubscriberClosed(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	broker := NewRedisBrokerWithClient(client, "test", nil)
	defer broker.Close()

	sub, err := broker.Subscriber("content", "g")
	require.NoError(t, err)
	require.NoError(t, sub.Close())
	_, err = sub.Receive(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
