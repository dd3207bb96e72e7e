package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rental-marketplace/backend/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestEventJSONShape(t *testing.T) {
	e := Event{
		Type:       EventMilestoneChanged,
		EntityID:   "tx-1",
		OccurredAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		Payload:    map[string]any{"milestone_type": "keys_transferred", "status": "completed"},
	}

	data, err := json.Marshal(e)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "milestone_changed", raw["type"])
	assert.Equal(t, "tx-1", raw["entity_id"])
	assert.Equal(t, "2026-03-01T10:00:00Z", raw["occurred_at"])
	assert.Equal(t, "keys_transferred", raw["payload"].(map[string]any)["milestone_type"])
}

func TestRedisDispatchRecoversPanic(t *testing.T) {
	s := NewRedisSubscriber(nil, zap.NewNop())
	calls := 0

	assert.NotPanics(t, func() {
		s.dispatch(StreamEscrow, Event{Type: EventTransactionCreated}, func(Event) {
			calls++
			panic("boom")
		})
	})
	s.dispatch(StreamEscrow, Event{Type: EventTransactionCreated}, func(Event) { calls++ })
	assert.Equal(t, 2, calls)
}

func TestNewBackendDefaultsToRedis(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	defer rdb.Close()

	bus, err := NewBackend(&config.Config{EventsBackend: config.EventsBackendRedis}, rdb, "test", zap.NewNop())
	require.NoError(t, err)
	defer bus.Close()
	assert.IsType(t, &RedisPublisher{}, bus.Publisher)
	assert.IsType(t, &RedisSubscriber{}, bus.Subscriber)
}
