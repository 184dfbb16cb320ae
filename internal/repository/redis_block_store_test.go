package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalForge/internal/domain/models"
)

func TestRedisBlockStore_SetAndActive(t *testing.T) {
	client, mock := redismock.NewClientMock()
	store := NewRedisBlockStore(client, "")
	store.now = func() time.Time { return barTS }
	until := barTS.Add(30 * time.Minute)

	mock.ExpectSet("signalforge:block:AAPL", `{"symbol":"AAPL","until":"2025-03-03T15:30:00Z","reason":"earnings"}`, 30*time.Minute).SetVal("OK")
	require.NoError(t, store.SetBlock(context.Background(), models.ManualBlock{Symbol: "aapl", Until: until, Reason: "earnings"}))

	mock.ExpectGet("signalforge:block:AAPL").SetVal(`{"symbol":"AAPL","until":"2025-03-03T15:30:00Z","reason":"earnings"}`)
	b, err := store.ActiveBlock(context.Background(), "AAPL", barTS.Add(time.Minute))
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.True(t, b.Until.Equal(until))
	assert.Equal(t, "earnings", b.Reason)

	mock.ExpectGet("signalforge:block:MSFT").RedisNil()
	b, err = store.ActiveBlock(context.Background(), "MSFT", barTS)
	require.NoError(t, err)
	assert.Nil(t, b)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisBlockStore_PastWindowClears(t *testing.T) {
	client, mock := redismock.NewClientMock()
	store := NewRedisBlockStore(client, "sf:block")
	store.now = func() time.Time { return barTS }

	mock.ExpectDel("sf:block:TSLA").SetVal(1)
	require.NoError(t, store.SetBlock(context.Background(), models.ManualBlock{Symbol: "TSLA", Until: barTS.Add(-time.Minute)}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisBlockStore_ErrorPropagates(t *testing.T) {
	client, mock := redismock.NewClientMock()
	store := NewRedisBlockStore(client, "")

	mock.ExpectGet("signalforge:block:AAPL").SetErr(errors.New("connection refused"))
	_, err := store.ActiveBlock(context.Background(), "AAPL", barTS)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
