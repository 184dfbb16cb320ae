package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"SignalForge/internal/domain/models"
)

// RedisBlockStore keeps manual trading blocks as expiring keys, one per symbol.
type RedisBlockStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

func NewRedisBlockStore(client *redis.Client, prefix string) *RedisBlockStore {
	if prefix == "" {
		prefix = "signalforge:block"
	}
	return &RedisBlockStore{client: client, prefix: prefix, now: time.Now}
}

func (s *RedisBlockStore) key(symbol string) string {
	return s.prefix + ":" + strings.ToUpper(symbol)
}

// SetBlock stores the block until b.Until. A window already in the past clears the block.
func (s *RedisBlockStore) SetBlock(ctx context.Context, b models.ManualBlock) error {
	ttl := b.Until.Sub(s.now())
	if ttl <= 0 {
		return s.client.Del(ctx, s.key(b.Symbol)).Err()
	}
	b.Symbol = strings.ToUpper(b.Symbol)
	b.Until = b.Until.UTC()
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal block: %w", err)
	}
	if err := s.client.Set(ctx, s.key(b.Symbol), string(data), ttl).Err(); err != nil {
		return fmt.Errorf("set block %s: %w", b.Symbol, err)
	}
	return nil
}

func (s *RedisBlockStore) ActiveBlock(ctx context.Context, symbol string, now time.Time) (*models.ManualBlock, error) {
	data, err := s.client.Get(ctx, s.key(symbol)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get block %s: %w", symbol, err)
	}
	var b models.ManualBlock
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode block %s: %w", symbol, err)
	}
	if !now.Before(b.Until) {
		return nil, nil
	}
	return &b, nil
}
