package game

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Persistence stores and recovers game snapshots.
type Persistence interface {
	Save(ctx context.Context, matchID string, snap Snapshot) error
	Load(ctx context.Context, matchID string) (Snapshot, bool, error)
	Delete(ctx context.Context, matchID string) error
}

type RedisGameStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisGameStore(rdb *redis.Client, ttl time.Duration) *RedisGameStore {
	return &RedisGameStore{rdb: rdb, ttl: ttl}
}

func (s *RedisGameStore) key(matchID string) string {
	return fmt.Sprintf("game:%s:snapshot", matchID)
}

func (s *RedisGameStore) Save(ctx context.Context, matchID string, snap Snapshot) error {
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.key(matchID), b, s.ttl).Err()
}

func (s *RedisGameStore) Load(ctx context.Context, matchID string) (Snapshot, bool, error) {
	val, err := s.rdb.Get(ctx, s.key(matchID)).Bytes()
	if err == redis.Nil {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, err
	}

	var snap Snapshot
	if err := json.Unmarshal(val, &snap); err != nil {
		return Snapshot{}, false, err
	}
	return snap, true, nil
}

func (s *RedisGameStore) Delete(ctx context.Context, matchID string) error {
	return s.rdb.Del(ctx, s.key(matchID)).Err()
}
