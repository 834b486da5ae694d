package services

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const referenceKeyPrefix = "checkout:reference:"

// RedisReferenceStore reserves payment references across every replica of the service.
type RedisReferenceStore struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisReferenceStore keeps reservations for ttl, which must outlive any
// attempt that could still be settled.
func NewRedisReferenceStore(client redis.Cmdable, ttl time.Duration) *RedisReferenceStore {
	return &RedisReferenceStore{client: client, ttl: ttl}
}

func (s *RedisReferenceStore) Reserve(ctx context.Context, reference string) (bool, error) {
	return s.client.SetNX(ctx, referenceKeyPrefix+reference, time.Now().Unix(), s.ttl).Result()
}
