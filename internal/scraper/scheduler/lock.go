package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const lockKeyPrefix = "pricewatch:scheduler:lock:"

// RunLock - распределенная блокировка запуска. release снимает только свою блокировку.
type RunLock interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (release func(), ok bool, err error)
}

type RedisLock struct {
	rdb *redis.Client
}

func NewRedisLock(addr string) *RedisLock {
	return &RedisLock{rdb: redis.NewClient(&redis.Options{Addr: addr})}
}

func NewRedisLockWithClient(rdb *redis.Client) (*RedisLock, error) {
	if rdb == nil {
		return nil, errors.New("redis client is nil")
	}
	return &RedisLock{rdb: rdb}, nil
}

// releaseScript удаляет ключ, только если он все еще принадлежит владельцу.
// KEYS[1] = lock key, ARGV[1] = owner token
var releaseScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

func (l *RedisLock) Acquire(ctx context.Context, name string, ttl time.Duration) (func(), bool, error) {
	key := lockKeyPrefix + name
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		// снимаем блокировку даже если контекст запуска уже отменен
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		releaseScript.Run(releaseCtx, l.rdb, []string{key}, token)
	}
	return release, true, nil
}

func (l *RedisLock) Ping(ctx context.Context) error {
	return l.rdb.Ping(ctx).Err()
}

func (l *RedisLock) Close() error {
	return l.rdb.Close()
}
