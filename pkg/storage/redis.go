package storage

import (
	"context"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces all offlinekit data inside a shared Redis instance.
const keyPrefix = "ok"

// Redis is a Backend persisted in Redis. Namespaces are encoded into the
// Redis key: ok:{namespace}:{key}.
type Redis struct {
	client *redis.Client
}

// NewRedis creates a Redis-backed Backend.
func NewRedis(client *redis.Client) *Redis {
	if client == nil {
		panic("redis client cannot be nil")
	}
	return &Redis{client: client}
}

func redisKey(namespace, key string) string {
	return keyPrefix + ":" + namespace + ":" + key
}

// Read returns the value stored under namespace/key.
func (r *Redis) Read(ctx context.Context, namespace, key string) ([]byte, error) {
	value, err := r.client.Get(ctx, redisKey(namespace, key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, &Error{Op: "read", Namespace: namespace, Err: err}
	}
	return value, nil
}

// Write stores value under namespace/key. Redis SET replaces atomically.
func (r *Redis) Write(ctx context.Context, namespace, key string, value []byte) error {
	if err := r.client.Set(ctx, redisKey(namespace, key), value, 0).Err(); err != nil {
		return &Error{Op: "write", Namespace: namespace, Err: err}
	}
	return nil
}

// Delete removes namespace/key.
func (r *Redis) Delete(ctx context.Context, namespace, key string) error {
	if err := r.client.Del(ctx, redisKey(namespace, key)).Err(); err != nil {
		return &Error{Op: "delete", Namespace: namespace, Err: err}
	}
	return nil
}

// List returns all keys in the namespace, sorted. Uses SCAN so large
// namespaces do not block the Redis server.
func (r *Redis) List(ctx context.Context, namespace string) ([]string, error) {
	prefix := keyPrefix + ":" + namespace + ":"

	var keys []string
	iter := r.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, &Error{Op: "list", Namespace: namespace, Err: err}
	}

	sort.Strings(keys)
	return keys, nil
}
