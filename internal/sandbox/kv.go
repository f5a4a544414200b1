package sandbox

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// KVStore is the plugin key-value capability (kv_get/kv_set/kv_delete),
// namespaced per plugin so two plugins never see each other's keys.
type KVStore struct {
	client *redis.Client
}

func NewKVStore(client *redis.Client) *KVStore {
	return &KVStore{client: client}
}

func namespacedKey(plugin, key string) string {
	return fmt.Sprintf("octabot:plugin:%s:%s", plugin, key)
}

func (s *KVStore) Get(ctx context.Context, plugin, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, namespacedKey(plugin, key)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *KVStore) Set(ctx context.Context, plugin, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, namespacedKey(plugin, key), value, ttl).Err()
}

func (s *KVStore) Delete(ctx context.Context, plugin, key string) error {
	return s.client.Del(ctx, namespacedKey(plugin, key)).Err()
}
