//go:build integration

package integration

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
)

// Redis connects to the server named by REDIS_ADDR (default localhost:6379)
// and returns a client scoped to the test.
func Redis(t *testing.T) *redis.Client {
	t.Helper()

	addr := envOr("REDIS_ADDR", "localhost:6379")
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("redis not available at %s: %v", addr, err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// FlushPrefix deletes every key under the given prefix. Use a unique prefix
// per test to avoid collisions on a shared server.
func FlushPrefix(ctx context.Context, client *redis.Client, prefix string) error {
	iter := client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}
