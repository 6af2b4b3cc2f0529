package testutil

import (
	"context"
	"os"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

// RedisAddr returns a Redis address for tests. HOTSPOT_TEST_REDIS_ADDR
// selects a real server; otherwise an in-process miniredis is started and
// closed with the test.
func RedisAddr(t *testing.T) string {
	t.Helper()
	if addr := os.Getenv("HOTSPOT_TEST_REDIS_ADDR"); addr != "" {
		return addr
	}
	mr := miniredis.RunT(t)
	return mr.Addr()
}

// RedisClient connects to addr and flushes it when the test ends.
func RedisClient(t *testing.T, addr string) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("redis ping %s: %v", addr, err)
	}
	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})
	return client
}
