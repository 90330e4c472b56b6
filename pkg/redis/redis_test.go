package redis

import (
	"context"
	"os"
	"testing"
	"time"
)

func getTestRedisConfig() *Config {
	cfg := DefaultConfig()

	if host := os.Getenv("TEST_REDIS_HOST"); host != "" {
		cfg.Host = host
	}
	if password := os.Getenv("TEST_REDIS_PASSWORD"); password != "" {
		cfg.Password = password
	}

	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Addr() != "localhost:6379" {
		t.Errorf("Expected localhost:6379, got %s", cfg.Addr())
	}
	if cfg.PoolSize != 100 {
		t.Errorf("Expected pool size 100, got %d", cfg.PoolSize)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("Expected 3 retries, got %d", cfg.MaxRetries)
	}
}

func TestEvalShaByName_NotLoaded(t *testing.T) {
	c := &Client{scripts: make(map[string]*script)}

	err := c.EvalShaByName(context.Background(), "missing", nil).Err()
	if err == nil {
		t.Fatal("Expected error for unknown script")
	}
}

func TestLoadScriptAndEval(t *testing.T) {
	if os.Getenv("INTEGRATION_TEST") != "true" {
		t.Skip("Skipping integration test. Set INTEGRATION_TEST=true to run")
	}

	ctx := context.Background()
	client, err := NewClient(ctx, getTestRedisConfig())
	if err != nil {
		t.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer client.Close()

	key := "test:redis:incr"
	defer client.Del(ctx, key)

	if _, err := client.LoadScript(ctx, "incr", `return redis.call("INCR", KEYS[1])`); err != nil {
		t.Fatalf("Failed to load script: %v", err)
	}

	for i := int64(1); i <= 3; i++ {
		got, err := client.EvalShaByName(ctx, "incr", []string{key}).Int64()
		if err != nil {
			t.Fatalf("Eval failed: %v", err)
		}
		if got != i {
			t.Errorf("Expected %d, got %d", i, got)
		}
	}

	if err := client.Set(ctx, key, "x", time.Minute).Err(); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
}
