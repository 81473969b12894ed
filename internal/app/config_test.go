package app

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func validConfig() Config {
	return Config{
		Addr:        "0.0.0.0:8080",
		DatabaseURL: "postgres://localhost/storefront",
		Storage:     StorageConfig{Driver: DriverPostgres},
		Auth:        AuthConfig{Secret: "s3cret", TokenTTL: time.Hour},
		RateLimit:   RateLimitConfig{Max: 10, Window: time.Minute},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "Valid", mutate: func(*Config) {}},
		{name: "MemoryWithoutDatabase", mutate: func(c *Config) {
			c.Storage.Driver = DriverMemory
			c.DatabaseURL = ""
		}},
		{name: "PostgresWithoutDatabase", mutate: func(c *Config) { c.DatabaseURL = "" }, wantErr: "database URL is required"},
		{name: "UnknownDriver", mutate: func(c *Config) { c.Storage.Driver = "sqlite" }, wantErr: "unknown storage driver"},
		{name: "NoSecret", mutate: func(c *Config) { c.Auth.Secret = "" }, wantErr: "auth secret"},
		{name: "ZeroRateLimit", mutate: func(c *Config) { c.RateLimit.Max = 0 }, wantErr: "rate limit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_PlatformDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://platform/db")
	t.Setenv("REDIS_URL", "redis://cache:6379/0")
	t.Setenv("PORT", "9000")

	cfg := Config{Addr: "0.0.0.0:8080"}
	cfg.applyPlatformDefaults()
	assert.Equal(t, "postgres://platform/db", cfg.DatabaseURL)
	assert.Equal(t, "redis://cache:6379/0", cfg.Redis.Addr)
	assert.Equal(t, "0.0.0.0:9000", cfg.Addr)

	cfg = Config{Addr: "127.0.0.1:1", DatabaseURL: "postgres://explicit/db"}
	cfg.applyPlatformDefaults()
	assert.Equal(t, "postgres://explicit/db", cfg.DatabaseURL)
	assert.Equal(t, "127.0.0.1:1", cfg.Addr)
}

func TestOpenRedis_URL(t *testing.T) {
	client, closeFn, err := openRedis(zap.NewNop(), RedisConfig{Addr: "redis://:pw@cache:6380/2"})
	require.NoError(t, err)
	defer closeFn()

	c, ok := client.(*redis.Client)
	require.True(t, ok)
	assert.Equal(t, "cache:6380", c.Options().Addr)
	assert.Equal(t, 2, c.Options().DB)
	assert.Equal(t, "pw", c.Options().Password)
}

func TestOpenRedis_InProcess(t *testing.T) {
	client, closeFn, err := openRedis(zap.NewNop(), RedisConfig{})
	require.NoError(t, err)
	defer closeFn()
	require.NoError(t, client.Ping(context.Background()).Err())
}
