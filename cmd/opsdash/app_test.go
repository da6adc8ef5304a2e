package main

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/illmade-knight/go-opsdash/pkg/config"
	"github.com/illmade-knight/go-opsdash/pkg/poll"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApp_Lifecycle(t *testing.T) {
	// Arrange
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	require.NoError(t, mr.Set("session:1", "x"))

	cfg := config.NewConfigDefaults()
	cfg.HTTPPort = ":0"
	cfg.PollInterval = config.Duration{Duration: 20 * time.Millisecond}
	cfg.Redis = []config.RedisInstance{{Name: "cache-01", Addr: mr.Addr()}}
	cfg.SQL = &config.SQLConfig{
		Driver:  "sqlite",
		DSN:     "file::memory:",
		Queries: []config.SQLQuery{{Name: "one", Query: "SELECT 1 AS n"}},
	}
	require.NoError(t, cfg.Validate())

	a, err := newApp(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	require.Len(t, a.redisInstances, 1)
	assert.Equal(t, 4, a.registry.Len(), "Three redis items plus one SQL query")

	// Act
	require.NoError(t, a.start(ctx))

	// Assert
	keyCount := a.redisInstances[0].KeyCount
	require.Eventually(t, func() bool {
		n, ok := keyCount.Peek()
		return ok && n == 1
	}, 5*time.Second, 20*time.Millisecond, "scheduler should populate the key count")

	// miniredis has no CONFIG or SLOWLOG, so only dbsize and the SQL query
	// are expected to hold values.
	var byName map[string]poll.Status
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://localhost" + a.server.GetHTTPPort() + "/api/polls")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var statuses []poll.Status
		if err := json.NewDecoder(resp.Body).Decode(&statuses); err != nil {
			return false
		}
		byName = make(map[string]poll.Status, len(statuses))
		for _, s := range statuses {
			byName[s.Name] = s
		}
		return byName["redis/cache-01/dbsize"].HasValue && byName["sql/one"].HasValue
	}, 5*time.Second, 50*time.Millisecond)
	assert.Len(t, byName, 4)
	assert.Contains(t, byName, "redis/cache-01/config")
	assert.Contains(t, byName, "redis/cache-01/slowlog")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(shutdownCancel)
	require.NoError(t, a.shutdown(shutdownCtx))
}

func TestNewApp_RedisUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	cfg := config.NewConfigDefaults()
	cfg.Redis = []config.RedisInstance{{Name: "cache-01", Addr: "127.0.0.1:1"}}

	_, err := newApp(ctx, cfg, zerolog.Nop())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis instance cache-01")
}

func TestNewLogger(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, newLogger("debug", "opsdash").GetLevel())
	assert.Equal(t, zerolog.InfoLevel, newLogger("", "opsdash").GetLevel())
	assert.Equal(t, zerolog.InfoLevel, newLogger("chatty", "opsdash").GetLevel())
}
