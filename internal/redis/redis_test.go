package redis

import (
	"context"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memos-platform/memos/internal/config"
)

func testConfig(t *testing.T, mr *miniredis.Miniredis) config.RedisConfig {
	t.Helper()
	return config.RedisConfig{Host: mr.Host(), Port: mustPort(t, mr)}
}

func mustPort(t *testing.T, mr *miniredis.Miniredis) int {
	t.Helper()
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	return port
}

func TestNewClient_ConnectsAndHealthChecks(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewClient(context.Background(), testConfig(t, mr))
	require.NoError(t, err)
	defer client.Close()

	assert.NoError(t, HealthCheck(context.Background(), client))

	mr.SetError("LOADING")
	assert.Error(t, HealthCheck(context.Background(), client))
}

func TestNewClient_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t, mr)
	mr.Close()

	_, err := NewClient(context.Background(), cfg)
	assert.ErrorContains(t, err, "pinging redis")
}

func TestOptions(t *testing.T) {
	opts := Options(config.RedisConfig{Host: "cache", Port: 6380, Password: "pw", DB: 2})
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, ClientName, opts.ClientName)
}
