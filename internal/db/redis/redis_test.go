package redis

import (
	"context"
	"strconv"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func miniConfig(t *testing.T) (*Config, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	host, port, _ := strings.Cut(mr.Addr(), ":")
	p, err := strconv.Atoi(port)
	require.NoError(t, err)

	config := DefaultConfig()
	config.Host = host
	config.Port = p
	return config, mr
}

func TestInitAndClose(t *testing.T) {
	config, _ := miniConfig(t)

	require.NoError(t, Init(config))
	require.NotNil(t, GetClient())
	assert.True(t, IsHealthy(context.Background()))
	LogStats()

	require.NoError(t, Close())
	assert.Nil(t, GetClient())
	assert.False(t, IsHealthy(context.Background()))
	assert.NoError(t, Close())
}

func TestNewClientUnreachable(t *testing.T) {
	config, mr := miniConfig(t)
	mr.Close()

	_, err := NewClient(context.Background(), config)
	assert.Error(t, err)
}

func TestConfigFromViper(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	viper.Set("redis.host", "redis.local")
	viper.Set("redis.port", 6380)
	viper.Set("redis.key_prefix", "meeting")

	config := ConfigFromViper()
	assert.Equal(t, "redis.local:6380", config.Addr())
	assert.Equal(t, "meeting", config.KeyPrefix)
	assert.Equal(t, 10, config.PoolSize)
}

func TestGetKeyWithPrefix(t *testing.T) {
	assert.Equal(t, "speaking:r1", GetKeyWithPrefix("", "speaking:r1"))
	assert.Equal(t, "meeting:speaking:r1", GetKeyWithPrefix("meeting", "speaking:r1"))
}
