package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ Cache = (*RedisCache)(nil)
	_ Cache = Nop{}
)

func TestKey(t *testing.T) {
	assert.Equal(t, "dace:stats:run-1", Key("stats", "run-1"))
	assert.NotEqual(t, Key("stats", "a"), Key("evaluation", "a"))
}

func TestNop(t *testing.T) {
	ctx := context.Background()
	var c Nop

	require.NoError(t, c.Set(ctx, "k", map[string]int{"a": 1}))
	var dst map[string]int
	found, err := c.Get(ctx, "k", &dst)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, dst)
	assert.NoError(t, c.Close())
}

func TestNewRedisUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := NewRedis(ctx, "127.0.0.1:1", time.Minute)
	assert.Error(t, err)
}
