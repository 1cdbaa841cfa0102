package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasirledger/backend/internal/xid"
)

func TestNoopDeduperAlwaysClaims(t *testing.T) {
	d := NoopDeduper{}
	first, err := d.Claim(context.Background(), "k")
	require.NoError(t, err)
	second, err := d.Claim(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, first)
	assert.True(t, second)
}

func TestRedisDeduperClaimsOnce(t *testing.T) {
	addr := os.Getenv("KASIRLEDGER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("KASIRLEDGER_TEST_REDIS_ADDR not set")
	}
	client := NewRedisClient(addr, "", 0)
	defer client.Close()

	ctx := context.Background()
	d := NewRedisDeduper(client, time.Minute)
	require.NoError(t, d.Ping(ctx))

	key := "test:" + xid.New()
	first, err := d.Claim(ctx, key)
	require.NoError(t, err)
	assert.True(t, first)

	again, err := d.Claim(ctx, key)
	require.NoError(t, err)
	assert.False(t, again)

	require.NoError(t, d.Release(ctx, key))
	afterRelease, err := d.Claim(ctx, key)
	require.NoError(t, err)
	assert.True(t, afterRelease)
	require.NoError(t, d.Release(ctx, key))
}
