package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisCacheRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	c := NewRedisCache(rdb, "test:")
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "k1", []byte(`{"success":true}`), time.Minute))
	assert.True(t, mr.Exists("test:k1"))

	b, ok, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"success":true}`, string(b))

	mr.FastForward(2 * time.Minute)
	_, ok, err = c.Get(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok, "entry should expire with its ttl")
}

func TestRedisCacheFromURL(t *testing.T) {
	mr := miniredis.RunT(t)
	c, rdb, err := NewRedisCacheFromURL("redis://" + mr.Addr() + "/0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })
	require.NoError(t, c.Set(context.Background(), "x", []byte("1"), 0))
	assert.True(t, mr.Exists("omniroute:result:x"))

	_, _, err = NewRedisCacheFromURL("not a url")
	assert.Error(t, err)
}

func TestRedisCacheUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	mr.Close()

	_, _, err := NewRedisCache(rdb, "").Get(context.Background(), "k")
	assert.Error(t, err)
}

func TestNopCache(t *testing.T) {
	var c ResultCache = NopCache{}
	require.NoError(t, c.Set(context.Background(), "k", []byte("v"), time.Second))
	_, ok, err := c.Get(context.Background(), "k")
	assert.NoError(t, err)
	assert.False(t, ok)
}
