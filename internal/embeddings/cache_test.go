package embeddings

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisCacheRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	cli := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewRedisCache(cli)
	ctx := context.Background()

	vec := []float32{0.5, -1.25, 3}
	cache.Set(ctx, "emb:test", vec, time.Minute)

	got, ok := cache.Get(ctx, "emb:test")
	require.True(t, ok)
	assert.Equal(t, vec, got)

	_, ok = cache.Get(ctx, "emb:absent")
	assert.False(t, ok)
}

func TestMakeKeyDistinguishesModels(t *testing.T) {
	a := MakeKey("model-a", "text")
	b := MakeKey("model-b", "text")
	c := MakeKey("model-a", "text")
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, c)
}
