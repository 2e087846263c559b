package settings

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStoreActiveModel(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	s := NewRedisStore(client, "")
	ctx := context.Background()

	m, err := s.ActiveModel(ctx)
	require.NoError(t, err)
	assert.Empty(t, m)

	require.NoError(t, s.SetActiveModel(ctx, "  qwen2.5:7b "))
	m, err = s.ActiveModel(ctx)
	require.NoError(t, err)
	assert.Equal(t, "qwen2.5:7b", m)

	v, err := mr.Get(DefaultActiveModelKey)
	require.NoError(t, err)
	assert.Equal(t, "qwen2.5:7b", v)

	assert.Error(t, s.SetActiveModel(ctx, " "))

	require.NoError(t, s.ClearActiveModel(ctx))
	m, err = s.ActiveModel(ctx)
	require.NoError(t, err)
	assert.Empty(t, m)
}
