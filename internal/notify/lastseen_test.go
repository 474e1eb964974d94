package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ LastSeenIndex = (*MemoryIndex)(nil)
	_ LastSeenIndex = (*RedisIndex)(nil)
)

func TestMemoryIndex(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()
	key := LastSeenKey("ann@x.io", "c1")

	_, ok, err := idx.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, idx.Set(ctx, key, "m3"))
	id, ok, err := idx.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "m3", id)

	_, ok, _ = idx.Get(ctx, LastSeenKey("bob@x.io", "c1"))
	assert.False(t, ok)
}
