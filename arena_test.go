package heapalloc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPooledArenaSizedForAnAllocator(t *testing.T) {
	arena := NewPooledArena(4096)
	require.Len(t, arena, 4096)
	defer ReleasePooledArena(arena)

	a, err := NewExplicitAllocator(arena)
	require.NoError(t, err)

	b := a.Allocate(128)
	require.NotNil(t, b)
	assert.True(t, a.Validate())
}

func TestNewDirtyArenaExactLength(t *testing.T) {
	arena := NewDirtyArena(256)
	assert.Len(t, arena, 256)
	assert.Equal(t, 256, cap(arena))

	a, err := NewImplicitAllocator(arena)
	require.NoError(t, err)
	assert.True(t, a.Validate())
}
