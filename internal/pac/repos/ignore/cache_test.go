package ignore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerdictCache_GenerationMismatchMisses(t *testing.T) {
	c, err := newVerdictCache(4)
	require.NoError(t, err)

	c.Put("example.com", 1, true)
	v, ok := c.Get("example.com", 1)
	assert.True(t, ok)
	assert.True(t, v)

	_, ok = c.Get("example.com", 2)
	assert.False(t, ok, "stale generation must miss")

	st := c.Stats()
	assert.Equal(t, uint64(1), st.Hits)
	assert.Equal(t, uint64(1), st.Misses)
	assert.Equal(t, 4, st.Capacity)
	assert.Equal(t, 1, st.Size)
}

func TestVerdictCache_EvictionsCounted(t *testing.T) {
	c, err := newVerdictCache(2)
	require.NoError(t, err)

	c.Put("a", 0, false)
	c.Put("b", 0, false)
	c.Put("c", 0, false)
	assert.Equal(t, uint64(1), c.Stats().Evictions)

	c.Purge()
	st := c.Stats()
	assert.Equal(t, 0, st.Size)
	assert.Equal(t, uint64(3), st.Evictions)
}

func TestVerdictCache_Disabled(t *testing.T) {
	c, err := newVerdictCache(0)
	require.NoError(t, err)

	c.Put("a", 0, true)
	_, ok := c.Get("a", 0)
	assert.False(t, ok)
	assert.Equal(t, CacheStats{}, c.Stats())
	c.Purge()
}
