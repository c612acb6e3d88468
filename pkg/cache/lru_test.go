package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSetAndGetRoundTrip(t *testing.T) {
	c := NewLRU(10)
	c.Set("scratch", "story-1", "notes", "hello")

	got, ok := c.Get("scratch", "story-1", "notes")
	require.True(t, ok)
	require.Equal(t, "hello", got)
}

func TestGetMissingKeyReportsAbsent(t *testing.T) {
	c := NewLRU(10)
	_, ok := c.Get("scratch", "story-1", "missing")
	require.False(t, ok)
}

func TestEvictsLeastRecentlyUsedPerScope(t *testing.T) {
	c := NewLRU(2)
	c.Set("scratch", "story-1", "a", "1")
	c.Set("scratch", "story-1", "b", "2")
	c.Set("scratch", "story-1", "c", "3") // evicts "a"

	_, ok := c.Get("scratch", "story-1", "a")
	require.False(t, ok)
	_, ok = c.Get("scratch", "story-1", "b")
	require.True(t, ok)
	_, ok = c.Get("scratch", "story-1", "c")
	require.True(t, ok)
}

func TestEvictionIsIsolatedPerScope(t *testing.T) {
	c := NewLRU(1)
	c.Set("scratch", "story-1", "a", "1")
	c.Set("scratch", "story-2", "a", "1")

	_, ok := c.Get("scratch", "story-1", "a")
	require.True(t, ok)
	_, ok = c.Get("scratch", "story-2", "a")
	require.True(t, ok)
	require.Equal(t, 2, c.Len())
}

func TestGettingAnEntryRefreshesItsRecency(t *testing.T) {
	c := NewLRU(2)
	c.Set("scratch", "story-1", "a", "1")
	c.Set("scratch", "story-1", "b", "2")
	c.Get("scratch", "story-1", "a") // "a" is now most-recently-used

	c.Set("scratch", "story-1", "c", "3") // should evict "b", not "a"

	_, ok := c.Get("scratch", "story-1", "a")
	require.True(t, ok)
	_, ok = c.Get("scratch", "story-1", "b")
	require.False(t, ok)
}

func TestTTLExpiry(t *testing.T) {
	c := NewLRU(10)
	c.Set("scratch", "story-1", "a", "1", WithTTL(1*time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	_, ok := c.Get("scratch", "story-1", "a")
	require.False(t, ok)
}

func TestInvalidateRemovesEntry(t *testing.T) {
	c := NewLRU(10)
	c.Set("scratch", "story-1", "a", "1")
	c.Invalidate("scratch", "story-1", "a")

	_, ok := c.Get("scratch", "story-1", "a")
	require.False(t, ok)
	require.Equal(t, 0, c.Len())
}

func TestInvalidateMissingKeyIsNoOp(t *testing.T) {
	c := NewLRU(10)
	require.NotPanics(t, func() { c.Invalidate("scratch", "story-1", "missing") })
}

func TestSetOverwritesExistingValue(t *testing.T) {
	c := NewLRU(10)
	c.Set("scratch", "story-1", "a", "1")
	c.Set("scratch", "story-1", "a", "2")

	got, ok := c.Get("scratch", "story-1", "a")
	require.True(t, ok)
	require.Equal(t, "2", got)
	require.Equal(t, 1, c.Len())
}
