package lru_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kdimentionaltree/ton-index-worker/lru"
)

func TestCache_Eviction(t *testing.T) {
	c := lru.New[string, int](2)

	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("c", 3)

	_, ok := c.Get("a")
	assert.False(t, ok, "oldest entry must be evicted")

	v, ok := c.Get("b")
	assert.True(t, ok)
	assert.Equal(t, 2, v)

	v, ok = c.Get("c")
	assert.True(t, ok)
	assert.Equal(t, 3, v)
}

func TestCache_GetRefreshesRecency(t *testing.T) {
	c := lru.New[string, int](2)

	c.Put("a", 1)
	c.Put("b", 2)

	_, _ = c.Get("a") // now "b" is the oldest

	c.Put("c", 3)

	_, ok := c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)
}

func TestCache_PutOverwrites(t *testing.T) {
	c := lru.New[string, int](2)

	c.Put("a", 1)
	c.Put("a", 10)

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 10, v)
	assert.Equal(t, 1, c.Len())
}
