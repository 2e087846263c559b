package embedding

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMemoryCachePutGet(t *testing.T) {
	c := NewMemoryCache(10)
	c.Put("hello", []float32{1, 2})

	v, ok := c.Get("hello")
	assert.True(t, ok)
	assert.Equal(t, []float32{1, 2}, v)

	// no normalization
	_, ok = c.Get("hello ")
	assert.False(t, ok)
}

func TestMemoryCacheNeverExceedsCapacity(t *testing.T) {
	for _, capacity := range []int{1, 7, 100, 10000} {
		t.Run(fmt.Sprint(capacity), func(t *testing.T) {
			c := NewMemoryCache(capacity)
			for i := 0; i < capacity*3+5; i++ {
				c.Put(fmt.Sprintf("text-%d", i), []float32{float32(i)})
				assert.LessOrEqual(t, c.Len(), capacity)
			}
			// the latest insert always survives
			last := fmt.Sprintf("text-%d", capacity*3+4)
			_, ok := c.Get(last)
			assert.True(t, ok)
		})
	}
}

func TestMemoryCacheOverwriteDoesNotEvict(t *testing.T) {
	c := NewMemoryCache(2)
	c.Put("a", []float32{1})
	c.Put("b", []float32{2})
	c.Put("a", []float32{3})

	assert.Equal(t, 2, c.Len())
	v, _ := c.Get("a")
	assert.Equal(t, []float32{3}, v)
}

func TestMemoryCacheEvictsOldestBatch(t *testing.T) {
	c := NewMemoryCache(100)
	for i := 0; i < 100; i++ {
		c.Put(fmt.Sprintf("t%d", i), []float32{1})
	}
	c.Put("new", []float32{1})

	assert.Equal(t, 91, c.Len())
	_, ok := c.Get("t0")
	assert.False(t, ok)
	_, ok = c.Get("t10")
	assert.True(t, ok)
}
