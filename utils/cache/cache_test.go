package cache

import (
	"sync"
	"sync/atomic"
	"testing"

	"learnedkv/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 基本的插入/命中/释放
func TestCacheBasic(t *testing.T) {
	c := NewCache(64)
	var deleted int32
	deleter := func(key []byte, value interface{}) {
		atomic.AddInt32(&deleted, 1)
	}

	key := utils.EncodeFixed64(1)
	h := c.Insert(key, "v1", deleter)
	require.Equal(t, "v1", h.Value())

	h2 := c.Lookup(key)
	require.NotNil(t, h2)
	require.Equal(t, "v1", h2.Value())

	require.Nil(t, c.Lookup(utils.EncodeFixed64(2)))

	c.Release(h)
	c.Release(h2)
	// 还在缓存里，不销毁
	assert.Equal(t, int32(0), atomic.LoadInt32(&deleted))
	assert.Equal(t, 1, c.Len())
}

// 引用计数：被Erase的entry要等最后一个Release才销毁
func TestCacheEraseWithOutstandingHandle(t *testing.T) {
	c := NewCache(64)
	var deleted int32
	deleter := func(key []byte, value interface{}) {
		atomic.AddInt32(&deleted, 1)
	}

	key := utils.EncodeFixed64(42)
	h := c.Insert(key, "v", deleter)

	c.Erase(key)
	require.Nil(t, c.Lookup(key))
	// handle还在，不能销毁
	assert.Equal(t, int32(0), atomic.LoadInt32(&deleted))
	// 在握着handle期间值仍然可用
	require.Equal(t, "v", h.Value())

	c.Release(h)
	assert.Equal(t, int32(1), atomic.LoadInt32(&deleted))

	// 幂等
	c.Erase(key)
	c.Erase(key)
	assert.Equal(t, int32(1), atomic.LoadInt32(&deleted))
}

// 容量淘汰：超出的entry被销毁，引用平衡后存活数等于缓存内数量
func TestCacheEviction(t *testing.T) {
	c := NewCache(64)
	var deleted int32
	deleter := func(key []byte, value interface{}) {
		atomic.AddInt32(&deleted, 1)
	}

	total := 1000
	for i := 0; i < total; i++ {
		h := c.Insert(utils.EncodeFixed64(uint64(i)), i, deleter)
		c.Release(h)
	}
	assert.Equal(t, 64, c.Len())
	assert.Equal(t, int32(total-64), atomic.LoadInt32(&deleted))

	c.Close()
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, int32(total), atomic.LoadInt32(&deleted))
}

// 同key顶替：旧entry离开缓存并在无引用时销毁
func TestCacheInsertReplace(t *testing.T) {
	c := NewCache(64)
	var deleted int32
	deleter := func(key []byte, value interface{}) {
		atomic.AddInt32(&deleted, 1)
	}

	key := utils.EncodeFixed64(9)
	h1 := c.Insert(key, "old", deleter)
	c.Release(h1)
	h2 := c.Insert(key, "new", deleter)
	assert.Equal(t, int32(1), atomic.LoadInt32(&deleted))

	h3 := c.Lookup(key)
	require.Equal(t, "new", h3.Value())
	c.Release(h2)
	c.Release(h3)
	assert.Equal(t, 1, c.Len())
}

// 并发的Lookup/Insert/Release/Erase不崩、引用平衡
func TestCacheConcurrent(t *testing.T) {
	c := NewCache(32)
	var deleted int32
	var inserted int32
	deleter := func(key []byte, value interface{}) {
		atomic.AddInt32(&deleted, 1)
	}

	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(seed int) {
			defer wg.Done()
			for i := 0; i < 2000; i++ {
				fid := uint64((seed*31 + i) % 100)
				key := utils.EncodeFixed64(fid)
				h := c.Lookup(key)
				if h == nil {
					atomic.AddInt32(&inserted, 1)
					h = c.Insert(key, fid, deleter)
				}
				if got := h.Value().(uint64); got != fid {
					t.Errorf("lookup %d got %d", fid, got)
				}
				if i%17 == 0 {
					c.Erase(key)
				}
				c.Release(h)
			}
		}(g)
	}
	wg.Wait()

	resident := int32(c.Len())
	c.Close()
	assert.Equal(t, 0, c.Len())
	// 所有插入过的entry最终都被销毁了
	assert.Equal(t, atomic.LoadInt32(&inserted), atomic.LoadInt32(&deleted))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&inserted), resident)
}
