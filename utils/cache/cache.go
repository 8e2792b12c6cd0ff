package cache

import (
	"container/list"
	"sync"

	"github.com/cespare/xxhash/v2"
)

/*
	经典的 哈希表 + 双向链表 的LRU，再加上引用计数：
	缓存本身持有每个entry的一个引用，Lookup/Insert交还给调用方的Handle又是一个引用；
	被淘汰(或Erase)的entry只是离开哈希表和链表，底层对象要等所有Handle都Release之后
	才通过deleter销毁，正在读的调用方不会踩到已关闭的文件；

	分片降低锁竞争，片内持锁期间只做链表和map操作，deleter在放锁之后调用，
	持有分片锁时不会有任何I/O系统调用；
*/

// 分片数
const shardCount = 16

// entry销毁时的回调，在最后一个引用消失后调用
type Deleter func(key []byte, value interface{})

// 调用方持有的引用凭据
type Handle struct {
	e *entry
}

// 取出entry中缓存的值
func (h *Handle) Value() interface{} {
	return h.e.value
}

type entry struct {
	key     []byte
	value   interface{}
	deleter Deleter
	// 引用计数，缓存自身算一个
	ref int32
	// 是否还在缓存中
	inCache bool
	elem    *list.Element
}

type shard struct {
	m sync.Mutex
	// 容量上限，以entry个数计
	cap int
	// front是最近使用的
	lru  *list.List
	data map[string]*entry
}

// 基于分片LRU实现的引用计数缓存
type Cache struct {
	shards [shardCount]*shard
}

// 根据size创建cache，size指的是需要缓存的entry个数
func NewCache(size int) *Cache {
	if size < shardCount {
		size = shardCount
	}
	c := &Cache{}
	for i := 0; i < shardCount; i++ {
		c.shards[i] = &shard{
			cap:  size / shardCount,
			lru:  list.New(),
			data: make(map[string]*entry),
		}
	}
	return c
}

// 根据key的hash定位分片
func (c *Cache) shard(key []byte) *shard {
	return c.shards[xxhash.Sum64(key)%shardCount]
}

// 查找，命中时增加一个引用并移动到链表头
func (c *Cache) Lookup(key []byte) *Handle {
	s := c.shard(key)
	s.m.Lock()
	defer s.m.Unlock()

	e, ok := s.data[string(key)]
	if !ok {
		return nil
	}
	e.ref++
	s.lru.MoveToFront(e.elem)
	return &Handle{e: e}
}

// 插入，返回带一个引用的Handle；同key的旧entry会被顶替掉
func (c *Cache) Insert(key []byte, value interface{}, deleter Deleter) *Handle {
	s := c.shard(key)
	s.m.Lock()

	var dead []*entry
	// 同key的旧entry先离开缓存
	if old, ok := s.data[string(key)]; ok {
		if s.detachLocked(old) {
			dead = append(dead, old)
		}
	}

	e := &entry{
		key:     append([]byte(nil), key...),
		value:   value,
		deleter: deleter,
		// 一个是缓存的，一个是返回给调用方的
		ref:     2,
		inCache: true,
	}
	e.elem = s.lru.PushFront(e)
	s.data[string(key)] = e

	// 超过容量就从链表尾淘汰，被Handle引用的entry照样离开缓存，
	// 但底层对象在最后一个Release之前不会销毁
	for s.lru.Len() > s.cap {
		tail := s.lru.Back()
		victim := tail.Value.(*entry)
		if s.detachLocked(victim) {
			dead = append(dead, victim)
		}
	}
	s.m.Unlock()

	// deleter在锁外调用
	for _, d := range dead {
		d.deleter(d.key, d.value)
	}
	return &Handle{e: e}
}

// 释放一个引用
func (c *Cache) Release(h *Handle) {
	if h == nil || h.e == nil {
		return
	}
	e := h.e
	h.e = nil
	s := c.shard(e.key)
	s.m.Lock()
	e.ref--
	free := e.ref == 0 && !e.inCache
	s.m.Unlock()

	if free && e.deleter != nil {
		e.deleter(e.key, e.value)
	}
}

// 从缓存中摘掉，重复Erase是幂等的；在读的调用方不受影响
func (c *Cache) Erase(key []byte) {
	s := c.shard(key)
	s.m.Lock()
	e, ok := s.data[string(key)]
	var free bool
	if ok {
		free = s.detachLocked(e)
	}
	s.m.Unlock()

	if free && e.deleter != nil {
		e.deleter(e.key, e.value)
	}
}

// 当前缓存中的entry个数
func (c *Cache) Len() int {
	n := 0
	for _, s := range c.shards {
		s.m.Lock()
		n += s.lru.Len()
		s.m.Unlock()
	}
	return n
}

// 清空缓存，未被引用的entry立即销毁
func (c *Cache) Close() {
	var dead []*entry
	for _, s := range c.shards {
		s.m.Lock()
		for _, e := range s.data {
			if s.detachLocked(e) {
				dead = append(dead, e)
			}
		}
		s.m.Unlock()
	}
	for _, d := range dead {
		if d.deleter != nil {
			d.deleter(d.key, d.value)
		}
	}
}

// 将entry从map和链表中摘掉并去掉缓存自身的引用，
// 返回true表示引用已经清零，调用方放锁后负责销毁
func (s *shard) detachLocked(e *entry) bool {
	if !e.inCache {
		return false
	}
	e.inCache = false
	s.lru.Remove(e.elem)
	delete(s.data, string(e.key))
	e.ref--
	return e.ref == 0 && e.deleter != nil
}
