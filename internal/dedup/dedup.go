// Package dedup 记录已提交给后端的交易哈希
// 仅用于减少重复通知，防止重复结算依靠 payments.tx_hash 唯一索引，清理掉的记录不影响正确性
package dedup

import (
	"container/list"
	"sync"
	"time"
)

// DefaultCapacity 默认容量
const DefaultCapacity = 10000

type entry struct {
	hash string
	at   time.Time
}

// Set 按插入顺序保存哈希的有界集合
type Set struct {
	mu       sync.Mutex
	capacity int
	now      func() time.Time
	order    *list.List
	index    map[string]*list.Element
}

// New 创建 Set，capacity <= 0 时使用 DefaultCapacity，clock 为 nil 时使用 time.Now
func New(capacity int, clock func() time.Time) *Set {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if clock == nil {
		clock = time.Now
	}
	return &Set{
		capacity: capacity,
		now:      clock,
		order:    list.New(),
		index:    make(map[string]*list.Element, capacity),
	}
}

// Seen 判断哈希是否已记录，未记录则记录
func (s *Set) Seen(hash string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[hash]; ok {
		return true
	}
	s.index[hash] = s.order.PushBack(entry{hash: hash, at: s.now()})
	if s.order.Len() > s.capacity {
		s.dropOldest(s.order.Len() / 2)
	}
	return false
}

// Contains 判断哈希是否已记录，不做记录
func (s *Set) Contains(hash string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.index[hash]
	return ok
}

// Len 当前记录数
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

// PruneBefore 清理 cutoff 之前记录的条目，返回清理数量
func (s *Set) PruneBefore(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for e := s.order.Front(); e != nil; {
		if !e.Value.(entry).at.Before(cutoff) {
			break
		}
		next := e.Next()
		s.remove(e)
		e = next
		n++
	}
	return n
}

func (s *Set) dropOldest(n int) {
	for i := 0; i < n; i++ {
		e := s.order.Front()
		if e == nil {
			return
		}
		s.remove(e)
	}
}

func (s *Set) remove(e *list.Element) {
	delete(s.index, e.Value.(entry).hash)
	s.order.Remove(e)
}
