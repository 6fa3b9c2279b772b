package hw

import (
	"container/list"

	"github.com/Readm/cluster_pm/core"
)

type cacheLine struct {
	addr  uint64
	state core.MESIState
	value uint64
}

// lruStore is a capacity-bounded line store. A zero capacity is unbounded.
// Callers hold the owning Caches lock.
type lruStore struct {
	capacity int
	entries  map[uint64]*list.Element
	order    *list.List
}

func newLRUStore(capacity int) *lruStore {
	if capacity < 0 {
		capacity = 0
	}
	return &lruStore{
		capacity: capacity,
		entries:  make(map[uint64]*list.Element),
		order:    list.New(),
	}
}

func (s *lruStore) get(addr uint64) (*cacheLine, bool) {
	elem, ok := s.entries[addr]
	if !ok {
		return nil, false
	}
	s.order.MoveToFront(elem)
	return elem.Value.(*cacheLine), true
}

// fill inserts or replaces a line and returns the victim it displaced.
func (s *lruStore) fill(line cacheLine) (cacheLine, bool) {
	if elem, ok := s.entries[line.addr]; ok {
		*elem.Value.(*cacheLine) = line
		s.order.MoveToFront(elem)
		return cacheLine{}, false
	}
	s.entries[line.addr] = s.order.PushFront(&line)
	if s.capacity > 0 && s.order.Len() > s.capacity {
		return s.evictOldest()
	}
	return cacheLine{}, false
}

func (s *lruStore) evictOldest() (cacheLine, bool) {
	elem := s.order.Back()
	if elem == nil {
		return cacheLine{}, false
	}
	victim := *elem.Value.(*cacheLine)
	s.order.Remove(elem)
	delete(s.entries, victim.addr)
	return victim, true
}

func (s *lruStore) remove(addr uint64) {
	if elem, ok := s.entries[addr]; ok {
		s.order.Remove(elem)
		delete(s.entries, addr)
	}
}

// drain empties the store, returning its lines oldest first.
func (s *lruStore) drain() []cacheLine {
	out := make([]cacheLine, 0, s.order.Len())
	for elem := s.order.Back(); elem != nil; elem = elem.Prev() {
		out = append(out, *elem.Value.(*cacheLine))
	}
	s.entries = make(map[uint64]*list.Element)
	s.order.Init()
	return out
}

func (s *lruStore) len() int {
	return s.order.Len()
}
