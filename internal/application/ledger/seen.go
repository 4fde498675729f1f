package ledger

import "container/list"

// seenSet is a bounded LRU of event ids. Not thread-safe; Ledger guards it.
type seenSet struct {
	capacity int
	index    map[string]*list.Element
	order    *list.List
}

func newSeenSet(capacity int) *seenSet {
	if capacity <= 0 {
		capacity = DefaultWindow
	}
	return &seenSet{
		capacity: capacity,
		index:    make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
}

// contains reports whether id was seen, promoting it to most recent.
func (s *seenSet) contains(id string) bool {
	elem, ok := s.index[id]
	if ok {
		s.order.MoveToFront(elem)
	}
	return ok
}

func (s *seenSet) add(id string) {
	if elem, ok := s.index[id]; ok {
		s.order.MoveToFront(elem)
		return
	}
	s.index[id] = s.order.PushFront(id)
	if s.order.Len() > s.capacity {
		oldest := s.order.Back()
		s.order.Remove(oldest)
		delete(s.index, oldest.Value.(string))
	}
}
