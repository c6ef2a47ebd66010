package cache

import (
	"container/list"
	"sync"
)

// memoryStore is the bounded in-process secondary cache. Plain LRU:
// recency on read and write, evict from the back.
type memoryStore struct {
	mu    sync.Mutex
	max   int
	ll    *list.List
	items map[string]*list.Element
}

type memoryItem struct {
	sig   string
	entry *Entry
}

func newMemoryStore(max int) *memoryStore {
	if max <= 0 {
		return nil
	}
	return &memoryStore{
		max:   max,
		ll:    list.New(),
		items: make(map[string]*list.Element, max),
	}
}

func (m *memoryStore) get(sig string) (*Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	el, ok := m.items[sig]
	if !ok {
		return nil, false
	}
	m.ll.MoveToFront(el)
	return el.Value.(*memoryItem).entry, true
}

// put inserts or refreshes an entry and returns how many entries were
// evicted to stay within bounds.
func (m *memoryStore) put(sig string, e *Entry) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.items[sig]; ok {
		el.Value.(*memoryItem).entry = e
		m.ll.MoveToFront(el)
		return 0
	}
	m.items[sig] = m.ll.PushFront(&memoryItem{sig: sig, entry: e})

	evicted := 0
	for m.ll.Len() > m.max {
		back := m.ll.Back()
		m.ll.Remove(back)
		delete(m.items, back.Value.(*memoryItem).sig)
		evicted++
	}
	return evicted
}

func (m *memoryStore) delete(sig string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.items[sig]; ok {
		m.ll.Remove(el)
		delete(m.items, sig)
	}
}

func (m *memoryStore) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ll.Len()
}
