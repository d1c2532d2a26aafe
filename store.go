package marketcache

import (
	"container/list"
	"time"
)

// entry is a single cached item. last access never precedes insertion.
type entry struct {
	key         string
	category    Category
	payload     []byte
	size        int64
	insertedAt  time.Time
	lastAccess  time.Time
	accessCount uint64

	// Durability tracking
	recovered   bool // loaded from disk at startup
	diskHitDone bool // first post-restart read already counted
}

// entryStore holds cached entries with strict LRU ordering, bounded by
// entry count and total payload size. It is not safe for concurrent use;
// the Manager's lock is the unit of safety.
type entryStore struct {
	maxEntries int
	maxBytes   int64
	size       int64

	// LRU implementation: front is most recently used
	items map[string]*list.Element
	order *list.List
}

func newEntryStore(maxEntries int, maxBytes int64) *entryStore {
	return &entryStore{
		maxEntries: maxEntries,
		maxBytes:   maxBytes,
		items:      make(map[string]*list.Element),
		order:      list.New(),
	}
}

// get returns the entry for key without refreshing recency.
func (s *entryStore) get(key string) (*entry, bool) {
	elem, ok := s.items[key]
	if !ok {
		return nil, false
	}
	return elem.Value.(*entry), true
}

// upsert inserts or overwrites an entry, refreshes its recency, and evicts
// least-recently-used entries while the store exceeds its bounds. The entry
// being inserted is never evicted. Evicted entries are returned so the
// caller can account for them and drop their persisted files.
func (s *entryStore) upsert(e *entry) []*entry {
	if elem, ok := s.items[e.key]; ok {
		old := elem.Value.(*entry)
		s.size += e.size - old.size
		elem.Value = e
		s.order.MoveToFront(elem)
		return s.evict(elem)
	}

	elem := s.order.PushFront(e)
	s.items[e.key] = elem
	s.size += e.size

	return s.evict(elem)
}

// touch refreshes recency for key so eviction order reflects actual use.
func (s *entryStore) touch(key string, now time.Time) bool {
	elem, ok := s.items[key]
	if !ok {
		return false
	}

	s.order.MoveToFront(elem)
	e := elem.Value.(*entry)
	e.lastAccess = now
	e.accessCount++

	return true
}

// remove deletes the entry for key and returns it.
func (s *entryStore) remove(key string) (*entry, bool) {
	elem, ok := s.items[key]
	if !ok {
		return nil, false
	}

	e := elem.Value.(*entry)
	s.removeElement(elem)
	return e, true
}

// clear removes all entries.
func (s *entryStore) clear() {
	s.items = make(map[string]*list.Element)
	s.order.Init()
	s.size = 0
}

// length returns the number of entries.
func (s *entryStore) length() int {
	return len(s.items)
}

// totalSize returns the total payload size in bytes.
func (s *entryStore) totalSize() int64 {
	return s.size
}

// keys returns all keys in the store.
func (s *entryStore) keys() []string {
	keys := make([]string, 0, len(s.items))
	for key := range s.items {
		keys = append(keys, key)
	}
	return keys
}

// all returns every entry in the store, unordered.
func (s *entryStore) all() []*entry {
	entries := make([]*entry, 0, len(s.items))
	for _, elem := range s.items {
		entries = append(entries, elem.Value.(*entry))
	}
	return entries
}

// evict removes entries from the LRU tail until the store is within its
// bounds, skipping keep. Ties on last access resolve to the oldest
// insertion because untouched entries keep their insertion order.
func (s *entryStore) evict(keep *list.Element) []*entry {
	var evicted []*entry

	for s.overCapacity() {
		elem := s.order.Back()
		if elem == nil || elem == keep {
			break
		}
		evicted = append(evicted, elem.Value.(*entry))
		s.removeElement(elem)
	}

	return evicted
}

func (s *entryStore) overCapacity() bool {
	if s.maxEntries > 0 && len(s.items) > s.maxEntries {
		return true
	}
	if s.maxBytes > 0 && s.size > s.maxBytes {
		return true
	}
	return false
}

func (s *entryStore) removeElement(elem *list.Element) {
	s.order.Remove(elem)
	e := elem.Value.(*entry)
	delete(s.items, e.key)
	s.size -= e.size
}
