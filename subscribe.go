package optisync

import "sync"

type EventKind uint8

const (
	EventUpdated EventKind = iota + 1
	EventInvalidated
	EventRemoved
)

func (k EventKind) String() string {
	switch k {
	case EventUpdated:
		return "updated"
	case EventInvalidated:
		return "invalidated"
	case EventRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Event tells a subscribed view that the entry for Key changed.
type Event struct {
	Key  string
	Kind EventKind
}

// subscribers holds per-key listeners. Listeners run on the writer's goroutine
// after the cache lock is released, so they may read the cache.
type subscribers struct {
	mu   sync.RWMutex
	next uint64
	m    map[string]map[uint64]func(Event)
}

func (s *subscribers) add(key string, fn func(Event)) func() {
	s.mu.Lock()
	if s.m == nil {
		s.m = make(map[string]map[uint64]func(Event))
	}
	s.next++
	id := s.next
	byID := s.m[key]
	if byID == nil {
		byID = make(map[uint64]func(Event))
		s.m[key] = byID
	}
	byID[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			if byID, ok := s.m[key]; ok {
				delete(byID, id)
				if len(byID) == 0 {
					delete(s.m, key)
				}
			}
			s.mu.Unlock()
		})
	}
}

func (s *subscribers) has(key string) bool {
	s.mu.RLock()
	n := len(s.m[key])
	s.mu.RUnlock()
	return n > 0
}

func (s *subscribers) notify(ev Event) {
	s.mu.RLock()
	byID := s.m[ev.Key]
	fns := make([]func(Event), 0, len(byID))
	for _, fn := range byID {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}
