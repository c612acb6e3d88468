package cache

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	scope, scopeID, key string
	value                string
	expiresAt            *time.Time
}

// lruStore bounds the number of entries retained per scope so that a long
// story's ever-growing scratch/notes chain cannot make the in-process
// prompt-composition cache grow without bound (spec §9).
type lruStore struct {
	mu                 sync.Mutex
	maxEntriesPerScope int
	scopeLists         map[string]*list.List
	elements           map[string]*list.Element
}

// NewLRU returns a Store that evicts least-recently-used entries once a
// given scope exceeds maxEntriesPerScope.
func NewLRU(maxEntriesPerScope int) Store {
	return &lruStore{
		maxEntriesPerScope: maxEntriesPerScope,
		scopeLists:         make(map[string]*list.List),
		elements:           make(map[string]*list.Element),
	}
}

func scopeKey(scope, scopeID string) string { return scope + "\x00" + scopeID }
func entryKey(scope, scopeID, key string) string { return scope + "\x00" + scopeID + "\x00" + key }

func (s *lruStore) Set(scope, scopeID, key, value string, opts ...Option) {
	o := &setOptions{}
	for _, opt := range opts {
		opt(o)
	}
	var expiresAt *time.Time
	if o.ttl > 0 {
		t := time.Now().Add(o.ttl)
		expiresAt = &t
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sk, ek := scopeKey(scope, scopeID), entryKey(scope, scopeID, key)
	if elem, ok := s.elements[ek]; ok {
		e := elem.Value.(*entry)
		e.value = value
		e.expiresAt = expiresAt
		s.scopeLists[sk].MoveToFront(elem)
		return
	}

	lst, ok := s.scopeLists[sk]
	if !ok {
		lst = list.New()
		s.scopeLists[sk] = lst
	}
	elem := lst.PushFront(&entry{scope: scope, scopeID: scopeID, key: key, value: value, expiresAt: expiresAt})
	s.elements[ek] = elem

	for lst.Len() > s.maxEntriesPerScope {
		back := lst.Back()
		if back == nil {
			break
		}
		ev := back.Value.(*entry)
		delete(s.elements, entryKey(ev.scope, ev.scopeID, ev.key))
		lst.Remove(back)
	}
}

func (s *lruStore) Get(scope, scopeID, key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ek := entryKey(scope, scopeID, key)
	elem, ok := s.elements[ek]
	if !ok {
		return "", false
	}
	e := elem.Value.(*entry)
	if e.expiresAt != nil && time.Now().After(*e.expiresAt) {
		s.scopeLists[scopeKey(scope, scopeID)].Remove(elem)
		delete(s.elements, ek)
		return "", false
	}
	s.scopeLists[scopeKey(scope, scopeID)].MoveToFront(elem)
	return e.value, true
}

func (s *lruStore) Invalidate(scope, scopeID, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ek := entryKey(scope, scopeID, key)
	elem, ok := s.elements[ek]
	if !ok {
		return
	}
	s.scopeLists[scopeKey(scope, scopeID)].Remove(elem)
	delete(s.elements, ek)
}

func (s *lruStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.elements)
}
