package journal

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCapacity is the number of closed logs retained for replay.
const DefaultCapacity = 1024

// Options configure a Store.
type Options struct {
	// Capacity bounds the closed logs kept for replay; the least recently
	// used are evicted first.
	Capacity int
}

// Store indexes turn logs by turn id. Open logs are always retained.
type Store struct {
	mu     sync.Mutex
	open   map[string]*Log
	closed *lru.Cache[string, *Log]
}

// NewStore creates an empty Store.
func NewStore(optFns ...func(o *Options)) (*Store, error) {
	opts := Options{Capacity: DefaultCapacity}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Capacity <= 0 {
		return nil, fmt.Errorf("journal capacity must be positive, got %d", opts.Capacity)
	}
	cache, err := lru.New[string, *Log](opts.Capacity)
	if err != nil {
		return nil, fmt.Errorf("create journal cache: %w", err)
	}
	return &Store{open: make(map[string]*Log), closed: cache}, nil
}

// Open returns the log for turnID, creating it when unknown. created reports
// whether the caller owns the new log and must eventually Close it.
func (s *Store) Open(turnID, threadID string) (log *Log, created bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.open[turnID]; ok {
		return l, false
	}
	if l, ok := s.closed.Get(turnID); ok {
		return l, false
	}
	l := newLog(turnID, threadID, s.retire)
	s.open[turnID] = l
	return l, true
}

// Lookup returns the log recorded for turnID, open or closed.
func (s *Store) Lookup(turnID string) (*Log, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.open[turnID]; ok {
		return l, true
	}
	return s.closed.Get(turnID)
}

// Discard forgets every closed log of threadID, for example after the thread
// was reset. Open logs finish normally.
func (s *Store) Discard(threadID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, key := range s.closed.Keys() {
		if l, ok := s.closed.Peek(key); ok && l.ThreadID() == threadID {
			s.closed.Remove(key)
			n++
		}
	}
	return n
}

// Len reports how many logs are open and how many closed logs are retained.
func (s *Store) Len() (open, retained int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.open), s.closed.Len()
}

func (s *Store) retire(l *Log) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.open[l.TurnID()]; ok && cur == l {
		delete(s.open, l.TurnID())
	}
	s.closed.Add(l.TurnID(), l)
}
