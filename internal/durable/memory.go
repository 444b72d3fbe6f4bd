package durable

import (
	"context"
	"sync"
	"time"
)

type ackEntry struct {
	sub       Subscription
	messageID string
	at        time.Time
}

// MemoryStore keeps acknowledgments in process memory. It is bounded: once maxEntries is reached
// the oldest rotatePercent of entries are dropped.
type MemoryStore struct {
	mu            sync.RWMutex
	entries       []*ackEntry
	bySub         map[Subscription]map[string]*ackEntry
	topics        map[Subscription]string
	maxEntries    int
	rotatePercent float64
	closed        bool
}

var _ Store = (*MemoryStore)(nil)

// MemoryStoreOption configures the in-memory store
type MemoryStoreOption func(*MemoryStore)

// WithMaxEntries sets the maximum number of retained acknowledgments
func WithMaxEntries(n int) MemoryStoreOption {
	return func(s *MemoryStore) {
		s.maxEntries = n
	}
}

// WithRotatePercent sets the share of entries dropped when the store is full
func WithRotatePercent(percent float64) MemoryStoreOption {
	return func(s *MemoryStore) {
		s.rotatePercent = percent
	}
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		bySub:         make(map[Subscription]map[string]*ackEntry),
		topics:        make(map[Subscription]string),
		maxEntries:    100000,
		rotatePercent: 0.2,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) SaveTopic(_ context.Context, sub Subscription, topic string) error {
	if err := sub.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	s.topics[sub] = topic
	return nil
}

func (s *MemoryStore) Topic(_ context.Context, sub Subscription) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", ErrStoreClosed
	}
	return s.topics[sub], nil
}

func (s *MemoryStore) IsAcknowledged(_ context.Context, sub Subscription, messageID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, ErrStoreClosed
	}
	_, ok := s.bySub[sub][messageID]
	return ok, nil
}

func (s *MemoryStore) MarkAcknowledged(_ context.Context, sub Subscription, messageID string) error {
	if err := sub.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	ids, ok := s.bySub[sub]
	if !ok {
		ids = make(map[string]*ackEntry)
		s.bySub[sub] = ids
	}
	if _, ok := ids[messageID]; ok {
		return nil
	}
	if len(s.entries) >= s.maxEntries {
		s.rotate()
	}
	e := &ackEntry{sub: sub, messageID: messageID, at: time.Now()}
	s.entries = append(s.entries, e)
	ids[messageID] = e
	return nil
}

func (s *MemoryStore) ResetAcknowledgments(_ context.Context, sub Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	s.dropLocked(sub)
	return nil
}

func (s *MemoryStore) Forget(_ context.Context, sub Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	delete(s.topics, sub)
	s.dropLocked(sub)
	return nil
}

// dropLocked removes the acknowledgments of sub. Caller holds the write lock.
func (s *MemoryStore) dropLocked(sub Subscription) {
	if _, ok := s.bySub[sub]; !ok {
		return
	}
	delete(s.bySub, sub)

	kept := s.entries[:0]
	for _, e := range s.entries {
		if e.sub != sub {
			kept = append(kept, e)
		}
	}
	clear(s.entries[len(kept):])
	s.entries = kept
}

// Len returns the number of retained acknowledgments
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.entries = nil
	s.bySub = nil
	s.topics = nil
	return nil
}

// rotate drops the oldest entries. Caller holds the write lock.
func (s *MemoryStore) rotate() {
	n := int(float64(len(s.entries)) * s.rotatePercent)
	if n < 1 {
		n = 1
	}
	n = min(n, len(s.entries))

	for _, e := range s.entries[:n] {
		if ids := s.bySub[e.sub]; ids != nil {
			delete(ids, e.messageID)
			if len(ids) == 0 {
				delete(s.bySub, e.sub)
			}
		}
	}
	s.entries = append([]*ackEntry(nil), s.entries[n:]...)
}
