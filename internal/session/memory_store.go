package session

import (
	"context"
	"sync"
	"time"
)

type memoryRecord struct {
	expiresAt time.Time
	payload   map[string]any
}

// MemoryStore is the single-process fallback used when Redis is not
// configured.
type MemoryStore struct {
	ttl     time.Duration
	now     func() time.Time
	mu      sync.Mutex
	records map[string]memoryRecord
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultReceiptTTL
	}
	return &MemoryStore{ttl: ttl, now: time.Now, records: make(map[string]memoryRecord)}
}

func (s *MemoryStore) Lookup(_ context.Context, eventID string) (map[string]any, bool, error) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, record := range s.records {
		if now.After(record.expiresAt) {
			delete(s.records, key)
		}
	}
	record, ok := s.records[eventID]
	if !ok {
		return nil, false, nil
	}
	return clonePayload(record.payload), true, nil
}

func (s *MemoryStore) Store(_ context.Context, eventID string, payload map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.records[eventID]; ok && !s.now().After(existing.expiresAt) {
		return nil
	}
	s.records[eventID] = memoryRecord{
		expiresAt: s.now().Add(s.ttl),
		payload:   clonePayload(payload),
	}
	return nil
}

func clonePayload(input map[string]any) map[string]any {
	cloned := make(map[string]any, len(input))
	for key, value := range input {
		cloned[key] = value
	}
	return cloned
}
