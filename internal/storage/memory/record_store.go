// Package memory provides in-memory storage implementations for development/testing.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/storage"
)

type documentKey struct {
	title     string
	parseDate int64
}

// RecordStore keeps stored documents in memory. A record whose title was
// already stored with the same observation timestamp is skipped.
type RecordStore struct {
	mu   sync.RWMutex
	docs []storage.Document
	seen map[documentKey]struct{}
}

// NewRecordStore constructs a RecordStore.
func NewRecordStore() *RecordStore {
	return &RecordStore{seen: make(map[documentKey]struct{})}
}

// Insert implements crawler.Sink.
func (s *RecordStore) Insert(ctx context.Context, observedAt time.Time, records []catalog.Record) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("context canceled: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	inserted := 0
	for _, doc := range storage.NewDocuments(observedAt, records) {
		key := documentKey{title: doc.Title, parseDate: doc.ParseDate.UnixNano()}
		if _, dup := s.seen[key]; dup {
			continue
		}
		s.seen[key] = struct{}{}
		s.docs = append(s.docs, doc)
		inserted++
	}
	return inserted, nil
}

// Documents returns a copy of everything stored, in insertion order.
func (s *RecordStore) Documents() []storage.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]storage.Document(nil), s.docs...)
}

// Len reports how many documents are stored.
func (s *RecordStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}
