// Package storage holds the persisted shape of catalog records and the sinks
// that write whole page batches to blob stores.
package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
)

// Document is one stored record. ParseDate is the observation timestamp the
// batch was handed to the sink with.
type Document struct {
	Title     string    `json:"title"`
	Price     string    `json:"price"`
	InStock   bool      `json:"in_stock"`
	ParseDate time.Time `json:"parse_date"`
}

// NewDocuments stamps records with observedAt in UTC.
func NewDocuments(observedAt time.Time, records []catalog.Record) []Document {
	observedAt = observedAt.UTC()
	docs := make([]Document, 0, len(records))
	for _, rec := range records {
		docs = append(docs, Document{
			Title:     rec.Title,
			Price:     rec.Price,
			InStock:   rec.Available,
			ParseDate: observedAt,
		})
	}
	return docs
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Snapshot is the object written for one page batch.
type Snapshot struct {
	ObservedAt time.Time  `json:"observed_at"`
	Count      int        `json:"count"`
	Records    []Document `json:"records"`
}

// SnapshotSink writes every Insert call as one JSON object to a BlobStore.
type SnapshotSink struct {
	store  BlobStore
	prefix string
	logger *zap.Logger
}

// NewSnapshotSink builds a SnapshotSink writing objects under prefix.
func NewSnapshotSink(store BlobStore, prefix string, logger *zap.Logger) (*SnapshotSink, error) {
	if store == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnapshotSink{store: store, prefix: prefix, logger: logger}, nil
}

// Insert implements crawler.Sink. A batch is written whole or not at all.
func (s *SnapshotSink) Insert(ctx context.Context, observedAt time.Time, records []catalog.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	snap := Snapshot{
		ObservedAt: observedAt.UTC(),
		Count:      len(records),
		Records:    NewDocuments(observedAt, records),
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return 0, fmt.Errorf("marshal snapshot: %w", err)
	}
	name := ObjectName(s.prefix, snap.ObservedAt, payload)
	uri, err := s.store.PutObject(ctx, name, "application/json", bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("put snapshot %s: %w", name, err)
	}
	s.logger.Debug("snapshot written", zap.String("uri", uri), zap.Int("records", len(records)))
	return len(records), nil
}

// ObjectName derives a date-partitioned object path from the payload digest,
// so concurrent batches observed at the same instant still get distinct names.
func ObjectName(prefix string, observedAt time.Time, payload []byte) string {
	sum := sha256.Sum256(payload)
	return path.Join(
		prefix,
		"records",
		observedAt.UTC().Format("2006-01-02"),
		fmt.Sprintf("%d-%x.json", observedAt.UTC().UnixNano(), sum[:8]),
	)
}
