package local

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/storage"
)

// LinesSink appends one JSON document per line to a file. Concurrent
// Inserts are serialized so lines never interleave.
type LinesSink struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// NewLinesSink opens path for appending, creating it and its directory if missing.
func NewLinesSink(path string) (*LinesSink, error) {
	if path == "" {
		return nil, fmt.Errorf("jsonl path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create jsonl dir: %w", err)
	}
	// #nosec G304 -- path comes from operator configuration.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open jsonl file %s: %w", path, err)
	}
	return &LinesSink{file: f, path: path}, nil
}

// Insert implements crawler.Sink. The batch is encoded up front and written
// with a single call.
func (s *LinesSink) Insert(ctx context.Context, observedAt time.Time, records []catalog.Record) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("context canceled: %w", err)
	}
	docs := storage.NewDocuments(observedAt, records)
	if len(docs) == 0 {
		return 0, nil
	}
	var buf []byte
	for _, doc := range docs {
		line, err := json.Marshal(doc)
		if err != nil {
			return 0, fmt.Errorf("marshal document %q: %w", doc.Title, err)
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return 0, fmt.Errorf("jsonl sink %s is closed", s.path)
	}
	if _, err := s.file.Write(buf); err != nil {
		return 0, fmt.Errorf("write jsonl %s: %w", s.path, err)
	}
	return len(docs), nil
}

// Close syncs and closes the file. Calling it more than once is harmless.
func (s *LinesSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	f := s.file
	s.file = nil
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync jsonl %s: %w", s.path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close jsonl %s: %w", s.path, err)
	}
	return nil
}
