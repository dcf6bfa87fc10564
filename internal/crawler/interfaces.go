package crawler

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
)

// PageFetcher returns the markup of one catalog page. Implementations must be
// safe for concurrent use.
type PageFetcher interface {
	Fetch(ctx context.Context, page int) (string, error)
}

// Sink persists validated records. Calls arrive concurrently and in no
// particular page order. Insert reports how many records were accepted even
// when it also returns an error.
type Sink interface {
	Insert(ctx context.Context, observedAt time.Time, records []catalog.Record) (int, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces crawl run IDs.
type IDGenerator interface {
	NewRunID() (uuid.UUID, error)
}
