package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageCrawlStart    Stage = "CRAWL_START"
	StageCrawlDone     Stage = "CRAWL_DONE"
	StageCrawlAborted  Stage = "CRAWL_ABORTED"
	StageFetchAttempt  Stage = "FETCH_ATTEMPT"
	StageRecordSkipped Stage = "RECORD_SKIPPED"
	StagePagerMissing  Stage = "PAGER_MISSING"
	StagePageParsed    Stage = "PAGE_PARSED"
	StagePageStored    Stage = "PAGE_STORED"
	StagePageFailed    Stage = "PAGE_FAILED"
	StageStoreFailed   Stage = "STORE_FAILED"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported HTTP status classes tracked for fetch attempts.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event captures a single component of crawl progress.
type Event struct {
	// RunID identifies one crawl run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	// Page is the catalog page number the event is about (0 when not page scoped).
	Page int
	URL  string
	// StatusCode is the raw HTTP status of a fetch attempt (0 on transport failure).
	StatusCode  int
	StatusClass StatusClass
	Attempt     int
	Bytes       int64
	// Records carries parsed or stored record counts.
	Records int
	// Kind names the failure kind for skips and page failures.
	Kind string
	// Title is the record title associated with a skip, when already known.
	Title string
	Dur   time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageCrawlStart, StageCrawlDone, StageCrawlAborted, StagePagerMissing:
	case StageFetchAttempt:
		if e.URL == "" {
			return errors.New("fetch attempt requires url")
		}
		if e.StatusClass == "" {
			return errors.New("fetch attempt requires status class")
		}
	case StageRecordSkipped:
		if e.Kind == "" {
			return errors.New("record skip requires kind")
		}
	case StagePageParsed, StagePageStored, StagePageFailed, StageStoreFailed:
		if e.Page <= 0 {
			return errors.New("page event requires page number")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// ClassifyStatus groups HTTP status codes for fetch events.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
