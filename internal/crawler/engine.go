package crawler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	collyfetcher "github.com/JakeFAU/catalog-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/catalog-crawler/internal/markup"
	"github.com/JakeFAU/catalog-crawler/internal/progress"
)

// State is the terminal state of a crawl.
type State string

// Terminal crawl states.
const (
	StateCompleted     State = "completed"
	StateAbortedAtSeed State = "aborted_at_seed"
)

const seedPage = 1

// Config tunes the fan-out phase.
type Config struct {
	// Concurrency caps in-flight page tasks; 0 runs every page at once.
	Concurrency int
}

// Result summarizes a crawl run.
type Result struct {
	State     State
	RunID     uuid.UUID
	PageCount int
	// PagesSucceeded lists the pages that were fetched and parsed, ascending.
	PagesSucceeded []int
	// PagesFailed lists the pages whose fetch or parse failed, ascending.
	PagesFailed []int
	// Records counts records extracted across all pages.
	Records int
	// Stored counts records the sink accepted.
	Stored int
}

// Engine runs catalog crawls.
type Engine struct {
	cfg     Config
	fetcher PageFetcher
	sink    Sink
	emitter progress.Emitter
	clock   Clock
	ids     IDGenerator
	logger  *zap.Logger
}

// NewEngine wires an Engine. emitter and logger may be nil.
func NewEngine(
	cfg Config,
	fetcher PageFetcher,
	sink Sink,
	emitter progress.Emitter,
	clock Clock,
	ids IDGenerator,
	logger *zap.Logger,
) (*Engine, error) {
	if fetcher == nil {
		return nil, errors.New("crawler: fetcher is required")
	}
	if sink == nil {
		return nil, errors.New("crawler: sink is required")
	}
	if clock == nil {
		return nil, errors.New("crawler: clock is required")
	}
	if ids == nil {
		return nil, errors.New("crawler: id generator is required")
	}
	if cfg.Concurrency < 0 {
		return nil, fmt.Errorf("crawler: concurrency must be >= 0, got %d", cfg.Concurrency)
	}
	if emitter == nil {
		emitter = progress.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:     cfg,
		fetcher: fetcher,
		sink:    sink,
		emitter: emitter,
		clock:   clock,
		ids:     ids,
		logger:  logger,
	}, nil
}

// run carries the per-crawl state shared by page tasks.
type run struct {
	*Engine
	id      uuid.UUID
	emitter progress.Emitter
	parser  *catalog.Parser
	logger  *zap.Logger

	mu     sync.Mutex
	result Result
}

// Run crawls the catalog once. When the seed page cannot be resolved the
// returned Result is StateAbortedAtSeed and the cause is returned as error;
// any records the seed page did yield have already been handed to the sink.
func (e *Engine) Run(ctx context.Context) (Result, error) {
	id, err := e.ids.NewRunID()
	if err != nil {
		return Result{}, fmt.Errorf("crawler: new run id: %w", err)
	}
	emitter := progress.WithRun(e.emitter, id, func() time.Time { return e.clock.Now().UTC() })
	logger := e.logger.With(zap.String("run_id", id.String()))
	r := &run{
		Engine:  e,
		id:      id,
		emitter: emitter,
		parser:  catalog.NewParser(emitter, logger.Named("parser")),
		logger:  logger,
		result:  Result{RunID: id},
	}
	return r.crawl(progress.ContextWithEmitter(ctx, emitter))
}

func (r *run) crawl(ctx context.Context) (Result, error) {
	start := r.clock.Now()
	r.logger.Info("crawl started", zap.Int("concurrency", r.cfg.Concurrency))
	r.emitter.Emit(progress.Event{Stage: progress.StageCrawlStart})

	count, err := r.seed(ctx)
	if err != nil {
		return r.abort(start, err)
	}
	r.result.PageCount = count
	r.logger.Info("page count resolved", zap.Int("pages", count))

	g := new(errgroup.Group)
	if r.cfg.Concurrency > 0 {
		g.SetLimit(r.cfg.Concurrency)
	}
	for page := seedPage + 1; page <= count; page++ {
		g.Go(func() error {
			r.crawlPage(ctx, page)
			return nil
		})
	}
	// Page tasks never return errors; failures are recorded per page.
	_ = g.Wait()

	r.result.State = StateCompleted
	slices.Sort(r.result.PagesSucceeded)
	slices.Sort(r.result.PagesFailed)
	dur := r.clock.Now().Sub(start)
	r.logger.Info("crawl completed",
		zap.Int("pages", count),
		zap.Int("pages_failed", len(r.result.PagesFailed)),
		zap.Int("records", r.result.Records),
		zap.Int("stored", r.result.Stored),
		zap.Duration("dur", dur),
	)
	r.emitter.Emit(progress.Event{
		Stage:   progress.StageCrawlDone,
		Records: r.result.Records,
		Dur:     nonNegative(dur),
		Note:    fmt.Sprintf("pages=%d failed=%d", count, len(r.result.PagesFailed)),
	})
	return r.result, nil
}

// seed fetches and parses page 1, stores its records and resolves the page count.
func (r *run) seed(ctx context.Context) (int, error) {
	doc, err := r.load(ctx, seedPage)
	if err != nil {
		r.pageFailed(seedPage, err)
		return 0, err
	}
	r.store(ctx, seedPage, r.parser.ParsePage(seedPage, doc))

	text, err := catalog.PagerText(doc)
	if err != nil {
		r.logger.Error("pagination control missing on seed page", zap.Error(err))
		r.emitter.Emit(progress.Event{
			Stage: progress.StagePagerMissing,
			Page:  seedPage,
			Kind:  catalog.KindName(err),
			Note:  err.Error(),
		})
		return 0, err
	}
	count, err := catalog.ResolvePageCount(text)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *run) crawlPage(ctx context.Context, page int) {
	doc, err := r.load(ctx, page)
	if err != nil {
		r.pageFailed(page, err)
		return
	}
	r.store(ctx, page, r.parser.ParsePage(page, doc))
}

func (r *run) load(ctx context.Context, page int) (markup.Node, error) {
	body, err := r.fetcher.Fetch(ctx, page)
	if err != nil {
		return nil, fmt.Errorf("fetch page %d: %w", page, err)
	}
	doc, err := markup.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("parse page %d: %w", page, err)
	}
	return doc, nil
}

func (r *run) store(ctx context.Context, page int, records []catalog.Record) {
	r.mu.Lock()
	r.result.PagesSucceeded = append(r.result.PagesSucceeded, page)
	r.result.Records += len(records)
	r.mu.Unlock()

	if len(records) == 0 {
		r.logger.Debug("page yielded no records", zap.Int("page", page))
		return
	}

	inserted, err := r.sink.Insert(ctx, r.clock.Now().UTC(), records)
	r.mu.Lock()
	r.result.Stored += inserted
	r.mu.Unlock()

	if err != nil {
		r.logger.Warn("storing page records failed",
			zap.Int("page", page),
			zap.Int("records", len(records)),
			zap.Int("inserted", inserted),
			zap.Error(err),
		)
		r.emitter.Emit(progress.Event{
			Stage:   progress.StageStoreFailed,
			Page:    page,
			Records: inserted,
			Note:    err.Error(),
		})
		return
	}
	r.logger.Info(fmt.Sprintf("inserted %d records", inserted), zap.Int("page", page))
	r.emitter.Emit(progress.Event{
		Stage:   progress.StagePageStored,
		Page:    page,
		Records: inserted,
	})
}

func (r *run) pageFailed(page int, err error) {
	r.mu.Lock()
	r.result.PagesFailed = append(r.result.PagesFailed, page)
	r.mu.Unlock()

	kind := failureKind(err)
	r.logger.Warn("page failed", zap.Int("page", page), zap.String("kind", kind), zap.Error(err))
	r.emitter.Emit(progress.Event{
		Stage: progress.StagePageFailed,
		Page:  page,
		Kind:  kind,
		Note:  err.Error(),
	})
}

func (r *run) abort(start time.Time, cause error) (Result, error) {
	r.result.State = StateAbortedAtSeed
	dur := r.clock.Now().Sub(start)
	r.logger.Error("crawl aborted at seed page", zap.Error(cause), zap.Duration("dur", dur))
	r.emitter.Emit(progress.Event{
		Stage:   progress.StageCrawlAborted,
		Records: r.result.Records,
		Kind:    failureKind(cause),
		Dur:     nonNegative(dur),
		Note:    cause.Error(),
	})
	return r.result, fmt.Errorf("crawl aborted at seed page: %w", cause)
}

func failureKind(err error) string {
	var terr *collyfetcher.TransportError
	switch {
	case errors.Is(err, collyfetcher.ErrNotFound):
		return "not_found"
	case errors.As(err, &terr):
		return "transport"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.Is(err, markup.ErrUnreadable):
		return "unreadable_markup"
	}
	if kind := catalog.KindName(err); kind != "unknown" {
		return kind
	}
	return "fetch"
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
