package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/catalog-crawler/internal/progress"
)

// PrometheusSink exports crawl progress as Prometheus collectors: fetch
// attempts, record skips per kind, page outcomes and crawl results.
type PrometheusSink struct {
	crawlsTotal    *prometheus.CounterVec
	crawlRuntime   *prometheus.HistogramVec
	fetchAttempts  *prometheus.CounterVec
	fetchBytes     prometheus.Counter
	fetchDuration  *prometheus.HistogramVec
	recordsParsed  prometheus.Counter
	recordsStored  prometheus.Counter
	recordsSkipped *prometheus.CounterVec
	pagesTotal     *prometheus.CounterVec
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		crawlsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_crawls_total",
			Help: "Finished crawls partitioned by terminal state.",
		}, []string{"result"}),
		crawlRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "catalog_crawl_runtime_seconds",
			Help:    "Wall time per crawl run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"result"}),
		fetchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_fetch_attempts_total",
			Help: "Page fetch attempts partitioned by status class.",
		}, []string{"status_class"}),
		fetchBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "catalog_fetch_bytes_total",
			Help: "Bytes downloaded across all page fetches.",
		}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "catalog_fetch_duration_seconds",
			Help:    "Fetch attempt duration partitioned by status class.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		}, []string{"status_class"}),
		recordsParsed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "catalog_records_parsed_total",
			Help: "Records extracted from catalog pages.",
		}),
		recordsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "catalog_records_stored_total",
			Help: "Records accepted by the storage sink.",
		}),
		recordsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_records_skipped_total",
			Help: "Product fragments skipped, partitioned by failure kind.",
		}, []string{"kind"}),
		pagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_pages_total",
			Help: "Catalog pages partitioned by outcome.",
		}, []string{"result"}),
	}
	for _, collector := range []prometheus.Collector{
		s.crawlsTotal,
		s.crawlRuntime,
		s.fetchAttempts,
		s.fetchBytes,
		s.fetchDuration,
		s.recordsParsed,
		s.recordsStored,
		s.recordsSkipped,
		s.pagesTotal,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageFetchAttempt:
		s.handleFetchEvent(evt)
	case progress.StageRecordSkipped:
		s.recordsSkipped.WithLabelValues(evt.Kind).Inc()
	case progress.StagePageParsed:
		s.pagesTotal.WithLabelValues("parsed").Inc()
		s.recordsParsed.Add(float64(evt.Records))
	case progress.StagePageStored, progress.StageStoreFailed:
		s.recordsStored.Add(float64(evt.Records))
	case progress.StagePageFailed:
		s.pagesTotal.WithLabelValues("failed").Inc()
	case progress.StageCrawlDone:
		s.observeCrawl(evt, "completed")
	case progress.StageCrawlAborted:
		s.observeCrawl(evt, "aborted_at_seed")
	}
}

func (s *PrometheusSink) observeCrawl(evt progress.Event, label string) {
	s.crawlsTotal.WithLabelValues(label).Inc()
	if evt.Dur > 0 {
		s.crawlRuntime.WithLabelValues(label).Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) handleFetchEvent(evt progress.Event) {
	statusClass := string(evt.StatusClass)
	if statusClass == "" {
		statusClass = string(progress.StatusOther)
	}
	s.fetchAttempts.WithLabelValues(statusClass).Inc()
	if evt.Bytes > 0 {
		s.fetchBytes.Add(float64(evt.Bytes))
	}
	if evt.Dur > 0 {
		s.fetchDuration.WithLabelValues(statusClass).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
