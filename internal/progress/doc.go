// Package progress provides the event primitives, the non-blocking Hub and the
// Emitter interface that crawl components receive at construction. Fetch
// attempts, record skips, page outcomes and crawl lifecycle milestones all flow
// through an Emitter; the Hub batches them on a background goroutine and fans
// them out to pluggable sinks such as structured logs or Prometheus metrics.
package progress
