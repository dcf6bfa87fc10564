// Package sinks implements concrete progress consumers: structured logging,
// Prometheus metrics and a live status summary for the HTTP surface. Each sink
// satisfies the progress.Sink interface and is safe for repeated Consume/Close
// cycles.
package sinks
