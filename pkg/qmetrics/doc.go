// Package qmetrics registers and exposes the Prometheus gauges, counters,
// and histograms described in SPEC_FULL.md's domain-stack section. Call
// Handler to mount /metrics on an HTTP server.
package qmetrics
