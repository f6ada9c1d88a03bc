// Package metrics exposes worker counters over a Prometheus scrape
// endpoint.
package metrics
