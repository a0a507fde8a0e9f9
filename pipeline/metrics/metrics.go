// Package metrics tracks request and cache counters for the serving process.
package metrics

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Counter names one tracked event.
type Counter int

const (
	PageHits Counter = iota
	PageMisses
	PageBypasses
	PageStores
	PageNotModified
	Invalidations
	AssetHits
	AssetMisses
	AssetFallbacks // asset served unminified after a store failure
	ImagesEnqueued
	ImagesServed

	numCounters
)

var counterNames = [numCounters]string{
	"page_hits", "page_misses", "page_bypasses", "page_stores", "page_not_modified",
	"invalidations", "asset_hits", "asset_misses", "asset_fallbacks",
	"images_enqueued", "images_served",
}

func (c Counter) String() string {
	if c < 0 || c >= numCounters {
		return fmt.Sprintf("counter(%d)", int(c))
	}
	return counterNames[c]
}

// Metrics holds process-lifetime counters. All methods are safe for
// concurrent use; a nil *Metrics ignores every update.
type Metrics struct {
	StartTime time.Time
	counts    [numCounters]atomic.Int64
}

// New creates a metrics instance.
func New() *Metrics {
	return &Metrics{StartTime: time.Now()}
}

// Inc increments c by one.
func (m *Metrics) Inc(c Counter) {
	m.Add(c, 1)
}

// Add increments c by n.
func (m *Metrics) Add(c Counter, n int) {
	if m == nil || c < 0 || c >= numCounters {
		return
	}
	m.counts[c].Add(int64(n))
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Uptime time.Duration
	Counts [numCounters]int64
}

// Snapshot copies the current counter values.
func (m *Metrics) Snapshot() Snapshot {
	var s Snapshot
	if m == nil {
		return s
	}
	s.Uptime = time.Since(m.StartTime)
	for i := range m.counts {
		s.Counts[i] = m.counts[i].Load()
	}
	return s
}

// Get returns one counter.
func (s Snapshot) Get(c Counter) int64 {
	if c < 0 || c >= numCounters {
		return 0
	}
	return s.Counts[c]
}

// HitRate returns the page cache hit percentage. A 304 counts as a hit.
func (s Snapshot) HitRate() float64 {
	hits := s.Get(PageHits) + s.Get(PageNotModified)
	total := hits + s.Get(PageMisses)
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total) * 100
}

// String returns a minimal single-line summary.
func (s Snapshot) String() string {
	return fmt.Sprintf("📊 pages: %d hits, %d not modified, %d misses, %d bypassed, %d stored (%.0f%%); assets: %d/%d hits; images: %d queued",
		s.Get(PageHits),
		s.Get(PageNotModified),
		s.Get(PageMisses),
		s.Get(PageBypasses),
		s.Get(PageStores),
		s.HitRate(),
		s.Get(AssetHits),
		s.Get(AssetHits)+s.Get(AssetMisses),
		s.Get(ImagesEnqueued),
	)
}

// LogValue implements slog.LogValuer.
func (s Snapshot) LogValue() slog.Value {
	attrs := make([]slog.Attr, 0, numCounters+1)
	attrs = append(attrs, slog.Duration("uptime", s.Uptime))
	for i, n := range s.Counts {
		attrs = append(attrs, slog.Int64(Counter(i).String(), n))
	}
	return slog.GroupValue(attrs...)
}
