package metrics

import (
	"strings"
	"sync"
	"testing"
)

func TestNew(t *testing.T) {
	m := New()
	if m.StartTime.IsZero() {
		t.Error("StartTime should be set")
	}
	s := m.Snapshot()
	if s.Get(PageHits) != 0 || s.Get(PageMisses) != 0 {
		t.Errorf("fresh snapshot = %+v, want zero counters", s)
	}
}

func TestConcurrentUpdates(t *testing.T) {
	m := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Inc(PageHits)
			m.Inc(PageMisses)
			m.Add(ImagesEnqueued, 2)
		}()
	}
	wg.Wait()

	s := m.Snapshot()
	if got := s.Get(PageHits); got != 50 {
		t.Errorf("PageHits = %d, want 50", got)
	}
	if got := s.Get(ImagesEnqueued); got != 100 {
		t.Errorf("ImagesEnqueued = %d, want 100", got)
	}
}

func TestHitRate(t *testing.T) {
	snap := func(hits, notModified, misses int64) Snapshot {
		var s Snapshot
		s.Counts[PageHits] = hits
		s.Counts[PageNotModified] = notModified
		s.Counts[PageMisses] = misses
		return s
	}
	tests := []struct {
		s    Snapshot
		want float64
	}{
		{snap(0, 0, 0), 0},
		{snap(3, 0, 1), 75},
		{snap(1, 1, 2), 50},
	}
	for _, tt := range tests {
		if got := tt.s.HitRate(); got != tt.want {
			t.Errorf("HitRate(%v) = %v, want %v", tt.s.Counts, got, tt.want)
		}
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.Inc(PageHits)
	m.Add(ImagesEnqueued, 3)
	if got := m.Snapshot().Get(PageHits); got != 0 {
		t.Errorf("nil snapshot PageHits = %d", got)
	}
}

func TestCounterString(t *testing.T) {
	if got := PageNotModified.String(); got != "page_not_modified" {
		t.Errorf("String() = %q", got)
	}
	if got := Counter(99).String(); got != "counter(99)" {
		t.Errorf("String() = %q", got)
	}
}

func TestSummary(t *testing.T) {
	m := New()
	for i := 0; i < 9; i++ {
		m.Inc(PageHits)
	}
	m.Inc(PageMisses)
	m.Add(AssetHits, 2)
	m.Add(AssetMisses, 2)

	out := m.Snapshot().String()
	for _, want := range []string{"9 hits", "1 misses", "90%", "2/4 hits"} {
		if !strings.Contains(out, want) {
			t.Errorf("String() = %q, missing %q", out, want)
		}
	}
}
