package run

import (
	"fmt"

	"github.com/Kush-Singh-26/rapidcache/pipeline/cache"
	"github.com/Kush-Singh-26/rapidcache/pipeline/images"
	"github.com/Kush-Singh-26/rapidcache/pipeline/scheduler"
)

// ImageStats summarises one target format.
type ImageStats struct {
	Format    images.Format
	Counts    map[images.Status]int
	Converted uint64
}

// Stats is a point-in-time view of everything the pipeline has stored.
type Stats struct {
	Pages      int
	AssetFiles int
	AssetBytes int64
	Images     []ImageStats
	Sweeps     map[string]*cache.SweepReport
}

// Stats gathers cache, asset and queue totals.
func (s *Site) Stats() (*Stats, error) {
	st := &Stats{Sweeps: make(map[string]*cache.SweepReport)}

	n, err := s.Pages.Count(s.Config.Host())
	if err != nil {
		return nil, fmt.Errorf("failed to count pages: %w", err)
	}
	st.Pages = n

	if st.AssetFiles, st.AssetBytes, err = s.Assets.Stats(); err != nil {
		return nil, fmt.Errorf("failed to read asset store: %w", err)
	}

	q := s.Images.Queue()
	for _, f := range s.Images.Formats() {
		counts, err := q.Counts(f)
		if err != nil {
			return nil, err
		}
		converted, err := q.Converted(f)
		if err != nil {
			return nil, err
		}
		st.Images = append(st.Images, ImageStats{Format: f, Counts: counts, Converted: converted})
	}

	for _, kind := range []string{scheduler.KindPages, scheduler.KindImages, scheduler.KindPreload} {
		r, err := s.State.SweepReport(kind)
		if err != nil {
			return nil, err
		}
		if r != nil {
			st.Sweeps[kind] = r
		}
	}
	return st, nil
}
