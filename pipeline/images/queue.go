package images

import (
	"fmt"

	"github.com/Kush-Singh-26/rapidcache/pipeline/cache"
)

// counterName keys the persistent per-format conversion total.
func counterName(f Format) string {
	return "converted:" + string(f)
}

// Queue is the persisted set of conversion jobs, one status bucket per
// format. It is backed by the BoltDB state store.
type Queue struct {
	state *cache.Manager
}

// NewQueue wraps an open state store.
func NewQueue(state *cache.Manager) *Queue {
	return &Queue{state: state}
}

// Enqueue adds path as pending for f. It returns false when the job is
// already pending, was skipped, or failed; failed jobs stay put until
// RetryFailed. A completed job whose variant is being requested again is
// moved back to pending.
func (q *Queue) Enqueue(path string, f Format) (bool, error) {
	return q.state.MoveJob(string(f), path, cache.JobPending, "", func(current cache.JobStatus) bool {
		return current == "" || current == cache.JobCompleted
	})
}

// Pending returns up to limit pending paths for f.
func (q *Queue) Pending(f Format, limit int) ([]string, error) {
	recs, err := q.state.ListJobs(string(f), cache.JobPending, limit)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(recs))
	for _, r := range recs {
		paths = append(paths, r.Path)
	}
	return paths, nil
}

// Mark moves the job to status, recording errMsg for failures.
func (q *Queue) Mark(path string, f Format, status Status, errMsg string) error {
	_, err := q.state.MoveJob(string(f), path, status, errMsg, nil)
	return err
}

// Complete marks the job completed. written tells whether the converter
// produced the variant or found it already on disk.
func (q *Queue) Complete(path string, f Format, written bool) error {
	return q.state.CompleteJob(string(f), path, written)
}

// Job returns the current state of a job, or nil.
func (q *Queue) Job(path string, f Format) (*Job, error) {
	rec, err := q.state.GetJob(string(f), path)
	if err != nil || rec == nil {
		return nil, err
	}
	return &Job{Path: rec.Path, Format: f, Status: rec.Status}, nil
}

// List returns jobs of one status.
func (q *Queue) List(f Format, status Status, limit int) ([]cache.JobRecord, error) {
	return q.state.ListJobs(string(f), status, limit)
}

// Counts returns the size of every status bucket for f.
func (q *Queue) Counts(f Format) (map[Status]int, error) {
	out := make(map[Status]int, 4)
	for _, s := range cache.AllJobStatuses() {
		n, err := q.state.CountJobs(string(f), s)
		if err != nil {
			return nil, err
		}
		out[s] = n
	}
	return out, nil
}

// RetryFailed moves every failed job of f back to pending.
func (q *Queue) RetryFailed(f Format) (int, error) {
	recs, err := q.state.ListJobs(string(f), cache.JobFailed, 0)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, r := range recs {
		moved, err := q.state.MoveJob(string(f), r.Path, cache.JobPending, "", func(current cache.JobStatus) bool {
			return current == cache.JobFailed
		})
		if err != nil {
			return n, fmt.Errorf("failed to requeue %s: %w", r.Path, err)
		}
		if moved {
			n++
		}
	}
	return n, nil
}

// Reset empties the completed and failed buckets of f.
func (q *Queue) Reset(f Format) (int, error) {
	total := 0
	for _, s := range []Status{StatusCompleted, StatusFailed} {
		n, err := q.state.DeleteJobs(string(f), s)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// IncrementConverted bumps the running total of successful conversions.
func (q *Queue) IncrementConverted(f Format) (uint64, error) {
	return q.state.IncrementCounter(counterName(f), 1)
}

// Converted returns the running total of successful conversions.
func (q *Queue) Converted(f Format) (uint64, error) {
	return q.state.Counter(counterName(f))
}
