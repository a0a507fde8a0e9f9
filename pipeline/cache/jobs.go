package cache

import (
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// findJob returns the status bucket currently holding path, or "".
func findJob(tx *bolt.Tx, format, path string) (JobStatus, *JobRecord, error) {
	for _, s := range AllJobStatuses() {
		b := tx.Bucket([]byte(JobBucket(format, s)))
		if b == nil {
			return "", nil, fmt.Errorf("unknown image format %q", format)
		}
		data := b.Get([]byte(path))
		if data == nil {
			continue
		}
		var rec JobRecord
		if err := Decode(data, &rec); err != nil {
			return "", nil, fmt.Errorf("failed to decode job %s: %w", path, err)
		}
		return s, &rec, nil
	}
	return "", nil, nil
}

// MoveJob places path into the status bucket `to` for format, removing it
// from the bucket that currently holds it in the same transaction, so a path
// never sits in two buckets of one format. when receives the current status
// ("" when the path is unknown) and may veto the move.
func (m *Manager) MoveJob(format, path string, to JobStatus, errMsg string, when func(current JobStatus) bool) (bool, error) {
	return m.moveJob(format, path, to, errMsg, false, when)
}

// CompleteJob moves path to the completed bucket. written records that the
// converter produced the variant; an earlier written flag is kept.
func (m *Manager) CompleteJob(format, path string, written bool) error {
	_, err := m.moveJob(format, path, JobCompleted, "", written, nil)
	return err
}

func (m *Manager) moveJob(format, path string, to JobStatus, errMsg string, written bool, when func(current JobStatus) bool) (bool, error) {
	moved := false
	err := m.db.Update(func(tx *bolt.Tx) error {
		current, rec, err := findJob(tx, format, path)
		if err != nil {
			return err
		}
		if when != nil && !when(current) {
			return nil
		}

		now := time.Now().Unix()
		next := JobRecord{
			Path:       path,
			Format:     format,
			Status:     to,
			EnqueuedAt: now,
			UpdatedAt:  now,
			Error:      errMsg,
			Written:    written,
		}
		if rec != nil {
			next.EnqueuedAt = rec.EnqueuedAt
			next.Written = next.Written || rec.Written
			if err := tx.Bucket([]byte(JobBucket(format, current))).Delete([]byte(path)); err != nil {
				return err
			}
		}
		if to == JobPending {
			next.EnqueuedAt = now
		}

		data, err := Encode(&next)
		if err != nil {
			return err
		}
		if err := tx.Bucket([]byte(JobBucket(format, to))).Put([]byte(path), data); err != nil {
			return err
		}
		moved = true
		return nil
	})
	return moved, err
}

// GetJob returns the job for path and format, or nil.
func (m *Manager) GetJob(format, path string) (*JobRecord, error) {
	var rec *JobRecord
	err := m.db.View(func(tx *bolt.Tx) error {
		var err error
		_, rec, err = findJob(tx, format, path)
		return err
	})
	return rec, err
}

// ListJobs returns up to limit jobs of one bucket in key order.
// A limit <= 0 lists everything.
func (m *Manager) ListJobs(format string, status JobStatus, limit int) ([]JobRecord, error) {
	var out []JobRecord
	err := m.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(JobBucket(format, status)))
		if b == nil {
			return fmt.Errorf("unknown image format %q", format)
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var rec JobRecord
			if err := Decode(v, &rec); err != nil {
				continue
			}
			out = append(out, rec)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})
	return out, err
}

// CountJobs returns the number of jobs in one bucket.
func (m *Manager) CountJobs(format string, status JobStatus) (int, error) {
	n := 0
	err := m.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(JobBucket(format, status)))
		if b == nil {
			return fmt.Errorf("unknown image format %q", format)
		}
		n = b.Stats().KeyN
		return nil
	})
	return n, err
}

// DeleteJobs empties one bucket and returns how many jobs it held.
func (m *Manager) DeleteJobs(format string, status JobStatus) (int, error) {
	n := 0
	err := m.db.Update(func(tx *bolt.Tx) error {
		name := []byte(JobBucket(format, status))
		b := tx.Bucket(name)
		if b == nil {
			return fmt.Errorf("unknown image format %q", format)
		}
		n = b.Stats().KeyN
		if err := tx.DeleteBucket(name); err != nil {
			return err
		}
		_, err := tx.CreateBucket(name)
		return err
	})
	return n, err
}
