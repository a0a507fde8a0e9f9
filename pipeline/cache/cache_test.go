package cache

import (
	"testing"
)

func createTestState(t *testing.T) (*Manager, func()) {
	t.Helper()
	m, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to open state store: %v", err)
	}
	return m, func() { _ = m.Close() }
}

func TestOpen_CreatesBuckets(t *testing.T) {
	m, cleanup := createTestState(t)
	defer cleanup()

	for _, f := range Formats {
		for _, s := range AllJobStatuses() {
			n, err := m.CountJobs(f, s)
			if err != nil {
				t.Fatalf("CountJobs(%s, %s) failed: %v", f, s, err)
			}
			if n != 0 {
				t.Errorf("CountJobs(%s, %s) = %d, want 0", f, s, n)
			}
		}
	}
}

func TestCounters(t *testing.T) {
	m, cleanup := createTestState(t)
	defer cleanup()

	if v, _ := m.Counter("converted:webp"); v != 0 {
		t.Errorf("unknown counter = %d, want 0", v)
	}
	for i := 0; i < 3; i++ {
		if _, err := m.IncrementCounter("converted:webp", 1); err != nil {
			t.Fatalf("IncrementCounter failed: %v", err)
		}
	}
	v, err := m.Counter("converted:webp")
	if err != nil {
		t.Fatalf("Counter failed: %v", err)
	}
	if v != 3 {
		t.Errorf("Counter = %d, want 3", v)
	}
}

func TestMoveJob_NeverInTwoBuckets(t *testing.T) {
	m, cleanup := createTestState(t)
	defer cleanup()

	if _, err := m.MoveJob("webp", "/img/a.jpg", JobPending, "", nil); err != nil {
		t.Fatalf("MoveJob pending failed: %v", err)
	}
	if _, err := m.MoveJob("webp", "/img/a.jpg", JobCompleted, "", nil); err != nil {
		t.Fatalf("MoveJob completed failed: %v", err)
	}

	total := 0
	for _, s := range AllJobStatuses() {
		n, _ := m.CountJobs("webp", s)
		total += n
	}
	if total != 1 {
		t.Errorf("job appears in %d buckets, want 1", total)
	}

	rec, err := m.GetJob("webp", "/img/a.jpg")
	if err != nil || rec == nil {
		t.Fatalf("GetJob = %v, %v", rec, err)
	}
	if rec.Status != JobCompleted {
		t.Errorf("Status = %s, want %s", rec.Status, JobCompleted)
	}

	// Formats are independent.
	if rec, _ := m.GetJob("avif", "/img/a.jpg"); rec != nil {
		t.Errorf("avif job = %+v, want nil", rec)
	}
}

func TestMoveJob_Veto(t *testing.T) {
	m, cleanup := createTestState(t)
	defer cleanup()

	onlyNew := func(current JobStatus) bool { return current == "" }

	moved, err := m.MoveJob("avif", "/a.png", JobPending, "", onlyNew)
	if err != nil || !moved {
		t.Fatalf("first MoveJob = %v, %v; want true", moved, err)
	}
	moved, err = m.MoveJob("avif", "/a.png", JobPending, "", onlyNew)
	if err != nil {
		t.Fatalf("second MoveJob failed: %v", err)
	}
	if moved {
		t.Error("second MoveJob moved a known job")
	}
}

func TestMoveJob_UnknownFormat(t *testing.T) {
	m, cleanup := createTestState(t)
	defer cleanup()

	if _, err := m.MoveJob("gif", "/a.gif", JobPending, "", nil); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestListAndDeleteJobs(t *testing.T) {
	m, cleanup := createTestState(t)
	defer cleanup()

	for _, p := range []string{"/a.jpg", "/b.jpg", "/c.jpg"} {
		if _, err := m.MoveJob("webp", p, JobFailed, "boom", nil); err != nil {
			t.Fatalf("MoveJob failed: %v", err)
		}
	}

	recs, err := m.ListJobs("webp", JobFailed, 2)
	if err != nil {
		t.Fatalf("ListJobs failed: %v", err)
	}
	if len(recs) != 2 {
		t.Errorf("ListJobs(limit 2) returned %d", len(recs))
	}
	if recs[0].Error != "boom" {
		t.Errorf("Error = %q, want boom", recs[0].Error)
	}

	n, err := m.DeleteJobs("webp", JobFailed)
	if err != nil {
		t.Fatalf("DeleteJobs failed: %v", err)
	}
	if n != 3 {
		t.Errorf("DeleteJobs = %d, want 3", n)
	}
	if left, _ := m.CountJobs("webp", JobFailed); left != 0 {
		t.Errorf("CountJobs after delete = %d, want 0", left)
	}
}

func TestSweepReport(t *testing.T) {
	m, cleanup := createTestState(t)
	defer cleanup()

	if r, err := m.SweepReport("pages"); err != nil || r != nil {
		t.Fatalf("SweepReport before put = %v, %v; want nil, nil", r, err)
	}

	want := &SweepReport{Kind: "pages", StartedAt: 100, Scheduled: 4, Skipped: 1}
	if err := m.PutSweepReport(want); err != nil {
		t.Fatalf("PutSweepReport failed: %v", err)
	}
	got, err := m.SweepReport("pages")
	if err != nil || got == nil {
		t.Fatalf("SweepReport = %v, %v", got, err)
	}
	if *got != *want {
		t.Errorf("SweepReport = %+v, want %+v", got, want)
	}
}

func TestCompleteJob_KeepsWrittenFlag(t *testing.T) {
	m, cleanup := createTestState(t)
	defer cleanup()

	if err := m.CompleteJob("webp", "/a.jpg", true); err != nil {
		t.Fatalf("CompleteJob failed: %v", err)
	}
	if _, err := m.MoveJob("webp", "/a.jpg", JobPending, "", nil); err != nil {
		t.Fatalf("MoveJob failed: %v", err)
	}
	if err := m.CompleteJob("webp", "/a.jpg", false); err != nil {
		t.Fatalf("CompleteJob failed: %v", err)
	}
	if err := m.CompleteJob("webp", "/b.jpg", false); err != nil {
		t.Fatalf("CompleteJob failed: %v", err)
	}

	tests := []struct {
		path string
		want bool
	}{
		{"/a.jpg", true},
		{"/b.jpg", false},
	}
	for _, tt := range tests {
		rec, err := m.GetJob("webp", tt.path)
		if err != nil || rec == nil {
			t.Fatalf("GetJob(%s) = %v, %v", tt.path, rec, err)
		}
		if rec.Status != JobCompleted || rec.Written != tt.want {
			t.Errorf("GetJob(%s) = %s written=%v, want completed written=%v", tt.path, rec.Status, rec.Written, tt.want)
		}
	}
}
