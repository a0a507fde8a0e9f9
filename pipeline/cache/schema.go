package cache

// BoltDB bucket names
const (
	BucketMeta     = "meta"     // schema_version
	BucketCounters = "counters" // {name} -> uint64 big endian
	BucketRecords  = "records"  // {key} -> msgpack record (sweep reports etc.)

	KeySchemaVersion = "schema_version"
)

// Formats with job buckets.
var Formats = []string{"webp", "avif"}

// JobStatus is the bucket a conversion job currently sits in.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobSkipped   JobStatus = "skipped"
)

// AllJobStatuses lists every status bucket.
func AllJobStatuses() []JobStatus {
	return []JobStatus{JobPending, JobCompleted, JobFailed, JobSkipped}
}

// JobBucket names the bucket holding jobs of one format and status:
// jobs/{format}/{status} -> {path} -> JobRecord
func JobBucket(format string, status JobStatus) string {
	return "jobs/" + format + "/" + string(status)
}

// AllBuckets returns all bucket names for initialization
func AllBuckets() []string {
	names := []string{BucketMeta, BucketCounters, BucketRecords}
	for _, f := range Formats {
		for _, s := range AllJobStatuses() {
			names = append(names, JobBucket(f, s))
		}
	}
	return names
}
