// Package cache provides the BoltDB state store behind the image conversion
// queue, the per-format conversion counters and scheduler bookkeeping.
package cache

import (
	"github.com/vmihailenco/msgpack/v5"
)

// SchemaVersion is bumped on incompatible record changes.
const SchemaVersion = 1

// JobRecord stores one conversion job. Written is set once the converter
// itself produced the variant file; variants found on disk leave it false.
type JobRecord struct {
	Path       string    `msgpack:"path"`
	Format     string    `msgpack:"format"`
	Status     JobStatus `msgpack:"status"`
	EnqueuedAt int64     `msgpack:"enqueued_at"`
	UpdatedAt  int64     `msgpack:"updated_at"`
	Error      string    `msgpack:"error,omitempty"`
	Written    bool      `msgpack:"written,omitempty"`
}

// SweepReport stores the outcome of the last scheduler run of a kind.
type SweepReport struct {
	Kind      string `msgpack:"kind"` // "pages" | "images"
	StartedAt int64  `msgpack:"started_at"`
	Duration  int64  `msgpack:"duration"`
	Scheduled int    `msgpack:"scheduled"`
	Skipped   int    `msgpack:"skipped"`
	Succeeded int    `msgpack:"succeeded"`
	Failed    int    `msgpack:"failed"`
}

// Encode serializes a value to msgpack bytes
func Encode(v interface{}) ([]byte, error) {
	return msgpack.Marshal(v)
}

// Decode deserializes msgpack bytes to a value
func Decode(data []byte, v interface{}) error {
	return msgpack.Unmarshal(data, v)
}
