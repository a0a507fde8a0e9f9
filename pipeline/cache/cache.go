package cache

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// DBFile is the database file name inside the state directory.
const DBFile = "state.db"

// Manager provides the state store
type Manager struct {
	db       *bolt.DB
	basePath string
}

// Open opens or creates the state store at the given directory
func Open(basePath string) (*Manager, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	opts := &bolt.Options{
		Timeout:      10 * time.Second,
		FreelistType: bolt.FreelistArrayType,
	}

	db, err := bolt.Open(filepath.Join(basePath, DBFile), 0644, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BoltDB: %w", err)
	}

	m := &Manager{db: db, basePath: basePath}
	if err := m.initSchema(); err != nil {
		_ = m.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return m, nil
}

// Close closes the store
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}

// initSchema creates all buckets if they don't exist
func (m *Manager) initSchema() error {
	return m.db.Update(func(tx *bolt.Tx) error {
		for _, name := range AllBuckets() {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", name, err)
			}
		}

		meta := tx.Bucket([]byte(BucketMeta))
		if meta.Get([]byte(KeySchemaVersion)) == nil {
			v := make([]byte, 4)
			binary.BigEndian.PutUint32(v, SchemaVersion)
			if err := meta.Put([]byte(KeySchemaVersion), v); err != nil {
				return err
			}
		}
		return nil
	})
}

// IncrementCounter adds delta to a named counter and returns the new value.
func (m *Manager) IncrementCounter(name string, delta uint64) (uint64, error) {
	var total uint64
	err := m.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(BucketCounters))
		if v := b.Get([]byte(name)); len(v) == 8 {
			total = binary.BigEndian.Uint64(v)
		}
		total += delta
		v := make([]byte, 8)
		binary.BigEndian.PutUint64(v, total)
		return b.Put([]byte(name), v)
	})
	return total, err
}

// Counter reads a named counter; unknown counters are zero.
func (m *Manager) Counter(name string) (uint64, error) {
	var total uint64
	err := m.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket([]byte(BucketCounters)).Get([]byte(name)); len(v) == 8 {
			total = binary.BigEndian.Uint64(v)
		}
		return nil
	})
	return total, err
}
