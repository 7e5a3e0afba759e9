// Package checkpoint provides durable, versioned snapshots of workflow state.
//
// Each workflow owns a namespace; within a namespace, keys identify
// sub-threads or sessions. Save uses optimistic concurrency: callers pass the
// version they loaded, and a mismatch returns ErrConflict instead of silently
// overwriting. This is the only coordination mechanism between concurrent
// turns on the same thread.
package checkpoint

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Load when no checkpoint exists for the key.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrConflict is returned by Save when the stored version does not match
	// the caller's expected version, signalling a concurrent mutation.
	ErrConflict = errors.New("checkpoint version conflict")

	// ErrStaleSchema is returned by Load when the stored payload was written
	// by an older schema than the caller expects. Callers reinitialize fresh
	// rather than guessing at a migration.
	ErrStaleSchema = errors.New("checkpoint schema is stale")
)

// Record is one stored snapshot. Version is the optimistic-concurrency
// counter; SchemaVer identifies the payload layout.
type Record struct {
	Namespace string
	Key       string
	SchemaVer int
	Version   int64
	Payload   []byte
	WrittenAt time.Time
}

// Store is the durable checkpoint contract shared by all workflows.
//
// Load returns ErrNotFound for missing keys and ErrStaleSchema when the
// stored schema version is older than minSchemaVer. Save with
// expectedVersion 0 creates the checkpoint and fails with ErrConflict if it
// already exists; any other expectedVersion must match the stored version
// exactly.
type Store interface {
	Load(namespace, key string, minSchemaVer int) (Record, error)
	Save(namespace, key string, schemaVer int, payload []byte, expectedVersion int64) (int64, error)
	Delete(namespace, key string) error
}
