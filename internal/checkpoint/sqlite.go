package checkpoint

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// SQLiteStore persists checkpoints in the shared application database. The
// checkpoints table is created by the storage package migrations.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a checkpoint store over an existing database handle.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Load(namespace, key string, minSchemaVer int) (Record, error) {
	var rec Record
	var writtenAt string
	err := s.db.QueryRow(`
		SELECT namespace, key, schema_ver, version, payload, written_at
		FROM checkpoints WHERE namespace = ? AND key = ?`, namespace, key,
	).Scan(&rec.Namespace, &rec.Key, &rec.SchemaVer, &rec.Version, &rec.Payload, &writtenAt)
	if err == sql.ErrNoRows {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("loading checkpoint %s/%s: %w", namespace, key, err)
	}

	t, err := time.Parse(time.RFC3339, writtenAt)
	if err != nil {
		return Record{}, fmt.Errorf("parsing written_at for %s/%s: %w", namespace, key, err)
	}
	rec.WrittenAt = t

	if rec.SchemaVer < minSchemaVer {
		return Record{}, fmt.Errorf("checkpoint %s/%s has schema %d, want >= %d: %w",
			namespace, key, rec.SchemaVer, minSchemaVer, ErrStaleSchema)
	}
	return rec, nil
}

func (s *SQLiteStore) Save(namespace, key string, schemaVer int, payload []byte, expectedVersion int64) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	if expectedVersion == 0 {
		_, err := s.db.Exec(`
			INSERT INTO checkpoints (namespace, key, schema_ver, version, payload, written_at)
			VALUES (?, ?, ?, 1, ?, ?)`,
			namespace, key, schemaVer, payload, now,
		)
		if err != nil {
			// A primary-key violation means the checkpoint already exists,
			// i.e. another writer created it first.
			if isUniqueViolation(err) {
				return 0, ErrConflict
			}
			return 0, fmt.Errorf("inserting checkpoint %s/%s: %w", namespace, key, err)
		}
		return 1, nil
	}

	res, err := s.db.Exec(`
		UPDATE checkpoints
		SET schema_ver = ?, version = version + 1, payload = ?, written_at = ?
		WHERE namespace = ? AND key = ? AND version = ?`,
		schemaVer, payload, now, namespace, key, expectedVersion,
	)
	if err != nil {
		return 0, fmt.Errorf("updating checkpoint %s/%s: %w", namespace, key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking updated checkpoint rows: %w", err)
	}
	if n == 0 {
		return 0, ErrConflict
	}
	return expectedVersion + 1, nil
}

func (s *SQLiteStore) Delete(namespace, key string) error {
	_, err := s.db.Exec(`DELETE FROM checkpoints WHERE namespace = ? AND key = ?`, namespace, key)
	return err
}

// isUniqueViolation detects a SQLite constraint failure without depending on
// driver-internal error types.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}
