package checkpoint

import (
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used by tests and single-process
// experiments. Semantics match SQLiteStore, including version conflicts.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemoryStore creates an empty in-memory checkpoint store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func memKey(namespace, key string) string {
	return namespace + "\x00" + key
}

func (s *MemoryStore) Load(namespace, key string, minSchemaVer int) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[memKey(namespace, key)]
	if !ok {
		return Record{}, ErrNotFound
	}
	if rec.SchemaVer < minSchemaVer {
		return Record{}, fmt.Errorf("checkpoint %s/%s has schema %d, want >= %d: %w",
			namespace, key, rec.SchemaVer, minSchemaVer, ErrStaleSchema)
	}
	// Copy the payload so callers can't mutate stored state.
	out := rec
	out.Payload = append([]byte(nil), rec.Payload...)
	return out, nil
}

func (s *MemoryStore) Save(namespace, key string, schemaVer int, payload []byte, expectedVersion int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := memKey(namespace, key)
	rec, exists := s.records[k]

	if expectedVersion == 0 {
		if exists {
			return 0, ErrConflict
		}
		s.records[k] = Record{
			Namespace: namespace,
			Key:       key,
			SchemaVer: schemaVer,
			Version:   1,
			Payload:   append([]byte(nil), payload...),
			WrittenAt: time.Now().UTC(),
		}
		return 1, nil
	}

	if !exists || rec.Version != expectedVersion {
		return 0, ErrConflict
	}
	rec.SchemaVer = schemaVer
	rec.Version = expectedVersion + 1
	rec.Payload = append([]byte(nil), payload...)
	rec.WrittenAt = time.Now().UTC()
	s.records[k] = rec
	return rec.Version, nil
}

func (s *MemoryStore) Delete(namespace, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, memKey(namespace, key))
	return nil
}
