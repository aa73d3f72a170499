package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"
)

// Record is the persisted state for one instance.
type Record struct {
	Endpoint string `json:"endpoint"`
}

// Registry is the durable instance_id -> record mapping, backed by a
// single JSON document on disk. It is the only persistent mutable state
// in the system; writes go through a temp file and an atomic rename so
// a reader never observes a partial document.
type Registry struct {
	path   string
	logger *zap.Logger
	data   map[string]Record
}

// Open loads the registry at path. An absent file is an empty registry.
func Open(path string, logger *zap.Logger) (*Registry, error) {
	r := &Registry{path: path, logger: logger, data: map[string]Record{}}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("read state file %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, &r.data); err != nil {
		return nil, fmt.Errorf("decode state file %s: %w", path, err)
	}
	return r, nil
}

// Sync reconciles the registry against the authoritative live id set:
// ids no longer live are dropped, new live ids get an empty-endpoint
// record. The result is persisted atomically.
func (r *Registry) Sync(liveIDs []int64) error {
	live := make(map[string]struct{}, len(liveIDs))
	for _, id := range liveIDs {
		live[key(id)] = struct{}{}
	}

	for k := range r.data {
		if _, ok := live[k]; !ok {
			r.logger.Debug("dropping stale registry entry", zap.String("instance_id", k))
			delete(r.data, k)
		}
	}
	for k := range live {
		if _, ok := r.data[k]; !ok {
			r.data[k] = Record{}
		}
	}
	return r.persist()
}

// Put upserts the record for an instance and persists.
func (r *Registry) Put(id int64, rec Record) error {
	r.data[key(id)] = rec
	return r.persist()
}

// Get returns the record for an instance, if present.
func (r *Registry) Get(id int64) (Record, bool) {
	rec, ok := r.data[key(id)]
	return rec, ok
}

// IDs returns every known instance id.
func (r *Registry) IDs() []int64 {
	ids := make([]int64, 0, len(r.data))
	for k := range r.data {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// Len returns the number of known instances.
func (r *Registry) Len() int {
	return len(r.data)
}

func (r *Registry) persist() error {
	raw, err := json.MarshalIndent(r.data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	dir := filepath.Dir(r.path)
	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

func key(id int64) string {
	return strconv.FormatInt(id, 10)
}
