package registry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func tempRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.json")
	r, err := Open(path, zap.NewNop())
	require.NoError(t, err)
	return r, path
}

func TestOpenAbsentFile(t *testing.T) {
	r, _ := tempRegistry(t)
	assert.Equal(t, 0, r.Len())
}

func TestOpenExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"42": {"endpoint": "http://1.2.3.4:33333"}}`), 0o644))

	r, err := Open(path, zap.NewNop())
	require.NoError(t, err)

	rec, ok := r.Get(42)
	require.True(t, ok)
	assert.Equal(t, "http://1.2.3.4:33333", rec.Endpoint)
}

func TestOpenCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"42": `), 0o644))

	_, err := Open(path, zap.NewNop())
	assert.Error(t, err)
}

func TestPutAndGet(t *testing.T) {
	r, path := tempRegistry(t)
	require.NoError(t, r.Put(42, Record{Endpoint: "http://1.2.3.4:33333"}))

	// Persisted immediately and keyed by the stringified id.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var onDisk map[string]Record
	require.NoError(t, json.Unmarshal(raw, &onDisk))
	assert.Equal(t, "http://1.2.3.4:33333", onDisk["42"].Endpoint)
}

func TestSyncReflectsLiveSet(t *testing.T) {
	r, _ := tempRegistry(t)
	require.NoError(t, r.Put(1, Record{Endpoint: "http://a"}))
	require.NoError(t, r.Put(2, Record{Endpoint: "http://b"}))

	require.NoError(t, r.Sync([]int64{2, 3}))

	_, ok := r.Get(1)
	assert.False(t, ok, "dead id must be dropped")

	rec, ok := r.Get(2)
	require.True(t, ok)
	assert.Equal(t, "http://b", rec.Endpoint, "surviving endpoint must be untouched")

	rec, ok = r.Get(3)
	require.True(t, ok)
	assert.Empty(t, rec.Endpoint, "new live id starts with an empty endpoint")

	assert.Equal(t, 2, r.Len())
}

func TestSyncEmptyLiveSet(t *testing.T) {
	r, _ := tempRegistry(t)
	require.NoError(t, r.Put(1, Record{Endpoint: "http://a"}))
	require.NoError(t, r.Sync(nil))
	assert.Equal(t, 0, r.Len())
}

func TestSyncIdempotentForAbsentID(t *testing.T) {
	r, _ := tempRegistry(t)
	require.NoError(t, r.Sync([]int64{5}))
	require.NoError(t, r.Sync([]int64{}))

	// Destroying an already-destroyed id keeps the key absent.
	require.NoError(t, r.Sync([]int64{}))
	_, ok := r.Get(5)
	assert.False(t, ok)
}

func TestEndpointStableAcrossReload(t *testing.T) {
	r, path := tempRegistry(t)
	require.NoError(t, r.Put(42, Record{Endpoint: "http://1.2.3.4:33333"}))
	require.NoError(t, r.Sync([]int64{42}))

	reloaded, err := Open(path, zap.NewNop())
	require.NoError(t, err)
	rec, ok := reloaded.Get(42)
	require.True(t, ok)
	assert.Equal(t, "http://1.2.3.4:33333", rec.Endpoint)
}

// A reader that races a write sees either the old or the new document,
// never a truncated one: every Put goes through a rename.
func TestWritesAreAtomic(t *testing.T) {
	r, path := tempRegistry(t)
	require.NoError(t, r.Put(1, Record{Endpoint: "http://a"}))

	stop := make(chan struct{})
	errs := make(chan error, 1)
	go func() {
		defer close(errs)
		for {
			select {
			case <-stop:
				return
			default:
			}
			raw, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			var doc map[string]Record
			if err := json.Unmarshal(raw, &doc); err != nil {
				errs <- err
				return
			}
		}
	}()

	for i := int64(2); i < 200; i++ {
		require.NoError(t, r.Put(i, Record{Endpoint: "http://b"}))
	}
	close(stop)

	err, bad := <-errs
	if bad && err != nil {
		t.Fatalf("observed torn state file: %v", err)
	}

	files, err2 := filepath.Glob(filepath.Join(filepath.Dir(path), ".state-*"))
	require.NoError(t, err2)
	assert.Empty(t, files, "no temp files left behind")
}

func TestIDs(t *testing.T) {
	r, _ := tempRegistry(t)
	require.NoError(t, r.Put(3, Record{}))
	require.NoError(t, r.Put(7, Record{}))
	assert.ElementsMatch(t, []int64{3, 7}, r.IDs())
}
