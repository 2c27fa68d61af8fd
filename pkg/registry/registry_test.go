package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_AddResolveSetCurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	r, err := Open(path)
	require.NoError(t, err)

	err = r.AddArtifact("first-aid", "shard_blake3_aaa", "initial publish", []string{"fa"}, []string{"medical"}, "")
	require.NoError(t, err)

	got, err := r.Resolve("first-aid")
	require.NoError(t, err)
	assert.Equal(t, "shard_blake3_aaa", got)

	got, err = r.Resolve("fa")
	require.NoError(t, err)
	assert.Equal(t, "shard_blake3_aaa", got)

	err = r.SetCurrent("first-aid", "shard_blake3_bbb", "new revision")
	require.NoError(t, err)

	got, err = r.Resolve("first-aid")
	require.NoError(t, err)
	assert.Equal(t, "shard_blake3_bbb", got)

	history, err := r.ListHistory("first-aid")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "shard_blake3_aaa", history[0].ShardID)
	assert.Equal(t, "shard_blake3_bbb", history[1].ShardID)
}

// I-adjacent P7: alias-insertion never allows the same alias to be owned
// by two distinct artifacts.
func TestRegistry_AliasCollisionRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	r, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, r.AddArtifact("a", "shard_blake3_a", "r", nil, nil, ""))
	require.NoError(t, r.AddArtifact("b", "shard_blake3_b", "r", nil, nil, ""))
	require.NoError(t, r.AddAlias("a", "shared"))

	err = r.AddAlias("b", "shared")
	assert.ErrorIs(t, err, ErrAliasTaken)
}

func TestRegistry_AddArtifact_DuplicateNameRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	r, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, r.AddArtifact("a", "shard_blake3_a", "r", nil, nil, ""))
	err = r.AddArtifact("a", "shard_blake3_other", "r", nil, nil, "")
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestRegistry_ResolveShardIDPassthrough(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	r, err := Open(path)
	require.NoError(t, err)

	got, err := r.Resolve("shard_blake3_anything")
	require.NoError(t, err)
	assert.Equal(t, "shard_blake3_anything", got)
}

func TestRegistry_ResolveNotFound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	r, err := Open(path)
	require.NoError(t, err)

	_, err = r.Resolve("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

// Registry writes persist across a fresh Open — the document is a real
// file, not process memory.
func TestRegistry_PersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	r, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, r.AddArtifact("first-aid", "shard_blake3_aaa", "initial", nil, []string{"medical"}, ""))

	reopened, err := Open(path)
	require.NoError(t, err)
	got, err := reopened.Resolve("first-aid")
	require.NoError(t, err)
	assert.Equal(t, "shard_blake3_aaa", got)

	list := reopened.List("medical")
	require.Len(t, list, 1)
	assert.Equal(t, "first-aid", list[0].Name)
}

func TestRegistry_CorruptDocumentFailsToLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"schema_version":"1.0.0","artifacts":{"a":{"name":"b","current":"x","history":[]}}}`), 0o644))

	_, err := Open(path)
	assert.ErrorIs(t, err, ErrCorrupt)
}
