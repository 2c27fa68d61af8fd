package lockfile

import (
	"path/filepath"
	"testing"
)

type fakeResolver map[string]string

func (f fakeResolver) Resolve(ref string) (string, error) { return f[ref], nil }

func TestPinWriteRead_RoundTrip(t *testing.T) {
	reg := fakeResolver{"first-aid": "shard_blake3_aaa", "burns": "shard_blake3_bbb"}

	lf, err := Pin(reg, []string{"first-aid", "burns"})
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "shards.lock")
	if err := Write(path, lf); err != nil {
		t.Fatal(err)
	}

	got, err := Read(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Pins["first-aid"] != "shard_blake3_aaa" {
		t.Fatalf("expected pinned shard_id, got %q", got.Pins["first-aid"])
	}
}

// R2: resolving through the lockfile is stable even after the registry
// moves on.
func TestLockfileResolve_IgnoresLiveRegistryMutation(t *testing.T) {
	reg := fakeResolver{"first-aid": "shard_blake3_aaa"}
	lf, err := Pin(reg, []string{"first-aid"})
	if err != nil {
		t.Fatal(err)
	}

	reg["first-aid"] = "shard_blake3_zzz" // registry moves on

	got, err := lf.Resolve("first-aid")
	if err != nil {
		t.Fatal(err)
	}
	if got != "shard_blake3_aaa" {
		t.Fatalf("expected pinned snapshot shard_blake3_aaa, got %s", got)
	}
}

func TestLockfileResolve_UnpinnedRefErrors(t *testing.T) {
	lf := &Lockfile{Pins: map[string]string{}}
	if _, err := lf.Resolve("missing"); err == nil {
		t.Fatal("expected error for unpinned ref")
	}
}
