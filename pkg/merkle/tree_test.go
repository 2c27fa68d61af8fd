package merkle

import (
	"os"
	"path/filepath"
	"testing"

	"lukechampine.com/blake3"
)

func writeShard(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for rel, content := range files {
		full := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

// B6: empty-tree roots are the frozen constants.
func TestComputeRoot_EmptyTree(t *testing.T) {
	dir := t.TempDir()

	legacy, err := ComputeRoot(dir, SuiteEd25519)
	if err != nil {
		t.Fatal(err)
	}
	want := blake3.Sum256(nil)
	if legacy != hexString(want[:]) {
		t.Errorf("legacy empty root = %s, want %x", legacy, want)
	}

	pq, err := ComputeRoot(dir, SuiteMLDSA44)
	if err != nil {
		t.Fatal(err)
	}
	if pq != EmptyRootMLDSA44Hex {
		t.Errorf("mldsa44 empty root = %s, want %s", pq, EmptyRootMLDSA44Hex)
	}
}

func hexString(b []byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hextable[c>>4]
		out[i*2+1] = hextable[c&0x0f]
	}
	return string(out)
}

// P2: flipping a single byte of any non-manifest, non-sig file changes the root.
func TestComputeRoot_ByteFlipChangesRoot(t *testing.T) {
	dir := writeShard(t, map[string]string{
		"content/source.txt":     "Tourniquet treats severe bleeding.\n",
		"graph/entities.parquet": "entities-bytes",
		"graph/claims.parquet":   "claims-bytes",
	})

	before, err := ComputeRoot(dir, SuiteMLDSA44)
	if err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(filepath.Join(dir, "graph/claims.parquet"), []byte("Xlaims-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	after, err := ComputeRoot(dir, SuiteMLDSA44)
	if err != nil {
		t.Fatal(err)
	}
	if before == after {
		t.Fatal("expected root to change after single-byte flip")
	}
}

// manifest.json and sig/* never participate in the root.
func TestComputeRoot_ExcludesManifestAndSig(t *testing.T) {
	dir := writeShard(t, map[string]string{
		"content/source.txt": "hello\n",
	})

	before, err := ComputeRoot(dir, SuiteEd25519)
	if err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(filepath.Join(dir, "manifest.json"), []byte(`{"a":1}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "sig"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "sig", "manifest.sig"), []byte("sigbytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	after, err := ComputeRoot(dir, SuiteEd25519)
	if err != nil {
		t.Fatal(err)
	}
	if before != after {
		t.Fatal("manifest.json and sig/* must not affect the Merkle root")
	}
}

func TestComputeRoot_RejectsSymlink(t *testing.T) {
	dir := writeShard(t, map[string]string{"content/source.txt": "hello\n"})
	if err := os.Symlink(filepath.Join(dir, "content/source.txt"), filepath.Join(dir, "content/link.txt")); err != nil {
		t.Skip("symlinks unsupported on this filesystem")
	}
	if _, err := ComputeRoot(dir, SuiteEd25519); err == nil {
		t.Fatal("expected error for shard containing a symlink")
	}
}

// Single-leaf PQ trees return the leaf digest unchanged (no re-hashing).
func TestComputeRoot_SingleLeafPromotion(t *testing.T) {
	dir := writeShard(t, map[string]string{"content/source.txt": "only file\n"})
	root, err := ComputeRoot(dir, SuiteMLDSA44)
	if err != nil {
		t.Fatal(err)
	}
	if len(root) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(root))
	}
	h := blake3.New(32, nil)
	h.Write([]byte{0x00})
	h.Write([]byte("content/source.txt"))
	h.Write([]byte{0x00})
	h.Write([]byte("only file\n"))
	if want := hexString(h.Sum(nil)); root != want {
		t.Fatalf("expected single-leaf root to equal the leaf digest %s, got %s", want, root)
	}
}
