package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/BigBirdReturns/axm-core/pkg/registry"
)

func writeCandidates(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "candidates.jsonl")
	line := `{"subject":"tourniquet","predicate":"treats","object":"severe bleeding","object_type":"entity","evidence":"Tourniquet treats severe bleeding.","tier":0}` + "\n"
	if err := os.WriteFile(path, []byte(line), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCompileThenVerify(t *testing.T) {
	dir := t.TempDir()
	sourcePath := filepath.Join(dir, "source.txt")
	if err := os.WriteFile(sourcePath, []byte("Tourniquet treats severe bleeding.\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	candidatesPath := writeCandidates(t, dir)
	outDir := filepath.Join(dir, "shard")

	code := run([]string{
		"compile", sourcePath,
		"--candidates", candidatesPath,
		"--out", outDir,
		"--namespace", "medical",
		"--publisher-id", "pub-1",
		"--publisher-name", "Publisher",
		"--created-at", "2026-01-01T00:00:00Z",
	})
	if code != exitPass {
		t.Fatalf("expected compile to exit 0, got %d", code)
	}

	pubKeyPath := filepath.Join(outDir, "sig", "publisher.pub")
	if _, err := os.Stat(pubKeyPath); err != nil {
		t.Fatalf("expected publisher key to be written: %v", err)
	}

	code = run([]string{"verify", "shard", outDir, "--trusted-key", pubKeyPath})
	if code != exitPass {
		t.Fatalf("expected verify to exit 0, got %d", code)
	}
}

func TestVerify_MissingDirExitsShardMissing(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "key.pub")
	if err := os.WriteFile(keyPath, make([]byte, 32), 0o644); err != nil {
		t.Fatal(err)
	}
	code := run([]string{"verify", "shard", filepath.Join(dir, "nope"), "--trusted-key", keyPath})
	if code != exitShardMissing {
		t.Fatalf("expected exit %d, got %d", exitShardMissing, code)
	}
}

func TestResolve_UnknownRegistryEntry(t *testing.T) {
	dir := t.TempDir()
	registryPath := filepath.Join(dir, "registry.json")
	code := run([]string{"resolve", "nope", "--registry", registryPath})
	if code != exitRegistryError {
		t.Fatalf("expected exit %d, got %d", exitRegistryError, code)
	}
}

func TestMount_ResolvesRegisteredName(t *testing.T) {
	dir := t.TempDir()
	sourcePath := filepath.Join(dir, "source.txt")
	if err := os.WriteFile(sourcePath, []byte("Tourniquet treats severe bleeding.\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	candidatesPath := writeCandidates(t, dir)
	shardStore := filepath.Join(dir, "shards")
	outDir := filepath.Join(shardStore, "shard-1")

	code := run([]string{
		"compile", sourcePath,
		"--candidates", candidatesPath,
		"--out", outDir,
		"--namespace", "medical",
		"--publisher-id", "pub-1",
		"--publisher-name", "Publisher",
		"--created-at", "2026-01-01T00:00:00Z",
	})
	if code != exitPass {
		t.Fatalf("expected compile to exit 0, got %d", code)
	}
	pubKeyPath := filepath.Join(outDir, "sig", "publisher.pub")

	registryPath := filepath.Join(dir, "registry.json")
	reg, err := registry.Open(registryPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := reg.AddArtifact("my-shard", "shard-1", "initial publish", nil, nil, ""); err != nil {
		t.Fatal(err)
	}

	code = run([]string{
		"mount", "my-shard",
		"--trusted-key", pubKeyPath,
		"--shard-store", shardStore,
		"--registry", registryPath,
	})
	if code != exitPass {
		t.Fatalf("expected mount to resolve the registered name and exit 0, got %d", code)
	}
}
