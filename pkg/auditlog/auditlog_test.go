package auditlog

import (
	"path/filepath"
	"testing"
)

func TestAppendAndVerifyChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	l, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.Append(EntryTypeCompile, "shard_blake3_aaa", "compiled", map[string]string{"ok": "true"}, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Append(EntryTypeVerify, "shard_blake3_aaa", "verified", map[string]string{"status": "PASS"}, nil); err != nil {
		t.Fatal(err)
	}
	l.Close()

	entries, err := ReadAll(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if err := VerifyChain(entries); err != nil {
		t.Fatalf("chain should verify: %v", err)
	}
}

func TestReopenRecoversChainHead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	l, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	entry, err := l.Append(EntryTypeCompile, "shard_blake3_aaa", "compiled", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	l.Close()

	reopened, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	if reopened.ChainHead() != entry.EntryHash {
		t.Fatalf("expected chain head %s, got %s", entry.EntryHash, reopened.ChainHead())
	}
}

func TestTamperedEntryBreaksChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	l, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.Append(EntryTypeCompile, "shard_blake3_aaa", "compiled", nil, nil); err != nil {
		t.Fatal(err)
	}
	l.Close()

	entries, err := ReadAll(path)
	if err != nil {
		t.Fatal(err)
	}
	entries[0].Action = "tampered"
	if err := VerifyChain(entries); err == nil {
		t.Fatal("expected tampered entry to break the chain")
	}
}
