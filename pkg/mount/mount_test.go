package mount

import (
	"testing"
	"time"

	"github.com/BigBirdReturns/axm-core/pkg/compiler"
	"github.com/BigBirdReturns/axm-core/pkg/suite"
)

func buildTestShard(t *testing.T, outDir string) *suite.KeyPair {
	t.Helper()
	sch, err := suite.Get(suite.NameEd25519)
	if err != nil {
		t.Fatal(err)
	}
	kp, err := sch.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	candidates := []compiler.Candidate{{
		Subject:    "tourniquet",
		Predicate:  "treats",
		Object:     "severe bleeding",
		ObjectType: "entity",
		Evidence:   "Tourniquet treats severe bleeding.",
		Tier:       0,
	}}
	if _, err := compiler.Compile("Tourniquet treats severe bleeding.\n", candidates, compiler.Config{
		OutDir: outDir, Key: kp, Suite: suite.NameEd25519,
		PublisherID: "pub-1", PublisherName: "Publisher", Namespace: "medical",
		Title: "shard", CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}); err != nil {
		t.Fatalf("compile: %v", err)
	}
	return kp
}

func TestRuntime_MountAndQuery(t *testing.T) {
	dir := t.TempDir()
	key := buildTestShard(t, dir)

	rt := NewRuntime()
	session, err := rt.Mount(dir, key.Public)
	if err != nil {
		t.Fatal(err)
	}
	if len(session.Tables) < 4 {
		t.Fatalf("expected at least 4 tables, got %v", session.Tables)
	}

	var claimsTable string
	for _, tbl := range session.Tables {
		if len(tbl) > 7 && tbl[:7] == "claims_" {
			claimsTable = tbl
		}
	}
	if claimsTable == "" {
		t.Fatal("no claims table registered")
	}

	rows, err := session.Query("SELECT COUNT(*) FROM " + claimsTable)
	if err != nil {
		t.Fatal(err)
	}
	defer rows.Close()
	var count int
	for rows.Next() {
		if err := rows.Scan(&count); err != nil {
			t.Fatal(err)
		}
	}
	if count != 1 {
		t.Fatalf("expected 1 claim, got %d", count)
	}
}

func TestRuntime_MountIsIdempotentByShardIDAndRoot(t *testing.T) {
	dir := t.TempDir()
	key := buildTestShard(t, dir)

	rt := NewRuntime()
	s1, err := rt.Mount(dir, key.Public)
	if err != nil {
		t.Fatal(err)
	}
	s2, err := rt.Mount(dir, key.Public)
	if err != nil {
		t.Fatal(err)
	}
	if s1.MountID != s2.MountID {
		t.Fatalf("expected re-mount to return the same session, got %s vs %s", s1.MountID, s2.MountID)
	}
	if len(rt.ListMounts()) != 1 {
		t.Fatalf("expected exactly one catalog entry, got %d", len(rt.ListMounts()))
	}
}

func TestSession_RejectsNonSelectStatements(t *testing.T) {
	dir := t.TempDir()
	key := buildTestShard(t, dir)

	rt := NewRuntime()
	session, err := rt.Mount(dir, key.Public)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := session.Query("DELETE FROM entities_x"); err != ErrReadOnly {
		t.Fatalf("expected ErrReadOnly, got %v", err)
	}
}

func TestRuntime_MountFailsVerification(t *testing.T) {
	dir := t.TempDir()
	key := buildTestShard(t, dir)

	rt := NewRuntime()
	sch, _ := suite.Get(suite.NameEd25519)
	wrongKey, _ := sch.GenerateKeyPair()

	if _, err := rt.Mount(dir, wrongKey.Public); err == nil {
		t.Fatal("expected mount to fail with a mismatched trusted key")
	}
	_ = key
}
