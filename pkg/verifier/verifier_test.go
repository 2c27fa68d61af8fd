package verifier

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BigBirdReturns/axm-core/pkg/compiler"
	"github.com/BigBirdReturns/axm-core/pkg/suite"
)

// buildScenario1 compiles the literal seed from the end-to-end scenario:
// one triple, legacy suite.
func buildScenario1(t *testing.T, outDir string) (shardID string, key *suite.KeyPair) {
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

	id, err := compiler.Compile("Tourniquet treats severe bleeding.\n", candidates, compiler.Config{
		OutDir:        outDir,
		Key:           kp,
		Suite:         suite.NameEd25519,
		PublisherID:   "pub-1",
		PublisherName: "Test Publisher",
		Namespace:     "medical",
		Title:         "Tourniquet shard",
		CreatedAt:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	return id, kp
}

func TestVerifyShard_Scenario1_Pass(t *testing.T) {
	dir := t.TempDir()
	_, key := buildScenario1(t, dir)

	report, err := VerifyShard(dir, key.Public)
	if err != nil {
		t.Fatal(err)
	}
	if report.Status != StatusPass {
		t.Fatalf("expected PASS, got FAIL: %+v", report.Errors)
	}
}

// Scenario 3: tampering any file but manifest.json breaks the Merkle root.
func TestVerifyShard_TamperedTable_MerkleMismatch(t *testing.T) {
	dir := t.TempDir()
	_, key := buildScenario1(t, dir)

	claimsPath := filepath.Join(dir, "graph", "claims.parquet")
	f, err := os.OpenFile(claimsPath, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write([]byte{0xAA}); err != nil {
		t.Fatal(err)
	}
	f.Close()

	report, err := VerifyShard(dir, key.Public)
	if err != nil {
		t.Fatal(err)
	}
	if report.Status != StatusFail {
		t.Fatal("expected FAIL after tampering with claims.parquet")
	}
	if !hasCode(report.Errors, "E_MERKLE_MISMATCH") {
		t.Fatalf("expected E_MERKLE_MISMATCH, got %+v", report.Errors)
	}
}

// Scenario 4: editing the manifest without re-signing breaks the signature.
func TestVerifyShard_TamperedManifest_SignatureInvalid(t *testing.T) {
	dir := t.TempDir()
	_, key := buildScenario1(t, dir)

	manifestPath := filepath.Join(dir, "manifest.json")
	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		t.Fatal(err)
	}
	tampered := []byte(strings.Replace(string(raw), `"title":"Tourniquet shard"`, `"title":"Something else"`, 1))
	if string(tampered) == string(raw) {
		t.Fatal("tamper string not found in manifest, fixture drifted")
	}
	if err := os.WriteFile(manifestPath, tampered, 0o644); err != nil {
		t.Fatal(err)
	}

	report, err := VerifyShard(dir, key.Public)
	if err != nil {
		t.Fatal(err)
	}
	if report.Status != StatusFail {
		t.Fatal("expected FAIL after tampering with manifest.json")
	}
	if !hasCode(report.Errors, "E_SIG_INVALID") {
		t.Fatalf("expected E_SIG_INVALID, got %+v", report.Errors)
	}
}

func TestVerifyShard_WrongTrustedKey(t *testing.T) {
	dir := t.TempDir()
	buildScenario1(t, dir)

	other, err := (func() (*suite.KeyPair, error) {
		s, err := suite.Get(suite.NameEd25519)
		if err != nil {
			return nil, err
		}
		return s.GenerateKeyPair()
	})()
	if err != nil {
		t.Fatal(err)
	}

	report, err := VerifyShard(dir, other.Public)
	if err != nil {
		t.Fatal(err)
	}
	if !hasCode(report.Errors, "E_TRUSTED_KEY_MISMATCH") {
		t.Fatalf("expected E_TRUSTED_KEY_MISMATCH, got %+v", report.Errors)
	}
}

func TestVerifyShard_MissingDirectory(t *testing.T) {
	report, err := VerifyShard(filepath.Join(t.TempDir(), "does-not-exist"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if report.Status != StatusFail || !hasCode(report.Errors, "E_LAYOUT_MISSING") {
		t.Fatalf("expected E_LAYOUT_MISSING, got %+v", report.Errors)
	}
}

func hasCode(errs []VerifyError, code string) bool {
	for _, e := range errs {
		if e.Code == code {
			return true
		}
	}
	return false
}
