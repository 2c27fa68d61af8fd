package manifest

import "testing"

func validManifest() Manifest {
	return Manifest{
		SpecVersion: SpecVersion,
		ShardID:     "shard_blake3_deadbeef",
		Metadata:    Metadata{Title: "t", Namespace: "medical", CreatedAt: "2026-01-01T00:00:00Z"},
		Publisher:   Publisher{ID: "pub-1", Name: "Publisher"},
		Sources:     []Source{{Path: "source.txt", Hash: "blake3:deadbeef"}},
		Integrity:   Integrity{Algorithm: "blake3", MerkleRoot: "deadbeef"},
		Statistics:  Statistics{Entities: 1, Claims: 1},
	}
}

func TestValidateSchema_Accepts(t *testing.T) {
	raw, err := validManifest().Canonical()
	if err != nil {
		t.Fatal(err)
	}
	if err := ValidateSchema(raw); err != nil {
		t.Fatalf("expected valid manifest to pass schema validation: %v", err)
	}
}

func TestValidateSchema_RejectsMissingRequiredField(t *testing.T) {
	m := validManifest()
	m.Integrity.MerkleRoot = ""
	raw, err := m.Canonical()
	if err != nil {
		t.Fatal(err)
	}
	if err := ValidateSchema(raw); err == nil {
		t.Fatal("expected schema validation to reject a missing integrity.merkle_root")
	}
}

func TestValidateSchema_RejectsUnknownSuite(t *testing.T) {
	m := validManifest()
	m.Suite = "rot13"
	raw, err := m.Canonical()
	if err != nil {
		t.Fatal(err)
	}
	if err := ValidateSchema(raw); err == nil {
		t.Fatal("expected schema validation to reject an unknown suite enum value")
	}
}
