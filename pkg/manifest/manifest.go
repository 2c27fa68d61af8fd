// Package manifest defines the signed root document of a shard and the
// fixed on-disk layout it describes (§3, §6).
package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/BigBirdReturns/axm-core/pkg/canonicalize"
	"github.com/BigBirdReturns/axm-core/pkg/suite"
)

// Layout is the frozen set of top-level shard entries (I1).
const (
	FileManifest      = "manifest.json"
	FileSignature     = "sig/manifest.sig"
	FilePublisherKey  = "sig/publisher.pub"
	DirContent        = "content"
	DirGraph          = "graph"
	DirEvidence       = "evidence"
	DirExt            = "ext"
	FileEntities      = "graph/entities.parquet"
	FileClaims        = "graph/claims.parquet"
	FileProvenance    = "graph/provenance.parquet"
	FileSpans         = "evidence/spans.parquet"
)

// Source describes one shipped content file (manifest.sources[]).
type Source struct {
	Path string `json:"path"`
	Hash string `json:"hash"`
}

// Metadata is manifest.metadata.
type Metadata struct {
	Title     string `json:"title"`
	Namespace string `json:"namespace"`
	CreatedAt string `json:"created_at"`
}

// Publisher is manifest.publisher.
type Publisher struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Integrity is manifest.integrity.
type Integrity struct {
	Algorithm  string `json:"algorithm"`
	MerkleRoot string `json:"merkle_root"`
}

// Statistics is manifest.statistics.
type Statistics struct {
	Entities int `json:"entities"`
	Claims   int `json:"claims"`
}

// License is the optional manifest.license.
type License struct {
	SPDX  string `json:"spdx,omitempty"`
	Notes string `json:"notes,omitempty"`
}

// Manifest is the frozen root of a shard, signed once and never mutated.
type Manifest struct {
	SpecVersion string     `json:"spec_version"`
	Suite       string     `json:"suite,omitempty"`
	ShardID     string     `json:"shard_id"`
	Metadata    Metadata   `json:"metadata"`
	Publisher   Publisher  `json:"publisher"`
	Sources     []Source   `json:"sources"`
	Integrity   Integrity  `json:"integrity"`
	Statistics  Statistics `json:"statistics"`
	Extensions  []string   `json:"extensions,omitempty"`
	License     *License   `json:"license,omitempty"`
}

// SpecVersion is the manifest.spec_version this implementation emits and
// understands.
const SpecVersion = "1.0"

// EffectiveSuite returns m.Suite, defaulting absent values to ed25519 per
// the verifier's lenient-default rule for legacy shards.
func (m Manifest) EffectiveSuite() string {
	if m.Suite == "" {
		return suite.NameEd25519
	}
	return m.Suite
}

// ShardIDFor builds the content-addressed shard_id from a Merkle root hex
// string, per §4.7 step 7.
func ShardIDFor(merkleRootHex string) string {
	return "shard_blake3_" + merkleRootHex
}

// Canonical returns the exact bytes that get hashed, signed, and verified:
// the manifest encoded under the canonical JSON rules (§4.1). These are
// the bytes written to manifest.json on disk.
func (m Manifest) Canonical() ([]byte, error) {
	b, err := canonicalize.JCS(m)
	if err != nil {
		return nil, fmt.Errorf("manifest: canonicalize: %w", err)
	}
	return b, nil
}

// Validate checks required-field presence and well-typedness per §4.8
// step 2 (manifest syntax). It does not check the signature, schema, or
// any cross-table invariant — those are separate verifier checks.
func (m Manifest) Validate() error {
	if m.SpecVersion == "" {
		return fmt.Errorf("manifest: missing spec_version")
	}
	if m.Suite != "" && m.Suite != suite.NameEd25519 && m.Suite != suite.NameMLDSA44 {
		return fmt.Errorf("manifest: unknown suite %q", m.Suite)
	}
	if m.ShardID == "" {
		return fmt.Errorf("manifest: missing shard_id")
	}
	if m.Metadata.Namespace == "" {
		return fmt.Errorf("manifest: missing metadata.namespace")
	}
	if m.Metadata.CreatedAt == "" {
		return fmt.Errorf("manifest: missing metadata.created_at")
	}
	if m.Publisher.ID == "" {
		return fmt.Errorf("manifest: missing publisher.id")
	}
	if len(m.Sources) == 0 {
		return fmt.Errorf("manifest: sources must not be empty")
	}
	for i, s := range m.Sources {
		if s.Path == "" || s.Hash == "" {
			return fmt.Errorf("manifest: sources[%d] missing path or hash", i)
		}
	}
	if m.Integrity.Algorithm == "" {
		return fmt.Errorf("manifest: missing integrity.algorithm")
	}
	if m.Integrity.MerkleRoot == "" {
		return fmt.Errorf("manifest: missing integrity.merkle_root")
	}
	return nil
}

// schemaDoc is the formal JSON Schema for manifest.json (§6 "Manifest
// schema"). It is stricter than Validate in one respect: it also checks
// types, the enum fields (suite, integrity.algorithm), and required
// objects a bare Go struct decode cannot distinguish from zero values (e.g. statistics.entities == 0 is
// valid, but a missing statistics object is not).
const schemaDoc = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["spec_version", "shard_id", "metadata", "publisher", "sources", "integrity", "statistics"],
  "properties": {
    "spec_version": {"type": "string", "minLength": 1},
    "suite": {"type": "string", "enum": ["ed25519", "axm-blake3-mldsa44"]},
    "shard_id": {"type": "string", "minLength": 1},
    "metadata": {
      "type": "object",
      "required": ["title", "namespace", "created_at"],
      "properties": {
        "title": {"type": "string"},
        "namespace": {"type": "string", "minLength": 1},
        "created_at": {"type": "string", "minLength": 1}
      }
    },
    "publisher": {
      "type": "object",
      "required": ["id", "name"],
      "properties": {"id": {"type": "string", "minLength": 1}, "name": {"type": "string"}}
    },
    "sources": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["path", "hash"],
        "properties": {"path": {"type": "string", "minLength": 1}, "hash": {"type": "string", "minLength": 1}}
      }
    },
    "integrity": {
      "type": "object",
      "required": ["algorithm", "merkle_root"],
      "properties": {"algorithm": {"type": "string", "enum": ["blake3"]}, "merkle_root": {"type": "string", "minLength": 1}}
    },
    "statistics": {
      "type": "object",
      "required": ["entities", "claims"],
      "properties": {"entities": {"type": "integer", "minimum": 0}, "claims": {"type": "integer", "minimum": 0}}
    },
    "extensions": {"type": "array", "items": {"type": "string"}},
    "license": {
      "type": "object",
      "properties": {"spdx": {"type": "string"}, "notes": {"type": "string"}}
    }
  }
}`

var (
	schemaOnce sync.Once
	compiled   *jsonschema.Schema
	compileErr error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource("manifest.schema.json", bytes.NewReader([]byte(schemaDoc))); err != nil {
			compileErr = fmt.Errorf("manifest: add schema resource: %w", err)
			return
		}
		compiled, compileErr = c.Compile("manifest.schema.json")
	})
	return compiled, compileErr
}

// ValidateSchema checks raw manifest JSON bytes against the formal
// manifest schema (§6), supplementing the structural checks in Validate.
func ValidateSchema(raw []byte) error {
	sch, err := compiledSchema()
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("manifest: parse for schema check: %w", err)
	}
	if err := sch.Validate(v); err != nil {
		return fmt.Errorf("manifest: schema validation: %w", err)
	}
	return nil
}
