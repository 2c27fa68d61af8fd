// Package verifier is the pure, read-only authority over a shard: given a
// trusted publisher key, it either accepts a shard's claims and evidence
// as unmodified or reports every reason it cannot (§4.8). It has no write
// path and no dependency on any signing private material.
package verifier

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BigBirdReturns/axm-core/pkg/manifest"
	"github.com/BigBirdReturns/axm-core/pkg/merkle"
	"github.com/BigBirdReturns/axm-core/pkg/identity"
	"github.com/BigBirdReturns/axm-core/pkg/shardschema"
	"github.com/BigBirdReturns/axm-core/pkg/telemetry"
	"github.com/BigBirdReturns/axm-core/pkg/shardtable"
	"github.com/BigBirdReturns/axm-core/pkg/suite"
)

// Status is the overall outcome of verify_shard.
type Status string

const (
	StatusPass Status = "PASS"
	StatusFail Status = "FAIL"
)

// VerifyError is one structured failure: code, message, and an optional
// location (file path, row index, or table name) the caller can act on.
type VerifyError struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Location string `json:"location,omitempty"`
}

// VerifyReport is the only output of verify_shard. A shard can fail for
// multiple independent reasons at once, so every check phase that runs
// contributes its own errors rather than stopping at the first.
type VerifyReport struct {
	Status Status        `json:"status"`
	Errors []VerifyError `json:"errors"`
}

// requiredTopLevel enumerates the entries allowed at the shard root (I1).
var requiredTopLevel = map[string]bool{
	"manifest.json": true,
	"sig":           true,
	"content":       true,
	"graph":         true,
	"evidence":      true,
}

// ErrTimeout corresponds to E_TIMEOUT: the caller's deadline elapsed
// before verification finished.
var ErrTimeout = fmt.Errorf("verifier: E_TIMEOUT")

// VerifyShard verifies shardDir against trustedPublicKey with no deadline.
func VerifyShard(shardDir string, trustedPublicKey []byte) (*VerifyReport, error) {
	return VerifyShardContext(context.Background(), shardDir, trustedPublicKey)
}

// VerifyShardContext is VerifyShard with a caller-supplied deadline (§5
// "Cancellation / timeouts"). Once ctx is done, verification stops at the
// next chunk boundary and returns ErrTimeout without a partial PASS.
func VerifyShardContext(ctx context.Context, shardDir string, trustedPublicKey []byte) (*VerifyReport, error) {
	ctx, span := telemetry.StartSpan(ctx, "verifier.VerifyShard", "shard_dir", shardDir)
	defer span.End()

	report := &VerifyReport{Status: StatusPass}

	// 1. Layout.
	layoutErrs, fatal := checkLayout(shardDir)
	report.Errors = append(report.Errors, layoutErrs...)
	if fatal {
		report.Status = StatusFail
		return report, nil
	}
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}

	// 2. Manifest syntax + schema.
	m, manifestBytes, mErrs, fatal := checkManifestSyntax(shardDir)
	report.Errors = append(report.Errors, mErrs...)
	if fatal {
		report.Status = StatusFail
		return report, nil
	}
	effectiveSuite := m.EffectiveSuite()

	// 3. Signature & key sizes (I8).
	pubKey, sig, sizeErrs, fatal := checkSignatureKeySizes(shardDir, effectiveSuite)
	report.Errors = append(report.Errors, sizeErrs...)
	if fatal {
		report.Status = StatusFail
		return report, nil
	}

	// 4. Signature (I7) + trust anchor.
	report.Errors = append(report.Errors, checkSignature(effectiveSuite, manifestBytes, pubKey, sig, trustedPublicKey)...)
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}

	// 5. Schema + 6. Identity + 7. Referential integrity — all need the
	// parsed tables, so load them once.
	entities, claims, provenance, spans, loadErrs := loadTables(shardDir)
	report.Errors = append(report.Errors, loadErrs...)
	if len(loadErrs) == 0 {
		report.Errors = append(report.Errors, checkSchema(claims)...)
		report.Errors = append(report.Errors, checkIdentity(entities, claims)...)
		report.Errors = append(report.Errors, checkReferentialIntegrity(m, entities, claims, provenance, spans)...)
		if err := ctxErr(ctx); err != nil {
			return nil, err
		}
		report.Errors = append(report.Errors, checkSpanBounds(shardDir, m, provenance, spans)...)
	}

	// 9. Merkle (I6).
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	report.Errors = append(report.Errors, checkMerkle(shardDir, effectiveSuite, m)...)

	if len(report.Errors) > 0 {
		report.Status = StatusFail
	}
	return report, nil
}

func ctxErr(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ErrTimeout
	default:
		return nil
	}
}

// --- 1. Layout -------------------------------------------------------

func checkLayout(shardDir string) ([]VerifyError, bool) {
	var errs []VerifyError

	info, err := os.Stat(shardDir)
	if err != nil || !info.IsDir() {
		return []VerifyError{{Code: "E_LAYOUT_MISSING", Message: "shard directory not found", Location: shardDir}}, true
	}

	topEntries, err := os.ReadDir(shardDir)
	if err != nil {
		return []VerifyError{{Code: "E_LAYOUT_MISSING", Message: err.Error(), Location: shardDir}}, true
	}
	for _, e := range topEntries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			errs = append(errs, VerifyError{Code: "E_LAYOUT_DOTFILE", Message: "dotfile not permitted at shard root", Location: name})
			continue
		}
		if name == "ext" {
			continue
		}
		if !requiredTopLevel[name] {
			errs = append(errs, VerifyError{Code: "E_LAYOUT_UNEXPECTED", Message: "unexpected top-level entry", Location: name})
		}
	}
	for name := range requiredTopLevel {
		if _, err := os.Stat(filepath.Join(shardDir, name)); err != nil {
			errs = append(errs, VerifyError{Code: "E_LAYOUT_MISSING", Message: "required entry missing", Location: name})
		}
	}
	for _, required := range []string{"sig/manifest.sig", "sig/publisher.pub",
		"graph/entities.parquet", "graph/claims.parquet", "graph/provenance.parquet",
		"evidence/spans.parquet"} {
		if _, err := os.Stat(filepath.Join(shardDir, required)); err != nil {
			errs = append(errs, VerifyError{Code: "E_LAYOUT_MISSING", Message: "required file missing", Location: required})
		}
	}

	err = filepath.WalkDir(shardDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type()&os.ModeSymlink != 0 {
			rel, _ := filepath.Rel(shardDir, path)
			errs = append(errs, VerifyError{Code: "E_LAYOUT_SYMLINK", Message: "symlink not permitted in shard", Location: rel})
		}
		return nil
	})
	if err != nil {
		errs = append(errs, VerifyError{Code: "E_LAYOUT_MISSING", Message: err.Error(), Location: shardDir})
	}

	fatal := false
	for _, e := range errs {
		if e.Code == "E_LAYOUT_MISSING" {
			fatal = true
		}
	}
	return errs, fatal
}

// --- 2. Manifest syntax + schema --------------------------------------

func checkManifestSyntax(shardDir string) (manifest.Manifest, []byte, []VerifyError, bool) {
	path := filepath.Join(shardDir, manifest.FileManifest)
	raw, err := os.ReadFile(path)
	if err != nil {
		return manifest.Manifest{}, nil, []VerifyError{{Code: "E_MANIFEST_SYNTAX", Message: err.Error(), Location: path}}, true
	}
	var m manifest.Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return manifest.Manifest{}, nil, []VerifyError{{Code: "E_MANIFEST_SYNTAX", Message: err.Error(), Location: path}}, true
	}
	if err := m.Validate(); err != nil {
		return m, raw, []VerifyError{{Code: "E_MANIFEST_SCHEMA", Message: err.Error(), Location: path}}, true
	}
	if err := manifest.ValidateSchema(raw); err != nil {
		return m, raw, []VerifyError{{Code: "E_MANIFEST_SCHEMA", Message: err.Error(), Location: path}}, true
	}
	return m, raw, nil, false
}

// --- 3. Signature & key sizes ------------------------------------------

func checkSignatureKeySizes(shardDir, effectiveSuite string) ([]byte, []byte, []VerifyError, bool) {
	sizes, ok := suite.Sizes[effectiveSuite]
	if !ok {
		return nil, nil, []VerifyError{{Code: "E_MANIFEST_SCHEMA", Message: "unknown suite " + effectiveSuite}}, true
	}

	pubPath := filepath.Join(shardDir, manifest.FilePublisherKey)
	sigPath := filepath.Join(shardDir, manifest.FileSignature)
	pub, err := os.ReadFile(pubPath)
	if err != nil {
		return nil, nil, []VerifyError{{Code: "E_SIG_MISSING", Message: err.Error(), Location: pubPath}}, true
	}
	sig, err := os.ReadFile(sigPath)
	if err != nil {
		return nil, nil, []VerifyError{{Code: "E_SIG_MISSING", Message: err.Error(), Location: sigPath}}, true
	}

	var errs []VerifyError
	if len(pub) != sizes.PK {
		errs = append(errs, VerifyError{Code: "E_SIG_INVALID", Message: fmt.Sprintf("publisher key is %d bytes, suite %s requires %d", len(pub), effectiveSuite, sizes.PK), Location: pubPath})
	}
	if len(sig) != sizes.Sig {
		errs = append(errs, VerifyError{Code: "E_SIG_INVALID", Message: fmt.Sprintf("signature is %d bytes, suite %s requires %d", len(sig), effectiveSuite, sizes.Sig), Location: sigPath})
	}
	return pub, sig, errs, len(errs) > 0
}

// --- 4. Signature --------------------------------------------------------

func checkSignature(effectiveSuite string, manifestBytes, pubKey, sig, trustedPublicKey []byte) []VerifyError {
	var errs []VerifyError
	sch, err := suite.Get(effectiveSuite)
	if err != nil {
		return []VerifyError{{Code: "E_SIG_INVALID", Message: err.Error()}}
	}
	ok, err := sch.Verify(pubKey, manifestBytes, sig)
	if err != nil || !ok {
		msg := "signature does not verify"
		if err != nil {
			msg = err.Error()
		}
		errs = append(errs, VerifyError{Code: "E_SIG_INVALID", Message: msg, Location: manifest.FileSignature})
	}
	if trustedPublicKey != nil && string(pubKey) != string(trustedPublicKey) {
		errs = append(errs, VerifyError{Code: "E_TRUSTED_KEY_MISMATCH", Message: "publisher key does not match trusted anchor", Location: manifest.FilePublisherKey})
	}
	return errs
}

// --- 5/6/7. Schema, identity, referential integrity ----------------------

func loadTables(shardDir string) ([]shardschema.Entity, []shardschema.Claim, []shardschema.Provenance, []shardschema.Span, []VerifyError) {
	var errs []VerifyError

	entities, err := shardtable.ReadAll[shardschema.Entity](filepath.Join(shardDir, manifest.FileEntities))
	if err != nil {
		errs = append(errs, VerifyError{Code: "E_SCHEMA_ENTITIES", Message: err.Error(), Location: manifest.FileEntities})
	}
	claims, err := shardtable.ReadAll[shardschema.Claim](filepath.Join(shardDir, manifest.FileClaims))
	if err != nil {
		errs = append(errs, VerifyError{Code: "E_SCHEMA_CLAIMS", Message: err.Error(), Location: manifest.FileClaims})
	}
	provenance, err := shardtable.ReadAll[shardschema.Provenance](filepath.Join(shardDir, manifest.FileProvenance))
	if err != nil {
		errs = append(errs, VerifyError{Code: "E_SCHEMA_PROVENANCE", Message: err.Error(), Location: manifest.FileProvenance})
	}
	spans, err := shardtable.ReadAll[shardschema.Span](filepath.Join(shardDir, manifest.FileSpans))
	if err != nil {
		errs = append(errs, VerifyError{Code: "E_SCHEMA_SPANS", Message: err.Error(), Location: manifest.FileSpans})
	}
	return entities, claims, provenance, spans, errs
}

func checkSchema(claims []shardschema.Claim) []VerifyError {
	var errs []VerifyError
	for _, c := range claims {
		if !shardschema.ValidObjectTypes[c.ObjectType] {
			errs = append(errs, VerifyError{Code: "E_SCHEMA_ENUM", Message: fmt.Sprintf("claim %s has object_type outside the closed enum: %q", c.ClaimID, c.ObjectType), Location: "graph/claims.parquet"})
		}
		if !shardschema.ValidTiers[c.Tier] {
			errs = append(errs, VerifyError{Code: "E_SCHEMA_ENUM", Message: fmt.Sprintf("claim %s has tier outside {0..4}: %d", c.ClaimID, c.Tier), Location: "graph/claims.parquet"})
		}
	}
	return errs
}

func checkIdentity(entities []shardschema.Entity, claims []shardschema.Claim) []VerifyError {
	var errs []VerifyError
	for _, e := range entities {
		want, err := identity.EntityID(e.Namespace, e.Label)
		if err != nil || want != e.EntityID {
			errs = append(errs, VerifyError{Code: "E_ID_ENTITY", Message: fmt.Sprintf("entity_id mismatch: stored %s, recomputed %s", e.EntityID, want), Location: "graph/entities.parquet"})
		}
	}
	for _, c := range claims {
		want, err := identity.ClaimID(c.Subject, c.Predicate, c.Object, c.ObjectType)
		if err != nil || want != c.ClaimID {
			errs = append(errs, VerifyError{Code: "E_ID_CLAIM", Message: fmt.Sprintf("claim_id mismatch: stored %s, recomputed %s", c.ClaimID, want), Location: "graph/claims.parquet"})
		}
	}
	return errs
}

func checkReferentialIntegrity(m manifest.Manifest, entities []shardschema.Entity, claims []shardschema.Claim, provenance []shardschema.Provenance, spans []shardschema.Span) []VerifyError {
	var errs []VerifyError

	entitySet := make(map[string]bool, len(entities))
	for _, e := range entities {
		entitySet[e.EntityID] = true
	}
	claimSet := make(map[string]bool, len(claims))
	for _, c := range claims {
		claimSet[c.ClaimID] = true
		if !entitySet[c.Subject] {
			errs = append(errs, VerifyError{Code: "E_REF_ORPHAN", Message: fmt.Sprintf("claim %s subject %s is not in entities", c.ClaimID, c.Subject), Location: "graph/claims.parquet"})
		}
		if c.ObjectType == "entity" && !entitySet[c.Object] {
			errs = append(errs, VerifyError{Code: "E_REF_ORPHAN", Message: fmt.Sprintf("claim %s object %s is not in entities", c.ClaimID, c.Object), Location: "graph/claims.parquet"})
		}
	}

	sourceHashes := make(map[string]bool, len(m.Sources))
	for _, s := range m.Sources {
		sourceHashes[s.Hash] = true
	}

	spanKey := func(sourceHash string, start, end int64) string { return fmt.Sprintf("%s:%d:%d", sourceHash, start, end) }
	spansByKey := make(map[string]shardschema.Span, len(spans))
	for _, s := range spans {
		spansByKey[spanKey(s.SourceHash, s.ByteStart, s.ByteEnd)] = s
	}

	for _, p := range provenance {
		if !claimSet[p.ClaimID] {
			errs = append(errs, VerifyError{Code: "E_REF_ORPHAN", Message: fmt.Sprintf("provenance %s claim_id %s is not in claims", p.ProvenanceID, p.ClaimID), Location: "graph/provenance.parquet"})
		}
		if !sourceHashes[p.SourceHash] {
			errs = append(errs, VerifyError{Code: "E_REF_SOURCE", Message: fmt.Sprintf("provenance %s source_hash %s is not declared in manifest.sources", p.ProvenanceID, p.SourceHash), Location: "graph/provenance.parquet"})
			continue
		}
		span, ok := spansByKey[spanKey(p.SourceHash, p.ByteStart, p.ByteEnd)]
		if !ok {
			errs = append(errs, VerifyError{Code: "E_REF_ORPHAN", Message: fmt.Sprintf("provenance %s has no matching span", p.ProvenanceID), Location: "evidence/spans.parquet"})
		} else if span.Text == "" && p.ByteEnd > p.ByteStart {
			errs = append(errs, VerifyError{Code: "E_REF_ORPHAN", Message: fmt.Sprintf("provenance %s matches an empty-text span", p.ProvenanceID), Location: "evidence/spans.parquet"})
		}
	}
	return errs
}

// --- 8. Span bounds ------------------------------------------------------

func checkSpanBounds(shardDir string, m manifest.Manifest, provenance []shardschema.Provenance, spans []shardschema.Span) []VerifyError {
	var errs []VerifyError

	lengths := map[string]int64{}
	for _, s := range m.Sources {
		full := filepath.Join(shardDir, s.Path)
		data, err := os.ReadFile(full)
		if err != nil {
			errs = append(errs, VerifyError{Code: "E_REF_SOURCE", Message: err.Error(), Location: s.Path})
			continue
		}
		sum := sha256.Sum256(data)
		if hex.EncodeToString(sum[:]) != s.Hash {
			errs = append(errs, VerifyError{Code: "E_REF_SOURCE", Message: fmt.Sprintf("content file %s does not hash to declared source_hash %s", s.Path, s.Hash), Location: s.Path})
			continue
		}
		lengths[s.Hash] = int64(len(data))
	}

	checkInterval := func(table, id, sourceHash string, start, end int64) {
		length, ok := lengths[sourceHash]
		if !ok {
			return // already reported as E_REF_SOURCE above
		}
		if start < 0 || start >= end || end > length {
			errs = append(errs, VerifyError{Code: "PROVENANCE_OUT_OF_BOUNDS", Message: fmt.Sprintf("%s byte range [%d,%d) invalid for source of length %d", id, start, end, length), Location: table})
		}
	}
	for _, p := range provenance {
		checkInterval("graph/provenance.parquet", p.ProvenanceID, p.SourceHash, p.ByteStart, p.ByteEnd)
	}
	for _, s := range spans {
		checkInterval("evidence/spans.parquet", s.SpanID, s.SourceHash, s.ByteStart, s.ByteEnd)
	}
	return errs
}

// --- 9. Merkle -------------------------------------------------------------

func checkMerkle(shardDir, effectiveSuite string, m manifest.Manifest) []VerifyError {
	root, err := merkle.ComputeRoot(shardDir, effectiveSuite)
	if err != nil {
		return []VerifyError{{Code: "E_MERKLE_MISMATCH", Message: err.Error()}}
	}
	if root != m.Integrity.MerkleRoot {
		return []VerifyError{{Code: "E_MERKLE_MISMATCH", Message: fmt.Sprintf("recomputed root %s differs from manifest %s", root, m.Integrity.MerkleRoot)}}
	}
	return nil
}

// ToJSON renders a report the way `shardctl verify` prints it.
func (r *VerifyReport) ToJSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}
