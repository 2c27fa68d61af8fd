// Package identity computes the content-addressed identifiers that let any
// party re-derive a shard's entity, claim, provenance, span, and evidence
// ids purely from row contents — the recomputation checks in the verifier
// (I3) depend on every implementation producing bit-identical output.
package identity

import (
	"crypto/sha256"
	"encoding/base32"
	"fmt"
	"strings"

	"github.com/BigBirdReturns/axm-core/pkg/canonicalize"
)

// base32Lower is the RFC 4648 alphabet lower-cased, padding stripped —
// the frozen on-disk id encoding.
var base32Lower = base32.StdEncoding.WithPadding(base32.NoPadding)

// idFromCanonical hashes the JCS-canonical encoding of fields with SHA-256,
// keeps the first 15 bytes, and renders them as lower-case, unpadded
// base32, prefixed with the type tag.
func idFromCanonical(prefix string, fields ...interface{}) (string, error) {
	b, err := canonicalize.JCS(fields)
	if err != nil {
		return "", fmt.Errorf("identity: canonicalize fields: %w", err)
	}
	sum := sha256.Sum256(b)
	enc := strings.ToLower(base32Lower.EncodeToString(sum[:15]))
	return prefix + enc, nil
}

// trim applies the §4.2 normalization: trim surrounding whitespace only,
// never lowercase, never alter Unicode form (callers are expected to have
// already NFC-normalized text that originates from source documents).
func trim(s string) string { return strings.TrimSpace(s) }

// EntityID computes entity_id = "ent_" || base32(sha256(canonical([namespace, label]))[:15]).
func EntityID(namespace, label string) (string, error) {
	return idFromCanonical("ent_", trim(namespace), trim(label))
}

// ClaimID computes claim_id from the four fields that define a claim.
// object is the entity_id when objectType == "entity", otherwise the
// literal value rendered as a string.
func ClaimID(subjectID, predicate, object, objectType string) (string, error) {
	return idFromCanonical("clm_", subjectID, trim(predicate), object, objectType)
}

// ProvenanceID computes provenance_id from the byte range a claim cites.
func ProvenanceID(sourceHash string, byteStart, byteEnd int64) (string, error) {
	return idFromCanonical("p_", sourceHash, byteStart, byteEnd)
}

// SpanID computes span_id. Unlike EvidenceAddr, it folds in the literal
// text, so two identical byte ranges with different decoded text (which
// should never happen, but the id construction does not assume it) would
// diverge.
func SpanID(sourceHash string, byteStart, byteEnd int64, text string) (string, error) {
	return idFromCanonical("s_", sourceHash, byteStart, byteEnd, text)
}

// EvidenceAddr computes the stable join key used by ext/locators: it
// depends only on source_hash and the byte range, not on claim or span
// identity, so it survives recompilation of the same source under a
// different candidate set.
func EvidenceAddr(sourceHash string, byteStart, byteEnd int64) (string, error) {
	return idFromCanonical("ea_", sourceHash, byteStart, byteEnd)
}
