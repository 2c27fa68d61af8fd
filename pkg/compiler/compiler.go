// Package compiler turns a normalized source text and a stream of
// untrusted candidate claims into a signed, self-verified shard directory
// (§4.7). It is the only component that writes a shard; every other
// component only reads one.
package compiler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BigBirdReturns/axm-core/pkg/identity"
	"github.com/BigBirdReturns/axm-core/pkg/manifest"
	"github.com/BigBirdReturns/axm-core/pkg/merkle"
	"github.com/BigBirdReturns/axm-core/pkg/normalize"
	"github.com/BigBirdReturns/axm-core/pkg/shardschema"
	"github.com/BigBirdReturns/axm-core/pkg/telemetry"
	"github.com/BigBirdReturns/axm-core/pkg/shardtable"
	"github.com/BigBirdReturns/axm-core/pkg/suite"
	"github.com/BigBirdReturns/axm-core/pkg/verifier"
)

// CandidateLocator is the optional structural-position payload a
// candidate may carry, written into ext/locators.parquet.
type CandidateLocator struct {
	Kind           string
	PageIndex      *int16
	ParagraphIndex *int32
	BlockID        string
	FilePath       string
}

// Candidate is one untrusted proposed claim from the candidates stream
// (§6 "Candidates input format").
type Candidate struct {
	Subject    string
	Predicate  string
	Object     string
	ObjectType string
	Evidence   string
	Tier       int8
	Confidence *float64
	Locator    *CandidateLocator
}

// ExtensionEmitter lets a caller contribute additional ext/ tables beyond
// the built-in locators extension (§9 "Plugin-like extensions"). Emitters
// run after the core tables are built and before the Merkle root is
// computed, so their output is still Merkle-authenticated.
type ExtensionEmitter interface {
	// Name returns the "<name>@<version>" tag recorded in
	// manifest.extensions.
	Name() string
	// Emit writes the extension's files under extDir and returns true if
	// it wrote anything (an emitter that has nothing to contribute for
	// this compile is skipped entirely, including from manifest.extensions).
	Emit(extDir string, candidates []Candidate) (wrote bool, err error)
}

// Config enumerates everything the compiler needs beyond the source text
// and the candidate stream (§4.7).
type Config struct {
	OutDir         string
	Key            *suite.KeyPair
	Suite          string
	PublisherID    string
	PublisherName  string
	Namespace      string
	Title          string
	CreatedAt      time.Time
	Extensions     []ExtensionEmitter
	Logger         *slog.Logger
}

// Fatal compile-time failure modes (§4.7, §7).
var (
	ErrNoClaims           = fmt.Errorf("compiler: E_NO_CLAIMS")
	ErrEvidenceAmbiguous  = fmt.Errorf("compiler: E_EVIDENCE_AMBIGUOUS")
	ErrSigningFailed      = fmt.Errorf("compiler: E_SIGNING_FAILED")
	ErrSelfVerifyFailed   = fmt.Errorf("compiler: E_SELF_VERIFY_FAILED")
)

// Compile runs the full §4.7 algorithm and returns the shard_id of the
// freshly written, signed, self-verified shard.
func Compile(sourceText string, candidates []Candidate, cfg Config) (string, error) {
	_, span := telemetry.StartSpan(context.Background(), "compiler.Compile", "suite", cfg.Suite)
	defer span.End()

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	sch, err := suite.Get(cfg.Suite)
	if err != nil {
		return "", err
	}
	if cfg.Key == nil {
		kp, err := sch.GenerateKeyPair()
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrSigningFailed, err)
		}
		cfg.Key = kp
	}

	// Step 1: normalize and write the source.
	normalized := normalize.Source(sourceText)
	sum := sha256.Sum256([]byte(normalized))
	sourceHash := hex.EncodeToString(sum[:])

	// Step 2: clean output directories.
	for _, dir := range []string{manifest.DirContent, manifest.DirGraph, manifest.DirEvidence, "sig", manifest.DirExt} {
		full := filepath.Join(cfg.OutDir, dir)
		if err := os.RemoveAll(full); err != nil {
			return "", fmt.Errorf("compiler: clean %s: %w", full, err)
		}
		if err := os.MkdirAll(full, 0o755); err != nil {
			return "", fmt.Errorf("compiler: mkdir %s: %w", full, err)
		}
	}
	contentPath := filepath.Join(cfg.OutDir, manifest.DirContent, "source.txt")
	if err := os.WriteFile(contentPath, []byte(normalized), 0o644); err != nil {
		return "", fmt.Errorf("compiler: write source: %w", err)
	}

	// Step 3: first pass — collect entity labels.
	entityIDs := map[string]shardschema.Entity{}
	addEntity := func(label string) error {
		if label == "" {
			return nil
		}
		if _, ok := entityIDs[label]; ok {
			return nil
		}
		id, err := identity.EntityID(cfg.Namespace, label)
		if err != nil {
			return err
		}
		entityIDs[label] = shardschema.Entity{
			EntityID:   id,
			Namespace:  cfg.Namespace,
			Label:      label,
			EntityType: "entity",
		}
		return nil
	}
	for _, c := range candidates {
		if err := addEntity(c.Subject); err != nil {
			return "", err
		}
		if c.ObjectType == "entity" {
			if err := addEntity(c.Object); err != nil {
				return "", err
			}
		}
	}
	if len(candidates) == 0 {
		return "", ErrNoClaims
	}

	// Step 4: second pass — locate evidence, build row buffers.
	var claims []shardschema.Claim
	var provenance []shardschema.Provenance
	var spans []shardschema.Span
	var locators []shardschema.Locator
	kept := 0

	for _, c := range candidates {
		start := strings.Index(normalized, c.Evidence)
		if start < 0 {
			log.Warn("compiler: evidence not found, dropping candidate", "subject", c.Subject, "predicate", c.Predicate)
			continue
		}
		if strings.Count(normalized, c.Evidence) > 1 {
			return "", fmt.Errorf("%w: evidence %q occurs more than once", ErrEvidenceAmbiguous, c.Evidence)
		}
		byteStart := int64(start)
		byteEnd := byteStart + int64(len(c.Evidence))

		subjectID, ok := entityIDs[c.Subject]
		if !ok {
			continue
		}
		objectValue := c.Object
		if c.ObjectType == "entity" {
			obj, ok := entityIDs[c.Object]
			if !ok {
				continue
			}
			objectValue = obj.EntityID
		}

		claimID, err := identity.ClaimID(subjectID.EntityID, c.Predicate, objectValue, c.ObjectType)
		if err != nil {
			return "", err
		}
		provID, err := identity.ProvenanceID(sourceHash, byteStart, byteEnd)
		if err != nil {
			return "", err
		}
		spanID, err := identity.SpanID(sourceHash, byteStart, byteEnd, c.Evidence)
		if err != nil {
			return "", err
		}

		claims = append(claims, shardschema.Claim{
			ClaimID:    claimID,
			Subject:    subjectID.EntityID,
			Predicate:  c.Predicate,
			Object:     objectValue,
			ObjectType: c.ObjectType,
			Tier:       c.Tier,
		})
		provenance = append(provenance, shardschema.Provenance{
			ProvenanceID: provID,
			ClaimID:      claimID,
			SourceHash:   sourceHash,
			ByteStart:    byteStart,
			ByteEnd:      byteEnd,
		})
		spans = append(spans, shardschema.Span{
			SpanID:     spanID,
			SourceHash: sourceHash,
			ByteStart:  byteStart,
			ByteEnd:    byteEnd,
			Text:       c.Evidence,
		})

		if c.Locator != nil {
			addr, err := identity.EvidenceAddr(sourceHash, byteStart, byteEnd)
			if err != nil {
				return "", err
			}
			locators = append(locators, shardschema.Locator{
				EvidenceAddr:   addr,
				SpanID:         spanID,
				SourceHash:     sourceHash,
				Kind:           c.Locator.Kind,
				PageIndex:      c.Locator.PageIndex,
				ParagraphIndex: c.Locator.ParagraphIndex,
				BlockID:        c.Locator.BlockID,
				FilePath:       c.Locator.FilePath,
			})
		}
		kept++
	}
	if kept == 0 {
		return "", ErrNoClaims
	}

	entities := make([]shardschema.Entity, 0, len(entityIDs))
	for _, e := range entityIDs {
		entities = append(entities, e)
	}
	sort.Slice(entities, func(i, j int) bool { return entities[i].EntityID < entities[j].EntityID })

	// Step 5: write tables.
	if err := shardtable.WriteDeterministic(filepath.Join(cfg.OutDir, manifest.DirGraph, "entities.parquet"), entities,
		func(a, b shardschema.Entity) bool { return a.EntityID < b.EntityID }); err != nil {
		return "", err
	}
	if err := shardtable.WriteDeterministic(filepath.Join(cfg.OutDir, manifest.DirGraph, "claims.parquet"), claims,
		func(a, b shardschema.Claim) bool { return a.ClaimID < b.ClaimID }); err != nil {
		return "", err
	}
	if err := shardtable.WriteDeterministic(filepath.Join(cfg.OutDir, manifest.DirGraph, "provenance.parquet"), provenance,
		func(a, b shardschema.Provenance) bool { return a.ProvenanceID < b.ProvenanceID }); err != nil {
		return "", err
	}
	if err := shardtable.WriteDeterministic(filepath.Join(cfg.OutDir, manifest.DirEvidence, "spans.parquet"), spans,
		func(a, b shardschema.Span) bool { return a.SpanID < b.SpanID }); err != nil {
		return "", err
	}

	var extensions []string
	if len(locators) > 0 {
		if err := shardtable.WriteDeterministic(filepath.Join(cfg.OutDir, manifest.DirExt, "locators.parquet"), locators,
			func(a, b shardschema.Locator) bool { return a.EvidenceAddr < b.EvidenceAddr }); err != nil {
			return "", err
		}
		extensions = append(extensions, "locators@1")
	}
	for _, emitter := range cfg.Extensions {
		extDir := filepath.Join(cfg.OutDir, manifest.DirExt)
		wrote, err := emitter.Emit(extDir, candidates)
		if err != nil {
			return "", fmt.Errorf("compiler: extension %s: %w", emitter.Name(), err)
		}
		if wrote {
			extensions = append(extensions, emitter.Name())
		}
	}

	// Step 6: Merkle root over everything but manifest.json and sig/.
	root, err := merkle.ComputeRoot(cfg.OutDir, cfg.Suite)
	if err != nil {
		return "", err
	}

	// Step 7: build and canonically encode the manifest.
	m := manifest.Manifest{
		SpecVersion: manifest.SpecVersion,
		Suite:       cfg.Suite,
		ShardID:     manifest.ShardIDFor(root),
		Metadata: manifest.Metadata{
			Title:     cfg.Title,
			Namespace: cfg.Namespace,
			CreatedAt: cfg.CreatedAt.UTC().Format(time.RFC3339),
		},
		Publisher: manifest.Publisher{ID: cfg.PublisherID, Name: cfg.PublisherName},
		Sources:   []manifest.Source{{Path: "content/source.txt", Hash: sourceHash}},
		Integrity: manifest.Integrity{Algorithm: "blake3", MerkleRoot: root},
		Statistics: manifest.Statistics{
			Entities: len(entities),
			Claims:   len(claims),
		},
		Extensions: extensions,
	}
	manifestBytes, err := m.Canonical()
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(cfg.OutDir, manifest.FileManifest), manifestBytes, 0o644); err != nil {
		return "", fmt.Errorf("compiler: write manifest: %w", err)
	}

	// Step 8: sign.
	sig, err := sch.Sign(cfg.Key.Private, manifestBytes)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSigningFailed, err)
	}
	if err := os.WriteFile(filepath.Join(cfg.OutDir, manifest.FileSignature), sig, 0o644); err != nil {
		return "", fmt.Errorf("%w: write sig: %v", ErrSigningFailed, err)
	}
	if err := os.WriteFile(filepath.Join(cfg.OutDir, manifest.FilePublisherKey), cfg.Key.Public, 0o644); err != nil {
		return "", fmt.Errorf("%w: write pubkey: %v", ErrSigningFailed, err)
	}

	// Step 9: self-verify using the freshly written public key as anchor.
	report, err := verifier.VerifyShard(cfg.OutDir, cfg.Key.Public)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSelfVerifyFailed, err)
	}
	if report.Status != verifier.StatusPass {
		return "", fmt.Errorf("%w: %d error(s), first: %s", ErrSelfVerifyFailed, len(report.Errors), firstError(report.Errors))
	}

	return m.ShardID, nil
}

func firstError(errs []verifier.VerifyError) string {
	if len(errs) == 0 {
		return "unknown"
	}
	return fmt.Sprintf("%s: %s", errs[0].Code, errs[0].Message)
}
