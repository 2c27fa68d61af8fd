// Package mount converts a verified shard into queryable read-only SQL
// views inside one process (§4.10). The same (shard_id, merkle_root)
// pair always deduplicates to a single session; re-mounting returns the
// existing one.
package mount

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/BigBirdReturns/axm-core/pkg/manifest"
	"github.com/BigBirdReturns/axm-core/pkg/shardschema"
	"github.com/BigBirdReturns/axm-core/pkg/shardtable"
	"github.com/BigBirdReturns/axm-core/pkg/verifier"
)

// ErrVerificationFailed is returned when mount's mandatory §4.8 check does
// not PASS. No views are registered in this case.
var ErrVerificationFailed = errors.New("mount: shard verification failed")

// ErrReadOnly is returned by Query for any statement that is not a bare
// SELECT or a WITH ... SELECT.
var ErrReadOnly = errors.New("mount: only SELECT and WITH...SELECT statements are permitted")

var readOnlyRe = regexp.MustCompile(`(?is)^\s*(with\b.*\bselect\b|select\b)`)

// Session is one verified, mounted shard: a set of read-only views inside
// a private in-memory SQL engine.
type Session struct {
	MountID    string
	ShardID    string
	MerkleRoot string
	Tables     []string
	db         *sql.DB
}

// Runtime is the process-wide mount catalog. Mount/unmount and catalog
// mutations are serialized through mu; queries against an already-mounted
// session are not (each session owns its own *sql.DB).
type Runtime struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRuntime() *Runtime {
	return &Runtime{sessions: map[string]*Session{}}
}

func mountID(shardID, merkleRoot string) string {
	sum := sha256.Sum256([]byte(shardID + ":" + merkleRoot))
	return "mnt_" + hex.EncodeToString(sum[:8])
}

// Mount verifies shardPath against trustedKey and, on PASS, registers
// read-only views over its core and extension tables. Re-mounting the
// same (shard_id, merkle_root) returns the existing session.
func (rt *Runtime) Mount(shardPath string, trustedKey []byte) (*Session, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	report, err := verifier.VerifyShard(shardPath, trustedKey)
	if err != nil {
		return nil, err
	}
	if report.Status != verifier.StatusPass {
		return nil, fmt.Errorf("%w: %v", ErrVerificationFailed, report.Errors)
	}

	m, err := readManifest(shardPath)
	if err != nil {
		return nil, err
	}
	id := mountID(m.ShardID, m.Integrity.MerkleRoot)
	if existing, ok := rt.sessions[id]; ok {
		return existing, nil
	}

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("mount: open engine: %w", err)
	}

	suffix := id[len(id)-8:]
	var tables []string
	for _, tbl := range []struct {
		name string
		file string
	}{
		{"entities", manifest.FileEntities},
		{"claims", manifest.FileClaims},
		{"provenance", manifest.FileProvenance},
		{"spans", manifest.FileSpans},
	} {
		viewName := fmt.Sprintf("%s_%s", tbl.name, suffix)
		if err := registerTable(db, viewName, filepath.Join(shardPath, tbl.file), tbl.name); err != nil {
			db.Close()
			return nil, err
		}
		tables = append(tables, viewName)
	}

	for _, ext := range m.Extensions {
		name := strings.SplitN(ext, "@", 2)[0]
		meta, ok := shardschema.ExtensionRegistry[ext]
		if !ok {
			continue // unknown extension: still Merkle-authenticated, just not queryable by name
		}
		viewName := fmt.Sprintf("%s_%s", strings.ReplaceAll(name, "-", "_"), suffix)
		path := filepath.Join(shardPath, manifest.DirExt, meta.File)
		if err := registerExtensionTable(db, viewName, path, ext); err != nil {
			db.Close()
			return nil, err
		}
		tables = append(tables, viewName)
	}

	session := &Session{
		MountID:    id,
		ShardID:    m.ShardID,
		MerkleRoot: m.Integrity.MerkleRoot,
		Tables:     tables,
		db:         db,
	}
	rt.sessions[id] = session
	return session, nil
}

// Unmount drops the session, releasing its in-memory engine.
func (rt *Runtime) Unmount(mountID string) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	s, ok := rt.sessions[mountID]
	if !ok {
		return fmt.Errorf("mount: no such session: %s", mountID)
	}
	delete(rt.sessions, mountID)
	return s.db.Close()
}

// MountInfo is one row of list_mounts().
type MountInfo struct {
	MountID    string   `json:"mount_id"`
	ShardID    string   `json:"shard_id"`
	MerkleRoot string   `json:"merkle_root"`
	Tables     []string `json:"tables"`
	Transport  string   `json:"transport"`
}

// ListMounts is the catalog operation described in §4.10.
func (rt *Runtime) ListMounts() []MountInfo {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	out := make([]MountInfo, 0, len(rt.sessions))
	for _, s := range rt.sessions {
		out = append(out, MountInfo{MountID: s.MountID, ShardID: s.ShardID, MerkleRoot: s.MerkleRoot, Tables: s.Tables, Transport: "local"})
	}
	return out
}

// Query runs sql against the session's views. Only SELECT and
// WITH...SELECT statements are permitted; the syntactic pre-filter runs
// before the statement ever reaches the embedded engine.
func (s *Session) Query(sqlText string) (*sql.Rows, error) {
	if !readOnlyRe.MatchString(sqlText) {
		return nil, ErrReadOnly
	}
	return s.db.Query(sqlText)
}

func readManifest(shardPath string) (manifest.Manifest, error) {
	raw, err := os.ReadFile(filepath.Join(shardPath, manifest.FileManifest))
	if err != nil {
		return manifest.Manifest{}, fmt.Errorf("mount: read manifest: %w", err)
	}
	var m manifest.Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return manifest.Manifest{}, fmt.Errorf("mount: parse manifest: %w", err)
	}
	return m, nil
}

func registerTable(db *sql.DB, viewName, parquetPath, kind string) error {
	switch kind {
	case "entities":
		rows, err := shardtable.ReadAll[shardschema.Entity](parquetPath)
		if err != nil {
			return err
		}
		return createAndLoad(db, viewName,
			"entity_id TEXT, namespace TEXT, label TEXT, entity_type TEXT",
			len(rows), func(i int) []any {
				r := rows[i]
				return []any{r.EntityID, r.Namespace, r.Label, r.EntityType}
			})
	case "claims":
		rows, err := shardtable.ReadAll[shardschema.Claim](parquetPath)
		if err != nil {
			return err
		}
		return createAndLoad(db, viewName,
			"claim_id TEXT, subject TEXT, predicate TEXT, object TEXT, object_type TEXT, tier INTEGER",
			len(rows), func(i int) []any {
				r := rows[i]
				return []any{r.ClaimID, r.Subject, r.Predicate, r.Object, r.ObjectType, r.Tier}
			})
	case "provenance":
		rows, err := shardtable.ReadAll[shardschema.Provenance](parquetPath)
		if err != nil {
			return err
		}
		return createAndLoad(db, viewName,
			"provenance_id TEXT, claim_id TEXT, source_hash TEXT, byte_start INTEGER, byte_end INTEGER",
			len(rows), func(i int) []any {
				r := rows[i]
				return []any{r.ProvenanceID, r.ClaimID, r.SourceHash, r.ByteStart, r.ByteEnd}
			})
	case "spans":
		rows, err := shardtable.ReadAll[shardschema.Span](parquetPath)
		if err != nil {
			return err
		}
		return createAndLoad(db, viewName,
			"span_id TEXT, source_hash TEXT, byte_start INTEGER, byte_end INTEGER, text TEXT",
			len(rows), func(i int) []any {
				r := rows[i]
				return []any{r.SpanID, r.SourceHash, r.ByteStart, r.ByteEnd, r.Text}
			})
	}
	return fmt.Errorf("mount: unknown table kind %q", kind)
}

func registerExtensionTable(db *sql.DB, viewName, path, ext string) error {
	switch ext {
	case "locators@1":
		rows, err := shardtable.ReadAll[shardschema.Locator](path)
		if err != nil {
			return err
		}
		return createAndLoad(db, viewName,
			"evidence_addr TEXT, span_id TEXT, source_hash TEXT, kind TEXT, page_index INTEGER, paragraph_index INTEGER, block_id TEXT, file_path TEXT",
			len(rows), func(i int) []any {
				r := rows[i]
				return []any{r.EvidenceAddr, r.SpanID, r.SourceHash, r.Kind, nullableInt(r.PageIndex), nullableInt(r.ParagraphIndex), r.BlockID, r.FilePath}
			})
	}
	return nil
}

func nullableInt[T int16 | int32](p *T) any {
	if p == nil {
		return nil
	}
	return int64(*p)
}

func createAndLoad(db *sql.DB, viewName, columns string, rowCount int, at func(i int) []any) error {
	if _, err := db.Exec(fmt.Sprintf("CREATE TABLE %s (%s)", viewName, columns)); err != nil {
		return fmt.Errorf("mount: create %s: %w", viewName, err)
	}
	if rowCount == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", strings.Count(columns, ",")+1), ",")
	stmt, err := db.Prepare(fmt.Sprintf("INSERT INTO %s VALUES (%s)", viewName, placeholders))
	if err != nil {
		return fmt.Errorf("mount: prepare insert into %s: %w", viewName, err)
	}
	defer stmt.Close()
	for i := 0; i < rowCount; i++ {
		if _, err := stmt.Exec(at(i)...); err != nil {
			return fmt.Errorf("mount: load row %d into %s: %w", i, viewName, err)
		}
	}
	return nil
}
