// Package registry is the persistent map from human names (and aliases)
// to shard ids, with append-only history (§4.9). The document lives as a
// single JSON file on local disk; every write re-validates the whole
// document and persists via write-temp-then-rename so a crash never
// leaves a partial file behind.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
)

// SchemaVersion is the registry document schema this implementation
// reads and writes. A document declaring a newer major version fails to
// load rather than being silently misinterpreted.
const SchemaVersion = "1.0.0"

var (
	ErrNotFound      = errors.New("registry: artifact not found")
	ErrAlreadyExists = errors.New("registry: artifact already exists")
	ErrAliasTaken    = errors.New("registry: alias already owned by another artifact")
	ErrCorrupt       = errors.New("registry: document failed schema validation")
)

// HistoryEntry is one append-only record of a pointer change.
type HistoryEntry struct {
	ShardID   string    `json:"shard_id"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason"`
}

// Policy is the optional per-artifact trust policy.
type Policy struct {
	TrustKey string `json:"trust_key,omitempty"`
}

// Artifact is one named entry: a human name pointing at a current shard
// id, with aliases, tags, and full history.
type Artifact struct {
	Name    string         `json:"name"`
	Aliases []string       `json:"aliases,omitempty"`
	Tags    []string       `json:"tags,omitempty"`
	Current string         `json:"current"`
	History []HistoryEntry `json:"history"`
	Policy  *Policy        `json:"policy,omitempty"`
}

// document is the on-disk shape: {schema_version, artifacts: {name: {...}}}.
type document struct {
	SchemaVersion string               `json:"schema_version"`
	Artifacts     map[string]*Artifact `json:"artifacts"`
}

// Registry is a handle on one on-disk document, obtained once at startup
// and threaded explicitly through call sites — no ambient singleton.
type Registry struct {
	mu   sync.Mutex
	path string
	doc  document
}

// Open loads path, creating an empty, schema-valid document if it does
// not yet exist. A corrupt on-disk document fails to load rather than
// silently dropping data.
func Open(path string) (*Registry, error) {
	r := &Registry{path: path, doc: document{SchemaVersion: SchemaVersion, Artifacts: map[string]*Artifact{}}}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("registry: read %s: %w", path, err)
	}
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if err := validateDocument(doc); err != nil {
		return nil, err
	}
	r.doc = doc
	return r, nil
}

func validateDocument(doc document) error {
	if doc.SchemaVersion == "" {
		return fmt.Errorf("%w: missing schema_version", ErrCorrupt)
	}
	have, err := semver.NewVersion(doc.SchemaVersion)
	if err != nil {
		return fmt.Errorf("%w: unparseable schema_version %q: %v", ErrCorrupt, doc.SchemaVersion, err)
	}
	supported := semver.MustParse(SchemaVersion)
	if have.Major() > supported.Major() {
		return fmt.Errorf("%w: schema_version %s is newer than supported %s", ErrCorrupt, doc.SchemaVersion, SchemaVersion)
	}
	if doc.Artifacts == nil {
		return fmt.Errorf("%w: missing artifacts map", ErrCorrupt)
	}
	seenAliases := map[string]string{}
	for name, a := range doc.Artifacts {
		if a.Name != "" && a.Name != name {
			return fmt.Errorf("%w: artifact key %q does not match name %q", ErrCorrupt, name, a.Name)
		}
		for _, alias := range a.Aliases {
			if owner, ok := seenAliases[alias]; ok && owner != name {
				return fmt.Errorf("%w: alias %q owned by both %q and %q", ErrCorrupt, alias, owner, name)
			}
			seenAliases[alias] = name
		}
	}
	return nil
}

func (r *Registry) save() error {
	r.doc.SchemaVersion = SchemaVersion
	if err := validateDocument(r.doc); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(r.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("registry: marshal: %w", err)
	}
	if dir := filepath.Dir(r.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("registry: mkdir %s: %w", dir, err)
		}
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("registry: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("registry: rename %s to %s: %w", tmp, r.path, err)
	}
	return nil
}

// looksLikeShardID reports whether ref already has the shard_id shape, in
// which case Resolve passes it through unchanged.
func looksLikeShardID(ref string) bool {
	return strings.HasPrefix(ref, "shard_blake3_")
}

// Resolve accepts a canonical name, an alias, or a literal shard_id.
func (r *Registry) Resolve(ref string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if looksLikeShardID(ref) {
		return ref, nil
	}
	if a, ok := r.doc.Artifacts[ref]; ok {
		return a.Current, nil
	}
	for _, a := range r.doc.Artifacts {
		for _, alias := range a.Aliases {
			if alias == ref {
				return a.Current, nil
			}
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, ref)
}

// AddArtifact registers a new name. It fails if the name already exists.
func (r *Registry) AddArtifact(name, shardID, reason string, aliases, tags []string, trustKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.doc.Artifacts[name]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, name)
	}
	for _, alias := range aliases {
		if owner := r.ownerOfAliasLocked(alias); owner != "" {
			return fmt.Errorf("%w: %s already owned by %s", ErrAliasTaken, alias, owner)
		}
	}

	var policy *Policy
	if trustKey != "" {
		policy = &Policy{TrustKey: trustKey}
	}
	r.doc.Artifacts[name] = &Artifact{
		Name:    name,
		Aliases: aliases,
		Tags:    tags,
		Current: shardID,
		History: []HistoryEntry{{ShardID: shardID, Timestamp: nowFunc(), Reason: reason}},
		Policy:  policy,
	}
	return r.save()
}

// SetCurrent repoints name at a new shard_id and appends a history entry;
// it never rewrites past history.
func (r *Registry) SetCurrent(name, shardID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.doc.Artifacts[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	a.Current = shardID
	a.History = append(a.History, HistoryEntry{ShardID: shardID, Timestamp: nowFunc(), Reason: reason})
	return r.save()
}

// AddAlias attaches alias to name. Fails if the alias is already owned by
// any artifact in the registry, including name itself.
func (r *Registry) AddAlias(name, alias string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.doc.Artifacts[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if owner := r.ownerOfAliasLocked(alias); owner != "" {
		return fmt.Errorf("%w: %s already owned by %s", ErrAliasTaken, alias, owner)
	}
	a.Aliases = append(a.Aliases, alias)
	return r.save()
}

func (r *Registry) ownerOfAliasLocked(alias string) string {
	for name, a := range r.doc.Artifacts {
		if name == alias {
			return name
		}
		for _, existing := range a.Aliases {
			if existing == alias {
				return name
			}
		}
	}
	return ""
}

// ListHistory returns the append-only history for ref (a name or alias,
// not a bare shard_id).
func (r *Registry) ListHistory(ref string) ([]HistoryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a, ok := r.doc.Artifacts[ref]; ok {
		return a.History, nil
	}
	for _, a := range r.doc.Artifacts {
		for _, alias := range a.Aliases {
			if alias == ref {
				return a.History, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
}

// List returns every artifact, optionally filtered to those carrying tag.
// An empty tag returns everything. Results are sorted by name for
// deterministic CLI output.
func (r *Registry) List(tag string) []*Artifact {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*Artifact
	for _, a := range r.doc.Artifacts {
		if tag == "" || containsString(a.Tags, tag) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// nowFunc is a var so tests can freeze history timestamps.
var nowFunc = func() time.Time { return time.Now().UTC() }
