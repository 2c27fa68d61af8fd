// Package lockfile produces and reads the frozen `{ref: shard_id}`
// snapshot a caller can pin for reproducible resolution, independent of
// later registry mutations (§4.9 export_lockfile, §6 lockfile format).
package lockfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Lockfile is the on-disk shape: {"pinned_at": iso8601, "pins": {ref: shard_id}}.
type Lockfile struct {
	PinnedAt time.Time         `json:"pinned_at"`
	Pins     map[string]string `json:"pins"`
}

// Resolver is the subset of Registry that pinning needs.
type Resolver interface {
	Resolve(ref string) (string, error)
}

// Pin resolves every ref through reg and freezes the result as a
// Lockfile. Pinning is immutable once written: resolving the same refs
// again after the registry has moved on returns the pinned snapshot, not
// the live value (R2).
func Pin(reg Resolver, refs []string) (*Lockfile, error) {
	pins := make(map[string]string, len(refs))
	for _, ref := range refs {
		shardID, err := reg.Resolve(ref)
		if err != nil {
			return nil, fmt.Errorf("lockfile: resolve %s: %w", ref, err)
		}
		pins[ref] = shardID
	}
	return &Lockfile{PinnedAt: time.Now().UTC(), Pins: pins}, nil
}

// Write persists lf to path atomically.
func Write(path string, lf *Lockfile) error {
	raw, err := json.MarshalIndent(lf, "", "  ")
	if err != nil {
		return fmt.Errorf("lockfile: marshal: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("lockfile: mkdir %s: %w", dir, err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("lockfile: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("lockfile: rename %s to %s: %w", tmp, path, err)
	}
	return nil
}

// Read loads a Lockfile from path.
func Read(path string) (*Lockfile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("lockfile: read %s: %w", path, err)
	}
	var lf Lockfile
	if err := json.Unmarshal(raw, &lf); err != nil {
		return nil, fmt.Errorf("lockfile: unmarshal %s: %w", path, err)
	}
	return &lf, nil
}

// Resolve returns the pinned shard_id for ref, ignoring any live registry
// state (R2: pin(refs) then resolve(ref, lock=lockfile) is stable).
func (lf *Lockfile) Resolve(ref string) (string, error) {
	shardID, ok := lf.Pins[ref]
	if !ok {
		return "", fmt.Errorf("lockfile: %s is not pinned", ref)
	}
	return shardID, nil
}
