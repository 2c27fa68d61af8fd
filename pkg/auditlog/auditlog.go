// Package auditlog is the append-only line-delimited JSON audit trail
// for compile, verify, mount, registry, and lockfile activity (§5: "the
// audit log is append-only line-delimited JSON"). The library packages do
// not write to it themselves; callers append entries (cmd/shardctl
// records each successful pin).
// Each line is a self-contained JSON object chained to the previous
// line's hash, so a truncated or edited log is detectable without
// needing to trust the filesystem.
package auditlog

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrChainBroken   = errors.New("auditlog: hash chain is broken")
	ErrEntryNotFound = errors.New("auditlog: entry not found")
)

// EntryType categorizes audit entries by the operation that produced them.
type EntryType string

const (
	EntryTypeCompile EntryType = "compile"
	EntryTypeVerify  EntryType = "verify"
	EntryTypeMount   EntryType = "mount"
	EntryTypeRegistry EntryType = "registry"
	EntryTypeLockfile EntryType = "lockfile"
)

// Entry is a single immutable line in the audit log.
type Entry struct {
	EntryID      string            `json:"entry_id"`
	Sequence     uint64            `json:"sequence"`
	Timestamp    time.Time         `json:"timestamp"`
	EntryType    EntryType         `json:"entry_type"`
	Subject      string            `json:"subject"`
	Action       string            `json:"action"`
	Payload      json.RawMessage   `json:"payload,omitempty"`
	PayloadHash  string            `json:"payload_hash"`
	PreviousHash string            `json:"previous_hash"`
	EntryHash    string            `json:"entry_hash"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Log is an append-only JSONL audit log backed by a single file. Writers
// open it for the lifetime of one process; concurrent writers within a
// process share the in-memory chain head under mu.
type Log struct {
	mu        sync.Mutex
	path      string
	f         *os.File
	sequence  uint64
	chainHead string
}

// Open opens (creating if absent) the audit log at path and replays its
// existing entries to recover the chain head and sequence counter.
func Open(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("auditlog: open %s: %w", path, err)
	}

	l := &Log{path: path, f: f, chainHead: "genesis"}
	if err := l.replay(); err != nil {
		f.Close()
		return nil, err
	}
	return l, nil
}

func (l *Log) replay() error {
	if _, err := l.f.Seek(0, 0); err != nil {
		return fmt.Errorf("auditlog: seek %s: %w", l.path, err)
	}
	scanner := bufio.NewScanner(l.f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	expectedPrev := "genesis"
	var lastSeq uint64
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return fmt.Errorf("auditlog: corrupt entry in %s: %w", l.path, err)
		}
		if e.PreviousHash != expectedPrev {
			return fmt.Errorf("%w: entry %d has previous_hash %s, expected %s", ErrChainBroken, e.Sequence, e.PreviousHash, expectedPrev)
		}
		expectedPrev = e.EntryHash
		lastSeq = e.Sequence
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("auditlog: scan %s: %w", l.path, err)
	}
	if _, err := l.f.Seek(0, 2); err != nil {
		return fmt.Errorf("auditlog: seek end %s: %w", l.path, err)
	}
	l.chainHead = expectedPrev
	l.sequence = lastSeq
	return nil
}

// Append writes one chained entry as a single JSONL line and fsyncs it
// before returning, so a crash immediately after Append cannot lose the
// entry without also truncating the file visibly.
func (l *Log) Append(entryType EntryType, subject, action string, payload any, metadata map[string]string) (*Entry, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("auditlog: marshal payload: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.sequence++
	entry := &Entry{
		EntryID:      uuid.New().String(),
		Sequence:     l.sequence,
		Timestamp:    time.Now().UTC(),
		EntryType:    entryType,
		Subject:      subject,
		Action:       action,
		Payload:      payloadBytes,
		PayloadHash:  computeHash(payloadBytes),
		PreviousHash: l.chainHead,
		Metadata:     metadata,
	}
	entry.EntryHash, err = entryHash(entry)
	if err != nil {
		l.sequence--
		return nil, fmt.Errorf("auditlog: hash entry: %w", err)
	}

	line, err := json.Marshal(entry)
	if err != nil {
		l.sequence--
		return nil, fmt.Errorf("auditlog: marshal entry: %w", err)
	}
	line = append(line, '\n')
	if _, err := l.f.Write(line); err != nil {
		l.sequence--
		return nil, fmt.Errorf("auditlog: write %s: %w", l.path, err)
	}
	if err := l.f.Sync(); err != nil {
		return nil, fmt.Errorf("auditlog: sync %s: %w", l.path, err)
	}

	l.chainHead = entry.EntryHash
	return entry, nil
}

// ChainHead returns the current chain head hash.
func (l *Log) ChainHead() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.chainHead
}

// Close releases the underlying file handle.
func (l *Log) Close() error {
	return l.f.Close()
}

// ReadAll replays the full log from disk, independent of the live Log's
// in-memory state — used by auditors inspecting a log they did not write.
func ReadAll(path string) ([]*Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("auditlog: open %s: %w", path, err)
	}
	defer f.Close()

	var entries []*Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("auditlog: corrupt entry in %s: %w", path, err)
		}
		entries = append(entries, &e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("auditlog: scan %s: %w", path, err)
	}
	return entries, nil
}

// VerifyChain re-derives every entry's hash from its recorded fields and
// confirms previous_hash/entry_hash form an unbroken chain.
func VerifyChain(entries []*Entry) error {
	expectedPrev := "genesis"
	for i, e := range entries {
		if e.PreviousHash != expectedPrev {
			return fmt.Errorf("%w: entry %d has previous_hash %s, expected %s", ErrChainBroken, i, e.PreviousHash, expectedPrev)
		}
		computed, err := entryHash(e)
		if err != nil {
			return fmt.Errorf("%w: entry %d: %w", ErrChainBroken, i, err)
		}
		if computed != e.EntryHash {
			return fmt.Errorf("%w: entry %d hash mismatch", ErrChainBroken, i)
		}
		expectedPrev = e.EntryHash
	}
	return nil
}

func computeHash(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

func entryHash(e *Entry) (string, error) {
	hashable := struct {
		Sequence     uint64    `json:"sequence"`
		Timestamp    time.Time `json:"timestamp"`
		EntryType    EntryType `json:"entry_type"`
		Subject      string    `json:"subject"`
		Action       string    `json:"action"`
		PayloadHash  string    `json:"payload_hash"`
		PreviousHash string    `json:"previous_hash"`
	}{
		Sequence:     e.Sequence,
		Timestamp:    e.Timestamp,
		EntryType:    e.EntryType,
		Subject:      e.Subject,
		Action:       e.Action,
		PayloadHash:  e.PayloadHash,
		PreviousHash: e.PreviousHash,
	}
	data, err := json.Marshal(hashable)
	if err != nil {
		return "", fmt.Errorf("marshal entry for hashing: %w", err)
	}
	return computeHash(data), nil
}
