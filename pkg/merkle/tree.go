// Package merkle computes the dual-suite Merkle root that authenticates
// every file in a shard except manifest.json and sig/*.
//
// Two algorithms, selected by suite:
//
//	"ed25519" (legacy):
//	  leaf  = BLAKE3(relpath_utf8 || 0x00 || file_bytes)
//	  node  = BLAKE3(left || right)
//	  odd   = duplicate last node (Bitcoin style)
//	  empty = BLAKE3("")
//
//	"axm-blake3-mldsa44" (post-quantum):
//	  leaf  = BLAKE3(0x00 || relpath_utf8 || 0x00 || file_bytes)   domain-separated
//	  node  = BLAKE3(0x01 || left || right)                        domain-separated
//	  odd   = promote unchanged (RFC 6962) — no duplication
//	  empty = frozen constant BLAKE3(0x01)
//
// Domain separation on the PQ suite prevents an attacker from crafting leaf
// content that collides with an internal node, and odd-node promotion
// avoids the duplicate-leaf ambiguity the legacy suite accepts for
// backward compatibility.
package merkle

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"lukechampine.com/blake3"
)

const (
	SuiteEd25519   = "ed25519"
	SuiteMLDSA44   = "axm-blake3-mldsa44"
	hashChunkBytes = 64 * 1024

	// EmptyRootMLDSA44Hex is the frozen constant BLAKE3(0x01), used as the
	// empty-tree root for the post-quantum suite (spec B6).
	EmptyRootMLDSA44Hex = "48fc721fbbc172e0925fa27af1671de225ba927134802998b10a1568a188652b"
)

// Default policy limits (§4.3, §5): bounded per-file and aggregate size so
// hashing a hostile shard cannot exhaust memory.
const (
	MaxFileBytes  = 512 * 1024 * 1024
	MaxTotalBytes = 2 * 1024 * 1024 * 1024
	MaxFileCount  = 100_000
)

type fileEntry struct {
	rel string
	abs string
}

// CollectFiles walks root, excluding manifest.json and everything under
// sig/, rejecting symlinks anywhere in the tree, and returns relative paths
// sorted by UTF-8 byte order — the deterministic order every suite hashes in.
func CollectFiles(root string) ([]string, error) {
	entries, err := collect(root)
	if err != nil {
		return nil, err
	}
	rels := make([]string, len(entries))
	for i, e := range entries {
		rels[i] = e.rel
	}
	return rels, nil
}

func collect(root string) ([]fileEntry, error) {
	var entries []fileEntry
	var totalBytes int64

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type()&os.ModeSymlink != 0 {
			return fmt.Errorf("merkle: symlink not allowed in shard: %s", path)
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == "manifest.json" || strings.HasPrefix(rel, "sig/") {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() > MaxFileBytes {
			return fmt.Errorf("merkle: file exceeds size limit: %s (%d bytes)", rel, info.Size())
		}
		totalBytes += info.Size()
		if totalBytes > MaxTotalBytes {
			return fmt.Errorf("merkle: shard exceeds total size limit: %d bytes", totalBytes)
		}
		entries = append(entries, fileEntry{rel: rel, abs: path})
		if len(entries) > MaxFileCount {
			return fmt.Errorf("merkle: shard exceeds file count limit: %d", len(entries))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool {
		return bytes.Compare([]byte(entries[i].rel), []byte(entries[j].rel)) < 0
	})
	return entries, nil
}

func hashFileLeaf(domainPrefix []byte, rel string, abs string) ([]byte, error) {
	h := blake3.New(32, nil)
	if len(domainPrefix) > 0 {
		h.Write(domainPrefix)
	}
	h.Write([]byte(rel))
	h.Write([]byte{0x00})

	f, err := os.Open(abs)
	if err != nil {
		return nil, fmt.Errorf("merkle: open %s: %w", rel, err)
	}
	defer f.Close()

	buf := make([]byte, hashChunkBytes)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return nil, fmt.Errorf("merkle: hash %s: %w", rel, err)
	}
	return h.Sum(nil), nil
}

func legacyTree(leaves [][]byte) []byte {
	if len(leaves) == 0 {
		sum := blake3.Sum256(nil)
		return sum[:]
	}
	level := leaves
	for len(level) > 1 {
		var next [][]byte
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left
			if i+1 < len(level) {
				right = level[i+1]
			}
			h := blake3.New(32, nil)
			h.Write(left)
			h.Write(right)
			next = append(next, h.Sum(nil))
		}
		level = next
	}
	return level[0]
}

func mldsa44Tree(leaves [][]byte) []byte {
	if len(leaves) == 0 {
		root, _ := hex.DecodeString(EmptyRootMLDSA44Hex)
		return root
	}
	if len(leaves) == 1 {
		return leaves[0]
	}
	level := leaves
	for len(level) > 1 {
		var next [][]byte
		i := 0
		for ; i < len(level)-1; i += 2 {
			h := blake3.New(32, nil)
			h.Write([]byte{0x01})
			h.Write(level[i])
			h.Write(level[i+1])
			next = append(next, h.Sum(nil))
		}
		if i < len(level) {
			next = append(next, level[i]) // promote unchanged, no duplication
		}
		level = next
	}
	return level[0]
}

// ComputeRoot computes the suite-specified 32-byte Merkle root over shardRoot
// and returns it as 64 lower-case hex characters.
func ComputeRoot(shardRoot string, suite string) (string, error) {
	entries, err := collect(shardRoot)
	if err != nil {
		return "", err
	}

	leavesFor := func(domainPrefix []byte) ([][]byte, error) {
		leaves := make([][]byte, 0, len(entries))
		for _, e := range entries {
			leaf, err := hashFileLeaf(domainPrefix, e.rel, e.abs)
			if err != nil {
				return nil, err
			}
			leaves = append(leaves, leaf)
		}
		return leaves, nil
	}

	switch suite {
	case SuiteMLDSA44:
		leaves, err := leavesFor([]byte{0x00})
		if err != nil {
			return "", err
		}
		return hex.EncodeToString(mldsa44Tree(leaves)), nil
	default:
		leaves, err := leavesFor(nil)
		if err != nil {
			return "", err
		}
		return hex.EncodeToString(legacyTree(leaves)), nil
	}
}
