// Package shardtable writes and reads the deterministic Parquet tables a
// shard is built from. Determinism matters here, not micro-optimization:
// given the same logical rows, two compiles must byte-identically cover the
// same Merkle leaves. That means a single row group, no dictionary
// encoding, no page/column statistics, and a frozen compression codec.
package shardtable

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/parquet-go/parquet-go"
)

// WriteOptions pins the codec-level choices that make two writes of the
// same rows byte-identical under this library.
func writeOptions[T any](schema *parquet.Schema) []parquet.WriterOption {
	return []parquet.WriterOption{
		schema,
		parquet.Compression(&parquet.Zstd),
		parquet.DataPageStatistics(false),
		parquet.SkipPageIndex(true),
		parquet.SkipBloomFilters(true),
	}
}

// WriteDeterministic sorts rows by sortKey (ascending, using less) and
// writes them as a single row group to path, creating parent directories
// as needed. The write-to-temp-then-rename idiom keeps a crash from
// leaving a half-written table behind.
func WriteDeterministic[T any](path string, rows []T, less func(a, b T) bool) error {
	sorted := make([]T, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool { return less(sorted[i], sorted[j]) })

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("shardtable: mkdir %s: %w", filepath.Dir(path), err)
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("shardtable: create %s: %w", tmp, err)
	}

	schema := parquet.SchemaOf(new(T))
	w := parquet.NewGenericWriter[T](f, writeOptions[T](schema)...)
	if _, err := w.Write(sorted); err != nil {
		w.Close()
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("shardtable: write rows to %s: %w", tmp, err)
	}
	if err := w.Close(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("shardtable: close writer for %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("shardtable: close file %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("shardtable: rename %s to %s: %w", tmp, path, err)
	}
	return nil
}

// ReadAll reads every row of a table file, in on-disk order (already
// sorted by the writer's sort key).
func ReadAll[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("shardtable: open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("shardtable: stat %s: %w", path, err)
	}

	r := parquet.NewGenericReader[T](f, parquet.SchemaOf(new(T)))
	defer r.Close()

	rows := make([]T, 0, estimateRows(info.Size()))
	buf := make([]T, 256)
	for {
		n, err := r.Read(buf)
		rows = append(rows, buf[:n]...)
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("shardtable: read %s: %w", path, err)
		}
	}
	return rows, nil
}

func estimateRows(sizeBytes int64) int64 {
	if sizeBytes <= 0 {
		return 0
	}
	const roughBytesPerRow = 64
	return sizeBytes / roughBytesPerRow
}
