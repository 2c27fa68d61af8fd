package mount

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// QueryCache memoizes CachedQuery results in Redis, keyed on the mount's
// merkle root plus the statement text. Because a shard is immutable once
// verified (I1), a cached result never needs invalidating while the
// mount session that produced it is still alive — only the TTL expires
// it.
type QueryCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewQueryCache wraps an existing Redis client. A zero ttl means entries
// never expire on their own (Redis TTL -1); callers that mount long-lived
// shards should pass a bounded ttl instead.
func NewQueryCache(client *redis.Client, ttl time.Duration) *QueryCache {
	return &QueryCache{client: client, ttl: ttl}
}

func (c *QueryCache) key(s *Session, sqlText string) string {
	sum := sha256.Sum256([]byte(s.MerkleRoot + "\x00" + sqlText))
	return "axm:query:" + hex.EncodeToString(sum[:])
}

// Row is one decoded result row, column name to scanned value.
type Row map[string]any

// CachedQuery runs sqlText against s, serving from cache on a hit and
// populating the cache on a miss. Only read-only statements reach the
// engine at all (Session.Query enforces that); caching is safe because
// the underlying tables never change after mount.
func (c *QueryCache) CachedQuery(ctx context.Context, s *Session, sqlText string) ([]Row, error) {
	key := c.key(s, sqlText)
	if cached, err := c.client.Get(ctx, key).Bytes(); err == nil {
		var rows []Row
		if jsonErr := json.Unmarshal(cached, &rows); jsonErr == nil {
			return rows, nil
		}
	}

	rows, err := s.Query(sqlText)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("mount: query cache columns: %w", err)
	}

	var out []Row
	for rows.Next() {
		scan := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range scan {
			ptrs[i] = &scan[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("mount: query cache scan: %w", err)
		}
		row := make(Row, len(cols))
		for i, col := range cols {
			row[col] = scan[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if encoded, err := json.Marshal(out); err == nil {
		c.client.Set(ctx, key, encoded, c.ttl)
	}
	return out, nil
}
