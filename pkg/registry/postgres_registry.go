package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"golang.org/x/time/rate"

	// Registered so callers can open a *sql.DB with sql.Open("postgres", dsn);
	// PostgresRegistry itself only depends on database/sql.
	_ "github.com/lib/pq"
)

// PostgresRegistry is a shared-deployment alternative to the file-backed
// Registry: multiple registry writers behind a load balancer need a
// single source of truth that atomic-rename semantics can't give them
// across hosts, so this variant pushes the same §4.9 document model into
// a database instead of a single JSON file.
type PostgresRegistry struct {
	db      *sql.DB
	limiter *rate.Limiter
}

// NewPostgresRegistry wraps db with no write throttling. Use
// NewPostgresRegistryWithLimit to cap the rate of mutating calls
// (AddArtifact, SetCurrent) against a shared connection pool.
func NewPostgresRegistry(db *sql.DB) *PostgresRegistry {
	return &PostgresRegistry{db: db}
}

// NewPostgresRegistryWithLimit caps mutating registry calls to r events
// per second with a burst of b, so a misbehaving publisher can't exhaust
// a shared Postgres connection pool that other services depend on.
func NewPostgresRegistryWithLimit(db *sql.DB, r float64, b int) *PostgresRegistry {
	return &PostgresRegistry{db: db, limiter: rate.NewLimiter(rate.Limit(r), b)}
}

func (r *PostgresRegistry) throttle(ctx context.Context) error {
	if r.limiter == nil {
		return nil
	}
	return r.limiter.Wait(ctx)
}

const pgRegistrySchema = `
CREATE TABLE IF NOT EXISTS registry_artifacts (
	name TEXT PRIMARY KEY,
	current_shard_id TEXT NOT NULL,
	aliases JSONB NOT NULL DEFAULT '[]',
	tags JSONB NOT NULL DEFAULT '[]',
	policy JSONB,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS registry_history (
	name TEXT NOT NULL REFERENCES registry_artifacts(name),
	shard_id TEXT NOT NULL,
	reason TEXT NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL,
	seq BIGSERIAL PRIMARY KEY
);
`

func (r *PostgresRegistry) Init(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, pgRegistrySchema)
	return err
}

func (r *PostgresRegistry) Resolve(ctx context.Context, ref string) (string, error) {
	if looksLikeShardID(ref) {
		return ref, nil
	}
	var current string
	err := r.db.QueryRowContext(ctx, "SELECT current_shard_id FROM registry_artifacts WHERE name = $1", ref).Scan(&current)
	if err == sql.ErrNoRows {
		return r.resolveAlias(ctx, ref)
	}
	if err != nil {
		return "", err
	}
	return current, nil
}

func (r *PostgresRegistry) resolveAlias(ctx context.Context, alias string) (string, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT name, current_shard_id, aliases FROM registry_artifacts")
	if err != nil {
		return "", err
	}
	defer rows.Close()
	for rows.Next() {
		var name, current string
		var aliasesJSON []byte
		if err := rows.Scan(&name, &current, &aliasesJSON); err != nil {
			continue
		}
		var aliases []string
		if err := json.Unmarshal(aliasesJSON, &aliases); err != nil {
			continue
		}
		for _, a := range aliases {
			if a == alias {
				return current, nil
			}
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, alias)
}

func (r *PostgresRegistry) AddArtifact(ctx context.Context, name, shardID, reason string, aliases, tags []string, trustKey string) error {
	if err := r.throttle(ctx); err != nil {
		return err
	}
	var count int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM registry_artifacts WHERE name = $1", name).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, name)
	}
	if owner, err := r.ownerOfAlias(ctx, aliases); err != nil {
		return err
	} else if owner != "" {
		return fmt.Errorf("%w: owned by %s", ErrAliasTaken, owner)
	}

	aliasesJSON, _ := json.Marshal(aliases)
	tagsJSON, _ := json.Marshal(tags)
	var policyJSON []byte
	if trustKey != "" {
		policyJSON, _ = json.Marshal(Policy{TrustKey: trustKey})
	}
	now := time.Now().UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO registry_artifacts (name, current_shard_id, aliases, tags, policy, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		name, shardID, aliasesJSON, tagsJSON, policyJSON, now); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO registry_history (name, shard_id, reason, recorded_at) VALUES ($1, $2, $3, $4)`,
		name, shardID, reason, now); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *PostgresRegistry) ownerOfAlias(ctx context.Context, aliases []string) (string, error) {
	if len(aliases) == 0 {
		return "", nil
	}
	rows, err := r.db.QueryContext(ctx, "SELECT name, aliases FROM registry_artifacts")
	if err != nil {
		return "", err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		var existingJSON []byte
		if err := rows.Scan(&name, &existingJSON); err != nil {
			continue
		}
		var existing []string
		if err := json.Unmarshal(existingJSON, &existing); err != nil {
			continue
		}
		for _, want := range aliases {
			for _, have := range existing {
				if want == have {
					return name, nil
				}
			}
		}
	}
	return "", nil
}

func (r *PostgresRegistry) SetCurrent(ctx context.Context, name, shardID, reason string) error {
	if err := r.throttle(ctx); err != nil {
		return err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "UPDATE registry_artifacts SET current_shard_id = $1, updated_at = $2 WHERE name = $3", shardID, time.Now().UTC(), name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO registry_history (name, shard_id, reason, recorded_at) VALUES ($1, $2, $3, $4)", name, shardID, reason, time.Now().UTC()); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *PostgresRegistry) ListHistory(ctx context.Context, name string) ([]HistoryEntry, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT shard_id, reason, recorded_at FROM registry_history WHERE name = $1 ORDER BY seq ASC", name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		if err := rows.Scan(&h.ShardID, &h.Reason, &h.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return out, nil
}

func (r *PostgresRegistry) List(ctx context.Context, tag string) ([]*Artifact, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT name, current_shard_id, aliases, tags, policy FROM registry_artifacts")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Artifact
	for rows.Next() {
		var a Artifact
		var aliasesJSON, tagsJSON, policyJSON []byte
		if err := rows.Scan(&a.Name, &a.Current, &aliasesJSON, &tagsJSON, &policyJSON); err != nil {
			return nil, err
		}
		json.Unmarshal(aliasesJSON, &a.Aliases)
		json.Unmarshal(tagsJSON, &a.Tags)
		if len(policyJSON) > 0 {
			var p Policy
			if json.Unmarshal(policyJSON, &p) == nil {
				a.Policy = &p
			}
		}
		if tag == "" || containsString(a.Tags, tag) {
			out = append(out, &a)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
