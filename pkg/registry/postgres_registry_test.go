package registry

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func TestPostgresRegistry_ResolveByShardID(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	r := NewPostgresRegistry(db)
	got, err := r.Resolve(context.Background(), "shard_blake3_deadbeef")
	if err != nil {
		t.Fatal(err)
	}
	if got != "shard_blake3_deadbeef" {
		t.Fatalf("expected a shard_id ref to resolve to itself without touching the database, got %q", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expected no queries for a raw shard_id ref: %v", err)
	}
}

func TestPostgresRegistry_ResolveByName(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT current_shard_id FROM registry_artifacts WHERE name = \$1`).
		WithArgs("tourniquet-guide").
		WillReturnRows(sqlmock.NewRows([]string{"current_shard_id"}).AddRow("shard_blake3_abc123"))

	r := NewPostgresRegistry(db)
	got, err := r.Resolve(context.Background(), "tourniquet-guide")
	if err != nil {
		t.Fatal(err)
	}
	if got != "shard_blake3_abc123" {
		t.Fatalf("got %q, want shard_blake3_abc123", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPostgresRegistry_AddArtifact_RejectsDuplicate(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM registry_artifacts WHERE name = \$1`).
		WithArgs("tourniquet-guide").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	r := NewPostgresRegistry(db)
	err = r.AddArtifact(context.Background(), "tourniquet-guide", "shard_blake3_def456", "publish", nil, nil, "")
	if err == nil {
		t.Fatal("expected AddArtifact to reject a name that already exists")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
