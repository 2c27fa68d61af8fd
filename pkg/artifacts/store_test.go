package artifacts

import (
	"context"
	"testing"
)

func TestFileStore_StoreGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	hash, err := store.Store(ctx, []byte("bundle bytes"))
	if err != nil {
		t.Fatal(err)
	}

	ok, err := store.Exists(ctx, hash)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected bundle to exist after Store")
	}

	got, err := store.Get(ctx, hash)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "bundle bytes" {
		t.Fatalf("got %q, want %q", got, "bundle bytes")
	}
}

func TestFileStore_StoreIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	hash1, err := store.Store(ctx, []byte("same bytes"))
	if err != nil {
		t.Fatal(err)
	}
	hash2, err := store.Store(ctx, []byte("same bytes"))
	if err != nil {
		t.Fatal(err)
	}
	if hash1 != hash2 {
		t.Fatalf("expected identical content to hash identically, got %q and %q", hash1, hash2)
	}
}

func TestFileStore_GetMissingBundle(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get(context.Background(), "sha256:"+"00"+"0000000000000000000000000000000000000000000000000000000000"); err == nil {
		t.Fatal("expected an error for a bundle that was never stored")
	}
}

func TestFileStore_DeleteThenExists(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	hash, err := store.Store(ctx, []byte("to be deleted"))
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(ctx, hash); err != nil {
		t.Fatal(err)
	}
	ok, err := store.Exists(ctx, hash)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected bundle to be gone after Delete")
	}
}

func TestBundleHash_RejectsMalformedHash(t *testing.T) {
	cases := []string{"not-a-hash", "sha256:zz", ""}
	for _, c := range cases {
		if _, err := bundleHash(c); err == nil {
			t.Fatalf("expected bundleHash(%q) to error", c)
		}
	}
}
