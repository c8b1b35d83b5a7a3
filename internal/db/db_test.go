package db

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/uptrace/bun"
)

func openTestDB(t *testing.T) *bun.DB {
	t.Helper()
	dir := t.TempDir()
	sqldb, dialect, err := ConnectDB("", dir)
	if err != nil {
		t.Fatal(err)
	}
	db := NewDB(sqldb, dialect, false)
	t.Cleanup(func() { db.Close() })
	if err := InitDB(context.Background(), db); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, CacheFile)); err != nil {
		t.Fatalf("cache file not created: %v", err)
	}
	return db
}

func TestStoreAndLookupEmbeddings(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	vectors := map[string][]float32{
		"h1": {0.1, 0.2, 0.3},
		"h2": {-1, 0, 1},
	}
	if err := StoreEmbeddings(ctx, db, "m", vectors); err != nil {
		t.Fatal(err)
	}

	got, err := LookupEmbeddings(ctx, db, "m", []string{"h1", "h2", "h3"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("found %d vectors, want 2", len(got))
	}
	for hash, want := range vectors {
		vec := got[hash]
		if len(vec) != len(want) {
			t.Fatalf("%s: len %d", hash, len(vec))
		}
		for i := range want {
			if vec[i] != want[i] {
				t.Errorf("%s[%d] = %v, want %v", hash, i, vec[i], want[i])
			}
		}
	}

	other, err := LookupEmbeddings(ctx, db, "other-model", []string{"h1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(other) != 0 {
		t.Errorf("vectors leaked across models: %v", other)
	}
}

func TestStoreEmbeddingsKeepsExisting(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	if err := StoreEmbeddings(ctx, db, "m", map[string][]float32{"h": {1, 2}}); err != nil {
		t.Fatal(err)
	}
	if err := StoreEmbeddings(ctx, db, "m", map[string][]float32{"h": {3, 4}}); err != nil {
		t.Fatal(err)
	}
	got, err := LookupEmbeddings(ctx, db, "m", []string{"h"})
	if err != nil {
		t.Fatal(err)
	}
	if v := got["h"]; len(v) != 2 || v[0] != 1 {
		t.Errorf("got %v, want the first stored vector", v)
	}
	n, err := CountEmbeddings(ctx, db, "m")
	if err != nil || n != 1 {
		t.Errorf("count = %d, err = %v", n, err)
	}
}

func TestLookupEmbeddingsBatches(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	vectors := make(map[string][]float32)
	var hashes []string
	for i := 0; i < lookupBatch+25; i++ {
		h := string(rune('a'+i%26)) + string(rune('0'+i/26%10)) + string(rune('A'+i/260))
		vectors[h] = []float32{float32(i)}
		hashes = append(hashes, h)
	}
	if err := StoreEmbeddings(ctx, db, "m", vectors); err != nil {
		t.Fatal(err)
	}
	got, err := LookupEmbeddings(ctx, db, "m", hashes)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(vectors) {
		t.Errorf("found %d, want %d", len(got), len(vectors))
	}
}

func TestDropEmbeddings(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	if err := DropEmbeddings(ctx, db); err != nil {
		t.Fatal(err)
	}
	if _, err := CountEmbeddings(ctx, db, "m"); err == nil {
		t.Error("expected an error after dropping the table")
	}
}

func TestClearEmbeddings(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	if err := StoreEmbeddings(ctx, db, "m", map[string][]float32{"h1": {1}, "h2": {2}}); err != nil {
		t.Fatal(err)
	}
	if err := StoreEmbeddings(ctx, db, "other", map[string][]float32{"h1": {3}}); err != nil {
		t.Fatal(err)
	}
	if n, err := CountEmbeddings(ctx, db, ""); err != nil || n != 3 {
		t.Fatalf("count all = %d, err = %v", n, err)
	}

	removed, err := ClearEmbeddings(ctx, db)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 3 {
		t.Errorf("removed = %d, want 3", removed)
	}
	if n, err := CountEmbeddings(ctx, db, ""); err != nil || n != 0 {
		t.Errorf("count after clear = %d, err = %v", n, err)
	}
	// the table is usable again
	if err := StoreEmbeddings(ctx, db, "m", map[string][]float32{"h3": {4}}); err != nil {
		t.Fatal(err)
	}
}
