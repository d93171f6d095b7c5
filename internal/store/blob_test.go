package store

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"photokeep/internal/domain"
)

func TestBlobPutGetRoundTrip(t *testing.T) {
	b := &BlobStore{Dir: t.TempDir()}
	content := []byte{0xff, 0xd8, 0xff, 0x00, 0x01}

	id, err := b.Put(content)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if id == "" {
		t.Fatalf("empty asset id")
	}
	got, err := b.Get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("content mismatch")
	}
}

func TestBlobPutAssignsDistinctIDs(t *testing.T) {
	b := &BlobStore{Dir: t.TempDir()}
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		id, err := b.Put([]byte("same content"))
		if err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}

func TestBlobGetMissing(t *testing.T) {
	b := &BlobStore{Dir: t.TempDir()}
	if _, err := b.Get("nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBlobDeleteIdempotent(t *testing.T) {
	b := &BlobStore{Dir: t.TempDir()}
	id, err := b.Put([]byte("bytes"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := b.Delete(id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := b.Delete(id); err != nil {
		t.Fatalf("second delete must be a no-op: %v", err)
	}
	if _, err := b.Get(id); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("deleted blob still readable: %v", err)
	}
}

func TestBlobRejectsPathEscapes(t *testing.T) {
	b := &BlobStore{Dir: t.TempDir()}
	for _, id := range []string{"", ".", "..", "a/b", `a\b`, "../../etc/passwd"} {
		if err := b.PutWithID(id, []byte("x")); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("id %q accepted: %v", id, err)
		}
		if _, err := b.Get(id); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("get with id %q accepted: %v", id, err)
		}
	}
}

func TestBlobListSkipsTempFiles(t *testing.T) {
	dir := t.TempDir()
	b := &BlobStore{Dir: dir}
	if err := b.PutWithID("asset-1", []byte("x")); err != nil {
		t.Fatalf("put: %v", err)
	}
	// A leftover temp file from an interrupted write must not show up.
	if err := os.WriteFile(filepath.Join(dir, "asset-2.tmp"), []byte("partial"), 0o644); err != nil {
		t.Fatalf("write temp: %v", err)
	}
	ids, err := b.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 1 || ids[0] != "asset-1" {
		t.Fatalf("unexpected listing: %v", ids)
	}
}
