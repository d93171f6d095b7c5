package store

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"photokeep/internal/domain"
)

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x % 256), uint8(y % 256), 128, 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode test png: %v", err)
	}
	return buf.Bytes()
}

func addTestPhoto(t *testing.T, s *Store, content []byte) domain.Photo {
	t.Helper()
	ctx := context.Background()
	p, err := s.CreateProject(ctx, "thumbs", "")
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	assetID, err := s.Blobs().Put(content)
	if err != nil {
		t.Fatalf("put blob: %v", err)
	}
	ph, err := s.CreatePhoto(ctx, p.ID, assetID, time.Now(), "")
	if err != nil {
		t.Fatalf("create photo: %v", err)
	}
	return ph
}

func TestThumbnailScalesDownPreservingAspect(t *testing.T) {
	s := newTestStore(t)
	ph := addTestPhoto(t, s, testPNG(t, 200, 100))

	data, err := s.Thumbnail(context.Background(), ph.ID, 50, 50)
	if err != nil {
		t.Fatalf("thumbnail: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode thumbnail: %v", err)
	}
	b := img.Bounds()
	if b.Dx() != 50 || b.Dy() != 25 {
		t.Fatalf("unexpected thumbnail size %dx%d", b.Dx(), b.Dy())
	}
}

func TestThumbnailSmallImageNotUpscaled(t *testing.T) {
	s := newTestStore(t)
	ph := addTestPhoto(t, s, testPNG(t, 10, 8))

	data, err := s.Thumbnail(context.Background(), ph.ID, 100, 100)
	if err != nil {
		t.Fatalf("thumbnail: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if img.Bounds().Dx() != 10 || img.Bounds().Dy() != 8 {
		t.Fatalf("small image was rescaled to %v", img.Bounds())
	}
}

func TestThumbnailCachedAcrossCalls(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ph := addTestPhoto(t, s, testPNG(t, 64, 64))

	first, err := s.Thumbnail(ctx, ph.ID, 32, 32)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	// Remove the source blob; a second call must come from the cache.
	if err := s.Blobs().Delete(ph.AssetID); err != nil {
		t.Fatalf("delete blob: %v", err)
	}
	second, err := s.Thumbnail(ctx, ph.ID, 32, 32)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("cache returned different bytes")
	}
}

func TestThumbnailValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.Thumbnail(ctx, 1, 0, 50); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if _, err := s.Thumbnail(ctx, 12345, 50, 50); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestThumbnailCacheEviction(t *testing.T) {
	// Cap so small every new entry evicts the previous one.
	t.Setenv(EnvThumbsMaxBytes, "1")
	s := newTestStore(t)
	ctx := context.Background()
	ph := addTestPhoto(t, s, testPNG(t, 64, 64))

	if _, err := s.Thumbnail(ctx, ph.ID, 16, 16); err != nil {
		t.Fatalf("thumbnail 16: %v", err)
	}
	if _, err := s.Thumbnail(ctx, ph.ID, 24, 24); err != nil {
		t.Fatalf("thumbnail 24: %v", err)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM thumbs`).Scan(&n); err != nil {
		t.Fatalf("count thumbs: %v", err)
	}
	if n > 1 {
		t.Fatalf("eviction did not run, %d cached entries", n)
	}
}
