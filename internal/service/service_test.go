package service

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"photokeep/internal/domain"
	"photokeep/internal/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return New(st)
}

func TestAddPhotoRejectsEmptyContent(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	p, err := svc.CreateProject(ctx, "p", "")
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	if _, err := svc.AddPhoto(ctx, p.ID, nil, time.Now(), ""); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestAddPhotoStoresBlobAndRecordTogether(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	p, err := svc.CreateProject(ctx, "p", "")
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	content := []byte("image bytes")
	ph, err := svc.AddPhoto(ctx, p.ID, content, time.Date(2023, 7, 1, 0, 0, 0, 0, time.UTC), "lake")
	if err != nil {
		t.Fatalf("add photo: %v", err)
	}
	got, err := svc.PhotoContent(ctx, ph.ID)
	if err != nil {
		t.Fatalf("photo content: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("content mismatch")
	}
}

func TestAddPhotoToMissingProjectLeavesNoBlob(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	if _, err := svc.AddPhoto(ctx, 404, []byte("bytes"), time.Now(), ""); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	ids, err := svc.Store().Blobs().List()
	if err != nil {
		t.Fatalf("list blobs: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("orphan blob left behind: %v", ids)
	}
}

func TestDeletePhotoRemovesBlob(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	p, _ := svc.CreateProject(ctx, "p", "")
	ph, err := svc.AddPhoto(ctx, p.ID, []byte("bytes"), time.Now(), "")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := svc.DeletePhoto(ctx, ph.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.Store().Blobs().Get(ph.AssetID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("blob survived photo delete: %v", err)
	}
}

func TestDeleteProjectRemovesAllBlobs(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	p, _ := svc.CreateProject(ctx, "p", "")
	for i := 0; i < 3; i++ {
		if _, err := svc.AddPhoto(ctx, p.ID, []byte{byte(i + 1)}, time.Now(), ""); err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
	}
	if err := svc.DeleteProject(ctx, p.ID); err != nil {
		t.Fatalf("delete project: %v", err)
	}
	ids, err := svc.Store().Blobs().List()
	if err != nil {
		t.Fatalf("list blobs: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("blobs survived project delete: %v", ids)
	}
}

func TestAddPhotoDuringRestoreRejectedWithoutBlob(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	p, err := svc.CreateProject(ctx, "p", "")
	if err != nil {
		t.Fatalf("create project: %v", err)
	}

	st := svc.Store()
	if err := st.BeginRestore(); err != nil {
		t.Fatalf("begin restore: %v", err)
	}
	if _, err := svc.AddPhoto(ctx, p.ID, []byte("bytes"), time.Now(), ""); !errors.Is(err, domain.ErrStoreBusy) {
		t.Fatalf("expected ErrStoreBusy, got %v", err)
	}
	ids, err := st.Blobs().List()
	if err != nil {
		t.Fatalf("list blobs: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("rejected write left a blob behind: %v", ids)
	}
	st.EndRestore()

	if _, err := svc.AddPhoto(ctx, p.ID, []byte("bytes"), time.Now(), ""); err != nil {
		t.Fatalf("add after restore ended: %v", err)
	}
}

func TestAddPhotoRacingRestoreKeepsBlobsReachable(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	p, err := svc.CreateProject(ctx, "race", "")
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	var buf bytes.Buffer
	if err := svc.Export(ctx, &buf); err != nil {
		t.Fatalf("export: %v", err)
	}
	arch := buf.Bytes()

	// Hammer writes while restores swap generations underneath. Every
	// write must either land whole in the live generation or be rejected;
	// a visible photo whose blob is missing means a write was torn.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			_, err := svc.AddPhoto(ctx, p.ID, []byte("racer"), time.Now(), "")
			if err != nil && !errors.Is(err, domain.ErrStoreBusy) {
				t.Errorf("add photo: %v", err)
				return
			}
		}
	}()
	for i := 0; i < 20; i++ {
		if err := svc.Import(ctx, bytes.NewReader(arch)); err != nil {
			t.Fatalf("import %d: %v", i, err)
		}
	}
	<-done

	phs, err := svc.ListPhotos(ctx, p.ID, domain.NewestFirst)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, ph := range phs {
		if _, err := svc.PhotoContent(ctx, ph.ID); err != nil {
			t.Fatalf("photo %d is visible but its content is unreadable: %v", ph.ID, err)
		}
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	p, _ := svc.CreateProject(ctx, "memories", "2023 highlights")
	date := time.Date(2023, 8, 15, 14, 30, 0, 0, time.UTC)
	ph, err := svc.AddPhoto(ctx, p.ID, []byte("original bytes"), date, "mountains")
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	var buf bytes.Buffer
	if err := svc.Export(ctx, &buf); err != nil {
		t.Fatalf("export: %v", err)
	}

	// Destroy the state, then restore it from the archive.
	if err := svc.DeleteProject(ctx, p.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := svc.Import(ctx, bytes.NewReader(buf.Bytes())); err != nil {
		t.Fatalf("import: %v", err)
	}

	got, err := svc.GetProject(ctx, p.ID)
	if err != nil {
		t.Fatalf("project not resurrected: %v", err)
	}
	if got.Name != "memories" || got.Description != "2023 highlights" {
		t.Fatalf("project fields lost: %+v", got)
	}
	gph, err := svc.GetPhoto(ctx, ph.ID)
	if err != nil {
		t.Fatalf("photo not resurrected: %v", err)
	}
	if gph.Caption != "mountains" || !gph.OriginalDate.Equal(date) || gph.AssetID != ph.AssetID {
		t.Fatalf("photo fields lost: %+v", gph)
	}
	content, err := svc.PhotoContent(ctx, ph.ID)
	if err != nil {
		t.Fatalf("content after import: %v", err)
	}
	if !bytes.Equal(content, []byte("original bytes")) {
		t.Fatalf("content mismatch after round trip")
	}
}

func TestImportCorruptArchiveLeavesStoreUntouched(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	p, _ := svc.CreateProject(ctx, "keep", "")

	err := svc.Import(ctx, bytes.NewReader([]byte("junk")))
	if !errors.Is(err, domain.ErrCorruptArchive) {
		t.Fatalf("expected ErrCorruptArchive, got %v", err)
	}
	if _, err := svc.GetProject(ctx, p.ID); err != nil {
		t.Fatalf("store damaged by rejected import: %v", err)
	}
	if got := svc.Store().Generation(); got != "gen-000001" {
		t.Fatalf("generation changed: %q", got)
	}
}

func TestExportIsPointInTime(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	p, _ := svc.CreateProject(ctx, "snapshot", "")
	if _, err := svc.AddPhoto(ctx, p.ID, []byte("a"), time.Now(), ""); err != nil {
		t.Fatalf("add: %v", err)
	}

	var buf bytes.Buffer
	if err := svc.Export(ctx, &buf); err != nil {
		t.Fatalf("export: %v", err)
	}
	// A later write must not appear in the already-produced archive.
	if _, err := svc.AddPhoto(ctx, p.ID, []byte("b"), time.Now(), "later"); err != nil {
		t.Fatalf("add after export: %v", err)
	}
	if err := svc.Import(ctx, bytes.NewReader(buf.Bytes())); err != nil {
		t.Fatalf("import: %v", err)
	}
	phs, err := svc.ListPhotos(ctx, p.ID, domain.NewestFirst)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(phs) != 1 {
		t.Fatalf("archive captured %d photos, want 1", len(phs))
	}
}

func TestSearchThroughService(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	p, _ := svc.CreateProject(ctx, "p", "")
	if _, err := svc.AddPhoto(ctx, p.ID, []byte("x"), time.Now(), "golden gate bridge"); err != nil {
		t.Fatalf("add: %v", err)
	}
	hits, err := svc.SearchCaptions(ctx, "bridge", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
}
