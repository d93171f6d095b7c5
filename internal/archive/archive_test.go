package archive

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"photokeep/internal/domain"
)

func sampleState() ([]domain.Project, []domain.Photo, map[string][]byte) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	projects := []domain.Project{
		{ID: 1, Name: "Vacation", Description: "Italy", CreatedAt: now},
		{ID: 2, Name: "Family", CreatedAt: now},
	}
	photos := []domain.Photo{
		{ID: 1, ProjectID: 1, AssetID: "asset-a", OriginalDate: now, Caption: "Rome", CreatedAt: now},
		{ID: 2, ProjectID: 1, AssetID: "asset-b", OriginalDate: now.AddDate(0, 0, 1), CreatedAt: now},
		{ID: 3, ProjectID: 2, AssetID: "asset-a", OriginalDate: now, Caption: "shared asset", CreatedAt: now},
	}
	blobs := map[string][]byte{
		"asset-a": []byte("jpeg bytes a"),
		"asset-b": []byte("jpeg bytes b"),
	}
	return projects, photos, blobs
}

func writeSample(t *testing.T) []byte {
	t.Helper()
	projects, photos, blobs := sampleState()
	var buf bytes.Buffer
	err := Write(&buf, projects, photos, func(id string) ([]byte, error) {
		return blobs[id], nil
	})
	if err != nil {
		t.Fatalf("write archive: %v", err)
	}
	return buf.Bytes()
}

func TestWriteParseRoundTrip(t *testing.T) {
	data := writeSample(t)

	cand, err := Parse(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(cand.Projects) != 2 || len(cand.Photos) != 3 {
		t.Fatalf("record counts wrong: %d projects, %d photos", len(cand.Projects), len(cand.Photos))
	}
	if len(cand.Blobs) != 2 {
		t.Fatalf("expected 2 distinct payloads, got %d", len(cand.Blobs))
	}
	if string(cand.Blobs["asset-a"]) != "jpeg bytes a" {
		t.Fatalf("payload content mismatch")
	}
	if cand.Photos[0].Caption != "Rome" || !cand.Photos[0].OriginalDate.Equal(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("photo fields lost: %+v", cand.Photos[0])
	}
}

func TestWriteDeduplicatesSharedAssets(t *testing.T) {
	data := writeSample(t)
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	count := map[string]int{}
	for _, f := range zr.File {
		count[f.Name]++
	}
	if count[BlobsPrefix+"asset-a"] != 1 {
		t.Fatalf("shared asset written %d times", count[BlobsPrefix+"asset-a"])
	}
	if count[ManifestName] != 1 {
		t.Fatalf("manifest entries: %d", count[ManifestName])
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, err := Parse([]byte("this is not a zip")); !errors.Is(err, domain.ErrCorruptArchive) {
		t.Fatalf("expected ErrCorruptArchive, got %v", err)
	}
}

func TestParseRejectsMissingManifest(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, _ := zw.Create(BlobsPrefix + "asset-a")
	_, _ = w.Write([]byte("x"))
	_ = zw.Close()

	if _, err := Parse(buf.Bytes()); !errors.Is(err, domain.ErrCorruptArchive) {
		t.Fatalf("expected ErrCorruptArchive, got %v", err)
	}
}

func rebuildWithManifest(t *testing.T, data []byte, mutate func(m *Manifest), dropPayload string) []byte {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open entry: %v", err)
		}
		var content bytes.Buffer
		_, _ = content.ReadFrom(rc)
		_ = rc.Close()

		if f.Name == ManifestName && mutate != nil {
			var m Manifest
			if err := json.Unmarshal(content.Bytes(), &m); err != nil {
				t.Fatalf("decode manifest: %v", err)
			}
			mutate(&m)
			b, err := json.Marshal(m)
			if err != nil {
				t.Fatalf("encode manifest: %v", err)
			}
			content = *bytes.NewBuffer(b)
		}
		if dropPayload != "" && f.Name == BlobsPrefix+dropPayload {
			continue
		}
		w, err := zw.Create(f.Name)
		if err != nil {
			t.Fatalf("create entry: %v", err)
		}
		_, _ = w.Write(content.Bytes())
	}
	_ = zw.Close()
	return buf.Bytes()
}

func TestParseRejectsUnknownFormatVersion(t *testing.T) {
	data := rebuildWithManifest(t, writeSample(t), func(m *Manifest) { m.FormatVersion = 99 }, "")
	if _, err := Parse(data); !errors.Is(err, domain.ErrCorruptArchive) {
		t.Fatalf("expected ErrCorruptArchive, got %v", err)
	}
}

func TestParseRejectsMissingPayload(t *testing.T) {
	data := rebuildWithManifest(t, writeSample(t), nil, "asset-b")
	if _, err := Parse(data); !errors.Is(err, domain.ErrCorruptArchive) {
		t.Fatalf("expected ErrCorruptArchive, got %v", err)
	}
}

func TestParseRejectsDanglingProjectReference(t *testing.T) {
	data := rebuildWithManifest(t, writeSample(t), func(m *Manifest) {
		m.Photos[0].ProjectID = 777
	}, "")
	if _, err := Parse(data); !errors.Is(err, domain.ErrCorruptArchive) {
		t.Fatalf("expected ErrCorruptArchive, got %v", err)
	}
}

func TestParseRejectsDuplicateIDs(t *testing.T) {
	data := rebuildWithManifest(t, writeSample(t), func(m *Manifest) {
		m.Projects[1].ID = m.Projects[0].ID
	}, "")
	if _, err := Parse(data); !errors.Is(err, domain.ErrCorruptArchive) {
		t.Fatalf("expected ErrCorruptArchive, got %v", err)
	}
}

func TestParseToleratesOrphanPayload(t *testing.T) {
	data := writeSample(t)
	zr, _ := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range zr.File {
		rc, _ := f.Open()
		w, _ := zw.Create(f.Name)
		var content bytes.Buffer
		_, _ = content.ReadFrom(rc)
		_ = rc.Close()
		_, _ = w.Write(content.Bytes())
	}
	// A payload no photo references.
	w, _ := zw.Create(BlobsPrefix + "asset-orphan")
	_, _ = w.Write([]byte("unreferenced"))
	_ = zw.Close()

	cand, err := Parse(buf.Bytes())
	if err != nil {
		t.Fatalf("orphan payload must be tolerated: %v", err)
	}
	if _, ok := cand.Blobs["asset-orphan"]; ok {
		t.Fatalf("orphan payload leaked into candidate")
	}
}

func TestParseRejectsSchemaViolation(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, _ := zw.Create(ManifestName)
	// projects must be an array
	_, _ = w.Write([]byte(`{"format_version":1,"exported_at":"2024-05-01T00:00:00Z","projects":{},"photos":[]}`))
	_ = zw.Close()

	if _, err := Parse(buf.Bytes()); !errors.Is(err, domain.ErrCorruptArchive) {
		t.Fatalf("expected ErrCorruptArchive, got %v", err)
	}
}
