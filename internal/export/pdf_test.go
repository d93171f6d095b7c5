package export

import (
	"bytes"
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
			img.Set(x, y, color.RGBA{200, uint8(x), uint8(y), 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestWriteContactSheetProducesPDF(t *testing.T) {
	project := domain.Project{ID: 1, Name: "Road Trip", CreatedAt: time.Now()}
	photos := []domain.Photo{
		{ID: 1, ProjectID: 1, AssetID: "a", OriginalDate: time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC), Caption: "start"},
		{ID: 2, ProjectID: 1, AssetID: "b", OriginalDate: time.Date(2023, 6, 2, 0, 0, 0, 0, time.UTC)},
	}
	blobs := map[string][]byte{
		"a": testPNG(t, 40, 30),
		"b": testPNG(t, 30, 40),
	}

	var out bytes.Buffer
	err := WriteContactSheet(&out, project, photos, func(id string) ([]byte, error) {
		return blobs[id], nil
	}, ContactSheetOptions{})
	if err != nil {
		t.Fatalf("write contact sheet: %v", err)
	}
	if !bytes.HasPrefix(out.Bytes(), []byte("%PDF")) {
		t.Fatalf("output is not a PDF")
	}
	if out.Len() < 500 {
		t.Fatalf("suspiciously small PDF: %d bytes", out.Len())
	}
}

func TestWriteContactSheetSkipsUndecodableContent(t *testing.T) {
	project := domain.Project{ID: 1, Name: "Mixed"}
	photos := []domain.Photo{
		{ID: 1, ProjectID: 1, AssetID: "bad", OriginalDate: time.Now(), Caption: "broken file"},
	}
	var out bytes.Buffer
	err := WriteContactSheet(&out, project, photos, func(string) ([]byte, error) {
		return []byte("not an image"), nil
	}, ContactSheetOptions{Columns: 2})
	if err != nil {
		t.Fatalf("undecodable content must not fail the sheet: %v", err)
	}
	if !bytes.HasPrefix(out.Bytes(), []byte("%PDF")) {
		t.Fatalf("output is not a PDF")
	}
}
