/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package export renders human-facing artifacts out of the store. Only the
// PDF contact sheet lives here; the portable archive has its own package.
package export

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"time"

	"github.com/jung-kurt/gofpdf"

	"photokeep/internal/domain"
)

// ContactSheetOptions controls the grid layout.
// Units are points (pt); page format is A4 portrait.
type ContactSheetOptions struct {
	Columns int // cells per row, default 4
	Margin  float64
	Gutter  float64
}

// WriteContactSheet renders the project's photos as a captioned thumbnail
// grid PDF. Content is looked up per photo through getContent; photos whose
// content cannot be read or decoded get an empty cell with the caption only.
func WriteContactSheet(w io.Writer, project domain.Project, photos []domain.Photo, getContent func(assetID string) ([]byte, error), opt ContactSheetOptions) error {
	cols := opt.Columns
	if cols <= 0 {
		cols = 4
	}
	margin := opt.Margin
	if margin <= 0 {
		margin = 36
	}
	gutter := opt.Gutter
	if gutter <= 0 {
		gutter = 12
	}

	pdf := gofpdf.New("P", "pt", "A4", "")
	pdf.SetTitle(fmt.Sprintf("%s — contact sheet", project.Name), true)
	pdf.SetAuthor("PhotoKeep", false)
	// Built-in Helvetica keeps text vector without embedding.
	pdf.SetFont("Helvetica", "", 8)

	pageW, pageH := pdf.GetPageSize()
	cellW := (pageW - 2*margin - float64(cols-1)*gutter) / float64(cols)
	imgH := cellW
	captionH := 14.0
	cellH := imgH + captionH

	header := func() {
		pdf.AddPage()
		pdf.SetFont("Helvetica", "B", 12)
		pdf.SetXY(margin, margin-20)
		pdf.CellFormat(pageW-2*margin, 14, project.Name, "", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 8)
	}
	header()

	x, y := margin, margin
	for i, ph := range photos {
		if i > 0 && i%cols == 0 {
			x = margin
			y += cellH + gutter
			if y+cellH > pageH-margin {
				header()
				y = margin
			}
		}

		if content, err := getContent(ph.AssetID); err == nil {
			placeImage(pdf, ph.AssetID, content, x, y, cellW, imgH)
		}
		pdf.Rect(x, y, cellW, imgH, "D")

		label := ph.Caption
		if label == "" {
			label = ph.OriginalDate.Format("2006-01-02")
		} else {
			label = fmt.Sprintf("%s  %s", ph.OriginalDate.Format("2006-01-02"), label)
		}
		pdf.SetXY(x, y+imgH)
		pdf.CellFormat(cellW, captionH, label, "", 0, "L", false, 0, "")

		x += cellW + gutter
	}

	pdf.SetXY(margin, pageH-margin+6)
	pdf.SetFont("Helvetica", "I", 7)
	pdf.CellFormat(pageW-2*margin, 10,
		fmt.Sprintf("%d photos, generated %s", len(photos), time.Now().UTC().Format("2006-01-02 15:04 UTC")),
		"", 0, "R", false, 0, "")

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("write contact sheet: %w", err)
	}
	return nil
}

// placeImage registers content under a unique name and draws it centered
// into the cell, preserving aspect ratio. Undecodable content is skipped.
func placeImage(pdf *gofpdf.Fpdf, name string, content []byte, x, y, w, h float64) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(content))
	if err != nil || cfg.Width == 0 || cfg.Height == 0 {
		return
	}
	opt := gofpdf.ImageOptions{ImageType: format, ReadDpi: false}
	info := pdf.RegisterImageOptionsReader(name, opt, bytes.NewReader(content))
	if info == nil || pdf.Err() {
		// A bad image must not poison the whole document.
		pdf.ClearError()
		return
	}
	rw := w / float64(cfg.Width)
	rh := h / float64(cfg.Height)
	r := rw
	if rh < rw {
		r = rh
	}
	dw := float64(cfg.Width) * r
	dh := float64(cfg.Height) * r
	pdf.ImageOptions(name, x+(w-dw)/2, y+(h-dh)/2, dw, dh, false, opt, 0, "")
}
