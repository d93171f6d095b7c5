/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package store

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"os"
	"strconv"
	"time"

	"golang.org/x/image/draw"

	"photokeep/internal/domain"
)

// EnvThumbsMaxBytes caps the on-disk thumbnail cache; least recently used
// entries are evicted past the cap. Defaults to 256MB.
const EnvThumbsMaxBytes = "PK_THUMBS_MAX_BYTES"

const defaultThumbsMaxBytes = 256 * 1024 * 1024

func ensureThumbsSchema(ctx context.Context, db *sql.DB) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS thumbs (
			id          INTEGER PRIMARY KEY,
			photo_id    INTEGER NOT NULL,
			w           INTEGER NOT NULL,
			h           INTEGER NOT NULL,
			blob        BLOB    NOT NULL,
			size        INTEGER NOT NULL,
			updated_at  TEXT    NOT NULL,
			last_access TEXT
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_thumbs_variant ON thumbs(photo_id, w, h);`,
		`CREATE INDEX IF NOT EXISTS idx_thumbs_access ON thumbs(last_access);`,
	}
	for _, q := range ddl {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure thumbs schema: %w", err)
		}
	}
	return nil
}

// Thumbnail returns a PNG thumbnail of the photo's asset fitting within
// maxW x maxH, generating and caching it on first use. The cache lives in
// the metadata database and is bounded by EnvThumbsMaxBytes.
func (s *Store) Thumbnail(ctx context.Context, photoID int64, maxW, maxH int) ([]byte, error) {
	release, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	if maxW <= 0 || maxH <= 0 {
		return nil, fmt.Errorf("thumbnail size %dx%d: %w", maxW, maxH, domain.ErrValidation)
	}
	if b, err := s.getThumb(ctx, photoID, maxW, maxH); err != nil {
		return nil, err
	} else if b != nil {
		return b, nil
	}

	var assetID string
	err = s.db.QueryRowContext(ctx, `SELECT asset_id FROM photos WHERE id=?`, photoID).Scan(&assetID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("photo %d: %w", photoID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read photo for thumbnail: %w", err)
	}
	content, err := s.blobs.Get(assetID)
	if err != nil {
		return nil, err
	}
	data, err := renderThumb(content, maxW, maxH)
	if err != nil {
		return nil, err
	}
	if err := s.putThumb(ctx, photoID, maxW, maxH, data); err != nil {
		return nil, err
	}
	return data, nil
}

func (s *Store) getThumb(ctx context.Context, photoID int64, w, h int) ([]byte, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT blob FROM thumbs WHERE photo_id=? AND w=? AND h=?`, photoID, w, h).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query thumb: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, _ = s.db.ExecContext(ctx, `UPDATE thumbs SET last_access=? WHERE photo_id=? AND w=? AND h=?`, now, photoID, w, h)
	return blob, nil
}

func (s *Store) putThumb(ctx context.Context, photoID int64, w, h int, blob []byte) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `INSERT INTO thumbs(photo_id,w,h,blob,size,updated_at,last_access)
		VALUES(?,?,?,?,?,?,?)
		ON CONFLICT(photo_id,w,h) DO UPDATE SET blob=excluded.blob, size=excluded.size, updated_at=excluded.updated_at, last_access=excluded.last_access`,
		photoID, w, h, blob, len(blob), now, now)
	if err != nil {
		return fmt.Errorf("upsert thumb: %w", err)
	}
	if capBytes := maxThumbBytesFromEnv(); capBytes > 0 {
		return evictThumbsToFit(ctx, s.db, capBytes)
	}
	return nil
}

// renderThumb decodes PNG or JPEG content, scales it to fit maxW x maxH
// preserving aspect ratio, and encodes PNG. Content that does not decode as
// an image cannot get a thumbnail.
func renderThumb(content []byte, maxW, maxH int) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	b := src.Bounds()
	sw, sh := b.Dx(), b.Dy()
	w, h := sw, sh
	if w > maxW || h > maxH {
		rw := float64(maxW) / float64(sw)
		rh := float64(maxH) / float64(sh)
		r := rw
		if rh < rw {
			r = rh
		}
		w = int(float64(sw) * r)
		h = int(float64(sh) * r)
		if w < 1 {
			w = 1
		}
		if h < 1 {
			h = 1
		}
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

// evictThumbsToFit deletes least-recently-used thumbs until the tracked
// total size fits the cap.
func evictThumbsToFit(ctx context.Context, db *sql.DB, capBytes int64) error {
	var total int64
	if err := db.QueryRowContext(ctx, `SELECT COALESCE(SUM(size),0) FROM thumbs`).Scan(&total); err != nil {
		return fmt.Errorf("sum thumb size: %w", err)
	}
	if total <= capBytes {
		return nil
	}
	rows, err := db.QueryContext(ctx, `SELECT id, size FROM thumbs ORDER BY
		CASE WHEN last_access IS NULL THEN 0 ELSE 1 END ASC, last_access ASC`)
	if err != nil {
		return fmt.Errorf("select victims: %w", err)
	}
	var victims []int64
	cur := total
	for rows.Next() {
		var id, sz int64
		if err := rows.Scan(&id, &sz); err != nil {
			_ = rows.Close()
			return err
		}
		victims = append(victims, id)
		cur -= sz
		if cur <= capBytes {
			break
		}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	// Close the cursor before writing; the store runs on one connection.
	if err := rows.Close(); err != nil {
		return err
	}
	for _, id := range victims {
		if _, err := db.ExecContext(ctx, `DELETE FROM thumbs WHERE id=?`, id); err != nil {
			return fmt.Errorf("evict thumb %d: %w", id, err)
		}
	}
	return nil
}

func maxThumbBytesFromEnv() int64 {
	v := os.Getenv(EnvThumbsMaxBytes)
	if v == "" {
		return defaultThumbsMaxBytes
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return defaultThumbsMaxBytes
	}
	return n
}
