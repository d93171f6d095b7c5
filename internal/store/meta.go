/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"photokeep/internal/domain"
	"photokeep/internal/version"
)

// language=SQL
// dialect=SQLite
const insertProjectSQL = `INSERT INTO projects(name, description, created_at) VALUES (?, ?, ?)`

// language=SQL
// dialect=SQLite
const listProjectsSQL = `SELECT id, name, description, created_at FROM projects ORDER BY created_at DESC, id ASC`

// language=SQL
// dialect=SQLite
const insertPhotoSQL = `INSERT INTO photos(project_id, asset_id, original_date, caption, created_at) VALUES (?, ?, ?, ?, ?)`

// ensureMetaSchema creates the metadata tables, the caption FTS index and
// the single-row version record if they do not exist.
func ensureMetaSchema(ctx context.Context, db *sql.DB) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS version (
			id          INTEGER PRIMARY KEY CHECK(id=1),
			schema      INTEGER NOT NULL,
			app         TEXT,
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		);`,

		// AUTOINCREMENT keeps ids monotonic and never reused, also across
		// deletes.
		`CREATE TABLE IF NOT EXISTS projects (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			name        TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			created_at  TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS photos (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			project_id    INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			asset_id      TEXT    NOT NULL,
			original_date TEXT    NOT NULL,
			caption       TEXT    NOT NULL DEFAULT '',
			created_at    TEXT    NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_photos_project_date ON photos(project_id, original_date);`,
		`CREATE INDEX IF NOT EXISTS idx_photos_asset ON photos(asset_id);`,

		// FTS5 index over captions, kept in sync by triggers.
		`CREATE VIRTUAL TABLE IF NOT EXISTS fts_captions USING fts5(
			caption,
			tokenize = 'unicode61'
		);`,
	}
	for _, q := range ddl {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure meta schema: %w", err)
		}
	}
	triggers := []string{
		`CREATE TRIGGER IF NOT EXISTS photos_ai AFTER INSERT ON photos BEGIN
			INSERT INTO fts_captions(rowid, caption) VALUES (new.id, new.caption);
		END;`,
		`CREATE TRIGGER IF NOT EXISTS photos_ad AFTER DELETE ON photos BEGIN
			DELETE FROM fts_captions WHERE rowid = old.id;
		END;`,
		`CREATE TRIGGER IF NOT EXISTS photos_au AFTER UPDATE OF caption ON photos BEGIN
			DELETE FROM fts_captions WHERE rowid = old.id;
			INSERT INTO fts_captions(rowid, caption) VALUES (new.id, new.caption);
		END;`,
	}
	for _, q := range triggers {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure fts triggers: %w", err)
		}
	}
	if err := ensureThumbsSchema(ctx, db); err != nil {
		return err
	}
	return seedVersionRow(ctx, db)
}

func seedVersionRow(ctx context.Context, db *sql.DB) error {
	now := time.Now().UTC().Format(time.RFC3339)
	appv := version.String()
	var curSchema int
	err := db.QueryRowContext(ctx, `SELECT schema FROM version WHERE id=1`).Scan(&curSchema)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := db.ExecContext(ctx, `INSERT INTO version (id, schema, app, created_at, updated_at) VALUES(1, ?, ?, ?, ?)`, schemaVersion, appv, now, now); err != nil {
			return fmt.Errorf("insert version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read version: %w", err)
	default:
		if _, err := db.ExecContext(ctx, `UPDATE version SET app=?, updated_at=? WHERE id=1`, appv, now); err != nil {
			return fmt.Errorf("update version: %w", err)
		}
	}
	return nil
}

// CreateProject inserts a new project. The name must be non-empty.
func (s *Store) CreateProject(ctx context.Context, name, description string) (domain.Project, error) {
	release, err := s.acquire()
	if err != nil {
		return domain.Project{}, err
	}
	defer release()
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if name == "" {
		return domain.Project{}, fmt.Errorf("project name must not be empty: %w", domain.ErrValidation)
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, insertProjectSQL, name, description, fmtTime(now))
	if err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Project{}, fmt.Errorf("project id: %w", err)
	}
	return domain.Project{ID: id, Name: name, Description: description, CreatedAt: now}, nil
}

// GetProject loads one project by id.
func (s *Store) GetProject(ctx context.Context, id int64) (domain.Project, error) {
	release, err := s.acquire()
	if err != nil {
		return domain.Project{}, err
	}
	defer release()
	return getProject(ctx, s.db, id)
}

func getProject(ctx context.Context, q queryer, id int64) (domain.Project, error) {
	var p domain.Project
	var created string
	err := q.QueryRowContext(ctx, `SELECT id, name, description, created_at FROM projects WHERE id=?`, id).
		Scan(&p.ID, &p.Name, &p.Description, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Project{}, fmt.Errorf("project %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Project{}, fmt.Errorf("read project: %w", err)
	}
	p.CreatedAt = parseTime(created)
	return p, nil
}

// ListProjects returns all projects, newest first (ties id ascending).
func (s *Store) ListProjects(ctx context.Context) ([]domain.Project, error) {
	release, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	rows, err := s.db.QueryContext(ctx, listProjectsSQL)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.Project
	for rows.Next() {
		var p domain.Project
		var created string
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &created); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		p.CreatedAt = parseTime(created)
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeleteProject removes the project row and, via the FK cascade, all its
// photo rows inside one transaction, then deletes the cascaded blobs. The
// whole sequence runs under one admission so blobs and rows always belong
// to the same generation. A blob that fails to delete is logged and leaks
// disk space only, never a dangling reference.
func (s *Store) DeleteProject(ctx context.Context, id int64) error {
	release, err := s.acquire()
	if err != nil {
		return err
	}
	defer release()
	s.opMu.Lock()
	defer s.opMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if _, err := getProject(ctx, tx, id); err != nil {
		_ = tx.Rollback()
		return err
	}
	assets, err := projectAssetIDs(ctx, tx, id)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id=?`, id); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("delete project: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	for _, a := range assets {
		if err := s.blobs.Delete(a); err != nil {
			s.log.Warn("orphan blob left after project delete", slog.String("asset", a), slog.Any("err", err))
		}
	}
	return nil
}

func projectAssetIDs(ctx context.Context, q queryer, projectID int64) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT asset_id FROM photos WHERE project_id=?`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list project assets: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CreatePhoto inserts a photo record. The owning project is checked inside
// the same transaction, before anything is written.
func (s *Store) CreatePhoto(ctx context.Context, projectID int64, assetID string, originalDate time.Time, caption string) (domain.Photo, error) {
	release, err := s.acquire()
	if err != nil {
		return domain.Photo{}, err
	}
	defer release()
	s.opMu.Lock()
	defer s.opMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Photo{}, fmt.Errorf("begin tx: %w", err)
	}
	if _, err := getProject(ctx, tx, projectID); err != nil {
		_ = tx.Rollback()
		return domain.Photo{}, err
	}
	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, insertPhotoSQL, projectID, assetID, fmtTime(originalDate.UTC()), caption, fmtTime(now))
	if err != nil {
		_ = tx.Rollback()
		return domain.Photo{}, fmt.Errorf("insert photo: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		_ = tx.Rollback()
		return domain.Photo{}, fmt.Errorf("photo id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Photo{}, fmt.Errorf("commit photo: %w", err)
	}
	return domain.Photo{
		ID:           id,
		ProjectID:    projectID,
		AssetID:      assetID,
		OriginalDate: originalDate.UTC(),
		Caption:      caption,
		CreatedAt:    now,
	}, nil
}

// AddPhoto writes the content blob and the photo row under one admission:
// a restore can never slip between the two, so the row and its blob always
// end up in the same generation. Content must be non-empty and the owning
// project must exist before the blob is written.
func (s *Store) AddPhoto(ctx context.Context, projectID int64, content []byte, originalDate time.Time, caption string) (domain.Photo, error) {
	if len(content) == 0 {
		return domain.Photo{}, fmt.Errorf("photo content must not be empty: %w", domain.ErrValidation)
	}
	release, err := s.acquire()
	if err != nil {
		return domain.Photo{}, err
	}
	defer release()
	s.opMu.Lock()
	defer s.opMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Photo{}, fmt.Errorf("begin tx: %w", err)
	}
	if _, err := getProject(ctx, tx, projectID); err != nil {
		_ = tx.Rollback()
		return domain.Photo{}, err
	}
	assetID, err := s.blobs.Put(content)
	if err != nil {
		_ = tx.Rollback()
		return domain.Photo{}, err
	}
	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, insertPhotoSQL, projectID, assetID, fmtTime(originalDate.UTC()), caption, fmtTime(now))
	if err != nil {
		_ = tx.Rollback()
		s.dropBlob(assetID)
		return domain.Photo{}, fmt.Errorf("insert photo: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		_ = tx.Rollback()
		s.dropBlob(assetID)
		return domain.Photo{}, fmt.Errorf("photo id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		s.dropBlob(assetID)
		return domain.Photo{}, fmt.Errorf("commit photo: %w", err)
	}
	return domain.Photo{
		ID:           id,
		ProjectID:    projectID,
		AssetID:      assetID,
		OriginalDate: originalDate.UTC(),
		Caption:      caption,
		CreatedAt:    now,
	}, nil
}

// dropBlob removes a blob written by a mutation that failed to commit.
func (s *Store) dropBlob(assetID string) {
	if err := s.blobs.Delete(assetID); err != nil {
		s.log.Warn("orphan blob left after failed write", slog.String("asset", assetID), slog.Any("err", err))
	}
}

// GetPhoto loads one photo by id.
func (s *Store) GetPhoto(ctx context.Context, id int64) (domain.Photo, error) {
	release, err := s.acquire()
	if err != nil {
		return domain.Photo{}, err
	}
	defer release()

	var p domain.Photo
	var orig, created string
	err = s.db.QueryRowContext(ctx, `SELECT id, project_id, asset_id, original_date, caption, created_at FROM photos WHERE id=?`, id).
		Scan(&p.ID, &p.ProjectID, &p.AssetID, &orig, &p.Caption, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Photo{}, fmt.Errorf("photo %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Photo{}, fmt.Errorf("read photo: %w", err)
	}
	p.OriginalDate = parseTime(orig)
	p.CreatedAt = parseTime(created)
	return p, nil
}

// DeletePhoto removes a photo row and its blob under one admission, so both
// land in the same generation. A blob that fails to delete is logged and
// leaks disk space only.
func (s *Store) DeletePhoto(ctx context.Context, id int64) error {
	release, err := s.acquire()
	if err != nil {
		return err
	}
	defer release()
	s.opMu.Lock()
	defer s.opMu.Unlock()

	var assetID string
	err = s.db.QueryRowContext(ctx, `SELECT asset_id FROM photos WHERE id=?`, id).Scan(&assetID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("photo %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("read photo: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM photos WHERE id=?`, id); err != nil {
		return fmt.Errorf("delete photo: %w", err)
	}
	if err := s.blobs.Delete(assetID); err != nil {
		s.log.Warn("orphan blob left after photo delete", slog.String("asset", assetID), slog.Any("err", err))
	}
	return nil
}

// ListPhotos returns a project's photos in the requested deterministic
// order. The project must exist.
func (s *Store) ListPhotos(ctx context.Context, projectID int64, order domain.PhotoOrder) ([]domain.Photo, error) {
	release, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	if _, err := getProject(ctx, s.db, projectID); err != nil {
		return nil, err
	}
	dir := "DESC"
	if order == domain.OldestFirst {
		dir = "ASC"
	}
	q := fmt.Sprintf(`SELECT id, project_id, asset_id, original_date, caption, created_at
		FROM photos WHERE project_id=? ORDER BY original_date %s, id ASC`, dir)
	rows, err := s.db.QueryContext(ctx, q, projectID)
	if err != nil {
		return nil, fmt.Errorf("list photos: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanPhotos(rows)
}

// Snapshot returns a consistent point-in-time view of all projects and
// photos. It runs under the mutation lock so no write can interleave.
func (s *Store) Snapshot(ctx context.Context) ([]domain.Project, []domain.Photo, error) {
	release, err := s.acquire()
	if err != nil {
		return nil, nil, err
	}
	defer release()
	s.opMu.Lock()
	defer s.opMu.Unlock()

	projects, photos, err := readAll(ctx, s.db)
	if err != nil {
		return nil, nil, err
	}
	return projects, photos, nil
}

// WithSnapshot runs fn over a point-in-time view while holding the mutation
// lock, so metadata and blob reads inside fn see one consistent state even
// when writers are waiting. fn must not call back into mutating store
// operations.
func (s *Store) WithSnapshot(ctx context.Context, fn func(projects []domain.Project, photos []domain.Photo, blobs *BlobStore) error) error {
	release, err := s.acquire()
	if err != nil {
		return err
	}
	defer release()
	s.opMu.Lock()
	defer s.opMu.Unlock()

	projects, photos, err := readAll(ctx, s.db)
	if err != nil {
		return err
	}
	return fn(projects, photos, s.blobs)
}

func readAll(ctx context.Context, db *sql.DB) ([]domain.Project, []domain.Photo, error) {
	prows, err := db.QueryContext(ctx, `SELECT id, name, description, created_at FROM projects ORDER BY id ASC`)
	if err != nil {
		return nil, nil, fmt.Errorf("read projects: %w", err)
	}
	defer func() { _ = prows.Close() }()
	var projects []domain.Project
	for prows.Next() {
		var p domain.Project
		var created string
		if err := prows.Scan(&p.ID, &p.Name, &p.Description, &created); err != nil {
			return nil, nil, err
		}
		p.CreatedAt = parseTime(created)
		projects = append(projects, p)
	}
	if err := prows.Err(); err != nil {
		return nil, nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT id, project_id, asset_id, original_date, caption, created_at FROM photos ORDER BY id ASC`)
	if err != nil {
		return nil, nil, fmt.Errorf("read photos: %w", err)
	}
	defer func() { _ = rows.Close() }()
	photos, err := scanPhotos(rows)
	if err != nil {
		return nil, nil, err
	}
	return projects, photos, nil
}

// ImportInto writes a complete candidate state into the given (staged)
// metadata database, preserving record ids so a round-tripped store is
// observably identical.
func ImportInto(ctx context.Context, db *sql.DB, projects []domain.Project, photos []domain.Photo) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin import tx: %w", err)
	}
	pins, err := tx.PrepareContext(ctx, `INSERT INTO projects(id, name, description, created_at) VALUES(?,?,?,?)`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare project insert: %w", err)
	}
	defer func() { _ = pins.Close() }()
	for _, p := range projects {
		if _, err := pins.ExecContext(ctx, p.ID, p.Name, p.Description, fmtTime(p.CreatedAt)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("import project %d: %w", p.ID, err)
		}
	}
	ins, err := tx.PrepareContext(ctx, `INSERT INTO photos(id, project_id, asset_id, original_date, caption, created_at) VALUES(?,?,?,?,?,?)`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare photo insert: %w", err)
	}
	defer func() { _ = ins.Close() }()
	for _, ph := range photos {
		if _, err := ins.ExecContext(ctx, ph.ID, ph.ProjectID, ph.AssetID, fmtTime(ph.OriginalDate), ph.Caption, fmtTime(ph.CreatedAt)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("import photo %d: %w", ph.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit import: %w", err)
	}
	return nil
}

func scanPhotos(rows *sql.Rows) ([]domain.Photo, error) {
	var out []domain.Photo
	for rows.Next() {
		var p domain.Photo
		var orig, created string
		if err := rows.Scan(&p.ID, &p.ProjectID, &p.AssetID, &orig, &p.Caption, &created); err != nil {
			return nil, fmt.Errorf("scan photo: %w", err)
		}
		p.OriginalDate = parseTime(orig)
		p.CreatedAt = parseTime(created)
		out = append(out, p)
	}
	return out, rows.Err()
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// timeLayout is fixed width so the lexicographic ordering of stored text
// timestamps matches chronological ordering down to the nanosecond.
// RFC3339Nano would drop trailing fractional zeros and break that.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func fmtTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
