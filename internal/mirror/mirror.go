/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package mirror pushes the archive metadata into a Postgres database for
// ad-hoc querying across machines. The mirror is a read copy only; the
// embedded store stays the single source of truth and the mirror is
// rebuilt wholesale on every push.
package mirror

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"photokeep/internal/domain"
	applog "photokeep/internal/log"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Mirror wraps an open Postgres connection with the schema applied.
type Mirror struct {
	db  *sql.DB
	log *slog.Logger
}

// Open connects to the Postgres mirror and applies pending migrations.
func Open(ctx context.Context, dsn string) (*Mirror, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("mirror dsn is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mirror db: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mirror db: %w", err)
	}
	m := &Mirror{db: db, log: applog.WithComponent("mirror")}
	if err := m.applyMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return m, nil
}

func (m *Mirror) Close() error { return m.db.Close() }

func (m *Mirror) applyMigrations(ctx context.Context) error {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(strings.ToLower(e.Name()), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	// dialect=PostgreSQL
	if _, err := m.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version BIGINT PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}

	applied := map[int64]bool{}
	rows, err := m.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("select schema_migrations: %w", err)
	}
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			_ = rows.Close()
			return err
		}
		applied[v] = true
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	if err := rows.Close(); err != nil {
		return err
	}

	for _, fname := range files {
		version, err := parseVersion(fname)
		if err != nil {
			return err
		}
		if applied[version] {
			continue
		}
		b, err := migrationsFS.ReadFile(path.Join("migrations", fname))
		if err != nil {
			return err
		}
		if strings.TrimSpace(string(b)) == "" {
			continue
		}
		m.log.Info("applying migration", slog.String("file", fname))
		if _, err := m.db.ExecContext(ctx, string(b)); err != nil {
			return fmt.Errorf("apply %s: %w", fname, err)
		}
		if _, err := m.db.ExecContext(ctx, `INSERT INTO schema_migrations(version, name) VALUES($1, $2) ON CONFLICT DO NOTHING`, version, fname); err != nil {
			return fmt.Errorf("record %s: %w", fname, err)
		}
	}
	return nil
}

func parseVersion(name string) (int64, error) {
	parts := strings.SplitN(path.Base(name), "_", 2)
	v, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse version from %s: %w", name, err)
	}
	return v, nil
}

// Push replaces the mirror's content with the given snapshot in one
// transaction. Records are upserted by id and rows missing from the
// snapshot are deleted, so the mirror converges regardless of its previous
// state.
func (m *Mirror) Push(ctx context.Context, projects []domain.Project, photos []domain.Photo) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin push tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, p := range projects {
		if _, err := tx.ExecContext(ctx, `INSERT INTO projects(id, name, description, created_at, pushed_at)
			VALUES($1, $2, $3, $4, now())
			ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, description=EXCLUDED.description, created_at=EXCLUDED.created_at, pushed_at=now()`,
			p.ID, p.Name, p.Description, p.CreatedAt); err != nil {
			return fmt.Errorf("push project %d: %w", p.ID, err)
		}
	}
	for _, ph := range photos {
		if _, err := tx.ExecContext(ctx, `INSERT INTO photos(id, project_id, asset_id, original_date, caption, created_at, search_vector)
			VALUES($1, $2, $3, $4, $5, $6, to_tsvector('simple', $5))
			ON CONFLICT (id) DO UPDATE SET project_id=EXCLUDED.project_id, asset_id=EXCLUDED.asset_id,
				original_date=EXCLUDED.original_date, caption=EXCLUDED.caption, created_at=EXCLUDED.created_at,
				search_vector=EXCLUDED.search_vector`,
			ph.ID, ph.ProjectID, ph.AssetID, ph.OriginalDate, ph.Caption, ph.CreatedAt); err != nil {
			return fmt.Errorf("push photo %d: %w", ph.ID, err)
		}
	}

	if err := deleteMissing(ctx, tx, "photos", photoIDs(photos)); err != nil {
		return err
	}
	if err := deleteMissing(ctx, tx, "projects", projectIDs(projects)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit push: %w", err)
	}
	m.log.Info("mirror pushed", slog.Int("projects", len(projects)), slog.Int("photos", len(photos)))
	return nil
}

func deleteMissing(ctx context.Context, tx *sql.Tx, table string, keep []int64) error {
	var err error
	if len(keep) == 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM `+table)
	} else {
		_, err = tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE NOT (id = ANY($1))`, keep)
	}
	if err != nil {
		return fmt.Errorf("prune %s: %w", table, err)
	}
	return nil
}

func projectIDs(ps []domain.Project) []int64 {
	out := make([]int64, len(ps))
	for i, p := range ps {
		out[i] = p.ID
	}
	return out
}

func photoIDs(ps []domain.Photo) []int64 {
	out := make([]int64, len(ps))
	for i, p := range ps {
		out[i] = p.ID
	}
	return out
}

// CaptionHit is one tsvector search result.
type CaptionHit struct {
	PhotoID   int64
	ProjectID int64
	AssetID   string
	Snippet   string
}

// SearchCaptions queries the mirror's tsvector index, mirroring the local
// FTS5 search semantics close enough for parity checks.
func (m *Mirror) SearchCaptions(ctx context.Context, query string, limit int) ([]CaptionHit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, project_id, asset_id,
		       COALESCE(ts_headline('simple', caption, plainto_tsquery('simple', $1),
		           'StartSel=[, StopSel=], MaxFragments=1, MaxWords=12'), '')
		FROM photos
		WHERE search_vector @@ plainto_tsquery('simple', $1)
		ORDER BY ts_rank(search_vector, plainto_tsquery('simple', $1)) DESC, id ASC
		LIMIT $2`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("mirror caption search: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var hits []CaptionHit
	for rows.Next() {
		var h CaptionHit
		if err := rows.Scan(&h.PhotoID, &h.ProjectID, &h.AssetID, &h.Snippet); err != nil {
			return nil, fmt.Errorf("scan hit: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}
