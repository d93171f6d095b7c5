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
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"photokeep/internal/domain"
	applog "photokeep/internal/log"

	// Pure-Go SQLite driver (CGO-free)
	_ "modernc.org/sqlite"
)

const (
	// CurrentFileName is the pointer file selecting the live generation.
	CurrentFileName = "CURRENT"
	// GenerationsDirName holds one subdirectory per complete generation.
	GenerationsDirName = "generations"
	// MetaFileName is the embedded metadata database inside a generation.
	MetaFileName = "meta.sqlite"
	// BlobsDirName holds the binary assets inside a generation.
	BlobsDirName = "blobs"

	stagingPrefix = "staging-"

	// schemaVersion tracks the SQLite schema of the metadata database.
	// Bump on breaking schema changes and add migrations.
	schemaVersion = 1
)

// Store is the explicit, injected handle to one archive store on disk.
// All components that need persistent state receive a *Store; there is no
// ambient global.
type Store struct {
	Root string

	// opMu serializes mutating operations and point-in-time snapshots so
	// readers never observe interleaved partial writes.
	opMu sync.Mutex
	// genMu guards the generation swap against in-flight operations.
	genMu sync.RWMutex
	// restoring gates normal operations out while a restore runs.
	restoring atomic.Bool

	gen   string
	db    *sql.DB
	blobs *BlobStore
	log   *slog.Logger
}

// Open opens (or initializes) the store at root and recovers from any
// interrupted restore: staging leftovers and generations the CURRENT pointer
// does not reference are removed, and the store resumes from the last
// successfully repointed generation.
func Open(root string) (*Store, error) {
	l := applog.WithOperation(applog.WithComponent("store"), "open").With(slog.String("root", root))
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("store root is required")
	}
	if err := os.MkdirAll(filepath.Join(root, GenerationsDirName), 0o755); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}

	s := &Store{Root: root, log: applog.WithComponent("store")}

	if err := s.recover(l); err != nil {
		return nil, err
	}

	gen, err := readCurrent(root)
	if err != nil {
		return nil, err
	}
	if gen == "" {
		gen = firstGenName
		if err := s.initGeneration(gen); err != nil {
			return nil, err
		}
		if err := writeCurrent(root, gen); err != nil {
			return nil, err
		}
		l.Info("initialized empty store", slog.String("generation", gen))
	}
	if err := s.openGeneration(gen); err != nil {
		return nil, err
	}
	l.Info("store ready", slog.String("generation", gen))
	return s, nil
}

// Close releases the metadata database handle.
func (s *Store) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		return err
	}
	return nil
}

// Generation returns the name of the live generation.
func (s *Store) Generation() string {
	s.genMu.RLock()
	defer s.genMu.RUnlock()
	return s.gen
}

// Blobs returns the live generation's blob store.
func (s *Store) Blobs() *BlobStore {
	s.genMu.RLock()
	defer s.genMu.RUnlock()
	return s.blobs
}

// acquire admits a normal operation unless a restore is in progress.
// The returned release func must be called when the operation finishes.
func (s *Store) acquire() (func(), error) {
	if s.restoring.Load() {
		return nil, domain.ErrStoreBusy
	}
	s.genMu.RLock()
	if s.restoring.Load() {
		s.genMu.RUnlock()
		return nil, domain.ErrStoreBusy
	}
	return s.genMu.RUnlock, nil
}

// BeginRestore flips the store into restore mode. Operations arriving while
// it is set are rejected with ErrStoreBusy instead of queueing behind a
// potentially slow restore.
func (s *Store) BeginRestore() error {
	if !s.restoring.CompareAndSwap(false, true) {
		return domain.ErrStoreBusy
	}
	return nil
}

// EndRestore leaves restore mode.
func (s *Store) EndRestore() { s.restoring.Store(false) }

// recover removes staging leftovers and unpointed generations from a
// previous run that died mid-restore.
func (s *Store) recover(l *slog.Logger) error {
	cur, err := readCurrent(s.Root)
	if err != nil {
		return err
	}
	ents, err := os.ReadDir(s.Root)
	if err != nil {
		return fmt.Errorf("read store root: %w", err)
	}
	for _, e := range ents {
		if e.IsDir() && strings.HasPrefix(e.Name(), stagingPrefix) {
			l.Warn("removing stale staging area", slog.String("dir", e.Name()))
			if err := os.RemoveAll(filepath.Join(s.Root, e.Name())); err != nil {
				return fmt.Errorf("remove staging %s: %w", e.Name(), err)
			}
		}
	}
	gens, err := os.ReadDir(filepath.Join(s.Root, GenerationsDirName))
	if err != nil {
		return fmt.Errorf("read generations: %w", err)
	}
	for _, e := range gens {
		if !e.IsDir() || e.Name() == cur {
			continue
		}
		l.Warn("removing unpointed generation", slog.String("dir", e.Name()))
		if err := os.RemoveAll(filepath.Join(s.Root, GenerationsDirName, e.Name())); err != nil {
			return fmt.Errorf("remove generation %s: %w", e.Name(), err)
		}
	}
	return nil
}

// openGeneration opens the metadata database and blob store of gen and makes
// them live.
func (s *Store) openGeneration(gen string) error {
	dir := filepath.Join(s.Root, GenerationsDirName, gen)
	db, err := openMetaDB(dir)
	if err != nil {
		return err
	}
	s.gen = gen
	s.db = db
	s.blobs = &BlobStore{Dir: filepath.Join(dir, BlobsDirName)}
	return nil
}

// initGeneration scaffolds an empty generation directory with an initialized
// metadata database and blob area.
func (s *Store) initGeneration(gen string) error {
	dir := filepath.Join(s.Root, GenerationsDirName, gen)
	if err := os.MkdirAll(filepath.Join(dir, BlobsDirName), 0o755); err != nil {
		return fmt.Errorf("create generation dirs: %w", err)
	}
	db, err := openMetaDB(dir)
	if err != nil {
		return err
	}
	return db.Close()
}

// openMetaDB opens the SQLite metadata database in dir, enables WAL mode and
// ensures the schema exists.
func openMetaDB(dir string) (*sql.DB, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create meta dir: %w", err)
	}
	path := filepath.Join(dir, MetaFileName)
	// Forward slashes for the SQLite URI, also on Windows.
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=busy_timeout(5000)", filepath.ToSlash(path))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Single connection: embedded usage, serialized writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign_keys: %w", err)
	}
	if err := ensureMetaSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// writeFileSync writes data to a file and flushes it to disk.
func writeFileSync(path string, data []byte) (err error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	if _, err := f.Write(data); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	return nil
}
