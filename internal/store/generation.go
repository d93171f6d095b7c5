/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const firstGenName = "gen-000001"

// Staging is a fresh, not-yet-live generation area being populated by a
// restore. It lives under <root>/staging-* until promoted or discarded.
type Staging struct {
	dir string

	DB    *sql.DB
	Blobs *BlobStore
}

// StageGeneration creates a staging area with an initialized (empty)
// metadata database and blob directory. Nothing in it is visible to readers
// of the live store.
func (s *Store) StageGeneration() (*Staging, error) {
	dir := filepath.Join(s.Root, fmt.Sprintf("%s%s", stagingPrefix, time.Now().UTC().Format("20060102-150405.000000000")))
	if err := os.MkdirAll(filepath.Join(dir, BlobsDirName), 0o755); err != nil {
		return nil, fmt.Errorf("create staging dirs: %w", err)
	}
	db, err := openMetaDB(dir)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}
	return &Staging{
		dir:   dir,
		DB:    db,
		Blobs: &BlobStore{Dir: filepath.Join(dir, BlobsDirName)},
	}, nil
}

// Discard removes the staging area. Safe to call after a failed promote.
func (st *Staging) Discard() {
	if st == nil {
		return
	}
	if st.DB != nil {
		_ = st.DB.Close()
		st.DB = nil
	}
	_ = os.RemoveAll(st.dir)
}

// Promote makes the staged generation live: the staging directory is renamed
// into generations/, the CURRENT pointer is atomically repointed, and the
// previous generation is removed only after the repoint succeeded. On any
// error before the repoint the live store is untouched and the staging area
// remains the caller's to discard.
func (s *Store) Promote(st *Staging) error {
	s.genMu.Lock()
	defer s.genMu.Unlock()

	if st.DB != nil {
		if err := st.DB.Close(); err != nil {
			return fmt.Errorf("close staged meta db: %w", err)
		}
		st.DB = nil
	}

	next, err := nextGenName(s.gen)
	if err != nil {
		return err
	}
	newDir := filepath.Join(s.Root, GenerationsDirName, next)
	if err := os.Rename(st.dir, newDir); err != nil {
		return fmt.Errorf("move staged generation: %w", err)
	}
	if err := writeCurrent(s.Root, next); err != nil {
		// Roll the directory move back so recovery sees a consistent layout.
		_ = os.Rename(newDir, st.dir)
		return fmt.Errorf("repoint current: %w", err)
	}

	old := s.gen
	oldDB := s.db
	if err := s.openGeneration(next); err != nil {
		// CURRENT already points at the new generation; a reopen failure
		// here is fatal for this handle but the on-disk state is complete.
		return fmt.Errorf("open promoted generation: %w", err)
	}
	if oldDB != nil {
		_ = oldDB.Close()
	}
	// Old area removal is scheduled after the repoint; failure leaks disk
	// space only and recovery sweeps it on next open.
	if err := os.RemoveAll(filepath.Join(s.Root, GenerationsDirName, old)); err != nil {
		s.log.Warn("removing old generation failed", slog.String("generation", old), slog.Any("err", err))
	}
	s.log.Info("generation promoted", slog.String("from", old), slog.String("to", next))
	return nil
}

// readCurrent returns the generation name in the CURRENT pointer file, or ""
// when the store has never been initialized.
func readCurrent(root string) (string, error) {
	b, err := os.ReadFile(filepath.Join(root, CurrentFileName))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read current pointer: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

// writeCurrent atomically repoints CURRENT via temp write + rename.
func writeCurrent(root, gen string) error {
	target := filepath.Join(root, CurrentFileName)
	temp := filepath.Join(root, fmt.Sprintf(".%s.tmp-%d", CurrentFileName, os.Getpid()))
	if err := writeFileSync(temp, []byte(gen+"\n")); err != nil {
		return fmt.Errorf("write temp pointer: %w", err)
	}
	if err := os.Rename(temp, target); err != nil {
		_ = os.Remove(temp)
		return fmt.Errorf("replace pointer: %w", err)
	}
	return nil
}

func nextGenName(cur string) (string, error) {
	num := strings.TrimPrefix(cur, "gen-")
	n, err := strconv.Atoi(num)
	if err != nil {
		return "", fmt.Errorf("parse generation name %q: %w", cur, err)
	}
	return fmt.Sprintf("gen-%06d", n+1), nil
}
