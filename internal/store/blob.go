/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"photokeep/internal/domain"
)

// BlobStore is a content store of immutable binary assets, one file per
// asset id, inside a generation directory. Writes go through a temp file
// plus rename so a crash never leaves a half-written asset under its final
// name.
type BlobStore struct {
	Dir string
}

// Put stores content under a fresh asset id and returns the id.
func (b *BlobStore) Put(content []byte) (string, error) {
	id := uuid.NewString()
	if err := b.putNamed(id, content); err != nil {
		return "", err
	}
	return id, nil
}

// PutWithID stores content under a caller-chosen asset id. Used by restore,
// which must reproduce the ids recorded in the archive.
func (b *BlobStore) PutWithID(id string, content []byte) error {
	if err := validAssetID(id); err != nil {
		return err
	}
	return b.putNamed(id, content)
}

func (b *BlobStore) putNamed(id string, content []byte) error {
	if err := os.MkdirAll(b.Dir, 0o755); err != nil {
		return fmt.Errorf("create blob dir: %w", err)
	}
	target := filepath.Join(b.Dir, id)
	temp := target + ".tmp"
	if err := writeFileSync(temp, content); err != nil {
		_ = os.Remove(temp)
		return fmt.Errorf("write blob %s: %w", id, err)
	}
	if err := os.Rename(temp, target); err != nil {
		_ = os.Remove(temp)
		return fmt.Errorf("commit blob %s: %w", id, err)
	}
	return nil
}

// Get returns the content of an asset.
func (b *BlobStore) Get(id string) ([]byte, error) {
	if err := validAssetID(id); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(b.Dir, id))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("blob %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", id, err)
	}
	return data, nil
}

// Exists reports whether an asset is present.
func (b *BlobStore) Exists(id string) (bool, error) {
	if err := validAssetID(id); err != nil {
		return false, err
	}
	_, err := os.Stat(filepath.Join(b.Dir, id))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes an asset. Deleting an absent asset is not an error.
func (b *BlobStore) Delete(id string) error {
	if err := validAssetID(id); err != nil {
		return err
	}
	err := os.Remove(filepath.Join(b.Dir, id))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete blob %s: %w", id, err)
	}
	return nil
}

// List returns all asset ids present in the store.
func (b *BlobStore) List() ([]string, error) {
	ents, err := os.ReadDir(b.Dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list blobs: %w", err)
	}
	var out []string
	for _, e := range ents {
		if e.IsDir() || strings.HasSuffix(e.Name(), ".tmp") {
			continue
		}
		out = append(out, e.Name())
	}
	return out, nil
}

// validAssetID rejects ids that could escape the blob directory.
func validAssetID(id string) error {
	if id == "" || id == "." || id == ".." ||
		strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("invalid asset id %q: %w", id, domain.ErrValidation)
	}
	return nil
}
