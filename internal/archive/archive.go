/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package archive implements the portable archive file: a ZIP container
// holding a JSON manifest (archive.json) with all project and photo records
// plus one payload entry per referenced asset under blobs/. Parsing is
// strict about everything a restore depends on and tolerant about extras.
package archive

import (
	"archive/zip"
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"photokeep/internal/domain"
	"photokeep/internal/version"
)

// FormatVersion is the archive manifest format written by this build.
// Readers reject manifests with a version they do not know.
const FormatVersion = 1

// ManifestName is the manifest entry inside the ZIP container.
const ManifestName = "archive.json"

// BlobsPrefix is the directory prefix of payload entries.
const BlobsPrefix = "blobs/"

//go:embed schema.json
var manifestSchema []byte

// Manifest is the JSON document describing the archived metadata.
type Manifest struct {
	FormatVersion int              `json:"format_version"`
	App           string           `json:"app,omitempty"`
	ExportedAt    time.Time        `json:"exported_at"`
	Projects      []domain.Project `json:"projects"`
	Photos        []domain.Photo   `json:"photos"`
}

// Write serializes a snapshot into w. Each referenced asset is written
// exactly once, also when several photos share one asset id; content is
// looked up through the getBlob callback.
func Write(w io.Writer, projects []domain.Project, photos []domain.Photo, getBlob func(assetID string) ([]byte, error)) error {
	m := Manifest{
		FormatVersion: FormatVersion,
		App:           version.String(),
		ExportedAt:    time.Now().UTC(),
		Projects:      projects,
		Photos:        photos,
	}
	if m.Projects == nil {
		m.Projects = []domain.Project{}
	}
	if m.Photos == nil {
		m.Photos = []domain.Photo{}
	}
	doc, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	zw := zip.NewWriter(w)
	if err := addZipFile(zw, ManifestName, doc); err != nil {
		return fmt.Errorf("zip add manifest: %w", err)
	}
	seen := make(map[string]bool, len(photos))
	for _, ph := range photos {
		if seen[ph.AssetID] {
			continue
		}
		seen[ph.AssetID] = true
		content, err := getBlob(ph.AssetID)
		if err != nil {
			return fmt.Errorf("read asset %s: %w", ph.AssetID, err)
		}
		if err := addZipFile(zw, BlobsPrefix+ph.AssetID, content); err != nil {
			return fmt.Errorf("zip add asset %s: %w", ph.AssetID, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	return nil
}

func addZipFile(zw *zip.Writer, name string, data []byte) error {
	f, err := zw.Create(name)
	if err != nil {
		return err
	}
	_, err = f.Write(data)
	return err
}

// Parse reads a complete archive from data and returns the fully validated
// candidate state. Any structural problem wraps ErrCorruptArchive: a missing
// or malformed manifest, an unknown format version, a broken referential
// link, or a referenced payload without bytes in the container. Payload
// entries no photo references are ignored.
func Parse(data []byte) (*domain.CandidateState, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open container: %v: %w", err, domain.ErrCorruptArchive)
	}

	var manifestRaw []byte
	payloads := make(map[string][]byte)
	for _, f := range zr.File {
		switch {
		case f.Name == ManifestName:
			manifestRaw, err = readZipFile(f)
			if err != nil {
				return nil, fmt.Errorf("read manifest: %v: %w", err, domain.ErrCorruptArchive)
			}
		case len(f.Name) > len(BlobsPrefix) && f.Name[:len(BlobsPrefix)] == BlobsPrefix:
			b, err := readZipFile(f)
			if err != nil {
				return nil, fmt.Errorf("read payload %s: %v: %w", f.Name, err, domain.ErrCorruptArchive)
			}
			payloads[f.Name[len(BlobsPrefix):]] = b
		}
	}
	if manifestRaw == nil {
		return nil, fmt.Errorf("manifest %s missing: %w", ManifestName, domain.ErrCorruptArchive)
	}

	if err := validateManifest(manifestRaw); err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(manifestRaw, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %v: %w", err, domain.ErrCorruptArchive)
	}
	if m.FormatVersion < 1 || m.FormatVersion > FormatVersion {
		return nil, fmt.Errorf("unsupported format version %d: %w", m.FormatVersion, domain.ErrCorruptArchive)
	}

	cand := &domain.CandidateState{
		Projects: m.Projects,
		Photos:   m.Photos,
		Blobs:    make(map[string][]byte, len(m.Photos)),
	}
	if err := checkIntegrity(cand, payloads); err != nil {
		return nil, err
	}
	return cand, nil
}

func validateManifest(doc []byte) error {
	res, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(manifestSchema), gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("validate manifest: %v: %w", err, domain.ErrCorruptArchive)
	}
	if !res.Valid() {
		errs := res.Errors()
		first := "schema violation"
		if len(errs) > 0 {
			first = errs[0].String()
		}
		return fmt.Errorf("manifest invalid: %s: %w", first, domain.ErrCorruptArchive)
	}
	return nil
}

// checkIntegrity verifies record uniqueness and referential closure and
// copies exactly the referenced payloads into the candidate.
func checkIntegrity(cand *domain.CandidateState, payloads map[string][]byte) error {
	projects := make(map[int64]bool, len(cand.Projects))
	for _, p := range cand.Projects {
		if projects[p.ID] {
			return fmt.Errorf("duplicate project id %d: %w", p.ID, domain.ErrCorruptArchive)
		}
		projects[p.ID] = true
	}
	photoIDs := make(map[int64]bool, len(cand.Photos))
	for _, ph := range cand.Photos {
		if photoIDs[ph.ID] {
			return fmt.Errorf("duplicate photo id %d: %w", ph.ID, domain.ErrCorruptArchive)
		}
		photoIDs[ph.ID] = true
		if !projects[ph.ProjectID] {
			return fmt.Errorf("photo %d references missing project %d: %w", ph.ID, ph.ProjectID, domain.ErrCorruptArchive)
		}
		content, ok := payloads[ph.AssetID]
		if !ok {
			return fmt.Errorf("photo %d references missing payload %s: %w", ph.ID, ph.AssetID, domain.ErrCorruptArchive)
		}
		cand.Blobs[ph.AssetID] = content
	}
	return nil
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	return io.ReadAll(rc)
}
