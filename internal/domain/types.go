/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package domain

import "time"

// This file defines the core data model for the PhotoKeep archive store.
// Records hold only references to binary content (an asset id); the blob
// store exclusively owns the bytes on disk.

// Project is a named, ordered collection of photos ("archive volume").
type Project struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Photo is one image capture with metadata, belonging to exactly one project.
// AssetID references the blob store; the referenced blob exists for as long
// as the photo record does.
type Photo struct {
	ID           int64     `json:"id"`
	ProjectID    int64     `json:"project_id"`
	AssetID      string    `json:"asset_id"`
	OriginalDate time.Time `json:"original_date"` // when the shot was taken, not when it was inserted
	Caption      string    `json:"caption,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// PhotoOrder selects the listing order for a project's photos.
// Both orders are deterministic: ties on OriginalDate break by id ascending.
type PhotoOrder int

const (
	// NewestFirst orders by OriginalDate descending (gallery view).
	NewestFirst PhotoOrder = iota
	// OldestFirst orders by OriginalDate ascending (timeline view).
	OldestFirst
)

func (o PhotoOrder) String() string {
	if o == OldestFirst {
		return "oldest-first"
	}
	return "newest-first"
}

// CandidateState is the in-memory staged result of parsing an archive.
// It is fully validated before it is allowed anywhere near the live store.
type CandidateState struct {
	Projects []Project
	Photos   []Photo
	Blobs    map[string][]byte // asset id -> content
}
