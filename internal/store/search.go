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
	"fmt"
	"strings"
)

// CaptionHit is one full-text search result over photo captions.
type CaptionHit struct {
	PhotoID   int64  `json:"photo_id"`
	ProjectID int64  `json:"project_id"`
	AssetID   string `json:"asset_id"`
	Snippet   string `json:"snippet"`
}

// SearchCaptions runs an FTS5 match over photo captions and returns up to
// limit hits with a highlighted snippet, best match first.
func (s *Store) SearchCaptions(ctx context.Context, query string, limit int) ([]CaptionHit, error) {
	release, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.project_id, p.asset_id,
		       snippet(fts_captions, 0, '[', ']', '…', 8)
		FROM fts_captions f
		JOIN photos p ON p.id = f.rowid
		WHERE fts_captions MATCH ?
		ORDER BY rank
		LIMIT ?`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("caption search: %w", err)
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
