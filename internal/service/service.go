/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package service is the application façade over the archive store. It
// pairs blob and metadata operations so callers never have to sequence the
// two stores themselves, and it owns export, import and restore.
package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"photokeep/internal/archive"
	"photokeep/internal/domain"
	applog "photokeep/internal/log"
	"photokeep/internal/restore"
	"photokeep/internal/store"
)

// Service exposes the complete PhotoKeep operation set against one store.
type Service struct {
	st    *store.Store
	coord *restore.Coordinator
	log   *slog.Logger
}

func New(st *store.Store) *Service {
	return &Service{
		st:    st,
		coord: restore.NewCoordinator(st),
		log:   applog.WithComponent("service"),
	}
}

// Store exposes the underlying store for read-side helpers (search,
// thumbnails, generation inspection).
func (s *Service) Store() *store.Store { return s.st }

// ListProjects returns all projects, newest first.
func (s *Service) ListProjects(ctx context.Context) ([]domain.Project, error) {
	return s.st.ListProjects(ctx)
}

// CreateProject creates a new, empty project.
func (s *Service) CreateProject(ctx context.Context, name, description string) (domain.Project, error) {
	p, err := s.st.CreateProject(ctx, name, description)
	if err != nil {
		return domain.Project{}, err
	}
	s.log.Info("project created", slog.Int64("id", p.ID), slog.String("name", p.Name))
	return p, nil
}

// GetProject loads one project.
func (s *Service) GetProject(ctx context.Context, id int64) (domain.Project, error) {
	return s.st.GetProject(ctx, id)
}

// DeleteProject removes a project, all its photo records and their blobs.
// The store deletes rows and blobs under one admission; a blob that fails to
// delete is logged there and leaks disk space only, it can never be reached
// through any surviving record.
func (s *Service) DeleteProject(ctx context.Context, id int64) error {
	if err := s.st.DeleteProject(ctx, id); err != nil {
		return err
	}
	s.log.Info("project deleted", slog.Int64("id", id))
	return nil
}

// AddPhoto stores the image content as a new blob and records the photo in
// one store operation, so the blob and the row land in the same generation
// even when a restore is racing.
func (s *Service) AddPhoto(ctx context.Context, projectID int64, content []byte, originalDate time.Time, caption string) (domain.Photo, error) {
	ph, err := s.st.AddPhoto(ctx, projectID, content, originalDate, caption)
	if err != nil {
		return domain.Photo{}, err
	}
	s.log.Info("photo added",
		slog.Int64("id", ph.ID),
		slog.Int64("project", projectID),
		slog.String("asset", ph.AssetID),
		slog.Int("bytes", len(content)))
	return ph, nil
}

// GetPhoto loads one photo record.
func (s *Service) GetPhoto(ctx context.Context, id int64) (domain.Photo, error) {
	return s.st.GetPhoto(ctx, id)
}

// PhotoContent returns the full-resolution bytes of a photo's asset.
func (s *Service) PhotoContent(ctx context.Context, id int64) ([]byte, error) {
	ph, err := s.st.GetPhoto(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.st.Blobs().Get(ph.AssetID)
}

// DeletePhoto removes a photo record and its blob.
func (s *Service) DeletePhoto(ctx context.Context, id int64) error {
	return s.st.DeletePhoto(ctx, id)
}

// ListPhotos returns a project's photos in the requested order.
func (s *Service) ListPhotos(ctx context.Context, projectID int64, order domain.PhotoOrder) ([]domain.Photo, error) {
	return s.st.ListPhotos(ctx, projectID, order)
}

// SearchCaptions runs a full-text search over photo captions.
func (s *Service) SearchCaptions(ctx context.Context, query string, limit int) ([]store.CaptionHit, error) {
	return s.st.SearchCaptions(ctx, query, limit)
}

// PhotoThumbnail returns a cached PNG thumbnail fitting maxW x maxH.
func (s *Service) PhotoThumbnail(ctx context.Context, photoID int64, maxW, maxH int) ([]byte, error) {
	return s.st.Thumbnail(ctx, photoID, maxW, maxH)
}

// Export writes a point-in-time archive of the whole store to w. Writers
// block for the duration; the produced archive reflects exactly one state.
func (s *Service) Export(ctx context.Context, w io.Writer) error {
	l := applog.WithOperation(s.log, "export")
	err := s.st.WithSnapshot(ctx, func(projects []domain.Project, photos []domain.Photo, blobs *store.BlobStore) error {
		return archive.Write(w, projects, photos, blobs.Get)
	})
	if err != nil {
		return err
	}
	l.Info("export complete")
	return nil
}

// Import reads a complete archive from r, validates it and atomically
// replaces the live store state with it. On any failure the store is left
// exactly as it was.
func (s *Service) Import(ctx context.Context, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read archive: %w", err)
	}
	cand, err := archive.Parse(data)
	if err != nil {
		return err
	}
	return s.coord.Restore(ctx, cand)
}

// RestorePhase reports the current restore phase for status surfaces.
func (s *Service) RestorePhase() restore.Phase { return s.coord.Phase() }
