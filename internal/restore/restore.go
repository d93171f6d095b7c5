/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package restore swaps a validated candidate state into the live store.
// The whole operation is all-or-nothing: until the CURRENT pointer is
// repointed the live store is untouched, and after any failure the staged
// area is discarded and the store resumes exactly as before.
package restore

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"photokeep/internal/domain"
	applog "photokeep/internal/log"
	"photokeep/internal/store"
)

// Phase describes where a restore currently stands. Observability only;
// correctness never depends on reading it.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseValidating
	PhaseSwapping
	PhaseAborted
)

func (p Phase) String() string {
	switch p {
	case PhaseValidating:
		return "validating"
	case PhaseSwapping:
		return "swapping"
	case PhaseAborted:
		return "aborted"
	default:
		return "idle"
	}
}

// Coordinator runs restores against one store. At most one restore is in
// flight at a time; the store rejects concurrent attempts.
type Coordinator struct {
	st    *store.Store
	phase atomic.Int32
	log   *slog.Logger
}

func NewCoordinator(st *store.Store) *Coordinator {
	return &Coordinator{st: st, log: applog.WithComponent("restore")}
}

// Phase reports the coordinator's current phase.
func (c *Coordinator) Phase() Phase { return Phase(c.phase.Load()) }

// Restore replaces the live store state with the candidate. The candidate's
// integrity is re-verified here, independently of whoever produced it;
// a violation fails with ErrIntegrity before anything is staged.
func (c *Coordinator) Restore(ctx context.Context, cand *domain.CandidateState) (err error) {
	if err := c.st.BeginRestore(); err != nil {
		return err
	}
	defer c.st.EndRestore()
	defer func() {
		if err != nil {
			c.phase.Store(int32(PhaseAborted))
		} else {
			c.phase.Store(int32(PhaseIdle))
		}
	}()

	l := applog.WithOperation(c.log, "restore")
	c.phase.Store(int32(PhaseValidating))
	if err := verify(cand); err != nil {
		l.Error("candidate rejected", slog.Any("err", err))
		return err
	}

	staging, err := c.st.StageGeneration()
	if err != nil {
		return err
	}
	defer staging.Discard()

	for id, content := range cand.Blobs {
		if err := staging.Blobs.PutWithID(id, content); err != nil {
			return fmt.Errorf("stage blob %s: %w", id, err)
		}
	}
	if err := store.ImportInto(ctx, staging.DB, cand.Projects, cand.Photos); err != nil {
		return fmt.Errorf("stage metadata: %w", err)
	}

	c.phase.Store(int32(PhaseSwapping))
	if err := c.st.Promote(staging); err != nil {
		return err
	}
	l.Info("restore complete",
		slog.Int("projects", len(cand.Projects)),
		slog.Int("photos", len(cand.Photos)),
		slog.String("generation", c.st.Generation()))
	return nil
}

// verify checks the candidate's internal consistency: unique record ids,
// every photo's project present, every referenced asset carrying bytes.
func verify(cand *domain.CandidateState) error {
	if cand == nil {
		return fmt.Errorf("nil candidate: %w", domain.ErrIntegrity)
	}
	projects := make(map[int64]bool, len(cand.Projects))
	for _, p := range cand.Projects {
		if p.ID <= 0 {
			return fmt.Errorf("project id %d out of range: %w", p.ID, domain.ErrIntegrity)
		}
		if projects[p.ID] {
			return fmt.Errorf("duplicate project id %d: %w", p.ID, domain.ErrIntegrity)
		}
		if p.Name == "" {
			return fmt.Errorf("project %d has empty name: %w", p.ID, domain.ErrIntegrity)
		}
		projects[p.ID] = true
	}
	photos := make(map[int64]bool, len(cand.Photos))
	for _, ph := range cand.Photos {
		if ph.ID <= 0 {
			return fmt.Errorf("photo id %d out of range: %w", ph.ID, domain.ErrIntegrity)
		}
		if photos[ph.ID] {
			return fmt.Errorf("duplicate photo id %d: %w", ph.ID, domain.ErrIntegrity)
		}
		photos[ph.ID] = true
		if !projects[ph.ProjectID] {
			return fmt.Errorf("photo %d references missing project %d: %w", ph.ID, ph.ProjectID, domain.ErrIntegrity)
		}
		if ph.AssetID == "" {
			return fmt.Errorf("photo %d has empty asset id: %w", ph.ID, domain.ErrIntegrity)
		}
		if _, ok := cand.Blobs[ph.AssetID]; !ok {
			return fmt.Errorf("photo %d references missing asset %s: %w", ph.ID, ph.AssetID, domain.ErrIntegrity)
		}
	}
	return nil
}
