/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package domain

import "errors"

// Error taxonomy shared by the stores, the archive codec, the restore
// coordinator and the service façade. Callers classify failures with
// errors.Is; the concrete cause is wrapped alongside the sentinel.
var (
	// ErrValidation marks bad caller input (empty name, empty content).
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks a reference to a nonexistent project, photo or blob.
	ErrNotFound = errors.New("not found")
	// ErrCorruptArchive marks an archive that failed decoding or
	// payload/metadata cross-checks. The live store is never touched.
	ErrCorruptArchive = errors.New("corrupt archive")
	// ErrIntegrity marks a candidate state that failed the coordinator's
	// referential re-check. Restore aborts with no mutation.
	ErrIntegrity = errors.New("integrity check failed")
	// ErrStoreBusy is returned while a restore holds the store exclusively.
	// Callers should retry once the restore finishes.
	ErrStoreBusy = errors.New("store busy: restore in progress")
)
