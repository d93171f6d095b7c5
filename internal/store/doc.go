/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package store implements the persistent archive store: project and photo
// metadata in an embedded SQLite database and immutable binary assets in a
// per-generation blob directory. A generation is one complete, internally
// consistent metadata+blob area under <root>/generations/; the CURRENT
// pointer file selects the live one and is repointed atomically, which is
// how restore swaps in a new state without observers ever seeing a mixture.
package store
