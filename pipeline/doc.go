// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package pipeline coordinates processing runs.
//
// A run moves through the states received, preprocessing, chunking,
// embedding, storing and completed. Any non-terminal state may move to
// failed. Stages run strictly in sequence; distinct runs execute concurrently
// on a bounded worker pool, one worker per run.
//
// Only a core.ChunkingError triggers recovery: the run retries once with
// fixed chunking at the default size and records the substitution in the
// result. Every other failure fails the run with a StageError naming the
// stage. A failed run never yields a ProcessingResult.
package pipeline
