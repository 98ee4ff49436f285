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
package retrieval

import "errors"

var (
	// ErrBatcherRequired is returned when an embedding batcher is not provided.
	ErrBatcherRequired = errors.New("embedding batcher required")

	// ErrStoresRequired is returned when a store manager is not provided.
	ErrStoresRequired = errors.New("store manager required")

	// ErrRunNotCompleted is returned when searching a run that failed.
	ErrRunNotCompleted = errors.New("run did not complete")
)
