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
package janitor

import "errors"

var (
	// ErrRunRepositoryRequired is returned when a run repository is not provided.
	ErrRunRepositoryRequired = errors.New("run repository required")

	// ErrStoresRequired is returned when a store manager is not provided.
	ErrStoresRequired = errors.New("store manager required")

	// ErrInvalidMaxAge is returned for a non-positive retention age.
	ErrInvalidMaxAge = errors.New("max age must be positive")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("janitor already started")
)
