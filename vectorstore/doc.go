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

// Package vectorstore defines the collection store contract shared by the
// vector backends and the similarity metrics used to rank search results.
//
// A collection holds the embedded chunks of one processing run and is named
// collection_{processing_id}. Its dimension is fixed by the first upsert.
// Two backends implement Store:
//
//   - document: persistent badgerhold collections with incremental writes
//     and metadata filters (package vectorstore/document)
//   - flat: an in-memory index written to disk only on Persist
//     (package vectorstore/flat)
//
// A Manager opens backends by kind under a shared root directory and keeps
// one handle per kind for the life of the process.
package vectorstore
