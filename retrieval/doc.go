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
// Package retrieval answers similarity queries against the collection of a
// completed processing run.
//
// A Retriever looks up the run in the run registry to find which backend
// holds its collection and which model embedded it, embeds the query text
// with that same model and delegates ranking to the backend. Results are
// ranked from 1, most similar first.
package retrieval
