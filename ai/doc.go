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

// Package ai provides the embedding abstractions used by tabvec.
//
// The package defines two small contracts:
//
//   - Embedder: generates vector embeddings from text
//   - Loader: resolves an Embedder by model name
//
// # Implementation Packages
//
//   - ai/openai: OpenAI-compatible embedding APIs through langchaingo
//   - ai/hashing: deterministic feature-hashing embeddings that run offline
//   - ai/mock: test doubles for unit testing without external dependencies
//
// Router combines loaders by model-name prefix, so "hash-256" can resolve to
// the hashing embedder while every other name goes to the OpenAI-compatible
// service.
//
// # Usage Example
//
//	provider, err := openai.NewProvider(ai.DefaultConfig())
//	router := ai.NewRouter(provider)
//	router.Handle(hashing.Prefix, hashing.Loader{})
//
//	embedder, err := router.Load(ctx, "nomic-embed-text")
//	vectors, err := embedder.EmbedTexts(ctx, []string{"first", "second"})
package ai
