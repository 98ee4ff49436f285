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

// Package openai provides embedding models served by OpenAI-compatible APIs.
//
// This package implements ai.Loader using the langchaingo library to talk to
// OpenAI or OpenAI-compatible services (such as Ollama, LocalAI, or vLLM).
// Each loaded model gets its own request rate limiter.
//
// # Usage
//
//	config := ai.NewConfig(ai.WithEmbeddingHost("http://localhost:11434"))
//
//	provider, err := openai.NewProvider(config)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer provider.Close()
//
//	embedder, err := provider.Load(ctx, "nomic-embed-text")
//	vectors, err := embedder.EmbedTexts(ctx, []string{"row one", "row two"})
package openai
