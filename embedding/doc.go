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

// Package embedding turns chunks into vectors.
//
// A Batcher resolves embedding models through an ai.Loader and keeps loaded
// models in a bounded LRU cache for its lifetime, so concurrent runs using the
// same model name share one instance. Chunks are embedded in consecutive
// batches; output i always corresponds to input chunk i.
//
// # Usage
//
//	batcher, err := embedding.NewBatcher(loader,
//	    embedding.WithLoadTimeout(30*time.Second),
//	    embedding.WithBatchTimeout(2*time.Minute),
//	    embedding.WithRetry(3, 500*time.Millisecond),
//	)
//	if err != nil {
//	    return err
//	}
//	result, err := batcher.Embed(ctx, chunks, "nomic-embed-text", 32)
//
// Any model load or batch failure returns a core.EmbeddingError and no partial
// result. Vectors containing NaN or Inf, and vectors whose dimension differs
// from the first, are fatal; zero vectors are only flagged in the quality report.
package embedding
