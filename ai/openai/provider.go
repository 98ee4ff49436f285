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

package openai

import (
	"context"
	"log/slog"

	"github.com/poiesic/tabvec/ai"
)

// Provider implements ai.Loader using OpenAI-compatible services.
// Every Load returns a new embedder bound to the requested model.
type Provider struct {
	config *ai.Config
	logger *slog.Logger
}

// NewProvider creates a provider. The config is validated and normalized before use.
func NewProvider(config *ai.Config) (*Provider, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &Provider{
		config: config,
		logger: slog.Default().With("component", "openai-provider"),
	}, nil
}

// Load creates an embedder for model. An empty model selects the configured default.
func (p *Provider) Load(ctx context.Context, model string) (ai.Embedder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if model == "" {
		model = p.config.EmbeddingModel
	}
	p.logger.Debug("loading embedding model", "model", model, "host", p.config.EmbeddingHost)
	return newEmbedder(p.config, model, slog.Default())
}

// Close releases resources held by the provider.
// Currently a no-op as the underlying clients don't require explicit cleanup.
func (p *Provider) Close() error {
	p.logger.Debug("closing OpenAI provider")
	return nil
}
