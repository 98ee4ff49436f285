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

package ai

import (
	"errors"
	"strings"
	"time"
)

// Config holds the connection settings of the embedding service.
type Config struct {
	// EmbeddingHost is the base URL for the embedding service API.
	// Example: "http://localhost:11434/v1" for local OpenAI-compatible server
	EmbeddingHost string

	// Token is the API token. Local services accept "none".
	Token string

	// EmbeddingModel is the default model identifier for text embeddings.
	// Example: "nomic-embed-text", "text-embedding-3-small"
	EmbeddingModel string

	// RequestsPerSecond limits embedding calls per loaded model. Zero disables limiting.
	RequestsPerSecond float64

	// LoadTimeout bounds model loading. Zero means no bound.
	LoadTimeout time.Duration

	// BatchTimeout bounds a single batch embedding call. Zero means no bound.
	BatchTimeout time.Duration
}

// ConfigOption configures a Config.
type ConfigOption func(*Config)

// WithEmbeddingHost sets the embedding service base URL.
func WithEmbeddingHost(host string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingHost = host
	}
}

// WithToken sets the API token.
func WithToken(token string) ConfigOption {
	return func(c *Config) {
		c.Token = token
	}
}

// WithEmbeddingModel sets the default embedding model.
func WithEmbeddingModel(model string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingModel = model
	}
}

// WithRequestsPerSecond sets the per-model request rate limit.
func WithRequestsPerSecond(rps float64) ConfigOption {
	return func(c *Config) {
		c.RequestsPerSecond = rps
	}
}

// WithTimeouts sets the model load and per-batch timeouts.
func WithTimeouts(load, batch time.Duration) ConfigOption {
	return func(c *Config) {
		c.LoadTimeout = load
		c.BatchTimeout = batch
	}
}

// DefaultConfig returns the settings for a local OpenAI-compatible server.
func DefaultConfig() *Config {
	return &Config{
		EmbeddingHost:  "http://localhost:11434/v1",
		Token:          "none",
		EmbeddingModel: "nomic-embed-text",
		LoadTimeout:    30 * time.Second,
		BatchTimeout:   2 * time.Minute,
	}
}

// NewConfig returns DefaultConfig with options applied.
func NewConfig(opts ...ConfigOption) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Normalize ensures EmbeddingHost ends with /v1 for OpenAI-compatible APIs.
func (c *Config) Normalize() {
	if c.EmbeddingHost != "" && !strings.HasSuffix(c.EmbeddingHost, "/v1") {
		c.EmbeddingHost = strings.TrimSuffix(c.EmbeddingHost, "/")
		c.EmbeddingHost = c.EmbeddingHost + "/v1"
	}
	if c.Token == "" {
		c.Token = "none"
	}
}

// Validate normalizes and checks the configuration.
func (c *Config) Validate() error {
	c.Normalize()

	if c.EmbeddingHost == "" {
		return errors.New("ai config: EmbeddingHost is required")
	}
	if c.EmbeddingModel == "" {
		return errors.New("ai config: EmbeddingModel is required")
	}
	if c.RequestsPerSecond < 0 {
		return errors.New("ai config: RequestsPerSecond cannot be negative")
	}
	if c.LoadTimeout < 0 || c.BatchTimeout < 0 {
		return errors.New("ai config: timeouts cannot be negative")
	}
	return nil
}
