package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/poiesic/tabvec/ai"
	"github.com/poiesic/tabvec/vectorstore"
)

// Registry backends.
const (
	RegistryBadger = "badger"
	RegistrySQLite = "sqlite"
)

// EmbeddingService holds the embedding service connection settings.
type EmbeddingService struct {
	Host              string  `toml:"host" yaml:"host" validate:"omitempty,url"`
	Token             string  `toml:"token" yaml:"token"`
	Model             string  `toml:"model" yaml:"model" validate:"required"`
	RequestsPerSecond float64 `toml:"requests_per_second" yaml:"requests_per_second" validate:"gte=0"`
	LoadTimeout       string  `toml:"load_timeout" yaml:"load_timeout"`
	BatchTimeout      string  `toml:"batch_timeout" yaml:"batch_timeout"`
}

// Retention controls cleanup of old runs.
type Retention struct {
	// MaxAge is a duration such as "72h". Empty disables cleanup.
	MaxAge string `toml:"max_age" yaml:"max_age"`
	// Schedule is a cron expression for periodic cleanup. Empty runs cleanup
	// only on demand.
	Schedule string `toml:"schedule" yaml:"schedule"`
}

// Config holds service settings.
type Config struct {
	DataDir      string           `toml:"data_dir" yaml:"data_dir" validate:"required"`
	Workers      int              `toml:"workers" yaml:"workers" validate:"gte=1,lte=256"`
	Registry     string           `toml:"registry" yaml:"registry" validate:"oneof=badger sqlite"`
	DefaultStore string           `toml:"default_store" yaml:"default_store" validate:"oneof=document flat chroma faiss"`
	Embedding    EmbeddingService `toml:"embedding" yaml:"embedding"`
	Retention    Retention        `toml:"retention" yaml:"retention"`
}

// Default returns the settings used when no config file is given.
// The data directory is ~/.tabvec, or ./.tabvec when the home directory
// cannot be resolved.
func Default() *Config {
	dataDir := ".tabvec"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".tabvec")
	}
	def := ai.DefaultConfig()
	return &Config{
		DataDir:      dataDir,
		Workers:      max(1, runtime.NumCPU()/2),
		Registry:     RegistryBadger,
		DefaultStore: string(vectorstore.KindDocument),
		Embedding: EmbeddingService{
			Host:         def.EmbeddingHost,
			Token:        def.Token,
			Model:        def.EmbeddingModel,
			LoadTimeout:  def.LoadTimeout.String(),
			BatchTimeout: def.BatchTimeout.String(),
		},
	}
}

// Load reads a TOML or YAML file over the defaults and validates it.
func Load(path string) (*Config, error) {
	cfg := Default()
	if err := readFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct tags and parses durations.
func (c *Config) Validate() error {
	if err := check(c); err != nil {
		return err
	}
	if _, err := c.MaxAge(); err != nil {
		return err
	}
	if _, err := c.AI(); err != nil {
		return err
	}
	return nil
}

// Kind returns the default store kind.
func (c *Config) Kind() vectorstore.Kind {
	kind, err := vectorstore.ParseKind(c.DefaultStore)
	if err != nil {
		return vectorstore.KindDocument
	}
	return kind
}

// MaxAge parses the retention age. Zero means retention is disabled.
func (c *Config) MaxAge() (time.Duration, error) {
	if c.Retention.MaxAge == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Retention.MaxAge)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("retention.max_age: invalid duration %q", c.Retention.MaxAge)
	}
	return d, nil
}

// AI converts the embedding section into an ai.Config.
func (c *Config) AI() (*ai.Config, error) {
	opts := []ai.ConfigOption{
		ai.WithEmbeddingHost(c.Embedding.Host),
		ai.WithToken(c.Embedding.Token),
		ai.WithEmbeddingModel(c.Embedding.Model),
		ai.WithRequestsPerSecond(c.Embedding.RequestsPerSecond),
	}
	load, err := parseOptionalDuration("embedding.load_timeout", c.Embedding.LoadTimeout)
	if err != nil {
		return nil, err
	}
	batch, err := parseOptionalDuration("embedding.batch_timeout", c.Embedding.BatchTimeout)
	if err != nil {
		return nil, err
	}
	opts = append(opts, ai.WithTimeouts(load, batch))
	cfg := ai.NewConfig(opts...)
	if cfg.EmbeddingHost == "" {
		cfg.EmbeddingHost = ai.DefaultConfig().EmbeddingHost
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseOptionalDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%s: invalid duration %q", field, s)
	}
	return d, nil
}
