package config

import (
	"fmt"
	"maps"
	"strings"

	"github.com/poiesic/tabvec/chunking"
	"github.com/poiesic/tabvec/core"
	"github.com/poiesic/tabvec/preprocess"
	"github.com/poiesic/tabvec/vectorstore"
)

// Mode is a layer mode. Each mode supplies a different set of defaults.
type Mode string

const (
	ModeFast   Mode = "fast"
	ModeConfig Mode = "config"
	ModeDeep   Mode = "deep"
)

// ParseMode validates a layer mode name. An empty name selects fast.
func ParseMode(name string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(name))); m {
	case "":
		return ModeFast, nil
	case ModeFast, ModeConfig, ModeDeep:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, name)
}

// Preprocessing holds the preprocessing section of a run config.
type Preprocessing struct {
	NullHandling     string            `toml:"null_handling,omitempty" yaml:"null_handling,omitempty" json:"null_handling,omitempty" validate:"omitempty,oneof=drop fill ignore"`
	FillStrategy     string            `toml:"fill_strategy,omitempty" yaml:"fill_strategy,omitempty" json:"fill_strategy,omitempty" validate:"omitempty,oneof=mean median mode custom"`
	FillValue        string            `toml:"fill_value,omitempty" yaml:"fill_value,omitempty" json:"fill_value,omitempty"`
	RemoveDuplicates *bool             `toml:"remove_duplicates,omitempty" yaml:"remove_duplicates,omitempty" json:"remove_duplicates,omitempty"`
	TypeConversions  map[string]string `toml:"type_conversions,omitempty" yaml:"type_conversions,omitempty" json:"type_conversions,omitempty"`
	TextProcessing   string            `toml:"text_processing,omitempty" yaml:"text_processing,omitempty" json:"text_processing,omitempty" validate:"omitempty,oneof=skip lowercase normalize"`
	RemoveStopwords  *bool             `toml:"remove_stopwords,omitempty" yaml:"remove_stopwords,omitempty" json:"remove_stopwords,omitempty"`
}

// Chunking holds the chunking section of a run config.
type Chunking struct {
	Method string          `toml:"method,omitempty" yaml:"method,omitempty" json:"method,omitempty"`
	Params chunking.Params `toml:"params,omitempty" yaml:"params,omitempty" json:"params,omitempty"`
}

// Embedding holds the embedding section of a run config. An empty model
// name selects the service default model.
type Embedding struct {
	ModelName string `toml:"model_name,omitempty" yaml:"model_name,omitempty" json:"model_name,omitempty"`
	BatchSize int    `toml:"batch_size,omitempty" yaml:"batch_size,omitempty" json:"batch_size,omitempty" validate:"omitempty,min=1,max=1024"`
}

// Storage holds the storage section of a run config. PersistDirectory is
// accepted for compatibility; collections always live under the service data
// directory.
type Storage struct {
	StoreType        string `toml:"store_type,omitempty" yaml:"store_type,omitempty" json:"store_type,omitempty" validate:"omitempty,oneof=document flat chroma faiss"`
	PersistDirectory string `toml:"persist_directory,omitempty" yaml:"persist_directory,omitempty" json:"persist_directory,omitempty"`
	SimilarityMetric string `toml:"similarity_metric,omitempty" yaml:"similarity_metric,omitempty" json:"similarity_metric,omitempty" validate:"omitempty,oneof=cosine euclidean dot l2 ip inner_product"`
}

// RunConfig is the user-supplied configuration of one processing run.
type RunConfig struct {
	Mode          Mode          `toml:"layer_mode,omitempty" yaml:"layer_mode,omitempty" json:"layer_mode,omitempty" validate:"omitempty,oneof=fast config deep"`
	Preprocessing Preprocessing `toml:"preprocessing,omitempty" yaml:"preprocessing,omitempty" json:"preprocessing,omitempty"`
	Chunking      Chunking      `toml:"chunking,omitempty" yaml:"chunking,omitempty" json:"chunking,omitempty"`
	Embedding     Embedding     `toml:"embedding,omitempty" yaml:"embedding,omitempty" json:"embedding,omitempty"`
	Storage       Storage       `toml:"storage,omitempty" yaml:"storage,omitempty" json:"storage,omitempty"`
}

// Resolved is a run config with every default applied and every value
// parsed into the type its stage consumes.
type Resolved struct {
	Mode       Mode
	Preprocess preprocess.Options
	Method     chunking.Method
	Params     chunking.Params
	Model      string
	BatchSize  int
	Kind       vectorstore.Kind
	Metric     vectorstore.Metric
}

func boolPtr(b bool) *bool { return &b }

// LayerDefaults returns the defaults of a layer mode.
func LayerDefaults(mode Mode) (RunConfig, error) {
	switch mode {
	case ModeFast, "":
		return RunConfig{
			Mode: ModeFast,
			Preprocessing: Preprocessing{
				RemoveDuplicates: boolPtr(true),
				TextProcessing:   string(preprocess.TextSkip),
			},
			Chunking: Chunking{
				Method: string(chunking.MethodFixed),
				Params: chunking.Params{ChunkSize: chunking.DefaultFixedChunkSize},
			},
			Embedding: Embedding{BatchSize: 32},
			Storage:   Storage{StoreType: string(vectorstore.KindDocument), SimilarityMetric: string(vectorstore.MetricCosine)},
		}, nil
	case ModeConfig:
		return RunConfig{
			Mode: ModeConfig,
			Preprocessing: Preprocessing{
				RemoveDuplicates: boolPtr(true),
				RemoveStopwords:  boolPtr(false),
				TextProcessing:   string(preprocess.TextSkip),
			},
			Chunking: Chunking{
				Method: string(chunking.MethodSemantic),
				Params: chunking.Params{NClusters: chunking.DefaultClusters},
			},
			Embedding: Embedding{BatchSize: 64},
			Storage:   Storage{StoreType: string(vectorstore.KindDocument), SimilarityMetric: string(vectorstore.MetricCosine)},
		}, nil
	case ModeDeep:
		return RunConfig{
			Mode: ModeDeep,
			Preprocessing: Preprocessing{
				RemoveDuplicates: boolPtr(false),
				RemoveStopwords:  boolPtr(false),
				TextProcessing:   string(preprocess.TextSkip),
			},
			Chunking: Chunking{
				Method: string(chunking.MethodDocumentBased),
				Params: chunking.Params{TokenLimit: chunking.DefaultTokenLimit},
			},
			Embedding: Embedding{BatchSize: 64},
			Storage:   Storage{StoreType: string(vectorstore.KindFlat), SimilarityMetric: string(vectorstore.MetricCosine)},
		}, nil
	}
	return RunConfig{}, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
}

// LoadRunConfig reads a run config from a TOML or YAML file.
func LoadRunConfig(path string) (*RunConfig, error) {
	var rc RunConfig
	if err := readFile(path, &rc); err != nil {
		return nil, err
	}
	return &rc, nil
}

// ParseRunConfig decodes a run config from data in the given format.
func ParseRunConfig(data []byte, format Format) (*RunConfig, error) {
	var rc RunConfig
	if err := decode(data, format, &rc); err != nil {
		return nil, err
	}
	return &rc, nil
}

// Merge returns the layer defaults of rc's mode with rc's settings laid over
// them. Chunking params from the defaults are kept only when rc uses the
// default method.
func (rc RunConfig) Merge() (RunConfig, error) {
	mode, err := ParseMode(string(rc.Mode))
	if err != nil {
		return RunConfig{}, core.NewValidationError("layer_mode", "%v", err)
	}
	out, err := LayerDefaults(mode)
	if err != nil {
		return RunConfig{}, err
	}

	p := rc.Preprocessing
	override(&out.Preprocessing.NullHandling, p.NullHandling)
	override(&out.Preprocessing.FillStrategy, p.FillStrategy)
	override(&out.Preprocessing.FillValue, p.FillValue)
	override(&out.Preprocessing.TextProcessing, p.TextProcessing)
	if p.RemoveDuplicates != nil {
		out.Preprocessing.RemoveDuplicates = p.RemoveDuplicates
	}
	if p.RemoveStopwords != nil {
		out.Preprocessing.RemoveStopwords = p.RemoveStopwords
	}
	if len(p.TypeConversions) > 0 {
		out.Preprocessing.TypeConversions = maps.Clone(p.TypeConversions)
	}

	if m := strings.ToLower(strings.TrimSpace(rc.Chunking.Method)); m != "" && m != out.Chunking.Method {
		out.Chunking = Chunking{Method: m, Params: rc.Chunking.Params}
	} else {
		out.Chunking.Params = mergeParams(out.Chunking.Params, rc.Chunking.Params)
	}

	override(&out.Embedding.ModelName, rc.Embedding.ModelName)
	if rc.Embedding.BatchSize != 0 {
		out.Embedding.BatchSize = rc.Embedding.BatchSize
	}

	override(&out.Storage.StoreType, rc.Storage.StoreType)
	override(&out.Storage.PersistDirectory, rc.Storage.PersistDirectory)
	override(&out.Storage.SimilarityMetric, rc.Storage.SimilarityMetric)
	return out, nil
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func mergeParams(base, over chunking.Params) chunking.Params {
	if over.ChunkSize != 0 {
		base.ChunkSize = over.ChunkSize
	}
	if over.Overlap != 0 {
		base.Overlap = over.Overlap
	}
	if over.MaxRows != 0 {
		base.MaxRows = over.MaxRows
	}
	if over.NClusters != 0 {
		base.NClusters = over.NClusters
	}
	if over.MaxIterations != 0 {
		base.MaxIterations = over.MaxIterations
	}
	if over.Seed != 0 {
		base.Seed = over.Seed
	}
	if over.UseEmbeddings {
		base.UseEmbeddings = true
	}
	if over.KeyColumn != "" {
		base.KeyColumn = over.KeyColumn
	}
	if over.TokenLimit != 0 {
		base.TokenLimit = over.TokenLimit
	}
	if over.NullKey != "" {
		base.NullKey = over.NullKey
	}
	return base
}

// Resolve validates rc, merges it over its layer defaults and parses the
// result. Any failure is a core.ValidationError or, for chunking settings,
// a core.InvalidParameterError.
func (rc RunConfig) Resolve() (*Resolved, error) {
	if err := check(&rc); err != nil {
		return nil, err
	}
	merged, err := rc.Merge()
	if err != nil {
		return nil, err
	}

	pre := preprocess.Options{
		NullHandling:   preprocess.NullHandling(merged.Preprocessing.NullHandling),
		FillStrategy:   preprocess.FillStrategy(merged.Preprocessing.FillStrategy),
		FillValue:      merged.Preprocessing.FillValue,
		TextProcessing: preprocess.TextProcessing(merged.Preprocessing.TextProcessing),
	}
	if merged.Preprocessing.RemoveDuplicates != nil {
		pre.RemoveDuplicates = *merged.Preprocessing.RemoveDuplicates
	}
	if merged.Preprocessing.RemoveStopwords != nil {
		pre.RemoveStopwords = *merged.Preprocessing.RemoveStopwords
	}
	if len(merged.Preprocessing.TypeConversions) > 0 {
		pre.TypeConversions = make(map[string]core.ColumnType, len(merged.Preprocessing.TypeConversions))
		for col, name := range merged.Preprocessing.TypeConversions {
			ct, err := core.ParseColumnType(name)
			if err != nil {
				return nil, core.NewValidationError("type_conversions", "column %q: %v", col, err)
			}
			pre.TypeConversions[col] = ct
		}
	}
	if err := pre.Validate(); err != nil {
		return nil, err
	}

	method, err := chunking.ParseMethod(merged.Chunking.Method)
	if err != nil {
		return nil, err
	}
	kind, err := vectorstore.ParseKind(merged.Storage.StoreType)
	if err != nil {
		return nil, core.NewValidationError("store_type", "%v", err)
	}
	metric, err := vectorstore.ParseMetric(merged.Storage.SimilarityMetric)
	if err != nil {
		return nil, core.NewValidationError("similarity_metric", "%v", err)
	}

	return &Resolved{
		Mode:       merged.Mode,
		Preprocess: pre,
		Method:     method,
		Params:     merged.Chunking.Params,
		Model:      merged.Embedding.ModelName,
		BatchSize:  merged.Embedding.BatchSize,
		Kind:       kind,
		Metric:     metric,
	}, nil
}
