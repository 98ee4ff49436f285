package chunking

import (
	"fmt"
	"math"
	"strconv"

	"github.com/poiesic/tabvec/core"
)

// Params holds the union of strategy parameters. Zero values select defaults;
// each strategy reads only its own fields.
type Params struct {
	// fixed, recursive
	ChunkSize int `json:"chunk_size,omitempty" toml:"chunk_size,omitempty" yaml:"chunk_size,omitempty"`
	// fixed
	Overlap int `json:"overlap,omitempty" toml:"overlap,omitempty" yaml:"overlap,omitempty"`
	// recursive
	MaxRows int `json:"max_rows,omitempty" toml:"max_rows,omitempty" yaml:"max_rows,omitempty"`
	// semantic
	NClusters     int   `json:"n_clusters,omitempty" toml:"n_clusters,omitempty" yaml:"n_clusters,omitempty"`
	MaxIterations int   `json:"max_iterations,omitempty" toml:"max_iterations,omitempty" yaml:"max_iterations,omitempty"`
	Seed          int64 `json:"seed,omitempty" toml:"seed,omitempty" yaml:"seed,omitempty"`
	UseEmbeddings bool  `json:"use_embeddings,omitempty" toml:"use_embeddings,omitempty" yaml:"use_embeddings,omitempty"`
	// document_based
	KeyColumn  string `json:"key_column,omitempty" toml:"key_column,omitempty" yaml:"key_column,omitempty"`
	TokenLimit int    `json:"token_limit,omitempty" toml:"token_limit,omitempty" yaml:"token_limit,omitempty"`
	NullKey    string `json:"null_key,omitempty" toml:"null_key,omitempty" yaml:"null_key,omitempty"`
}

// ParamsFromMap decodes loosely typed parameters, as found in request payloads.
// Unknown keys are ignored; values of the wrong type are invalid parameters.
func ParamsFromMap(method Method, m map[string]any) (Params, error) {
	var p Params
	var err error
	for key, raw := range m {
		switch key {
		case "chunk_size":
			p.ChunkSize, err = intParam(method, key, raw)
		case "overlap":
			p.Overlap, err = intParam(method, key, raw)
		case "max_rows":
			p.MaxRows, err = intParam(method, key, raw)
		case "n_clusters":
			p.NClusters, err = intParam(method, key, raw)
		case "max_iterations":
			p.MaxIterations, err = intParam(method, key, raw)
		case "token_limit":
			p.TokenLimit, err = intParam(method, key, raw)
		case "seed":
			var seed int
			seed, err = intParam(method, key, raw)
			p.Seed = int64(seed)
		case "use_embeddings":
			b, ok := raw.(bool)
			if !ok {
				err = invalid(method, key, "must be a boolean")
			}
			p.UseEmbeddings = b
		case "key_column":
			p.KeyColumn, err = stringParam(method, key, raw)
		case "null_key":
			p.NullKey, err = stringParam(method, key, raw)
		}
		if err != nil {
			return Params{}, err
		}
	}
	return p, nil
}

func intParam(method Method, key string, raw any) (int, error) {
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, invalid(method, key, "must be an integer")
		}
		return int(v), nil
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, invalid(method, key, "must be an integer")
		}
		return n, nil
	case nil:
		return 0, nil
	}
	return 0, invalid(method, key, fmt.Sprintf("unsupported type %T", raw))
}

func stringParam(method Method, key string, raw any) (string, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case nil:
		return "", nil
	}
	return "", invalid(method, key, "must be a string")
}

func invalid(method Method, param, reason string) error {
	return &core.InvalidParameterError{Method: string(method), Param: param, Reason: reason}
}

func positiveOrDefault(method Method, param string, v, def int) (int, error) {
	if v < 0 {
		return 0, invalid(method, param, "must be a positive integer")
	}
	if v == 0 {
		return def, nil
	}
	return v, nil
}
