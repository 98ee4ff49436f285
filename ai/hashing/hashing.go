// Package hashing provides an offline embedding model based on feature hashing.
//
// Model names have the form "hash-<dim>", for example "hash-256". Texts are
// split into lowercase word tokens and word bigrams; each feature is hashed
// with BLAKE2b into a signed bucket and the result is L2 normalized. The same
// text always yields the same vector, so the model is useful for tests and
// for deployments without an embedding service.
package hashing

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/go-crypt/x/blake2b"
	"github.com/poiesic/tabvec/ai"
)

// Prefix is the model name prefix handled by this package.
const Prefix = "hash-"

// DefaultDimension is used for the bare model name "hash".
const DefaultDimension = 384

// MaxDimension bounds the vector size.
const MaxDimension = 8192

// Embedder hashes text features into a fixed-size vector.
type Embedder struct {
	dim int
}

// New creates an embedder producing vectors of length dim.
func New(dim int) (*Embedder, error) {
	if dim <= 0 || dim > MaxDimension {
		return nil, fmt.Errorf("hashing: dimension must be in [1, %d], got %d", MaxDimension, dim)
	}
	return &Embedder{dim: dim}, nil
}

// ParseModel extracts the dimension from a model name.
func ParseModel(model string) (int, error) {
	if model == "hash" {
		return DefaultDimension, nil
	}
	if !strings.HasPrefix(model, Prefix) {
		return 0, fmt.Errorf("hashing: unsupported model %q", model)
	}
	dim, err := strconv.Atoi(strings.TrimPrefix(model, Prefix))
	if err != nil {
		return 0, fmt.Errorf("hashing: bad dimension in model %q: %w", model, err)
	}
	return dim, nil
}

// Loader resolves "hash-<dim>" model names.
func Loader() ai.Loader {
	return ai.LoaderFunc(func(ctx context.Context, model string) (ai.Embedder, error) {
		dim, err := ParseModel(model)
		if err != nil {
			return nil, err
		}
		return New(dim)
	})
}

// Dimension returns the vector size.
func (e *Embedder) Dimension() int {
	return e.dim
}

// EmbedText embeds a single text.
func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.embed(text), nil
}

// EmbedTexts embeds texts in order.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.embed(text)
	}
	return out, nil
}

func (e *Embedder) embed(text string) []float32 {
	vec := make([]float64, e.dim)
	tokens := tokenize(text)
	for i, tok := range tokens {
		e.add(vec, tok, 1)
		if i > 0 {
			e.add(vec, tokens[i-1]+" "+tok, 0.5)
		}
	}

	var sum float64
	for _, v := range vec {
		sum += v * v
	}
	out := make([]float32, e.dim)
	if sum == 0 {
		return out
	}
	norm := math.Sqrt(sum)
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out
}

func (e *Embedder) add(vec []float64, feature string, weight float64) {
	h, _ := blake2b.New(8, nil)
	h.Write([]byte(feature))
	sum := binary.LittleEndian.Uint64(h.Sum(nil))
	bucket := int(sum % uint64(e.dim))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	vec[bucket] += weight
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '.' && r != '-'
	})
}
