package chunking

import (
	"log/slog"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter counts model tokens in a text.
type TokenCounter interface {
	Count(text string) int
}

// ApproxCounter estimates one token per four characters.
type ApproxCounter struct{}

func (ApproxCounter) Count(text string) int {
	return utf8.RuneCountInString(text) / 4
}

// TiktokenCounter counts tokens with a BPE encoding.
type TiktokenCounter struct {
	mu  sync.Mutex
	enc *tiktoken.Tiktoken
}

// NewTiktokenCounter loads the encoding of model, or cl100k_base when the model is unknown.
// Loading may download the encoding ranks on first use.
func NewTiktokenCounter(model string) (*TiktokenCounter, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, err
		}
	}
	return &TiktokenCounter{enc: enc}, nil
}

func (c *TiktokenCounter) Count(text string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.enc.Encode(text, nil, nil))
}

// DefaultTokenCounter returns a tiktoken counter for model, falling back to
// ApproxCounter when no encoding can be loaded.
func DefaultTokenCounter(model string, logger *slog.Logger) TokenCounter {
	tc, err := NewTiktokenCounter(model)
	if err != nil {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("tiktoken unavailable, using character estimate", "model", model, "err", err)
		return ApproxCounter{}
	}
	return tc
}
