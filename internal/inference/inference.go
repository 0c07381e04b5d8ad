// Package inference wraps the two external model backends the memory
// subsystem leans on: an Ollama-served embedding model and an Anthropic
// completion model for the structured-JSON tasks (upsert decisions,
// tagging, entity extraction). Both backends are optional; every caller
// is expected to branch on types.ErrInferenceUnavailable and degrade
// rather than fail.
package inference

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/untoldecay/waggle/internal/types"
)

// Defaults for Config zero values.
const (
	DefaultHost       = "http://localhost:11434"
	DefaultEmbedModel = "mxbai-embed-large"
	DefaultModel      = "claude-3-5-haiku-20241022"
)

// Embedder turns text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Completer answers a single prompt with a single text response.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Config selects and parameterizes the backends. Zero values pick the
// defaults above; an empty APIKey (and no ANTHROPIC_API_KEY in the
// environment) leaves the completion side unavailable.
type Config struct {
	Host       string // Ollama base URL
	EmbedModel string // Ollama embedding model name
	APIKey     string // Anthropic API key
	Model      string // Anthropic model name
	Dims       int    // expected embedding width, default types.EmbeddingDims
}

// Client bundles the backends behind one availability-aware surface.
type Client struct {
	embedder  Embedder
	completer Completer
	dims      int
	logger    *slog.Logger
}

// New builds a client from config. Backends that cannot be constructed
// are left nil; the client still works for whatever remains. Env var
// ANTHROPIC_API_KEY takes precedence over the configured key.
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	dims := cfg.Dims
	if dims <= 0 {
		dims = types.EmbeddingDims
	}

	c := &Client{dims: dims, logger: logger}
	embedder, err := newOllamaEmbedder(cfg.Host, cfg.EmbedModel)
	if err != nil {
		logger.Debug("inference: embedding backend disabled", "error", err)
	} else {
		c.embedder = embedder
	}

	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		apiKey = cfg.APIKey
	}
	if apiKey != "" {
		c.completer = newAnthropicCompleter(apiKey, cfg.Model)
	} else {
		logger.Debug("inference: no API key; completion tasks disabled")
	}
	return c
}

// NewWithBackends wires explicit backends. Either may be nil.
func NewWithBackends(embedder Embedder, completer Completer, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{embedder: embedder, completer: completer, dims: types.EmbeddingDims, logger: logger}
}

// Embed produces an embedding for text, enforcing the configured width
// so a misconfigured model cannot poison the store with short vectors.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if c == nil || c.embedder == nil {
		return nil, types.ErrInferenceUnavailable
	}
	vec, err := c.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInferenceUnavailable, err)
	}
	if len(vec) != c.dims {
		return nil, fmt.Errorf("embedding has %d dimensions, want %d (wrong model?)", len(vec), c.dims)
	}
	return vec, nil
}

// Complete runs one prompt through the completion backend.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	if c == nil || c.completer == nil {
		return "", types.ErrInferenceUnavailable
	}
	return c.completer.Complete(ctx, prompt)
}

// CanEmbed reports whether an embedding backend is wired.
func (c *Client) CanEmbed() bool { return c != nil && c.embedder != nil }

// CanComplete reports whether a completion backend is wired.
func (c *Client) CanComplete() bool { return c != nil && c.completer != nil }

// prober is implemented by backends that can cheaply report liveness.
type prober interface {
	Available(ctx context.Context) bool
}

// EmbedderReady probes the embedding backend without producing a vector.
// Backends without a probe are assumed ready when wired.
func (c *Client) EmbedderReady(ctx context.Context) bool {
	if c == nil || c.embedder == nil {
		return false
	}
	if p, ok := c.embedder.(prober); ok {
		return p.Available(ctx)
	}
	return true
}
