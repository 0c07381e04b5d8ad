package inference

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"
)

const (
	embedTimeout = 30 * time.Second
	probeTimeout = 2 * time.Second
)

// ollamaEmbedder produces embedding vectors through a local Ollama server.
type ollamaEmbedder struct {
	client *api.Client
	model  string
}

func newOllamaEmbedder(host, model string) (*ollamaEmbedder, error) {
	if host == "" {
		host = DefaultHost
	}
	if model == "" {
		model = DefaultEmbedModel
	}
	base, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("parse ollama host %q: %w", host, err)
	}
	return &ollamaEmbedder{
		client: api.NewClient(base, &http.Client{Timeout: embedTimeout}),
		model:  model,
	}, nil
}

// Available reports whether the Ollama server answers at all. Listing
// models is cheap and avoids a long generation timeout when the service
// is down.
func (e *ollamaEmbedder) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	_, err := e.client.List(ctx)
	return err == nil
}

func (e *ollamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.Embed(ctx, &api.EmbedRequest{
		Model: e.model,
		Input: text,
	})
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("ollama returned no embedding for model %s", e.model)
	}
	return resp.Embeddings[0], nil
}
