package inference

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/untoldecay/waggle/internal/types"
)

type completerFunc func(ctx context.Context, prompt string) (string, error)

func (f completerFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

func fakeOllama(t *testing.T, dims int, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req struct {
			Model string `json:"model"`
			Input string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model == "" || req.Input == "" {
			t.Errorf("request missing fields: %+v", req)
		}
		if status != http.StatusOK {
			http.Error(w, `{"error":"backend down"}`, status)
			return
		}
		vec := make([]float32, dims)
		for i := range vec {
			vec[i] = float32(i%7) / 7
		}
		json.NewEncoder(w).Encode(struct {
			Model      string      `json:"model"`
			Embeddings [][]float32 `json:"embeddings"`
		}{Model: req.Model, Embeddings: [][]float32{vec}})
	}))
}

func TestEmbedViaOllama(t *testing.T) {
	srv := fakeOllama(t, types.EmbeddingDims, http.StatusOK)
	defer srv.Close()

	c := New(Config{Host: srv.URL}, nil)
	vec, err := c.Embed(context.Background(), "the gateway runs on port 8443")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != types.EmbeddingDims {
		t.Fatalf("got %d dims, want %d", len(vec), types.EmbeddingDims)
	}
}

func TestEmbedRejectsWrongWidth(t *testing.T) {
	srv := fakeOllama(t, 768, http.StatusOK)
	defer srv.Close()

	c := New(Config{Host: srv.URL}, nil)
	_, err := c.Embed(context.Background(), "anything")
	if err == nil {
		t.Fatal("expected dimension error")
	}
	if errors.Is(err, types.ErrInferenceUnavailable) {
		t.Fatalf("dimension mismatch should not read as unavailable: %v", err)
	}
	if !strings.Contains(err.Error(), "768") {
		t.Fatalf("error should name the bad width: %v", err)
	}
}

func TestEmbedBackendFailureReadsAsUnavailable(t *testing.T) {
	srv := fakeOllama(t, 0, http.StatusInternalServerError)
	defer srv.Close()

	c := New(Config{Host: srv.URL}, nil)
	_, err := c.Embed(context.Background(), "anything")
	if !errors.Is(err, types.ErrInferenceUnavailable) {
		t.Fatalf("want ErrInferenceUnavailable, got %v", err)
	}
}

func TestNilBackendsAreUnavailable(t *testing.T) {
	c := NewWithBackends(nil, nil, nil)
	if _, err := c.Embed(context.Background(), "x"); !errors.Is(err, types.ErrInferenceUnavailable) {
		t.Fatalf("Embed: want ErrInferenceUnavailable, got %v", err)
	}
	if _, err := c.Complete(context.Background(), "x"); !errors.Is(err, types.ErrInferenceUnavailable) {
		t.Fatalf("Complete: want ErrInferenceUnavailable, got %v", err)
	}
	if c.CanEmbed() || c.CanComplete() {
		t.Fatal("nil backends should not report capable")
	}
}

func TestSuggestTagsParsesFencedJSON(t *testing.T) {
	stub := completerFunc(func(ctx context.Context, prompt string) (string, error) {
		if !strings.Contains(prompt, "prefers rebase over merge") {
			t.Errorf("prompt missing memory content")
		}
		return "```json\n{\"tags\":[\"git\",\"workflow\",\"preference\"],\"keywords\":[\"rebase\",\"merge\",\"history\",\"commits\",\"linear\"],\"category\":\"Preference\"}\n```", nil
	})
	c := NewWithBackends(nil, stub, nil)

	got, err := c.SuggestTags(context.Background(), "user prefers rebase over merge")
	if err != nil {
		t.Fatalf("SuggestTags: %v", err)
	}
	if len(got.Tags) != 3 || got.Tags[0] != "git" {
		t.Fatalf("tags = %v", got.Tags)
	}
	if got.Category != "preference" {
		t.Fatalf("category should be lowercased, got %q", got.Category)
	}
}

func TestSuggestTagsRejectsGarbage(t *testing.T) {
	stub := completerFunc(func(ctx context.Context, prompt string) (string, error) {
		return "sure! here are some tags: git, workflow", nil
	})
	c := NewWithBackends(nil, stub, nil)
	if _, err := c.SuggestTags(context.Background(), "x"); err == nil {
		t.Fatal("expected parse error for non-JSON response")
	}
}

func TestExtractEntitiesNormalizes(t *testing.T) {
	stub := completerFunc(func(ctx context.Context, prompt string) (string, error) {
		return `{"entities":[
			{"name":"Redis","type":"Technology"},
			{"name":"x","type":"concept"},
			{"name":"auth service","type":"microservice"}
		],"triples":[{"subject":"auth service","predicate":"uses","object":"redis"}]}`, nil
	})
	c := NewWithBackends(nil, stub, nil)

	got, err := c.ExtractEntities(context.Background(), "the auth service caches sessions in redis")
	if err != nil {
		t.Fatalf("ExtractEntities: %v", err)
	}
	if len(got.Entities) != 2 {
		t.Fatalf("want 2 entities after filtering, got %d: %+v", len(got.Entities), got.Entities)
	}
	if got.Entities[0].Name != "redis" || got.Entities[0].Type != "technology" {
		t.Fatalf("first entity not normalized: %+v", got.Entities[0])
	}
	if got.Entities[1].Type != "concept" {
		t.Fatalf("unknown type should collapse to concept, got %q", got.Entities[1].Type)
	}
	if len(got.Triples) != 1 || got.Triples[0].Predicate != "uses" {
		t.Fatalf("triples = %+v", got.Triples)
	}
}

func decideCandidates() []*types.MemorySearchResult {
	return []*types.MemorySearchResult{
		{Memory: &types.Memory{ID: "mem-1", Information: "gateway listens on 8080"}, RawScore: 0.94},
		{Memory: &types.Memory{ID: "mem-2", Information: "deploys go through argo"}, RawScore: 0.71},
	}
}

func TestDecideUpsert(t *testing.T) {
	stub := completerFunc(func(ctx context.Context, prompt string) (string, error) {
		if !strings.Contains(prompt, "mem-1") || !strings.Contains(prompt, "similarity=0.94") {
			t.Errorf("prompt should list candidates with scores")
		}
		return `{"op":"update","target_id":"mem-1","reason":"port changed"}`, nil
	})
	c := NewWithBackends(nil, stub, nil)

	d, err := c.DecideUpsert(context.Background(), "gateway now listens on 8443", decideCandidates())
	if err != nil {
		t.Fatalf("DecideUpsert: %v", err)
	}
	if d.Op != types.OpUpdate || d.TargetID != "mem-1" {
		t.Fatalf("decision = %+v", d)
	}
}

func TestDecideUpsertValidation(t *testing.T) {
	cases := []struct {
		name string
		resp string
	}{
		{"update without target", `{"op":"UPDATE","reason":"x"}`},
		{"unknown op", `{"op":"MERGE","target_id":"mem-1"}`},
		{"target not a candidate", `{"op":"DELETE","target_id":"mem-99"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stub := completerFunc(func(ctx context.Context, prompt string) (string, error) {
				return tc.resp, nil
			})
			c := NewWithBackends(nil, stub, nil)
			if _, err := c.DecideUpsert(context.Background(), "new info", decideCandidates()); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestDecideUpsertClearsTargetOnAdd(t *testing.T) {
	stub := completerFunc(func(ctx context.Context, prompt string) (string, error) {
		return `{"op":"ADD","target_id":"mem-1","reason":"novel"}`, nil
	})
	c := NewWithBackends(nil, stub, nil)
	d, err := c.DecideUpsert(context.Background(), "new info", decideCandidates())
	if err != nil {
		t.Fatalf("DecideUpsert: %v", err)
	}
	if d.TargetID != "" {
		t.Fatalf("ADD should drop its target, got %q", d.TargetID)
	}
}
