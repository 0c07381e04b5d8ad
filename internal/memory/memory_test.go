package memory

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/untoldecay/waggle/internal/inference"
	"github.com/untoldecay/waggle/internal/schema"
	"github.com/untoldecay/waggle/internal/storage"
	"github.com/untoldecay/waggle/internal/storage/sqlite"
	"github.com/untoldecay/waggle/internal/types"
)

// stubInference is a scriptable Inference implementation. Embed serves
// preset vectors keyed by exact text; unknown texts share one default
// direction.
type stubInference struct {
	vectors    map[string][]float32
	embedErr   error
	decide     *types.SmartDecision
	decideErr  error
	tags       *inference.TagSuggestion
	tagsErr    error
	extract    *inference.Extraction
	extractErr error

	decideCalls int
}

func (s *stubInference) Embed(ctx context.Context, text string) ([]float32, error) {
	if s.embedErr != nil {
		return nil, s.embedErr
	}
	if v, ok := s.vectors[text]; ok {
		return v, nil
	}
	return basisVec(0), nil
}

func (s *stubInference) SuggestTags(ctx context.Context, information string) (*inference.TagSuggestion, error) {
	if s.tagsErr != nil {
		return nil, s.tagsErr
	}
	if s.tags == nil {
		return nil, errors.New("no tags scripted")
	}
	return s.tags, nil
}

func (s *stubInference) ExtractEntities(ctx context.Context, information string) (*inference.Extraction, error) {
	if s.extractErr != nil {
		return nil, s.extractErr
	}
	if s.extract == nil {
		return nil, errors.New("no extraction scripted")
	}
	return s.extract, nil
}

func (s *stubInference) DecideUpsert(ctx context.Context, information string, candidates []*types.MemorySearchResult) (*types.SmartDecision, error) {
	s.decideCalls++
	if s.decideErr != nil {
		return nil, s.decideErr
	}
	if s.decide == nil {
		return nil, errors.New("no decision scripted")
	}
	return s.decide, nil
}

// basisVec is a unit vector along one axis; two different axes have
// cosine similarity 0.
func basisVec(i int) []float32 {
	v := make([]float32, types.EmbeddingDims)
	v[i] = 1
	return v
}

// blendVec has cosine similarity exactly sim against basisVec(i).
func blendVec(i, j int, sim float64) []float32 {
	v := make([]float32, types.EmbeddingDims)
	v[i] = float32(sim)
	v[j] = float32(math.Sqrt(1 - sim*sim))
	return v
}

func setupTestStore(t *testing.T, inf Inference) (*Service, storage.Adapter) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	store, err := sqlite.New(context.Background(), path)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := schema.Migrate(context.Background(), store, nil); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return New(store, inf, Params{}, nil), store
}

func mustStore(t *testing.T, svc *Service, m *types.Memory, opts StoreOptions) *types.Memory {
	t.Helper()
	stored, err := svc.Store(context.Background(), m, opts)
	if err != nil {
		t.Fatalf("store failed: %v", err)
	}
	return stored
}

func TestStoreDefaultsAndGet(t *testing.T) {
	stub := &stubInference{vectors: map[string][]float32{}}
	svc, _ := setupTestStore(t, stub)
	ctx := context.Background()

	m := mustStore(t, svc, &types.Memory{
		ProjectKey:  "proj",
		Information: "the gateway listens on port 8080",
		Tags:        []string{"network"},
		Metadata:    map[string]string{"origin": "session-4"},
	}, StoreOptions{})

	if m.ID == "" {
		t.Fatal("no id minted")
	}
	if m.Confidence != 1.0 {
		t.Errorf("confidence = %g, want default 1.0", m.Confidence)
	}
	if m.CreatedAt.IsZero() || m.UpdatedAt.IsZero() {
		t.Error("timestamps not set")
	}

	got, err := svc.Get(ctx, m.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Information != m.Information {
		t.Errorf("information = %q", got.Information)
	}
	if len(got.Embedding) != types.EmbeddingDims {
		t.Errorf("embedding has %d dims, want %d", len(got.Embedding), types.EmbeddingDims)
	}
	if len(got.Tags) != 1 || got.Tags[0] != "network" {
		t.Errorf("tags = %v", got.Tags)
	}
	if got.Metadata["origin"] != "session-4" {
		t.Errorf("metadata = %v", got.Metadata)
	}
}

func TestStoreValidates(t *testing.T) {
	svc, _ := setupTestStore(t, nil)
	ctx := context.Background()

	var verr *types.ValidationError
	if _, err := svc.Store(ctx, &types.Memory{Information: "   "}, StoreOptions{}); !errors.As(err, &verr) {
		t.Errorf("blank information: want ValidationError, got %v", err)
	}
	if _, err := svc.Store(ctx, &types.Memory{Information: "x", Confidence: 1.5}, StoreOptions{}); !errors.As(err, &verr) {
		t.Errorf("confidence out of range: want ValidationError, got %v", err)
	}
}

func TestStoreWithoutInferenceKeepsRowUnembedded(t *testing.T) {
	svc, _ := setupTestStore(t, nil)

	m := mustStore(t, svc, &types.Memory{Information: "prefers tabs over spaces"}, StoreOptions{})
	got, err := svc.Get(context.Background(), m.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if len(got.Embedding) != 0 {
		t.Errorf("expected no embedding, got %d dims", len(got.Embedding))
	}
}

func TestVectorSearchRanksBySimilarity(t *testing.T) {
	stub := &stubInference{vectors: map[string][]float32{
		"query about the gateway": basisVec(1),
		"gateway config":          blendVec(1, 2, 0.95),
		"database creds":          blendVec(1, 2, 0.40),
		"unrelated trivia":        basisVec(3),
	}}
	svc, _ := setupTestStore(t, stub)
	ctx := context.Background()

	mustStore(t, svc, &types.Memory{ProjectKey: "proj", Information: "gateway config"}, StoreOptions{})
	mustStore(t, svc, &types.Memory{ProjectKey: "proj", Information: "database creds"}, StoreOptions{})
	mustStore(t, svc, &types.Memory{ProjectKey: "proj", Information: "unrelated trivia"}, StoreOptions{})

	results, err := svc.Search(ctx, "query about the gateway", types.MemorySearchFilter{ProjectKey: "proj", TopK: 2})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Memory.Information != "gateway config" {
		t.Errorf("top hit = %q", results[0].Memory.Information)
	}
	if results[0].MatchedVia != "vector" {
		t.Errorf("matched via %q, want vector", results[0].MatchedVia)
	}
	if results[0].Score <= results[1].Score {
		t.Errorf("scores not descending: %g then %g", results[0].Score, results[1].Score)
	}
	if results[0].RawScore < 0.94 || results[0].RawScore > 0.96 {
		t.Errorf("raw score = %g, want ~0.95", results[0].RawScore)
	}
}

func TestSearchClipsContentUnlessExpanded(t *testing.T) {
	long := strings.Repeat("deploy notes ", 30) // ~390 runes
	stub := &stubInference{vectors: map[string][]float32{
		"deploy": basisVec(1),
		long:     basisVec(1),
	}}
	svc, _ := setupTestStore(t, stub)
	ctx := context.Background()

	mustStore(t, svc, &types.Memory{Information: long}, StoreOptions{})

	clipped, err := svc.Search(ctx, "deploy", types.MemorySearchFilter{})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if got := len([]rune(clipped[0].Memory.Information)); got != clipLen+1 {
		t.Errorf("clipped length = %d runes, want %d plus ellipsis", got, clipLen)
	}
	if !strings.HasSuffix(clipped[0].Memory.Information, "…") {
		t.Error("clipped content should end with ellipsis")
	}

	expanded, err := svc.Search(ctx, "deploy", types.MemorySearchFilter{Expand: true})
	if err != nil {
		t.Fatalf("expanded search failed: %v", err)
	}
	if expanded[0].Memory.Information != long {
		t.Error("expanded search should keep full content")
	}
}

func TestSearchFallsBackToFTS(t *testing.T) {
	stub := &stubInference{vectors: map[string][]float32{}}
	svc, _ := setupTestStore(t, stub)
	ctx := context.Background()

	mustStore(t, svc, &types.Memory{Information: "the websocket proxy buffers frames"}, StoreOptions{})

	stub.embedErr = types.ErrInferenceUnavailable
	results, err := svc.Search(ctx, "websocket proxy", types.MemorySearchFilter{})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].MatchedVia != "fts" {
		t.Errorf("matched via %q, want fts", results[0].MatchedVia)
	}
	if results[0].Score <= 0 {
		t.Errorf("fts score = %g, want > 0", results[0].Score)
	}
}

func TestSearchFullTextForced(t *testing.T) {
	stub := &stubInference{vectors: map[string][]float32{}}
	svc, _ := setupTestStore(t, stub)
	ctx := context.Background()

	mustStore(t, svc, &types.Memory{Information: "retries use exponential backoff"}, StoreOptions{})

	results, err := svc.Search(ctx, `exponential "backoff`, types.MemorySearchFilter{FullText: true})
	if err != nil {
		t.Fatalf("quoted query should not break fts: %v", err)
	}
	if len(results) != 1 || results[0].MatchedVia != "fts" {
		t.Fatalf("results = %+v", results)
	}
}

func TestDecayLowersStaleResults(t *testing.T) {
	stub := &stubInference{vectors: map[string][]float32{
		"lookup": basisVec(1),
		"fresh":  basisVec(1),
		"stale":  basisVec(1),
	}}
	svc, store := setupTestStore(t, stub)
	ctx := context.Background()

	mustStore(t, svc, &types.Memory{Information: "fresh"}, StoreOptions{})
	old := mustStore(t, svc, &types.Memory{Information: "stale"}, StoreOptions{})

	// Backdate far beyond the full-confidence half-life of 135 days.
	backThen := time.Now().UTC().AddDate(-2, 0, 0)
	if _, err := store.ExecContext(ctx, `UPDATE memories SET updated_at = ? WHERE id = ?`, backThen, old.ID); err != nil {
		t.Fatalf("backdate failed: %v", err)
	}

	results, err := svc.Search(ctx, "lookup", types.MemorySearchFilter{})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Memory.Information != "fresh" {
		t.Errorf("fresh memory should outrank stale twin, got %q first", results[0].Memory.Information)
	}
	if results[1].Decay >= 0.05 {
		t.Errorf("two-year-old decay = %g, want < 0.05", results[1].Decay)
	}
}

func TestFindValidAt(t *testing.T) {
	stub := &stubInference{vectors: map[string][]float32{
		"staging url": basisVec(1),
		"old url":     basisVec(1),
		"current url": basisVec(1),
	}}
	svc, _ := setupTestStore(t, stub)
	ctx := context.Background()

	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	until := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	mustStore(t, svc, &types.Memory{Information: "old url", ValidFrom: &from, ValidUntil: &until}, StoreOptions{})
	mustStore(t, svc, &types.Memory{Information: "current url", ValidFrom: &until}, StoreOptions{})

	during, err := svc.FindValidAt(ctx, "staging url", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), types.MemorySearchFilter{})
	if err != nil {
		t.Fatalf("find valid at failed: %v", err)
	}
	if len(during) != 1 || during[0].Memory.Information != "old url" {
		t.Fatalf("march lookup = %+v", during)
	}

	// The window is half-open: at valid_until the next memory takes over.
	after, err := svc.FindValidAt(ctx, "staging url", until, types.MemorySearchFilter{})
	if err != nil {
		t.Fatalf("find valid at failed: %v", err)
	}
	if len(after) != 1 || after[0].Memory.Information != "current url" {
		t.Fatalf("june lookup = %+v", after)
	}
}

func TestSupersedeAndChain(t *testing.T) {
	stub := &stubInference{vectors: map[string][]float32{}}
	svc, _ := setupTestStore(t, stub)
	ctx := context.Background()

	a := mustStore(t, svc, &types.Memory{Information: "api lives at v1"}, StoreOptions{})
	b := mustStore(t, svc, &types.Memory{Information: "api lives at v2"}, StoreOptions{})
	c := mustStore(t, svc, &types.Memory{Information: "api lives at v3"}, StoreOptions{})

	if err := svc.Supersede(ctx, a.ID, b.ID); err != nil {
		t.Fatalf("supersede a->b failed: %v", err)
	}
	if err := svc.Supersede(ctx, b.ID, c.ID); err != nil {
		t.Fatalf("supersede b->c failed: %v", err)
	}

	oldA, err := svc.Get(ctx, a.ID)
	if err != nil {
		t.Fatalf("get a: %v", err)
	}
	if oldA.SupersededBy != b.ID {
		t.Errorf("a.superseded_by = %q, want %s", oldA.SupersededBy, b.ID)
	}
	if oldA.ValidUntil == nil {
		t.Error("superseding should close a's validity window")
	}

	chain, err := svc.SupersessionChain(ctx, b.ID)
	if err != nil {
		t.Fatalf("chain failed: %v", err)
	}
	if len(chain) != 3 {
		t.Fatalf("chain length = %d, want 3", len(chain))
	}
	if chain[0].ID != a.ID || chain[1].ID != b.ID || chain[2].ID != c.ID {
		t.Errorf("chain order = %s, %s, %s", chain[0].ID, chain[1].ID, chain[2].ID)
	}

	links, err := svc.Links(ctx, c.ID)
	if err != nil {
		t.Fatalf("links failed: %v", err)
	}
	if len(links) != 1 || links[0].Type != types.LinkSupersedes {
		t.Errorf("links on c = %+v", links)
	}
}

func TestSupersededHiddenFromSearchByDefault(t *testing.T) {
	stub := &stubInference{vectors: map[string][]float32{
		"port":             basisVec(1),
		"port is 8080":     basisVec(1),
		"port is now 9090": basisVec(1),
	}}
	svc, _ := setupTestStore(t, stub)
	ctx := context.Background()

	old := mustStore(t, svc, &types.Memory{Information: "port is 8080"}, StoreOptions{})
	cur := mustStore(t, svc, &types.Memory{Information: "port is now 9090"}, StoreOptions{})
	if err := svc.Supersede(ctx, old.ID, cur.ID); err != nil {
		t.Fatalf("supersede failed: %v", err)
	}

	results, err := svc.Search(ctx, "port", types.MemorySearchFilter{})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 1 || results[0].Memory.ID != cur.ID {
		t.Fatalf("default search should hide superseded rows, got %+v", results)
	}

	all, err := svc.Search(ctx, "port", types.MemorySearchFilter{IncludeSuperseded: true})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("IncludeSuperseded should surface both rows, got %d", len(all))
	}
}

func TestSupersedeRejectsCycleAndDouble(t *testing.T) {
	svc, _ := setupTestStore(t, &stubInference{})
	ctx := context.Background()

	a := mustStore(t, svc, &types.Memory{Information: "fact one"}, StoreOptions{})
	b := mustStore(t, svc, &types.Memory{Information: "fact two"}, StoreOptions{})
	c := mustStore(t, svc, &types.Memory{Information: "fact three"}, StoreOptions{})

	if err := svc.Supersede(ctx, a.ID, a.ID); err == nil {
		t.Error("self-supersession should fail")
	}
	if err := svc.Supersede(ctx, a.ID, b.ID); err != nil {
		t.Fatalf("supersede a->b failed: %v", err)
	}

	var verr *types.ValidationError
	if err := svc.Supersede(ctx, b.ID, a.ID); !errors.As(err, &verr) {
		t.Errorf("cycle: want ValidationError, got %v", err)
	}
	if err := svc.Supersede(ctx, a.ID, c.ID); !errors.As(err, &verr) {
		t.Errorf("double supersession: want ValidationError, got %v", err)
	}
	// Same assignment again is idempotent.
	if err := svc.Supersede(ctx, a.ID, b.ID); err != nil {
		t.Errorf("repeat of same supersession should be a no-op, got %v", err)
	}
}

func TestUpsertAddsWhenStoreIsEmpty(t *testing.T) {
	stub := &stubInference{vectors: map[string][]float32{}}
	svc, _ := setupTestStore(t, stub)

	res, err := svc.Upsert(context.Background(), &types.Memory{Information: "first fact"}, UpsertOptions{UseSmartOps: true})
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if res.Decision.Op != types.OpAdd {
		t.Errorf("op = %s, want ADD", res.Decision.Op)
	}
	if res.Memory == nil || res.Memory.ID == "" {
		t.Fatal("no memory stored")
	}
	if stub.decideCalls != 0 {
		t.Errorf("decider should not run without candidates, ran %d times", stub.decideCalls)
	}
}

func TestUpsertUpdateViaDecider(t *testing.T) {
	stub := &stubInference{vectors: map[string][]float32{
		"gateway on 8080": basisVec(1),
		"gateway on 8443": blendVec(1, 2, 0.95),
	}}
	svc, _ := setupTestStore(t, stub)
	ctx := context.Background()

	orig := mustStore(t, svc, &types.Memory{Information: "gateway on 8080"}, StoreOptions{})
	stub.decide = &types.SmartDecision{Op: types.OpUpdate, TargetID: orig.ID, Reason: "port moved"}

	res, err := svc.Upsert(ctx, &types.Memory{Information: "gateway on 8443"}, UpsertOptions{UseSmartOps: true})
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if res.Decision.Op != types.OpUpdate || res.Memory.ID != orig.ID {
		t.Fatalf("result = %+v", res)
	}
	if res.Memory.Information != "gateway on 8443" {
		t.Errorf("information = %q, want overwritten", res.Memory.Information)
	}

	updated, err := svc.Get(ctx, orig.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if cosineSimilarity(updated.Embedding, blendVec(1, 2, 0.95)) < 0.999 {
		t.Error("embedding should be re-embedded to the new content")
	}
}

func TestUpsertDeleteViaDecider(t *testing.T) {
	stub := &stubInference{vectors: map[string][]float32{
		"flag removed": blendVec(1, 2, 0.93),
		"flag exists":  basisVec(1),
	}}
	svc, _ := setupTestStore(t, stub)
	ctx := context.Background()

	target := mustStore(t, svc, &types.Memory{Information: "flag exists"}, StoreOptions{})
	stub.decide = &types.SmartDecision{Op: types.OpDelete, TargetID: target.ID, Reason: "flag was removed"}

	res, err := svc.Upsert(ctx, &types.Memory{Information: "flag removed"}, UpsertOptions{UseSmartOps: true})
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if res.Memory != nil {
		t.Error("delete result should carry no memory")
	}
	if _, err := svc.Get(ctx, target.ID); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("target should be gone, got %v", err)
	}
}

func TestUpsertHeuristicFallback(t *testing.T) {
	cases := []struct {
		name   string
		sim    float64
		wantOp types.SmartOp
	}{
		{"near identical is noop", 0.99, types.OpNoop},
		{"very similar updates", 0.94, types.OpUpdate},
		{"loosely similar adds", 0.70, types.OpAdd},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stub := &stubInference{
				vectors: map[string][]float32{
					"existing fact": basisVec(1),
					"incoming fact": blendVec(1, 2, tc.sim),
				},
				decideErr: errors.New("model is down"),
			}
			svc, _ := setupTestStore(t, stub)
			ctx := context.Background()

			existing := mustStore(t, svc, &types.Memory{Information: "existing fact"}, StoreOptions{})

			res, err := svc.Upsert(ctx, &types.Memory{Information: "incoming fact"}, UpsertOptions{UseSmartOps: true})
			if err != nil {
				t.Fatalf("upsert failed: %v", err)
			}
			if res.Decision.Op != tc.wantOp {
				t.Fatalf("op = %s, want %s (reason %q)", res.Decision.Op, tc.wantOp, res.Decision.Reason)
			}
			if !strings.Contains(res.Decision.Reason, "heuristic") {
				t.Errorf("reason should note the heuristic: %q", res.Decision.Reason)
			}
			if tc.wantOp == types.OpUpdate && res.Memory.ID != existing.ID {
				t.Errorf("update should target %s, got %s", existing.ID, res.Memory.ID)
			}
		})
	}
}

func TestUpsertDegradesToAddWhenInferenceUnavailable(t *testing.T) {
	stub := &stubInference{embedErr: types.ErrInferenceUnavailable}
	svc, _ := setupTestStore(t, stub)

	res, err := svc.Upsert(context.Background(), &types.Memory{Information: "still worth keeping"}, UpsertOptions{UseSmartOps: true})
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if res.Decision.Op != types.OpAdd {
		t.Errorf("op = %s, want ADD", res.Decision.Op)
	}
	if !strings.Contains(res.Decision.Reason, "unavailable") {
		t.Errorf("reason should mark the degradation: %q", res.Decision.Reason)
	}
	if res.Memory == nil {
		t.Fatal("memory should still be stored")
	}
}

func TestAutoTagFillsEmptyFields(t *testing.T) {
	stub := &stubInference{
		vectors: map[string][]float32{},
		tags: &inference.TagSuggestion{
			Tags:     []string{"ci", "flaky", "testing"},
			Keywords: []string{"retry", "timeout", "pipeline", "integration", "nightly"},
			Category: "fact",
		},
	}
	svc, _ := setupTestStore(t, stub)

	m := mustStore(t, svc, &types.Memory{Information: "nightly integration tests flake on timeouts"}, StoreOptions{AutoTag: true})
	got, err := svc.Get(context.Background(), m.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if len(got.Tags) != 3 || got.Category != "fact" || len(got.Keywords) != 5 {
		t.Errorf("classification = tags %v, keywords %v, category %q", got.Tags, got.Keywords, got.Category)
	}
}

func TestAutoTagFailureStillStores(t *testing.T) {
	stub := &stubInference{vectors: map[string][]float32{}, tagsErr: errors.New("model is down")}
	svc, _ := setupTestStore(t, stub)

	m := mustStore(t, svc, &types.Memory{Information: "tagging can fail quietly"}, StoreOptions{AutoTag: true})
	got, err := svc.Get(context.Background(), m.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if len(got.Tags) != 0 {
		t.Errorf("tags should stay empty, got %v", got.Tags)
	}
}

func TestAutoLinkConnectsNeighbors(t *testing.T) {
	stub := &stubInference{vectors: map[string][]float32{
		"first note on caching":  basisVec(1),
		"second note on caching": blendVec(1, 2, 0.90),
		"note about dns":         basisVec(3),
	}}
	svc, _ := setupTestStore(t, stub)
	ctx := context.Background()

	first := mustStore(t, svc, &types.Memory{Information: "first note on caching"}, StoreOptions{})
	mustStore(t, svc, &types.Memory{Information: "note about dns"}, StoreOptions{})
	second := mustStore(t, svc, &types.Memory{Information: "second note on caching"}, StoreOptions{AutoLink: true})

	links, err := svc.Links(ctx, second.ID)
	if err != nil {
		t.Fatalf("links failed: %v", err)
	}
	if len(links) != 1 {
		t.Fatalf("got %d links, want 1 (dns note is under the threshold)", len(links))
	}
	l := links[0]
	if l.SourceID != second.ID || l.TargetID != first.ID || l.Type != types.LinkRelated {
		t.Errorf("link = %+v", l)
	}
	if l.Strength < 0.89 || l.Strength > 0.91 {
		t.Errorf("strength = %g, want the similarity ~0.90", l.Strength)
	}
}

func TestLinkValidationAndRemoval(t *testing.T) {
	svc, _ := setupTestStore(t, &stubInference{})
	ctx := context.Background()

	a := mustStore(t, svc, &types.Memory{Information: "left"}, StoreOptions{})
	b := mustStore(t, svc, &types.Memory{Information: "right"}, StoreOptions{})

	var verr *types.ValidationError
	if err := svc.AddLink(ctx, &types.MemoryLink{SourceID: a.ID, TargetID: a.ID, Type: types.LinkRelated}); !errors.As(err, &verr) {
		t.Errorf("self-link: want ValidationError, got %v", err)
	}
	if err := svc.AddLink(ctx, &types.MemoryLink{SourceID: a.ID, TargetID: "nope", Type: types.LinkRelated}); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("missing endpoint: want ErrNotFound, got %v", err)
	}

	link := &types.MemoryLink{SourceID: a.ID, TargetID: b.ID, Type: types.LinkContradicts, Strength: 0.8}
	if err := svc.AddLink(ctx, link); err != nil {
		t.Fatalf("add link failed: %v", err)
	}
	// Duplicate is silently kept.
	if err := svc.AddLink(ctx, link); err != nil {
		t.Fatalf("duplicate link should be silent, got %v", err)
	}
	links, err := svc.Links(ctx, b.ID)
	if err != nil {
		t.Fatalf("links failed: %v", err)
	}
	if len(links) != 1 {
		t.Fatalf("got %d links, want 1", len(links))
	}

	if err := svc.RemoveLink(ctx, a.ID, b.ID, types.LinkContradicts); err != nil {
		t.Fatalf("remove link failed: %v", err)
	}
	if err := svc.RemoveLink(ctx, a.ID, b.ID, types.LinkContradicts); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("second removal: want ErrNotFound, got %v", err)
	}
}

func TestEntityExtractionDedupes(t *testing.T) {
	ext := &inference.Extraction{
		Entities: []inference.ExtractedEntity{
			{Name: "redis", Type: "technology"},
			{Name: "auth service", Type: "project"},
		},
		Triples: []inference.ExtractedTriple{
			{Subject: "auth service", Predicate: "uses", Object: "redis"},
		},
	}
	stub := &stubInference{vectors: map[string][]float32{}, extract: ext}
	svc, _ := setupTestStore(t, stub)
	ctx := context.Background()

	m1 := mustStore(t, svc, &types.Memory{ProjectKey: "proj", Information: "auth service caches sessions in redis"}, StoreOptions{ExtractEntities: true})
	mustStore(t, svc, &types.Memory{ProjectKey: "proj", Information: "redis again backs the auth service"}, StoreOptions{ExtractEntities: true})

	entities, err := svc.Entities(ctx, "proj")
	if err != nil {
		t.Fatalf("entities failed: %v", err)
	}
	if len(entities) != 2 {
		t.Fatalf("got %d entities, want 2 (deduplicated)", len(entities))
	}
	for _, e := range entities {
		if e.MentionCount != 2 {
			t.Errorf("entity %q mention_count = %d, want 2", e.Name, e.MentionCount)
		}
	}

	rels, err := svc.Relationships(ctx, "proj")
	if err != nil {
		t.Fatalf("relationships failed: %v", err)
	}
	if len(rels) != 1 {
		t.Fatalf("got %d relationships, want 1 (triple deduplicated)", len(rels))
	}
	if rels[0].Predicate != "uses" || rels[0].MemoryID != m1.ID {
		t.Errorf("relationship = %+v", rels[0])
	}

	mentioned, err := svc.EntitiesForMemory(ctx, m1.ID)
	if err != nil {
		t.Fatalf("entities for memory failed: %v", err)
	}
	if len(mentioned) != 2 {
		t.Errorf("memory should mention 2 entities, got %d", len(mentioned))
	}
}

func TestDeleteCascades(t *testing.T) {
	ext := &inference.Extraction{
		Entities: []inference.ExtractedEntity{{Name: "nginx", Type: "technology"}},
	}
	stub := &stubInference{vectors: map[string][]float32{}, extract: ext}
	svc, store := setupTestStore(t, stub)
	ctx := context.Background()

	a := mustStore(t, svc, &types.Memory{Information: "nginx fronts everything"}, StoreOptions{ExtractEntities: true})
	b := mustStore(t, svc, &types.Memory{Information: "nginx terminates tls"}, StoreOptions{})
	if err := svc.AddLink(ctx, &types.MemoryLink{SourceID: a.ID, TargetID: b.ID, Type: types.LinkRelated}); err != nil {
		t.Fatalf("add link failed: %v", err)
	}

	if err := svc.Delete(ctx, a.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := svc.Get(ctx, a.ID); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("get after delete: want ErrNotFound, got %v", err)
	}
	if err := svc.Delete(ctx, a.ID); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("double delete: want ErrNotFound, got %v", err)
	}

	var links int
	if err := store.QueryRowContext(ctx, `SELECT COUNT(*) FROM memory_links WHERE source_id = ? OR target_id = ?`, a.ID, a.ID).Scan(&links); err != nil {
		t.Fatalf("count links: %v", err)
	}
	if links != 0 {
		t.Errorf("links should cascade away, found %d", links)
	}
	var junctions int
	if err := store.QueryRowContext(ctx, `SELECT COUNT(*) FROM memory_entities WHERE memory_id = ?`, a.ID).Scan(&junctions); err != nil {
		t.Fatalf("count junctions: %v", err)
	}
	if junctions != 0 {
		t.Errorf("entity junctions should cascade away, found %d", junctions)
	}
}

func TestArchiveHidesFromRetrieval(t *testing.T) {
	stub := &stubInference{vectors: map[string][]float32{
		"secret": basisVec(1),
		"odd":    basisVec(1),
	}}
	svc, _ := setupTestStore(t, stub)
	ctx := context.Background()

	m := mustStore(t, svc, &types.Memory{Information: "odd"}, StoreOptions{})
	if err := svc.Archive(ctx, m.ID); err != nil {
		t.Fatalf("archive failed: %v", err)
	}

	results, err := svc.Search(ctx, "secret", types.MemorySearchFilter{})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("archived memory should not surface, got %+v", results)
	}
	if _, err := svc.Get(ctx, m.ID); err != nil {
		t.Errorf("archived memory should still be fetchable: %v", err)
	}
}

func TestListNewestFirst(t *testing.T) {
	svc, store := setupTestStore(t, nil)
	ctx := context.Background()

	first := mustStore(t, svc, &types.Memory{ProjectKey: "proj", Information: "first"}, StoreOptions{})
	second := mustStore(t, svc, &types.Memory{ProjectKey: "proj", Information: "second"}, StoreOptions{})
	if _, err := store.ExecContext(ctx, `UPDATE memories SET created_at = ? WHERE id = ?`,
		time.Now().UTC().Add(-time.Hour), first.ID); err != nil {
		t.Fatalf("backdate failed: %v", err)
	}

	got, err := svc.List(ctx, "proj", 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(got) != 2 || got[0].ID != second.ID {
		t.Fatalf("list order wrong: %+v", got)
	}
}
