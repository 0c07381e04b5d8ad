package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/untoldecay/waggle/internal/types"
)

// Search retrieves the memories most relevant to query. The vector path
// is preferred; when the filter demands full-text or no embedding
// backend answers, the FTS index serves instead. Scores are decayed by
// age and confidence before ranking.
func (s *Service) Search(ctx context.Context, query string, f types.MemorySearchFilter) ([]*types.MemorySearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, &types.ValidationError{Field: "query", Msg: "cannot be empty"}
	}
	if f.TopK <= 0 {
		f.TopK = DefaultTopK
	}

	if !f.FullText && s.inf != nil {
		vec, err := s.inf.Embed(ctx, query)
		switch {
		case err == nil:
			return s.vectorSearch(ctx, vec, f)
		case errors.Is(err, types.ErrInferenceUnavailable):
			s.logger.Debug("memory: vector search unavailable, using fts", "err", err)
		default:
			return nil, err
		}
	}
	return s.ftsSearch(ctx, query, f)
}

// FindValidAt retrieves memories whose validity window covers at.
func (s *Service) FindValidAt(ctx context.Context, query string, at time.Time, f types.MemorySearchFilter) ([]*types.MemorySearchResult, error) {
	f.ValidAt = &at
	return s.Search(ctx, query, f)
}

func (s *Service) vectorSearch(ctx context.Context, vec []float32, f types.MemorySearchFilter) ([]*types.MemorySearchResult, error) {
	candidates, err := s.embeddedMemories(ctx, f)
	if err != nil {
		return nil, err
	}

	results := make([]*types.MemorySearchResult, 0, len(candidates))
	for _, m := range candidates {
		results = append(results, &types.MemorySearchResult{
			Memory:     m,
			RawScore:   cosineSimilarity(vec, m.Embedding),
			MatchedVia: "vector",
		})
	}
	return s.rank(results, f), nil
}

func (s *Service) ftsSearch(ctx context.Context, query string, f types.MemorySearchFilter) ([]*types.MemorySearchResult, error) {
	where, args := buildMemoryWhere(f, "m.")
	// bm25 is smaller-is-better and non-positive for matches; flip and
	// squash it into [0,1) so both paths rank on the same scale.
	stmt := `SELECT ` + prefixColumns(memoryColumns, "m.") + `, bm25(memories_fts) AS rank
		FROM memories_fts
		JOIN memories m ON m.rowid = memories_fts.rowid
		WHERE memories_fts MATCH ? AND ` + where + `
		ORDER BY rank`
	args = append([]interface{}{ftsQuery(query)}, args...)

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("fts search: %w", err)
	}
	defer rows.Close()

	var results []*types.MemorySearchResult
	for rows.Next() {
		var rank float64
		m, err := scanMemoryWith(rows, &rank)
		if err != nil {
			return nil, fmt.Errorf("fts scan: %w", err)
		}
		goodness := -rank
		if goodness < 0 {
			goodness = 0
		}
		results = append(results, &types.MemorySearchResult{
			Memory:     m,
			RawScore:   goodness / (1 + goodness),
			MatchedVia: "fts",
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return s.rank(results, f), nil
}

// rank applies decay, drops results under MinScore, sorts descending,
// cuts to TopK, and clips content unless the caller asked to expand.
func (s *Service) rank(results []*types.MemorySearchResult, f types.MemorySearchFilter) []*types.MemorySearchResult {
	now := time.Now().UTC()
	kept := results[:0]
	for _, r := range results {
		age := now.Sub(r.Memory.UpdatedAt).Hours() / 24
		r.Decay = decayFactor(age, r.Memory.Confidence, s.params.HalfLifeDays)
		r.Score = r.RawScore * r.Decay
		if r.Score < f.MinScore {
			continue
		}
		kept = append(kept, r)
	}

	sort.Slice(kept, func(i, j int) bool {
		if kept[i].Score != kept[j].Score {
			return kept[i].Score > kept[j].Score
		}
		if !kept[i].Memory.UpdatedAt.Equal(kept[j].Memory.UpdatedAt) {
			return kept[i].Memory.UpdatedAt.After(kept[j].Memory.UpdatedAt)
		}
		return kept[i].Memory.ID < kept[j].Memory.ID
	})

	if len(kept) > f.TopK {
		kept = kept[:f.TopK]
	}
	if !f.Expand {
		for _, r := range kept {
			r.Memory.Information = clip(r.Memory.Information, clipLen)
		}
	}
	return kept
}

// embeddedMemories loads the filter's candidate rows that carry a vector.
func (s *Service) embeddedMemories(ctx context.Context, f types.MemorySearchFilter) ([]*types.Memory, error) {
	where, args := buildMemoryWhere(f, "")
	stmt := `SELECT ` + memoryColumns + ` FROM memories WHERE ` + where + ` AND embedding IS NOT NULL`

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("load embedded memories: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// similarByVector scores the project's embedded memories against vec and
// returns those at or above floor, best first. Raw similarity only; no
// decay, so the upsert decider and auto-linker see true distances.
func (s *Service) similarByVector(ctx context.Context, vec []float32, projectKey string, floor float64, limit int, excludeID string) ([]*types.MemorySearchResult, error) {
	candidates, err := s.embeddedMemories(ctx, types.MemorySearchFilter{ProjectKey: projectKey})
	if err != nil {
		return nil, err
	}

	var results []*types.MemorySearchResult
	for _, m := range candidates {
		if m.ID == excludeID {
			continue
		}
		sim := cosineSimilarity(vec, m.Embedding)
		if sim < floor {
			continue
		}
		results = append(results, &types.MemorySearchResult{
			Memory:     m,
			Score:      sim,
			RawScore:   sim,
			MatchedVia: "vector",
		})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].RawScore != results[j].RawScore {
			return results[i].RawScore > results[j].RawScore
		}
		return results[i].Memory.ID < results[j].Memory.ID
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// buildMemoryWhere renders the shared retrieval filter. Archived rows
// never surface; superseded rows only when asked. prefix qualifies
// column names for joined queries.
func buildMemoryWhere(f types.MemorySearchFilter, prefix string) (string, []interface{}) {
	conds := []string{prefix + "archived = 0"}
	var args []interface{}

	if f.ProjectKey != "" {
		conds = append(conds, prefix+"project_key = ?")
		args = append(args, f.ProjectKey)
	}
	if f.Category != "" {
		conds = append(conds, prefix+"category = ?")
		args = append(args, f.Category)
	}
	for _, tag := range f.Tags {
		// tags is a JSON array in text form; match the quoted token.
		conds = append(conds, prefix+"tags LIKE ?")
		args = append(args, `%"`+tag+`"%`)
	}
	if f.ValidAt != nil {
		conds = append(conds, "("+prefix+"valid_from IS NULL OR "+prefix+"valid_from <= ?)")
		conds = append(conds, "("+prefix+"valid_until IS NULL OR "+prefix+"valid_until > ?)")
		args = append(args, *f.ValidAt, *f.ValidAt)
	}
	if !f.IncludeSuperseded {
		conds = append(conds, "("+prefix+"superseded_by IS NULL OR "+prefix+"superseded_by = '')")
	}

	return strings.Join(conds, " AND "), args
}

// ftsQuery quotes each term so user input cannot inject FTS5 operators.
func ftsQuery(q string) string {
	fields := strings.Fields(q)
	for i, f := range fields {
		fields[i] = `"` + strings.ReplaceAll(f, `"`, `""`) + `"`
	}
	return strings.Join(fields, " ")
}

func prefixColumns(cols, prefix string) string {
	parts := strings.Split(cols, ",")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func clip(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}

// scanMemoryWith scans a memory row plus trailing extra columns.
func scanMemoryWith(row rowScanner, extra ...interface{}) (*types.Memory, error) {
	var (
		m          types.Memory
		blob       []byte
		tags       string
		keywords   string
		metadata   string
		validFrom  sql.NullTime
		validUntil sql.NullTime
		superseded sql.NullString
	)
	dest := []interface{}{
		&m.ID, &m.ProjectKey, &m.Information, &blob, &m.Confidence, &m.Category,
		&tags, &keywords, &metadata, &m.Source,
		&m.CreatedAt, &m.UpdatedAt, &validFrom, &validUntil, &superseded, &m.Archived,
	}
	dest = append(dest, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	m.Embedding = decodeEmbedding(blob)
	m.Tags = unmarshalList(tags)
	m.Keywords = unmarshalList(keywords)
	m.Metadata = unmarshalMap(metadata)
	if validFrom.Valid {
		t := validFrom.Time
		m.ValidFrom = &t
	}
	if validUntil.Valid {
		t := validUntil.Time
		m.ValidUntil = &t
	}
	m.SupersededBy = superseded.String
	return &m, nil
}
