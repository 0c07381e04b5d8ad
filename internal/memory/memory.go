// Package memory implements the semantic memory store: embedded rows
// with cosine retrieval and an FTS fallback, confidence-adjusted decay,
// temporal validity windows, supersession chains, typed links, and an
// entity/relationship graph extracted from content. Inference-backed
// enrichment (tagging, linking, extraction) is best-effort throughout;
// the durable write never fails because a model call did.
package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/untoldecay/waggle/internal/inference"
	"github.com/untoldecay/waggle/internal/storage"
	"github.com/untoldecay/waggle/internal/types"
)

// Defaults for Params zero values.
const (
	DefaultHalfLifeDays  = 90.0
	DefaultLinkThreshold = 0.75
	DefaultLinkLimit     = 5
	DefaultUpsertTopK    = 5
	DefaultUpsertFloor   = 0.60
	DefaultTopK          = 10

	// clipLen is the rune budget for non-expanded search results.
	clipLen = 200
)

// Inference is the slice of the model client this store consumes. It is
// satisfied by *inference.Client; tests substitute stubs.
type Inference interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	SuggestTags(ctx context.Context, information string) (*inference.TagSuggestion, error)
	ExtractEntities(ctx context.Context, information string) (*inference.Extraction, error)
	DecideUpsert(ctx context.Context, information string, candidates []*types.MemorySearchResult) (*types.SmartDecision, error)
}

// Params tunes retrieval and enrichment. Zero values pick the defaults.
type Params struct {
	HalfLifeDays  float64 // base decay half-life in days
	LinkThreshold float64 // minimum similarity for an auto-link
	LinkLimit     int     // auto-links per stored memory
	UpsertTopK    int     // candidate count handed to the decider
	UpsertFloor   float64 // minimum similarity for an upsert candidate
}

func (p Params) withDefaults() Params {
	if p.HalfLifeDays <= 0 {
		p.HalfLifeDays = DefaultHalfLifeDays
	}
	if p.LinkThreshold <= 0 {
		p.LinkThreshold = DefaultLinkThreshold
	}
	if p.LinkLimit <= 0 {
		p.LinkLimit = DefaultLinkLimit
	}
	if p.UpsertTopK <= 0 {
		p.UpsertTopK = DefaultUpsertTopK
	}
	if p.UpsertFloor <= 0 {
		p.UpsertFloor = DefaultUpsertFloor
	}
	return p
}

// Service is the semantic memory store.
type Service struct {
	db     storage.Adapter
	inf    Inference
	params Params
	logger *slog.Logger
}

// New creates a memory service. inf may be nil: vector search then falls
// back to FTS and all enrichment is skipped.
func New(db storage.Adapter, inf Inference, params Params, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{db: db, inf: inf, params: params.withDefaults(), logger: logger}
}

// StoreOptions selects the opt-in enrichment passes.
type StoreOptions struct {
	AutoTag         bool
	AutoLink        bool
	ExtractEntities bool
}

// Store persists a memory. Missing IDs are minted, zero confidence means
// full confidence, and the content is embedded when a backend is
// reachable. The row insert is the only step that can fail; every
// enrichment degrades to a debug log line.
func (s *Service) Store(ctx context.Context, m *types.Memory, opts StoreOptions) (*types.Memory, error) {
	if m == nil {
		return nil, &types.ValidationError{Field: "memory", Msg: "cannot be nil"}
	}
	m.Information = strings.TrimSpace(m.Information)

	now := time.Now().UTC()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = m.CreatedAt
	}
	if m.Confidence == 0 {
		m.Confidence = 1.0
	}
	if err := m.Validate(); err != nil {
		return nil, &types.ValidationError{Field: "memory", Msg: err.Error()}
	}

	if len(m.Embedding) == 0 && s.inf != nil {
		vec, err := s.inf.Embed(ctx, m.Information)
		if err != nil {
			s.logger.Debug("memory: storing without embedding", "id", m.ID, "err", err)
		} else {
			m.Embedding = vec
		}
	}

	if opts.AutoTag && s.inf != nil {
		s.autoTag(ctx, m)
	}

	if err := s.insert(ctx, m); err != nil {
		return nil, err
	}

	if opts.AutoLink && len(m.Embedding) > 0 {
		s.autoLink(ctx, m)
	}
	if opts.ExtractEntities && s.inf != nil {
		s.extractAndStoreEntities(ctx, m)
	}
	return m, nil
}

// autoTag fills empty classification fields from the tagging task.
func (s *Service) autoTag(ctx context.Context, m *types.Memory) {
	if len(m.Tags) > 0 && len(m.Keywords) > 0 && m.Category != "" {
		return
	}
	ts, err := s.inf.SuggestTags(ctx, m.Information)
	if err != nil {
		s.logger.Debug("memory: auto-tag skipped", "id", m.ID, "err", err)
		return
	}
	if len(m.Tags) == 0 {
		m.Tags = ts.Tags
	}
	if len(m.Keywords) == 0 {
		m.Keywords = ts.Keywords
	}
	if m.Category == "" {
		m.Category = ts.Category
	}
}

func (s *Service) insert(ctx context.Context, m *types.Memory) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memories (
			id, project_key, information, embedding, confidence, category,
			tags, keywords, metadata, source,
			created_at, updated_at, valid_from, valid_until, superseded_by, archived
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ProjectKey, m.Information, encodeEmbedding(m.Embedding), m.Confidence, m.Category,
		marshalList(m.Tags), marshalList(m.Keywords), marshalMap(m.Metadata), m.Source,
		m.CreatedAt, m.UpdatedAt, m.ValidFrom, m.ValidUntil, nullIfEmpty(m.SupersededBy), m.Archived,
	)
	if err != nil {
		return fmt.Errorf("store memory %s: %w", m.ID, err)
	}
	return nil
}

// Get fetches one memory by id.
func (s *Service) Get(ctx context.Context, id string) (*types.Memory, error) {
	return getMemory(ctx, s.db, id)
}

// Delete removes a memory outright. Links and entity junctions cascade.
func (s *Service) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete memory %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("memory %s: %w", id, types.ErrNotFound)
	}
	return nil
}

// Archive hides a memory from retrieval without destroying it.
func (s *Service) Archive(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE memories SET archived = 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("archive memory %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("memory %s: %w", id, types.ErrNotFound)
	}
	return nil
}

// List returns memories for a project, newest first. Superseded and
// archived rows are included; this is the audit surface, not retrieval.
func (s *Service) List(ctx context.Context, projectKey string, limit int) ([]*types.Memory, error) {
	query := `SELECT ` + memoryColumns + ` FROM memories`
	var args []interface{}
	if projectKey != "" {
		query += ` WHERE project_key = ?`
		args = append(args, projectKey)
	}
	query += ` ORDER BY created_at DESC, id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// memoryColumns is the canonical select list for memory rows.
const memoryColumns = `id, project_key, information, embedding, confidence, category,
	tags, keywords, metadata, source,
	created_at, updated_at, valid_from, valid_until, superseded_by, archived`

func getMemory(ctx context.Context, q storage.Querier, id string) (*types.Memory, error) {
	row := q.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id)
	m, err := scanMemory(row)
	if storage.IsNoRows(err) {
		return nil, fmt.Errorf("memory %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get memory %s: %w", id, err)
	}
	return m, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMemory(row rowScanner) (*types.Memory, error) {
	return scanMemoryWith(row)
}

func scanMemories(rows *sql.Rows) ([]*types.Memory, error) {
	var out []*types.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func marshalList(v []string) string {
	if len(v) == 0 {
		return "[]"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func unmarshalList(s string) []string {
	if s == "" || s == "[]" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

func marshalMap(v map[string]string) string {
	if len(v) == 0 {
		return "{}"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func unmarshalMap(s string) map[string]string {
	if s == "" || s == "{}" {
		return nil
	}
	var out map[string]string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
