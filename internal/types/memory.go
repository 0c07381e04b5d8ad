package types

import (
	"fmt"
	"time"
)

// EmbeddingDims is the fixed dimensionality of memory vectors. Rows with a
// different dimensionality are rejected at write so the store never mixes
// vector spaces.
const EmbeddingDims = 1024

// Memory is one unit of semantic memory: free-form information with an
// optional embedding, classification metadata, temporal validity, and a
// supersession pointer.
type Memory struct {
	ID           string            `json:"id"`
	ProjectKey   string            `json:"project_key,omitempty"`
	Information  string            `json:"information"`
	Embedding    []float32         `json:"-"`
	Confidence   float64           `json:"confidence"`
	Category     string            `json:"category,omitempty"`
	Tags         []string          `json:"tags,omitempty"`
	Keywords     []string          `json:"keywords,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Source       string            `json:"source,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	ValidFrom    *time.Time        `json:"valid_from,omitempty"`
	ValidUntil   *time.Time        `json:"valid_until,omitempty"`
	SupersededBy string            `json:"superseded_by,omitempty"`
	Archived     bool              `json:"archived,omitempty"`
}

// Validate checks memory invariants before store.
func (m *Memory) Validate() error {
	if m.Information == "" {
		return fmt.Errorf("memory information cannot be empty")
	}
	if m.Confidence < 0 || m.Confidence > 1 {
		return fmt.Errorf("memory confidence must be in [0,1] (got %g)", m.Confidence)
	}
	if len(m.Embedding) != 0 && len(m.Embedding) != EmbeddingDims {
		return fmt.Errorf("memory embedding must have %d dimensions (got %d)", EmbeddingDims, len(m.Embedding))
	}
	if m.ValidFrom != nil && m.ValidUntil != nil && m.ValidUntil.Before(*m.ValidFrom) {
		return fmt.Errorf("memory valid_until precedes valid_from")
	}
	return nil
}

// ValidAt reports whether the memory's validity window covers the instant.
// Open-ended bounds are treated as infinite in that direction.
func (m *Memory) ValidAt(at time.Time) bool {
	if m.ValidFrom != nil && at.Before(*m.ValidFrom) {
		return false
	}
	if m.ValidUntil != nil && !at.Before(*m.ValidUntil) {
		return false
	}
	return true
}

// LinkType relates two memories.
type LinkType string

const (
	LinkRelated     LinkType = "related"
	LinkContradicts LinkType = "contradicts"
	LinkSupersedes  LinkType = "supersedes"
	LinkElaborates  LinkType = "elaborates"
)

// IsValid checks the link type.
func (l LinkType) IsValid() bool {
	switch l {
	case LinkRelated, LinkContradicts, LinkSupersedes, LinkElaborates:
		return true
	}
	return false
}

// MemoryLink is a directed, typed edge between two memories with a
// strength in [0,1].
type MemoryLink struct {
	SourceID  string    `json:"source_id"`
	TargetID  string    `json:"target_id"`
	Type      LinkType  `json:"type"`
	Strength  float64   `json:"strength"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks link invariants.
func (l *MemoryLink) Validate() error {
	if l.SourceID == "" || l.TargetID == "" {
		return fmt.Errorf("link endpoints cannot be empty")
	}
	if l.SourceID == l.TargetID {
		return fmt.Errorf("memory cannot link to itself: %s", l.SourceID)
	}
	if !l.Type.IsValid() {
		return fmt.Errorf("invalid link type: %s", l.Type)
	}
	if l.Strength < 0 || l.Strength > 1 {
		return fmt.Errorf("link strength must be in [0,1] (got %g)", l.Strength)
	}
	return nil
}

// Entity is a node in the knowledge graph extracted from memories.
// Names are deduplicated case-insensitively per (project, type).
type Entity struct {
	ID           int64     `json:"id"`
	ProjectKey   string    `json:"project_key,omitempty"`
	Name         string    `json:"name"`
	Type         string    `json:"type"`
	CreatedAt    time.Time `json:"created_at"`
	MentionCount int       `json:"mention_count,omitempty"`
}

// Relationship is a (subject, predicate, object) triple between entities,
// with the memory that evidenced it as provenance.
type Relationship struct {
	ID         int64     `json:"id"`
	ProjectKey string    `json:"project_key,omitempty"`
	SourceID   int64     `json:"source_entity_id"`
	TargetID   int64     `json:"target_entity_id"`
	Predicate  string    `json:"predicate"`
	MemoryID   string    `json:"memory_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// MemorySearchResult is one ranked hit: the memory plus its retrieval
// score after decay adjustment.
type MemorySearchResult struct {
	Memory     *Memory `json:"memory"`
	Score      float64 `json:"score"`
	RawScore   float64 `json:"raw_score"`
	Decay      float64 `json:"decay"`
	MatchedVia string  `json:"matched_via,omitempty"`
}

// SmartOp is the action the upsert decider chose.
type SmartOp string

const (
	OpAdd    SmartOp = "ADD"
	OpUpdate SmartOp = "UPDATE"
	OpDelete SmartOp = "DELETE"
	OpNoop   SmartOp = "NOOP"
)

// IsValid checks the smart operation.
func (o SmartOp) IsValid() bool {
	switch o {
	case OpAdd, OpUpdate, OpDelete, OpNoop:
		return true
	}
	return false
}

// SmartDecision is the decider's verdict on how new information relates
// to what the store already holds.
type SmartDecision struct {
	Op       SmartOp `json:"op"`
	TargetID string  `json:"target_id,omitempty"`
	Reason   string  `json:"reason,omitempty"`
}

// MemorySearchFilter narrows semantic search. FullText forces the FTS
// path even when an embedding backend is reachable.
type MemorySearchFilter struct {
	ProjectKey        string
	Category          string
	Tags              []string
	ValidAt           *time.Time
	TopK              int
	MinScore          float64
	Expand            bool
	FullText          bool
	IncludeSuperseded bool
}
