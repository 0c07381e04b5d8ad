package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/untoldecay/waggle/internal/types"
)

// candidateClip bounds how much of each existing memory the decider
// prompt carries.
const candidateClip = 400

// TagSuggestion is the classification the tagging task returns.
type TagSuggestion struct {
	Tags     []string `json:"tags"`
	Keywords []string `json:"keywords"`
	Category string   `json:"category"`
}

// ExtractedEntity is one named entity found in a memory.
type ExtractedEntity struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// ExtractedTriple is one subject-predicate-object relationship.
type ExtractedTriple struct {
	Subject   string `json:"subject"`
	Predicate string `json:"predicate"`
	Object    string `json:"object"`
}

// Extraction is the full entity-extraction result for one memory.
type Extraction struct {
	Entities []ExtractedEntity `json:"entities"`
	Triples  []ExtractedTriple `json:"triples"`
}

// entityTypes is the allowed vocabulary; anything else is normalized
// to concept.
var entityTypes = map[string]bool{
	"person":     true,
	"project":    true,
	"technology": true,
	"concept":    true,
}

// NormalizeEntityType maps free-form model output onto the vocabulary.
func NormalizeEntityType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	if entityTypes[t] {
		return t
	}
	return "concept"
}

const tagPrompt = `Classify this note from a coding agent's memory store.

NOTE:
%s

Reply with ONLY a JSON object, no prose:
{"tags": [...], "keywords": [...], "category": "..."}

Rules:
- "tags": 3 to 5 short topical tags, lowercase.
- "keywords": 5 to 10 searchable terms that appear in or describe the note, lowercase.
- "category": one lowercase word, e.g. decision, fact, preference, procedure, context.`

// SuggestTags asks the completion backend to classify a memory. The
// caller treats any error as "store without tags".
func (c *Client) SuggestTags(ctx context.Context, information string) (*TagSuggestion, error) {
	raw, err := c.Complete(ctx, fmt.Sprintf(tagPrompt, information))
	if err != nil {
		return nil, err
	}
	var out TagSuggestion
	if err := json.Unmarshal([]byte(cleanJSON(raw)), &out); err != nil {
		return nil, fmt.Errorf("parse tag response: %w (response: %s)", err, raw)
	}
	out.Category = strings.ToLower(strings.TrimSpace(out.Category))
	return &out, nil
}

const extractPrompt = `Extract named entities and relationships from this note.

NOTE:
%s

Reply with ONLY a JSON object, no prose:
{
  "entities": [{"name": "...", "type": "person|project|technology|concept"}],
  "triples": [{"subject": "...", "predicate": "...", "object": "..."}]
}

Rules:
- Each name is a single lowercase string, never an array.
- Every triple subject and object must also appear in "entities".
- Predicates are short lowercase verb phrases like "uses" or "depends on".
- Omit entities you are not confident about.`

// ExtractEntities asks the completion backend for the entity graph of a
// memory. Entities with empty or one-rune names are dropped; unknown
// types collapse to concept.
func (c *Client) ExtractEntities(ctx context.Context, information string) (*Extraction, error) {
	raw, err := c.Complete(ctx, fmt.Sprintf(extractPrompt, information))
	if err != nil {
		return nil, err
	}
	var out Extraction
	if err := json.Unmarshal([]byte(cleanJSON(raw)), &out); err != nil {
		return nil, fmt.Errorf("parse extraction response: %w (response: %s)", err, raw)
	}

	kept := out.Entities[:0]
	for _, e := range out.Entities {
		e.Name = strings.ToLower(strings.TrimSpace(e.Name))
		if len(e.Name) < 2 {
			continue
		}
		e.Type = NormalizeEntityType(e.Type)
		kept = append(kept, e)
	}
	out.Entities = kept
	return &out, nil
}

const decidePrompt = `You maintain a store of a coding agent's memories. Decide how the NEW
information relates to the EXISTING memories below.

NEW:
%s

EXISTING:
%s

Reply with ONLY a JSON object, no prose:
{"op": "ADD|UPDATE|DELETE|NOOP", "target_id": "...", "reason": "..."}

Rules:
- ADD: nothing existing covers this; store it as a new memory.
- UPDATE: an existing memory states the same fact but is outdated or
  less complete; target_id names it and its content will be replaced.
- DELETE: the new information invalidates an existing memory outright;
  target_id names the memory to remove.
- NOOP: an existing memory already says this; write nothing.
- target_id is required for UPDATE and DELETE and must be one of the
  listed ids.`

// DecideUpsert asks the completion backend to choose the smart-upsert
// operation. The decision is validated against the candidate set; an
// op that names an unknown target is an error so the caller can fall
// back to its similarity heuristic.
func (c *Client) DecideUpsert(ctx context.Context, information string, candidates []*types.MemorySearchResult) (*types.SmartDecision, error) {
	var sb strings.Builder
	for i, cand := range candidates {
		fmt.Fprintf(&sb, "[%d] id=%s similarity=%.2f: %s\n", i+1, cand.Memory.ID, cand.RawScore, clipRunes(cand.Memory.Information, candidateClip))
	}

	raw, err := c.Complete(ctx, fmt.Sprintf(decidePrompt, information, sb.String()))
	if err != nil {
		return nil, err
	}

	var d types.SmartDecision
	if err := json.Unmarshal([]byte(cleanJSON(raw)), &d); err != nil {
		return nil, fmt.Errorf("parse decision: %w (response: %s)", err, raw)
	}
	d.Op = types.SmartOp(strings.ToUpper(strings.TrimSpace(string(d.Op))))
	if !d.Op.IsValid() {
		return nil, fmt.Errorf("decider returned unknown op %q", d.Op)
	}

	switch d.Op {
	case types.OpUpdate, types.OpDelete:
		if d.TargetID == "" {
			return nil, fmt.Errorf("decider chose %s without a target", d.Op)
		}
	case types.OpAdd:
		d.TargetID = ""
	}
	if d.TargetID != "" && !containsCandidate(candidates, d.TargetID) {
		return nil, fmt.Errorf("decider target %s is not among the candidates", d.TargetID)
	}
	return &d, nil
}

func containsCandidate(candidates []*types.MemorySearchResult, id string) bool {
	for _, c := range candidates {
		if c.Memory.ID == id {
			return true
		}
	}
	return false
}

// cleanJSON strips the markdown code fences models add despite
// instructions.
func cleanJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func clipRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
