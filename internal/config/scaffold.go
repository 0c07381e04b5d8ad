package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// scaffoldTemplate is the commented config.yaml written by `wag config init`.
// Every key can also be set via a WAGGLE_* environment variable
// (e.g. WAGGLE_ACTOR, WAGGLE_DB_PATH, WAGGLE_INFERENCE_API_KEY).
const scaffoldTemplate = `# Waggle configuration file
# Settings here apply to all wag commands run in this repository.
# Environment variables (WAGGLE_* prefix) override values in this file.

# Name recorded as the acting agent on mail, events, and audit trails.
# Resolution order: --actor flag > WAGGLE_ACTOR > this key > git config
# user.name > hostname.
# actor: ""

# Database location. All projects share one global store by default
# (~/.config/waggle/core.db). Set a path here to pin this project to
# its own database.
# db:
#   path: ~/.config/waggle/core.db

# Enable JSON output by default (same as passing --json)
# json: false

mail:
  # Default page size for wag inbox
  max_inbox_limit: 5

reservation:
  # Seconds before an unreleased path reservation expires
  default_ttl_seconds: 3600

lock:
  # Seconds a held lock survives without a heartbeat
  default_ttl_seconds: 30
  # Acquisition retries before giving up
  max_retries: 10
  # Base backoff between retries, in milliseconds (doubles per attempt)
  base_delay_ms: 50

deferred:
  # Wait-side poll interval, in milliseconds
  poll_ms: 100
  # Seconds before an unresolved deferred value expires
  default_ttl_seconds: 300

memory:
  # Confidence decay half-life, in days
  half_life_days: 90
  # Cosine similarity required to auto-link related memories
  link_threshold: 0.75
  # Maximum auto-links recorded per stored memory
  link_limit: 5
  # Candidates considered by smart upsert
  upsert_top_k: 5
  # Similarity floor below which upsert inserts instead of updating
  upsert_floor: 0.60
  # Default result count for wag mem search
  top_k: 10

# Where snapshots land. Defaults to the project .waggle directory so they
# can be committed alongside the code they describe.
# snapshot:
#   cells_path: .waggle/cells.jsonl
#   memories_path: .waggle/memories.jsonl

inference:
  # Ollama-compatible endpoint used for embeddings and summaries
  host: http://localhost:11434
  # api_key: ""
  model: claude-3-5-haiku-20241022
  embed_model: mxbai-embed-large
`

// WriteScaffold writes the commented config.yaml template into dir, creating
// the directory if needed. An existing config.yaml is left untouched.
// Returns the config path and whether a file was written.
func WriteScaffold(dir string) (string, bool, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", false, fmt.Errorf("creating config dir: %w", err)
	}

	path := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return path, false, nil
	}

	if err := os.WriteFile(path, []byte(scaffoldTemplate), 0o644); err != nil {
		return "", false, fmt.Errorf("writing config scaffold: %w", err)
	}
	return path, true, nil
}
