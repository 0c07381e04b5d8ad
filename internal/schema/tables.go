// Package schema declares the waggle store layout and reconciles live
// databases against it. The declared descriptors are the source of truth:
// the migration runner introspects what a database actually has and
// repairs the difference, instead of trusting a version number to imply a
// shape.
package schema

import (
	"fmt"
	"strings"
)

// ColType is a declared column affinity.
type ColType string

const (
	ColInteger ColType = "INTEGER"
	ColText    ColType = "TEXT"
	ColReal    ColType = "REAL"
	ColBlob    ColType = "BLOB"
	ColTime    ColType = "DATETIME"
)

// Column declares one column.
type Column struct {
	Name          string
	Type          ColType
	NotNull       bool
	Default       string // SQL literal; empty means no default
	PrimaryKey    bool
	Autoincrement bool
}

// Index declares a secondary index on a table.
type Index struct {
	Name    string
	Columns []string
	Unique  bool
}

// Table declares one table: columns, composite keys, and any trailing
// constraint clauses (CHECKs, FOREIGN KEYs) appended verbatim.
type Table struct {
	Name        string
	Columns     []Column
	PrimaryKey  []string // composite, used when no column is PrimaryKey
	Uniques     [][]string
	Constraints []string
	Indexes     []Index

	// RecreateOnDrift marks tables whose rows are ephemeral bookkeeping:
	// on any column mismatch the runner drops and recreates them instead
	// of refusing. Cursor and cache tables only.
	RecreateOnDrift bool
}

// CreateSQL renders the CREATE TABLE statement for the declared table.
func (t *Table) CreateSQL() string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", t.Name)
	parts := make([]string, 0, len(t.Columns)+3)
	for _, c := range t.Columns {
		parts = append(parts, "    "+c.columnSQL())
	}
	if len(t.PrimaryKey) > 0 {
		parts = append(parts, fmt.Sprintf("    PRIMARY KEY (%s)", strings.Join(t.PrimaryKey, ", ")))
	}
	for _, u := range t.Uniques {
		parts = append(parts, fmt.Sprintf("    UNIQUE (%s)", strings.Join(u, ", ")))
	}
	for _, c := range t.Constraints {
		parts = append(parts, "    "+c)
	}
	b.WriteString(strings.Join(parts, ",\n"))
	b.WriteString("\n)")
	return b.String()
}

func (c *Column) columnSQL() string {
	var b strings.Builder
	b.WriteString(c.Name)
	b.WriteString(" ")
	b.WriteString(string(c.Type))
	if c.PrimaryKey {
		b.WriteString(" PRIMARY KEY")
		if c.Autoincrement {
			b.WriteString(" AUTOINCREMENT")
		}
	}
	if c.NotNull {
		b.WriteString(" NOT NULL")
	}
	if c.Default != "" {
		b.WriteString(" DEFAULT ")
		b.WriteString(c.Default)
	}
	return b.String()
}

// IndexSQL renders the CREATE INDEX statements for the table.
func (t *Table) IndexSQL() []string {
	out := make([]string, 0, len(t.Indexes))
	for _, ix := range t.Indexes {
		unique := ""
		if ix.Unique {
			unique = "UNIQUE "
		}
		out = append(out, fmt.Sprintf("CREATE %sINDEX IF NOT EXISTS %s ON %s(%s)",
			unique, ix.Name, t.Name, strings.Join(ix.Columns, ", ")))
	}
	return out
}

// column looks up a declared column by name.
func (t *Table) column(name string) (*Column, bool) {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i], true
		}
	}
	return nil, false
}

// Tables is the declared store layout, in creation order (referenced
// tables first).
var Tables = []*Table{
	// Append-only event log. Sequence is store-wide monotonic, assigned
	// inside the append transaction.
	{
		Name: "events",
		Columns: []Column{
			{Name: "id", Type: ColInteger, PrimaryKey: true, Autoincrement: true},
			{Name: "sequence", Type: ColInteger, NotNull: true},
			{Name: "stream", Type: ColText, NotNull: true},
			{Name: "project_key", Type: ColText, NotNull: true, Default: "''"},
			{Name: "entity_id", Type: ColText, NotNull: true, Default: "''"},
			{Name: "type", Type: ColText, NotNull: true},
			{Name: "actor", Type: ColText, NotNull: true, Default: "''"},
			{Name: "created_at", Type: ColTime, NotNull: true, Default: "CURRENT_TIMESTAMP"},
			{Name: "payload", Type: ColText, NotNull: true, Default: "'{}'"},
		},
		Uniques: [][]string{{"sequence"}},
		Indexes: []Index{
			{Name: "idx_events_stream_seq", Columns: []string{"stream", "sequence"}},
			{Name: "idx_events_project_seq", Columns: []string{"project_key", "sequence"}},
			{Name: "idx_events_entity", Columns: []string{"entity_id"}},
			{Name: "idx_events_type", Columns: []string{"type"}},
			{Name: "idx_events_created_at", Columns: []string{"created_at"}},
		},
	},

	// Consumer positions in the log. Rows are bookkeeping: dropping them
	// only forces consumers to re-read, so drift recreates freely.
	{
		Name: "cursors",
		Columns: []Column{
			{Name: "stream", Type: ColText, NotNull: true},
			{Name: "checkpoint", Type: ColText, NotNull: true},
			{Name: "position", Type: ColInteger, NotNull: true, Default: "0"},
			{Name: "updated_at", Type: ColTime, NotNull: true, Default: "CURRENT_TIMESTAMP"},
		},
		PrimaryKey:      []string{"stream", "checkpoint"},
		RecreateOnDrift: true,
	},

	// --- projections ---

	{
		Name: "agents",
		Columns: []Column{
			{Name: "project_key", Type: ColText, NotNull: true},
			{Name: "name", Type: ColText, NotNull: true},
			{Name: "program", Type: ColText, NotNull: true, Default: "''"},
			{Name: "model", Type: ColText, NotNull: true, Default: "''"},
			{Name: "task_info", Type: ColText, NotNull: true, Default: "''"},
			{Name: "registered_at", Type: ColTime, NotNull: true, Default: "CURRENT_TIMESTAMP"},
			{Name: "last_active_at", Type: ColTime, NotNull: true, Default: "CURRENT_TIMESTAMP"},
		},
		PrimaryKey: []string{"project_key", "name"},
		Indexes: []Index{
			{Name: "idx_agents_last_active", Columns: []string{"last_active_at"}},
		},
	},

	{
		Name: "messages",
		Columns: []Column{
			{Name: "id", Type: ColInteger, PrimaryKey: true},
			{Name: "project_key", Type: ColText, NotNull: true},
			{Name: "sender", Type: ColText, NotNull: true},
			{Name: "subject", Type: ColText, NotNull: true},
			{Name: "body", Type: ColText, NotNull: true, Default: "''"},
			{Name: "thread_id", Type: ColText, NotNull: true, Default: "''"},
			{Name: "importance", Type: ColText, NotNull: true, Default: "'normal'"},
			{Name: "ack_required", Type: ColInteger, NotNull: true, Default: "0"},
			{Name: "cell_id", Type: ColText, NotNull: true, Default: "''"},
			{Name: "created_at", Type: ColTime, NotNull: true, Default: "CURRENT_TIMESTAMP"},
		},
		Indexes: []Index{
			{Name: "idx_messages_project", Columns: []string{"project_key", "created_at"}},
			{Name: "idx_messages_thread", Columns: []string{"thread_id"}},
		},
	},

	{
		Name: "message_recipients",
		Columns: []Column{
			{Name: "message_id", Type: ColInteger, NotNull: true},
			{Name: "recipient", Type: ColText, NotNull: true},
			{Name: "kind", Type: ColText, NotNull: true, Default: "'to'"},
			{Name: "read_at", Type: ColTime},
			{Name: "acked_at", Type: ColTime},
		},
		PrimaryKey: []string{"message_id", "recipient"},
		Constraints: []string{
			"FOREIGN KEY (message_id) REFERENCES messages(id) ON DELETE CASCADE",
		},
		Indexes: []Index{
			{Name: "idx_recipients_unread", Columns: []string{"recipient", "read_at"}},
		},
	},

	{
		Name: "reservations",
		Columns: []Column{
			{Name: "id", Type: ColInteger, PrimaryKey: true},
			{Name: "project_key", Type: ColText, NotNull: true},
			{Name: "path_pattern", Type: ColText, NotNull: true},
			{Name: "agent", Type: ColText, NotNull: true},
			{Name: "exclusive", Type: ColInteger, NotNull: true, Default: "1"},
			{Name: "reason", Type: ColText, NotNull: true, Default: "''"},
			{Name: "reserved_at", Type: ColTime, NotNull: true, Default: "CURRENT_TIMESTAMP"},
			{Name: "expires_at", Type: ColTime, NotNull: true},
			{Name: "released_at", Type: ColTime},
		},
		Indexes: []Index{
			{Name: "idx_reservations_live", Columns: []string{"project_key", "released_at", "expires_at"}},
			{Name: "idx_reservations_agent", Columns: []string{"agent"}},
		},
	},

	{
		Name: "cells",
		Columns: []Column{
			{Name: "id", Type: ColText, PrimaryKey: true},
			{Name: "project_key", Type: ColText, NotNull: true, Default: "''"},
			{Name: "content_hash", Type: ColText, NotNull: true, Default: "''"},
			{Name: "title", Type: ColText, NotNull: true},
			{Name: "description", Type: ColText, NotNull: true, Default: "''"},
			{Name: "design", Type: ColText, NotNull: true, Default: "''"},
			{Name: "acceptance_criteria", Type: ColText, NotNull: true, Default: "''"},
			{Name: "notes", Type: ColText, NotNull: true, Default: "''"},
			{Name: "status", Type: ColText, NotNull: true, Default: "'open'"},
			{Name: "priority", Type: ColInteger, NotNull: true, Default: "2"},
			{Name: "cell_type", Type: ColText, NotNull: true, Default: "'task'"},
			{Name: "assignee", Type: ColText, NotNull: true, Default: "''"},
			{Name: "created_at", Type: ColTime, NotNull: true, Default: "CURRENT_TIMESTAMP"},
			{Name: "created_by", Type: ColText, NotNull: true, Default: "''"},
			{Name: "updated_at", Type: ColTime, NotNull: true, Default: "CURRENT_TIMESTAMP"},
			{Name: "closed_at", Type: ColTime},
			{Name: "close_reason", Type: ColText, NotNull: true, Default: "''"},
			{Name: "deleted_at", Type: ColTime},
			{Name: "delete_reason", Type: ColText, NotNull: true, Default: "''"},
		},
		Constraints: []string{
			"CHECK (length(title) <= 500)",
			"CHECK (priority >= 0 AND priority <= 4)",
		},
		Indexes: []Index{
			{Name: "idx_cells_status", Columns: []string{"status"}},
			{Name: "idx_cells_project_status", Columns: []string{"project_key", "status"}},
			{Name: "idx_cells_assignee", Columns: []string{"assignee"}},
			{Name: "idx_cells_created_at", Columns: []string{"created_at"}},
		},
	},

	{
		Name: "cell_dependencies",
		Columns: []Column{
			{Name: "cell_id", Type: ColText, NotNull: true},
			{Name: "depends_on_id", Type: ColText, NotNull: true},
			{Name: "type", Type: ColText, NotNull: true, Default: "'blocks'"},
			{Name: "created_at", Type: ColTime, NotNull: true, Default: "CURRENT_TIMESTAMP"},
			{Name: "created_by", Type: ColText, NotNull: true, Default: "''"},
		},
		PrimaryKey: []string{"cell_id", "depends_on_id"},
		Constraints: []string{
			"FOREIGN KEY (cell_id) REFERENCES cells(id) ON DELETE CASCADE",
		},
		Indexes: []Index{
			{Name: "idx_cell_deps_cell", Columns: []string{"cell_id"}},
			{Name: "idx_cell_deps_depends_on_type", Columns: []string{"depends_on_id", "type"}},
		},
	},

	{
		Name: "cell_labels",
		Columns: []Column{
			{Name: "cell_id", Type: ColText, NotNull: true},
			{Name: "label", Type: ColText, NotNull: true},
		},
		PrimaryKey: []string{"cell_id", "label"},
		Constraints: []string{
			"FOREIGN KEY (cell_id) REFERENCES cells(id) ON DELETE CASCADE",
		},
		Indexes: []Index{
			{Name: "idx_cell_labels_label", Columns: []string{"label"}},
		},
	},

	{
		Name: "cell_comments",
		Columns: []Column{
			{Name: "id", Type: ColInteger, PrimaryKey: true},
			{Name: "cell_id", Type: ColText, NotNull: true},
			{Name: "author", Type: ColText, NotNull: true},
			{Name: "text", Type: ColText, NotNull: true},
			{Name: "created_at", Type: ColTime, NotNull: true, Default: "CURRENT_TIMESTAMP"},
			{Name: "updated_at", Type: ColTime},
		},
		Constraints: []string{
			"FOREIGN KEY (cell_id) REFERENCES cells(id) ON DELETE CASCADE",
		},
		Indexes: []Index{
			{Name: "idx_cell_comments_cell", Columns: []string{"cell_id"}},
		},
	},

	// Materialized blocked set: rebuilt wholesale inside the mutating
	// transaction, never patched incrementally.
	{
		Name: "blocked_cells_cache",
		Columns: []Column{
			{Name: "cell_id", Type: ColText, PrimaryKey: true},
			{Name: "blocker_ids", Type: ColText, NotNull: true, Default: "'[]'"},
			{Name: "computed_at", Type: ColTime, NotNull: true, Default: "CURRENT_TIMESTAMP"},
		},
		RecreateOnDrift: true,
	},

	// Dirty set for incremental snapshot export.
	{
		Name: "dirty_cells",
		Columns: []Column{
			{Name: "cell_id", Type: ColText, PrimaryKey: true},
			{Name: "marked_at", Type: ColTime, NotNull: true, Default: "CURRENT_TIMESTAMP"},
		},
		RecreateOnDrift: true,
	},

	// --- semantic memory (direct tables, not event-sourced) ---

	{
		Name: "memories",
		Columns: []Column{
			{Name: "id", Type: ColText, PrimaryKey: true},
			{Name: "project_key", Type: ColText, NotNull: true, Default: "''"},
			{Name: "information", Type: ColText, NotNull: true},
			{Name: "embedding", Type: ColBlob},
			{Name: "confidence", Type: ColReal, NotNull: true, Default: "1.0"},
			{Name: "category", Type: ColText, NotNull: true, Default: "''"},
			{Name: "tags", Type: ColText, NotNull: true, Default: "'[]'"},
			{Name: "keywords", Type: ColText, NotNull: true, Default: "'[]'"},
			{Name: "metadata", Type: ColText, NotNull: true, Default: "'{}'"},
			{Name: "source", Type: ColText, NotNull: true, Default: "''"},
			{Name: "created_at", Type: ColTime, NotNull: true, Default: "CURRENT_TIMESTAMP"},
			{Name: "updated_at", Type: ColTime, NotNull: true, Default: "CURRENT_TIMESTAMP"},
			{Name: "valid_from", Type: ColTime},
			{Name: "valid_until", Type: ColTime},
			{Name: "superseded_by", Type: ColText},
			{Name: "archived", Type: ColInteger, NotNull: true, Default: "0"},
		},
		Indexes: []Index{
			{Name: "idx_memories_project", Columns: []string{"project_key"}},
			{Name: "idx_memories_category", Columns: []string{"category"}},
			{Name: "idx_memories_superseded", Columns: []string{"superseded_by"}},
		},
	},

	{
		Name: "memory_links",
		Columns: []Column{
			{Name: "source_id", Type: ColText, NotNull: true},
			{Name: "target_id", Type: ColText, NotNull: true},
			{Name: "type", Type: ColText, NotNull: true},
			{Name: "strength", Type: ColReal, NotNull: true, Default: "0.5"},
			{Name: "created_at", Type: ColTime, NotNull: true, Default: "CURRENT_TIMESTAMP"},
		},
		PrimaryKey: []string{"source_id", "target_id", "type"},
		Constraints: []string{
			"FOREIGN KEY (source_id) REFERENCES memories(id) ON DELETE CASCADE",
			"FOREIGN KEY (target_id) REFERENCES memories(id) ON DELETE CASCADE",
		},
		Indexes: []Index{
			{Name: "idx_memory_links_target", Columns: []string{"target_id"}},
		},
	},

	{
		Name: "entities",
		Columns: []Column{
			{Name: "id", Type: ColInteger, PrimaryKey: true, Autoincrement: true},
			{Name: "project_key", Type: ColText, NotNull: true, Default: "''"},
			{Name: "name", Type: ColText, NotNull: true},
			{Name: "name_key", Type: ColText, NotNull: true},
			{Name: "type", Type: ColText, NotNull: true, Default: "'concept'"},
			{Name: "mention_count", Type: ColInteger, NotNull: true, Default: "1"},
			{Name: "created_at", Type: ColTime, NotNull: true, Default: "CURRENT_TIMESTAMP"},
		},
		Uniques: [][]string{{"project_key", "name_key", "type"}},
	},

	{
		Name: "memory_entities",
		Columns: []Column{
			{Name: "memory_id", Type: ColText, NotNull: true},
			{Name: "entity_id", Type: ColInteger, NotNull: true},
		},
		PrimaryKey: []string{"memory_id", "entity_id"},
		Constraints: []string{
			"FOREIGN KEY (memory_id) REFERENCES memories(id) ON DELETE CASCADE",
			"FOREIGN KEY (entity_id) REFERENCES entities(id) ON DELETE CASCADE",
		},
	},

	{
		Name: "relationships",
		Columns: []Column{
			{Name: "id", Type: ColInteger, PrimaryKey: true, Autoincrement: true},
			{Name: "project_key", Type: ColText, NotNull: true, Default: "''"},
			{Name: "source_entity_id", Type: ColInteger, NotNull: true},
			{Name: "target_entity_id", Type: ColInteger, NotNull: true},
			{Name: "predicate", Type: ColText, NotNull: true},
			{Name: "memory_id", Type: ColText, NotNull: true, Default: "''"},
			{Name: "created_at", Type: ColTime, NotNull: true, Default: "CURRENT_TIMESTAMP"},
		},
		Uniques: [][]string{{"source_entity_id", "predicate", "target_entity_id"}},
		Constraints: []string{
			"FOREIGN KEY (source_entity_id) REFERENCES entities(id) ON DELETE CASCADE",
			"FOREIGN KEY (target_entity_id) REFERENCES entities(id) ON DELETE CASCADE",
		},
	},

	// --- coordination primitives (direct tables) ---

	// Single row per resource; acquisition is an insert-or-CAS-update and
	// every successful acquisition increments seq.
	{
		Name: "locks",
		Columns: []Column{
			{Name: "resource", Type: ColText, PrimaryKey: true},
			{Name: "holder", Type: ColText, NotNull: true},
			{Name: "seq", Type: ColInteger, NotNull: true, Default: "1"},
			{Name: "acquired_at", Type: ColTime, NotNull: true, Default: "CURRENT_TIMESTAMP"},
			{Name: "expires_at", Type: ColTime, NotNull: true},
		},
	},

	{
		Name: "deferreds",
		Columns: []Column{
			{Name: "url", Type: ColText, PrimaryKey: true},
			{Name: "state", Type: ColText, NotNull: true, Default: "'pending'"},
			{Name: "value", Type: ColText},
			{Name: "error", Type: ColText},
			{Name: "created_at", Type: ColTime, NotNull: true, Default: "CURRENT_TIMESTAMP"},
			{Name: "expires_at", Type: ColTime},
			{Name: "resolved_at", Type: ColTime},
		},
		Indexes: []Index{
			{Name: "idx_deferreds_state", Columns: []string{"state", "expires_at"}},
		},
	},

	// --- key/value ---

	{
		Name: "config",
		Columns: []Column{
			{Name: "key", Type: ColText, PrimaryKey: true},
			{Name: "value", Type: ColText, NotNull: true},
		},
	},

	{
		Name: "metadata",
		Columns: []Column{
			{Name: "key", Type: ColText, PrimaryKey: true},
			{Name: "value", Type: ColText, NotNull: true},
		},
	},
}

// rawObjects are schema objects the differ cannot introspect column-wise:
// the full-text index, its sync triggers, and the ready view. They are
// created idempotently on every run.
var rawObjects = []string{
	`CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
    information,
    content='memories',
    content_rowid='rowid'
)`,
	`CREATE TRIGGER IF NOT EXISTS memories_fts_insert AFTER INSERT ON memories BEGIN
    INSERT INTO memories_fts(rowid, information) VALUES (new.rowid, new.information);
END`,
	`CREATE TRIGGER IF NOT EXISTS memories_fts_delete AFTER DELETE ON memories BEGIN
    INSERT INTO memories_fts(memories_fts, rowid, information) VALUES ('delete', old.rowid, old.information);
END`,
	`CREATE TRIGGER IF NOT EXISTS memories_fts_update AFTER UPDATE OF information ON memories BEGIN
    INSERT INTO memories_fts(memories_fts, rowid, information) VALUES ('delete', old.rowid, old.information);
    INSERT INTO memories_fts(rowid, information) VALUES (new.rowid, new.information);
END`,
	// Ready cells: open, not a tombstone, and not transitively blocked.
	// Blocking propagates to children through parent-child edges.
	`CREATE VIEW IF NOT EXISTS ready_cells AS
WITH RECURSIVE
  blocked_directly AS (
    SELECT DISTINCT d.cell_id
    FROM cell_dependencies d
    JOIN cells blocker ON d.depends_on_id = blocker.id
    WHERE d.type = 'blocks'
      AND blocker.status IN ('open', 'in_progress', 'blocked')
  ),
  blocked_transitively AS (
    SELECT cell_id, 0 AS depth
    FROM blocked_directly
    UNION ALL
    SELECT d.cell_id, bt.depth + 1
    FROM blocked_transitively bt
    JOIN cell_dependencies d ON d.depends_on_id = bt.cell_id
    WHERE d.type = 'parent-child'
      AND bt.depth < 50
  )
SELECT c.*
FROM cells c
WHERE c.status = 'open'
  AND NOT EXISTS (
    SELECT 1 FROM blocked_transitively WHERE cell_id = c.id
  )`,
}
