package memory

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/untoldecay/waggle/internal/inference"
	"github.com/untoldecay/waggle/internal/storage"
	"github.com/untoldecay/waggle/internal/types"
)

// extractAndStoreEntities runs the extraction task over a stored memory
// and folds the result into the entity graph. Everything here is
// best-effort: a failure costs the graph rows, never the memory.
func (s *Service) extractAndStoreEntities(ctx context.Context, m *types.Memory) {
	ext, err := s.inf.ExtractEntities(ctx, m.Information)
	if err != nil {
		s.logger.Debug("memory: entity extraction skipped", "id", m.ID, "err", err)
		return
	}
	if len(ext.Entities) == 0 {
		return
	}
	if err := s.storeExtraction(ctx, m, ext); err != nil {
		s.logger.Debug("memory: entity graph write failed", "id", m.ID, "err", err)
	}
}

// storeExtraction upserts entities, junction rows, and triples in one
// transaction so repeated mentions bump counts exactly once per memory.
func (s *Service) storeExtraction(ctx context.Context, m *types.Memory, ext *inference.Extraction) error {
	return s.db.InTransaction(ctx, func(tx storage.Tx) error {
		byName := make(map[string]int64, len(ext.Entities))
		for _, e := range ext.Entities {
			id, err := upsertEntity(ctx, tx, m.ProjectKey, e.Name, e.Type)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO memory_entities (memory_id, entity_id) VALUES (?, ?)`,
				m.ID, id); err != nil {
				return fmt.Errorf("junction %s -> %d: %w", m.ID, id, err)
			}
			if _, ok := byName[e.Name]; !ok {
				byName[e.Name] = id
			}
		}

		for _, t := range ext.Triples {
			sid, sok := byName[strings.ToLower(strings.TrimSpace(t.Subject))]
			oid, ook := byName[strings.ToLower(strings.TrimSpace(t.Object))]
			pred := strings.ToLower(strings.TrimSpace(t.Predicate))
			if !sok || !ook || pred == "" || sid == oid {
				continue
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO relationships (project_key, source_entity_id, target_entity_id, predicate, memory_id)
				VALUES (?, ?, ?, ?, ?)`,
				m.ProjectKey, sid, oid, pred, m.ID); err != nil {
				return fmt.Errorf("triple (%d,%s,%d): %w", sid, pred, oid, err)
			}
		}
		return nil
	})
}

// upsertEntity finds or creates an entity, deduplicating on the
// lowercased name per (project, type). Existing entities get their
// mention count bumped.
func upsertEntity(ctx context.Context, q storage.Querier, projectKey, name, entityType string) (int64, error) {
	nameKey := strings.ToLower(strings.TrimSpace(name))
	if nameKey == "" {
		return 0, fmt.Errorf("entity name cannot be empty")
	}
	entityType = inference.NormalizeEntityType(entityType)

	var id int64
	err := q.QueryRowContext(ctx,
		`SELECT id FROM entities WHERE project_key = ? AND name_key = ? AND type = ?`,
		projectKey, nameKey, entityType).Scan(&id)
	switch {
	case err == nil:
		if _, err := q.ExecContext(ctx,
			`UPDATE entities SET mention_count = mention_count + 1 WHERE id = ?`, id); err != nil {
			return 0, fmt.Errorf("bump entity %d: %w", id, err)
		}
		return id, nil
	case storage.IsNoRows(err):
		res, err := q.ExecContext(ctx,
			`INSERT INTO entities (project_key, name, name_key, type) VALUES (?, ?, ?, ?)`,
			projectKey, name, nameKey, entityType)
		if err != nil {
			return 0, fmt.Errorf("insert entity %q: %w", name, err)
		}
		return res.LastInsertId()
	default:
		return 0, fmt.Errorf("lookup entity %q: %w", name, err)
	}
}

// Entities lists a project's entities, most-mentioned first.
func (s *Service) Entities(ctx context.Context, projectKey string) ([]*types.Entity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_key, name, type, mention_count, created_at
		FROM entities
		WHERE project_key = ?
		ORDER BY mention_count DESC, name`,
		projectKey)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	defer rows.Close()
	return scanEntities(rows)
}

// EntitiesForMemory lists the entities a memory mentions.
func (s *Service) EntitiesForMemory(ctx context.Context, memoryID string) ([]*types.Entity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.project_key, e.name, e.type, e.mention_count, e.created_at
		FROM entities e
		JOIN memory_entities me ON me.entity_id = e.id
		WHERE me.memory_id = ?
		ORDER BY e.name`,
		memoryID)
	if err != nil {
		return nil, fmt.Errorf("entities for memory %s: %w", memoryID, err)
	}
	defer rows.Close()
	return scanEntities(rows)
}

// Relationships lists a project's S-P-O triples.
func (s *Service) Relationships(ctx context.Context, projectKey string) ([]*types.Relationship, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_key, source_entity_id, target_entity_id, predicate, memory_id, created_at
		FROM relationships
		WHERE project_key = ?
		ORDER BY id`,
		projectKey)
	if err != nil {
		return nil, fmt.Errorf("list relationships: %w", err)
	}
	defer rows.Close()

	var out []*types.Relationship
	for rows.Next() {
		var r types.Relationship
		if err := rows.Scan(&r.ID, &r.ProjectKey, &r.SourceID, &r.TargetID, &r.Predicate, &r.MemoryID, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func scanEntities(rows *sql.Rows) ([]*types.Entity, error) {
	var out []*types.Entity
	for rows.Next() {
		var e types.Entity
		if err := rows.Scan(&e.ID, &e.ProjectKey, &e.Name, &e.Type, &e.MentionCount, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
