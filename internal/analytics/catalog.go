package analytics

import (
	"fmt"
	"os"
	"sort"

	"github.com/BurntSushi/toml"

	"github.com/untoldecay/waggle/internal/types"
)

// SavedQuery is one catalog entry as it appears in analytics.toml.
type SavedQuery struct {
	Description string `toml:"description"`
	SQL         string `toml:"sql"`
}

// Catalog maps names to saved queries. File layout:
//
//	[queries.cells-by-status]
//	description = "Cell count per status"
//	sql = """
//	SELECT status, COUNT(*) AS cells FROM cells GROUP BY status
//	"""
type Catalog struct {
	Queries map[string]SavedQuery `toml:"queries"`
}

// LoadCatalog reads a TOML catalog file. A missing file is reported as
// types.ErrNotFound so callers can fall back to the builtin catalog.
func LoadCatalog(path string) (*Catalog, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("catalog %s: %w", path, types.ErrNotFound)
	}
	var c Catalog
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	if c.Queries == nil {
		c.Queries = map[string]SavedQuery{}
	}
	return &c, nil
}

// Get resolves a saved query by name.
func (c *Catalog) Get(name string) (*Query, error) {
	sq, ok := c.Queries[name]
	if !ok {
		return nil, fmt.Errorf("saved query %q: %w", name, types.ErrNotFound)
	}
	return &Query{Name: name, Description: sq.Description, SQL: sq.SQL}, nil
}

// Names lists the catalog's query names in sorted order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.Queries))
	for name := range c.Queries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Merge returns a catalog with entries from both receivers; entries in
// other shadow same-named entries in c.
func (c *Catalog) Merge(other *Catalog) *Catalog {
	merged := &Catalog{Queries: make(map[string]SavedQuery, len(c.Queries)+len(other.Queries))}
	for name, sq := range c.Queries {
		merged.Queries[name] = sq
	}
	for name, sq := range other.Queries {
		merged.Queries[name] = sq
	}
	return merged
}

// Builtin returns the queries that ship with waggle. They only touch
// projection tables, so they stay valid across replays.
func Builtin() *Catalog {
	return &Catalog{Queries: map[string]SavedQuery{
		"cells-by-status": {
			Description: "Cell count per status, tombstones excluded",
			SQL: `SELECT status, COUNT(*) AS cells
FROM cells
WHERE deleted_at IS NULL
GROUP BY status
ORDER BY cells DESC`,
		},
		"open-by-assignee": {
			Description: "Open cells per assignee",
			SQL: `SELECT assignee, COUNT(*) AS open_cells
FROM cells
WHERE status != 'closed' AND deleted_at IS NULL AND assignee != ''
GROUP BY assignee
ORDER BY open_cells DESC`,
		},
		"events-by-type": {
			Description: "Event volume per event type",
			SQL: `SELECT type, COUNT(*) AS events
FROM events
GROUP BY type
ORDER BY events DESC`,
		},
		"busiest-agents": {
			Description: "Agents ranked by events written",
			SQL: `SELECT actor, COUNT(*) AS events
FROM events
WHERE actor != ''
GROUP BY actor
ORDER BY events DESC
LIMIT 10`,
		},
		"mail-volume": {
			Description: "Messages sent per agent",
			SQL: `SELECT sender, COUNT(*) AS sent
FROM messages
GROUP BY sender
ORDER BY sent DESC`,
		},
		"unread-mail": {
			Description: "Unread message count per recipient",
			SQL: `SELECT recipient, COUNT(*) AS unread
FROM message_recipients
WHERE read_at IS NULL
GROUP BY recipient
ORDER BY unread DESC`,
		},
		"live-reservations": {
			Description: "Reservations currently in force",
			SQL: `SELECT agent, path_pattern, exclusive, expires_at
FROM reservations
WHERE released_at IS NULL AND datetime(expires_at) > datetime('now')
ORDER BY expires_at`,
		},
		"memory-by-category": {
			Description: "Memory count and mean confidence per category",
			SQL: `SELECT category, COUNT(*) AS memories, ROUND(AVG(confidence), 3) AS avg_confidence
FROM memories
WHERE archived = 0
GROUP BY category
ORDER BY memories DESC`,
		},
	}}
}
