// Package analytics composes and runs read-only SQL over the waggle
// store. A fluent Builder assembles the query; Run executes it through
// the storage adapter and captures rows generically, so callers can
// aggregate over any projection without a dedicated accessor. Encoders
// in format.go render results for terminals and pipelines.
package analytics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/untoldecay/waggle/internal/storage"
)

// Query is a built, executable statement. Parameters line up with the
// placeholders in SQL in the order the builder accumulated them.
type Query struct {
	Name        string
	Description string
	SQL         string
	Parameters  []interface{}
}

// Builder assembles a SELECT statement clause by clause. Conditions
// passed to Where and Having are AND-joined; their parameters are kept
// in call order. The zero value is not usable; start with NewBuilder.
type Builder struct {
	name        string
	description string
	selectCols  []string
	from        string
	wheres      []string
	groupBys    []string
	havings     []string
	orderBys    []string
	limit       int
	params      []interface{}
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Select appends projection columns. Calling it multiple times extends
// the column list; never calling it selects *.
func (b *Builder) Select(cols ...string) *Builder {
	b.selectCols = append(b.selectCols, cols...)
	return b
}

// From sets the table (or join expression) to select from.
func (b *Builder) From(table string) *Builder {
	b.from = table
	return b
}

// Where appends one condition and its parameters.
func (b *Builder) Where(cond string, params ...interface{}) *Builder {
	b.wheres = append(b.wheres, cond)
	b.params = append(b.params, params...)
	return b
}

// GroupBy appends grouping columns.
func (b *Builder) GroupBy(cols ...string) *Builder {
	b.groupBys = append(b.groupBys, cols...)
	return b
}

// Having appends one aggregate condition and its parameters.
func (b *Builder) Having(cond string, params ...interface{}) *Builder {
	b.havings = append(b.havings, cond)
	b.params = append(b.params, params...)
	return b
}

// OrderBy appends ordering terms.
func (b *Builder) OrderBy(terms ...string) *Builder {
	b.orderBys = append(b.orderBys, terms...)
	return b
}

// Limit caps the row count. Zero or negative means no limit.
func (b *Builder) Limit(n int) *Builder {
	b.limit = n
	return b
}

// WithName labels the query for catalogs and output headers.
func (b *Builder) WithName(name string) *Builder {
	b.name = name
	return b
}

// WithDescription attaches a human-readable description.
func (b *Builder) WithDescription(desc string) *Builder {
	b.description = desc
	return b
}

// Build renders the statement. Clauses always appear in SELECT FROM
// WHERE GROUP BY HAVING ORDER BY LIMIT order regardless of the order
// the builder methods were called in.
func (b *Builder) Build() (*Query, error) {
	if b.from == "" {
		return nil, fmt.Errorf("analytics: query has no FROM table")
	}

	cols := "*"
	if len(b.selectCols) > 0 {
		cols = strings.Join(b.selectCols, ", ")
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(cols)
	sb.WriteString(" FROM ")
	sb.WriteString(b.from)
	if len(b.wheres) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(b.wheres, " AND "))
	}
	if len(b.groupBys) > 0 {
		sb.WriteString(" GROUP BY ")
		sb.WriteString(strings.Join(b.groupBys, ", "))
	}
	if len(b.havings) > 0 {
		sb.WriteString(" HAVING ")
		sb.WriteString(strings.Join(b.havings, " AND "))
	}
	if len(b.orderBys) > 0 {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(b.orderBys, ", "))
	}
	if b.limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", b.limit)
	}

	params := make([]interface{}, len(b.params))
	copy(params, b.params)

	return &Query{
		Name:        b.name,
		Description: b.description,
		SQL:         sb.String(),
		Parameters:  params,
	}, nil
}

// QueryResult is a generic rowset. Row cells hold the driver's natural
// types with []byte normalized to string.
type QueryResult struct {
	Columns         []string        `json:"columns"`
	Rows            [][]interface{} `json:"rows"`
	RowCount        int             `json:"row_count"`
	ExecutionTimeMs int64           `json:"execution_time_ms"`
}

// Run executes the query and collects every row.
func Run(ctx context.Context, db storage.Adapter, q *Query) (*QueryResult, error) {
	start := time.Now()

	rows, err := db.QueryContext(ctx, q.SQL, q.Parameters...)
	if err != nil {
		return nil, fmt.Errorf("analytics: run %s: %w", queryLabel(q), err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("analytics: columns: %w", err)
	}

	result := &QueryResult{Columns: cols}
	for rows.Next() {
		cells := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range cells {
			ptrs[i] = &cells[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("analytics: scan: %w", err)
		}
		for i, v := range cells {
			if b, ok := v.([]byte); ok {
				cells[i] = string(b)
			}
		}
		result.Rows = append(result.Rows, cells)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("analytics: rows: %w", err)
	}

	result.RowCount = len(result.Rows)
	result.ExecutionTimeMs = time.Since(start).Milliseconds()
	return result, nil
}

func queryLabel(q *Query) string {
	if q.Name != "" {
		return q.Name
	}
	return "query"
}
