package analytics

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// FormatTable renders an aligned ASCII table with a row-count footer.
func (r *QueryResult) FormatTable() string {
	widths := make([]int, len(r.Columns))
	for i, c := range r.Columns {
		widths[i] = utf8.RuneCountInString(c)
	}
	cells := make([][]string, len(r.Rows))
	for ri, row := range r.Rows {
		line := make([]string, len(r.Columns))
		for ci := range r.Columns {
			var v interface{}
			if ci < len(row) {
				v = row[ci]
			}
			s := cellString(v)
			line[ci] = s
			if w := utf8.RuneCountInString(s); w > widths[ci] {
				widths[ci] = w
			}
		}
		cells[ri] = line
	}

	var b strings.Builder
	writeRow := func(line []string) {
		for i, s := range line {
			if i > 0 {
				b.WriteString("  ")
			}
			b.WriteString(s)
			// no trailing padding on the last column
			if i < len(line)-1 {
				b.WriteString(strings.Repeat(" ", widths[i]-utf8.RuneCountInString(s)))
			}
		}
		b.WriteByte('\n')
	}

	writeRow(r.Columns)
	rules := make([]string, len(r.Columns))
	for i, w := range widths {
		rules[i] = strings.Repeat("-", w)
	}
	writeRow(rules)
	for _, line := range cells {
		writeRow(line)
	}

	noun := "rows"
	if r.RowCount == 1 {
		noun = "row"
	}
	fmt.Fprintf(&b, "\n%d %s (%d ms)\n", r.RowCount, noun, r.ExecutionTimeMs)
	return b.String()
}

// FormatJSON renders the whole result as one compact JSON object.
func (r *QueryResult) FormatJSON() (string, error) {
	out, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("analytics: encode json: %w", err)
	}
	return string(out), nil
}

// FormatJSONL renders one JSON object per row, keyed by column name.
func (r *QueryResult) FormatJSONL() (string, error) {
	var b strings.Builder
	enc := json.NewEncoder(&b)
	for _, row := range r.Rows {
		obj := make(map[string]interface{}, len(r.Columns))
		for i, c := range r.Columns {
			if i < len(row) {
				obj[c] = row[i]
			} else {
				obj[c] = nil
			}
		}
		if err := enc.Encode(obj); err != nil {
			return "", fmt.Errorf("analytics: encode jsonl: %w", err)
		}
	}
	return b.String(), nil
}

// FormatCSV renders an RFC 4180 CSV with a header line. NULL cells
// become empty fields.
func (r *QueryResult) FormatCSV() (string, error) {
	var b strings.Builder
	w := csv.NewWriter(&b)
	if err := w.Write(r.Columns); err != nil {
		return "", fmt.Errorf("analytics: encode csv: %w", err)
	}
	record := make([]string, len(r.Columns))
	for _, row := range r.Rows {
		for i := range r.Columns {
			var v interface{}
			if i < len(row) {
				v = row[i]
			}
			record[i] = cellString(v)
		}
		if err := w.Write(record); err != nil {
			return "", fmt.Errorf("analytics: encode csv: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("analytics: encode csv: %w", err)
	}
	return b.String(), nil
}

// cellString renders one cell for table and CSV output.
func cellString(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", x)
	}
}
