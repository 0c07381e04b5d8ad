package storage

import (
	"fmt"
	"reflect"
	"strings"
)

// ConvertPlaceholders rewrites PostgreSQL-style $N placeholders to the ?
// style SQLite expects, reordering args into call order. A `= ANY($N)`
// comparison against a slice argument expands to an IN list with one ?
// per element; an empty slice expands to a predicate that matches nothing,
// keeping the statement valid.
//
// Placeholders may repeat ($1 used twice duplicates the argument) and may
// appear in any order. Text inside single-quoted literals is left alone.
func ConvertPlaceholders(query string, args []interface{}) (string, []interface{}, error) {
	var out strings.Builder
	out.Grow(len(query))
	converted := make([]interface{}, 0, len(args))

	i := 0
	for i < len(query) {
		c := query[i]

		// Skip string literals verbatim.
		if c == '\'' {
			end := i + 1
			for end < len(query) {
				if query[end] == '\'' {
					// Doubled quote is an escaped quote inside the literal.
					if end+1 < len(query) && query[end+1] == '\'' {
						end += 2
						continue
					}
					break
				}
				end++
			}
			if end >= len(query) {
				return "", nil, fmt.Errorf("unterminated string literal in query")
			}
			out.WriteString(query[i : end+1])
			i = end + 1
			continue
		}

		if c != '$' {
			out.WriteByte(c)
			i++
			continue
		}

		n, width := readPlaceholderIndex(query[i:])
		if width == 0 {
			// A lone $ with no digits passes through (e.g. json path syntax).
			out.WriteByte(c)
			i++
			continue
		}
		if n < 1 || n > len(args) {
			return "", nil, fmt.Errorf("placeholder $%d out of range (have %d args)", n, len(args))
		}
		arg := args[n-1]

		// Detect the `= ANY($N)` form by looking back at what was already
		// written. The ANY keyword only has this meaning directly ahead of
		// a placeholder.
		if anyStart, ok := trailingAnyCall(out.String()); ok && i+width < len(query) && query[i+width] == ')' {
			elems, ok := sliceElements(arg)
			if !ok {
				return "", nil, fmt.Errorf("placeholder $%d used with ANY but argument is %T, not a slice", n, arg)
			}
			rewritten := out.String()[:anyStart]
			out.Reset()
			out.WriteString(rewritten)
			if len(elems) == 0 {
				out.WriteString("IN (SELECT NULL WHERE 0)")
			} else {
				out.WriteString("IN (")
				out.WriteString(strings.TrimSuffix(strings.Repeat("?, ", len(elems)), ", "))
				out.WriteString(")")
				converted = append(converted, elems...)
			}
			i += width + 1 // consume the placeholder and the closing paren
			continue
		}

		out.WriteString("?")
		converted = append(converted, arg)
		i += width
	}

	return out.String(), converted, nil
}

// readPlaceholderIndex parses $N at the start of s, returning the index
// and the byte width consumed ($ plus digits). Width 0 means no digits.
func readPlaceholderIndex(s string) (n, width int) {
	if len(s) < 2 || s[0] != '$' {
		return 0, 0
	}
	j := 1
	for j < len(s) && s[j] >= '0' && s[j] <= '9' {
		n = n*10 + int(s[j]-'0')
		j++
	}
	if j == 1 {
		return 0, 0
	}
	return n, j
}

// trailingAnyCall reports whether the written SQL ends with the opening
// of an ANY( call, optionally preceded by an = comparison, and returns
// the offset where the rewrite should start (at the `=` if present,
// otherwise at the ANY keyword).
func trailingAnyCall(written string) (int, bool) {
	s := written
	end := len(s)
	// trim trailing spaces before the placeholder
	for end > 0 && s[end-1] == ' ' {
		end--
	}
	if end < 4 || s[end-1] != '(' {
		return 0, false
	}
	kw := end - 4
	if !strings.EqualFold(s[kw:end-1], "ANY") {
		return 0, false
	}
	if kw > 0 && isIdentByte(s[kw-1]) {
		return 0, false
	}
	start := kw
	// fold a preceding `=` into the rewrite so `= ANY(...)` becomes `IN (...)`
	j := kw
	for j > 0 && s[j-1] == ' ' {
		j--
	}
	if j > 0 && s[j-1] == '=' {
		start = j - 1
	}
	return start, true
}

func isIdentByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// sliceElements flattens a slice argument into []interface{}. Strings are
// not treated as slices. []byte is passed through as a single blob value.
func sliceElements(arg interface{}) ([]interface{}, bool) {
	switch v := arg.(type) {
	case []interface{}:
		return v, true
	case []string:
		out := make([]interface{}, len(v))
		for i, e := range v {
			out[i] = e
		}
		return out, true
	case []int:
		out := make([]interface{}, len(v))
		for i, e := range v {
			out[i] = e
		}
		return out, true
	case []int64:
		out := make([]interface{}, len(v))
		for i, e := range v {
			out[i] = e
		}
		return out, true
	case []byte, string, nil:
		return nil, false
	}
	rv := reflect.ValueOf(arg)
	if rv.Kind() != reflect.Slice {
		return nil, false
	}
	out := make([]interface{}, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
