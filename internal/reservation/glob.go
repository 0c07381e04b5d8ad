package reservation

import (
	"path"
	"strings"
)

// PatternsOverlap reports whether two path patterns can match a common
// file. The check is conservative: when wildcards make the answer
// uncertain it says true, so callers over-report conflicts rather than
// miss one. `a/**` overlaps `a/b/*`; `a/**` does not overlap `b/c`.
func PatternsOverlap(a, b string) bool {
	as := splitPattern(a)
	bs := splitPattern(b)
	return segmentsOverlap(as, bs)
}

func splitPattern(p string) []string {
	p = path.Clean(strings.TrimPrefix(p, "./"))
	if p == "." || p == "/" {
		return nil
	}
	return strings.Split(strings.Trim(p, "/"), "/")
}

func segmentsOverlap(a, b []string) bool {
	switch {
	case len(a) == 0 && len(b) == 0:
		return true
	case len(a) == 0:
		return allDoubleStar(b)
	case len(b) == 0:
		return allDoubleStar(a)
	}
	// A ** absorbs any remainder on the other side. Divergent literal
	// segments before this point have already returned false.
	if a[0] == "**" || b[0] == "**" {
		return true
	}
	if !segmentOverlap(a[0], b[0]) {
		return false
	}
	return segmentsOverlap(a[1:], b[1:])
}

func allDoubleStar(segs []string) bool {
	for _, s := range segs {
		if s != "**" {
			return false
		}
	}
	return true
}

// segmentOverlap compares one path segment from each pattern. Literal
// prefixes up to the first wildcard must agree; past that, any wildcard
// counts as a possible match.
func segmentOverlap(x, y string) bool {
	px := literalPrefix(x)
	py := literalPrefix(y)
	n := len(px)
	if len(py) < n {
		n = len(py)
	}
	if px[:n] != py[:n] {
		return false
	}
	if px == x && py == y {
		return x == y
	}
	return true
}

func literalPrefix(s string) string {
	if i := strings.IndexAny(s, "*?["); i >= 0 {
		return s[:i]
	}
	return s
}
