// Package idgen generates cell IDs of the form
// {slug}-{hash6}-{ts36}{rand3}: a human-readable project slug, a 6-char
// base36 digest of the project key, a base36 millisecond timestamp, and
// 3 random base36 chars. IDs sort roughly by creation time within a
// project and stay unique without a central counter.
package idgen

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/mod/modfile"
)

// DefaultSlug is used when no project name is discoverable.
const DefaultSlug = "cell"

const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// maxSlugLen keeps IDs readable when module names are long.
const maxSlugLen = 16

// New assembles a cell ID. projectKey scopes the hash segment so cells
// from different projects never share a prefix even with equal slugs.
func New(slug, projectKey string, now time.Time) string {
	if slug == "" {
		slug = DefaultSlug
	}
	ts := strconv.FormatInt(now.UnixMilli(), 36)
	return fmt.Sprintf("%s-%s-%s%s", slug, ProjectHash(projectKey), ts, randBase36(3))
}

// ProjectHash digests a project key into 6 base36 chars.
func ProjectHash(key string) string {
	sum := sha256.Sum256([]byte(key))
	out := make([]byte, 6)
	for i := range out {
		out[i] = base36Alphabet[int(sum[i])%36]
	}
	return string(out)
}

// Slugify lowercases a package or module name and strips everything
// outside [a-z0-9], collapsing runs into single hyphens. Empty results
// fall back to DefaultSlug.
func Slugify(name string) string {
	name = strings.ToLower(name)
	// npm scopes (@org/pkg) and module paths keep only the last element.
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	var b strings.Builder
	lastHyphen := true
	for _, c := range name {
		switch {
		case (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9'):
			b.WriteRune(c)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	slug := strings.Trim(b.String(), "-")
	if len(slug) > maxSlugLen {
		slug = strings.Trim(slug[:maxSlugLen], "-")
	}
	if slug == "" {
		return DefaultSlug
	}
	return slug
}

// DiscoverSlug walks up from dir looking for a go.mod module path or a
// package.json name, whichever appears first, and slugifies it. Returns
// DefaultSlug when neither exists up to the filesystem root.
func DiscoverSlug(dir string) string {
	for d := dir; d != filepath.Dir(d); d = filepath.Dir(d) {
		if name := moduleName(filepath.Join(d, "go.mod")); name != "" {
			return Slugify(name)
		}
		if name := packageJSONName(filepath.Join(d, "package.json")); name != "" {
			return Slugify(name)
		}
	}
	return DefaultSlug
}

func moduleName(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	f, err := modfile.ParseLax(path, data, nil)
	if err != nil || f.Module == nil {
		return ""
	}
	return f.Module.Mod.Path
}

func packageJSONName(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	var pkg struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return ""
	}
	return pkg.Name
}

// Valid reports whether id has the {slug}-{hash6}-{suffix} shape with
// base36 hash and suffix segments.
func Valid(id string) bool {
	last := strings.LastIndexByte(id, '-')
	if last <= 0 || last == len(id)-1 {
		return false
	}
	suffix := id[last+1:]
	rest := id[:last]
	mid := strings.LastIndexByte(rest, '-')
	if mid <= 0 {
		return false
	}
	hash := rest[mid+1:]
	if len(hash) != 6 || !isBase36(hash) {
		return false
	}
	// ts36 + rand3: at least the 3 random chars plus one timestamp char.
	return len(suffix) >= 4 && isBase36(suffix)
}

func isBase36(s string) bool {
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'z')) {
			return false
		}
	}
	return true
}

func randBase36(n int) string {
	out := make([]byte, n)
	buf := make([]byte, 1)
	for i := 0; i < n; {
		if _, err := rand.Read(buf); err != nil {
			// crypto/rand never fails on supported platforms; if it
			// somehow does, degrade to a clock-derived char rather
			// than panicking in an ID path.
			buf[0] = byte(time.Now().UnixNano())
		}
		// Reject values that would bias the modulo.
		if buf[0] >= 252 {
			continue
		}
		out[i] = base36Alphabet[int(buf[0])%36]
		i++
	}
	return string(out)
}
