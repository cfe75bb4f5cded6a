package artifact

import (
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"slices"
	"strings"
)

// Collect resolves artifact path patterns against root and returns the
// matched regular files as slash-separated paths relative to root.
// Patterns use path.Match syntax plus "**" for any number of directories.
// A pattern matching a directory includes everything below it.
func Collect(root string, patterns, exclude []string) ([]string, error) {
	for _, p := range append(slices.Clone(patterns), exclude...) {
		if err := checkPattern(p); err != nil {
			return nil, err
		}
	}
	seen := map[string]bool{}
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if matchAny(patterns, rel) && !matchAny(exclude, rel) {
			seen[rel] = true
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("collect artifacts in %s: %w", root, err)
	}
	out := make([]string, 0, len(seen))
	for f := range seen {
		out = append(out, f)
	}
	slices.Sort(out)
	return out, nil
}

func checkPattern(p string) error {
	clean := strings.TrimPrefix(p, "./")
	if clean == "" || path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("artifact path %q must be relative to the job directory", p)
	}
	for _, seg := range strings.Split(clean, "/") {
		if seg == "**" {
			continue
		}
		if _, err := path.Match(seg, ""); err != nil {
			return fmt.Errorf("artifact path %q: %w", p, err)
		}
	}
	return nil
}

// matchAny reports whether rel or one of its parent directories matches a
// pattern.
func matchAny(patterns []string, rel string) bool {
	parts := strings.Split(rel, "/")
	for _, p := range patterns {
		pat := strings.Split(strings.Trim(strings.TrimPrefix(p, "./"), "/"), "/")
		for i := 1; i <= len(parts); i++ {
			if matchSegments(pat, parts[:i]) {
				return true
			}
		}
	}
	return false
}

func matchSegments(pat, parts []string) bool {
	if len(pat) == 0 {
		return len(parts) == 0
	}
	if pat[0] == "**" {
		for i := 0; i <= len(parts); i++ {
			if matchSegments(pat[1:], parts[i:]) {
				return true
			}
		}
		return false
	}
	if len(parts) == 0 {
		return false
	}
	ok, _ := path.Match(pat[0], parts[0])
	return ok && matchSegments(pat[1:], parts[1:])
}
