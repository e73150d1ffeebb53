package ingest

import (
	"io/fs"
	"path/filepath"
	"slices"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultIncludes matches the text formats ingested when no include
// patterns are configured.
var DefaultIncludes = []string{"**/*.md", "**/*.txt", "**/*.rst", "**/*.html"}

// DefaultExcludes skips VCS metadata and dependency trees.
var DefaultExcludes = []string{"**/.git/**", "**/node_modules/**", "**/vendor/**"}

// File is one discovered source file.
type File struct {
	// Path is relative to the walk root, slash separated.
	Path    string
	Abs     string
	Size    int64
	ModTime time.Time
}

// Matcher selects files by doublestar include and exclude patterns matched
// against root-relative slash paths.
type Matcher struct {
	includes []string
	excludes []string
}

// NewMatcher validates the patterns. An empty include list matches everything.
func NewMatcher(includes, excludes []string) (*Matcher, error) {
	if len(includes) == 0 {
		includes = []string{"**/*"}
	}
	for _, p := range slices.Concat(includes, excludes) {
		if !doublestar.ValidatePattern(p) {
			return nil, &PatternError{Pattern: p}
		}
	}
	return &Matcher{includes: includes, excludes: excludes}, nil
}

// Match reports whether the relative path is included and not excluded.
func (m *Matcher) Match(rel string) bool {
	return matchAny(m.includes, rel) && !matchAny(m.excludes, rel)
}

func (m *Matcher) skipDir(rel string) bool {
	return matchAny(m.excludes, rel+"/")
}

func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}

// Discover walks root and returns the matching regular files sorted by path.
func (m *Matcher) Discover(root string) ([]File, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	var files []File
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel != "." && m.skipDir(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !m.Match(rel) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		files = append(files, File{Path: rel, Abs: p, Size: info.Size(), ModTime: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(files, func(a, b File) int {
		switch {
		case a.Path < b.Path:
			return -1
		case a.Path > b.Path:
			return 1
		}
		return 0
	})
	return files, nil
}
