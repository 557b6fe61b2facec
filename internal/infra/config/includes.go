package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const maxIncludeDepth = 10

// includeLoader overlays the files named by an `includes:` list onto a
// Config. Included files may include further files of either format.
type includeLoader struct {
	cfg  *Config
	seen map[string]struct{}
}

func newIncludeLoader(cfg *Config, root string) *includeLoader {
	return &includeLoader{cfg: cfg, seen: map[string]struct{}{root: {}}}
}

// apply processes the patterns found in a file living in dir. The include
// list is consumed so that a later decode of the parent sees it empty.
func (l *includeLoader) apply(dir string, patterns []string, depth int) error {
	if depth > maxIncludeDepth {
		return fmt.Errorf("config includes: max depth %d exceeded", maxIncludeDepth)
	}
	l.cfg.Includes = nil

	for _, pattern := range patterns {
		files, err := expandInclude(dir, pattern)
		if err != nil {
			return err
		}
		for _, f := range files {
			if _, dup := l.seen[f]; dup {
				return fmt.Errorf("config includes: circular include of %q", f)
			}
			l.seen[f] = struct{}{}
			if err := l.overlay(f, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

func (l *includeLoader) overlay(path string, depth int) error {
	if err := validatePermissions(path); err != nil {
		return fmt.Errorf("config includes: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config includes: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := decode(path, data, l.cfg); err != nil {
		return fmt.Errorf("config includes: parse %s: %w", filepath.Base(path), err)
	}
	if nested := l.cfg.Includes; len(nested) > 0 {
		return l.apply(filepath.Dir(path), nested, depth)
	}
	return nil
}

// expandInclude turns one pattern into absolute file paths. Relative
// patterns must stay inside dir. A glob that matches nothing is not an
// error; a literal path is returned as is so a missing file gets reported.
func expandInclude(dir, pattern string) ([]string, error) {
	if !filepath.IsAbs(pattern) {
		if !filepath.IsLocal(pattern) {
			return nil, fmt.Errorf("config includes: %q escapes %s", pattern, dir)
		}
		pattern = filepath.Join(dir, pattern)
	}

	if !strings.ContainsAny(pattern, `*?[`) {
		return []string{filepath.Clean(pattern)}, nil
	}
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("config includes: bad pattern %q: %w", pattern, err)
	}
	return matches, nil
}
