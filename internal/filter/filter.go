package filter

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/gobwas/glob"
)

// PatternError reports a pattern that failed to compile.
type PatternError struct {
	Pattern string
	Err     error
}

func (e *PatternError) Error() string {
	return fmt.Sprintf("filter: invalid pattern %q: %v", e.Pattern, e.Err)
}

func (e *PatternError) Unwrap() error { return e.Err }

// Predicate selects manifest paths. A nil or empty Predicate matches
// everything.
type Predicate struct {
	patterns []string
	globs    []glob.Glob
}

// Compile compiles patterns into a Predicate. Patterns are compiled without
// separators, so "*" also matches "/".
func Compile(patterns []string) (*Predicate, error) {
	p := &Predicate{}
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, &PatternError{Pattern: pattern, Err: err}
		}
		p.patterns = append(p.patterns, pattern)
		p.globs = append(p.globs, g)
	}
	return p, nil
}

// Match reports whether path is selected.
func (p *Predicate) Match(path string) bool {
	if p == nil || len(p.globs) == 0 {
		return true
	}
	for _, g := range p.globs {
		if g.Match(path) {
			return true
		}
	}
	return false
}

// Patterns returns the compiled patterns.
func (p *Predicate) Patterns() []string {
	if p == nil {
		return nil
	}
	return p.patterns
}

// LoadFile reads a newline-delimited pattern list. Blank lines are skipped.
func LoadFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pattern list: %w", err)
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		patterns = append(patterns, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read pattern list: %w", err)
	}
	return patterns, nil
}

// Load compiles the pattern list at path. An empty path selects everything.
func Load(path string) (*Predicate, error) {
	if path == "" {
		return nil, nil
	}
	patterns, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return Compile(patterns)
}
