package extract

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// PatternError reports an unparsable glob token in a filter string.
type PatternError struct {
	Token string
	Err   error
}

func (e *PatternError) Error() string {
	return fmt.Sprintf("extract: invalid filter pattern %q: %v", e.Token, e.Err)
}

func (e *PatternError) Unwrap() error { return e.Err }

// matchFunc reports whether a path satisfies a compiled filter.
type matchFunc func(path string) bool

// compileFilter accepts a comma-separated list of glob patterns (e.g.
// "*.dds,metadata/**/*.ot"), compiles each independently, and ORs them into
// a single predicate (spec.md §4.5). An empty pattern matches everything.
func compileFilter(pattern string) (matchFunc, error) {
	if pattern == "" {
		return func(string) bool { return true }, nil
	}

	tokens := strings.Split(pattern, ",")
	globs := make([]glob.Glob, 0, len(tokens))
	for _, tok := range tokens {
		// No separator rune: "*" must cross "/", matching globset::Glob's
		// default (literal_separator=false) in the original Rust filter
		// (original_source/src/main.rs), so "*.dds" matches "textures/foo.dds".
		g, err := glob.Compile(tok)
		if err != nil {
			return nil, &PatternError{Token: tok, Err: err}
		}
		globs = append(globs, g)
	}

	return func(path string) bool {
		for _, g := range globs {
			if g.Match(path) {
				return true
			}
		}
		return false
	}, nil
}
