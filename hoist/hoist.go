// Package hoist implements the hoist pattern matcher: given include and
// exclude glob expressions and a dependency name, it decides whether that
// dependency is eligible to be installed once at the repository root
// instead of per-package.
package hoist

import "path/filepath"

// Wildcard is the pattern "true" expands to when hoisting is enabled
// without a narrower include pattern.
const Wildcard = "**"

// Matcher decides hoistability for a configured set of include/exclude
// patterns.
type Matcher struct {
	include []string
	exclude []string
}

// New builds a Matcher. include may be nil/empty, meaning "no include
// patterns configured" (IsHoistable then always reports false, per
// spec.md §4.3: "an absent include means 'all match' only when hoisting
// is explicitly enabled" - callers express that by passing []string{Wildcard}).
func New(include, exclude []string) *Matcher {
	return &Matcher{include: include, exclude: exclude}
}

// IsHoistable reports whether name matches any include pattern and no
// exclude pattern.
//
// Patterns apply to the bare dependency name only, never a path. Matching
// uses filepath.Match, which treats "/" as a separator: in a scoped name
// such as "@babel/core", "*" matches within the scope or within the rest
// of the name but not across the "/" ("@babel/*" matches it, "@babel*"
// does not). The exact pattern "**" (Wildcard) is special-cased to match
// every name; inside a longer pattern "**" behaves like "*".
func (m *Matcher) IsHoistable(name string) bool {
	if !matchesAny(name, m.include) {
		return false
	}
	return !matchesAny(name, m.exclude)
}

func matchesAny(name string, patterns []string) bool {
	for _, pat := range patterns {
		if pat == Wildcard {
			return true
		}
		ok, err := filepath.Match(pat, name)
		if err == nil && ok {
			return true
		}
	}
	return false
}
