// Package semver implements the version matcher: it decides whether a
// concrete package version satisfies a requested range, using the same
// semver grammar (exact, caret, tilde, X-ranges, comparator unions) that
// the manifests on disk are written against.
package semver

import (
	"fmt"

	mmsemver "github.com/Masterminds/semver"
	"github.com/pkg/errors"
)

// BadVersionSpec is returned when a version or range string falls outside
// the semver grammar.
type BadVersionSpec struct {
	Input string
	Cause error
}

func (e *BadVersionSpec) Error() string {
	return fmt.Sprintf("%q is not a valid semver expression: %v", e.Input, e.Cause)
}

func (e *BadVersionSpec) Unwrap() error { return e.Cause }

// Version is a parsed concrete semantic version.
type Version struct {
	v *mmsemver.Version
}

// ParseVersion parses a concrete version string (e.g. "1.2.3", "2.0.0-rc.1").
func ParseVersion(s string) (Version, error) {
	v, err := mmsemver.NewVersion(s)
	if err != nil {
		return Version{}, &BadVersionSpec{Input: s, Cause: err}
	}
	return Version{v: v}, nil
}

// String returns the normalized version string.
func (v Version) String() string {
	if v.v == nil {
		return ""
	}
	return v.v.String()
}

// Range is a parsed requirement range, e.g. "^1.2.0", "~1.2", "15.x", "*".
type Range struct {
	raw string
	c   *mmsemver.Constraints
}

// ParseRange parses a range expression understood by the standard semver
// grammar: exact versions, caret and tilde ranges, X-ranges, and
// comma/`||`-composed comparator unions.
func ParseRange(s string) (Range, error) {
	if s == "" {
		s = "*"
	}
	c, err := mmsemver.NewConstraint(s)
	if err != nil {
		return Range{}, &BadVersionSpec{Input: s, Cause: err}
	}
	return Range{raw: s, c: c}, nil
}

// String returns the original range expression as written in the manifest.
func (r Range) String() string { return r.raw }

// Satisfies reports whether version satisfies range. Both the version and
// the range must already have been parsed with ParseVersion/ParseRange;
// malformed input is a programmer error caught at parse time, not here.
func Satisfies(version Version, r Range) bool {
	if version.v == nil || r.c == nil {
		return false
	}
	return r.c.Check(version.v)
}

// MustParseRange is a helper for tests and for ranges that are known
// statically to be valid.
func MustParseRange(s string) Range {
	r, err := ParseRange(s)
	if err != nil {
		panic(errors.Wrap(err, "MustParseRange"))
	}
	return r
}
