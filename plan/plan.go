// Package plan implements the placement planner: given the package graph,
// the root manifest, hoist configuration, and a probe of what is already
// installed on disk, it decides where every external dependency should be
// installed and produces diagnostics about any version conflicts it finds
// along the way. The planner performs no I/O beyond the injected probe.
package plan

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/nicolaerusan/lerna/graph"
	"github.com/nicolaerusan/lerna/hoist"
	"github.com/nicolaerusan/lerna/manifest"
	"github.com/nicolaerusan/lerna/semver"
)

// Diagnostic codes, per spec.md §6.
const (
	WarnHoistRootVersion = "EHOIST_ROOT_VERSION"
	WarnHoistPkgVersion  = "EHOIST_PKG_VERSION"
)

// Diagnostic is a single warning emitted while building the plan.
// Diagnostics are informational only and never halt planning.
type Diagnostic struct {
	Code    string
	Package string // empty for root-level diagnostics
	Message string
}

// RootInstall is one hoisted dependency to be installed once at the
// repository root.
type RootInstall struct {
	Name        string
	Dependents  []string
	Spec        string // "name@range"
	IsSatisfied bool
}

// LeafInstall is one per-package installation of an external dependency
// that cannot or should not be hoisted.
type LeafInstall struct {
	Spec        string
	IsSatisfied bool
}

// Plan is the planner's pure output: where every external dependency
// should be installed, and under what conditions.
type Plan struct {
	RootInstalls []RootInstall
	// Leaves maps requester package name to its leaf installs.
	Leaves map[string][]LeafInstall
}

// Probe reports whether spec ("name@range") is already installed at
// location - the coarse, injected check the planner consults instead of
// touching the filesystem itself.
type Probe func(location, spec string) bool

// Options configures a single planning run.
type Options struct {
	Hoist   []string // include patterns; empty means hoisting disabled
	NoHoist []string // exclude patterns
	// Packages restricts planning to this subset of the graph's packages,
	// by name. A nil/empty slice means "every package in the graph" -
	// spec.md's "filtered set". This is the --scope/--ignore style
	// narrowing SPEC_FULL.md §12 adds on top of the distilled spec.
	Packages []string
}

func (o Options) hoistingEnabled() bool { return len(o.Hoist) > 0 }

// usage tracks, for one (dependency name, requested range) pair, how many
// requesters asked for it and who they were.
type usage struct {
	count      int
	requesters []string
}

// aggregate is the Dependency Aggregate of spec.md §3: for each external
// dependency name, a mapping from requested range to usage.
type aggregate map[string]map[string]*usage

func (a aggregate) record(name, rangeStr, requester string, seedOnly bool) {
	byRange, ok := a[name]
	if !ok {
		byRange = map[string]*usage{}
		a[name] = byRange
	}
	u, ok := byRange[rangeStr]
	if !ok {
		u = &usage{}
		byRange[rangeStr] = u
	}
	if !seedOnly {
		u.count++
		u.requesters = append(u.requesters, requester)
	}
}

// Build runs the placement planner (spec.md §4.4) and returns the
// resulting Plan plus any diagnostics it emitted along the way.
func Build(g *graph.Graph, root *manifest.RootManifest, opts Options, probe Probe) (*Plan, []Diagnostic, error) {
	matcher := hoist.New(opts.Hoist, opts.NoHoist)
	agg := aggregate{}
	var diags []Diagnostic

	// Step 1: seed the aggregate with the root manifest's direct
	// dependencies at count 0, so the root's preferred range is
	// remembered without inflating the "most common" tally.
	for name, rangeStr := range root.Dependencies {
		agg.record(name, rangeStr, "", true)
	}

	requesters := filterPackages(g, opts.Packages)

	// Step 2: record every requester's non-local dependency requests.
	for _, p := range requesters {
		names := sortedKeys(p.Deps)
		for _, name := range names {
			rangeStr := p.Deps[name]
			if isLocalMatch(g, name, rangeStr) {
				// A sibling package at a satisfying version: the
				// sibling-symlink phase handles this, not installation.
				continue
			}
			agg.record(name, rangeStr, p.Name, false)
		}
	}

	plan := &Plan{Leaves: map[string][]LeafInstall{}}
	requesterNames := make(map[string]bool, len(requesters))
	for _, p := range requesters {
		requesterNames[p.Name] = true
	}

	// Step 3: decide hoisting per dependency name, in deterministic
	// (lexicographic) order so the plan and its diagnostics are
	// reproducible for identical input.
	for _, name := range sortedAggregateNames(agg) {
		byRange := agg[name]

		if opts.hoistingEnabled() && matcher.IsHoistable(name) {
			commonVersion := mostCommonRange(byRange)
			rootVersion, rootHasPreference := root.Dependencies[name]
			if !rootHasPreference {
				rootVersion = commonVersion
			}
			if rootVersion != commonVersion {
				diags = append(diags, Diagnostic{
					Code:    WarnHoistRootVersion,
					Message: fmt.Sprintf("%s: root requires %s, but %s is requested more often across the repo", name, rootVersion, commonVersion),
				})
			}

			rootUsage := byRange[rootVersion]
			var dependents []string
			seen := map[string]bool{}
			if rootUsage != nil {
				for _, req := range rootUsage.requesters {
					if req == "" || seen[req] || !requesterNames[req] {
						continue
					}
					seen[req] = true
					dependents = append(dependents, req)
				}
			}
			sort.Strings(dependents)

			spec := name + "@" + rootVersion
			plan.RootInstalls = append(plan.RootInstalls, RootInstall{
				Name:        name,
				Dependents:  dependents,
				Spec:        spec,
				IsSatisfied: probe(root.RootPath, spec),
			})

			for _, rangeStr := range sortedKeys(byRange) {
				if rangeStr == rootVersion {
					continue
				}
				u := byRange[rangeStr]
				for _, req := range u.requesters {
					diags = append(diags, Diagnostic{
						Code:    WarnHoistPkgVersion,
						Package: req,
						Message: fmt.Sprintf("%s: %s requests %s, hoisted version is %s", name, req, rangeStr, rootVersion),
					})
					plan.addLeaf(req, name, rangeStr, g, probe)
				}
			}
		} else {
			for _, rangeStr := range sortedKeys(byRange) {
				u := byRange[rangeStr]
				for _, req := range u.requesters {
					plan.addLeaf(req, name, rangeStr, g, probe)
				}
			}
		}
	}

	for _, leaves := range plan.Leaves {
		sort.Slice(leaves, func(i, j int) bool { return leaves[i].Spec < leaves[j].Spec })
	}

	return plan, diags, nil
}

// Describe renders the Plan as a tab-aligned table, the same tabwriter
// idiom golang-dep's cmd/dep/status.go uses for `dep status`'s output -
// a dry-run view over data the planner already produced, not a new
// operation.
func (p *Plan) Describe(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintln(tw, "ROOT INSTALL\tDEPENDENTS\tSATISFIED")
	for _, ri := range p.RootInstalls {
		fmt.Fprintf(tw, "%s\t%s\t%v\n", ri.Spec, strings.Join(ri.Dependents, ","), ri.IsSatisfied)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(tw, "\nPACKAGE\tLEAF INSTALL\tSATISFIED")
	for _, requester := range sortedLeafInstallRequesters(p) {
		for _, l := range p.Leaves[requester] {
			fmt.Fprintf(tw, "%s\t%s\t%v\n", requester, l.Spec, l.IsSatisfied)
		}
	}
	return tw.Flush()
}

func sortedLeafInstallRequesters(p *Plan) []string {
	out := make([]string, 0, len(p.Leaves))
	for name := range p.Leaves {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (p *Plan) addLeaf(requester, name, rangeStr string, g *graph.Graph, probe Probe) {
	spec := name + "@" + rangeStr
	pkg, ok := g.Get(requester)
	satisfied := false
	if ok {
		satisfied = pkg.HasInstalled(name)
		_ = probe // leaf satisfaction is the coarse per-package check, not the probe (spec.md §4.4 step 4)
	}
	p.Leaves[requester] = append(p.Leaves[requester], LeafInstall{Spec: spec, IsSatisfied: satisfied})
}

// isLocalMatch reports whether name resolves to a repo-local package
// whose version satisfies rangeStr - the sibling-symlink shortcut.
func isLocalMatch(g *graph.Graph, name, rangeStr string) bool {
	r, err := semver.ParseRange(rangeStr)
	if err != nil {
		return false
	}
	return g.Has(name, &r)
}

func filterPackages(g *graph.Graph, names []string) []*graph.Package {
	all := g.Packages()
	if len(names) == 0 {
		return all
	}
	want := map[string]bool{}
	for _, n := range names {
		want[n] = true
	}
	var out []*graph.Package
	for _, p := range all {
		if want[p.Name] {
			out = append(out, p)
		}
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedAggregateNames(a aggregate) []string {
	out := make([]string, 0, len(a))
	for k := range a {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// mostCommonRange picks the range with the highest requester count,
// breaking ties lexicographically on the range string for reproducible
// output (spec.md §9: not specified by the source, mandated here).
func mostCommonRange(byRange map[string]*usage) string {
	best := ""
	bestCount := -1
	for _, rangeStr := range sortedRangeKeys(byRange) {
		count := byRange[rangeStr].count
		if count > bestCount {
			bestCount = count
			best = rangeStr
		}
	}
	return best
}

func sortedRangeKeys(m map[string]*usage) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
