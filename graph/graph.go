// Package graph implements the package graph: a directed graph over the
// repo-local packages of a monorepo, keyed by name, carrying each
// package's manifest-declared dependency map and on-disk location.
package graph

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/nicolaerusan/lerna/semver"
)

// DependencyCycle is returned by TopologicalBatches when the repo-local
// packages form a cycle through their declared dependencies.
type DependencyCycle struct {
	Remaining []string
}

func (e *DependencyCycle) Error() string {
	return "dependency cycle detected among: " + joinSorted(e.Remaining)
}

func joinSorted(names []string) string {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	out := ""
	for i, n := range sorted {
		if i > 0 {
			out += ", "
		}
		out += n
	}
	return out
}

// Package is a single repo-local package: its declared version, its
// location on disk, the directory siblings get symlinked into, and its
// manifest-declared dependency map (name -> requested range string).
type Package struct {
	Name       string
	Version    semver.Version
	Location   string
	ModulesDir string
	Deps       map[string]string
	// Bin maps a declared binary name to its path relative to Location,
	// the manifest's "bin" field. The orchestrator does not read it: its
	// binary linking resolves a hoisted dependency's entries through its
	// BinLookup.
	Bin map[string]string

	// installed reports, per dependency name, whether that dependency is
	// already present under ModulesDir. This is the coarse "directory
	// exists" probe spec.md documents as a departure from version-accurate
	// satisfaction checking (see SPEC_FULL.md §13).
	installed map[string]bool
}

// NewPackage constructs a Package. installed may be nil, meaning no
// dependency is yet known to be installed.
func NewPackage(name string, version semver.Version, location, modulesDir string, deps map[string]string, installed map[string]bool) *Package {
	if deps == nil {
		deps = map[string]string{}
	}
	if installed == nil {
		installed = map[string]bool{}
	}
	return &Package{
		Name:       name,
		Version:    version,
		Location:   location,
		ModulesDir: modulesDir,
		Deps:       deps,
		Bin:        map[string]string{},
		installed:  installed,
	}
}

// HasInstalled reports whether name is already materially present in this
// package's local module directory.
func (p *Package) HasInstalled(name string) bool {
	return p.installed[name]
}

// Graph is the set of repo-local packages plus the dependency edges
// between them. It is built once from external input and is immutable
// thereafter.
type Graph struct {
	packages map[string]*Package
}

// New builds a Graph from the given packages. Packages must have unique
// names; duplicates overwrite earlier entries, mirroring a last-one-wins
// map literal.
func New(packages []*Package) *Graph {
	g := &Graph{packages: make(map[string]*Package, len(packages))}
	for _, p := range packages {
		g.packages[p.Name] = p
	}
	return g
}

// Get returns the named package, or ok=false if it is not in the graph.
func (g *Graph) Get(name string) (*Package, bool) {
	p, ok := g.packages[name]
	return p, ok
}

// Find returns the repo-local package named name iff it exists and, when
// r is non-nil, its version satisfies r.
func (g *Graph) Find(name string, r *semver.Range) (*Package, bool) {
	p, ok := g.packages[name]
	if !ok {
		return nil, false
	}
	if r != nil && !semver.Satisfies(p.Version, *r) {
		return nil, false
	}
	return p, true
}

// Has reports whether Find would succeed.
func (g *Graph) Has(name string, r *semver.Range) bool {
	_, ok := g.Find(name, r)
	return ok
}

// Packages returns all repo-local packages, in lexicographic name order.
func (g *Graph) Packages() []*Package {
	out := make([]*Package, 0, len(g.packages))
	for _, p := range g.packages {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// localDeps returns the subset of p's declared dependencies that resolve
// to another repo-local package at a satisfying version - i.e. the edges
// that matter for batching.
func (g *Graph) localDeps(p *Package) []string {
	var deps []string
	for name, rangeStr := range p.Deps {
		r, err := semver.ParseRange(rangeStr)
		if err != nil {
			continue
		}
		if dep, ok := g.Find(name, &r); ok {
			deps = append(deps, dep.Name)
		}
	}
	sort.Strings(deps)
	return deps
}

// TopologicalBatches computes the graph's topological batching: an
// ordered sequence of batches where each batch is a maximal set of
// packages with no intra-batch dependency edges; later batches may
// depend only on earlier ones. Packages within a batch are ordered
// lexicographically by name so that identical input always yields an
// identical batching (Kahn's algorithm with a deterministic tie-break).
func (g *Graph) TopologicalBatches() ([][]*Package, error) {
	indegree := make(map[string]int, len(g.packages))
	dependents := make(map[string][]string, len(g.packages))

	for _, p := range g.packages {
		if _, ok := indegree[p.Name]; !ok {
			indegree[p.Name] = 0
		}
		for _, dep := range g.localDeps(p) {
			indegree[p.Name]++
			dependents[dep] = append(dependents[dep], p.Name)
		}
	}

	var batches [][]*Package
	remaining := len(indegree)
	for remaining > 0 {
		var ready []string
		for name, deg := range indegree {
			if deg == 0 {
				ready = append(ready, name)
			}
		}
		if len(ready) == 0 {
			var stuck []string
			for name, deg := range indegree {
				if deg > 0 {
					stuck = append(stuck, name)
				}
			}
			return nil, &DependencyCycle{Remaining: stuck}
		}
		sort.Strings(ready)

		batch := make([]*Package, 0, len(ready))
		for _, name := range ready {
			batch = append(batch, g.packages[name])
			delete(indegree, name)
		}
		batches = append(batches, batch)
		remaining -= len(ready)

		for _, name := range ready {
			for _, dependent := range dependents[name] {
				if _, ok := indegree[dependent]; ok {
					indegree[dependent]--
				}
			}
		}
	}
	return batches, nil
}

// Validate reports a DependencyCycle error (wrapped with a stack trace) if
// the graph contains a cycle. It runs TopologicalBatches and discards the
// batching, for callers that only need to check validity.
func (g *Graph) Validate() error {
	_, err := g.TopologicalBatches()
	return errors.WithStack(err)
}
