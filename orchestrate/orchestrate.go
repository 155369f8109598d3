// Package orchestrate is the bootstrap orchestrator: it executes a Plan
// across the fixed phase sequence spec.md §4.5 defines, bounding
// parallelism with golang.org/x/sync/errgroup the way please_js's
// prebundle.go bounds its own per-package fan-out, and serializing
// topological batches so a later batch never starts before an earlier one
// finishes (spec.md §5).
package orchestrate

import (
	"context"
	"fmt"
	"net"
	"sort"

	"github.com/pkg/errors"
	"github.com/theckman/go-flock"
	"golang.org/x/sync/errgroup"

	"github.com/nicolaerusan/lerna/fsops"
	"github.com/nicolaerusan/lerna/graph"
	"github.com/nicolaerusan/lerna/installer"
	"github.com/nicolaerusan/lerna/internal/diag"
	"github.com/nicolaerusan/lerna/manifest"
	"github.com/nicolaerusan/lerna/plan"
	"github.com/nicolaerusan/lerna/semver"
)

// Lifecycle script names, in run order.
const (
	ScriptPreinstall  = "preinstall"
	ScriptPostinstall = "postinstall"
	ScriptPrepublish  = "prepublish"
	ScriptPrepare     = "prepare"
)

// PreferredMutexPort is the first port the orchestrator tries to bind when
// allocating network-mutex coordination (spec.md §6).
const PreferredMutexPort = 42424

// LifecycleScriptFailed reports that a package's lifecycle script exited
// non-zero, aborting the whole bootstrap.
type LifecycleScriptFailed struct {
	Package string
	Script  string
	Err     error
}

func (e *LifecycleScriptFailed) Error() string {
	return errors.Wrapf(e.Err, "%s script failed in %s", e.Script, e.Package).Error()
}

func (e *LifecycleScriptFailed) Unwrap() error { return e.Err }

// PortAllocationFailed reports that no free TCP port could be bound for
// mutex coordination.
type PortAllocationFailed struct {
	Err error
}

func (e *PortAllocationFailed) Error() string {
	return errors.Wrap(e.Err, "allocating installer mutex port").Error()
}

func (e *PortAllocationFailed) Unwrap() error { return e.Err }

// ScriptRunner invokes a single package's lifecycle script. A package that
// does not declare the named script must return nil, not an error - the
// orchestrator has no notion of "script missing" beyond what the runner
// reports.
type ScriptRunner interface {
	RunScript(ctx context.Context, pkg *graph.Package, script string) error
}

// BinLookup resolves a root-installed dependency's declared binary
// entries after InstallSpecs has materialized it - reading a freshly
// installed package's own manifest is filesystem I/O the orchestrator
// delegates rather than performs itself.
type BinLookup func(name string) (location string, bin map[string]string, err error)

// Orchestrator executes Plans against a fixed Graph and RootManifest.
type Orchestrator struct {
	Graph        *graph.Graph
	RootManifest *manifest.RootManifest
	Installer    installer.Installer
	Scripts      ScriptRunner
	Sink         diag.Sink
	Concurrency  int
	GlobalStyle  bool // true iff hoisting is enabled; passed to leaf installs
	BinLookup    BinLookup
	// Packages narrows every phase to this subset of package names, the
	// same --scope/--ignore shape golang-dep's -add/-update filtering
	// uses. Empty means every package in Graph.
	Packages []string

	filter map[string]bool // precomputed from Packages; nil means unfiltered
}

// New builds an Orchestrator. A nil Sink is replaced with diag.Nop.
func New(g *graph.Graph, root *manifest.RootManifest, inst installer.Installer, scripts ScriptRunner, bin BinLookup, packages []string, concurrency int, globalStyle bool, sink diag.Sink) *Orchestrator {
	if sink == nil {
		sink = diag.Nop{}
	}
	if concurrency < 1 {
		concurrency = manifest.DefaultConcurrency
	}
	var filter map[string]bool
	if len(packages) > 0 {
		filter = make(map[string]bool, len(packages))
		for _, name := range packages {
			filter[name] = true
		}
	}
	return &Orchestrator{
		Graph:        g,
		RootManifest: root,
		Installer:    inst,
		Scripts:      scripts,
		Sink:         sink,
		Concurrency:  concurrency,
		GlobalStyle:  globalStyle,
		BinLookup:    bin,
		Packages:     packages,
		filter:       filter,
	}
}

// allowed reports whether name is in scope for this run.
func (o *Orchestrator) allowed(name string) bool {
	return o.filter == nil || o.filter[name]
}

// Bootstrap runs the full state machine: Idle -> Planning (already done by
// the caller, which supplies p) -> WorkspacesInstall, or PhaseA..PhaseF ->
// Done|Failed. useWorkspaces short-circuits straight to a single root
// install call, per spec.md §4.5.
func (o *Orchestrator) Bootstrap(ctx context.Context, p *plan.Plan, useWorkspaces bool) error {
	if useWorkspaces {
		o.Sink.Emit(diag.Event{Kind: diag.Info, Message: "workspaces-managed: delegating to a single root install"})
		return o.Installer.InstallManifest(ctx, o.RootManifest.RootPath)
	}

	batches, err := o.Graph.TopologicalBatches()
	if err != nil {
		return err
	}

	o.Sink.Emit(diag.Event{Kind: diag.Info, Message: fmt.Sprintf("bootstrapping %d packages", o.countAllowed())})

	if err := o.runLifecyclePhase(ctx, batches, ScriptPreinstall); err != nil {
		return err
	}
	if err := o.runInstallPhase(ctx, p); err != nil {
		return err
	}
	if err := o.symlinkSiblings(ctx); err != nil {
		return err
	}
	if err := o.runLifecyclePhase(ctx, batches, ScriptPostinstall); err != nil {
		return err
	}
	if err := o.runLifecyclePhase(ctx, batches, ScriptPrepublish); err != nil {
		return err
	}
	if err := o.runLifecyclePhase(ctx, batches, ScriptPrepare); err != nil {
		return err
	}
	o.Sink.Emit(diag.Event{Kind: diag.Info, Message: "bootstrap complete"})
	return nil
}

// runLifecyclePhase runs script in every package of every batch, batch N+1
// waiting for batch N to finish entirely. Packages outside o.Packages (when
// set) are skipped, but the topological order of the packages that remain
// is unaffected.
func (o *Orchestrator) runLifecyclePhase(ctx context.Context, batches [][]*graph.Package, script string) error {
	for _, batch := range batches {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(o.Concurrency)
		for _, p := range batch {
			if !o.allowed(p.Name) {
				continue
			}
			p := p
			g.Go(func() error {
				o.Sink.Emit(diag.Event{Kind: diag.WorkAdded, Package: p.Name, Message: script})
				err := o.Scripts.RunScript(gctx, p, script)
				o.Sink.Emit(diag.Event{Kind: diag.WorkDone, Package: p.Name, Message: script})
				if err != nil {
					return &LifecycleScriptFailed{Package: p.Name, Script: script, Err: err}
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}

// runInstallPhase is phase B: the root install action, the prune action,
// and one leaf install action per requester with unsatisfied leaves, all
// run with bounded parallelism and no batch barrier between them.
func (o *Orchestrator) runInstallPhase(ctx context.Context, p *plan.Plan) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.Concurrency)

	if len(p.RootInstalls) > 0 {
		g.Go(func() error { return o.rootInstallAction(gctx, p) })
		g.Go(func() error { return o.pruneAction(p) })
	}

	for _, requester := range sortedLeafRequesters(p) {
		if !o.allowed(requester) {
			continue
		}
		requester := requester
		leaves := p.Leaves[requester]
		if !anyUnsatisfied(leaves) {
			continue
		}
		g.Go(func() error { return o.leafInstallAction(gctx, requester, leaves) })
	}

	return g.Wait()
}

func (o *Orchestrator) rootInstallAction(ctx context.Context, p *plan.Plan) error {
	var specs []string
	for _, ri := range p.RootInstalls {
		if !ri.IsSatisfied {
			specs = append(specs, ri.Spec)
		}
	}
	// Even when everything is already satisfied, the installer still runs
	// with an empty spec list: some clients perform post-install linking
	// that must happen on every bootstrap (spec.md §4.5 phase B.1.a).
	o.Sink.Emit(diag.Event{Kind: diag.Info, Message: "installing hoisted dependencies into root"})
	o.Sink.Emit(diag.Event{Kind: diag.WorkAdded, Message: "root install"})
	err := o.Installer.InstallSpecs(ctx, o.RootManifest.RootPath, specs, false)
	o.Sink.Emit(diag.Event{Kind: diag.WorkDone, Message: "root install"})
	if err != nil {
		return err
	}
	o.Sink.Emit(diag.Event{Kind: diag.Info, Message: "finished installing in root"})

	for _, ri := range p.RootInstalls {
		if len(ri.Dependents) == 0 || o.BinLookup == nil {
			continue
		}
		location, bin, err := o.BinLookup(ri.Name)
		if err != nil {
			return err
		}
		if len(bin) == 0 {
			continue
		}
		for _, dependentName := range ri.Dependents {
			if !o.allowed(dependentName) {
				continue
			}
			dep, ok := o.Graph.Get(dependentName)
			if !ok {
				continue
			}
			if err := fsops.SymlinkBinaries(location, dep.ModulesDir, bin); err != nil {
				return err
			}
		}
	}
	return nil
}

func (o *Orchestrator) pruneAction(p *plan.Plan) error {
	o.Sink.Emit(diag.Event{Kind: diag.Info, Message: "pruning hoisted dependencies"})
	for _, ri := range p.RootInstalls {
		for _, dependentName := range ri.Dependents {
			if !o.allowed(dependentName) {
				continue
			}
			dep, ok := o.Graph.Get(dependentName)
			if !ok || dep.ModulesDir == o.RootManifest.ModulesDir {
				continue
			}
			if err := fsops.Prune(dep.ModulesDir, ri.Name); err != nil {
				return err
			}
		}
	}
	o.Sink.Emit(diag.Event{Kind: diag.Info, Message: "finished pruning"})
	return nil
}

func (o *Orchestrator) leafInstallAction(ctx context.Context, requester string, leaves []plan.LeafInstall) error {
	pkg, ok := o.Graph.Get(requester)
	if !ok {
		return errors.Errorf("leaf install for unknown package %q", requester)
	}
	specs := make([]string, len(leaves))
	for i, l := range leaves {
		specs[i] = l.Spec
	}
	o.Sink.Emit(diag.Event{Kind: diag.WorkAdded, Package: requester, Message: "leaf install"})
	err := o.Installer.InstallSpecs(ctx, pkg.Location, specs, o.GlobalStyle)
	o.Sink.Emit(diag.Event{Kind: diag.WorkDone, Package: requester, Message: "leaf install"})
	return err
}

// symlinkSiblings is phase C: every repo-local dependency edge gets a
// symlink from the dependent's local-module directory to the sibling's
// location. Independent edges run with bounded parallelism, no barrier.
func (o *Orchestrator) symlinkSiblings(ctx context.Context) error {
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(o.Concurrency)

	for _, p := range o.Graph.Packages() {
		if !o.allowed(p.Name) {
			continue
		}
		p := p
		for name, rangeStr := range p.Deps {
			name, rangeStr := name, rangeStr
			g.Go(func() error {
				r, err := semver.ParseRange(rangeStr)
				if err != nil {
					return nil
				}
				sibling, ok := o.Graph.Find(name, &r)
				if !ok {
					return nil
				}
				o.Sink.Emit(diag.Event{Kind: diag.WorkAdded, Package: p.Name, Message: "symlink " + name})
				err = fsops.SymlinkSibling(sibling.Location, p.ModulesDir, name)
				o.Sink.Emit(diag.Event{Kind: diag.WorkDone, Package: p.Name, Message: "symlink " + name})
				return err
			})
		}
	}
	return g.Wait()
}

// AllocatePort binds a free local TCP port for network-mutex coordination,
// preferring PreferredMutexPort and falling back to any OS-assigned port.
func AllocatePort() (string, error) {
	addr := fmt.Sprintf(":%d", PreferredMutexPort)
	l, err := net.Listen("tcp", addr)
	if err != nil {
		l, err = net.Listen("tcp", ":0")
		if err != nil {
			return "", &PortAllocationFailed{Err: err}
		}
	}
	defer l.Close()
	port := l.Addr().(*net.TCPAddr).Port
	return fmt.Sprintf("network:%d", port), nil
}

// AcquireRunLock takes an exclusive, non-blocking lock at path, preventing
// two bootstraps from mutating the same repo concurrently.
func AcquireRunLock(path string) (*flock.Flock, error) {
	lock := flock.NewFlock(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, errors.Wrap(err, "acquiring run lock")
	}
	if !ok {
		return nil, errors.Errorf("another bootstrap is already running (lock held at %s)", path)
	}
	return lock, nil
}

// countAllowed returns how many of the graph's packages are in scope for
// this run, for the "bootstrapping N packages" diagnostic.
func (o *Orchestrator) countAllowed() int {
	if o.filter == nil {
		return len(o.Graph.Packages())
	}
	n := 0
	for _, p := range o.Graph.Packages() {
		if o.allowed(p.Name) {
			n++
		}
	}
	return n
}

func anyUnsatisfied(leaves []plan.LeafInstall) bool {
	for _, l := range leaves {
		if !l.IsSatisfied {
			return true
		}
	}
	return false
}

func sortedLeafRequesters(p *plan.Plan) []string {
	out := make([]string, 0, len(p.Leaves))
	for name := range p.Leaves {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
