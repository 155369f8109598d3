package orchestrate

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/nicolaerusan/lerna/graph"
	"github.com/nicolaerusan/lerna/internal/diag"
	"github.com/nicolaerusan/lerna/manifest"
	"github.com/nicolaerusan/lerna/plan"
	"github.com/nicolaerusan/lerna/semver"
)

type fakeInstaller struct {
	mu          sync.Mutex
	specCalls   [][]string
	dirCalls    []string
	globalCalls []bool
	failDir     string
}

func (f *fakeInstaller) InstallSpecs(_ context.Context, dir string, specs []string, globalStyle bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dirCalls = append(f.dirCalls, dir)
	f.specCalls = append(f.specCalls, specs)
	f.globalCalls = append(f.globalCalls, globalStyle)
	if dir == f.failDir {
		return errors.New("boom")
	}
	return nil
}

func (f *fakeInstaller) InstallManifest(_ context.Context, dir string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dirCalls = append(f.dirCalls, dir)
	return nil
}

type fakeScripts struct {
	mu      sync.Mutex
	ran     []string
	failPkg string
}

func (f *fakeScripts) RunScript(_ context.Context, pkg *graph.Package, script string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ran = append(f.ran, pkg.Name+":"+script)
	if pkg.Name == f.failPkg {
		return errors.New("script exploded")
	}
	return nil
}

func mustVersion(t *testing.T, s string) semver.Version {
	t.Helper()
	v, err := semver.ParseVersion(s)
	if err != nil {
		t.Fatalf("ParseVersion: %v", err)
	}
	return v
}

func TestBootstrapWorkspacesDelegatesToRootInstall(t *testing.T) {
	g := graph.New(nil)
	root := &manifest.RootManifest{RootPath: "/repo", ModulesDir: "/repo/node_modules"}
	inst := &fakeInstaller{}
	o := New(g, root, inst, &fakeScripts{}, nil, nil, 2, false, nil)

	if err := o.Bootstrap(context.Background(), &plan.Plan{}, true); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if len(inst.dirCalls) != 1 || inst.dirCalls[0] != "/repo" {
		t.Fatalf("expected a single root InstallManifest call, got %+v", inst.dirCalls)
	}
}

func TestBootstrapRunsLifecyclePhasesInBatchOrder(t *testing.T) {
	a := graph.NewPackage("a", mustVersion(t, "1.0.0"), "/repo/packages/a", "/repo/packages/a/node_modules", nil, nil)
	b := graph.NewPackage("b", mustVersion(t, "1.0.0"), "/repo/packages/b", "/repo/packages/b/node_modules", map[string]string{"a": "^1.0.0"}, nil)
	g := graph.New([]*graph.Package{a, b})
	root := &manifest.RootManifest{RootPath: "/repo", ModulesDir: "/repo/node_modules"}
	inst := &fakeInstaller{}
	scripts := &fakeScripts{}
	rec := diag.NewRecorder()
	o := New(g, root, inst, scripts, nil, nil, 2, false, rec)

	p := &plan.Plan{Leaves: map[string][]plan.LeafInstall{}}
	if err := o.Bootstrap(context.Background(), p, false); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	// a (batch 0) must run preinstall before b (batch 1) does.
	idxAPre := indexOf(scripts.ran, "a:preinstall")
	idxBPre := indexOf(scripts.ran, "b:preinstall")
	if idxAPre < 0 || idxBPre < 0 || idxAPre > idxBPre {
		t.Fatalf("expected a's preinstall before b's, got order %v", scripts.ran)
	}
}

func TestBootstrapLifecycleFailureAborts(t *testing.T) {
	a := graph.NewPackage("a", mustVersion(t, "1.0.0"), "/repo/packages/a", "/repo/packages/a/node_modules", nil, nil)
	g := graph.New([]*graph.Package{a})
	root := &manifest.RootManifest{RootPath: "/repo", ModulesDir: "/repo/node_modules"}
	inst := &fakeInstaller{}
	scripts := &fakeScripts{failPkg: "a"}
	o := New(g, root, inst, scripts, nil, nil, 2, false, nil)

	p := &plan.Plan{Leaves: map[string][]plan.LeafInstall{}}
	err := o.Bootstrap(context.Background(), p, false)
	if err == nil {
		t.Fatal("expected lifecycle failure to abort bootstrap")
	}
	var failed *LifecycleScriptFailed
	if !errors.As(err, &failed) {
		t.Fatalf("expected *LifecycleScriptFailed, got %T: %v", err, err)
	}
	if failed.Package != "a" || failed.Script != ScriptPreinstall {
		t.Fatalf("unexpected failure detail: %+v", failed)
	}
}

func TestRunInstallPhaseRootAndLeaves(t *testing.T) {
	a := graph.NewPackage("a", mustVersion(t, "1.0.0"), "/repo/packages/a", "/repo/packages/a/node_modules", nil, nil)
	g := graph.New([]*graph.Package{a})
	root := &manifest.RootManifest{RootPath: "/repo", ModulesDir: "/repo/node_modules"}
	inst := &fakeInstaller{}
	o := New(g, root, inst, &fakeScripts{}, nil, nil, 2, true, nil)

	p := &plan.Plan{
		RootInstalls: []plan.RootInstall{{Name: "react", Spec: "react@15.x", IsSatisfied: false}},
		Leaves: map[string][]plan.LeafInstall{
			"a": {{Spec: "left-pad@^1.0.0", IsSatisfied: false}},
		},
	}

	if err := o.runInstallPhase(context.Background(), p); err != nil {
		t.Fatalf("runInstallPhase: %v", err)
	}

	foundRoot, foundLeaf := false, false
	for i, dir := range inst.dirCalls {
		if dir == "/repo" {
			foundRoot = true
			if len(inst.specCalls[i]) != 1 || inst.specCalls[i][0] != "react@15.x" {
				t.Fatalf("unexpected root install specs: %+v", inst.specCalls[i])
			}
			if inst.globalCalls[i] {
				t.Fatalf("root install must never pass global-style")
			}
		}
		if dir == "/repo/packages/a" {
			foundLeaf = true
			if len(inst.specCalls[i]) != 1 || inst.specCalls[i][0] != "left-pad@^1.0.0" {
				t.Fatalf("unexpected leaf install specs: %+v", inst.specCalls[i])
			}
			if !inst.globalCalls[i] {
				t.Fatalf("leaf install should pass global-style when the orchestrator has hoisting enabled")
			}
		}
	}
	if !foundRoot || !foundLeaf {
		t.Fatalf("expected both a root and a leaf install call, got dirs=%+v", inst.dirCalls)
	}
}

func TestLeafInstallOmitsGlobalStyleWhenHoistingDisabled(t *testing.T) {
	a := graph.NewPackage("a", mustVersion(t, "1.0.0"), "/repo/packages/a", "/repo/packages/a/node_modules", nil, nil)
	g := graph.New([]*graph.Package{a})
	root := &manifest.RootManifest{RootPath: "/repo", ModulesDir: "/repo/node_modules"}
	inst := &fakeInstaller{}
	o := New(g, root, inst, &fakeScripts{}, nil, nil, 2, false, nil)

	p := &plan.Plan{
		Leaves: map[string][]plan.LeafInstall{
			"a": {{Spec: "left-pad@^1.0.0", IsSatisfied: false}},
		},
	}
	if err := o.runInstallPhase(context.Background(), p); err != nil {
		t.Fatalf("runInstallPhase: %v", err)
	}
	if len(inst.globalCalls) != 1 || inst.globalCalls[0] {
		t.Fatalf("expected global-style omitted when hoisting is disabled, got %+v", inst.globalCalls)
	}
}

func TestBootstrapEmitsNamedDiagnosticLines(t *testing.T) {
	a := graph.NewPackage("a", mustVersion(t, "1.0.0"), "/repo/packages/a", "/repo/packages/a/node_modules", nil, nil)
	g := graph.New([]*graph.Package{a})
	root := &manifest.RootManifest{RootPath: "/repo", ModulesDir: "/repo/node_modules"}
	inst := &fakeInstaller{}
	rec := diag.NewRecorder()
	o := New(g, root, inst, &fakeScripts{}, nil, nil, 2, false, rec)

	p := &plan.Plan{
		RootInstalls: []plan.RootInstall{{Name: "react", Dependents: []string{"a"}, Spec: "react@15.x", IsSatisfied: false}},
		Leaves:       map[string][]plan.LeafInstall{},
	}
	if err := o.Bootstrap(context.Background(), p, false); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	want := []string{
		"bootstrapping 1 packages",
		"installing hoisted dependencies into root",
		"finished installing in root",
		"pruning hoisted dependencies",
		"finished pruning",
	}
	for _, msg := range want {
		found := false
		for _, e := range rec.ByKind(diag.Info) {
			if e.Message == msg {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("expected an Info diagnostic %q, got %+v", msg, rec.ByKind(diag.Info))
		}
	}
}

func TestPackagesFilterScopesLifecycleSymlinkAndLeafInstalls(t *testing.T) {
	a := graph.NewPackage("a", mustVersion(t, "1.0.0"), "/repo/packages/a", "/repo/packages/a/node_modules", nil, nil)
	b := graph.NewPackage("b", mustVersion(t, "1.0.0"), "/repo/packages/b", "/repo/packages/b/node_modules", map[string]string{"a": "^1.0.0"}, nil)
	g := graph.New([]*graph.Package{a, b})
	root := &manifest.RootManifest{RootPath: "/repo", ModulesDir: "/repo/node_modules"}
	inst := &fakeInstaller{}
	scripts := &fakeScripts{}
	o := New(g, root, inst, scripts, nil, []string{"b"}, 2, false, nil)

	p := &plan.Plan{
		Leaves: map[string][]plan.LeafInstall{
			"a": {{Spec: "left-pad@^1.0.0", IsSatisfied: false}},
			"b": {{Spec: "left-pad@^1.0.0", IsSatisfied: false}},
		},
	}
	if err := o.Bootstrap(context.Background(), p, false); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	if indexOf(scripts.ran, "a:preinstall") >= 0 {
		t.Fatalf("package a is out of scope, should not have run lifecycle scripts: %v", scripts.ran)
	}
	if indexOf(scripts.ran, "b:preinstall") < 0 {
		t.Fatalf("package b is in scope, expected its lifecycle scripts to run: %v", scripts.ran)
	}

	for _, dir := range inst.dirCalls {
		if dir == "/repo/packages/a" {
			t.Fatalf("package a is out of scope, should not have been installed")
		}
	}
}

func TestRunInstallPhaseSkipsSatisfiedLeaves(t *testing.T) {
	a := graph.NewPackage("a", mustVersion(t, "1.0.0"), "/repo/packages/a", "/repo/packages/a/node_modules", nil, nil)
	g := graph.New([]*graph.Package{a})
	root := &manifest.RootManifest{RootPath: "/repo", ModulesDir: "/repo/node_modules"}
	inst := &fakeInstaller{}
	o := New(g, root, inst, &fakeScripts{}, nil, nil, 2, true, nil)

	p := &plan.Plan{
		Leaves: map[string][]plan.LeafInstall{
			"a": {{Spec: "left-pad@^1.0.0", IsSatisfied: true}},
		},
	}

	if err := o.runInstallPhase(context.Background(), p); err != nil {
		t.Fatalf("runInstallPhase: %v", err)
	}
	if len(inst.dirCalls) != 0 {
		t.Fatalf("expected no installer calls when every leaf is satisfied, got %+v", inst.dirCalls)
	}
}

func indexOf(xs []string, want string) int {
	for i, x := range xs {
		if x == want {
			return i
		}
	}
	return -1
}
