// Command lerna bootstraps a monorepo of npm-manifest packages: it plans
// dependency placement, drives an external installer, links siblings, and
// runs lifecycle scripts in dependency order.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	flags "github.com/thought-machine/go-flags"

	lerna "github.com/nicolaerusan/lerna"
	"github.com/nicolaerusan/lerna/graph"
	"github.com/nicolaerusan/lerna/installer"
	"github.com/nicolaerusan/lerna/internal/diag"
	"github.com/nicolaerusan/lerna/manifest"
	"github.com/nicolaerusan/lerna/orchestrate"
	"github.com/nicolaerusan/lerna/plan"
)

// runLockFile is the repo-relative path of the run lock, preventing two
// concurrent bootstraps from mutating the same node_modules trees.
const runLockFile = ".lerna-bootstrap.lock"

// opts mirrors please_js's single top-level struct of per-command option
// groups, reduced here to the one "bootstrap" command spec.md §6 names.
var opts struct {
	Bootstrap struct {
		Cwd         string   `long:"cwd" description:"directory to search upward from for the repo root" default:"."`
		Concurrency int      `long:"concurrency" description:"override the configured concurrency cap"`
		DryRun      bool     `long:"dry-run" description:"print the plan without installing anything"`
		Scope       []string `long:"scope" description:"restrict bootstrap to these package names (repeatable)"`
	} `command:"bootstrap" alias:"b" description:"bootstrap the monorepo: plan, install, link, and run lifecycle scripts"`
}

type command interface {
	Run(stdout, stderr io.Writer) error
}

func main() {
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		os.Exit(1)
	}
	if parser.Active == nil {
		parser.WriteHelp(os.Stderr)
		os.Exit(1)
	}

	var cmd command
	switch parser.Active.Name {
	case "bootstrap":
		cmd = &bootstrapCommand{
			cwd:         opts.Bootstrap.Cwd,
			concurrency: opts.Bootstrap.Concurrency,
			dryRun:      opts.Bootstrap.DryRun,
			scope:       opts.Bootstrap.Scope,
		}
	}

	if err := cmd.Run(os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "lerna:", err)
		os.Exit(1)
	}
}

type bootstrapCommand struct {
	cwd         string
	concurrency int
	dryRun      bool
	scope       []string
}

func (b *bootstrapCommand) Run(stdout, stderr io.Writer) error {
	repo, err := lerna.Load(b.cwd)
	if err != nil {
		return err
	}

	if b.concurrency > 0 {
		repo.Options.Concurrency = b.concurrency
	}

	logger := diag.NewLogger(stderr)
	p, diags, err := plan.Build(repo.Graph, repo.Manifest, plan.Options{
		Hoist:    repo.Options.Hoist,
		NoHoist:  repo.Options.NoHoist,
		Packages: b.scope,
	}, lerna.DirProbe)
	if err != nil {
		return err
	}
	for _, d := range diags {
		logger.Emit(diag.Event{Kind: diag.Warn, Code: d.Code, Package: d.Package, Message: d.Message})
	}

	if b.dryRun {
		return p.Describe(stdout)
	}

	lock, err := orchestrate.AcquireRunLock(filepath.Join(repo.Root, runLockFile))
	if err != nil {
		return err
	}
	defer lock.Unlock()

	mutex := repo.Options.Mutex
	if repo.Options.NpmClient == "yarn" && mutex == "" {
		mutex, err = orchestrate.AllocatePort()
		if err != nil {
			return err
		}
	}

	inst := installer.New(installer.Config{
		Client:   repo.Options.NpmClient,
		Registry: repo.Options.Registry,
		Mutex:    mutex,
	})

	o := orchestrate.New(repo.Graph, repo.Manifest, inst, npmLifecycleRunner{client: repo.Options.NpmClient}, rootBinLookup(repo.Root), b.scope, repo.Options.Concurrency, len(repo.Options.Hoist) > 0, logger)
	return o.Bootstrap(context.Background(), p, repo.Options.UseWorkspaces)
}

// rootBinLookup reads a root-installed dependency's own package.json to
// resolve its declared "bin" entries, the same manifest read project.go
// already does for repo-local packages.
func rootBinLookup(repoRoot string) orchestrate.BinLookup {
	return func(name string) (string, map[string]string, error) {
		location := filepath.Join(repoRoot, lerna.NodeModulesDir, name)
		f, err := os.Open(filepath.Join(location, lerna.ManifestFile))
		if err != nil {
			if os.IsNotExist(err) {
				return location, nil, nil
			}
			return "", nil, err
		}
		defer f.Close()

		pm, err := manifest.ReadPackageManifest(f)
		if err != nil {
			return "", nil, err
		}
		return location, pm.Bin, nil
	}
}

// npmLifecycleRunner runs a package's lifecycle script via the same
// installer client used for dependency installation: "npm run <script>
// --if-present" and its equivalents treat a missing script as a no-op,
// which is exactly the semantics spec.md's lifecycle phases need.
type npmLifecycleRunner struct {
	client string
}

func (r npmLifecycleRunner) RunScript(ctx context.Context, pkg *graph.Package, script string) error {
	cmd := exec.CommandContext(ctx, r.client, "run", script, "--if-present")
	cmd.Dir = pkg.Location
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
