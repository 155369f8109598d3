package lerna

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/nicolaerusan/lerna/graph"
	"github.com/nicolaerusan/lerna/manifest"
	"github.com/nicolaerusan/lerna/semver"
)

// NodeModulesDir is the conventional local-module directory name every
// package (and the repo root) gets.
const NodeModulesDir = "node_modules"

// Repo is a fully loaded monorepo: its root manifest, its options, and
// the package graph built from the directories options.Packages matches.
type Repo struct {
	Root     string
	Manifest *manifest.RootManifest
	Options  *manifest.Options
	Graph    *graph.Graph
}

// Load discovers the repo root above `from`, reads its manifest and
// options, and builds the package graph by globbing options.Packages.
func Load(from string) (*Repo, error) {
	root, err := findRepoRoot(from)
	if err != nil {
		return nil, err
	}

	opts, err := LoadOptions(root)
	if err != nil {
		return nil, errors.Wrap(err, "loading options")
	}

	rootManifestPath := filepath.Join(root, ManifestFile)
	rm, err := readRootManifest(rootManifestPath, root)
	if err != nil {
		return nil, err
	}

	packages, err := discoverPackages(root, opts.Packages)
	if err != nil {
		return nil, err
	}

	return &Repo{
		Root:     root,
		Manifest: rm,
		Options:  opts,
		Graph:    graph.New(packages),
	}, nil
}

func readRootManifest(path, root string) (*manifest.RootManifest, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &manifest.RootManifest{
				Dependencies: map[string]string{},
				RootPath:     root,
				ModulesDir:   filepath.Join(root, NodeModulesDir),
			}, nil
		}
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()
	return manifest.ReadRootManifest(f, root, filepath.Join(root, NodeModulesDir))
}

// discoverPackages globs each pattern under root and turns every matching
// directory that contains a package.json into a graph.Package.
func discoverPackages(root string, patterns []string) ([]*graph.Package, error) {
	var out []*graph.Package
	seen := map[string]bool{}

	for _, pattern := range patterns {
		matches, err := filepath.Glob(filepath.Join(root, pattern))
		if err != nil {
			return nil, errors.Wrapf(err, "globbing package pattern %q", pattern)
		}
		for _, dir := range matches {
			if seen[dir] {
				continue
			}
			manifestPath := filepath.Join(dir, ManifestFile)
			f, err := os.Open(manifestPath)
			if err != nil {
				if os.IsNotExist(err) {
					continue // not a package directory
				}
				return nil, errors.Wrapf(err, "opening %s", manifestPath)
			}
			pm, err := manifest.ReadPackageManifest(f)
			f.Close()
			if err != nil {
				return nil, errors.Wrapf(err, "reading %s", manifestPath)
			}
			seen[dir] = true

			version, err := semver.ParseVersion(pm.Version)
			if err != nil {
				return nil, err
			}
			modulesDir := filepath.Join(dir, NodeModulesDir)
			p := graph.NewPackage(pm.Name, version, dir, modulesDir, pm.Dependencies, installedDeps(modulesDir, pm.Dependencies))
			p.Bin = pm.Bin
			out = append(out, p)
		}
	}
	return out, nil
}

// DirProbe is the plan.Probe the root install step uses: it reports
// whether spec's dependency name already has a directory under
// location's node_modules, matching the directory-presence semantics
// SPEC_FULL.md §13 settled on for is_satisfied.
func DirProbe(location, spec string) bool {
	name := spec
	if i := strings.LastIndex(spec, "@"); i > 0 {
		name = spec[:i]
	}
	fi, err := os.Stat(filepath.Join(location, NodeModulesDir, name))
	return err == nil && fi.IsDir()
}

// installedDeps reports, for each declared dependency, whether a
// directory of that name already exists under modulesDir - the coarse
// presence probe spec.md documents (see SPEC_FULL.md §13).
func installedDeps(modulesDir string, deps map[string]string) map[string]bool {
	installed := make(map[string]bool, len(deps))
	for name := range deps {
		if fi, err := os.Stat(filepath.Join(modulesDir, name)); err == nil && fi.IsDir() {
			installed[name] = true
		}
	}
	return installed
}
