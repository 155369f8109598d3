// Package lerna loads a real repository on disk for the planner, graph,
// and orchestrator: finding the repo root, reading its manifest and
// options, and discovering repo-local packages.
// The shape mirrors golang-dep's Ctx/LoadProject pair (context.go), with
// GOPATH-anchored discovery replaced by a walk-up search for a lerna
// config file or root package.json, since this domain has no GOPATH
// equivalent.
package lerna

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/nicolaerusan/lerna/manifest"
)

// Config file names recognized at the repo root.
const (
	OptionsFileJSON = "lerna.json"
	OptionsFileTOML = "lerna.toml"
	ManifestFile    = "package.json"
)

// Ctx is the supporting context for a single bootstrap invocation.
type Ctx struct {
	WorkingDir string
}

// NewContext returns a Ctx anchored at the process's working directory.
func NewContext() (*Ctx, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrap(err, "getting working directory")
	}
	return &Ctx{WorkingDir: wd}, nil
}

// findRepoRoot walks up from `from` looking for a lerna config file or a
// root package.json, stopping at the first directory that has one -
// the same upward-search shape as golang-dep's findProjectRoot, generalized
// to accept either config file.
func findRepoRoot(from string) (string, error) {
	dir, err := filepath.Abs(from)
	if err != nil {
		return "", errors.Wrap(err, "resolving absolute path")
	}
	for {
		for _, name := range []string{OptionsFileJSON, OptionsFileTOML, ManifestFile} {
			if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
				return dir, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.Errorf("no %s, %s, or %s found above %s", OptionsFileJSON, OptionsFileTOML, ManifestFile, from)
		}
		dir = parent
	}
}

// LoadOptions reads lerna.json if present, else lerna.toml, else returns
// the default Options (decoded from an empty JSON document, the same
// defaults ReadOptionsJSON applies to any config that omits a field).
func LoadOptions(root string) (*manifest.Options, error) {
	if f, err := os.Open(filepath.Join(root, OptionsFileJSON)); err == nil {
		defer f.Close()
		return manifest.ReadOptionsJSON(f)
	}
	if f, err := os.Open(filepath.Join(root, OptionsFileTOML)); err == nil {
		defer f.Close()
		return manifest.ReadOptionsTOML(f)
	}
	return manifest.ReadOptionsJSON(strings.NewReader("{}"))
}
