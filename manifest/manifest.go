// Package manifest decodes the repository-level manifest (the npm
// "package.json" at the repo root) and the bootstrap options that
// configure hoisting, the installer client, and concurrency.
//
// The wire format for the root manifest's dependency map is JSON, because
// that is what package.json actually is; the bootstrap options additionally
// accept a TOML file as an alternative to JSON, the same way golang-dep's
// manifest accepts only Gopkg.toml - here both formats are first-class so
// a monorepo can keep using `lerna.json` or switch to `lerna.toml`.
package manifest

import (
	"encoding/json"
	"io"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"

	"github.com/nicolaerusan/lerna/hoist"
)

// RootManifest is the repository-level equivalent of a Package: a
// dependency map, a root path, and a root local-module directory.
type RootManifest struct {
	Dependencies map[string]string
	RootPath     string
	ModulesDir   string
}

// rawRootManifest mirrors the on-disk JSON shape of a package.json-like
// root manifest. Decoding into this wire struct first, then converting
// into RootManifest, keeps the on-disk shape free to evolve independently
// of the domain type - the same split golang-dep's rawManifest/Manifest
// pair uses.
type rawRootManifest struct {
	Dependencies map[string]string `json:"dependencies,omitempty"`
}

// ReadRootManifest decodes a package.json-shaped root manifest from r.
// rootPath and modulesDir are supplied by the caller because they come
// from repository layout, not from the manifest file's own contents.
func ReadRootManifest(r io.Reader, rootPath, modulesDir string) (*RootManifest, error) {
	var raw rawRootManifest
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, errors.Wrap(err, "decoding root manifest")
	}
	deps := raw.Dependencies
	if deps == nil {
		deps = map[string]string{}
	}
	return &RootManifest{
		Dependencies: deps,
		RootPath:     rootPath,
		ModulesDir:   modulesDir,
	}, nil
}

// PackageManifest is the per-package equivalent of RootManifest: the
// subset of a package.json the planner and orchestrator need.
type PackageManifest struct {
	Name         string
	Version      string
	Dependencies map[string]string
	Bin          map[string]string
}

// rawPackageManifest mirrors a package's own package.json. Bin may be
// written as either a single string (one binary named after the package)
// or an object of name->path pairs, the same duality package.json allows.
type rawPackageManifest struct {
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
	Bin          json.RawMessage   `json:"bin,omitempty"`
}

// ReadPackageManifest decodes a single repo-local package's package.json.
func ReadPackageManifest(r io.Reader) (*PackageManifest, error) {
	var raw rawPackageManifest
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, errors.Wrap(err, "decoding package manifest")
	}
	deps := raw.Dependencies
	if deps == nil {
		deps = map[string]string{}
	}
	return &PackageManifest{
		Name:         raw.Name,
		Version:      raw.Version,
		Dependencies: deps,
		Bin:          parseBin(raw.Name, raw.Bin),
	}, nil
}

func parseBin(pkgName string, raw json.RawMessage) map[string]string {
	if len(raw) == 0 {
		return map[string]string{}
	}
	var asObject map[string]string
	if err := json.Unmarshal(raw, &asObject); err == nil {
		return asObject
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil && asString != "" {
		return map[string]string{pkgName: asString}
	}
	return map[string]string{}
}

// Options are the configuration knobs recognized by the core (spec.md §6).
type Options struct {
	// Hoist holds the include patterns. A nil/empty slice means hoisting
	// is disabled; []string{hoist.Wildcard} means "hoist is true" (match
	// everything).
	Hoist []string
	// NoHoist holds exclude patterns layered on top of Hoist.
	NoHoist []string
	// NpmClient is the installer executable name ("npm", "yarn", ...).
	NpmClient string
	// Registry is passed through to the installer verbatim.
	Registry string
	// Mutex is the opaque installer coordination token. Empty means "not
	// yet allocated"; the orchestrator fills this in for clients that
	// require it (spec.md §6).
	Mutex string
	// UseWorkspaces delegates all installation to the root installer.
	UseWorkspaces bool
	// Concurrency caps phase-internal parallelism. Must be >= 1.
	Concurrency int
	// Packages lists the glob patterns, relative to the repo root, that
	// locate repo-local package directories. A nil/empty slice defaults
	// to []string{"packages/*"}.
	Packages []string
}

// DefaultPackagesPattern is used when a config file omits the package
// discovery globs entirely.
var DefaultPackagesPattern = []string{"packages/*"}

// DefaultConcurrency is used when a config file omits the concurrency
// setting.
const DefaultConcurrency = 4

// rawOptions is the common wire shape shared by both the JSON and TOML
// encodings of the options file.
type rawOptions struct {
	Hoist         interface{} `json:"hoist,omitempty" toml:"hoist,omitempty"`
	NoHoist       string      `json:"nohoist,omitempty" toml:"nohoist,omitempty"`
	NpmClient     string      `json:"npmClient,omitempty" toml:"npm-client,omitempty"`
	Registry      string      `json:"registry,omitempty" toml:"registry,omitempty"`
	Mutex         string      `json:"mutex,omitempty" toml:"mutex,omitempty"`
	UseWorkspaces bool        `json:"useWorkspaces,omitempty" toml:"use-workspaces,omitempty"`
	Concurrency   int         `json:"concurrency,omitempty" toml:"concurrency,omitempty"`
	Packages      []string    `json:"packages,omitempty" toml:"packages,omitempty"`
}

// ReadOptionsJSON decodes a lerna.json-shaped options file.
func ReadOptionsJSON(r io.Reader) (*Options, error) {
	var raw rawOptions
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, errors.Wrap(err, "decoding lerna.json options")
	}
	return toOptions(raw), nil
}

// ReadOptionsTOML decodes a lerna.toml-shaped options file, the
// alternative format carried over from the teacher's Gopkg.toml handling.
func ReadOptionsTOML(r io.Reader) (*Options, error) {
	var raw rawOptions
	dec := toml.NewDecoder(r)
	if err := dec.Decode(&raw); err != nil {
		return nil, errors.Wrap(err, "decoding lerna.toml options")
	}
	return toOptions(raw), nil
}

func toOptions(raw rawOptions) *Options {
	o := &Options{
		NoHoist:       splitNonEmpty(raw.NoHoist),
		NpmClient:     raw.NpmClient,
		Registry:      raw.Registry,
		Mutex:         raw.Mutex,
		UseWorkspaces: raw.UseWorkspaces,
		Concurrency:   raw.Concurrency,
		Packages:      raw.Packages,
	}
	if o.Concurrency < 1 {
		o.Concurrency = DefaultConcurrency
	}
	if len(o.Packages) == 0 {
		o.Packages = DefaultPackagesPattern
	}
	if o.NpmClient == "" {
		o.NpmClient = "npm"
	}

	switch h := raw.Hoist.(type) {
	case bool:
		if h {
			o.Hoist = []string{hoist.Wildcard}
		}
	case string:
		if h == "true" {
			o.Hoist = []string{hoist.Wildcard}
		} else if h != "" && h != "false" {
			o.Hoist = splitNonEmpty(h)
		}
	}
	return o
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, trimSpace(s[start:i]))
			}
			start = i + 1
		}
	}
	return out
}

func trimSpace(s string) string {
	for len(s) > 0 && s[0] == ' ' {
		s = s[1:]
	}
	for len(s) > 0 && s[len(s)-1] == ' ' {
		s = s[:len(s)-1]
	}
	return s
}
