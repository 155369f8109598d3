// Package installer is the installer subprocess contract spec.md §6 names:
// the boundary between the planner/orchestrator and an external npm-style
// package manager binary. Only the interface is in scope; the concrete
// Exec implementation shells out the same way golang-dep's external-tool
// invocations in cmd/dep/ensure.go wrap a failing subprocess with context
// before returning it.
package installer

import (
	"context"
	"os"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
)

// Config is passed through to every invocation of the installer.
type Config struct {
	Client   string // executable name: "npm", "yarn", ...
	Registry string // passed through verbatim; empty means "use the client's default"
	Mutex    string // opaque coordination token, e.g. "network:42424"
}

// InstallerFailed reports that an installer subprocess exited non-zero.
type InstallerFailed struct {
	Dir   string
	Specs []string
	Err   error
}

func (e *InstallerFailed) Error() string {
	what := "original manifest"
	if len(e.Specs) > 0 {
		what = strings.Join(e.Specs, ", ")
	}
	return errors.Wrapf(e.Err, "install %s in %s", what, e.Dir).Error()
}

func (e *InstallerFailed) Unwrap() error { return e.Err }

// Installer is the subprocess contract. Implementations must be safe for
// concurrent use: the orchestrator invokes it from many goroutines within
// a single phase.
type Installer interface {
	// InstallSpecs installs the given "name@range" specs in dir. An empty
	// specs slice is valid and must still succeed (spec.md §6). globalStyle
	// is passed iff hoisting is enabled, so a per-package install does not
	// itself flatten dependencies into dir and fight the planner's own
	// hoisting decisions (spec.md §4.5 phase B.2).
	InstallSpecs(ctx context.Context, dir string, specs []string, globalStyle bool) error
	// InstallManifest installs whatever dir's own manifest declares.
	InstallManifest(ctx context.Context, dir string) error
}

// Exec is the default Installer, shelling out to cfg.Client.
type Exec struct {
	Config
}

// New returns an Exec installer configured with cfg.
func New(cfg Config) *Exec { return &Exec{Config: cfg} }

// InstallSpecs implements Installer.
func (e *Exec) InstallSpecs(ctx context.Context, dir string, specs []string, globalStyle bool) error {
	args := append([]string{"install"}, specs...)
	if globalStyle {
		args = append(args, "--global-style")
	}
	if err := e.run(ctx, dir, args); err != nil {
		return &InstallerFailed{Dir: dir, Specs: specs, Err: err}
	}
	return nil
}

// InstallManifest implements Installer.
func (e *Exec) InstallManifest(ctx context.Context, dir string) error {
	if err := e.run(ctx, dir, []string{"install"}); err != nil {
		return &InstallerFailed{Dir: dir, Err: err}
	}
	return nil
}

func (e *Exec) run(ctx context.Context, dir string, args []string) error {
	client := e.Client
	if client == "" {
		client = "npm"
	}
	if e.Registry != "" {
		args = append(args, "--registry", e.Registry)
	}
	if e.Mutex != "" {
		args = append(args, "--mutex", e.Mutex)
	}

	cmd := exec.CommandContext(ctx, client, args...)
	cmd.Dir = dir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return errors.Wrapf(cmd.Run(), "%s %s", client, strings.Join(args, " "))
}
