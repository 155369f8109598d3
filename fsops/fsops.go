// Package fsops is the filesystem collaborator spec.md §6 names: recursive
// removal, sibling symlinking into a package's local-module directory, and
// binary symlinking into a package's local .bin directory.
package fsops

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/karrick/godirwalk"
	"github.com/pkg/errors"
	"github.com/termie/go-shutil"
)

// FilesystemFailed wraps any fsops error with the path that was being
// operated on, so callers can report which package's install tripped it.
type FilesystemFailed struct {
	Op   string
	Path string
	Err  error
}

func (e *FilesystemFailed) Error() string {
	return errors.Wrapf(e.Err, "%s %s", e.Op, e.Path).Error()
}

func (e *FilesystemFailed) Unwrap() error { return e.Err }

func fail(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &FilesystemFailed{Op: op, Path: path, Err: err}
}

// IsDir reports whether name exists and is a directory.
func IsDir(name string) (bool, error) {
	fi, err := os.Stat(name)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fail("stat", name, err)
	}
	return fi.IsDir(), nil
}

// Prune recursively removes every directory under root whose basename
// matches name - the shadowing-install cleanup the install/link/prune
// phase performs before relinking siblings (spec.md §4.5 phase B).
//
// godirwalk's deterministic, sorted traversal means repeated prunes over
// an unchanged tree visit (and therefore remove) directories in the same
// order, which keeps logs reproducible. A root that does not exist holds
// nothing to prune and is not an error.
func Prune(root, name string) error {
	if ok, err := IsDir(root); err != nil || !ok {
		return err
	}
	var matches []string
	err := godirwalk.Walk(root, &godirwalk.Options{
		Callback: func(osPathname string, de *godirwalk.Dirent) error {
			if de.IsDir() && de.Name() == name {
				matches = append(matches, osPathname)
				return filepath.SkipDir
			}
			return nil
		},
	})
	if err != nil {
		return fail("prune", root, err)
	}
	for _, m := range matches {
		if err := os.RemoveAll(m); err != nil {
			return fail("prune", m, err)
		}
	}
	return nil
}

// SymlinkSibling links a repo-local package's directory into a dependent
// package's local-module directory, e.g. dependent/node_modules/name ->
// the sibling's own location. Any entry already at the target (a symlink
// or a directory) is removed first. If the platform cannot create the
// symlink, SymlinkSibling copies the sibling's tree there with go-shutil's
// CopyTree instead (the same rename-or-copy fallback golang-dep's
// renameWithFallback applies to cross-device renames).
func SymlinkSibling(siblingLocation, dependentModulesDir, name string) error {
	if err := os.MkdirAll(dependentModulesDir, 0o755); err != nil {
		return fail("mkdir", dependentModulesDir, err)
	}
	target := filepath.Join(dependentModulesDir, name)

	if fi, err := os.Lstat(target); err == nil {
		if fi.Mode()&os.ModeSymlink != 0 {
			if err := os.Remove(target); err != nil {
				return fail("remove", target, err)
			}
		} else {
			if err := os.RemoveAll(target); err != nil {
				return fail("remove", target, err)
			}
		}
	}

	if err := os.Symlink(siblingLocation, target); err != nil {
		if _, copyErr := shutil.CopyTree(siblingLocation, target, nil); copyErr != nil {
			return fail("symlink-fallback-copy", target, copyErr)
		}
	}
	return nil
}

// SymlinkBinaries links every entry of bin (binary name -> path relative to
// sourceLocation) into dependentModulesDir's .bin directory, the mechanism
// the root install action of phase B uses to make a hoisted dependency's
// CLI reachable from a package that depends on it.
func SymlinkBinaries(sourceLocation, dependentModulesDir string, bin map[string]string) error {
	if len(bin) == 0 {
		return nil
	}
	binDir := filepath.Join(dependentModulesDir, ".bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return fail("mkdir", binDir, err)
	}
	for name, rel := range bin {
		src := filepath.Join(sourceLocation, rel)
		dst := filepath.Join(binDir, name)
		if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
			return fail("remove", dst, err)
		}
		if err := os.Symlink(src, dst); err != nil {
			return fail("symlink", dst, err)
		}
		if err := os.Chmod(src, 0o755); err != nil && !os.IsNotExist(err) {
			return fail("chmod", src, err)
		}
	}
	return nil
}

// RemoveSibling reverses SymlinkSibling, removing whatever entry is at
// dependentModulesDir/name. The bootstrap phases do not call it.
func RemoveSibling(dependentModulesDir, name string) error {
	target := filepath.Join(dependentModulesDir, name)
	if err := os.RemoveAll(target); err != nil {
		return fail("remove", target, err)
	}
	return nil
}

// IsSymlinkTo reports whether target is a symlink pointing at want. The
// tests use it to check sibling and binary links; the planner's probe
// (DirProbe) checks directory presence instead and does not call it.
func IsSymlinkTo(target, want string) bool {
	got, err := os.Readlink(target)
	if err != nil {
		return false
	}
	return filepath.Clean(got) == filepath.Clean(want) || strings.TrimSuffix(got, "/") == strings.TrimSuffix(want, "/")
}
