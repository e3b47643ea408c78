package executor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var ErrScriptNotFound = errors.New("script not found")

// TranslatePath maps a request path onto a script file under docroot. A path
// naming a directory resolves to index inside it. Segments past a script file,
// as in /index.js/blog/1, are path info and resolve to the script. The result
// is always a regular file inside docroot, also after following symlinks.
func TranslatePath(docroot, uriPath, index string) (string, error) {
	if docroot == "" {
		return "", fmt.Errorf("%w: no document root", ErrScriptNotFound)
	}
	root, err := filepath.Abs(docroot)
	if err != nil {
		return "", fmt.Errorf("resolve docroot: %w", err)
	}

	rel := filepath.FromSlash(strings.TrimPrefix(uriPath, "/"))
	candidate := filepath.Join(root, rel)
	if !within(root, candidate) {
		return "", fmt.Errorf("%w: %s escapes docroot", ErrScriptNotFound, uriPath)
	}

	info, err := os.Stat(candidate)
	if err != nil {
		if p, ok := scriptPrefix(root, candidate); ok {
			return confined(root, p, uriPath)
		}
		return "", fmt.Errorf("%w: %s", ErrScriptNotFound, uriPath)
	}
	if info.IsDir() {
		if index != "" {
			p := filepath.Join(candidate, index)
			if isFile(p) {
				return confined(root, p, uriPath)
			}
		}
		return "", fmt.Errorf("%w: %s is a directory", ErrScriptNotFound, uriPath)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s", ErrScriptNotFound, uriPath)
	}
	return confined(root, candidate, uriPath)
}

// confined returns p unless a symlink takes it outside root.
func confined(root, p, uriPath string) (string, error) {
	if !withinReal(root, p) {
		return "", fmt.Errorf("%w: %s links outside docroot", ErrScriptNotFound, uriPath)
	}
	return p, nil
}

// scriptPrefix finds the nearest ancestor of p below root that is a regular
// file.
func scriptPrefix(root, p string) (string, bool) {
	for dir := filepath.Dir(p); dir != root && within(root, dir); dir = filepath.Dir(dir) {
		info, err := os.Stat(dir)
		if err == nil {
			return dir, info.Mode().IsRegular()
		}
	}
	return "", false
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// withinReal reports whether p stays inside root once symlinks in both are
// resolved.
func withinReal(root, p string) bool {
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return false
	}
	resolved, err := filepath.EvalSymlinks(p)
	if err != nil {
		return false
	}
	return within(realRoot, resolved)
}

func isFile(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}
