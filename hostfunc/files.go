package hostfunc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caffeineduck/scriptgate/sapi"
)

const DefaultFilesMaxSize = 4 << 20

var ErrOutsideRoot = errors.New("path outside root")

// Files gives scripts read-only access to one directory tree, normally the
// document root. With an empty root the current request's docroot is used.
type Files struct {
	root    string
	maxSize int64
}

// NewFiles returns read-only file functions rooted at root. maxSize caps
// file_read; zero means DefaultFilesMaxSize.
func NewFiles(root string, maxSize int64) *Files {
	if maxSize == 0 {
		maxSize = DefaultFilesMaxSize
	}
	return &Files{root: root, maxSize: maxSize}
}

// Register adds file_read, file_exists and file_list to r.
func (f *Files) Register(r *Registry) {
	r.Register("file_read", f.Read)
	r.Register("file_exists", f.Exists)
	r.Register("file_list", f.List)
}

func (f *Files) resolve(ctx context.Context, args map[string]any) (string, error) {
	p, ok := args["path"].(string)
	if !ok {
		return "", errors.New("path required")
	}

	root := f.root
	if root == "" {
		if rc, ok := sapi.RequestContextFrom(ctx); ok {
			root = rc.Request.Docroot()
		}
	}
	if root == "" {
		return "", errors.New("no root configured")
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}

	full := filepath.Join(root, filepath.FromSlash(filepath.Clean("/"+p)))
	rel, err := filepath.Rel(root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, p)
	}
	if !linkedWithin(root, full) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, p)
	}
	return full, nil
}

// linkedWithin reports whether full stays under root after following
// symlinks. A missing path cannot be followed anywhere and passes.
func linkedWithin(root, full string) bool {
	resolved, err := filepath.EvalSymlinks(full)
	if err != nil {
		return os.IsNotExist(err)
	}
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(realRoot, resolved)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Read returns a file's contents.
func (f *Files) Read(ctx context.Context, args map[string]any) (any, error) {
	p, err := f.resolve(ctx, args)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file not found: %v", args["path"])
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("is a directory: %v", args["path"])
	}
	if info.Size() > f.maxSize {
		return nil, fmt.Errorf("file exceeds %d bytes", f.maxSize)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Exists reports whether a path exists. Paths outside the root do not.
func (f *Files) Exists(ctx context.Context, args map[string]any) (any, error) {
	p, err := f.resolve(ctx, args)
	if err != nil {
		if errors.Is(err, ErrOutsideRoot) {
			return false, nil
		}
		return nil, err
	}
	_, err = os.Stat(p)
	return err == nil, nil
}

// List returns the entries of a directory.
func (f *Files) List(ctx context.Context, args map[string]any) (any, error) {
	p, err := f.resolve(ctx, args)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("directory not found: %v", args["path"])
		}
		return nil, err
	}

	out := make([]any, 0, len(entries))
	for _, e := range entries {
		item := map[string]any{"name": e.Name(), "is_dir": e.IsDir()}
		if info, err := e.Info(); err == nil {
			item["size"] = info.Size()
		}
		out = append(out, item)
	}
	return out, nil
}
