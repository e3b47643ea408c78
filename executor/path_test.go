package executor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslatePath(t *testing.T) {
	root := t.TempDir()
	mustWrite := func(rel string) {
		p := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	}
	mustWrite("index.js")
	mustWrite("blog/index.js")
	mustWrite("api/users.js")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty"), 0o755))

	tests := []struct {
		path    string
		want    string
		wantErr bool
	}{
		{path: "/", want: "index.js"},
		{path: "", want: "index.js"},
		{path: "/blog/", want: "blog/index.js"},
		{path: "/blog", want: "blog/index.js"},
		{path: "/api/users.js", want: "api/users.js"},
		{path: "/api/users.js/42/posts", want: "api/users.js"},
		{path: "/index.js/blog/1", want: "index.js"},
		{path: "/blog/missing/1", wantErr: true},
		{path: "/api/missing.js", wantErr: true},
		{path: "/empty/", wantErr: true},
		{path: "/../etc/passwd", wantErr: true},
		{path: "/api/../../secret", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := TranslatePath(root, tt.path, "index.js")
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrScriptNotFound)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(root, tt.want), got)
		})
	}
}

func TestTranslatePathCustomIndex(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.js"), []byte("x"), 0o644))

	got, err := TranslatePath(root, "/", "main.js")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "main.js"), got)

	_, err = TranslatePath(root, "/", "")
	assert.ErrorIs(t, err, ErrScriptNotFound)
}

func TestTranslatePathSymlinks(t *testing.T) {
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret.js"), []byte("x"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(outside, "dir"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(outside, "dir", "index.js"), []byte("x"), 0o644))

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "real.js"), []byte("x"), 0o644))
	links := map[string]string{
		"evil.js":  filepath.Join(outside, "secret.js"),
		"evildir":  filepath.Join(outside, "dir"),
		"alias.js": filepath.Join(root, "real.js"),
	}
	for name, target := range links {
		if err := os.Symlink(target, filepath.Join(root, name)); err != nil {
			t.Skipf("symlinks unsupported: %v", err)
		}
	}

	for _, path := range []string{"/evil.js", "/evil.js/extra", "/evildir/", "/evildir/index.js"} {
		_, err := TranslatePath(root, path, "index.js")
		assert.ErrorIs(t, err, ErrScriptNotFound, path)
	}

	got, err := TranslatePath(root, "/alias.js", "index.js")
	require.NoError(t, err, "links that stay inside the docroot resolve")
	assert.Equal(t, filepath.Join(root, "alias.js"), got)
}

func TestTranslatePathNoDocroot(t *testing.T) {
	_, err := TranslatePath("", "/index.js", "index.js")
	assert.ErrorIs(t, err, ErrScriptNotFound)
}

func TestSplitPathInfo(t *testing.T) {
	tests := []struct {
		filename, path   string
		script, pathInfo string
	}{
		{"/srv/www/index.js", "/index.js/blog/1", "/index.js", "/blog/1"},
		{"/srv/www/index.js", "/index.js", "/index.js", ""},
		{"/srv/www/blog/index.js", "/blog/", "/blog/", ""},
		{"/srv/www/vars.js", "/vars", "/vars", ""},
		{"/srv/www/a.js", "/a.jsx", "/a.jsx", ""},
		{"/elsewhere/a.js", "/a.js/x", "/a.js/x", ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			script, info := splitPathInfo("/srv/www", tt.filename, tt.path)
			assert.Equal(t, tt.script, script)
			assert.Equal(t, tt.pathInfo, info)
		})
	}
}
