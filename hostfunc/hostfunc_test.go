package hostfunc

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/caffeineduck/scriptgate/handler"
	"github.com/caffeineduck/scriptgate/sapi"
)

func withRequest(req *handler.Request) context.Context {
	rc := sapi.NewRequestContext("req-123", req, sapi.NewGlobals())
	rc.Filename = "/srv/app.js"
	return sapi.WithRequestContext(context.Background(), rc)
}

// =============================================================================
// REGISTRY
// =============================================================================

func TestRegistryCall(t *testing.T) {
	r := NewRegistry()
	r.Register("echo", func(ctx context.Context, args map[string]any) (any, error) {
		return args["v"], nil
	})

	got, err := r.Call(context.Background(), "echo", map[string]any{"v": "x"})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if got != "x" {
		t.Errorf("expected x, got %v", got)
	}

	_, err = r.Call(context.Background(), "missing", nil)
	if !errors.Is(err, ErrUnknownFunc) {
		t.Errorf("expected ErrUnknownFunc, got %v", err)
	}
}

func TestRegistryNilArgs(t *testing.T) {
	r := NewRegistry()
	r.Register("count", func(ctx context.Context, args map[string]any) (any, error) {
		return len(args), nil
	})
	got, err := r.Call(context.Background(), "count", nil)
	if err != nil || got != 0 {
		t.Errorf("expected 0, nil; got %v, %v", got, err)
	}
}

func TestRegistryClone(t *testing.T) {
	r := NewRegistry()
	r.Register("a", RequestHeaders)

	c := r.Clone()
	c.Register("b", RequestInfo)

	if _, ok := r.Get("b"); ok {
		t.Error("clone must not write through to the original")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("clone lost a function")
	}

	var nilRegistry *Registry
	if len(nilRegistry.Clone().List()) != 0 {
		t.Error("clone of nil registry should be empty")
	}
}

// =============================================================================
// REQUEST
// =============================================================================

func TestRequestHeaders(t *testing.T) {
	req := handler.NewRequest().
		URL("/x").
		Header("Accept", "text/html").
		Header("Accept", "application/json").
		Header("X-Id", "7").
		MustBuild()

	got, err := RequestHeaders(withRequest(req), nil)
	if err != nil {
		t.Fatalf("RequestHeaders failed: %v", err)
	}
	h := got.(map[string]any)
	if h["Accept"] != "text/html, application/json" {
		t.Errorf("unexpected Accept: %v", h["Accept"])
	}
	if h["X-Id"] != "7" {
		t.Errorf("unexpected X-Id: %v", h["X-Id"])
	}
}

func TestRequestInfo(t *testing.T) {
	req := handler.NewRequest().Method("DELETE").URL("/items/3?force=1").MustBuild()

	got, err := RequestInfo(withRequest(req), nil)
	if err != nil {
		t.Fatalf("RequestInfo failed: %v", err)
	}
	info := got.(map[string]any)
	want := map[string]any{
		"id":       "req-123",
		"method":   "DELETE",
		"path":     "/items/3",
		"query":    "force=1",
		"filename": "/srv/app.js",
	}
	for k, v := range want {
		if info[k] != v {
			t.Errorf("%s: expected %v, got %v", k, v, info[k])
		}
	}
}

func TestRequestFuncsNeedContext(t *testing.T) {
	if _, err := RequestHeaders(context.Background(), nil); !errors.Is(err, sapi.ErrNoRequestContext) {
		t.Errorf("expected ErrNoRequestContext, got %v", err)
	}
	if _, err := RequestInfo(context.Background(), nil); !errors.Is(err, sapi.ErrNoRequestContext) {
		t.Errorf("expected ErrNoRequestContext, got %v", err)
	}
}

// =============================================================================
// FETCH
// =============================================================================

func TestFetchDisabledWithoutHosts(t *testing.T) {
	f := NewFetch(FetchConfig{})
	_, err := f.Do(context.Background(), map[string]any{"url": "https://example.com"})
	if !errors.Is(err, ErrFetchDisabled) {
		t.Errorf("expected ErrFetchDisabled, got %v", err)
	}
}

func TestFetchBlocksHosts(t *testing.T) {
	f := NewFetch(FetchConfig{AllowedHosts: []string{"allowed.com"}})

	tests := []struct {
		url  string
		want string
	}{
		{"https://evil.com", "host not allowed: evil.com"},
		{"https://evil.com/?x=allowed.com", "host not allowed: evil.com"},
		{"https://allowed.com.evil.com/", "host not allowed: allowed.com.evil.com"},
		{"ftp://allowed.com/file", "scheme must be http or https"},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			_, err := f.Do(context.Background(), map[string]any{"url": tt.url})
			if err == nil || err.Error() != tt.want {
				t.Errorf("expected %q, got %v", tt.want, err)
			}
		})
	}
}

func TestFetchValidation(t *testing.T) {
	f := NewFetch(FetchConfig{AllowedHosts: []string{"example.com"}, MaxURLLength: 30})

	if _, err := f.Do(context.Background(), map[string]any{}); err == nil || err.Error() != "url required" {
		t.Errorf("expected 'url required', got %v", err)
	}
	if _, err := f.Do(context.Background(), map[string]any{"url": "https://example.com", "method": "TRACE"}); err == nil {
		t.Error("expected unsupported method error")
	}
	if _, err := f.Do(context.Background(), map[string]any{"url": "https://example.com/a/very/long/path"}); err == nil {
		t.Error("expected url length error")
	}
}

func TestFetchForwardsRequestID(t *testing.T) {
	var gotID, gotMethod, gotHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = r.Header.Get("X-Request-Id")
		gotMethod = r.Method
		gotHeader = r.Header.Get("X-Custom")
		w.Header().Set("X-Reply", "yes")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	f := NewFetch(FetchConfig{AllowedHosts: []string{"127.0.0.1"}})
	ctx := withRequest(handler.NewRequest().URL("/").MustBuild())

	result, err := f.Do(ctx, map[string]any{
		"url":     server.URL,
		"method":  "post",
		"body":    "data",
		"headers": map[string]any{"X-Custom": "1"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data := result.(map[string]any)
	if data["status"].(int) != http.StatusCreated {
		t.Errorf("expected 201, got %v", data["status"])
	}
	if data["body"] != `{"ok":true}` {
		t.Errorf("unexpected body %v", data["body"])
	}
	if data["headers"].(map[string]any)["X-Reply"] != "yes" {
		t.Errorf("missing reply header: %v", data["headers"])
	}
	if gotID != "req-123" || gotMethod != "POST" || gotHeader != "1" {
		t.Errorf("server saw id=%q method=%q header=%q", gotID, gotMethod, gotHeader)
	}
}

// =============================================================================
// FILES
// =============================================================================

func TestFilesRead(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "data.txt"), []byte("hello"), 0o644)
	os.Mkdir(filepath.Join(dir, "sub"), 0o755)

	f := NewFiles(dir, 0)
	ctx := context.Background()

	got, err := f.Read(ctx, map[string]any{"path": "/data.txt"})
	if err != nil || got != "hello" {
		t.Fatalf("expected hello, got %v, %v", got, err)
	}

	if _, err := f.Read(ctx, map[string]any{"path": "/missing.txt"}); err == nil {
		t.Error("expected not found error")
	}
	if _, err := f.Read(ctx, map[string]any{"path": "/sub"}); err == nil {
		t.Error("expected directory error")
	}
	if _, err := f.Read(ctx, map[string]any{}); err == nil {
		t.Error("expected path required error")
	}
}

func TestFilesStayInsideRoot(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "root")
	os.Mkdir(root, 0o755)
	os.WriteFile(filepath.Join(parent, "secret.txt"), []byte("secret"), 0o644)

	f := NewFiles(root, 0)
	got, err := f.Read(context.Background(), map[string]any{"path": "../secret.txt"})
	if err == nil {
		t.Fatalf("read escaped the root: %v", got)
	}

	exists, err := f.Exists(context.Background(), map[string]any{"path": "../secret.txt"})
	if err != nil || exists != false {
		t.Errorf("expected false, nil; got %v, %v", exists, err)
	}
}

func TestFilesSymlinkOutsideRoot(t *testing.T) {
	outside := t.TempDir()
	os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("secret"), 0o644)
	root := t.TempDir()
	os.WriteFile(filepath.Join(root, "real.txt"), []byte("real"), 0o644)
	if err := os.Symlink(filepath.Join(outside, "secret.txt"), filepath.Join(root, "leak.txt")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	os.Symlink(outside, filepath.Join(root, "leakdir"))
	os.Symlink(filepath.Join(root, "real.txt"), filepath.Join(root, "alias.txt"))

	f := NewFiles(root, 0)
	ctx := context.Background()

	for _, p := range []string{"leak.txt", "leakdir/secret.txt"} {
		if got, err := f.Read(ctx, map[string]any{"path": p}); !errors.Is(err, ErrOutsideRoot) {
			t.Errorf("%s: expected ErrOutsideRoot, got %v, %v", p, got, err)
		}
		if exists, _ := f.Exists(ctx, map[string]any{"path": p}); exists != false {
			t.Errorf("%s: should not exist", p)
		}
	}
	if _, err := f.List(ctx, map[string]any{"path": "leakdir"}); !errors.Is(err, ErrOutsideRoot) {
		t.Errorf("expected ErrOutsideRoot listing leakdir, got %v", err)
	}

	got, err := f.Read(ctx, map[string]any{"path": "alias.txt"})
	if err != nil || got != "real" {
		t.Errorf("link inside root should be readable, got %v, %v", got, err)
	}
}

func TestFilesMaxSize(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "big.txt"), make([]byte, 64), 0o644)

	f := NewFiles(dir, 16)
	if _, err := f.Read(context.Background(), map[string]any{"path": "big.txt"}); err == nil {
		t.Error("expected size error")
	}
}

func TestFilesUsesRequestDocroot(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "page.txt"), []byte("page"), 0o644)

	f := NewFiles("", 0)
	ctx := withRequest(handler.NewRequest().URL("/").Docroot(dir).MustBuild())

	got, err := f.Read(ctx, map[string]any{"path": "page.txt"})
	if err != nil || got != "page" {
		t.Fatalf("expected page, got %v, %v", got, err)
	}

	if _, err := f.Read(context.Background(), map[string]any{"path": "page.txt"}); err == nil {
		t.Error("expected error without root or request")
	}
}

func TestFilesList(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0o644)
	os.Mkdir(filepath.Join(dir, "b"), 0o755)

	f := NewFiles(dir, 0)
	got, err := f.List(context.Background(), map[string]any{"path": "/"})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	entries := got.([]any)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	first := entries[0].(map[string]any)
	if first["name"] != "a.txt" || first["is_dir"] != false {
		t.Errorf("unexpected first entry %v", first)
	}
	second := entries[1].(map[string]any)
	if second["name"] != "b" || second["is_dir"] != true {
		t.Errorf("unexpected second entry %v", second)
	}
}
