package rewrite_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caffeineduck/scriptgate/handler"
	"github.com/caffeineduck/scriptgate/handler/rewrite"
)

func request(method, url string) *handler.Request {
	return handler.NewRequest().Method(method).URL(url).MustBuild()
}

// =============================================================================
// CONDITIONS
// =============================================================================

func TestPathCondition(t *testing.T) {
	c, err := rewrite.PathCondition(`^/api/`)
	require.NoError(t, err)

	assert.True(t, c.Matches(request("GET", "/api/users")))
	assert.False(t, c.Matches(request("GET", "/web/api/")))

	_, err = rewrite.PathCondition(`(`)
	assert.Error(t, err)
}

func TestGlobCondition(t *testing.T) {
	c, err := rewrite.GlobCondition("/static/**/*.css")
	require.NoError(t, err)

	assert.True(t, c.Matches(request("GET", "/static/a/b/site.css")))
	assert.False(t, c.Matches(request("GET", "/static/site.js")))

	_, err = rewrite.GlobCondition("/static/[")
	assert.Error(t, err)
}

func TestHeaderCondition(t *testing.T) {
	c, err := rewrite.HeaderCondition("Accept", `json`)
	require.NoError(t, err)

	req := handler.NewRequest().URL("/").
		Header("Accept", "text/html").
		Header("Accept", "application/json").
		MustBuild()
	assert.True(t, c.Matches(req), "matches against the combined line")
	assert.False(t, c.Matches(request("GET", "/")), "missing header never matches")
}

func TestMethodCondition(t *testing.T) {
	c, err := rewrite.MethodCondition(`^(PUT|PATCH)$`)
	require.NoError(t, err)

	assert.True(t, c.Matches(request("PATCH", "/")))
	assert.False(t, c.Matches(request("GET", "/")))
}

func TestExistenceConditions(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.js"), []byte(""), 0o644))

	present := handler.NewRequest().URL("/index.js").Docroot(dir).MustBuild()
	missing := handler.NewRequest().URL("/missing.js").Docroot(dir).MustBuild()

	assert.True(t, rewrite.Existence().Matches(present))
	assert.False(t, rewrite.Existence().Matches(missing))
	assert.False(t, rewrite.NonExistence().Matches(present))
	assert.True(t, rewrite.NonExistence().Matches(missing))
}

func TestExprCondition(t *testing.T) {
	c, err := rewrite.ExprCondition(`method == "POST" && headers["X-Role"] == "admin" && path startsWith "/admin"`)
	require.NoError(t, err)

	admin := handler.NewRequest().Method("POST").URL("/admin/users").Header("X-Role", "admin").MustBuild()
	guest := handler.NewRequest().Method("POST").URL("/admin/users").Header("X-Role", "guest").MustBuild()
	assert.True(t, c.Matches(admin))
	assert.False(t, c.Matches(guest))

	_, err = rewrite.ExprCondition(`path + 1`)
	assert.Error(t, err, "non-boolean expressions are rejected")
}

func TestConditionGroups(t *testing.T) {
	yes := rewrite.ConditionFunc(func(*handler.Request) bool { return true })
	no := rewrite.ConditionFunc(func(*handler.Request) bool { return false })
	req := request("GET", "/")

	assert.True(t, rewrite.And(yes, yes).Matches(req))
	assert.False(t, rewrite.And(yes, no).Matches(req))
	assert.True(t, rewrite.And().Matches(req))
	assert.True(t, rewrite.Or(no, yes).Matches(req))
	assert.False(t, rewrite.Or(no, no).Matches(req))
	assert.False(t, rewrite.Or().Matches(req))
}

// =============================================================================
// REWRITERS
// =============================================================================

func TestPathRewriter(t *testing.T) {
	r := rewrite.MustPath(`^/user/(\d+)$`, "/profile.js/$1")

	out, err := r.Rewrite(request("GET", "/user/42?tab=posts"))
	require.NoError(t, err)
	assert.Equal(t, "/profile.js/42", out.Path())
	assert.Equal(t, "tab=posts", out.Query(), "query survives a path rewrite")

	in := request("GET", "/other")
	out, err = r.Rewrite(in)
	require.NoError(t, err)
	assert.Same(t, in, out, "no match returns the same request")
}

func TestPathRewriterReplacesFirstMatch(t *testing.T) {
	r := rewrite.MustPath(`a`, "b")
	out, err := r.Rewrite(request("GET", "/aaa"))
	require.NoError(t, err)
	assert.Equal(t, "/baa", out.Path())
}

func TestHrefRewriter(t *testing.T) {
	r, err := rewrite.Href(`^/old(.*)$`, "/new$1")
	require.NoError(t, err)

	out, err := r.Rewrite(request("GET", "http://example.com/old/page?x=1"))
	require.NoError(t, err)
	assert.Equal(t, "/new/page", out.Path())
	assert.Equal(t, "x=1", out.Query())
	assert.Equal(t, "example.com", out.Host())
	assert.Equal(t, "http", out.Scheme())
}

func TestHrefRewriterMovesPathIntoQuery(t *testing.T) {
	r, err := rewrite.Href(`^/(\w+)$`, "/index.js?route=$1")
	require.NoError(t, err)

	out, err := r.Rewrite(request("GET", "/about"))
	require.NoError(t, err)
	assert.Equal(t, "/index.js", out.Path())
	assert.Equal(t, "route=about", out.Query())
}

func TestHeaderRewriter(t *testing.T) {
	r, err := rewrite.Header("X-Version", `^v(\d)$`, "$1.0")
	require.NoError(t, err)

	req := handler.NewRequest().URL("/").Header("X-Version", "v2").MustBuild()
	out, err := r.Rewrite(req)
	require.NoError(t, err)
	v, _ := out.Headers().Get("X-Version")
	assert.Equal(t, "2.0", v)

	orig, _ := req.Headers().Get("X-Version")
	assert.Equal(t, "v2", orig, "original request is untouched")

	plain := request("GET", "/")
	out, err = r.Rewrite(plain)
	require.NoError(t, err)
	assert.Same(t, plain, out)
}

func TestMethodRewriter(t *testing.T) {
	r, err := rewrite.Method(`^HEAD$`, "GET")
	require.NoError(t, err)

	out, err := r.Rewrite(request("HEAD", "/"))
	require.NoError(t, err)
	assert.Equal(t, "GET", out.Method())
}

func TestSequenceAndWhen(t *testing.T) {
	api, err := rewrite.PathCondition(`^/api/`)
	require.NoError(t, err)

	r := rewrite.Sequence(
		rewrite.When(rewrite.MustPath(`^/api/(.*)$`, "/api.js/$1"), api),
		rewrite.Then(
			rewrite.MustPath(`\.js/`, ".js/v1/"),
			rewrite.RewriterFunc(func(req *handler.Request) (*handler.Request, error) {
				return req.Extend().SetHeader("X-Rewritten", "1").Build()
			}),
		),
	)

	out, err := r.Rewrite(request("GET", "/api/items"))
	require.NoError(t, err)
	assert.Equal(t, "/api.js/v1/items", out.Path())
	v, _ := out.Headers().Get("X-Rewritten")
	assert.Equal(t, "1", v)

	out, err = r.Rewrite(request("GET", "/home"))
	require.NoError(t, err)
	assert.Equal(t, "/home", out.Path())

	w := rewrite.When(rewrite.MustPath(`x`, "y"), api)
	assert.True(t, w.Matches(request("GET", "/api/")), "a conditional rewriter is also a condition")
}

// =============================================================================
// RULES
// =============================================================================

func TestRulesFromYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "robots.txt"), []byte(""), 0o644))

	rules, err := rewrite.ParseRules([]byte(`
- when:
    exists: false
    any:
      - method: "^GET$"
      - method: "^HEAD$"
  path:
    pattern: "^/(.*)$"
    replacement: "/index.js/$1"
- when:
    header:
      name: X-Legacy
      pattern: "^1$"
  method:
    pattern: "^POST$"
    replacement: "PUT"
`))
	require.NoError(t, err)
	require.Len(t, rules, 2)

	r, err := rewrite.Compile(rules)
	require.NoError(t, err)

	out, err := r.Rewrite(handler.NewRequest().URL("/blog/1").Docroot(dir).MustBuild())
	require.NoError(t, err)
	assert.Equal(t, "/index.js/blog/1", out.Path())

	out, err = r.Rewrite(handler.NewRequest().URL("/robots.txt").Docroot(dir).MustBuild())
	require.NoError(t, err)
	assert.Equal(t, "/robots.txt", out.Path(), "existing files are served as-is")

	out, err = r.Rewrite(handler.NewRequest().Method("POST").URL("/robots.txt").Docroot(dir).Header("X-Legacy", "1").MustBuild())
	require.NoError(t, err)
	assert.Equal(t, "PUT", out.Method())
	assert.Equal(t, "/robots.txt", out.Path())
}

func TestRuleErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"no rewrite", `[{when: {path: "^/"}}]`},
		{"bad pattern", `[{path: {pattern: "(", replacement: ""}}]`},
		{"bad condition", `[{when: {method: "("}, method: {pattern: "a", replacement: "b"}}]`},
		{"bad expr", `[{when: {expr: "path +"}, path: {pattern: "a", replacement: "b"}}]`},
		{"header without name", `[{header: {pattern: "a", replacement: "b"}}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rules, err := rewrite.ParseRules([]byte(tt.yaml))
			require.NoError(t, err)
			_, err = rewrite.Compile(rules)
			assert.Error(t, err)
		})
	}

	_, err := rewrite.ParseRules([]byte("not: [a list"))
	assert.Error(t, err)
}
