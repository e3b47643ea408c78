// Package rewrite transforms requests before they reach a script.
//
// A [Rewriter] maps a request to a new one; a [Condition] decides whether a
// rewriter applies. Both compose:
//
//	r := rewrite.When(
//	    rewrite.MustPath(`^/(.*)$`, "/index.js/$1"),
//	    rewrite.NonExistence(),
//	)
//
// Rules can also be loaded from YAML, see [Rule].
package rewrite

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/caffeineduck/scriptgate/handler"
)

// Condition reports whether a request matches.
type Condition interface {
	Matches(req *handler.Request) bool
}

// ConditionFunc adapts a function to Condition.
type ConditionFunc func(req *handler.Request) bool

func (f ConditionFunc) Matches(req *handler.Request) bool { return f(req) }

type pathCondition struct{ re *regexp.Regexp }

// PathCondition matches the URL path against a regular expression.
func PathCondition(pattern string) (Condition, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("path condition: %w", err)
	}
	return pathCondition{re}, nil
}

func (c pathCondition) Matches(req *handler.Request) bool {
	return c.re.MatchString(req.Path())
}

type globCondition struct{ pattern string }

// GlobCondition matches the URL path against a glob. "**" spans directories.
func GlobCondition(pattern string) (Condition, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("glob condition: invalid pattern %q", pattern)
	}
	return globCondition{pattern}, nil
}

func (c globCondition) Matches(req *handler.Request) bool {
	ok, _ := doublestar.Match(c.pattern, req.Path())
	return ok
}

type headerCondition struct {
	name string
	re   *regexp.Regexp
}

// HeaderCondition matches the combined value of header name against a
// regular expression. A missing header never matches.
func HeaderCondition(name, pattern string) (Condition, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("header condition: %w", err)
	}
	return headerCondition{name, re}, nil
}

func (c headerCondition) Matches(req *handler.Request) bool {
	line, ok := req.Headers().Line(c.name)
	return ok && c.re.MatchString(line)
}

type methodCondition struct{ re *regexp.Regexp }

// MethodCondition matches the request method against a regular expression.
func MethodCondition(pattern string) (Condition, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("method condition: %w", err)
	}
	return methodCondition{re}, nil
}

func (c methodCondition) Matches(req *handler.Request) bool {
	return c.re.MatchString(req.Method())
}

// Existence matches when the URL path names a file or directory under the
// request document root.
func Existence() Condition {
	return ConditionFunc(exists)
}

// NonExistence matches when the URL path names nothing under the request
// document root.
func NonExistence() Condition {
	return ConditionFunc(func(req *handler.Request) bool { return !exists(req) })
}

func exists(req *handler.Request) bool {
	p := filepath.Join(req.Docroot(), filepath.FromSlash(strings.TrimPrefix(req.Path(), "/")))
	_, err := os.Stat(p)
	return err == nil
}

type exprCondition struct{ program *vm.Program }

// ExprCondition evaluates a boolean expression. The expression sees method,
// path, query, uri, host, docroot and headers (a map of combined values).
//
//	method == "POST" && headers["Content-Type"] startsWith "application/json"
func ExprCondition(expression string) (Condition, error) {
	program, err := expr.Compile(expression, expr.Env(exprEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("expr condition %q: %w", expression, err)
	}
	return exprCondition{program}, nil
}

type exprEnv struct {
	Method  string            `expr:"method"`
	Path    string            `expr:"path"`
	Query   string            `expr:"query"`
	URI     string            `expr:"uri"`
	Host    string            `expr:"host"`
	Docroot string            `expr:"docroot"`
	Headers map[string]string `expr:"headers"`
}

func (c exprCondition) Matches(req *handler.Request) bool {
	env := exprEnv{
		Method:  req.Method(),
		Path:    req.Path(),
		Query:   req.Query(),
		URI:     req.URI(),
		Host:    req.Host(),
		Docroot: req.Docroot(),
		Headers: map[string]string{},
	}
	req.Headers().Each(func(key string, values []string) bool {
		env.Headers[key] = strings.Join(values, ", ")
		return true
	})

	out, err := expr.Run(c.program, env)
	if err != nil {
		return false
	}
	ok, _ := out.(bool)
	return ok
}

type group struct {
	all        bool
	conditions []Condition
}

// And matches when every condition matches. An empty And matches.
func And(conditions ...Condition) Condition {
	return group{all: true, conditions: conditions}
}

// Or matches when any condition matches. An empty Or never matches.
func Or(conditions ...Condition) Condition {
	return group{all: false, conditions: conditions}
}

func (g group) Matches(req *handler.Request) bool {
	for _, c := range g.conditions {
		if c.Matches(req) != g.all {
			return !g.all
		}
	}
	return g.all
}
