package rewrite

import (
	"fmt"
	"net/url"
	"regexp"

	"github.com/caffeineduck/scriptgate/handler"
)

// Rewriter maps a request to a rewritten one. Rewriters that change nothing
// return the request they were given.
type Rewriter interface {
	Rewrite(req *handler.Request) (*handler.Request, error)
}

// RewriterFunc adapts a function to Rewriter.
type RewriterFunc func(req *handler.Request) (*handler.Request, error)

func (f RewriterFunc) Rewrite(req *handler.Request) (*handler.Request, error) { return f(req) }

// replace substitutes the first match of re in s. The replacement may refer
// to groups as $1 or ${name}.
func replace(re *regexp.Regexp, s, replacement string) string {
	m := re.FindStringSubmatchIndex(s)
	if m == nil {
		return s
	}
	out := re.ExpandString(nil, replacement, s, m)
	return s[:m[0]] + string(out) + s[m[1]:]
}

type pathRewriter struct {
	re          *regexp.Regexp
	replacement string
}

// Path rewrites the URL path.
func Path(pattern, replacement string) (Rewriter, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("path rewriter: %w", err)
	}
	return pathRewriter{re, replacement}, nil
}

// MustPath is like Path but panics on an invalid pattern.
func MustPath(pattern, replacement string) Rewriter {
	r, err := Path(pattern, replacement)
	if err != nil {
		panic(err)
	}
	return r
}

func (r pathRewriter) Rewrite(req *handler.Request) (*handler.Request, error) {
	u := req.URL()
	path := replace(r.re, u.Path, r.replacement)
	if path == u.Path {
		return req, nil
	}
	u.Path = path
	u.RawPath = ""
	return req.Extend().ParsedURL(u).Build()
}

type hrefRewriter struct {
	re          *regexp.Regexp
	replacement string
}

// Href rewrites path, query and fragment together, as in "/a?b#c". The
// result is resolved against the request's scheme and host.
func Href(pattern, replacement string) (Rewriter, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("href rewriter: %w", err)
	}
	return hrefRewriter{re, replacement}, nil
}

func (r hrefRewriter) Rewrite(req *handler.Request) (*handler.Request, error) {
	u := req.URL()
	input := u.EscapedPath()
	if u.RawQuery != "" || u.ForceQuery {
		input += "?" + u.RawQuery
	}
	if u.Fragment != "" {
		input += "#" + u.EscapedFragment()
	}

	output := replace(r.re, input, r.replacement)
	if output == input {
		return req, nil
	}

	base := &url.URL{Scheme: u.Scheme, User: u.User, Host: u.Host}
	next, err := base.Parse(output)
	if err != nil {
		return nil, fmt.Errorf("href rewriter: parse %q: %w", output, err)
	}
	return req.Extend().ParsedURL(next).Build()
}

type headerRewriter struct {
	name        string
	re          *regexp.Regexp
	replacement string
}

// Header rewrites the value of header name. Multiple values are combined
// into one first. A missing header is left alone.
func Header(name, pattern, replacement string) (Rewriter, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("header rewriter: %w", err)
	}
	return headerRewriter{name, re, replacement}, nil
}

func (r headerRewriter) Rewrite(req *handler.Request) (*handler.Request, error) {
	line, ok := req.Headers().Line(r.name)
	if !ok {
		return req, nil
	}
	value := replace(r.re, line, r.replacement)
	if value == line {
		return req, nil
	}
	return req.Extend().SetHeader(r.name, value).Build()
}

type methodRewriter struct {
	re          *regexp.Regexp
	replacement string
}

// Method rewrites the request method.
func Method(pattern, replacement string) (Rewriter, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("method rewriter: %w", err)
	}
	return methodRewriter{re, replacement}, nil
}

func (r methodRewriter) Rewrite(req *handler.Request) (*handler.Request, error) {
	method := replace(r.re, req.Method(), r.replacement)
	if method == req.Method() {
		return req, nil
	}
	return req.Extend().Method(method).Build()
}

type sequence []Rewriter

// Sequence applies rewriters in order, each seeing the previous result.
func Sequence(rewriters ...Rewriter) Rewriter {
	return sequence(rewriters)
}

// Then is Sequence(first, next).
func Then(first, next Rewriter) Rewriter {
	return sequence{first, next}
}

func (s sequence) Rewrite(req *handler.Request) (*handler.Request, error) {
	for _, r := range s {
		next, err := r.Rewrite(req)
		if err != nil {
			return nil, err
		}
		req = next
	}
	return req, nil
}

type conditional struct {
	rewriter  Rewriter
	condition Condition
}

// When applies rewriter only to requests matching condition. The returned
// value is also a Condition.
func When(rewriter Rewriter, condition Condition) interface {
	Rewriter
	Condition
} {
	return conditional{rewriter, condition}
}

func (c conditional) Matches(req *handler.Request) bool {
	return c.condition.Matches(req)
}

func (c conditional) Rewrite(req *handler.Request) (*handler.Request, error) {
	if !c.condition.Matches(req) {
		return req, nil
	}
	return c.rewriter.Rewrite(req)
}
