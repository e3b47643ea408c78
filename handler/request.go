package handler

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/caffeineduck/scriptgate/headers"
)

// Request is an inbound request as seen by the request cycle. It is read-only
// once built; the body is a forward-only byte source.
type Request struct {
	method  string
	url     *url.URL
	headers *headers.Collection
	body    io.Reader
	docroot string
	local   net.Addr
	remote  net.Addr
}

// Method returns the request method.
func (r *Request) Method() string { return r.method }

// URL returns a copy of the request URL.
func (r *Request) URL() *url.URL {
	u := *r.url
	return &u
}

// Path returns the URL path.
func (r *Request) Path() string { return r.url.Path }

// Query returns the raw query string without the leading '?'.
func (r *Request) Query() string { return r.url.RawQuery }

// URI returns the request URI: path plus query, as it appeared on the request line.
func (r *Request) URI() string { return r.url.RequestURI() }

// Scheme returns the URL scheme, "http" if none was given.
func (r *Request) Scheme() string {
	if r.url.Scheme == "" {
		return "http"
	}
	return r.url.Scheme
}

// Host returns the host part of the URL.
func (r *Request) Host() string { return r.url.Hostname() }

// Headers returns the request header collection. Callers must not mutate it.
func (r *Request) Headers() *headers.Collection { return r.headers }

// Docroot returns the document root scripts are resolved against.
func (r *Request) Docroot() string { return r.docroot }

// LocalAddr returns the local socket address, if known.
func (r *Request) LocalAddr() net.Addr { return r.local }

// RemoteAddr returns the remote socket address, if known.
func (r *Request) RemoteAddr() net.Addr { return r.remote }

// ContentType returns the Content-Type header when present.
func (r *Request) ContentType() (string, bool) {
	return r.headers.Lookup("Content-Type")
}

// Cookie returns the raw Cookie header when present.
func (r *Request) Cookie() (string, bool) {
	return r.headers.Lookup("Cookie")
}

// ContentLength returns the Content-Length header parsed as a base-10 integer.
// ok is false when the header is absent; err is set when it is present but
// not a valid non-negative integer.
func (r *Request) ContentLength() (n int64, ok bool, err error) {
	raw, ok := r.headers.Lookup("Content-Length")
	if !ok {
		return 0, false, nil
	}
	n, err = strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || n < 0 {
		return 0, true, fmt.Errorf("invalid content length %q", raw)
	}
	return n, true, nil
}

// Read pulls the next bytes of the body. It returns 0, io.EOF once the body is
// exhausted.
func (r *Request) Read(p []byte) (int, error) {
	if r.body == nil {
		return 0, io.EOF
	}
	return r.body.Read(p)
}

// Extend returns a builder pre-populated from r. The body is shared, not
// copied, so only one of the two requests may be read.
func (r *Request) Extend() *RequestBuilder {
	return &RequestBuilder{
		method:  r.method,
		url:     r.URL(),
		headers: r.headers.Clone(),
		body:    r.body,
		docroot: r.docroot,
		local:   r.local,
		remote:  r.remote,
	}
}

// RequestBuilder assembles a Request.
type RequestBuilder struct {
	method  string
	url     *url.URL
	rawURL  string
	headers *headers.Collection
	body    io.Reader
	docroot string
	local   net.Addr
	remote  net.Addr
}

// NewRequest starts building a request.
func NewRequest() *RequestBuilder {
	return &RequestBuilder{headers: headers.New()}
}

// Method sets the request method.
func (b *RequestBuilder) Method(m string) *RequestBuilder {
	b.method = m
	return b
}

// URL sets the request URL from a string. Parsing is deferred to Build.
func (b *RequestBuilder) URL(raw string) *RequestBuilder {
	b.rawURL = raw
	b.url = nil
	return b
}

// ParsedURL sets an already parsed URL.
func (b *RequestBuilder) ParsedURL(u *url.URL) *RequestBuilder {
	c := *u
	b.url = &c
	b.rawURL = ""
	return b
}

// Header adds a header value.
func (b *RequestBuilder) Header(key, value string) *RequestBuilder {
	b.headers.Add(key, value)
	return b
}

// SetHeader replaces all values under key.
func (b *RequestBuilder) SetHeader(key, value string) *RequestBuilder {
	b.headers.Set(key, value)
	return b
}

// Headers replaces the header collection with a copy of h.
func (b *RequestBuilder) Headers(h *headers.Collection) *RequestBuilder {
	b.headers = h.Clone()
	return b
}

// Body sets the body source.
func (b *RequestBuilder) Body(r io.Reader) *RequestBuilder {
	b.body = r
	return b
}

// BodyBytes sets the body to a copy of p.
func (b *RequestBuilder) BodyBytes(p []byte) *RequestBuilder {
	b.body = bytes.NewReader(append([]byte(nil), p...))
	return b
}

// Docroot sets the document root.
func (b *RequestBuilder) Docroot(dir string) *RequestBuilder {
	b.docroot = dir
	return b
}

// Addrs sets the local and remote socket addresses.
func (b *RequestBuilder) Addrs(local, remote net.Addr) *RequestBuilder {
	b.local = local
	b.remote = remote
	return b
}

// Build validates the builder and returns the request. The method defaults to
// GET and the URL to "/".
func (b *RequestBuilder) Build() (*Request, error) {
	u := b.url
	if u == nil {
		raw := b.rawURL
		if raw == "" {
			raw = "/"
		}
		parsed, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse url: %w", err)
		}
		u = parsed
	}
	if u.Path == "" {
		u.Path = "/"
	}

	method := b.method
	if method == "" {
		method = "GET"
	}

	h := b.headers
	if h == nil {
		h = headers.New()
	}

	return &Request{
		method:  method,
		url:     u,
		headers: h,
		body:    b.body,
		docroot: b.docroot,
		local:   b.local,
		remote:  b.remote,
	}, nil
}

// MustBuild is like Build but panics on error. Intended for tests and fixed URLs.
func (b *RequestBuilder) MustBuild() *Request {
	r, err := b.Build()
	if err != nil {
		panic(err)
	}
	return r
}
