package handler

import (
	"bytes"
	"errors"

	"github.com/caffeineduck/scriptgate/headers"
)

// ErrBuilderConsumed is returned by builder writes after Build has been called.
var ErrBuilderConsumed = errors.New("response builder already built")

// Response is a finished, immutable response.
//
// A zero Status means no status was ever assigned. The request cycle returns
// such an empty response when the engine could not be activated or the
// request could not be started.
type Response struct {
	status    int
	headers   *headers.Collection
	body      []byte
	log       []byte
	exception string
}

// Status returns the status code.
func (r *Response) Status() int { return r.status }

// Headers returns a copy of the response headers.
func (r *Response) Headers() *headers.Collection { return r.headers.Clone() }

// Header returns the last value of a response header.
func (r *Response) Header(key string) (string, bool) { return r.headers.Get(key) }

// Body returns a copy of the body bytes.
func (r *Response) Body() []byte { return append([]byte(nil), r.body...) }

// Log returns the log lines written during the request, newline separated.
func (r *Response) Log() []byte { return append([]byte(nil), r.log...) }

// LogLines returns the log split into lines, without trailing newlines.
func (r *Response) LogLines() []string {
	if len(r.log) == 0 {
		return nil
	}
	parts := bytes.Split(bytes.TrimSuffix(r.log, []byte("\n")), []byte("\n"))
	lines := make([]string, len(parts))
	for i, p := range parts {
		lines[i] = string(p)
	}
	return lines
}

// Exception returns the uncaught script fault message, if any.
func (r *Response) Exception() (string, bool) {
	return r.exception, r.exception != ""
}

// IsEmpty reports whether this is the default response produced when the
// request never ran.
func (r *Response) IsEmpty() bool {
	return r.status == 0 && r.headers.Len() == 0 && len(r.body) == 0 && r.exception == ""
}

// Empty returns the default response used for activation and start failures.
func Empty() *Response {
	return &Response{headers: headers.New()}
}

// ResponseBuilder accumulates a response while a script runs. It is not safe
// for concurrent use; the request cycle gives each request its own builder.
type ResponseBuilder struct {
	status    int
	headers   *headers.Collection
	body      bytes.Buffer
	log       bytes.Buffer
	exception string
	built     bool
}

// NewResponseBuilder returns an empty builder.
func NewResponseBuilder() *ResponseBuilder {
	return &ResponseBuilder{headers: headers.New()}
}

// Status sets the status code.
func (b *ResponseBuilder) Status(code int) *ResponseBuilder {
	if !b.built {
		b.status = code
	}
	return b
}

// Header adds a header value.
func (b *ResponseBuilder) Header(key, value string) *ResponseBuilder {
	if !b.built {
		b.headers.Add(key, value)
	}
	return b
}

// SetHeader replaces every value under key.
func (b *ResponseBuilder) SetHeader(key, value string) *ResponseBuilder {
	if !b.built {
		b.headers.Set(key, value)
	}
	return b
}

// BodyWrite appends p to the body and reports how many bytes were accepted:
// len(p), or 0 once the builder has been consumed.
func (b *ResponseBuilder) BodyWrite(p []byte) (int, error) {
	if b.built {
		return 0, ErrBuilderConsumed
	}
	return b.body.Write(p)
}

// BodyLen returns the number of body bytes written so far.
func (b *ResponseBuilder) BodyLen() int { return b.body.Len() }

// LogWrite appends msg as one log line.
func (b *ResponseBuilder) LogWrite(msg []byte) (int, error) {
	if b.built {
		return 0, ErrBuilderConsumed
	}
	b.log.Write(bytes.TrimRight(msg, "\n"))
	b.log.WriteByte('\n')
	return len(msg), nil
}

// Exception records an uncaught script fault message.
func (b *ResponseBuilder) Exception(msg string) *ResponseBuilder {
	if !b.built {
		b.exception = msg
	}
	return b
}

// Built reports whether Build has been called.
func (b *ResponseBuilder) Built() bool { return b.built }

// Build finalises the response. The builder is consumed: later writes are
// rejected and later calls to Build return an identical response.
func (b *ResponseBuilder) Build() *Response {
	status := b.status
	if status == 0 {
		status = 200
	}
	b.built = true
	return &Response{
		status:    status,
		headers:   b.headers.Clone(),
		body:      append([]byte(nil), b.body.Bytes()...),
		log:       append([]byte(nil), b.log.Bytes()...),
		exception: b.exception,
	}
}
