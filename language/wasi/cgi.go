package wasi

import (
	"bytes"
	"io"
	"strings"
)

// maxHeaderLine bounds a buffered header line. Longer output is taken to be
// body.
const maxHeaderLine = 8 << 10

// cgiWriter splits guest stdout into a CGI header block and a body. Header
// lines go to header until the first blank line; the rest goes to body. A
// first line that is not a header means there is no header block at all.
type cgiWriter struct {
	header func(line string)
	body   func(p []byte) (int, error)

	inBody bool
	line   bytes.Buffer
	err    error
}

func (w *cgiWriter) Write(p []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	n := len(p)

	for !w.inBody && len(p) > 0 {
		i := bytes.IndexByte(p, '\n')
		if i == -1 {
			w.line.Write(p)
			if w.line.Len() > maxHeaderLine {
				w.inBody = true
				if err := w.emit(w.takeLine()); err != nil {
					return 0, err
				}
			}
			return n, nil
		}

		w.line.Write(p[:i])
		p = p[i+1:]
		raw := w.takeLine()
		line := strings.TrimSuffix(string(raw), "\r")

		switch {
		case line == "":
			w.inBody = true
		case isHeaderLine(line):
			w.header(line)
		default:
			w.inBody = true
			if err := w.emit(append(raw, '\n')); err != nil {
				return 0, err
			}
		}
	}

	if len(p) > 0 {
		if err := w.emit(p); err != nil {
			return 0, err
		}
	}
	return n, nil
}

// Close writes out a trailing partial line.
func (w *cgiWriter) Close() error {
	if w.err != nil || w.line.Len() == 0 {
		return w.err
	}
	w.inBody = true
	return w.emit(w.takeLine())
}

func (w *cgiWriter) emit(p []byte) error {
	for len(p) > 0 {
		n, err := w.body(p)
		if err != nil {
			w.err = err
			return err
		}
		if n == 0 {
			w.err = io.ErrShortWrite
			return w.err
		}
		p = p[n:]
	}
	return nil
}

func (w *cgiWriter) takeLine() []byte {
	b := append([]byte(nil), w.line.Bytes()...)
	w.line.Reset()
	return b
}

func isHeaderLine(line string) bool {
	name, _, ok := strings.Cut(line, ":")
	return ok && name != "" && !strings.ContainsAny(name, " \t")
}

// lineWriter calls fn for every complete line written to it and remembers
// the last non-empty one.
type lineWriter struct {
	fn   func(line string)
	buf  bytes.Buffer
	last string
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	for {
		i := bytes.IndexByte(w.buf.Bytes(), '\n')
		if i == -1 {
			break
		}
		line := string(w.buf.Next(i + 1))
		w.line(strings.TrimRight(line, "\r\n"))
	}
	return len(p), nil
}

func (w *lineWriter) Close() error {
	if w.buf.Len() > 0 {
		w.line(w.buf.String())
		w.buf.Reset()
	}
	return nil
}

func (w *lineWriter) line(s string) {
	if s == "" {
		return
	}
	w.last = s
	w.fn(s)
}

// Last returns the last non-empty line seen.
func (w *lineWriter) Last() string { return w.last }
