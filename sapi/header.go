package sapi

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrHeadersSent   = errors.New("headers already sent")
	ErrInvalidHeader = errors.New("invalid header line")
)

// HeaderLine is one response header set by a script.
type HeaderLine struct {
	Name  string
	Value string
}

// SAPIHeaders is the response half of the engine's global state.
type SAPIHeaders struct {
	ResponseCode int
	MimeType     string
	Sent         bool
	Lines        []HeaderLine
}

// Header applies a raw header line the way a script's header() call would.
//
// "HTTP/x.y NNN ..." and "Status: NNN ..." set the response code,
// "Content-Type" sets the mime type, and a "Location" header turns a 200 into
// a 302. With replace set, earlier lines with the same name are dropped.
func (h *SAPIHeaders) Header(line string, replace bool) error {
	if h.Sent {
		return ErrHeadersSent
	}

	line = strings.TrimRight(line, "\r\n")

	if strings.HasPrefix(line, "HTTP/") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return fmt.Errorf("%w: %q", ErrInvalidHeader, line)
		}
		code, err := parseStatus(fields[1])
		if err != nil {
			return err
		}
		h.ResponseCode = code
		return nil
	}

	name, value, ok := strings.Cut(line, ":")
	name = strings.TrimSpace(name)
	if !ok || name == "" || strings.ContainsAny(name, " \t") {
		return fmt.Errorf("%w: %q", ErrInvalidHeader, line)
	}
	value = strings.TrimSpace(value)

	switch strings.ToLower(name) {
	case "content-type":
		h.MimeType = value
		return nil
	case "status":
		fields := strings.Fields(value)
		if len(fields) == 0 {
			return fmt.Errorf("%w: %q", ErrInvalidHeader, line)
		}
		code, err := parseStatus(fields[0])
		if err != nil {
			return err
		}
		h.ResponseCode = code
		return nil
	case "location":
		if h.ResponseCode == 200 {
			h.ResponseCode = 302
		}
	}

	if replace {
		h.remove(name)
	}
	h.Lines = append(h.Lines, HeaderLine{Name: name, Value: value})
	return nil
}

// Remove drops every line named name. An empty name clears all lines and the
// mime type.
func (h *SAPIHeaders) Remove(name string) error {
	if h.Sent {
		return ErrHeadersSent
	}
	if name == "" {
		h.Lines = nil
		h.MimeType = ""
		return nil
	}
	if strings.EqualFold(name, "Content-Type") {
		h.MimeType = ""
		return nil
	}
	h.remove(name)
	return nil
}

// SetResponseCode sets the status code. Codes outside 100-599 are rejected.
func (h *SAPIHeaders) SetResponseCode(code int) error {
	if code < 100 || code > 599 {
		return fmt.Errorf("invalid response code %d", code)
	}
	h.ResponseCode = code
	return nil
}

func (h *SAPIHeaders) remove(name string) {
	kept := h.Lines[:0]
	for _, l := range h.Lines {
		if !strings.EqualFold(l.Name, name) {
			kept = append(kept, l)
		}
	}
	h.Lines = kept
}

func parseStatus(s string) (int, error) {
	code, err := strconv.Atoi(s)
	if err != nil || code < 100 || code > 599 {
		return 0, fmt.Errorf("%w: status %q", ErrInvalidHeader, s)
	}
	return code, nil
}
