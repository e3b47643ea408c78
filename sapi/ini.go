package sapi

import (
	"sort"
	"strconv"
	"strings"
)

// INI is a set of engine configuration directives.
type INI map[string]string

// DefaultINI returns the directives every engine instance is started with.
// Callers cannot override them.
func DefaultINI() INI {
	return INI{
		"display_errors":     "0",
		"register_argc_argv": "1",
		"log_errors":         "1",
		"implicit_flush":     "1",
		"output_buffering":   "0",
		"memory_limit":       "128M",
	}
}

// String renders the directives as an ini file, one "key=value" per line in
// key order.
func (i INI) String() string {
	keys := make([]string, 0, len(i))
	for k := range i {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(i[k])
		b.WriteByte('\n')
	}
	return b.String()
}

// Bool reads a boolean directive. "1", "on", "yes" and "true" are true.
func (i INI) Bool(key string) bool {
	switch strings.ToLower(strings.TrimSpace(i[key])) {
	case "1", "on", "yes", "true":
		return true
	}
	return false
}

// Bytes reads a size directive such as "128M". A bare number is bytes. It
// returns -1 for unlimited and 0 when the directive is missing or malformed.
func (i INI) Bytes(key string) int64 {
	v := strings.TrimSpace(i[key])
	if v == "" {
		return 0
	}
	mult := int64(1)
	switch v[len(v)-1] {
	case 'k', 'K':
		mult = 1 << 10
	case 'm', 'M':
		mult = 1 << 20
	case 'g', 'G':
		mult = 1 << 30
	}
	if mult != 1 {
		v = v[:len(v)-1]
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	if n < 0 {
		return -1
	}
	return n * mult
}
