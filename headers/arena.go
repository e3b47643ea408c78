package headers

// Arena stores many small strings back to back in one buffer.
//
// Every stored string is followed by a single NUL terminator, and offsets[i]
// is the position of the first byte of string i. Offsets are strictly
// increasing and the sum of stored lengths plus one terminator each always
// equals Used().
type Arena struct {
	buf     []byte
	offsets []int
}

// NewArena returns an arena with room for roughly size bytes before it has to grow.
func NewArena(size int) *Arena {
	if size < 0 {
		size = 0
	}
	return &Arena{buf: make([]byte, 0, size)}
}

// Add appends s and returns its index.
func (a *Arena) Add(s string) int {
	a.offsets = append(a.offsets, len(a.buf))
	a.buf = append(a.buf, s...)
	a.buf = append(a.buf, 0)
	return len(a.offsets) - 1
}

// Get returns the string at index i. ok is false if i is out of range.
func (a *Arena) Get(i int) (s string, ok bool) {
	if i < 0 || i >= len(a.offsets) {
		return "", false
	}
	start, end := a.bounds(i)
	return string(a.buf[start:end]), true
}

// Remove deletes the string at index i, shifting the strings after it down.
// It reports whether anything was removed.
func (a *Arena) Remove(i int) bool {
	if i < 0 || i >= len(a.offsets) {
		return false
	}

	start, end := a.bounds(i)
	width := end - start + 1

	a.buf = append(a.buf[:start], a.buf[start+width:]...)

	for j := i + 1; j < len(a.offsets); j++ {
		a.offsets[j] -= width
	}
	a.offsets = append(a.offsets[:i], a.offsets[i+1:]...)
	return true
}

// Len returns the number of stored strings.
func (a *Arena) Len() int {
	return len(a.offsets)
}

// Used returns the number of buffer bytes in use, terminators included.
func (a *Arena) Used() int {
	return len(a.buf)
}

// Values returns copies of all stored strings in insertion order.
func (a *Arena) Values() []string {
	out := make([]string, len(a.offsets))
	for i := range a.offsets {
		start, end := a.bounds(i)
		out[i] = string(a.buf[start:end])
	}
	return out
}

// Last returns the most recently added string.
func (a *Arena) Last() (string, bool) {
	return a.Get(len(a.offsets) - 1)
}

// Reset drops every string but keeps the allocated buffer.
func (a *Arena) Reset() {
	a.buf = a.buf[:0]
	a.offsets = a.offsets[:0]
}

// Clone returns a deep copy of the arena.
func (a *Arena) Clone() *Arena {
	return &Arena{
		buf:     append([]byte(nil), a.buf...),
		offsets: append([]int(nil), a.offsets...),
	}
}

// bounds returns the [start, end) byte range of string i, terminator excluded.
func (a *Arena) bounds(i int) (int, int) {
	start := a.offsets[i]
	var next int
	if i+1 < len(a.offsets) {
		next = a.offsets[i+1]
	} else {
		next = len(a.buf)
	}
	return start, next - 1
}
