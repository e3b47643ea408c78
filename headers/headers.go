// Package headers provides the ordered, multi-value header collection shared by
// requests and responses.
//
// Keys are matched exactly. No canonicalisation happens at this layer, so
// "Content-Type" and "content-type" are distinct entries unless a caller uses
// [Collection.Lookup], which folds case for the handful of transport headers
// the request cycle needs to find.
package headers

import "strings"

const defaultArenaSize = 64

type entry struct {
	key    string
	values *Arena
}

// Collection is an ordered key to multi-value mapping. The zero value is ready
// to use.
type Collection struct {
	entries []entry
}

// New returns an empty collection.
func New() *Collection {
	return &Collection{}
}

// FromMap builds a collection from a map of header values. Keys are added in
// the order maps happen to iterate, so only use it where order does not matter.
func FromMap(m map[string][]string) *Collection {
	c := New()
	for k, vs := range m {
		for _, v := range vs {
			c.Add(k, v)
		}
	}
	return c
}

// Add appends value under key, creating the entry at the end if it is new.
func (c *Collection) Add(key, value string) {
	if e := c.find(key); e != nil {
		e.values.Add(value)
		return
	}
	a := NewArena(defaultArenaSize)
	a.Add(value)
	c.entries = append(c.entries, entry{key: key, values: a})
}

// Set replaces every value under key with value.
func (c *Collection) Set(key, value string) {
	if e := c.find(key); e != nil {
		e.values.Reset()
		e.values.Add(value)
		return
	}
	c.Add(key, value)
}

// Get returns the last value added under key.
func (c *Collection) Get(key string) (string, bool) {
	e := c.find(key)
	if e == nil {
		return "", false
	}
	return e.values.Last()
}

// GetNth returns the i-th value under key.
func (c *Collection) GetNth(key string, i int) (string, bool) {
	e := c.find(key)
	if e == nil {
		return "", false
	}
	return e.values.Get(i)
}

// Values returns every value under key in insertion order.
func (c *Collection) Values(key string) []string {
	e := c.find(key)
	if e == nil {
		return nil
	}
	return e.values.Values()
}

// Line returns the values under key joined the way they would appear on a single
// header line.
func (c *Collection) Line(key string) (string, bool) {
	e := c.find(key)
	if e == nil {
		return "", false
	}
	return strings.Join(e.values.Values(), ", "), true
}

// Count returns the number of values under key.
func (c *Collection) Count(key string) int {
	e := c.find(key)
	if e == nil {
		return 0
	}
	return e.values.Len()
}

// Has reports whether key has an entry.
func (c *Collection) Has(key string) bool {
	return c.find(key) != nil
}

// RemoveValue removes the i-th value under key. An entry left without values is
// dropped entirely.
func (c *Collection) RemoveValue(key string, i int) bool {
	idx := c.index(key)
	if idx < 0 {
		return false
	}
	e := c.entries[idx]
	if !e.values.Remove(i) {
		return false
	}
	if e.values.Len() == 0 {
		c.entries = append(c.entries[:idx], c.entries[idx+1:]...)
	}
	return true
}

// Del removes key and all its values.
func (c *Collection) Del(key string) {
	if idx := c.index(key); idx >= 0 {
		c.entries = append(c.entries[:idx], c.entries[idx+1:]...)
	}
}

// Keys returns the keys in insertion order.
func (c *Collection) Keys() []string {
	if c == nil {
		return nil
	}
	keys := make([]string, len(c.entries))
	for i, e := range c.entries {
		keys[i] = e.key
	}
	return keys
}

// Len returns the number of distinct keys.
func (c *Collection) Len() int {
	if c == nil {
		return 0
	}
	return len(c.entries)
}

// Each calls fn for every key in order with its values. Iteration stops when fn
// returns false.
func (c *Collection) Each(fn func(key string, values []string) bool) {
	if c == nil {
		return
	}
	for _, e := range c.entries {
		if !fn(e.key, e.values.Values()) {
			return
		}
	}
}

// Lookup finds key ignoring ASCII case and returns the last value of the first
// matching entry.
func (c *Collection) Lookup(key string) (string, bool) {
	if c == nil {
		return "", false
	}
	for _, e := range c.entries {
		if strings.EqualFold(e.key, key) {
			return e.values.Last()
		}
	}
	return "", false
}

// Clone returns a deep copy that shares no storage with c.
func (c *Collection) Clone() *Collection {
	out := &Collection{}
	if c == nil {
		return out
	}
	out.entries = make([]entry, len(c.entries))
	for i, e := range c.entries {
		out.entries[i] = entry{key: e.key, values: e.values.Clone()}
	}
	return out
}

// Map returns the collection as a map of value slices.
func (c *Collection) Map() map[string][]string {
	m := make(map[string][]string, c.Len())
	c.Each(func(k string, vs []string) bool {
		m[k] = vs
		return true
	})
	return m
}

func (c *Collection) find(key string) *entry {
	if idx := c.index(key); idx >= 0 {
		return &c.entries[idx]
	}
	return nil
}

func (c *Collection) index(key string) int {
	if c == nil {
		return -1
	}
	for i := range c.entries {
		if c.entries[i].key == key {
			return i
		}
	}
	return -1
}
