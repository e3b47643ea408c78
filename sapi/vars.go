package sapi

// Variables is an insertion ordered string table used for server variables.
type Variables struct {
	keys []string
	vals map[string]string
}

// NewVariables returns an empty table.
func NewVariables() *Variables {
	return &Variables{vals: make(map[string]string)}
}

// Set stores v under k, keeping k's original position if it exists.
func (v *Variables) Set(k, val string) {
	if _, ok := v.vals[k]; !ok {
		v.keys = append(v.keys, k)
	}
	v.vals[k] = val
}

// Get returns the value stored under k.
func (v *Variables) Get(k string) (string, bool) {
	val, ok := v.vals[k]
	return val, ok
}

// Len returns the number of variables.
func (v *Variables) Len() int { return len(v.keys) }

// Keys returns the variable names in insertion order.
func (v *Variables) Keys() []string {
	return append([]string(nil), v.keys...)
}

// Map returns a copy of the table.
func (v *Variables) Map() map[string]string {
	m := make(map[string]string, len(v.vals))
	for k, val := range v.vals {
		m[k] = val
	}
	return m
}

// Environ returns "KEY=value" pairs in insertion order.
func (v *Variables) Environ() []string {
	env := make([]string, 0, len(v.keys))
	for _, k := range v.keys {
		env = append(env, k+"="+v.vals[k])
	}
	return env
}
