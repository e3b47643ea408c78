package rewrite

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Rule is the config form of a conditional rewrite.
//
//	- when:
//	    method: "^GET$"
//	    exists: false
//	  path:
//	    pattern: "^/(.*)$"
//	    replacement: "/index.js"
//
// Every set field of When must match. Rewrites run in the order path, href,
// header, method.
type Rule struct {
	When   *Match      `yaml:"when,omitempty"`
	Path   *Replace    `yaml:"path,omitempty"`
	Href   *Replace    `yaml:"href,omitempty"`
	Header *HeaderRule `yaml:"header,omitempty"`
	Method *Replace    `yaml:"method,omitempty"`
}

// Match is the config form of a condition.
type Match struct {
	Path   string       `yaml:"path,omitempty"`
	Glob   string       `yaml:"glob,omitempty"`
	Method string       `yaml:"method,omitempty"`
	Header *HeaderMatch `yaml:"header,omitempty"`
	Exists *bool        `yaml:"exists,omitempty"`
	Expr   string       `yaml:"expr,omitempty"`
	Any    []Match      `yaml:"any,omitempty"`
}

// Replace is a pattern and its replacement.
type Replace struct {
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement"`
}

// HeaderMatch matches one header.
type HeaderMatch struct {
	Name    string `yaml:"name"`
	Pattern string `yaml:"pattern"`
}

// HeaderRule rewrites one header.
type HeaderRule struct {
	Name        string `yaml:"name"`
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement"`
}

// ParseRules decodes a YAML list of rules.
func ParseRules(data []byte) ([]Rule, error) {
	var rules []Rule
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parse rewrite rules: %w", err)
	}
	return rules, nil
}

// Compile builds one rewriter applying rules in order.
func Compile(rules []Rule) (Rewriter, error) {
	out := make([]Rewriter, 0, len(rules))
	for i, rule := range rules {
		r, err := rule.Compile()
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		out = append(out, r)
	}
	return Sequence(out...), nil
}

// Compile builds the rule's rewriter.
func (r Rule) Compile() (Rewriter, error) {
	var steps []Rewriter
	add := func(rw Rewriter, err error) error {
		if err != nil {
			return err
		}
		steps = append(steps, rw)
		return nil
	}

	if r.Path != nil {
		if err := add(Path(r.Path.Pattern, r.Path.Replacement)); err != nil {
			return nil, err
		}
	}
	if r.Href != nil {
		if err := add(Href(r.Href.Pattern, r.Href.Replacement)); err != nil {
			return nil, err
		}
	}
	if r.Header != nil {
		if r.Header.Name == "" {
			return nil, fmt.Errorf("header rewriter: name required")
		}
		if err := add(Header(r.Header.Name, r.Header.Pattern, r.Header.Replacement)); err != nil {
			return nil, err
		}
	}
	if r.Method != nil {
		if err := add(Method(r.Method.Pattern, r.Method.Replacement)); err != nil {
			return nil, err
		}
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("rule has no rewrite")
	}

	rw := Sequence(steps...)
	if r.When == nil {
		return rw, nil
	}
	cond, err := r.When.Compile()
	if err != nil {
		return nil, err
	}
	return When(rw, cond), nil
}

// Compile builds the match's condition.
func (m Match) Compile() (Condition, error) {
	var all []Condition
	add := func(c Condition, err error) error {
		if err != nil {
			return err
		}
		all = append(all, c)
		return nil
	}

	if m.Path != "" {
		if err := add(PathCondition(m.Path)); err != nil {
			return nil, err
		}
	}
	if m.Glob != "" {
		if err := add(GlobCondition(m.Glob)); err != nil {
			return nil, err
		}
	}
	if m.Method != "" {
		if err := add(MethodCondition(m.Method)); err != nil {
			return nil, err
		}
	}
	if m.Header != nil {
		if err := add(HeaderCondition(m.Header.Name, m.Header.Pattern)); err != nil {
			return nil, err
		}
	}
	if m.Exists != nil {
		if *m.Exists {
			all = append(all, Existence())
		} else {
			all = append(all, NonExistence())
		}
	}
	if m.Expr != "" {
		if err := add(ExprCondition(m.Expr)); err != nil {
			return nil, err
		}
	}
	if len(m.Any) > 0 {
		anyOf := make([]Condition, 0, len(m.Any))
		for _, sub := range m.Any {
			c, err := sub.Compile()
			if err != nil {
				return nil, err
			}
			anyOf = append(anyOf, c)
		}
		all = append(all, Or(anyOf...))
	}

	if len(all) == 1 {
		return all[0], nil
	}
	return And(all...), nil
}
