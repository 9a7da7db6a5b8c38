package args

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Parser validates raw mappings against an ordered list of Specs.
type Parser struct {
	specs  []Spec
	index  map[string]int
	strict bool
}

// ParserOption customizes a Parser at construction.
type ParserOption func(*Parser)

// Permissive makes the parser drop keys that no spec declares instead of
// reporting them.
func Permissive() ParserOption {
	return func(p *Parser) { p.strict = false }
}

// WithStrict sets the unknown-key policy explicitly.
func WithStrict(strict bool) ParserOption {
	return func(p *Parser) { p.strict = strict }
}

// NewParser builds a strict parser. Names must be unique and non-empty, and
// every declared default must satisfy its kind.
func NewParser(specs []Spec, opts ...ParserOption) (*Parser, error) {
	p := &Parser{
		specs:  make([]Spec, 0, len(specs)),
		index:  make(map[string]int, len(specs)),
		strict: true,
	}
	for _, opt := range opts {
		opt(p)
	}
	for _, s := range specs {
		if strings.TrimSpace(s.name) == "" {
			return nil, errors.New("argument spec name is required")
		}
		if s.variant == nil {
			return nil, fmt.Errorf("argument %q has no kind", s.name)
		}
		if _, dup := p.index[s.name]; dup {
			return nil, fmt.Errorf("duplicate argument name %q", s.name)
		}
		if s.hasDefault {
			if err := s.variant.validate(s.def); err != nil {
				return nil, fmt.Errorf("argument %q default: %w", s.name, err)
			}
		}
		p.index[s.name] = len(p.specs)
		p.specs = append(p.specs, s)
	}
	return p, nil
}

// MustNewParser is NewParser for static spec tables; it panics on error.
func MustNewParser(specs []Spec, opts ...ParserOption) *Parser {
	p, err := NewParser(specs, opts...)
	if err != nil {
		panic(err)
	}
	return p
}

// Strict reports whether unknown keys are rejected.
func (p *Parser) Strict() bool { return p.strict }

// Specs returns a copy of the declared specs in declaration order.
func (p *Parser) Specs() []Spec {
	return append([]Spec(nil), p.specs...)
}

// Lookup returns the spec declared under name.
func (p *Parser) Lookup(name string) (Spec, bool) {
	i, ok := p.index[name]
	if !ok {
		return Spec{}, false
	}
	return p.specs[i], true
}

// Extend returns a new parser with the same policy holding p's specs followed
// by extra.
func (p *Parser) Extend(extra ...Spec) (*Parser, error) {
	specs := append(p.Specs(), extra...)
	return NewParser(specs, WithStrict(p.strict))
}

// Parse validates raw and returns the coerced parameters. Every problem is
// reported in a single *ValidationError; nothing is returned on failure.
func (p *Parser) Parse(raw map[string]any) (ParameterSet, error) {
	values := make(map[string]any, len(p.specs))
	var problems []FieldError

	for _, s := range p.specs {
		value, present := raw[s.name]
		if !present {
			switch {
			case s.required:
				problems = append(problems, FieldError{
					Field:   s.name,
					Problem: ProblemMissing,
					Reason:  "required parameter is missing",
				})
			case s.hasDefault:
				// Defaults were validated by NewParser; coercing again gives each
				// ParameterSet its own copy of mutable values.
				coerced, err := s.variant.coerce(s.def)
				if err != nil {
					return ParameterSet{}, fmt.Errorf("argument %q default: %w", s.name, err)
				}
				values[s.name] = coerced
			}
			continue
		}

		coerced, err := s.variant.coerce(value)
		if err != nil {
			problems = append(problems, fieldErrors(s.name, err)...)
			continue
		}
		values[s.name] = coerced
	}

	if p.strict {
		for _, key := range p.Unknown(raw) {
			problems = append(problems, FieldError{
				Field:   key,
				Problem: ProblemUnknown,
				Reason:  "unknown parameter",
			})
		}
	}

	if len(problems) > 0 {
		return ParameterSet{}, &ValidationError{Fields: problems}
	}
	return ParameterSet{values: values}, nil
}

// Unknown lists the keys of raw that no spec declares, sorted.
func (p *Parser) Unknown(raw map[string]any) []string {
	var unknown []string
	for key := range raw {
		if _, ok := p.index[key]; !ok {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)
	return unknown
}

// fieldErrors flattens nested validation failures under the parent key.
func fieldErrors(name string, err error) []FieldError {
	var nested *ValidationError
	if errors.As(err, &nested) {
		out := make([]FieldError, 0, len(nested.Fields))
		for _, f := range nested.Fields {
			f.Field = name + "." + f.Field
			out = append(out, f)
		}
		return out
	}
	return []FieldError{{Field: name, Problem: ProblemInvalid, Reason: err.Error()}}
}

// Describe lists every spec, one per line.
func (p *Parser) Describe() string {
	lines := make([]string, 0, len(p.specs))
	for _, s := range p.specs {
		lines = append(lines, s.Describe())
	}
	return strings.Join(lines, "\n")
}
