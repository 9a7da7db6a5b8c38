package args

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind tags the value type a Spec accepts.
type Kind string

// Supported kinds.
const (
	KindAny      Kind = "any"
	KindBoolean  Kind = "boolean"
	KindChoice   Kind = "choice"
	KindDatetime Kind = "datetime"
	KindMapping  Kind = "mapping"
	KindSequence Kind = "sequence"
	KindPath     Kind = "path"
	KindString   Kind = "string"
	KindWKT      Kind = "wkt"
	KindInteger  Kind = "integer"
	KindRegexp   Kind = "regexp"
)

// variant is the capability every kind implements.
type variant interface {
	kind() Kind
	validate(raw any) error
	coerce(raw any) (any, error)
	describe() string
}

// Spec declares one accepted parameter. Specs are values and never change
// after construction.
type Spec struct {
	name       string
	required   bool
	help       string
	def        any
	hasDefault bool
	variant    variant
}

// Option customizes a Spec at construction.
type Option func(*Spec)

// Required marks the parameter as mandatory.
func Required() Option {
	return func(s *Spec) { s.required = true }
}

// Default sets the value used when the parameter is absent. It must satisfy
// the kind's rules; NewParser rejects it otherwise.
func Default(v any) Option {
	return func(s *Spec) {
		s.def = v
		s.hasDefault = true
	}
}

// Help attaches a human-readable description.
func Help(text string) Option {
	return func(s *Spec) { s.help = text }
}

func newSpec(name string, v variant, opts []Option) Spec {
	s := Spec{name: name, variant: v}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// Name returns the parameter key.
func (s Spec) Name() string { return s.name }

// Kind returns the kind tag.
func (s Spec) Kind() Kind { return s.variant.kind() }

// IsRequired reports whether the parameter is mandatory.
func (s Spec) IsRequired() bool { return s.required }

// Help returns the description.
func (s Spec) Help() string { return s.help }

// Default returns the default value, if one is declared.
func (s Spec) Default() (any, bool) { return s.def, s.hasDefault }

// Validate checks raw against the kind rules without keeping the result.
func (s Spec) Validate(raw any) error { return s.variant.validate(raw) }

// Coerce converts raw into the kind's target type.
func (s Spec) Coerce(raw any) (any, error) { return s.variant.coerce(raw) }

// Describe renders a one-line summary suitable for listings.
func (s Spec) Describe() string {
	var b strings.Builder
	b.WriteString(s.name)
	b.WriteString(" (")
	b.WriteString(string(s.variant.kind()))
	if s.required {
		b.WriteString(", required")
	}
	if extra := s.variant.describe(); extra != "" {
		b.WriteString(", ")
		b.WriteString(extra)
	}
	if s.hasDefault {
		fmt.Fprintf(&b, ", default %v", s.def)
	}
	b.WriteString(")")
	if s.help != "" {
		b.WriteString(": ")
		b.WriteString(s.help)
	}
	return b.String()
}

// Any accepts every value unchanged.
func Any(name string, opts ...Option) Spec {
	return newSpec(name, anyKind{}, opts)
}

// Boolean accepts bools and the usual textual spellings.
func Boolean(name string, opts ...Option) Spec {
	return newSpec(name, boolKind{}, opts)
}

// Choice accepts one member of options.
func Choice(name string, options []string, opts ...Option) Spec {
	return newSpec(name, choiceKind{options: append([]string(nil), options...)}, opts)
}

// Datetime accepts timestamps and common textual date/time layouts. Values
// without a zone are read as UTC.
func Datetime(name string, opts ...Option) Spec {
	return newSpec(name, datetimeKind{}, opts)
}

// Mapping accepts a string-keyed mapping. When nested is non-nil the mapping
// is parsed with it and coerced to a ParameterSet.
func Mapping(name string, nested *Parser, opts ...Option) Spec {
	return newSpec(name, mappingKind{parser: nested}, opts)
}

// Sequence accepts any list.
func Sequence(name string, opts ...Option) Spec {
	return newSpec(name, sequenceKind{}, opts)
}

// Path accepts a slash separated path, or any value starting with one of
// prefixes (for example "http://").
func Path(name string, prefixes []string, opts ...Option) Spec {
	return newSpec(name, pathKind{prefixes: append([]string(nil), prefixes...)}, opts)
}

// String accepts text. A non-empty pattern must match the whole value.
func String(name, pattern string, opts ...Option) Spec {
	k := stringKind{}
	if pattern != "" {
		k.pattern = regexp.MustCompile(pattern)
	}
	return newSpec(name, k, opts)
}

// WKT accepts well-known-text geometries, optionally limited to the given
// geometry types ("Polygon", "Point", ...).
func WKT(name string, types []string, opts ...Option) Spec {
	return newSpec(name, wktKind{types: append([]string(nil), types...)}, opts)
}

// Integer accepts whole numbers.
func Integer(name string, opts ...Option) Spec {
	return newSpec(name, integerKind{}, opts)
}

// IntegerRange accepts whole numbers within [lower, upper].
func IntegerRange(name string, lower, upper int, opts ...Option) Spec {
	return newSpec(name, integerKind{min: &lower, max: &upper}, opts)
}

// IntegerMin accepts whole numbers greater than or equal to lower.
func IntegerMin(name string, lower int, opts ...Option) Spec {
	return newSpec(name, integerKind{min: &lower}, opts)
}

// Regexp accepts a regular expression and compiles it.
func Regexp(name string, opts ...Option) Spec {
	return newSpec(name, regexpKind{}, opts)
}
