package args

import (
	"regexp"
	"sort"
	"time"

	"github.com/paulmach/orb"
)

// ParameterSet holds coerced values keyed by spec name. It is only produced
// by a successful Parse.
type ParameterSet struct {
	values map[string]any
}

// Get returns the raw coerced value.
func (p ParameterSet) Get(name string) (any, bool) {
	v, ok := p.values[name]
	return v, ok
}

// Has reports whether name holds a value.
func (p ParameterSet) Has(name string) bool {
	_, ok := p.values[name]
	return ok
}

// Len returns the number of values.
func (p ParameterSet) Len() int { return len(p.values) }

// Names returns the keys in sorted order.
func (p ParameterSet) Names() []string {
	names := make([]string, 0, len(p.values))
	for k := range p.values {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Map returns a shallow copy of the values.
func (p ParameterSet) Map() map[string]any {
	out := make(map[string]any, len(p.values))
	for k, v := range p.values {
		out[k] = v
	}
	return out
}

// String returns a string value or "".
func (p ParameterSet) String(name string) string {
	v, _ := p.values[name].(string)
	return v
}

// Bool returns a boolean value or false.
func (p ParameterSet) Bool(name string) bool {
	v, _ := p.values[name].(bool)
	return v
}

// Int returns an integer value or 0.
func (p ParameterSet) Int(name string) int {
	v, _ := p.values[name].(int)
	return v
}

// Time returns a datetime value.
func (p ParameterSet) Time(name string) (time.Time, bool) {
	v, ok := p.values[name].(time.Time)
	return v, ok
}

// Geometry returns a WKT value or nil.
func (p ParameterSet) Geometry(name string) orb.Geometry {
	v, _ := p.values[name].(orb.Geometry)
	return v
}

// Regexp returns a compiled expression or nil.
func (p ParameterSet) Regexp(name string) *regexp.Regexp {
	v, _ := p.values[name].(*regexp.Regexp)
	return v
}

// Mapping returns an unstructured mapping value or nil.
func (p ParameterSet) Mapping(name string) map[string]any {
	v, _ := p.values[name].(map[string]any)
	return v
}

// Params returns a nested parameter set produced by a Mapping spec with a
// nested parser.
func (p ParameterSet) Params(name string) ParameterSet {
	v, _ := p.values[name].(ParameterSet)
	return v
}

// Sequence returns a list value or nil.
func (p ParameterSet) Sequence(name string) []any {
	v, _ := p.values[name].([]any)
	return v
}
