package args

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
)

type anyKind struct{}

func (anyKind) kind() Kind { return KindAny }

func (anyKind) validate(any) error { return nil }

func (anyKind) coerce(raw any) (any, error) { return raw, nil }

func (anyKind) describe() string { return "" }

type boolKind struct{}

var boolLiterals = map[string]bool{
	"true": true, "yes": true, "on": true, "1": true,
	"false": false, "no": false, "off": false, "0": false,
}

func (boolKind) kind() Kind { return KindBoolean }

func (k boolKind) validate(raw any) error {
	_, err := k.coerce(raw)
	return err
}

func (boolKind) coerce(raw any) (any, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		if b, ok := boolLiterals[strings.ToLower(strings.TrimSpace(v))]; ok {
			return b, nil
		}
	}
	return nil, fmt.Errorf("expected a boolean, got %v", raw)
}

func (boolKind) describe() string { return "" }

type choiceKind struct {
	options []string
}

func (choiceKind) kind() Kind { return KindChoice }

func (k choiceKind) validate(raw any) error {
	_, err := k.coerce(raw)
	return err
}

func (k choiceKind) coerce(raw any) (any, error) {
	var value string
	switch v := raw.(type) {
	case string:
		value = v
	case bool, int, int64, float64:
		value = fmt.Sprint(v)
	default:
		return nil, fmt.Errorf("expected one of [%s], got %v", strings.Join(k.options, ", "), raw)
	}
	if !slices.Contains(k.options, value) {
		return nil, fmt.Errorf("%q is not one of [%s]", value, strings.Join(k.options, ", "))
	}
	return value, nil
}

func (k choiceKind) describe() string {
	return "one of [" + strings.Join(k.options, ", ") + "]"
}

type datetimeKind struct{}

func (datetimeKind) kind() Kind { return KindDatetime }

func (k datetimeKind) validate(raw any) error {
	_, err := k.coerce(raw)
	return err
}

func (datetimeKind) coerce(raw any) (any, error) {
	switch v := raw.(type) {
	case time.Time:
		return v, nil
	case string:
		text := strings.TrimSpace(v)
		if text == "" {
			return nil, errors.New("unparsable datetime: empty value")
		}
		t, err := dateparse.ParseIn(text, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("unparsable datetime %q", v)
		}
		return t, nil
	}
	return nil, fmt.Errorf("unparsable datetime %v", raw)
}

func (datetimeKind) describe() string { return "" }

type mappingKind struct {
	parser *Parser
}

func (mappingKind) kind() Kind { return KindMapping }

func (k mappingKind) validate(raw any) error {
	_, err := k.coerce(raw)
	return err
}

func (k mappingKind) coerce(raw any) (any, error) {
	m, err := toStringMap(raw)
	if err != nil {
		return nil, err
	}
	if k.parser == nil {
		return m, nil
	}
	return k.parser.Parse(m)
}

func (k mappingKind) describe() string {
	if k.parser == nil {
		return ""
	}
	names := make([]string, 0, len(k.parser.specs))
	for _, s := range k.parser.specs {
		names = append(names, s.name)
	}
	return "keys [" + strings.Join(names, ", ") + "]"
}

func toStringMap(raw any) (map[string]any, error) {
	switch v := raw.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, val := range v {
			out[key] = val
		}
		return out, nil
	case map[any]any:
		out := make(map[string]any, len(v))
		for key, val := range v {
			out[fmt.Sprint(key)] = val
		}
		return out, nil
	case ParameterSet:
		return v.Map(), nil
	}
	return nil, fmt.Errorf("expected a mapping, got %T", raw)
}

type sequenceKind struct{}

func (sequenceKind) kind() Kind { return KindSequence }

func (k sequenceKind) validate(raw any) error {
	_, err := k.coerce(raw)
	return err
}

func (sequenceKind) coerce(raw any) (any, error) {
	if items, ok := raw.([]any); ok {
		return append([]any(nil), items...), nil
	}
	rv := reflect.ValueOf(raw)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("expected a list, got %T", raw)
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, nil
}

func (sequenceKind) describe() string { return "" }

var pathPattern = regexp.MustCompile(`^\.{0,2}(/[^/]*)*/?$`)

type pathKind struct {
	prefixes []string
}

func (pathKind) kind() Kind { return KindPath }

func (k pathKind) validate(raw any) error {
	_, err := k.coerce(raw)
	return err
}

func (k pathKind) coerce(raw any) (any, error) {
	v, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("expected a path, got %T", raw)
	}
	for _, prefix := range k.prefixes {
		if strings.HasPrefix(v, prefix) {
			return v, nil
		}
	}
	if !pathPattern.MatchString(v) {
		return nil, fmt.Errorf("%q is not a valid path", v)
	}
	return v, nil
}

func (k pathKind) describe() string {
	if len(k.prefixes) == 0 {
		return ""
	}
	return "or prefixed by [" + strings.Join(k.prefixes, ", ") + "]"
}

type stringKind struct {
	pattern *regexp.Regexp
}

func (stringKind) kind() Kind { return KindString }

func (k stringKind) validate(raw any) error {
	_, err := k.coerce(raw)
	return err
}

func (k stringKind) coerce(raw any) (any, error) {
	v, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("expected a string, got %T", raw)
	}
	if k.pattern != nil && !k.pattern.MatchString(v) {
		return nil, fmt.Errorf("%q does not match %s", v, k.pattern)
	}
	return v, nil
}

func (k stringKind) describe() string {
	if k.pattern == nil {
		return ""
	}
	return "matching " + k.pattern.String()
}

type wktKind struct {
	types []string
}

func (wktKind) kind() Kind { return KindWKT }

func (k wktKind) validate(raw any) error {
	_, err := k.coerce(raw)
	return err
}

func (k wktKind) coerce(raw any) (any, error) {
	var geom orb.Geometry
	switch v := raw.(type) {
	case orb.Geometry:
		geom = v
	case string:
		parsed, err := wkt.Unmarshal(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("malformed WKT %q: %w", v, err)
		}
		geom = parsed
	default:
		return nil, fmt.Errorf("expected a WKT string, got %T", raw)
	}
	if len(k.types) > 0 && !slices.Contains(k.types, geom.GeoJSONType()) {
		return nil, fmt.Errorf("geometry type %s is not one of [%s]",
			geom.GeoJSONType(), strings.Join(k.types, ", "))
	}
	if err := checkGeometry(geom); err != nil {
		return nil, err
	}
	return geom, nil
}

func (k wktKind) describe() string {
	if len(k.types) == 0 {
		return ""
	}
	return "geometry types [" + strings.Join(k.types, ", ") + "]"
}

// checkGeometry rejects geometries that parse but cannot describe a footprint.
func checkGeometry(geom orb.Geometry) error {
	switch g := geom.(type) {
	case orb.Point:
		return checkPoints(g)
	case orb.MultiPoint:
		if len(g) == 0 {
			return errors.New("empty multipoint")
		}
		return checkPoints(g...)
	case orb.LineString:
		if len(g) < 2 {
			return errors.New("linestring needs at least 2 points")
		}
		return checkPoints(g...)
	case orb.Ring:
		return checkRing(g)
	case orb.Polygon:
		return checkPolygon(g)
	case orb.MultiPolygon:
		if len(g) == 0 {
			return errors.New("empty multipolygon")
		}
		for _, p := range g {
			if err := checkPolygon(p); err != nil {
				return err
			}
		}
		return nil
	case orb.MultiLineString:
		for _, ls := range g {
			if err := checkGeometry(ls); err != nil {
				return err
			}
		}
		return nil
	case orb.Collection:
		for _, child := range g {
			if err := checkGeometry(child); err != nil {
				return err
			}
		}
		return nil
	}
	return nil
}

func checkPolygon(p orb.Polygon) error {
	if len(p) == 0 {
		return errors.New("empty polygon")
	}
	for _, ring := range p {
		if err := checkRing(ring); err != nil {
			return err
		}
	}
	return nil
}

func checkRing(r orb.Ring) error {
	if len(r) < 4 {
		return errors.New("polygon ring needs at least 4 points")
	}
	if !r.Closed() {
		return errors.New("polygon ring is not closed")
	}
	return checkPoints(r...)
}

func checkPoints(points ...orb.Point) error {
	for _, p := range points {
		if math.IsNaN(p[0]) || math.IsNaN(p[1]) || math.IsInf(p[0], 0) || math.IsInf(p[1], 0) {
			return errors.New("geometry has non-finite coordinates")
		}
	}
	return nil
}

type integerKind struct {
	min *int
	max *int
}

func (integerKind) kind() Kind { return KindInteger }

func (k integerKind) validate(raw any) error {
	_, err := k.coerce(raw)
	return err
}

func (k integerKind) coerce(raw any) (any, error) {
	var n int
	switch v := raw.(type) {
	case int:
		n = v
	case int64:
		n = int(v)
	case uint64:
		n = int(v)
	case float64:
		if v != math.Trunc(v) {
			return nil, fmt.Errorf("expected an integer, got %v", v)
		}
		n = int(v)
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("expected an integer, got %q", v)
		}
		n = parsed
	default:
		return nil, fmt.Errorf("expected an integer, got %T", raw)
	}
	if k.min != nil && n < *k.min {
		return nil, fmt.Errorf("%d is lower than %d", n, *k.min)
	}
	if k.max != nil && n > *k.max {
		return nil, fmt.Errorf("%d is greater than %d", n, *k.max)
	}
	return n, nil
}

func (k integerKind) describe() string {
	switch {
	case k.min != nil && k.max != nil:
		return fmt.Sprintf("between %d and %d", *k.min, *k.max)
	case k.min != nil:
		return fmt.Sprintf(">= %d", *k.min)
	case k.max != nil:
		return fmt.Sprintf("<= %d", *k.max)
	}
	return ""
}

type regexpKind struct{}

func (regexpKind) kind() Kind { return KindRegexp }

func (k regexpKind) validate(raw any) error {
	_, err := k.coerce(raw)
	return err
}

func (regexpKind) coerce(raw any) (any, error) {
	switch v := raw.(type) {
	case *regexp.Regexp:
		return v, nil
	case string:
		re, err := regexp.Compile(v)
		if err != nil {
			return nil, fmt.Errorf("invalid regular expression %q: %w", v, err)
		}
		return re, nil
	}
	return nil, fmt.Errorf("expected a regular expression, got %T", raw)
}

func (regexpKind) describe() string { return "" }
