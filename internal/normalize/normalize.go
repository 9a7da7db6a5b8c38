// Package normalize converts raw repository records into catalog datasets
// by mapping well-known metadata fields.
package normalize

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/paulmach/orb/encoding/wkt"

	"github.com/JakeFAU/geospaas-harvester/internal/harvest"
	"github.com/JakeFAU/geospaas-harvester/internal/hash/sha256"
)

// NormalizationError reports a record that could not be turned into a
// dataset. It is never fatal to a harvest.
type NormalizationError struct {
	URL string
	Err error
}

func (e *NormalizationError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("normalize record: %v", e.Err)
	}
	return fmt.Sprintf("normalize %s: %v", e.URL, e.Err)
}

func (e *NormalizationError) Unwrap() error { return e.Err }

// ErrNoURL is wrapped by NormalizationError when a record has no download
// location.
var ErrNoURL = errors.New("record has no url")

var (
	idKeys      = []string{"entry_id", "id", "productIdentifier", "identifier"}
	titleKeys   = []string{"title", "productIdentifier", "name"}
	summaryKeys = []string{"summary", "description", "abstract"}
	startKeys   = []string{"time_coverage_start", "startDate", "start_time"}
	endKeys     = []string{"time_coverage_end", "completionDate", "end_time"}
)

// FieldMapper is the built-in harvest.Normalizer.
type FieldMapper struct {
	hasher *sha256.Hasher
}

// New returns a FieldMapper.
func New() *FieldMapper {
	return &FieldMapper{hasher: sha256.New()}
}

// Normalize implements harvest.Normalizer. Records without an identifier
// are keyed by a digest of their URL so rediscovering them is idempotent.
func (m *FieldMapper) Normalize(ctx context.Context, rec harvest.RawRecord) (harvest.Dataset, error) {
	if err := ctx.Err(); err != nil {
		return harvest.Dataset{}, fmt.Errorf("normalize canceled: %w", err)
	}
	uri := strings.TrimSpace(rec.URL)
	if uri == "" {
		return harvest.Dataset{}, &NormalizationError{Err: ErrNoURL}
	}
	if _, err := url.Parse(uri); err != nil {
		return harvest.Dataset{}, &NormalizationError{URL: uri, Err: err}
	}

	ds := harvest.Dataset{
		EntryID:  stringField(rec.Metadata, idKeys...),
		Title:    stringField(rec.Metadata, titleKeys...),
		Summary:  stringField(rec.Metadata, summaryKeys...),
		URI:      uri,
		Location: stringField(rec.Metadata, "location"),
		Metadata: rec.Metadata,
	}
	if ds.EntryID == "" {
		ds.EntryID = m.hasher.Fingerprint(uri)
	}
	if ds.Title == "" {
		ds.Title = path.Base(strings.TrimRight(uri, "/"))
	}
	if ds.Location == "" && rec.Geometry != nil {
		ds.Location = wkt.MarshalString(rec.Geometry)
	}

	var err error
	if ds.TimeCoverageStart, err = coverage(rec.Start, rec.Metadata, startKeys); err != nil {
		return harvest.Dataset{}, &NormalizationError{URL: uri, Err: fmt.Errorf("time coverage start: %w", err)}
	}
	if ds.TimeCoverageEnd, err = coverage(rec.End, rec.Metadata, endKeys); err != nil {
		return harvest.Dataset{}, &NormalizationError{URL: uri, Err: fmt.Errorf("time coverage end: %w", err)}
	}
	if !ds.TimeCoverageStart.IsZero() && !ds.TimeCoverageEnd.IsZero() && ds.TimeCoverageEnd.Before(ds.TimeCoverageStart) {
		return harvest.Dataset{}, &NormalizationError{URL: uri, Err: fmt.Errorf("time coverage ends %s before it starts %s",
			ds.TimeCoverageEnd.Format(time.RFC3339), ds.TimeCoverageStart.Format(time.RFC3339))}
	}
	return ds, nil
}

func coverage(known time.Time, md map[string]any, keys []string) (time.Time, error) {
	if !known.IsZero() {
		return known.UTC(), nil
	}
	text := stringField(md, keys...)
	if text == "" {
		return time.Time{}, nil
	}
	t, err := dateparse.ParseIn(text, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("unparsable datetime %q", text)
	}
	return t.UTC(), nil
}

// stringField returns the first non-empty scalar stored under keys.
func stringField(md map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := md[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case int:
			return strconv.Itoa(v)
		case int64:
			return strconv.FormatInt(v, 10)
		}
	}
	return ""
}

// Func adapts a plain function to harvest.Normalizer.
type Func func(ctx context.Context, rec harvest.RawRecord) (harvest.Dataset, error)

// Normalize implements harvest.Normalizer.
func (f Func) Normalize(ctx context.Context, rec harvest.RawRecord) (harvest.Dataset, error) {
	return f(ctx, rec)
}
