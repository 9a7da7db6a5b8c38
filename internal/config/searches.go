package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/geospaas-harvester/internal/args"
	"github.com/JakeFAU/geospaas-harvester/internal/state"
)

// Search is one entry of the search file: a named set of parameters for one
// configured provider.
type Search struct {
	Name     string
	Provider string
	Params   map[string]any
}

// Searches is the decoded search file.
type Searches struct {
	Common   map[string]any
	Searches []Search
}

var searchFileParser = args.MustNewParser([]args.Spec{
	args.Mapping("common", nil, args.Default(map[string]any{}), args.Help("parameters applied to every search")),
	args.Sequence("searches", args.Required()),
})

var searchEntryParser = args.MustNewParser([]args.Spec{
	args.String("provider_name", `\S+`, args.Required()),
	args.String("name", `\S+`),
}, args.Permissive())

// LoadSearches reads a search file. Keys keep their case, unlike the main
// configuration.
func LoadSearches(path string) (Searches, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Searches{}, &ConfigurationError{Field: "searches", Reason: "cannot read " + path, Err: err}
	}
	return ParseSearches(data)
}

// ParseSearches decodes and validates a search document.
func ParseSearches(data []byte) (Searches, error) {
	raw := map[string]any{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return Searches{}, &ConfigurationError{Field: "searches", Reason: "malformed yaml", Err: err}
	}
	ps, err := searchFileParser.Parse(raw)
	if err != nil {
		return Searches{}, &ConfigurationError{Field: "searches", Reason: "invalid search file", Err: err}
	}

	out := Searches{Common: ps.Mapping("common")}
	used := make(map[string]int)
	// Cursor files are compared case-insensitively for case-folding filesystems.
	cursors := make(map[string]string)
	for i, item := range ps.Sequence("searches") {
		field := fmt.Sprintf("searches[%d]", i)
		entry, ok := item.(map[string]any)
		if !ok {
			return Searches{}, invalid(field, fmt.Sprintf("expected a mapping, got %T", item))
		}
		meta, err := searchEntryParser.Parse(entry)
		if err != nil {
			return Searches{}, &ConfigurationError{Field: field, Reason: "invalid search", Err: err}
		}

		s := Search{
			Provider: meta.String("provider_name"),
			Name:     meta.String("name"),
			Params:   make(map[string]any, len(entry)),
		}
		for k, v := range entry {
			if k != "provider_name" && k != "name" {
				s.Params[k] = v
			}
		}
		explicit := s.Name != ""
		if !explicit {
			s.Name = s.Provider
		}
		used[s.Name]++
		if n := used[s.Name]; n > 1 {
			if explicit {
				return Searches{}, invalid(field+".name", fmt.Sprintf("duplicate search name %q", s.Name))
			}
			s.Name = fmt.Sprintf("%s-%d", s.Name, n)
		}
		cursor := strings.ToLower(state.FileName(s.Name))
		if prev, ok := cursors[cursor]; ok {
			return Searches{}, invalid(field+".name", fmt.Sprintf("search %q would share a cursor file with %q", s.Name, prev))
		}
		cursors[cursor] = s.Name
		out.Searches = append(out.Searches, s)
	}
	return out, nil
}

// CheckProviders reports searches naming a provider the configuration does
// not define. Provider names are compared case-insensitively because Viper
// lower-cases configuration keys.
func (c Config) CheckProviders(s Searches) error {
	for i, search := range s.Searches {
		if _, ok := c.Provider(search.Provider); !ok {
			return invalid(fmt.Sprintf("searches[%d].provider_name", i), fmt.Sprintf("unknown provider %q", search.Provider))
		}
	}
	return nil
}

// Provider returns the configuration entry of the named provider.
func (c Config) Provider(name string) (map[string]any, bool) {
	entry, ok := c.Providers[strings.ToLower(name)]
	return entry, ok
}
