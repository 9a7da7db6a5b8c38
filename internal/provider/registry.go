package provider

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/JakeFAU/geospaas-harvester/internal/args"
	"github.com/JakeFAU/geospaas-harvester/internal/crawler"
)

// Factory builds the crawler of one kind from validated settings and search
// parameters.
type Factory func(settings, search args.ParameterSet, filter crawler.Filter, opts crawler.Options) (crawler.Crawler, error)

// Kind is one registry entry: the repository type, the configuration keys
// it accepts and the search parameters it understands.
type Kind struct {
	Name     string
	Help     string
	Settings []args.Spec
	Search   []args.Spec
	// FolderCoverage marks kinds whose records only carry the coverage of
	// their folder; their datasets get an extra time filter.
	FolderCoverage bool
	New            Factory
}

const urlPattern = `^https?://\S+$`

var registry = map[string]Kind{
	crawler.KindResto: {
		Name: crawler.KindResto,
		Help: "resto catalogue (OpenSearch JSON, e.g. Copernicus collaborative ground segments)",
		Settings: []args.Spec{
			args.String("url", urlPattern, args.Required(), args.Help("catalogue root URL")),
			args.String("username", ""),
			args.String("password", ""),
			args.IntegerRange("page_size", 1, 2000, args.Default(100)),
		},
		Search: []args.Spec{
			args.String("collection", "", args.Required()),
			args.String("status", ""),
			args.String("dataset", ""),
			args.String("product_type", ""),
		},
		New: newResto,
	},
	crawler.KindCMR: {
		Name: crawler.KindCMR,
		Help: "NASA Earthdata Common Metadata Repository granule search",
		Settings: []args.Spec{
			args.String("url", urlPattern, args.Default(crawler.DefaultCMRURL)),
			args.IntegerRange("page_size", 1, 2000, args.Default(100)),
		},
		Search: []args.Spec{
			args.String("short_name", "", args.Required()),
			args.Choice("downloadable", []string{"true", "false"}, args.Default("true")),
			args.String("platform", ""),
			args.String("instrument", ""),
			args.String("sensor", ""),
		},
		New: newCMR,
	},
	crawler.KindHTTP: {
		Name: crawler.KindHTTP,
		Help: "web server exposing HTML directory listings",
		Settings: []args.Spec{
			args.String("url", urlPattern, args.Required()),
			args.String("username", ""),
			args.String("password", ""),
		},
		Search: []args.Spec{
			args.Regexp("include", args.Default("."), args.Help("pattern a file path must match")),
			args.IntegerMin("max_depth", 0, args.Default(0), args.Help("folder levels to explore, 0 for all")),
		},
		FolderCoverage: true,
		New:            newHTML,
	},
	crawler.KindLocal: {
		Name: crawler.KindLocal,
		Help: "directory tree on the local filesystem",
		Settings: []args.Spec{
			args.Path("path", nil, args.Default(".")),
		},
		Search: []args.Spec{
			args.Path("directory", nil, args.Required(), args.Help("relative to the provider path unless absolute")),
			args.Regexp("include", args.Default(".")),
		},
		FolderCoverage: true,
		New:            newLocal,
	},
}

// Lookup returns the registered kind called name.
func Lookup(name string) (Kind, bool) {
	k, ok := registry[name]
	return k, ok
}

// Kinds lists registered kinds by name.
func Kinds() []Kind {
	out := make([]Kind, 0, len(registry))
	for _, k := range registry {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// KindNames lists registered kind names in order.
func KindNames() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func withCredentials(opts crawler.Options, settings args.ParameterSet) crawler.Options {
	if u := settings.String("username"); u != "" {
		opts.Username = u
		opts.Password = settings.String("password")
	}
	return opts
}

func extra(search args.ParameterSet, keys map[string]string) map[string]string {
	out := make(map[string]string, len(keys))
	for param, remote := range keys {
		if v := search.String(param); v != "" {
			out[remote] = v
		}
	}
	return out
}

func newResto(settings, search args.ParameterSet, filter crawler.Filter, opts crawler.Options) (crawler.Crawler, error) {
	return crawler.NewResto(crawler.RestoQuery{
		BaseURL:    settings.String("url"),
		Collection: search.String("collection"),
		Extra: extra(search, map[string]string{
			"status":       "status",
			"dataset":      "dataset",
			"product_type": "productType",
		}),
		Time:   filter.Time,
		Area:   filter.Area,
		Paging: settings.Int("page_size"),
	}, withCredentials(opts, settings))
}

func newCMR(settings, search args.ParameterSet, filter crawler.Filter, opts crawler.Options) (crawler.Crawler, error) {
	return crawler.NewCMR(crawler.CMRQuery{
		SearchURL: settings.String("url"),
		ShortName: search.String("short_name"),
		Extra: extra(search, map[string]string{
			"downloadable": "downloadable",
			"platform":     "platform",
			"instrument":   "instrument",
			"sensor":       "sensor",
		}),
		Time:   filter.Time,
		Area:   filter.Area,
		Paging: settings.Int("page_size"),
	}, opts)
}

func newHTML(settings, search args.ParameterSet, filter crawler.Filter, opts crawler.Options) (crawler.Crawler, error) {
	return crawler.NewHTML(
		settings.String("url"),
		search.Regexp("include"),
		search.Int("max_depth"),
		filter,
		withCredentials(opts, settings),
	)
}

func newLocal(settings, search args.ParameterSet, filter crawler.Filter, opts crawler.Options) (crawler.Crawler, error) {
	dir := search.String("directory")
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(settings.String("path"), dir)
	}
	if dir == "" {
		return nil, fmt.Errorf("local directory is required")
	}
	return crawler.NewLocal(dir, search.Regexp("include"), filter, opts), nil
}
