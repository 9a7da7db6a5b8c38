package crawler

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/geospaas-harvester/internal/policy/ratelimit"
	"github.com/JakeFAU/geospaas-harvester/internal/telemetry"
)

// KindHTTP names repositories exposing HTML directory index pages.
const KindHTTP = "http"

// HTMLLister reads folder listings from HTML index pages. Folder paths are
// URL paths on the root host; links ending with "/" are folders.
type HTMLLister struct {
	base      *url.URL
	collector *colly.Collector
	limiter   *ratelimit.Limiter
	auth      string
	logger    *zap.Logger
}

// NewHTMLLister builds a lister for the host of rootURL.
func NewHTMLLister(rootURL string, opts Options) (*HTMLLister, error) {
	u, err := url.Parse(rootURL)
	if err != nil {
		return nil, fmt.Errorf("parse root url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("root url %q must be http or https", rootURL)
	}
	opts = opts.withDefaults()
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.UserAgent = opts.UserAgent
	c.SetRequestTimeout(opts.Timeout)
	if opts.HTTPClient.Transport != nil {
		c.WithTransport(opts.HTTPClient.Transport)
	}

	l := &HTMLLister{
		base:      &url.URL{Scheme: u.Scheme, Host: u.Host},
		collector: c,
		limiter:   opts.Limiter,
		logger:    opts.Logger.Named(KindHTTP),
	}
	if opts.Username != "" {
		l.auth = "Basic " + base64.StdEncoding.EncodeToString([]byte(opts.Username+":"+opts.Password))
	}
	return l, nil
}

// List implements Lister.
func (l *HTMLLister) List(ctx context.Context, folder string) ([]Entry, error) {
	if !strings.HasSuffix(folder, "/") {
		folder += "/"
	}
	target := l.DownloadURL(folder)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("list %s canceled: %w", target, err)
	}
	if err := l.limiter.Wait(ctx, target); err != nil {
		return nil, err
	}

	var (
		links    []string
		fetchErr error
	)
	c := l.collector.Clone()
	c.OnRequest(func(r *colly.Request) {
		if l.auth != "" {
			r.Headers.Set("Authorization", l.auth)
		}
	})
	c.OnResponse(func(r *colly.Response) {
		telemetry.ObserveCrawlerRequest(KindHTTP, r.StatusCode)
	})
	c.OnHTML("a[href]", func(e *colly.HTMLElement) {
		links = append(links, e.Request.AbsoluteURL(e.Attr("href")))
	})
	c.OnError(func(r *colly.Response, err error) {
		if r == nil || r.StatusCode == 0 {
			telemetry.ObserveCrawlerRequest(KindHTTP, 0)
			fetchErr = err
			return
		}
		telemetry.ObserveCrawlerRequest(KindHTTP, r.StatusCode)
		fetchErr = &StatusError{URL: target, StatusCode: r.StatusCode}
	})

	if err := l.runCollector(ctx, c, target, &fetchErr); err != nil {
		return nil, err
	}
	l.logger.Debug("read index page", zap.String("url", target), zap.Int("links", len(links)))
	return l.entries(folder, links), nil
}

func (l *HTMLLister) runCollector(ctx context.Context, c *colly.Collector, target string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- c.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("list %s canceled: %w", target, ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("list %s: %w", target, *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("list %s: %w", target, err)
		}
		return nil
	}
}

var excludedLink = regexp.MustCompile(`\?`)

// entries keeps links that point below folder on the same host.
func (l *HTMLLister) entries(folder string, links []string) []Entry {
	seen := make(map[string]struct{}, len(links))
	out := make([]Entry, 0, len(links))
	for _, link := range links {
		if excludedLink.MatchString(link) {
			continue
		}
		u, err := url.Parse(link)
		if err != nil || u.Host != l.base.Host {
			continue
		}
		if !strings.HasPrefix(u.Path, folder) || u.Path == folder {
			continue
		}
		if _, dup := seen[u.Path]; dup {
			continue
		}
		seen[u.Path] = struct{}{}
		out = append(out, Entry{Path: u.Path, Dir: strings.HasSuffix(u.Path, "/")})
	}
	return out
}

// DownloadURL implements Lister.
func (l *HTMLLister) DownloadURL(path string) string {
	u := *l.base
	u.Path = path
	return u.String()
}

// NewHTML builds a crawler over the HTML index rooted at rootURL.
func NewHTML(rootURL string, include *regexp.Regexp, maxDepth int, filter Filter, opts Options) (*Directory, error) {
	lister, err := NewHTMLLister(rootURL, opts)
	if err != nil {
		return nil, err
	}
	root, _ := url.Parse(rootURL)
	path := root.Path
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	opts = opts.withDefaults()
	return NewDirectory(DirectoryConfig{
		Kind:     KindHTTP,
		Root:     path,
		Include:  include,
		Filter:   filter,
		MaxDepth: maxDepth,
		Retry:    opts.Retry,
		Logger:   opts.Logger.Named(KindHTTP),
	}, lister), nil
}
