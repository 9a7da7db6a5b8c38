package crawler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/geospaas-harvester/internal/policy/ratelimit"
	"github.com/JakeFAU/geospaas-harvester/internal/telemetry"
)

const maxResponseBytes = 64 << 20

// Options carries the collaborators shared by every HTTP-backed crawler.
type Options struct {
	HTTPClient *http.Client
	Limiter    *ratelimit.Limiter
	Retry      *ExponentialRetryPolicy
	UserAgent  string
	Timeout    time.Duration
	Username   string
	Password   string
	Logger     *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 60 * time.Second
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Transport: newHTTPTransport(), Timeout: o.Timeout}
	}
	if o.Retry == nil {
		o.Retry = NewExponentialRetryPolicy(RetryConfig{})
	}
	if o.UserAgent == "" {
		o.UserAgent = "geospaas-harvester/1.0"
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}

// jsonClient issues paced, retried GET requests and decodes JSON bodies.
type jsonClient struct {
	kind   string
	opts   Options
	tracer trace.Tracer
}

func newJSONClient(kind string, opts Options) *jsonClient {
	return &jsonClient{
		kind:   kind,
		opts:   opts.withDefaults(),
		tracer: telemetry.Tracer("crawler"),
	}
}

func (c *jsonClient) getJSON(ctx context.Context, endpoint string, query url.Values, out any) error {
	target := endpoint
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	attempts, err := c.opts.Retry.Do(ctx, stopFrom(ctx), func(ctx context.Context) error {
		return c.getOnce(ctx, target, out)
	})
	if errors.Is(err, ErrStopped) {
		return ErrStopped
	}
	if err != nil {
		return &CrawlerError{Kind: c.kind, URL: target, Attempts: attempts, Err: err}
	}
	return nil
}

func (c *jsonClient) getOnce(ctx context.Context, target string, out any) (err error) {
	ctx, span := c.tracer.Start(ctx, "crawler.get", trace.WithAttributes(
		attribute.String("crawler.kind", c.kind),
		attribute.String("http.url", target),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := c.opts.Limiter.Wait(ctx, target); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return permanentError{fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.opts.UserAgent)
	if c.opts.Username != "" {
		req.SetBasicAuth(c.opts.Username, c.opts.Password)
	}

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		telemetry.ObserveCrawlerRequest(c.kind, 0)
		c.opts.Logger.Debug("request failed", zap.String("url", target), zap.Error(err))
		return fmt.Errorf("get %s: %w", target, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	telemetry.ObserveCrawlerRequest(c.kind, resp.StatusCode)
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
		return &StatusError{URL: target, StatusCode: resp.StatusCode}
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return permanentError{fmt.Errorf("decode %s response: %w", c.kind, err)}
	}
	return nil
}
