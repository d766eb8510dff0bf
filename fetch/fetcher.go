// Package fetch retrieves product detail pages and extracts attributes from
// them. A plain HTTP request runs first; when the page is blocked or too
// thin to extract from, a feature-flagged headless render takes over, and an
// optional LLM extractor fills in what structured data could not.
package fetch

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
	"golang.org/x/net/proxy"
	"golang.org/x/time/rate"

	"dealscout/product"
)

// OutcomeKind classifies what a fetch attempt produced.
type OutcomeKind string

const (
	OutcomeHTML           OutcomeKind = "html"
	OutcomeBlocked        OutcomeKind = "blocked"
	OutcomeTimeout        OutcomeKind = "timeout"
	OutcomeRenderRequired OutcomeKind = "render_required"
)

// Outcome is the result of fetching one product page.
type Outcome struct {
	Kind   OutcomeKind
	Fields map[string]string
	Source product.Source
}

// Sufficient reports whether enough attributes were extracted to call the
// product fully enriched.
func (o Outcome) Sufficient(minFields int) bool {
	return o.Kind == OutcomeHTML && len(o.Fields) >= minFields
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Config holds fetcher settings. The headless tier is gated by the renderer
// passed to New; passing nil disables it for the fetcher's lifetime.
type Config struct {
	UserAgent         string
	HTTPTimeout       time.Duration
	MinFields         int
	MinBodyBytes      int
	RequestsPerSecond float64
	ProxyURL          string
}

func (c *Config) applyDefaults() {
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 10 * time.Second
	}
	if c.MinFields <= 0 {
		c.MinFields = 3
	}
	if c.MinBodyBytes <= 0 {
		c.MinBodyBytes = 1000
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 4
	}
}

// Fetcher fetches and extracts product pages.
type Fetcher struct {
	cfg      Config
	base     *colly.Collector
	limiter  *rate.Limiter
	renderer Renderer      // nil when the headless fallback is disabled
	llm      *LLMExtractor // nil when no extraction model is configured
	logger   *zap.Logger
}

// New creates a Fetcher. renderer and llm may be nil.
func New(cfg Config, renderer Renderer, llm *LLMExtractor, logger *zap.Logger) (*Fetcher, error) {
	cfg.applyDefaults()

	c := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
		colly.MaxDepth(1),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
	)
	c.SetRequestTimeout(cfg.HTTPTimeout)

	transport, err := newTransport(cfg.ProxyURL)
	if err != nil {
		return nil, err
	}
	c.WithTransport(transport)

	return &Fetcher{
		cfg:      cfg,
		base:     c,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		renderer: renderer,
		llm:      llm,
		logger:   logger,
	}, nil
}

// newTransport builds the outbound transport, optionally dialing through an
// HTTP or SOCKS5 proxy.
func newTransport(proxyURL string) (*http.Transport, error) {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	if proxyURL == "" {
		return transport, nil
	}
	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return nil, err
	}
	if parsed.Scheme == "socks5" {
		dialer, err := proxy.SOCKS5("tcp", parsed.Host, nil, proxy.Direct)
		if err != nil {
			return nil, err
		}
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialer.Dial(network, addr)
		}
		return transport, nil
	}
	transport.Proxy = http.ProxyURL(parsed)
	return transport, nil
}

// Fetch retrieves one product page and extracts attributes. Timeouts and
// network errors are never fatal to the batch; they surface as Timeout or
// Blocked outcomes for the caller to map onto the product's status.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string) Outcome {
	if err := f.limiter.Wait(ctx); err != nil {
		return Outcome{Kind: OutcomeTimeout, Source: product.SourceHTTP}
	}

	status, body, err := f.httpGet(ctx, pageURL)
	switch {
	case err != nil && isTimeout(err):
		f.logger.Debug("http fetch timed out", zap.String("url", pageURL))
		return f.renderFallback(ctx, pageURL, Outcome{Kind: OutcomeTimeout, Source: product.SourceHTTP})
	case err != nil && status == 0:
		f.logger.Debug("http fetch failed", zap.String("url", pageURL), zap.Error(err))
		return f.renderFallback(ctx, pageURL, Outcome{Kind: OutcomeBlocked, Source: product.SourceHTTP})
	case isBlockedStatus(status):
		f.logger.Debug("origin blocked the fetch",
			zap.String("url", pageURL), zap.Int("status", status))
		return f.renderFallback(ctx, pageURL, Outcome{Kind: OutcomeBlocked, Source: product.SourceHTTP})
	}

	outcome := Outcome{Kind: OutcomeHTML, Source: product.SourceHTTP}
	if len(body) >= f.cfg.MinBodyBytes {
		outcome.Fields = ExtractFields(body, pageURL)
	} else {
		// A near-empty 200 usually means the page is rendered client side.
		outcome.Kind = OutcomeRenderRequired
	}

	if outcome.Sufficient(f.cfg.MinFields) {
		return outcome
	}
	return f.renderFallback(ctx, pageURL, outcome)
}

// renderFallback tries the headless tier, then the LLM extractor, keeping
// whatever the earlier tiers already produced.
func (f *Fetcher) renderFallback(ctx context.Context, pageURL string, prior Outcome) Outcome {
	var html string
	if f.renderer != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return prior
		}
		rendered, err := f.renderer.Render(ctx, pageURL)
		if err == nil && rendered != "" {
			html = rendered
			fields := ExtractFields([]byte(rendered), pageURL)
			mergeFields(fields, prior.Fields)
			prior = Outcome{Kind: OutcomeHTML, Fields: fields, Source: product.SourceHeadless}
		}
	}

	if f.llm != nil && prior.Kind == OutcomeHTML && len(prior.Fields) < f.cfg.MinFields && html != "" {
		name := prior.Fields["name"]
		extracted, err := f.llm.Extract(ctx, html, pageURL, name)
		if err != nil {
			f.logger.Debug("llm extraction failed", zap.String("url", pageURL), zap.Error(err))
		} else {
			mergeFields(prior.Fields, extracted)
		}
	}
	return prior
}

// httpGet runs the plain HTTP tier on a cloned collector so concurrent
// fetches never share callback state.
func (f *Fetcher) httpGet(ctx context.Context, pageURL string) (int, []byte, error) {
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}

	c := f.base.Clone()

	var (
		status   int
		body     []byte
		fetchErr error
	)
	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.5")
		r.Headers.Set("Upgrade-Insecure-Requests", "1")
	})
	c.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = r.Body
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
		fetchErr = err
	})

	if err := c.Visit(pageURL); err != nil && fetchErr == nil {
		fetchErr = err
	}
	c.Wait()
	return status, body, fetchErr
}

func isBlockedStatus(status int) bool {
	switch status {
	case http.StatusForbidden, http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return true
	}
	return status >= 400
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "timeout")
}

func mergeFields(dst, src map[string]string) {
	for k, v := range src {
		if _, ok := dst[k]; !ok && v != "" {
			dst[k] = v
		}
	}
}
