package fetch

import (
	"context"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Renderer fetches a page through a full browser engine. It is nil-able:
// the headless fallback is feature-flagged and may be entirely absent.
type Renderer interface {
	Render(ctx context.Context, url string) (string, error)
}

// ChromeRenderer renders pages with a headless Chrome via chromedp.
type ChromeRenderer struct {
	logger  *zap.Logger
	timeout time.Duration
	opts    []chromedp.ExecAllocatorOption
}

// NewChromeRenderer builds a renderer with the stealth flags needed to get
// past the more casual bot checks.
func NewChromeRenderer(logger *zap.Logger, userAgent, proxyURL string, timeout time.Duration) *ChromeRenderer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.DisableGPU,
		chromedp.NoSandbox,
		chromedp.Headless,
		chromedp.UserAgent(userAgent),
		chromedp.Flag("accept-language", "en-US,en;q=0.9"),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("exclude-switches", "enable-automation"),
		chromedp.Flag("disable-extensions", ""),
	)
	if proxyURL != "" {
		opts = append(opts, chromedp.ProxyServer(proxyURL))
	}
	return &ChromeRenderer{
		logger:  logger,
		timeout: timeout,
		opts:    opts,
	}
}

// Render navigates to url, waits for the DOM to settle and returns the
// rendered document. The render has its own, longer timeout than the plain
// HTTP tier.
func (b *ChromeRenderer) Render(ctx context.Context, url string) (string, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, b.opts...)
	defer allocCancel()
	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()
	timeoutCtx, timeoutCancel := context.WithTimeout(taskCtx, b.timeout)
	defer timeoutCancel()

	var html string
	err := chromedp.Run(timeoutCtx,
		network.Enable(),
		network.SetExtraHTTPHeaders(network.Headers{
			"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
			"Accept-Language": "en-US,en;q=0.9",
		}),
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
		chromedp.Evaluate(`
			Object.defineProperty(navigator, 'webdriver', {
				get: () => undefined,
			});
		`, nil),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		b.logger.Warn("headless render failed",
			zap.String("url", url), zap.Error(err))
		return "", eris.Wrap(err, "headless render failed")
	}

	b.logger.Debug("headless render completed",
		zap.String("url", url),
		zap.Int("dom_length", len(html)))
	return html, nil
}
