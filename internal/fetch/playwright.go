package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/playwright-community/playwright-go"

	"github.com/maltedev/jewelry-scraper/internal/browser"
	"github.com/maltedev/jewelry-scraper/internal/identity"
)

// PlaywrightFetcher renders pages with a shared Chromium instance, creating
// a fresh context per fetch so the identity's proxy and user agent apply.
type PlaywrightFetcher struct {
	browser *browser.Browser
	logger  *slog.Logger
}

func NewPlaywrightFetcher(b *browser.Browser, logger *slog.Logger) *PlaywrightFetcher {
	return &PlaywrightFetcher{
		browser: b,
		logger:  logger.With("component", "fetcher"),
	}
}

func (f *PlaywrightFetcher) Fetch(ctx context.Context, url string, id identity.Identity) (string, error) {
	browserCtx, err := f.browser.NewContext(id.Proxy, id.UserAgent)
	if err != nil {
		// A context that cannot be created means the session is gone.
		return "", Fatal(url, err)
	}
	defer browserCtx.Close()

	page, err := browserCtx.NewPage()
	if err != nil {
		return "", Fatal(url, fmt.Errorf("failed to create page: %w", err))
	}
	defer page.Close()

	page.SetDefaultTimeout(float64(f.browser.Timeout().Milliseconds()))

	if _, err := page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(f.browser.Timeout().Milliseconds())),
	}); err != nil {
		return "", Transient(url, fmt.Errorf("navigation failed: %w", err))
	}

	// Scroll once so lazily loaded listing images get real src attributes.
	if _, err := page.Evaluate(`window.scrollBy(0, document.body.scrollHeight / 2)`); err != nil {
		f.logger.Debug("scroll failed", "url", url, "error", err)
	}

	content, err := page.Content()
	if err != nil {
		return "", Transient(url, fmt.Errorf("failed to read page content: %w", err))
	}

	if isBlockedPage(content) {
		return "", Structural(url, fmt.Errorf("bot interstitial or captcha page"))
	}

	return content, nil
}

// isBlockedPage detects interstitials that render instead of search results.
func isBlockedPage(content string) bool {
	markers := []string{
		"Pardon Our Interruption",
		"Please verify yourself to continue",
		"g-recaptcha",
		"hcaptcha.com",
	}
	for _, marker := range markers {
		if strings.Contains(content, marker) {
			return true
		}
	}
	return false
}
