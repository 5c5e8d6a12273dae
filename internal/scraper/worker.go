package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net/url"
	"time"

	"github.com/maltedev/jewelry-scraper/internal/config"
	"github.com/maltedev/jewelry-scraper/internal/fetch"
	"github.com/maltedev/jewelry-scraper/internal/harvest"
	"github.com/maltedev/jewelry-scraper/internal/identity"
	"github.com/maltedev/jewelry-scraper/internal/tasks"
)

const searchBaseURL = "https://www.ebay.com/sch/i.html"

// Worker scrapes one subcategory at a time. Failures recover per the fetch
// error taxonomy: transient errors are retried with backoff and a rotated
// identity, structural errors abandon the subcategory, fatal errors fail
// the whole run.
type Worker struct {
	fetcher fetch.Fetcher
	rotator *identity.Rotator
	store   *harvest.Store
	cfg     config.ScraperConfig
	logger  *slog.Logger
	rng     *rand.Rand
}

func NewWorker(fetcher fetch.Fetcher, rotator *identity.Rotator, store *harvest.Store, cfg config.ScraperConfig, logger *slog.Logger) *Worker {
	return &Worker{
		fetcher: fetcher,
		rotator: rotator,
		store:   store,
		cfg:     cfg,
		logger:  logger.With("component", "scrape_worker"),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// ScrapeSubcategory walks the search result pages for one category pair
// until the item budget or the page limit is reached. Only fatal failures
// are returned; everything recoverable lands in the sink's error log.
func (w *Worker) ScrapeSubcategory(ctx context.Context, mainCategory, subcategory string, sink tasks.ProgressSink) error {
	logger := w.logger.With("category", mainCategory, "subcategory", subcategory)
	scraped := 0

	for page := 1; page <= w.cfg.MaxPages && scraped < w.cfg.MaxItems; page++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		pageURL := w.searchURL(mainCategory, subcategory, page)

		html, err := w.fetchWithRetry(ctx, pageURL)
		if err != nil {
			switch fetch.KindOf(err) {
			case fetch.KindFatal:
				return err
			case fetch.KindStructural:
				logger.Warn("abandoning subcategory", "page", page, "error", err)
				sink.ReportError(fmt.Sprintf("%s/%s: %v", mainCategory, subcategory, err))
				return nil
			default:
				if page == 1 && scraped == 0 {
					// Nothing harvested here yet and the entry page is
					// unreachable; give up on the subcategory with one error.
					logger.Warn("abandoning unreachable subcategory", "error", err)
					sink.ReportError(fmt.Sprintf("%s/%s: %v", mainCategory, subcategory, err))
					return nil
				}
				logger.Warn("skipping page after retries", "page", page, "error", err)
				sink.ReportError(fmt.Sprintf("%s/%s page %d: %v", mainCategory, subcategory, page, err))
				continue
			}
		}

		listings, err := extractListings(html)
		if err != nil {
			logger.Warn("abandoning subcategory", "page", page, "error", err)
			sink.ReportError(fmt.Sprintf("%s/%s: %v", mainCategory, subcategory, err))
			return nil
		}
		sink.AddFound(len(listings))

		fresh := listings[:0:0]
		for _, l := range listings {
			if !w.store.Seen(l.URL) {
				fresh = append(fresh, l)
			}
		}
		if len(fresh) == 0 {
			// End of results: the page had nothing we have not stored yet.
			logger.Info("no new listings", "page", page)
			break
		}
		if len(fresh) > w.cfg.MaxItems-scraped {
			fresh = fresh[:w.cfg.MaxItems-scraped]
		}
		sink.AddTotal(len(fresh))

		for _, l := range fresh {
			if err := ctx.Err(); err != nil {
				return err
			}

			item := &harvest.Item{
				Title:        l.Title,
				Price:        l.Price,
				Condition:    l.Condition,
				URL:          l.URL,
				ImageURL:     l.ImageURL,
				MainCategory: mainCategory,
				Subcategory:  subcategory,
			}

			if err := w.store.SaveItem(ctx, item, w.rotator.Next()); err != nil {
				logger.Warn("failed to save item", "url", l.URL, "error", err)
				sink.ReportError(fmt.Sprintf("%s/%s item %s: %v", mainCategory, subcategory, l.URL, err))
			} else {
				scraped++
				sink.AddScraped(1)
			}

			if err := w.itemDelay(ctx); err != nil {
				return err
			}
		}

		if err := sleepCtx(ctx, w.cfg.PageDelay); err != nil {
			return err
		}
	}

	logger.Info("subcategory done", "items_scraped", scraped)
	return nil
}

// fetchWithRetry retries transient failures with a linear backoff, rotating
// to a fresh identity on every attempt. Structural and fatal failures are
// returned immediately.
func (w *Worker) fetchWithRetry(ctx context.Context, pageURL string) (string, error) {
	var lastErr error

	for attempt := 0; attempt <= w.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, time.Duration(attempt)*w.cfg.RetryDelay); err != nil {
				return "", err
			}
		}

		html, err := w.fetcher.Fetch(ctx, pageURL, w.rotator.Next())
		if err == nil {
			return html, nil
		}
		if kind := fetch.KindOf(err); kind != fetch.KindTransient {
			return "", err
		}

		w.logger.Debug("transient fetch failure", "url", pageURL, "attempt", attempt+1, "error", err)
		lastErr = err
	}

	return "", fmt.Errorf("retries exhausted: %w", lastErr)
}

func (w *Worker) searchURL(mainCategory, subcategory string, page int) string {
	q := url.Values{}
	q.Set("_nkw", fmt.Sprintf("%s %s jewelry", subcategory, mainCategory))
	q.Set("_pgn", fmt.Sprintf("%d", page))
	q.Set("_ipg", "60")
	return searchBaseURL + "?" + q.Encode()
}

// itemDelay pauses a random duration between item downloads so request
// pacing does not look mechanical.
func (w *Worker) itemDelay(ctx context.Context) error {
	min, max := w.cfg.ItemDelayMin, w.cfg.ItemDelayMax
	if max <= min {
		return sleepCtx(ctx, min)
	}
	return sleepCtx(ctx, min+time.Duration(w.rng.Int63n(int64(max-min))))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
