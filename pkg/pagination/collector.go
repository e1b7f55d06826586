package pagination

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/gatefetch/pkg/logging"
)

// Config holds collector configuration
type Config struct {
	// MaxConcurrency is the maximum number of parallel page fetches.
	// 0 starts one worker per page.
	MaxConcurrency int

	// Timeout per page fetch. In-flight fetches are bounded by it, not by
	// the caller's context.
	Timeout time.Duration

	// MaxPages caps the page count a base page may announce. 0 means
	// DefaultMaxPages.
	MaxPages int
}

// DefaultMaxPages is the default upper bound on announced page counts.
const DefaultMaxPages = 1000

// DefaultConfig returns a polite default configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 10,
		Timeout:        30 * time.Second,
		MaxPages:       DefaultMaxPages,
	}
}

// PageFetcher fetches one page body. The gated client implements it.
type PageFetcher interface {
	FetchPage(ctx context.Context, url string) ([]byte, error)
}

// FetcherFunc adapts a function to PageFetcher.
type FetcherFunc func(ctx context.Context, url string) ([]byte, error)

// FetchPage calls f(ctx, url).
func (f FetcherFunc) FetchPage(ctx context.Context, url string) ([]byte, error) {
	return f(ctx, url)
}

// PageURLBuilder returns the URL of page (1-based) of the listing at baseURL.
type PageURLBuilder func(baseURL string, page int) string

// PageCountDiscovery returns the total page count announced by a base page.
// Values below 1 are treated as 1.
type PageCountDiscovery func(body []byte) int

// Extractor turns one page body into its ordered records.
type Extractor[R any] func(body []byte) ([]R, error)

// Plan describes how a listing is paginated and parsed.
type Plan[R any] struct {
	PageURL   PageURLBuilder
	PageCount PageCountDiscovery
	Extract   Extractor[R]
}

// PageRequest is one page to fetch.
type PageRequest struct {
	Index int
	URL   string
}

// PageResult is the outcome of one page. Err is ErrPageCancelled for pages
// that were not collected because of cancellation.
type PageResult[R any] struct {
	Index   int
	URL     string
	Records []R
	Err     error
}

// Collector collects paginated listings.
type Collector[R any] struct {
	fetcher PageFetcher
	plan    Plan[R]
	config  Config
	logger  zerolog.Logger
}

// NewCollector creates a collector. PageURL defaults to QueryPage("p") and
// PageCount to a single page.
func NewCollector[R any](fetcher PageFetcher, plan Plan[R], config Config) (*Collector[R], error) {
	if fetcher == nil {
		return nil, fmt.Errorf("page fetcher is required")
	}
	if plan.Extract == nil {
		return nil, fmt.Errorf("extractor is required")
	}
	if config.MaxConcurrency < 0 {
		return nil, fmt.Errorf("max_concurrency must be >= 0 (got %d)", config.MaxConcurrency)
	}
	if config.MaxPages < 0 {
		return nil, fmt.Errorf("max_pages must be >= 0 (got %d)", config.MaxPages)
	}
	if config.MaxPages == 0 {
		config.MaxPages = DefaultMaxPages
	}
	if plan.PageURL == nil {
		plan.PageURL = QueryPage("p")
	}
	if plan.PageCount == nil {
		plan.PageCount = func([]byte) int { return 1 }
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	return &Collector[R]{
		fetcher: fetcher,
		plan:    plan,
		config:  config,
		logger:  logging.NewLogger(logging.ComponentCollector),
	}, nil
}

// SetLogger replaces the collector's logger.
func (c *Collector[R]) SetLogger(logger zerolog.Logger) {
	c.logger = logger
}

// Collect fetches baseURL, every page it announces, and returns the records
// in page order.
func (c *Collector[R]) Collect(ctx context.Context, baseURL string) ([]R, error) {
	body, err := c.fetcher.FetchPage(ctx, baseURL)
	if err != nil {
		collectorCollectionsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("fetch base page: %w", err)
	}
	return c.CollectFrom(ctx, baseURL, body)
}

// CollectFrom is Collect for a caller that already holds the base body.
func (c *Collector[R]) CollectFrom(ctx context.Context, baseURL string, baseBody []byte) ([]R, error) {
	results, cancelled, err := c.collect(ctx, baseURL, baseBody)
	if err != nil {
		collectorCollectionsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	// A single page is the base page itself; its failure is not a gap.
	if len(results) == 1 && results[0].Err != nil {
		collectorCollectionsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("extract base page %s: %w", baseURL, results[0].Err)
	}
	return c.merge(baseURL, results, cancelled)
}

// CollectPages fetches baseURL and returns the per-page results aligned by
// index (results[i].Index == i+1). The error is only non-nil when the base
// page cannot be fetched or announces more than MaxPages pages.
func (c *Collector[R]) CollectPages(ctx context.Context, baseURL string) ([]PageResult[R], error) {
	body, err := c.fetcher.FetchPage(ctx, baseURL)
	if err != nil {
		return nil, fmt.Errorf("fetch base page: %w", err)
	}
	results, _, err := c.collect(ctx, baseURL, body)
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (c *Collector[R]) collect(ctx context.Context, baseURL string, baseBody []byte) ([]PageResult[R], bool, error) {
	start := time.Now()
	totalPages := c.plan.PageCount(baseBody)
	if totalPages < 1 {
		totalPages = 1
	}
	if totalPages > c.config.MaxPages {
		c.logger.Warn().
			Str("url", baseURL).
			Int("total_pages", totalPages).
			Int("max_pages", c.config.MaxPages).
			Msg("Announced page count exceeds limit")
		return nil, false, &PageLimitError{URL: baseURL, Pages: totalPages, Limit: c.config.MaxPages}
	}

	// Single page optimization
	if totalPages == 1 {
		records, err := c.plan.Extract(baseBody)
		result := PageResult[R]{Index: 1, URL: baseURL, Records: records, Err: err}
		c.countPage(result)
		c.logger.Debug().
			Str("url", baseURL).
			Int("records", len(records)).
			Dur("duration", time.Since(start)).
			Msg("Collected single page")
		return []PageResult[R]{result}, false, nil
	}

	c.logger.Info().
		Str("url", baseURL).
		Int("total_pages", totalPages).
		Msg("Starting parallel page fetch")

	results := make([]PageResult[R], totalPages)
	for i := range results {
		results[i] = PageResult[R]{Index: i + 1, URL: c.plan.PageURL(baseURL, i+1), Err: ErrPageCancelled}
	}

	workers := c.config.MaxConcurrency
	if workers <= 0 || workers > totalPages {
		workers = totalPages
	}

	pageQueue := make(chan PageRequest)
	// After cancellation each worker sends at most its in-flight page, so a
	// buffer per worker keeps them from blocking once we stop waiting.
	pageResults := make(chan PageResult[R], workers)

	go func() {
		defer close(pageQueue)
		for _, r := range results {
			select {
			case pageQueue <- PageRequest{Index: r.Index, URL: r.URL}:
			case <-ctx.Done():
				return
			}
		}
	}()

	for i := 0; i < workers; i++ {
		go c.worker(ctx, pageQueue, pageResults, i)
	}

	cancelled := false
	received := 0
wait:
	for received < totalPages {
		select {
		case r := <-pageResults:
			results[r.Index-1] = r
			received++
		case <-ctx.Done():
			cancelled = true
			break wait
		}
	}
	if cancelled {
		// keep whatever already arrived
		for drained := false; !drained; {
			select {
			case r := <-pageResults:
				results[r.Index-1] = r
				received++
			default:
				drained = true
			}
		}
		c.logger.Warn().
			Str("url", baseURL).
			Int("received", received).
			Int("total_pages", totalPages).
			Msg("Collection cancelled")
	}

	for _, r := range results {
		c.countPage(r)
	}

	c.logger.Info().
		Str("url", baseURL).
		Int("pages", received).
		Int("total", totalPages).
		Dur("duration", time.Since(start)).
		Msg("Fetch complete")

	return results, cancelled, nil
}

// worker processes pages from the queue
func (c *Collector[R]) worker(ctx context.Context, pageQueue <-chan PageRequest, results chan<- PageResult[R], workerID int) {
	pagesProcessed := 0
	for req := range pageQueue {
		if ctx.Err() != nil {
			continue
		}

		// In-flight fetches outlive the caller's cancellation.
		pageCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.config.Timeout)
		body, err := c.fetcher.FetchPage(pageCtx, req.URL)
		cancel()

		result := PageResult[R]{Index: req.Index, URL: req.URL}
		if err != nil {
			result.Err = err
			c.logger.Warn().
				Err(err).
				Int("worker_id", workerID).
				Int("page", req.Index).
				Msg("Page fetch failed")
		} else {
			result.Records, result.Err = c.plan.Extract(body)
			if result.Err != nil {
				c.logger.Warn().Err(result.Err).Int("page", req.Index).Msg("Page extraction failed")
			}
		}
		results <- result
		pagesProcessed++
	}

	if pagesProcessed > 0 {
		c.logger.Debug().
			Int("worker_id", workerID).
			Int("pages_processed", pagesProcessed).
			Msg("Worker completed")
	}
}

func (c *Collector[R]) merge(baseURL string, results []PageResult[R], cancelled bool) ([]R, error) {
	var records []R
	var missing []int
	errs := make(map[int]error)
	for _, r := range results {
		if r.Err != nil {
			missing = append(missing, r.Index)
			errs[r.Index] = r.Err
			continue
		}
		records = append(records, r.Records...)
	}

	if len(missing) > 0 {
		collectorCollectionsTotal.WithLabelValues("partial").Inc()
		return records, &PartialCollectionError[R]{
			Records:   records,
			Missing:   missing,
			Total:     len(results),
			Cancelled: cancelled,
			Errs:      errs,
		}
	}
	if len(records) == 0 {
		collectorCollectionsTotal.WithLabelValues("empty").Inc()
		return nil, &NoPagesFoundError{URL: baseURL, Pages: len(results)}
	}

	collectorCollectionsTotal.WithLabelValues("complete").Inc()
	return records, nil
}

func (c *Collector[R]) countPage(r PageResult[R]) {
	switch {
	case r.Err == nil:
		collectorPagesTotal.WithLabelValues("ok").Inc()
	case errors.Is(r.Err, ErrPageCancelled):
		collectorPagesTotal.WithLabelValues("cancelled").Inc()
	default:
		collectorPagesTotal.WithLabelValues("failed").Inc()
	}
}
