// Package scraper is the listing batch producer: it fetches AutoScout24
// Luxembourg result pages for one make/model and assembles them into a
// single batch for the reconciler. Pagination is auto-detected; the batch
// carries a completeness flag so an aborted run is never mistaken for an
// empty market.
package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/autoanalyse/carscout/internal/models"
)

const (
	baseHost = "https://www.autoscout24.lu"

	// pageCap bounds auto-detected pagination.
	pageCap = 50
	// listingsPerPage is the site's result page size, used to estimate
	// the page count from a result total.
	listingsPerPage = 20

	slowResponse = 2 * time.Second
	maxDelay     = 10 * time.Second
)

type Scraper struct {
	log       *slog.Logger
	client    *http.Client
	userAgent string
	maxPages  int
	delay     time.Duration
	adaptive  bool
}

// NewScraper creates a producer. maxPages 0 means auto-detect, delay is the
// base pause between page requests, adaptive scales the pause with server
// response time.
func NewScraper(log *slog.Logger, userAgent string, maxPages int, delay time.Duration, adaptive bool) *Scraper {
	return &Scraper{
		log:       log,
		client:    &http.Client{Timeout: 30 * time.Second},
		userAgent: userAgent,
		maxPages:  maxPages,
		delay:     delay,
		adaptive:  adaptive,
	}
}

// ScrapeBatch collects the full current inventory for one make/model.
//
// A fetch or parse failure on the first page fails the run. A failure on a
// later page returns the listings collected so far with the batch marked
// suspect, so the reconciler will not deactivate the tail of the inventory
// on partial data.
func (s *Scraper) ScrapeBatch(ctx context.Context, mk, md string) (models.Batch, error) {
	const opn = "scraper.ScrapeBatch"
	log := s.log.With("op", opn, "make", mk, "model", md)

	batch := models.Batch{
		Make:         mk,
		Model:        md,
		Completeness: models.BatchConfirmed,
		ScrapedAt:    time.Now(),
	}

	doc, elapsed, err := s.fetchPage(ctx, mk, md, 1)
	if err != nil {
		return batch, fmt.Errorf("%s: failed to fetch first page: %w", opn, err)
	}

	totalPages := detectTotalPages(doc)
	if s.maxPages > 0 && totalPages > s.maxPages {
		totalPages = s.maxPages
	}
	log.InfoContext(ctx, "pagination detected", "pages", totalPages)

	seen := make(map[string]struct{})
	delay := s.delay

	for page := 1; ; page++ {
		if page > 1 {
			select {
			case <-ctx.Done():
				batch.Completeness = models.BatchSuspect
				return batch, ctx.Err()
			case <-time.After(delay):
			}

			doc, elapsed, err = s.fetchPage(ctx, mk, md, page)
			if err != nil {
				log.WarnContext(ctx, "page fetch failed, keeping partial batch",
					"page", page, "error", err)
				batch.Completeness = models.BatchSuspect
				break
			}
		}
		batch.PagesScraped = page

		listings := s.extractListings(ctx, doc, mk, md, batch.ScrapedAt)
		if len(listings) == 0 {
			// A page without listings is the natural end of pagination.
			log.InfoContext(ctx, "empty page reached, stopping", "page", page)
			break
		}

		added := 0
		for _, listing := range listings {
			if _, dup := seen[listing.ListingID]; dup {
				continue
			}
			seen[listing.ListingID] = struct{}{}
			batch.Listings = append(batch.Listings, listing)
			added++
		}
		log.DebugContext(ctx, "page scraped", "page", page, "listings", added)

		if page >= totalPages {
			break
		}

		delay = s.nextDelay(delay, elapsed)
	}

	log.InfoContext(ctx, "batch assembled",
		"listings", len(batch.Listings), "pages", batch.PagesScraped,
		"completeness", batch.Completeness.String())

	return batch, nil
}

func (s *Scraper) fetchPage(ctx context.Context, mk, md string, page int) (*goquery.Document, time.Duration, error) {
	reqURL := listURL(mk, md, page)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request %s: %w", reqURL, err)
	}
	req.Header.Add("User-Agent", s.userAgent)
	req.Header.Add("Accept-Language", "fr-LU,fr;q=0.9,en;q=0.5")

	start := time.Now()
	res, err := s.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to request %s: %w", reqURL, err)
	}
	defer res.Body.Close()
	elapsed := time.Since(start)

	if res.StatusCode != http.StatusOK {
		return nil, elapsed, fmt.Errorf("status code error: [%d] %s", res.StatusCode, res.Status)
	}

	doc, err := goquery.NewDocumentFromReader(res.Body)
	if err != nil {
		return nil, elapsed, fmt.Errorf("data cannot be parsed as HTML: %w", err)
	}

	return doc, elapsed, nil
}

// nextDelay adapts the inter-page pause to the server's response time.
func (s *Scraper) nextDelay(current, elapsed time.Duration) time.Duration {
	if !s.adaptive {
		return current
	}

	if elapsed > slowResponse {
		current = current * 3 / 2
		if current > maxDelay {
			current = maxDelay
		}
	} else if current > s.delay {
		current = current * 3 / 4
		if current < s.delay {
			current = s.delay
		}
	}

	return current
}

func listURL(mk, md string, page int) string {
	query := url.Values{}
	query.Set("sort", "standard")
	query.Set("desc", "0")
	query.Set("ustate", "N,U")
	query.Set("atype", "C")
	if page > 1 {
		query.Set("page", fmt.Sprint(page))
	}

	return fmt.Sprintf("%s/lst/%s/%s?%s", baseHost, url.PathEscape(mk), url.PathEscape(md), query.Encode())
}
