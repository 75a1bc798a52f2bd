package scraper

import (
	"context"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/autoanalyse/carscout/internal/models"
)

var (
	pageParamRe  = regexp.MustCompile(`[?&]page=(\d+)`)
	pageOfRe     = regexp.MustCompile(`(?i)(?:Seite|Page)\s+\d+\s+(?:von|of|sur)\s+(\d+)`)
	resultsRe    = regexp.MustCompile(`(?i)(\d+)\s+(?:Treffer|results|résultats)`)
	powerRe      = regexp.MustCompile(`(\d+)\s*kW\s*\((\d+)\s*(?:CH|PS|HP)\)`)
	titleClassRe = regexp.MustCompile(`(?i)title`)
)

// extractListings pulls all listing records out of one result page.
// Articles without a data-guid are skipped: without a stable identity the
// record cannot be reconciled.
func (s *Scraper) extractListings(ctx context.Context, doc *goquery.Document, mk, md string, scrapedAt time.Time) []models.Listing {
	var listings []models.Listing

	doc.Find("article[data-guid]").Each(func(idx int, article *goquery.Selection) {
		guid := strings.TrimSpace(article.AttrOr("data-guid", ""))
		if guid == "" {
			s.log.WarnContext(ctx, "article without data-guid skipped", "index", idx)
			return
		}

		listing := models.Listing{
			ListingID:         guid,
			Make:              mk,
			Model:             md,
			Price:             parsePrice(article.AttrOr("data-price", "")),
			Mileage:           parseMileage(article.AttrOr("data-mileage", "")),
			FuelType:          fuelType(article.AttrOr("data-fuel-type", "")),
			FirstRegistration: strings.TrimSpace(article.AttrOr("data-first-registration", "")),
			SellerType:        sellerType(article.AttrOr("data-seller-type", "")),
			ScrapedAt:         scrapedAt,
			IsActive:          true,
		}

		article.Find("a").EachWithBreak(func(_ int, link *goquery.Selection) bool {
			class, _ := link.Attr("class")
			if !titleClassRe.MatchString(class) {
				return true
			}
			listing.Title = strings.TrimSpace(link.Text())
			if href, ok := link.Attr("href"); ok {
				listing.URL = absoluteURL(href)
			}
			return false
		})

		if power := article.Find(`span[data-testid="VehicleDetails-speedometer"]`).First(); power.Length() > 0 {
			if m := powerRe.FindStringSubmatch(strings.TrimSpace(power.Text())); m != nil {
				listing.Power = m[1] + " kW (" + m[2] + " PS)"
			}
		}

		if trans := article.Find(`span[data-testid="VehicleDetails-transmission"]`).First(); trans.Length() > 0 {
			listing.Transmission = transmission(strings.TrimSpace(trans.Text()))
		}

		article.Find("span").EachWithBreak(func(_ int, span *goquery.Selection) bool {
			class, _ := span.Attr("class")
			if !strings.Contains(class, "SellerInfo") {
				return true
			}
			listing.Location = strings.TrimSpace(span.Text())
			return false
		})

		listings = append(listings, listing)
	})

	return listings
}

// detectTotalPages figures out how many result pages exist: pagination
// links first, then a "Page X of Y" label, then an estimate from the
// result count. Defaults to a single page.
func detectTotalPages(doc *goquery.Document) int {
	maxPage := 0
	doc.Find("nav a, div a").Each(func(_ int, link *goquery.Selection) {
		href, ok := link.Attr("href")
		if !ok {
			return
		}
		if m := pageParamRe.FindStringSubmatch(href); m != nil {
			if page, err := strconv.Atoi(m[1]); err == nil && page > maxPage {
				maxPage = page
			}
		}
	})
	if maxPage > 0 {
		if maxPage > pageCap {
			return pageCap
		}
		return maxPage
	}

	text := doc.Text()
	if m := pageOfRe.FindStringSubmatch(text); m != nil {
		if pages, err := strconv.Atoi(m[1]); err == nil && pages > 0 {
			if pages > pageCap {
				return pageCap
			}
			return pages
		}
	}

	if m := resultsRe.FindStringSubmatch(text); m != nil {
		if total, err := strconv.Atoi(m[1]); err == nil && total > 0 {
			pages := (total + listingsPerPage - 1) / listingsPerPage
			if pages > pageCap {
				return pageCap
			}
			return pages
		}
	}

	return 1
}

func parsePrice(raw string) *float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	price, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	return &price
}

func parseMileage(raw string) *int64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	mileage, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil
	}
	return &mileage
}

// fuelType maps the site's single-letter fuel codes to readable names.
func fuelType(code string) string {
	switch code {
	case "d":
		return "Diesel"
	case "b":
		return "Petrol"
	case "e":
		return "Electric"
	case "h":
		return "Hybrid"
	case "l":
		return "LPG"
	case "c":
		return "CNG"
	default:
		return code
	}
}

func sellerType(code string) string {
	switch code {
	case "p":
		return "Private"
	case "d":
		return "Dealer"
	default:
		return code
	}
}

// transmission normalizes the site's French transmission labels.
func transmission(text string) string {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "automatique"):
		return "Automatic"
	case strings.Contains(lower, "manuelle"):
		return "Manual"
	default:
		return text
	}
}

func absoluteURL(href string) string {
	parsed, err := url.Parse(href)
	if err != nil {
		return href
	}
	if parsed.IsAbs() {
		return parsed.String()
	}
	base, _ := url.Parse(baseHost)
	return base.ResolveReference(parsed).String()
}
