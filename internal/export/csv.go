// Package export writes flat CSV snapshots of the stored data for the
// dashboard and external analysis tools. Column order is fixed; changing
// it breaks downstream consumers.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/autoanalyse/carscout/internal/models"
	"github.com/autoanalyse/carscout/internal/repository"
)

var listingHeader = []string{
	"listing_id", "make", "model", "title", "url", "price", "mileage",
	"fuel_type", "first_registration", "power", "transmission",
	"seller_type", "location", "scraped_date", "is_active",
}

var historyHeader = []string{
	"listing_id", "make", "model", "title", "price_old", "price_new",
	"price_difference", "price_change_percent", "change_type",
	"change_date", "last_seen",
}

// Exporter dumps store contents to CSV files under a data directory.
type Exporter struct {
	log   *slog.Logger
	store repository.Store
	dir   string
}

// NewExporter creates an exporter writing into dir, creating it if needed.
func NewExporter(log *slog.Logger, store repository.Store, dir string) (*Exporter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("export: failed to create output dir: %w", err)
	}
	return &Exporter{log: log, store: store, dir: dir}, nil
}

// WriteListings writes the current listing snapshot for one make/model and
// returns the file path. Only active rows are included unless
// includeInactive is set.
func (e *Exporter) WriteListings(ctx context.Context, mk, md string, includeInactive bool) (string, error) {
	const opn = "export.WriteListings"

	var (
		listings []models.Listing
		err      error
	)
	if includeInactive {
		listings, err = e.store.GetListings(ctx, mk, md)
	} else {
		listings, err = e.store.GetActiveListings(ctx, mk, md)
	}
	if err != nil {
		return "", fmt.Errorf("%s: %w", opn, err)
	}

	path := filepath.Join(e.dir, fmt.Sprintf("%s_%s_listings.csv", mk, md))
	rows := make([][]string, 0, len(listings))
	for _, listing := range listings {
		rows = append(rows, listingRow(listing))
	}

	if err = writeCSV(path, listingHeader, rows); err != nil {
		return "", fmt.Errorf("%s: %w", opn, err)
	}
	e.log.InfoContext(ctx, "listings exported", "path", path, "rows", len(rows))

	return path, nil
}

// WritePriceHistory writes the full price-change history for one
// make/model and returns the file path.
func (e *Exporter) WritePriceHistory(ctx context.Context, mk, md string) (string, error) {
	const opn = "export.WritePriceHistory"

	history, err := e.store.GetPriceHistoryForModel(ctx, mk, md, 0)
	if err != nil {
		return "", fmt.Errorf("%s: %w", opn, err)
	}

	path := filepath.Join(e.dir, fmt.Sprintf("%s_%s_price_history.csv", mk, md))
	rows := make([][]string, 0, len(history))
	for _, change := range history {
		rows = append(rows, historyRow(change))
	}

	if err = writeCSV(path, historyHeader, rows); err != nil {
		return "", fmt.Errorf("%s: %w", opn, err)
	}
	e.log.InfoContext(ctx, "price history exported", "path", path, "rows", len(rows))

	return path, nil
}

func writeCSV(path string, header []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file %q: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err = w.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, row := range rows {
		if err = w.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}

	w.Flush()
	return w.Error()
}

func listingRow(l models.Listing) []string {
	active := "0"
	if l.IsActive {
		active = "1"
	}
	return []string{
		l.ListingID, l.Make, l.Model, l.Title, l.URL,
		formatFloat(l.Price), formatInt(l.Mileage),
		l.FuelType, l.FirstRegistration, l.Power, l.Transmission,
		l.SellerType, l.Location, l.ScrapedAt.UTC().Format(time.RFC3339), active,
	}
}

func historyRow(c models.PriceChange) []string {
	return []string{
		c.ListingID, c.Make, c.Model, c.Title,
		strconv.FormatFloat(c.PriceOld, 'f', -1, 64),
		strconv.FormatFloat(c.PriceNew, 'f', -1, 64),
		strconv.FormatFloat(c.PriceDifference, 'f', -1, 64),
		strconv.FormatFloat(c.PriceChangePercent, 'f', 2, 64),
		string(c.ChangeType),
		c.ChangedAt.UTC().Format(time.RFC3339),
		c.LastSeen.UTC().Format(time.RFC3339),
	}
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func formatInt(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}
