package export_test

import (
	"encoding/csv"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autoanalyse/carscout/internal/export"
	"github.com/autoanalyse/carscout/internal/models"
	"github.com/autoanalyse/carscout/internal/repository"
	"github.com/autoanalyse/carscout/internal/repository/sqlite"
)

func ptrFloat(v float64) *float64 { return &v }
func ptrInt(v int64) *int64       { return &v }

func newTestExporter(t *testing.T) (*export.Exporter, *sqlite.Repository, string) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tempDir := t.TempDir()

	repo, err := sqlite.NewRepository(t.Context(), logger, filepath.Join(tempDir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	outDir := filepath.Join(tempDir, "out")
	exp, err := export.NewExporter(logger, repo, outDir)
	require.NoError(t, err)

	return exp, repo, outDir
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return records
}

func seed(t *testing.T, repo *sqlite.Repository) {
	t.Helper()

	scrapedAt := time.Date(2025, 7, 1, 8, 0, 0, 0, time.UTC)
	listings := []models.Listing{
		{
			ListingID: "L1", Make: "bmw", Model: "serie-3",
			Title: "BMW 320d", URL: "https://www.autoscout24.lu/offres/L1",
			Price: ptrFloat(23500), Mileage: ptrInt(120000),
			FuelType: "Diesel", FirstRegistration: "03-2019",
			Power: "140 kW (190 PS)", Transmission: "Automatic",
			SellerType: "Dealer", Location: "Luxembourg",
			ScrapedAt: scrapedAt,
		},
		{
			ListingID: "L2", Make: "bmw", Model: "serie-3",
			Title: "BMW 318i", URL: "https://www.autoscout24.lu/offres/L2",
			ScrapedAt: scrapedAt,
		},
	}

	require.NoError(t, repo.ApplyRun(t.Context(), repository.RunChangeSet{
		Make: "bmw", Model: "serie-3",
		Upserts: listings,
		Events: []models.PriceChange{{
			ListingID: "L1", Make: "bmw", Model: "serie-3", Title: "BMW 320d",
			PriceOld: 25000, PriceNew: 23500, PriceDifference: -1500,
			PriceChangePercent: -6, ChangeType: models.PriceDecreased,
			ChangedAt: scrapedAt, LastSeen: scrapedAt.Add(-24 * time.Hour),
		}},
		ActiveIDs: []string{"L1", "L2"},
		Metadata: models.RunMetadata{
			Make: "bmw", Model: "serie-3", LastScrapeAt: scrapedAt,
			TotalListings: 2, NewListings: 2, PriceChanges: 1,
			Status: models.StatusOK,
		},
	}))

	// Second run drops L2 so an inactive row exists.
	require.NoError(t, repo.ApplyRun(t.Context(), repository.RunChangeSet{
		Make: "bmw", Model: "serie-3",
		Upserts:   []models.Listing{listings[0]},
		ActiveIDs: []string{"L1"},
		Metadata: models.RunMetadata{
			Make: "bmw", Model: "serie-3", LastScrapeAt: scrapedAt.Add(24 * time.Hour),
			TotalListings: 1, Status: models.StatusOK,
		},
	}))
}

func TestWriteListings(t *testing.T) {
	exp, repo, outDir := newTestExporter(t)
	seed(t, repo)

	path, err := exp.WriteListings(t.Context(), "bmw", "serie-3", false)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(outDir, "bmw_serie-3_listings.csv"), path)

	records := readCSV(t, path)
	require.Len(t, records, 2, "header plus the single active row")

	assert.Equal(t, []string{
		"listing_id", "make", "model", "title", "url", "price", "mileage",
		"fuel_type", "first_registration", "power", "transmission",
		"seller_type", "location", "scraped_date", "is_active",
	}, records[0])

	row := records[1]
	assert.Equal(t, "L1", row[0])
	assert.Equal(t, "BMW 320d", row[3])
	assert.Equal(t, "23500", row[5])
	assert.Equal(t, "120000", row[6])
	assert.Equal(t, "Diesel", row[7])
	assert.Equal(t, "2025-07-01T08:00:00Z", row[13])
	assert.Equal(t, "1", row[14])
}

func TestWriteListings_IncludeInactive(t *testing.T) {
	exp, repo, _ := newTestExporter(t)
	seed(t, repo)

	path, err := exp.WriteListings(t.Context(), "bmw", "serie-3", true)
	require.NoError(t, err)

	records := readCSV(t, path)
	require.Len(t, records, 3)

	byID := map[string]string{}
	for _, row := range records[1:] {
		byID[row[0]] = row[14]
	}
	assert.Equal(t, "1", byID["L1"])
	assert.Equal(t, "0", byID["L2"])
}

func TestWriteListings_MissingValuesAreEmpty(t *testing.T) {
	exp, repo, _ := newTestExporter(t)
	seed(t, repo)

	path, err := exp.WriteListings(t.Context(), "bmw", "serie-3", true)
	require.NoError(t, err)

	for _, row := range readCSV(t, path)[1:] {
		if row[0] != "L2" {
			continue
		}
		assert.Empty(t, row[5], "missing price stays empty, not zero")
		assert.Empty(t, row[6], "missing mileage stays empty")
		return
	}
	t.Fatal("L2 not found in export")
}

func TestWritePriceHistory(t *testing.T) {
	exp, repo, outDir := newTestExporter(t)
	seed(t, repo)

	path, err := exp.WritePriceHistory(t.Context(), "bmw", "serie-3")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(outDir, "bmw_serie-3_price_history.csv"), path)

	records := readCSV(t, path)
	require.Len(t, records, 2)

	assert.Equal(t, []string{
		"listing_id", "make", "model", "title", "price_old", "price_new",
		"price_difference", "price_change_percent", "change_type",
		"change_date", "last_seen",
	}, records[0])

	row := records[1]
	assert.Equal(t, "L1", row[0])
	assert.Equal(t, "25000", row[4])
	assert.Equal(t, "23500", row[5])
	assert.Equal(t, "-1500", row[6])
	assert.Equal(t, "-6.00", row[7])
	assert.Equal(t, "PRICE_DECREASED", row[8])
	assert.Equal(t, "2025-07-01T08:00:00Z", row[9])
	assert.Equal(t, "2025-06-30T08:00:00Z", row[10])
}

func TestWritePriceHistory_EmptyModel(t *testing.T) {
	exp, _, _ := newTestExporter(t)

	path, err := exp.WritePriceHistory(t.Context(), "audi", "a4")
	require.NoError(t, err)

	records := readCSV(t, path)
	require.Len(t, records, 1, "header only")
}
