// Package stats derives read-only summary statistics from the store for
// the CLI report and the dashboard. All functions tolerate empty result
// sets and skip listings without numeric price or mileage, mirroring how
// the reconciler treats them at write time.
package stats

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/autoanalyse/carscout/internal/models"
	"github.com/autoanalyse/carscout/internal/repository"
)

// ChangeStats summarizes the recorded price history of one model.
type ChangeStats struct {
	Total     int     `json:"total"`
	Drops     int     `json:"drops"`
	Increases int     `json:"increases"`
	AvgChange float64 `json:"avg_change"`
}

// ModelStats is the aggregate view of one make/model's active inventory.
type ModelStats struct {
	Make         string         `json:"make"`
	Model        string         `json:"model"`
	Total        int            `json:"total_listings"`
	WithPrice    int            `json:"with_price"`
	AvgPrice     float64        `json:"avg_price"`
	MedianPrice  float64        `json:"median_price"`
	MinPrice     float64        `json:"min_price"`
	MaxPrice     float64        `json:"max_price"`
	AvgMileage   float64        `json:"avg_mileage"`
	FuelTypes    map[string]int `json:"fuel_types"`
	SellerTypes  map[string]int `json:"seller_types"`
	PriceChanges ChangeStats    `json:"price_changes"`
}

// Overview is the cross-model rollup derived from run metadata.
type Overview struct {
	Models        int                  `json:"models"`
	TotalListings int                  `json:"total_listings"`
	NewListings   int                  `json:"new_listings"`
	PriceChanges  int                  `json:"price_changes"`
	PerModel      []models.RunMetadata `json:"per_model"`
}

// Service computes statistics over the store. It never writes.
type Service struct {
	log   *slog.Logger
	store repository.Store
}

// NewService creates a new statistics service.
func NewService(log *slog.Logger, store repository.Store) *Service {
	return &Service{log: log, store: store}
}

// ModelStatistics aggregates the active inventory of one make/model.
func (s *Service) ModelStatistics(ctx context.Context, mk, md string) (*ModelStats, error) {
	const opn = "stats.ModelStatistics"

	listings, err := s.store.GetActiveListings(ctx, mk, md)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", opn, err)
	}

	result := &ModelStats{
		Make:        mk,
		Model:       md,
		Total:       len(listings),
		FuelTypes:   make(map[string]int),
		SellerTypes: make(map[string]int),
	}

	var (
		prices       []float64
		mileageSum   float64
		mileageCount int
	)
	for _, listing := range listings {
		if listing.HasPrice() {
			prices = append(prices, *listing.Price)
		}
		if listing.Mileage != nil {
			mileageSum += float64(*listing.Mileage)
			mileageCount++
		}
		if listing.FuelType != "" {
			result.FuelTypes[listing.FuelType]++
		}
		if listing.SellerType != "" {
			result.SellerTypes[listing.SellerType]++
		}
	}

	result.WithPrice = len(prices)
	if len(prices) > 0 {
		sort.Float64s(prices)
		result.MinPrice = prices[0]
		result.MaxPrice = prices[len(prices)-1]
		result.MedianPrice = median(prices)

		var sum float64
		for _, p := range prices {
			sum += p
		}
		result.AvgPrice = sum / float64(len(prices))
	}
	if mileageCount > 0 {
		result.AvgMileage = mileageSum / float64(mileageCount)
	}

	history, err := s.store.GetPriceHistoryForModel(ctx, mk, md, 0)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", opn, err)
	}
	result.PriceChanges = changeStats(history)

	return result, nil
}

// Overview aggregates last-run metadata across every tracked model.
func (s *Service) Overview(ctx context.Context) (*Overview, error) {
	const opn = "stats.Overview"

	metas, err := s.store.GetAllRunMetadata(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", opn, err)
	}

	overview := &Overview{Models: len(metas), PerModel: metas}
	for _, meta := range metas {
		overview.TotalListings += meta.TotalListings
		overview.NewListings += meta.NewListings
		overview.PriceChanges += meta.PriceChanges
	}

	return overview, nil
}

// TopCheapest returns the n cheapest active listings across all models.
// Listings without a numeric price are excluded.
func (s *Service) TopCheapest(ctx context.Context, n int) ([]models.Listing, error) {
	const opn = "stats.TopCheapest"

	pairs, err := s.store.GetVehicleModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", opn, err)
	}

	var priced []models.Listing
	for _, pair := range pairs {
		listings, err := s.store.GetActiveListings(ctx, pair[0], pair[1])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", opn, err)
		}
		for _, listing := range listings {
			if listing.HasPrice() && *listing.Price > 0 {
				priced = append(priced, listing)
			}
		}
	}

	sort.Slice(priced, func(i, j int) bool { return *priced[i].Price < *priced[j].Price })
	if n > 0 && len(priced) > n {
		priced = priced[:n]
	}

	return priced, nil
}

// RecentChanges returns the newest price-change events across all models.
func (s *Service) RecentChanges(ctx context.Context, n int) ([]models.PriceChange, error) {
	const opn = "stats.RecentChanges"

	changes, err := s.store.GetRecentPriceChanges(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", opn, err)
	}

	return changes, nil
}

// Summary renders a multi-model text report for the CLI and the notifier.
func (s *Service) Summary(ctx context.Context) (string, error) {
	const opn = "stats.Summary"

	overview, err := s.Overview(ctx)
	if err != nil {
		return "", fmt.Errorf("%s: %w", opn, err)
	}

	var b strings.Builder
	b.WriteString("Multi-model update summary\n")
	fmt.Fprintf(&b, "Tracked models: %d\n", overview.Models)
	fmt.Fprintf(&b, "Active listings: %d\n", overview.TotalListings)
	fmt.Fprintf(&b, "New listings this run: %d\n", overview.NewListings)
	fmt.Fprintf(&b, "Price changes this run: %d\n\n", overview.PriceChanges)

	for _, meta := range overview.PerModel {
		fmt.Fprintf(&b, "%s %s: %d listings (%d new, %d price changes), status %s, last run %s\n",
			meta.Make, meta.Model, meta.TotalListings, meta.NewListings,
			meta.PriceChanges, meta.Status, meta.LastScrapeAt.Format("2006-01-02 15:04"))
	}

	top, err := s.TopCheapest(ctx, 10)
	if err != nil {
		return "", fmt.Errorf("%s: %w", opn, err)
	}
	if len(top) > 0 {
		b.WriteString("\nTop cheapest listings:\n")
		for i, listing := range top {
			fmt.Fprintf(&b, "%2d. %8.0f - %s %s - %s\n",
				i+1, *listing.Price, listing.Make, listing.Model, listing.Title)
		}
	}

	return b.String(), nil
}

func changeStats(history []models.PriceChange) ChangeStats {
	cs := ChangeStats{Total: len(history)}

	var sum float64
	for _, change := range history {
		if change.PriceDifference < 0 {
			cs.Drops++
		} else {
			cs.Increases++
		}
		sum += change.PriceDifference
	}
	if cs.Total > 0 {
		cs.AvgChange = sum / float64(cs.Total)
	}

	return cs
}

func median(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
