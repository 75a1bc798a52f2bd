package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/autoanalyse/carscout/internal/models"
	"github.com/autoanalyse/carscout/internal/repository"
)

const metadataColumns = `make, model, last_scrape_date, total_listings,
	new_listings, price_changes, status, COALESCE(error_message, ''),
	COALESCE(scraper_version, '')`

// GetRunMetadata returns the latest run summary for one make/model.
func (r *Repository) GetRunMetadata(ctx context.Context, mk, md string) (*models.RunMetadata, error) {
	const opn = "repository.sqlite.GetRunMetadata"

	query := fmt.Sprintf(`SELECT %s FROM run_metadata WHERE make = ? AND model = ?`, metadataColumns)

	var meta models.RunMetadata
	err := r.db.QueryRowContext(ctx, query, mk, md).Scan(
		&meta.Make, &meta.Model, &meta.LastScrapeAt, &meta.TotalListings,
		&meta.NewListings, &meta.PriceChanges, &meta.Status,
		&meta.ErrorMessage, &meta.ScraperVersion,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrListingNotFound
		}
		return nil, fmt.Errorf("%s: %w", opn, err)
	}

	return &meta, nil
}

// GetAllRunMetadata returns run summaries for every tracked make/model,
// most recently scraped first.
func (r *Repository) GetAllRunMetadata(ctx context.Context) ([]models.RunMetadata, error) {
	const opn = "repository.sqlite.GetAllRunMetadata"

	query := fmt.Sprintf(`SELECT %s FROM run_metadata
		ORDER BY last_scrape_date DESC, make, model`, metadataColumns)

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to query run metadata: %w", opn, err)
	}
	defer rows.Close()

	var metas []models.RunMetadata
	for rows.Next() {
		var meta models.RunMetadata
		err = rows.Scan(
			&meta.Make, &meta.Model, &meta.LastScrapeAt, &meta.TotalListings,
			&meta.NewListings, &meta.PriceChanges, &meta.Status,
			&meta.ErrorMessage, &meta.ScraperVersion,
		)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to scan run metadata: %w", opn, err)
		}
		metas = append(metas, meta)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows iteration error: %w", opn, err)
	}

	return metas, nil
}

// GetVehicleModels returns the distinct make/model pairs present in storage.
func (r *Repository) GetVehicleModels(ctx context.Context) ([][2]string, error) {
	const opn = "repository.sqlite.GetVehicleModels"

	rows, err := r.db.QueryContext(ctx,
		"SELECT DISTINCT make, model FROM listings ORDER BY make, model")
	if err != nil {
		return nil, fmt.Errorf("%s: failed to query vehicle models: %w", opn, err)
	}
	defer rows.Close()

	var pairs [][2]string
	for rows.Next() {
		var mk, md string
		if err = rows.Scan(&mk, &md); err != nil {
			return nil, fmt.Errorf("%s: failed to scan vehicle model: %w", opn, err)
		}
		pairs = append(pairs, [2]string{mk, md})
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows iteration error: %w", opn, err)
	}

	return pairs, nil
}
