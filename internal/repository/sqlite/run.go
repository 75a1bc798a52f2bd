package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/autoanalyse/carscout/internal/repository"
)

const upsertListingQuery = `
	INSERT INTO listings (
		listing_id, make, model, title, url, price, mileage, fuel_type,
		first_registration, power, transmission, seller_type, location,
		scraped_date, is_active
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
	ON CONFLICT(listing_id, make, model) DO UPDATE SET
		title = excluded.title,
		url = excluded.url,
		price = excluded.price,
		mileage = excluded.mileage,
		fuel_type = excluded.fuel_type,
		first_registration = excluded.first_registration,
		power = excluded.power,
		transmission = excluded.transmission,
		seller_type = excluded.seller_type,
		location = excluded.location,
		scraped_date = excluded.scraped_date,
		is_active = 1,
		updated_at = CURRENT_TIMESTAMP`

const insertPriceChangeQuery = `
	INSERT INTO price_history (
		listing_id, make, model, title, price_old, price_new,
		price_difference, price_change_percent, change_type,
		change_date, last_seen
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const upsertMetadataQuery = `
	INSERT INTO run_metadata (
		make, model, last_scrape_date, total_listings, new_listings,
		price_changes, status, error_message, scraper_version
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(make, model) DO UPDATE SET
		last_scrape_date = excluded.last_scrape_date,
		total_listings = excluded.total_listings,
		new_listings = excluded.new_listings,
		price_changes = excluded.price_changes,
		status = excluded.status,
		error_message = excluded.error_message,
		scraper_version = excluded.scraper_version`

// ApplyRun applies one reconciliation run as a single transaction: listing
// upserts, appended price-change events, deactivation of listings absent
// from the batch and the metadata overwrite. Readers either see the store
// as it was before the run or the fully committed result, never anything
// in between.
func (r *Repository) ApplyRun(ctx context.Context, set repository.RunChangeSet) error {
	const opn = "repository.sqlite.ApplyRun"

	tx, err := r.db.BeginTx(ctx, nil) //nolint:varnamelen // tx its a default naming for transaction
	if err != nil {
		return fmt.Errorf("%s: failed to begin transaction: %w", opn, err)
	}
	defer tx.Rollback() //nolint:errcheck // after a successful commit the rollback only returns sql.ErrTxDone

	// 1. Upsert every listing observed in the batch.
	upsertStmt, err := tx.PrepareContext(ctx, upsertListingQuery)
	if err != nil {
		return fmt.Errorf("%s: failed to prepare upsert statement: %w", opn, err)
	}
	defer upsertStmt.Close()

	for _, listing := range set.Upserts {
		_, err = upsertStmt.ExecContext(ctx,
			listing.ListingID, listing.Make, listing.Model, listing.Title,
			listing.URL, nullFloat(listing.Price), nullInt(listing.Mileage),
			listing.FuelType, listing.FirstRegistration, listing.Power,
			listing.Transmission, listing.SellerType, listing.Location,
			listing.ScrapedAt.UTC(),
		)
		if err != nil {
			return wrapErr(fmt.Sprintf("%s: listing %s %s %s", opn,
				listing.ListingID, listing.Make, listing.Model), err)
		}
	}

	// 2. Append price-change events; existing history rows are never touched.
	eventStmt, err := tx.PrepareContext(ctx, insertPriceChangeQuery)
	if err != nil {
		return fmt.Errorf("%s: failed to prepare event statement: %w", opn, err)
	}
	defer eventStmt.Close()

	for _, change := range set.Events {
		_, err = eventStmt.ExecContext(ctx,
			change.ListingID, change.Make, change.Model, change.Title,
			change.PriceOld, change.PriceNew, change.PriceDifference,
			change.PriceChangePercent, string(change.ChangeType),
			change.ChangedAt.UTC(), change.LastSeen.UTC(),
		)
		if err != nil {
			return wrapErr(fmt.Sprintf("%s: event for listing %s", opn, change.ListingID), err)
		}
	}

	// 3. Flip listings missing from the batch to inactive. Their rows and
	// price history are retained.
	if !set.SkipDeactivation {
		if err = deactivateMissing(ctx, tx, set.Make, set.Model, set.ActiveIDs); err != nil {
			return fmt.Errorf("%s: %w", opn, err)
		}
	}

	// 4. Overwrite the per-model run metadata.
	meta := set.Metadata
	_, err = tx.ExecContext(ctx, upsertMetadataQuery,
		meta.Make, meta.Model, meta.LastScrapeAt.UTC(), meta.TotalListings,
		meta.NewListings, meta.PriceChanges, string(meta.Status),
		meta.ErrorMessage, meta.ScraperVersion,
	)
	if err != nil {
		return wrapErr(fmt.Sprintf("%s: metadata for %s %s", opn, meta.Make, meta.Model), err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("%s: failed to commit transaction: %w", opn, err)
	}

	return nil
}

// deactivateMissing flips is_active off for every listing of the
// make/model whose id was not observed in the current batch. An empty id
// list deactivates the whole model, matching the confirmed-empty policy.
func deactivateMissing(ctx context.Context, tx *sql.Tx, mk, md string, activeIDs []string) error {
	if len(activeIDs) == 0 {
		_, err := tx.ExecContext(ctx, `
			UPDATE listings SET is_active = 0, updated_at = CURRENT_TIMESTAMP
			WHERE make = ? AND model = ? AND is_active = 1`, mk, md)
		if err != nil {
			return fmt.Errorf("failed to deactivate all listings: %w", err)
		}
		return nil
	}

	placeholders := strings.Repeat(",?", len(activeIDs))[1:]
	args := make([]any, 0, len(activeIDs)+2)
	args = append(args, mk, md)
	for _, id := range activeIDs {
		args = append(args, id)
	}

	query := fmt.Sprintf(`
		UPDATE listings SET is_active = 0, updated_at = CURRENT_TIMESTAMP
		WHERE make = ? AND model = ? AND is_active = 1
		  AND listing_id NOT IN (%s)`, placeholders)

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to deactivate missing listings: %w", err)
	}

	return nil
}
