package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/autoanalyse/carscout/internal/models"
	"github.com/autoanalyse/carscout/internal/repository"
)

const listingColumns = `listing_id, make, model, COALESCE(title, ''), COALESCE(url, ''),
	price, mileage, COALESCE(fuel_type, ''), COALESCE(first_registration, ''),
	COALESCE(power, ''), COALESCE(transmission, ''), COALESCE(seller_type, ''),
	COALESCE(location, ''), scraped_date, is_active, created_at, updated_at`

// GetListings returns all listings for a make/model, active and inactive.
func (r *Repository) GetListings(ctx context.Context, mk, md string) ([]models.Listing, error) {
	const opn = "repository.sqlite.GetListings"

	query := fmt.Sprintf(`SELECT %s FROM listings
		WHERE make = ? AND model = ?
		ORDER BY scraped_date DESC, listing_id`, listingColumns)

	return r.queryListings(ctx, opn, query, mk, md)
}

// GetActiveListings returns only listings still believed live on the site.
func (r *Repository) GetActiveListings(ctx context.Context, mk, md string) ([]models.Listing, error) {
	const opn = "repository.sqlite.GetActiveListings"

	query := fmt.Sprintf(`SELECT %s FROM listings
		WHERE make = ? AND model = ? AND is_active = 1
		ORDER BY scraped_date DESC, listing_id`, listingColumns)

	return r.queryListings(ctx, opn, query, mk, md)
}

// GetListingByID returns one listing by its external identifier.
func (r *Repository) GetListingByID(ctx context.Context, listingID string) (*models.Listing, error) {
	const opn = "repository.sqlite.GetListingByID"

	query := fmt.Sprintf(`SELECT %s FROM listings WHERE listing_id = ?`, listingColumns)

	row := r.db.QueryRowContext(ctx, query, listingID)
	listing, err := scanListing(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrListingNotFound
		}
		return nil, fmt.Errorf("%s: %w", opn, err)
	}

	return &listing, nil
}

func (r *Repository) queryListings(ctx context.Context, opn, query string, args ...any) ([]models.Listing, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to query listings: %w", opn, err)
	}
	defer rows.Close()

	var listings []models.Listing
	for rows.Next() {
		listing, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to scan listing: %w", opn, err)
		}
		listings = append(listings, listing)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows iteration error: %w", opn, err)
	}

	return listings, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanListing(s scanner) (models.Listing, error) {
	var (
		listing models.Listing
		price   sql.NullFloat64
		mileage sql.NullInt64
	)

	err := s.Scan(
		&listing.ListingID, &listing.Make, &listing.Model, &listing.Title, &listing.URL,
		&price, &mileage, &listing.FuelType, &listing.FirstRegistration,
		&listing.Power, &listing.Transmission, &listing.SellerType,
		&listing.Location, &listing.ScrapedAt, &listing.IsActive,
		&listing.CreatedAt, &listing.UpdatedAt,
	)
	if err != nil {
		return models.Listing{}, err
	}

	if price.Valid {
		listing.Price = &price.Float64
	}
	if mileage.Valid {
		listing.Mileage = &mileage.Int64
	}

	return listing, nil
}

// nullFloat converts an optional price to its SQL representation.
func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

// nullInt converts an optional mileage to its SQL representation.
func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
