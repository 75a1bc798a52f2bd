// Package repository defines the storage contract for the listing tracker.
// Business logic depends on the Store interface, never on a concrete
// implementation.
package repository

import (
	"context"
	"errors"

	"github.com/autoanalyse/carscout/internal/models"
)

var (
	// ErrListingNotFound is returned by point lookups when no row matches.
	ErrListingNotFound = errors.New("listing not found")
	// ErrConstraintViolated wraps storage-level uniqueness or schema
	// constraint failures.
	ErrConstraintViolated = errors.New("storage constraint violated")
)

// RunChangeSet is everything one reconciliation run wants persisted. The
// store applies it as a single transaction: either all of it becomes
// visible to readers, or none of it.
type RunChangeSet struct {
	Make    string
	Model   string
	Upserts []models.Listing
	Events  []models.PriceChange
	// ActiveIDs are the listing ids observed in this run; every other
	// listing of the make/model is flipped inactive unless
	// SkipDeactivation is set.
	ActiveIDs        []string
	SkipDeactivation bool
	Metadata         models.RunMetadata
}

// Store is the durable storage used by the reconciler, the aggregator and
// the dashboard API.
type Store interface {
	// GetListings returns all listings for a make/model, active and inactive.
	GetListings(ctx context.Context, mk, md string) ([]models.Listing, error)
	// GetActiveListings returns only listings still believed live on the site.
	GetActiveListings(ctx context.Context, mk, md string) ([]models.Listing, error)
	GetListingByID(ctx context.Context, listingID string) (*models.Listing, error)

	// GetPriceHistory returns a listing's price changes, newest first.
	GetPriceHistory(ctx context.Context, listingID string) ([]models.PriceChange, error)
	// GetPriceHistoryForModel returns a model's price changes, newest
	// first; limit <= 0 means no limit.
	GetPriceHistoryForModel(ctx context.Context, mk, md string, limit int) ([]models.PriceChange, error)
	// GetRecentPriceChanges returns the newest price changes across all models.
	GetRecentPriceChanges(ctx context.Context, limit int) ([]models.PriceChange, error)

	GetRunMetadata(ctx context.Context, mk, md string) (*models.RunMetadata, error)
	GetAllRunMetadata(ctx context.Context) ([]models.RunMetadata, error)
	// GetVehicleModels returns the distinct make/model pairs present in storage.
	GetVehicleModels(ctx context.Context) ([][2]string, error)

	// ApplyRun atomically applies one reconciliation run.
	ApplyRun(ctx context.Context, set RunChangeSet) error

	Close() error
}
