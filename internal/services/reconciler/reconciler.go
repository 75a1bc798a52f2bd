// Package reconciler implements the incremental listing reconciliation and
// price-history engine. Given the full scraped batch for one make/model it
// classifies every listing as new, unchanged, price-changed or removed
// against the stored state, and commits the whole result through the store
// as one atomic run.
package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/autoanalyse/carscout/internal/models"
	"github.com/autoanalyse/carscout/internal/repository"
)

// Version is recorded in run metadata so operators can tell which engine
// produced a row.
const Version = "2.0"

// StructuralError marks a batch that cannot be reconciled at all, e.g. a
// record without a listing id. Nothing is staged or written for such runs.
type StructuralError struct {
	Make   string
	Model  string
	Index  int
	Reason string
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("structural error in batch %s %s, record %d: %s",
		e.Make, e.Model, e.Index, e.Reason)
}

// Options control edge-case policy for the engine.
type Options struct {
	// KeepOnEmpty suppresses deactivation when the batch is empty and the
	// producer flagged it as possibly incomplete. Without it an empty
	// batch deactivates the model's whole inventory, which is the
	// documented default risk.
	KeepOnEmpty bool
}

// Reconciler diffs scraped batches against the store. It holds no state
// between runs; every run loads exactly what it needs.
type Reconciler struct {
	log   *slog.Logger
	store repository.Store
	opts  Options
	now   func() time.Time
}

// NewReconciler creates a new Reconciler instance.
func NewReconciler(log *slog.Logger, store repository.Store, opts Options) *Reconciler {
	return &Reconciler{log: log, store: store, opts: opts, now: time.Now}
}

// Run reconciles one batch and commits the result. The returned summary
// reports classification counts for the run. On any error nothing has been
// written: the store still holds its pre-run state.
func (r *Reconciler) Run(ctx context.Context, batch models.Batch) (*models.RunSummary, error) {
	const opn = "reconciler.Run"
	log := r.log.With("op", opn, "make", batch.Make, "model", batch.Model)

	// 1. Validate the batch before touching anything.
	for i, listing := range batch.Listings {
		if listing.ListingID == "" {
			return nil, &StructuralError{
				Make: batch.Make, Model: batch.Model, Index: i,
				Reason: "missing listing_id",
			}
		}
	}

	// 2. Load prior state for the make/model scope, active and inactive.
	stored, err := r.store.GetListings(ctx, batch.Make, batch.Model)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to load stored listings: %w", opn, err)
	}

	storedByID := make(map[string]models.Listing, len(stored))
	for _, listing := range stored {
		storedByID[listing.ListingID] = listing
	}

	// 3. Collapse duplicates within the batch, last occurrence wins.
	incoming := make(map[string]models.Listing, len(batch.Listings))
	order := make([]string, 0, len(batch.Listings))
	for _, listing := range batch.Listings {
		if listing.Make == "" {
			listing.Make = batch.Make
		}
		if listing.Model == "" {
			listing.Model = batch.Model
		}
		if listing.ScrapedAt.IsZero() {
			listing.ScrapedAt = batch.ScrapedAt
		}

		if _, seen := incoming[listing.ListingID]; seen {
			log.WarnContext(ctx, "duplicate listing_id in batch, last occurrence wins",
				"listing_id", listing.ListingID)
		} else {
			order = append(order, listing.ListingID)
		}
		incoming[listing.ListingID] = listing
	}

	// 4. Classify every unique incoming listing.
	summary := &models.RunSummary{Make: batch.Make, Model: batch.Model}
	changedAt := r.now()

	set := repository.RunChangeSet{
		Make:      batch.Make,
		Model:     batch.Model,
		ActiveIDs: order,
	}

	for _, id := range order {
		in := incoming[id]
		in.IsActive = true

		old, known := storedByID[id]
		if !known {
			summary.New++
			set.Upserts = append(set.Upserts, in)
			continue
		}

		if !old.IsActive {
			// Reactivation keeps the row and its price-history chain; the
			// listing is not a brand-new one.
			summary.Reactivated++
		}

		if event := priceChange(old, in, changedAt); event != nil {
			if event.ChangeType == models.PriceDecreased {
				summary.Decreased++
				summary.Decreases = append(summary.Decreases, *event)
			} else {
				summary.Increased++
			}
			set.Events = append(set.Events, *event)
			log.InfoContext(ctx, "price change detected",
				"listing_id", id, "old", event.PriceOld, "new", event.PriceNew,
				"type", string(event.ChangeType))
		} else {
			summary.Unchanged++
		}

		set.Upserts = append(set.Upserts, in)
	}

	// 5. Everything active in the store but absent from the batch is removed.
	for _, old := range stored {
		if !old.IsActive {
			continue
		}
		if _, present := incoming[old.ListingID]; !present {
			summary.Removed++
		}
	}

	// 6. Resolve the empty-batch ambiguity explicitly.
	meta := models.RunMetadata{
		Make:           batch.Make,
		Model:          batch.Model,
		LastScrapeAt:   changedAt,
		TotalListings:  len(order),
		NewListings:    summary.New,
		PriceChanges:   summary.PriceChanged(),
		Status:         models.StatusOK,
		ScraperVersion: Version,
	}

	if len(order) == 0 {
		meta.Status = models.StatusEmpty
		if r.opts.KeepOnEmpty && batch.Completeness == models.BatchSuspect {
			log.WarnContext(ctx, "empty batch flagged as suspect, keeping current inventory active")
			set.SkipDeactivation = true
			summary.Removed = 0
		} else {
			log.WarnContext(ctx, "empty batch, deactivating whole inventory",
				"completeness", batch.Completeness.String())
		}
	}
	set.Metadata = meta

	// 7. Commit everything as one unit.
	if err = r.store.ApplyRun(ctx, set); err != nil {
		return nil, fmt.Errorf("%s: failed to apply run: %w", opn, err)
	}

	log.InfoContext(ctx, "reconciliation complete",
		"new", summary.New, "unchanged", summary.Unchanged,
		"price_changed", summary.PriceChanged(), "removed", summary.Removed,
		"reactivated", summary.Reactivated)

	return summary, nil
}

// RecordFailure records an ERROR run without touching listings or history,
// so a failed scrape is visible in metadata but the inventory stays intact.
func (r *Reconciler) RecordFailure(ctx context.Context, mk, md, message string) error {
	const opn = "reconciler.RecordFailure"

	active, err := r.store.GetActiveListings(ctx, mk, md)
	if err != nil {
		return fmt.Errorf("%s: failed to count active listings: %w", opn, err)
	}

	set := repository.RunChangeSet{
		Make:             mk,
		Model:            md,
		SkipDeactivation: true,
		Metadata: models.RunMetadata{
			Make:           mk,
			Model:          md,
			LastScrapeAt:   r.now(),
			TotalListings:  len(active),
			Status:         models.StatusError,
			ErrorMessage:   message,
			ScraperVersion: Version,
		},
	}

	if err = r.store.ApplyRun(ctx, set); err != nil {
		return fmt.Errorf("%s: failed to record failure: %w", opn, err)
	}

	return nil
}

// priceChange builds the event for a price transition, or nil when the two
// observations do not constitute one. A missing, zero or non-numeric price
// on either side never counts as a change: zero is a placeholder the site
// uses for "price on request", and comparing against it would record a
// division-by-zero percentage.
func priceChange(old, in models.Listing, changedAt time.Time) *models.PriceChange {
	if !old.HasPrice() || !in.HasPrice() {
		return nil
	}

	priceOld, priceNew := *old.Price, *in.Price
	if priceOld == 0 || priceNew == 0 || priceOld == priceNew {
		return nil
	}

	diff := priceNew - priceOld
	changeType := models.PriceIncreased
	if diff < 0 {
		changeType = models.PriceDecreased
	}

	return &models.PriceChange{
		ListingID:          in.ListingID,
		Make:               in.Make,
		Model:              in.Model,
		Title:              in.Title,
		PriceOld:           priceOld,
		PriceNew:           priceNew,
		PriceDifference:    diff,
		PriceChangePercent: diff / priceOld * 100,
		ChangeType:         changeType,
		ChangedAt:          changedAt,
		LastSeen:           old.ScrapedAt,
	}
}
