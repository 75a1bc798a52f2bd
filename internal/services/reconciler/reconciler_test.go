package reconciler_test

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autoanalyse/carscout/internal/models"
	"github.com/autoanalyse/carscout/internal/repository"
	"github.com/autoanalyse/carscout/internal/repository/sqlite"
	"github.com/autoanalyse/carscout/internal/services/reconciler"
)

func newTestEngine(t *testing.T, opts reconciler.Options) (*reconciler.Reconciler, repository.Store) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dbPath := filepath.Join(t.TempDir(), "test.db")

	repo, err := sqlite.NewRepository(t.Context(), logger, dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	return reconciler.NewReconciler(logger, repo, opts), repo
}

func ptrFloat(v float64) *float64 { return &v }

func listing(id string, price *float64) models.Listing {
	return models.Listing{
		ListingID: id,
		Title:     "Listing " + id,
		URL:       "https://www.autoscout24.lu/offres/" + id,
		Price:     price,
		FuelType:  "Diesel",
	}
}

func batch(listings ...models.Listing) models.Batch {
	return models.Batch{
		Make:         "bmw",
		Model:        "serie-3",
		Listings:     listings,
		Completeness: models.BatchConfirmed,
		ScrapedAt:    time.Now().UTC(),
	}
}

func TestRun_ExampleScenario(t *testing.T) {
	engine, store := newTestEngine(t, reconciler.Options{})
	ctx := t.Context()

	// Day one: L1 and L3 are on the market.
	_, err := engine.Run(ctx, batch(
		listing("L1", ptrFloat(25000)),
		listing("L3", ptrFloat(31000)),
	))
	require.NoError(t, err)

	// Day two: L1 dropped to 23500, L2 appeared, L3 is gone.
	summary, err := engine.Run(ctx, batch(
		listing("L1", ptrFloat(23500)),
		listing("L2", ptrFloat(18000)),
	))
	require.NoError(t, err)

	assert.Equal(t, 1, summary.New)
	assert.Equal(t, 0, summary.Unchanged)
	assert.Equal(t, 1, summary.Decreased)
	assert.Equal(t, 0, summary.Increased)
	assert.Equal(t, 1, summary.Removed)
	assert.Equal(t, 0, summary.Reactivated)

	require.Len(t, summary.Decreases, 1)
	drop := summary.Decreases[0]
	assert.Equal(t, "L1", drop.ListingID)
	assert.InDelta(t, 25000, drop.PriceOld, 0.001)
	assert.InDelta(t, 23500, drop.PriceNew, 0.001)
	assert.InDelta(t, -1500, drop.PriceDifference, 0.001)
	assert.InDelta(t, -6, drop.PriceChangePercent, 0.001)
	assert.Equal(t, models.PriceDecreased, drop.ChangeType)

	// Store state reflects the classification.
	active, err := store.GetActiveListings(ctx, "bmw", "serie-3")
	require.NoError(t, err)
	require.Len(t, active, 2)

	gone, err := store.GetListingByID(ctx, "L3")
	require.NoError(t, err)
	assert.False(t, gone.IsActive)

	history, err := store.GetPriceHistory(ctx, "L1")
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestRun_ClassificationIsComplete(t *testing.T) {
	engine, _ := newTestEngine(t, reconciler.Options{})
	ctx := t.Context()

	_, err := engine.Run(ctx, batch(
		listing("A", ptrFloat(100)),
		listing("B", ptrFloat(200)),
		listing("C", ptrFloat(300)),
	))
	require.NoError(t, err)

	summary, err := engine.Run(ctx, batch(
		listing("A", ptrFloat(100)), // unchanged
		listing("B", ptrFloat(150)), // decreased
		listing("D", ptrFloat(400)), // new
	))
	require.NoError(t, err)

	// Every incoming listing lands in exactly one class.
	total := summary.New + summary.Unchanged + summary.PriceChanged()
	assert.Equal(t, 3, total)
	assert.Equal(t, 1, summary.Removed) // C
}

func TestRun_Idempotent(t *testing.T) {
	engine, store := newTestEngine(t, reconciler.Options{})
	ctx := t.Context()

	b := batch(listing("L1", ptrFloat(25000)), listing("L2", ptrFloat(18000)))

	_, err := engine.Run(ctx, b)
	require.NoError(t, err)

	summary, err := engine.Run(ctx, b)
	require.NoError(t, err)

	assert.Equal(t, 0, summary.New)
	assert.Equal(t, 2, summary.Unchanged)
	assert.Equal(t, 0, summary.PriceChanged())
	assert.Equal(t, 0, summary.Removed)

	// Replaying the identical batch appends no history.
	for _, id := range []string{"L1", "L2"} {
		history, err := store.GetPriceHistory(ctx, id)
		require.NoError(t, err)
		assert.Empty(t, history)
	}
}

func TestRun_HistoryIsAppendOnly(t *testing.T) {
	engine, store := newTestEngine(t, reconciler.Options{})
	ctx := t.Context()

	prices := []float64{25000, 23500, 24000, 22000}
	for _, price := range prices {
		_, err := engine.Run(ctx, batch(listing("L1", ptrFloat(price))))
		require.NoError(t, err)
	}

	history, err := store.GetPriceHistory(ctx, "L1")
	require.NoError(t, err)
	require.Len(t, history, 3)

	// Newest first; old observations are never rewritten.
	assert.InDelta(t, 22000, history[0].PriceNew, 0.001)
	assert.Equal(t, models.PriceDecreased, history[0].ChangeType)
	assert.InDelta(t, 24000, history[1].PriceNew, 0.001)
	assert.Equal(t, models.PriceIncreased, history[1].ChangeType)
	assert.InDelta(t, 23500, history[2].PriceNew, 0.001)
	assert.Equal(t, models.PriceDecreased, history[2].ChangeType)
}

func TestRun_Reactivation(t *testing.T) {
	engine, store := newTestEngine(t, reconciler.Options{})
	ctx := t.Context()

	_, err := engine.Run(ctx, batch(listing("L1", ptrFloat(25000))))
	require.NoError(t, err)

	// L1 leaves the market.
	summary, err := engine.Run(ctx, batch(listing("L2", ptrFloat(18000))))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Removed)

	// L1 comes back at the same price.
	summary, err = engine.Run(ctx, batch(
		listing("L1", ptrFloat(25000)),
		listing("L2", ptrFloat(18000)),
	))
	require.NoError(t, err)

	assert.Equal(t, 0, summary.New, "a returning listing is not new")
	assert.Equal(t, 1, summary.Reactivated)
	assert.Equal(t, 0, summary.PriceChanged(), "same price on return produces no event")
	assert.Equal(t, 2, summary.Unchanged,
		"reactivation overlays the price classes, it does not replace them")

	back, err := store.GetListingByID(ctx, "L1")
	require.NoError(t, err)
	assert.True(t, back.IsActive)

	history, err := store.GetPriceHistory(ctx, "L1")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestRun_ReactivationWithNewPrice(t *testing.T) {
	engine, store := newTestEngine(t, reconciler.Options{})
	ctx := t.Context()

	_, err := engine.Run(ctx, batch(listing("L1", ptrFloat(25000))))
	require.NoError(t, err)
	_, err = engine.Run(ctx, batch())
	require.NoError(t, err)

	summary, err := engine.Run(ctx, batch(listing("L1", ptrFloat(22000))))
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Reactivated)
	assert.Equal(t, 1, summary.Decreased)

	// The pre-removal price stays the baseline across the inactive gap.
	history, err := store.GetPriceHistory(ctx, "L1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.InDelta(t, 25000, history[0].PriceOld, 0.001)
	assert.InDelta(t, 22000, history[0].PriceNew, 0.001)
}

func TestRun_MissingPriceNeverChanges(t *testing.T) {
	engine, store := newTestEngine(t, reconciler.Options{})
	ctx := t.Context()

	tests := []struct {
		name      string
		oldPrice  *float64
		newPrice  *float64
		unchanged int
	}{
		{name: "price_appears", oldPrice: nil, newPrice: ptrFloat(25000), unchanged: 1},
		{name: "price_disappears", oldPrice: ptrFloat(25000), newPrice: nil, unchanged: 1},
		{name: "both_missing", oldPrice: nil, newPrice: nil, unchanged: 1},
		{name: "zero_becomes_real_price", oldPrice: ptrFloat(0), newPrice: ptrFloat(25000), unchanged: 1},
		{name: "real_price_becomes_zero", oldPrice: ptrFloat(25000), newPrice: ptrFloat(0), unchanged: 1},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := string(rune('A' + i))

			_, err := engine.Run(ctx, batch(listing(id, tt.oldPrice)))
			require.NoError(t, err)

			summary, err := engine.Run(ctx, batch(listing(id, tt.newPrice)))
			require.NoError(t, err)

			assert.Equal(t, tt.unchanged, summary.Unchanged)
			assert.Equal(t, 0, summary.PriceChanged())

			history, err := store.GetPriceHistory(ctx, id)
			require.NoError(t, err)
			assert.Empty(t, history)
		})
	}
}

func TestRun_DuplicateListingIDLastWins(t *testing.T) {
	engine, store := newTestEngine(t, reconciler.Options{})
	ctx := t.Context()

	first := listing("L1", ptrFloat(25000))
	second := listing("L1", ptrFloat(23000))
	second.Title = "Listing L1 relisted"

	summary, err := engine.Run(ctx, batch(first, second))
	require.NoError(t, err)

	assert.Equal(t, 1, summary.New, "duplicates collapse to one listing")

	got, err := store.GetListingByID(ctx, "L1")
	require.NoError(t, err)
	require.NotNil(t, got.Price)
	assert.InDelta(t, 23000, *got.Price, 0.001)
	assert.Equal(t, "Listing L1 relisted", got.Title)
}

func TestRun_EmptyBatchPolicies(t *testing.T) {
	ctx := t.Context()

	t.Run("confirmed_empty_deactivates_all", func(t *testing.T) {
		engine, store := newTestEngine(t, reconciler.Options{KeepOnEmpty: true})

		_, err := engine.Run(ctx, batch(listing("L1", ptrFloat(25000))))
		require.NoError(t, err)

		summary, err := engine.Run(ctx, batch())
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Removed)

		active, err := store.GetActiveListings(ctx, "bmw", "serie-3")
		require.NoError(t, err)
		assert.Empty(t, active)

		meta, err := store.GetRunMetadata(ctx, "bmw", "serie-3")
		require.NoError(t, err)
		assert.Equal(t, models.StatusEmpty, meta.Status)
	})

	t.Run("suspect_empty_keeps_inventory", func(t *testing.T) {
		engine, store := newTestEngine(t, reconciler.Options{KeepOnEmpty: true})

		_, err := engine.Run(ctx, batch(listing("L1", ptrFloat(25000))))
		require.NoError(t, err)

		suspect := batch()
		suspect.Completeness = models.BatchSuspect

		summary, err := engine.Run(ctx, suspect)
		require.NoError(t, err)
		assert.Equal(t, 0, summary.Removed)

		active, err := store.GetActiveListings(ctx, "bmw", "serie-3")
		require.NoError(t, err)
		assert.Len(t, active, 1)
	})

	t.Run("suspect_empty_without_option_deactivates", func(t *testing.T) {
		engine, store := newTestEngine(t, reconciler.Options{})

		_, err := engine.Run(ctx, batch(listing("L1", ptrFloat(25000))))
		require.NoError(t, err)

		suspect := batch()
		suspect.Completeness = models.BatchSuspect

		_, err = engine.Run(ctx, suspect)
		require.NoError(t, err)

		active, err := store.GetActiveListings(ctx, "bmw", "serie-3")
		require.NoError(t, err)
		assert.Empty(t, active)
	})
}

func TestRun_StructuralErrorStagesNothing(t *testing.T) {
	engine, store := newTestEngine(t, reconciler.Options{})
	ctx := t.Context()

	_, err := engine.Run(ctx, batch(listing("L1", ptrFloat(25000))))
	require.NoError(t, err)

	_, err = engine.Run(ctx, batch(
		listing("L2", ptrFloat(18000)),
		listing("", ptrFloat(9000)),
	))

	var structErr *reconciler.StructuralError
	require.ErrorAs(t, err, &structErr)
	assert.Equal(t, 1, structErr.Index)

	// The valid part of the batch was not applied either.
	_, err = store.GetListingByID(ctx, "L2")
	assert.ErrorIs(t, err, repository.ErrListingNotFound)

	still, err := store.GetActiveListings(ctx, "bmw", "serie-3")
	require.NoError(t, err)
	assert.Len(t, still, 1)
}

func TestRecordFailure(t *testing.T) {
	engine, store := newTestEngine(t, reconciler.Options{})
	ctx := t.Context()

	_, err := engine.Run(ctx, batch(listing("L1", ptrFloat(25000))))
	require.NoError(t, err)

	err = engine.RecordFailure(ctx, "bmw", "serie-3", "connection timed out")
	require.NoError(t, err)

	meta, err := store.GetRunMetadata(ctx, "bmw", "serie-3")
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, meta.Status)
	assert.Equal(t, "connection timed out", meta.ErrorMessage)
	assert.Equal(t, 1, meta.TotalListings)

	// Inventory is untouched by a failed run.
	active, err := store.GetActiveListings(ctx, "bmw", "serie-3")
	require.NoError(t, err)
	assert.Len(t, active, 1)
	assert.True(t, active[0].IsActive)
}

func TestRun_StoreFailureSurfaces(t *testing.T) {
	engine, store := newTestEngine(t, reconciler.Options{})
	ctx := t.Context()

	_, err := engine.Run(ctx, batch(listing("L1", ptrFloat(25000))))
	require.NoError(t, err)

	// Sabotage the history table so the event insert fails.
	repo := store.(*sqlite.Repository)
	_, err = repo.DB().ExecContext(ctx, "DROP TABLE price_history")
	require.NoError(t, err)

	_, err = engine.Run(ctx, batch(listing("L1", ptrFloat(20000))))
	require.Error(t, err)

	// Pre-run state survived the failed commit.
	got, err := store.GetListingByID(ctx, "L1")
	require.NoError(t, err)
	require.NotNil(t, got.Price)
	assert.InDelta(t, 25000, *got.Price, 0.001)
}
