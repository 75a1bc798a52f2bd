package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/autoanalyse/carscout/internal/models"
)

const historyColumns = `listing_id, make, model, COALESCE(title, ''),
	price_old, price_new, price_difference, price_change_percent,
	change_type, change_date, last_seen`

// GetPriceHistory returns a listing's price changes, newest first.
func (r *Repository) GetPriceHistory(ctx context.Context, listingID string) ([]models.PriceChange, error) {
	const opn = "repository.sqlite.GetPriceHistory"

	query := fmt.Sprintf(`SELECT %s FROM price_history
		WHERE listing_id = ?
		ORDER BY change_date DESC, id DESC`, historyColumns)

	return r.queryHistory(ctx, opn, query, listingID)
}

// GetPriceHistoryForModel returns a model's price changes, newest first.
// A limit <= 0 means no limit.
func (r *Repository) GetPriceHistoryForModel(ctx context.Context, mk, md string, limit int) ([]models.PriceChange, error) {
	const opn = "repository.sqlite.GetPriceHistoryForModel"

	query := fmt.Sprintf(`SELECT %s FROM price_history
		WHERE make = ? AND model = ?
		ORDER BY change_date DESC, id DESC`, historyColumns)
	args := []any{mk, md}

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	return r.queryHistory(ctx, opn, query, args...)
}

// GetRecentPriceChanges returns the newest price changes across all models.
func (r *Repository) GetRecentPriceChanges(ctx context.Context, limit int) ([]models.PriceChange, error) {
	const opn = "repository.sqlite.GetRecentPriceChanges"

	query := fmt.Sprintf(`SELECT %s FROM price_history
		ORDER BY change_date DESC, id DESC
		LIMIT ?`, historyColumns)

	return r.queryHistory(ctx, opn, query, limit)
}

func (r *Repository) queryHistory(ctx context.Context, opn, query string, args ...any) ([]models.PriceChange, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to query price history: %w", opn, err)
	}
	defer rows.Close()

	var changes []models.PriceChange
	for rows.Next() {
		var (
			change   models.PriceChange
			lastSeen sql.NullTime
		)
		err = rows.Scan(
			&change.ListingID, &change.Make, &change.Model, &change.Title,
			&change.PriceOld, &change.PriceNew, &change.PriceDifference,
			&change.PriceChangePercent, &change.ChangeType,
			&change.ChangedAt, &lastSeen,
		)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to scan price change: %w", opn, err)
		}
		if lastSeen.Valid {
			change.LastSeen = lastSeen.Time
		}
		changes = append(changes, change)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows iteration error: %w", opn, err)
	}

	return changes, nil
}
