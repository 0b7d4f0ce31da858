package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"grocery-pricing/internal/models"

	"github.com/jmoiron/sqlx"
)

const selectObservations = `
	SELECT id, product_name, store_id, price::double precision AS price, unit,
	       available, source_url, match_score, observed_at
	FROM price_observations
	WHERE product_name ILIKE ? AND observed_at > ?`

// GetObservations retrieves observations matching the query
func (s *Store) GetObservations(ctx context.Context, q ObservationQuery) ([]models.PriceObservation, error) {
	query := selectObservations
	args := []interface{}{"%" + escapeLike(q.Product) + "%", q.Since}

	if q.AvailableOnly {
		query += " AND available = TRUE"
	}
	if len(q.Stores) > 0 {
		query += " AND store_id IN (?)"
		args = append(args, q.Stores)
	}
	query += " ORDER BY observed_at ASC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var observations []models.PriceObservation
	if err := s.db.SelectContext(ctx, &observations, query, args...); err != nil {
		return nil, fmt.Errorf("failed to select observations: %w", err)
	}
	return observations, nil
}

// UpsertObservations merges observations within a transaction
func (s *Store) UpsertObservations(ctx context.Context, obs []models.PriceObservation, since time.Time) (int, error) {
	if len(obs) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	affected := 0
	for _, o := range obs {
		if err := o.Validate(); err != nil {
			return 0, err
		}
		if o.Unit == "" {
			o.Unit = "each"
		}
		if o.ObservedAt.IsZero() {
			o.ObservedAt = time.Now()
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE price_observations
			SET price = $1, available = $2, observed_at = $3, source_url = $4, match_score = $5
			WHERE id = (
				SELECT id FROM price_observations
				WHERE product_name = $6 AND store_id = $7 AND observed_at > $8
				ORDER BY observed_at DESC
				LIMIT 1
			)`,
			o.Price, o.Available, o.ObservedAt, o.SourceURL, o.MatchScore,
			o.ProductName, o.StoreID, since)
		if err != nil {
			return 0, fmt.Errorf("failed to update observation: %w", err)
		}

		updated, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		if updated == 0 {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO price_observations
					(product_name, store_id, price, unit, available, source_url, match_score, observed_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				o.ProductName, o.StoreID, o.Price, o.Unit, o.Available, o.SourceURL, o.MatchScore, o.ObservedAt)
			if err != nil {
				return 0, fmt.Errorf("failed to insert observation: %w", err)
			}
		}
		affected++
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return affected, nil
}

// escapeLike escapes LIKE wildcards so product names match literally
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
