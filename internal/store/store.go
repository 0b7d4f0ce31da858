package store

import (
	"context"
	"fmt"
	"time"

	"grocery-pricing/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// ObservationQuery selects persisted price observations
type ObservationQuery struct {
	// Product is matched case-insensitively as a substring of the product name
	Product string
	// Stores restricts results to these store ids when non-empty
	Stores []string
	// Since excludes observations recorded at or before this instant
	Since         time.Time
	AvailableOnly bool
	Limit         int
}

// PriceStore is the read/write contract over persisted price observations.
// Results are ordered by observed_at ascending.
type PriceStore interface {
	GetObservations(ctx context.Context, q ObservationQuery) ([]models.PriceObservation, error)
	// UpsertObservations merges each observation into the latest row for the same
	// (product name, store) recorded after since, or appends a new row. It returns
	// the number of rows inserted or updated.
	UpsertObservations(ctx context.Context, obs []models.PriceObservation, since time.Time) (int, error)
	Ping(ctx context.Context) error
}

const schema = `
CREATE TABLE IF NOT EXISTS price_observations (
	id           BIGSERIAL PRIMARY KEY,
	product_name TEXT NOT NULL,
	store_id     TEXT NOT NULL,
	price        NUMERIC(12, 2) NOT NULL CHECK (price >= 0),
	unit         TEXT NOT NULL DEFAULT 'each',
	available    BOOLEAN NOT NULL DEFAULT TRUE,
	source_url   TEXT,
	match_score  DOUBLE PRECISION NOT NULL DEFAULT 0,
	observed_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_price_observations_product_store
	ON price_observations (product_name, store_id, observed_at DESC);
CREATE INDEX IF NOT EXISTS idx_price_observations_observed_at
	ON price_observations (observed_at);
`

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Migrate creates the observation table and its indexes when missing
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// Ping checks database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

var _ PriceStore = (*Store)(nil)

// PersistenceError wraps a failed price store operation
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("price store %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
