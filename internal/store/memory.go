package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"grocery-pricing/internal/models"
)

// MemoryStore is an in-process PriceStore used for local runs and tests
type MemoryStore struct {
	mu     sync.RWMutex
	rows   []models.PriceObservation
	nextID int64
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1}
}

// Insert appends observations as new rows without merging
func (m *MemoryStore) Insert(obs ...models.PriceObservation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range obs {
		o.ID = m.nextID
		m.nextID++
		m.rows = append(m.rows, o)
	}
}

// GetObservations retrieves observations matching the query
func (m *MemoryStore) GetObservations(ctx context.Context, q ObservationQuery) ([]models.PriceObservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stores := make(map[string]struct{}, len(q.Stores))
	for _, s := range q.Stores {
		stores[s] = struct{}{}
	}
	needle := strings.ToLower(q.Product)

	m.mu.RLock()
	out := make([]models.PriceObservation, 0)
	for _, o := range m.rows {
		if !strings.Contains(strings.ToLower(o.ProductName), needle) {
			continue
		}
		if !o.ObservedAt.After(q.Since) {
			continue
		}
		if q.AvailableOnly && !o.Available {
			continue
		}
		if len(stores) > 0 {
			if _, ok := stores[o.StoreID]; !ok {
				continue
			}
		}
		out = append(out, o)
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ObservedAt.Before(out[j].ObservedAt)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// UpsertObservations merges each observation into the latest matching row after since
func (m *MemoryStore) UpsertObservations(ctx context.Context, obs []models.PriceObservation, since time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	for _, o := range obs {
		if err := o.Validate(); err != nil {
			return 0, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	affected := 0
	for _, o := range obs {
		if o.Unit == "" {
			o.Unit = "each"
		}
		if o.ObservedAt.IsZero() {
			o.ObservedAt = time.Now()
		}

		idx := -1
		for i, row := range m.rows {
			if row.ProductName != o.ProductName || row.StoreID != o.StoreID || !row.ObservedAt.After(since) {
				continue
			}
			if idx < 0 || row.ObservedAt.After(m.rows[idx].ObservedAt) {
				idx = i
			}
		}

		if idx >= 0 {
			row := &m.rows[idx]
			row.Price = o.Price
			row.Available = o.Available
			row.ObservedAt = o.ObservedAt
			row.SourceURL = o.SourceURL
			row.MatchScore = o.MatchScore
		} else {
			o.ID = m.nextID
			m.nextID++
			m.rows = append(m.rows, o)
		}
		affected++
	}
	return affected, nil
}

// Ping always succeeds
func (m *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

var _ PriceStore = (*MemoryStore)(nil)
