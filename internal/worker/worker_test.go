package worker

import (
	"context"
	"testing"

	"grocery-pricing/internal/acquisition"
	"grocery-pricing/internal/fetcher"
	"grocery-pricing/internal/models"
	"grocery-pricing/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingRefresher struct {
	products []string
	stores   []string
	err      error
}

func (r *recordingRefresher) Acquire(ctx context.Context, products, stores []string) (*acquisition.Result, error) {
	r.products = products
	r.stores = stores
	return &acquisition.Result{Skipped: map[string]int{}}, r.err
}

func TestHandleRefreshRequestedUsesDefaultStores(t *testing.T) {
	r := &recordingRefresher{}
	w := NewRefreshWorker(nil, r, []string{"walmart", "target"})

	err := w.HandleRefreshRequested(context.Background(), &models.PriceRefreshRequestedEvent{
		BaseEvent: models.BaseEvent{EventID: "evt-1"},
		Products:  []string{"milk"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"milk"}, r.products)
	assert.Equal(t, []string{"walmart", "target"}, r.stores)
}

func TestHandleRefreshRequestedSkipsEmptyRequests(t *testing.T) {
	r := &recordingRefresher{}
	w := NewRefreshWorker(nil, r, []string{"walmart"})

	require.NoError(t, w.HandleRefreshRequested(context.Background(), &models.PriceRefreshRequestedEvent{}))
	assert.Nil(t, r.products)
}

func TestHandleRefreshRequestedReturnsInterruption(t *testing.T) {
	r := &recordingRefresher{err: context.Canceled}
	w := NewRefreshWorker(nil, r, nil)

	err := w.HandleRefreshRequested(context.Background(), &models.PriceRefreshRequestedEvent{
		Products: []string{"eggs"},
		Stores:   []string{"kroger"},
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"kroger"}, r.stores)
}

func TestHandleRefreshRequestedPersistsThroughGate(t *testing.T) {
	mem := store.NewMemoryStore()
	cfg := acquisition.DefaultConfig()
	cfg.Delay = 0
	cfg.Jitter = 0
	gate := acquisition.NewGate(fetcher.NewRegistry(fetcher.NewCatalogFetcher("kroger")), mem, nil, nil, cfg)
	w := NewRefreshWorker(nil, gate, []string{"kroger"})

	require.NoError(t, w.HandleRefreshRequested(context.Background(), &models.PriceRefreshRequestedEvent{
		Products: []string{"bananas"},
	}))

	rows, err := mem.GetObservations(context.Background(), store.ObservationQuery{Product: "bananas"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "kroger", rows[0].StoreID)
}
