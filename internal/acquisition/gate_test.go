package acquisition

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"grocery-pricing/internal/fetcher"
	"grocery-pricing/internal/models"
	"grocery-pricing/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedFetcher struct {
	store   string
	price   float64
	title   string
	err     error
	block   chan struct{}
	started chan struct{}

	mu    sync.Mutex
	calls map[string]int
}

func newScripted(store string, price float64) *scriptedFetcher {
	return &scriptedFetcher{store: store, price: price, calls: make(map[string]int)}
}

func (f *scriptedFetcher) Store() string { return f.store }

func (f *scriptedFetcher) Fetch(ctx context.Context, product string) (*models.PriceObservation, error) {
	f.mu.Lock()
	f.calls[product]++
	f.mu.Unlock()

	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}

	name := f.title
	if name == "" {
		name = product + " at " + f.store
	}
	return &models.PriceObservation{ProductName: name, StoreID: f.store, Price: f.price, Available: true}, nil
}

func (f *scriptedFetcher) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

type failingStore struct {
	store.MemoryStore
}

func (s *failingStore) UpsertObservations(ctx context.Context, obs []models.PriceObservation, since time.Time) (int, error) {
	return 0, errors.New("connection refused")
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*models.PricesUpdatedEvent
}

func (p *recordingPublisher) PublishPricesUpdated(ctx context.Context, event *models.PricesUpdatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

type fakeDistributed struct {
	mu        sync.Mutex
	claimed   map[string]bool
	completed map[string]bool
}

func newFakeDistributed() *fakeDistributed {
	return &fakeDistributed{claimed: make(map[string]bool), completed: make(map[string]bool)}
}

func (d *fakeDistributed) ClaimPair(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.claimed[key] {
		return false, nil
	}
	d.claimed[key] = true
	return true, nil
}

func (d *fakeDistributed) CompletePair(ctx context.Context, key string, success bool, recentTTL time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.completed[key] = success
	return nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Delay = 0
	cfg.Jitter = 0
	cfg.FetchTimeout = time.Second
	return cfg
}

func TestAcquireIdempotentWithinRecencyWindow(t *testing.T) {
	ctx := context.Background()
	walmart := newScripted("walmart", 3.49)
	mem := store.NewMemoryStore()
	gate := NewGate(fetcher.NewRegistry(walmart), mem, nil, nil, testConfig())

	first, err := gate.Acquire(ctx, []string{"Milk"}, []string{"walmart"})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Dispatched)
	assert.Equal(t, 1, first.Persisted)

	second, err := gate.Acquire(ctx, []string{"milk"}, []string{"walmart"})
	require.NoError(t, err)
	assert.Equal(t, 0, second.Dispatched)
	assert.Equal(t, 1, second.Skipped[SkipRecent])
	assert.Equal(t, 1, walmart.total())
}

func TestAcquireDuplicatePairsInOneCall(t *testing.T) {
	walmart := newScripted("walmart", 3.49)
	gate := NewGate(fetcher.NewRegistry(walmart), store.NewMemoryStore(), nil, nil, testConfig())

	result, err := gate.Acquire(context.Background(), []string{"eggs", "EGGS "}, []string{"walmart"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Dispatched)
	assert.Equal(t, 1, result.Skipped[SkipInFlight])
	assert.Equal(t, 1, walmart.total())
}

func TestAcquireConcurrentCallsDispatchOnce(t *testing.T) {
	ctx := context.Background()
	target := newScripted("target", 2.29)
	target.block = make(chan struct{})
	target.started = make(chan struct{}, 1)
	gate := NewGate(fetcher.NewRegistry(target), store.NewMemoryStore(), nil, nil, testConfig())

	done := make(chan *Result)
	go func() {
		r, _ := gate.Acquire(ctx, []string{"bread"}, []string{"target"})
		done <- r
	}()

	<-target.started
	assert.True(t, gate.Tracker().InFlight(PairKey("bread", "target")))

	second, err := gate.Acquire(ctx, []string{"bread"}, []string{"target"})
	require.NoError(t, err)
	assert.Equal(t, 0, second.Dispatched)
	assert.Equal(t, 1, second.Skipped[SkipInFlight])

	close(target.block)
	first := <-done
	assert.Equal(t, 1, first.Dispatched)
	assert.Equal(t, 1, target.total())
	assert.False(t, gate.Tracker().InFlight(PairKey("bread", "target")))
}

func TestAcquireCapsPairs(t *testing.T) {
	registry := fetcher.NewRegistry(
		newScripted("walmart", 1),
		newScripted("target", 1),
		newScripted("kroger", 1),
	)
	gate := NewGate(registry, store.NewMemoryStore(), nil, nil, testConfig())

	result, err := gate.Acquire(context.Background(),
		[]string{"milk", "bread", "eggs", "rice"},
		[]string{"walmart", "target", "kroger"})
	require.NoError(t, err)
	assert.Equal(t, 12, result.Requested)
	assert.Equal(t, 10, result.Dispatched)
	assert.Equal(t, 2, result.Skipped[SkipOverCap])

	// dropped pairs were never reserved, so a later call picks them up
	again, err := gate.Acquire(context.Background(), []string{"rice"}, []string{"target", "kroger"})
	require.NoError(t, err)
	assert.Equal(t, 2, again.Dispatched)
}

func TestAcquireIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	walmart := newScripted("walmart", 3.49)
	target := newScripted("target", 3.79)
	kroger := newScripted("kroger", 0)
	kroger.err = errors.New("503 from upstream")
	mem := store.NewMemoryStore()
	gate := NewGate(fetcher.NewRegistry(walmart, target, kroger), mem, nil, nil, testConfig())

	result, err := gate.Acquire(ctx, []string{"milk"}, []string{"walmart", "target", "kroger"})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Dispatched)
	assert.Len(t, result.Observations, 2)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "kroger", result.Failures[0].Store)
	assert.Equal(t, 2, result.Persisted)

	var acqErr *AcquisitionError
	assert.True(t, errors.As(error(result.Failures[0]), &acqErr))

	// only the failed pair is retried
	retry, err := gate.Acquire(ctx, []string{"milk"}, []string{"walmart", "target", "kroger"})
	require.NoError(t, err)
	assert.Equal(t, 1, retry.Dispatched)
	assert.Equal(t, 2, retry.Skipped[SkipRecent])
	assert.Equal(t, 2, kroger.total())
}

func TestAcquireAbandonsSlowFetch(t *testing.T) {
	slow := newScripted("walmart", 1)
	slow.block = make(chan struct{})
	defer close(slow.block)

	cfg := testConfig()
	cfg.FetchTimeout = 20 * time.Millisecond
	gate := NewGate(fetcher.NewRegistry(slow), store.NewMemoryStore(), nil, nil, cfg)

	result, err := gate.Acquire(context.Background(), []string{"chicken"}, []string{"walmart"})
	require.NoError(t, err)
	require.Len(t, result.Failures, 1)
	assert.ErrorIs(t, result.Failures[0], context.DeadlineExceeded)
	assert.False(t, gate.Tracker().InFlight(PairKey("chicken", "walmart")))
	assert.Equal(t, 0, gate.Tracker().Len())
}

func TestAcquireSkipsUnknownStores(t *testing.T) {
	gate := NewGate(fetcher.NewRegistry(newScripted("walmart", 1)), store.NewMemoryStore(), nil, nil, testConfig())

	result, err := gate.Acquire(context.Background(), []string{"pasta"}, []string{"walmart", "aldi"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Dispatched)
	assert.Equal(t, 1, result.Skipped[SkipUnknownStore])
}

func TestAcquireKeepsSearchedNameFindable(t *testing.T) {
	ctx := context.Background()
	walmart := newScripted("walmart", 3.48)
	walmart.title = "Great Value Milk, Whole, 1 Gallon"
	mem := store.NewMemoryStore()
	gate := NewGate(fetcher.NewRegistry(walmart), mem, nil, nil, testConfig())

	_, err := gate.Acquire(ctx, []string{"whole milk"}, []string{"walmart"})
	require.NoError(t, err)

	rows, err := mem.GetObservations(ctx, store.ObservationQuery{Product: "whole milk", Since: time.Now().Add(-time.Hour)})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 3.48, rows[0].Price)
}

func TestAcquireCleansRecencyCacheAfterSave(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	gate := NewGate(fetcher.NewRegistry(newScripted("kroger", 1.99)), store.NewMemoryStore(), nil, nil, testConfig())
	gate.now = func() time.Time { return clock }

	_, err := gate.Acquire(ctx, []string{"rice"}, []string{"kroger"})
	require.NoError(t, err)
	assert.Equal(t, 1, gate.Tracker().Len())

	clock = clock.Add(2 * time.Hour)
	_, err = gate.Acquire(ctx, []string{"pasta"}, []string{"kroger"})
	require.NoError(t, err)
	assert.Equal(t, 1, gate.Tracker().Len())
}

func TestAcquirePersistenceFailureIsSoft(t *testing.T) {
	pub := &recordingPublisher{}
	gate := NewGate(fetcher.NewRegistry(newScripted("target", 4.99)), &failingStore{}, nil, pub, testConfig())

	result, err := gate.Acquire(context.Background(), []string{"cheese"}, []string{"target"})
	require.NoError(t, err)
	assert.Len(t, result.Observations, 1)
	assert.Equal(t, 0, result.Persisted)

	var perr *store.PersistenceError
	require.True(t, errors.As(result.PersistErr, &perr))
	assert.Equal(t, "upsert", perr.Op)
	assert.Empty(t, pub.events)
}

func TestAcquirePublishesAfterSave(t *testing.T) {
	pub := &recordingPublisher{}
	gate := NewGate(fetcher.NewRegistry(newScripted("walmart", 0.99)), store.NewMemoryStore(), nil, pub, testConfig())

	_, err := gate.Acquire(context.Background(), []string{"yogurt"}, []string{"walmart"})
	require.NoError(t, err)

	require.Len(t, pub.events, 1)
	event := pub.events[0]
	assert.Equal(t, models.EventTypePricesUpdated, event.EventType)
	assert.NotEmpty(t, event.EventID)
	assert.Equal(t, []string{"walmart"}, event.Stores)
	assert.Equal(t, 1, event.Affected)
	require.Len(t, event.Observations, 1)
	assert.Equal(t, 0.99, event.Observations[0].Price)
}

func TestAcquireRespectsRemoteClaims(t *testing.T) {
	dist := newFakeDistributed()
	dist.claimed[PairKey("bananas", "kroger")] = true
	kroger := newScripted("kroger", 1.29)
	walmart := newScripted("walmart", 1.19)
	gate := NewGate(fetcher.NewRegistry(kroger, walmart), store.NewMemoryStore(), dist, nil, testConfig())

	result, err := gate.Acquire(context.Background(), []string{"bananas"}, []string{"kroger", "walmart"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Dispatched)
	assert.Equal(t, 1, result.Skipped[SkipClaimedRemote])
	assert.Equal(t, 0, kroger.total())
	assert.False(t, gate.Tracker().InFlight(PairKey("bananas", "kroger")))
	assert.True(t, dist.completed[PairKey("bananas", "walmart")])
}

func TestAcquireCancelledContext(t *testing.T) {
	cfg := testConfig()
	cfg.Jitter = time.Hour
	walmart := newScripted("walmart", 1)
	gate := NewGate(fetcher.NewRegistry(walmart), store.NewMemoryStore(), nil, nil, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := gate.Acquire(ctx, []string{"onions"}, []string{"walmart"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, result.Dispatched)
	assert.Len(t, result.Failures, 1)
	assert.Equal(t, 0, walmart.total())
	assert.False(t, gate.Tracker().InFlight(PairKey("onions", "walmart")))
}

func TestTrackerReserveAndCleanup(t *testing.T) {
	tr := NewTracker()
	now := time.Now()

	assert.Equal(t, "", tr.Reserve("milk_walmart", now, 10*time.Minute))
	assert.Equal(t, SkipInFlight, tr.Reserve("milk_walmart", now, 10*time.Minute))

	tr.Release("milk_walmart", true, now)
	assert.Equal(t, SkipRecent, tr.Reserve("milk_walmart", now.Add(5*time.Minute), 10*time.Minute))
	assert.Equal(t, "", tr.Reserve("milk_walmart", now.Add(11*time.Minute), 10*time.Minute))
	tr.Release("milk_walmart", false, now.Add(11*time.Minute))

	assert.Equal(t, 1, tr.Len())
	assert.Equal(t, 1, tr.Cleanup(now.Add(time.Minute)))
	assert.Equal(t, 0, tr.Len())
}

func TestPairKey(t *testing.T) {
	assert.Equal(t, "whole milk_walmart", PairKey("  Whole Milk ", "Walmart"))
}

type pacedFetcher struct {
	store string
	hold  time.Duration

	mu       sync.Mutex
	inFlight int
	peak     int
	starts   []time.Time
}

func (f *pacedFetcher) Store() string { return f.store }

func (f *pacedFetcher) Fetch(ctx context.Context, product string) (*models.PriceObservation, error) {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.peak {
		f.peak = f.inFlight
	}
	f.starts = append(f.starts, time.Now())
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	select {
	case <-time.After(f.hold):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &models.PriceObservation{ProductName: product, StoreID: f.store, Price: 1.99, Available: true}, nil
}

func TestAcquireBoundsConcurrencyAndSpacesDispatches(t *testing.T) {
	const delay = 20 * time.Millisecond
	cfg := testConfig()
	cfg.Delay = delay
	cfg.Concurrency = 3

	f := &pacedFetcher{store: "walmart", hold: 100 * time.Millisecond}
	gate := NewGate(fetcher.NewRegistry(f), store.NewMemoryStore(), nil, nil, cfg)

	products := make([]string, 10)
	for i := range products {
		products[i] = fmt.Sprintf("item %d", i)
	}

	start := time.Now()
	result, err := gate.Acquire(context.Background(), products, []string{"walmart"})
	require.NoError(t, err)
	elapsed := time.Since(start)

	assert.Equal(t, 10, result.Dispatched)
	assert.Len(t, result.Observations, 10)
	assert.Equal(t, 3, f.peak)

	f.mu.Lock()
	starts := append([]time.Time(nil), f.starts...)
	f.mu.Unlock()
	require.Len(t, starts, 10)
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })

	// small slack for goroutine start-up between the pacer and Fetch
	const slack = 5 * time.Millisecond
	for i := 1; i < len(starts); i++ {
		assert.GreaterOrEqual(t, starts[i].Sub(starts[i-1]), delay-slack, "gap before dispatch %d", i)
	}
	assert.GreaterOrEqual(t, elapsed, 9*delay)
}
