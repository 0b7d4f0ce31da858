// Package acquisition deduplicates, caps and paces price fetches for
// (product, store) pairs and persists what the fetchers return.
package acquisition

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"grocery-pricing/internal/fetcher"
	"grocery-pricing/internal/match"
	"grocery-pricing/internal/models"
	"grocery-pricing/internal/store"
	"grocery-pricing/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config controls dedup windows, fan-out and pacing
type Config struct {
	RecencyWindow  time.Duration
	MaxPairs       int
	Concurrency    int
	Delay          time.Duration
	Jitter         time.Duration
	FetchTimeout   time.Duration
	CacheRetention time.Duration
	Freshness      time.Duration
}

// DefaultConfig returns the default gate configuration
func DefaultConfig() Config {
	return Config{
		RecencyWindow:  10 * time.Minute,
		MaxPairs:       10,
		Concurrency:    3,
		Delay:          time.Second,
		Jitter:         time.Second,
		FetchTimeout:   30 * time.Second,
		CacheRetention: time.Hour,
		Freshness:      6 * time.Hour,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.RecencyWindow <= 0 {
		c.RecencyWindow = d.RecencyWindow
	}
	if c.MaxPairs <= 0 {
		c.MaxPairs = d.MaxPairs
	}
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = d.FetchTimeout
	}
	if c.CacheRetention <= 0 {
		c.CacheRetention = d.CacheRetention
	}
	if c.Freshness <= 0 {
		c.Freshness = d.Freshness
	}
	return c
}

// DistributedTracker coordinates pair claims across gate instances
type DistributedTracker interface {
	ClaimPair(ctx context.Context, key string, ttl time.Duration) (bool, error)
	CompletePair(ctx context.Context, key string, success bool, recentTTL time.Duration) error
}

// Publisher announces persisted price updates
type Publisher interface {
	PublishPricesUpdated(ctx context.Context, event *models.PricesUpdatedEvent) error
}

// AcquisitionError records a failed fetch for one pair
type AcquisitionError struct {
	Product string
	Store   string
	Err     error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("fetch %q at %s: %v", e.Product, e.Store, e.Err)
}

func (e *AcquisitionError) Unwrap() error {
	return e.Err
}

// Result summarizes one Acquire call
type Result struct {
	Requested    int
	Dispatched   int
	Skipped      map[string]int
	Observations []models.PriceObservation
	Failures     []*AcquisitionError
	Persisted    int
	PersistErr   error
}

type pair struct {
	key     string
	product string
	store   string
	fetcher fetcher.Fetcher
}

// Gate is the acquisition entry point shared by all comparisons in a process
type Gate struct {
	fetchers  *fetcher.Registry
	store     store.PriceStore
	tracker   *Tracker
	dist      DistributedTracker
	publisher Publisher
	pacer     *Pacer
	cfg       Config
	now       func() time.Time
	logger    *zap.Logger
}

// NewGate creates a gate. dist and publisher may be nil.
func NewGate(
	fetchers *fetcher.Registry,
	priceStore store.PriceStore,
	dist DistributedTracker,
	publisher Publisher,
	cfg Config,
) *Gate {
	cfg = cfg.withDefaults()
	return &Gate{
		fetchers:  fetchers,
		store:     priceStore,
		tracker:   NewTracker(),
		dist:      dist,
		publisher: publisher,
		pacer:     NewPacer(cfg.Delay, cfg.Jitter),
		cfg:       cfg,
		now:       time.Now,
		logger:    util.ComponentLogger("acquisition"),
	}
}

// Tracker exposes the gate's in-flight set and recency cache
func (g *Gate) Tracker() *Tracker {
	return g.tracker
}

// Acquire fetches and persists prices for the cross product of products and
// stores. Per-pair failures and persistence failures are reported in the
// result; the returned error is non-nil only when ctx ends mid-batch.
func (g *Gate) Acquire(ctx context.Context, products, stores []string) (*Result, error) {
	ctx, span := util.StartSpan(ctx, "Gate.Acquire")
	defer span.End()

	if len(stores) == 0 {
		stores = g.fetchers.Stores()
	}

	pairs, result := g.plan(ctx, products, stores)
	if len(pairs) == 0 {
		g.logger.Debug("No pairs to dispatch",
			zap.Int("requested", result.Requested),
			zap.Any("skipped", result.Skipped))
		return result, nil
	}

	var mu sync.Mutex
	var ctxErr error
	for start := 0; start < len(pairs) && ctxErr == nil; start += g.cfg.Concurrency {
		end := start + g.cfg.Concurrency
		if end > len(pairs) {
			end = len(pairs)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			if err := g.pacer.Wait(ctx); err != nil {
				ctxErr = err
				g.abandon(ctx, pairs[i:], result, err)
				break
			}

			result.Dispatched++
			wg.Add(1)
			go func(p pair) {
				defer wg.Done()
				obs, err := g.fetchPair(ctx, p)

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					result.Failures = append(result.Failures, &AcquisitionError{Product: p.product, Store: p.store, Err: err})
					return
				}
				if obs != nil {
					result.Observations = append(result.Observations, *obs)
				}
			}(pairs[i])
		}
		wg.Wait()
	}

	g.persist(ctx, result)
	util.RecencyCacheSize.Set(float64(g.tracker.Len()))

	g.logger.Info("Acquisition batch complete",
		zap.Int("requested", result.Requested),
		zap.Int("dispatched", result.Dispatched),
		zap.Int("fetched", len(result.Observations)),
		zap.Int("failed", len(result.Failures)),
		zap.Int("persisted", result.Persisted))

	return result, ctxErr
}

// plan reserves the pairs this call will dispatch
func (g *Gate) plan(ctx context.Context, products, stores []string) ([]pair, *Result) {
	result := &Result{Skipped: make(map[string]int)}
	now := g.now()
	claimTTL := g.batchTTL()

	pairs := make([]pair, 0, g.cfg.MaxPairs)
	for _, product := range products {
		product = strings.TrimSpace(product)
		if product == "" {
			continue
		}
		for _, storeID := range stores {
			result.Requested++

			f, ok := g.fetchers.Get(storeID)
			if !ok {
				g.skip(result, SkipUnknownStore)
				g.logger.Debug("No fetcher for store", zap.String("store", storeID))
				continue
			}
			if len(pairs) >= g.cfg.MaxPairs {
				g.skip(result, SkipOverCap)
				continue
			}

			key := PairKey(product, f.Store())
			if reason := g.tracker.Reserve(key, now, g.cfg.RecencyWindow); reason != "" {
				g.skip(result, reason)
				continue
			}

			if g.dist != nil {
				claimed, err := g.dist.ClaimPair(ctx, key, claimTTL)
				if err != nil {
					g.logger.Warn("Distributed claim failed, continuing locally",
						zap.String("key", key), zap.Error(err))
				} else if !claimed {
					g.tracker.Release(key, false, now)
					g.skip(result, SkipClaimedRemote)
					continue
				}
			}

			pairs = append(pairs, pair{key: key, product: product, store: f.Store(), fetcher: f})
		}
	}
	return pairs, result
}

// fetchPair runs one fetch under the timeout budget and releases the pair
func (g *Gate) fetchPair(ctx context.Context, p pair) (obs *models.PriceObservation, err error) {
	ctx, span := util.StartSpan(ctx, "Gate.fetchPair", "product", p.product, "store", p.store)
	defer span.End()

	start := time.Now()
	defer func() {
		outcome := "success"
		switch {
		case err != nil:
			outcome = "error"
			span.RecordError(err)
		case obs == nil:
			outcome = "not_found"
		}
		util.FetchesTotal.WithLabelValues(p.store, outcome).Inc()
		util.FetchLatency.WithLabelValues(p.store).Observe(time.Since(start).Seconds())
		g.release(ctx, p, err == nil)
	}()

	obs, err = g.fetchWithTimeout(ctx, p)
	if err != nil {
		g.logger.Warn("Fetch failed",
			zap.String("product", p.product),
			zap.String("store", p.store),
			zap.Error(err))
		return nil, err
	}
	if obs == nil {
		return nil, nil
	}

	if obs.StoreID == "" {
		obs.StoreID = p.store
	}
	// reads match on substring, so keep the searched name findable
	if !match.ContainsFold(obs.ProductName, p.product) {
		obs.ProductName = p.product
	}
	if obs.ObservedAt.IsZero() {
		obs.ObservedAt = g.now()
	}
	if err := obs.Validate(); err != nil {
		return nil, fmt.Errorf("invalid observation: %w", err)
	}
	return obs, nil
}

func (g *Gate) fetchWithTimeout(ctx context.Context, p pair) (*models.PriceObservation, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.FetchTimeout)
	defer cancel()

	type outcome struct {
		obs *models.PriceObservation
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("fetcher panic: %v", r)}
			}
		}()
		obs, err := p.fetcher.Fetch(ctx, p.product)
		done <- outcome{obs: obs, err: err}
	}()

	select {
	case out := <-done:
		return out.obs, out.err
	case <-ctx.Done():
		return nil, fmt.Errorf("fetch abandoned: %w", ctx.Err())
	}
}

func (g *Gate) release(ctx context.Context, p pair, success bool) {
	g.tracker.Release(p.key, success, g.now())
	if g.dist == nil {
		return
	}
	if err := g.dist.CompletePair(ctx, p.key, success, g.cfg.RecencyWindow); err != nil {
		g.logger.Warn("Distributed completion failed", zap.String("key", p.key), zap.Error(err))
	}
}

// abandon releases pairs that were reserved but never dispatched
func (g *Gate) abandon(ctx context.Context, pairs []pair, result *Result, err error) {
	for _, p := range pairs {
		g.release(ctx, p, false)
		result.Failures = append(result.Failures, &AcquisitionError{Product: p.product, Store: p.store, Err: err})
	}
}

func (g *Gate) persist(ctx context.Context, result *Result) {
	if len(result.Observations) == 0 {
		return
	}

	since := g.now().Add(-g.cfg.Freshness)
	n, err := g.store.UpsertObservations(ctx, result.Observations, since)
	if err != nil {
		util.PersistenceFailuresTotal.WithLabelValues("upsert").Inc()
		result.PersistErr = &store.PersistenceError{Op: "upsert", Err: err}
		g.logger.Error("Failed to persist fetched prices",
			zap.Int("observations", len(result.Observations)),
			zap.Error(err))
		return
	}

	result.Persisted = n
	util.ObservationsUpsertedTotal.Add(float64(n))

	if removed := g.tracker.Cleanup(g.now().Add(-g.cfg.CacheRetention)); removed > 0 {
		g.logger.Debug("Evicted recency cache entries", zap.Int("removed", removed))
	}

	g.publish(ctx, result)
}

func (g *Gate) publish(ctx context.Context, result *Result) {
	if g.publisher == nil {
		return
	}

	productSet := make(map[string]struct{})
	storeSet := make(map[string]struct{})
	briefs := make([]models.ObservationBrief, 0, len(result.Observations))
	for _, o := range result.Observations {
		productSet[o.ProductName] = struct{}{}
		storeSet[o.StoreID] = struct{}{}
		briefs = append(briefs, models.ObservationBrief{
			ProductName: o.ProductName,
			StoreID:     o.StoreID,
			Price:       o.Price,
			Available:   o.Available,
			ObservedAt:  o.ObservedAt,
		})
	}

	event := &models.PricesUpdatedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypePricesUpdated,
			Timestamp: g.now(),
		},
		Products:     keys(productSet),
		Stores:       keys(storeSet),
		Affected:     result.Persisted,
		Observations: briefs,
	}
	if err := g.publisher.PublishPricesUpdated(ctx, event); err != nil && !errors.Is(err, context.Canceled) {
		g.logger.Warn("Failed to publish prices updated event", zap.Error(err))
	}
}

func (g *Gate) skip(result *Result, reason string) {
	result.Skipped[reason]++
	util.AcquisitionSkippedTotal.WithLabelValues(reason).Inc()
}

// batchTTL bounds how long a remote claim may outlive a crashed batch
func (g *Gate) batchTTL() time.Duration {
	chunks := (g.cfg.MaxPairs + g.cfg.Concurrency - 1) / g.cfg.Concurrency
	pacing := time.Duration(g.cfg.MaxPairs) * (g.cfg.Delay + g.cfg.Jitter)
	return time.Duration(chunks)*g.cfg.FetchTimeout + pacing
}

func keys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
