package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"grocery-pricing/internal/acquisition"
	"grocery-pricing/internal/models"
	"grocery-pricing/internal/store"
	"grocery-pricing/internal/util"

	"go.uber.org/zap"
)

// Refresher acquires fresh observations for products at stores
type Refresher interface {
	Acquire(ctx context.Context, products, stores []string) (*acquisition.Result, error)
}

// Config holds the pricing thresholds
type Config struct {
	Freshness         time.Duration
	RecentWindow      time.Duration
	MinFreshStores    int
	IdealStoreCount   int
	CoverageFloor     float64
	DefaultStores     []string
	DefaultMinSavings float64
	SubstituteWindow  time.Duration
}

// DefaultConfig returns the default pricing thresholds
func DefaultConfig() Config {
	return Config{
		Freshness:         6 * time.Hour,
		RecentWindow:      2 * time.Hour,
		MinFreshStores:    2,
		IdealStoreCount:   3,
		CoverageFloor:     0.7,
		DefaultStores:     []string{"walmart", "target", "kroger"},
		DefaultMinSavings: 1.0,
		SubstituteWindow:  24 * time.Hour,
	}
}

// PriceService compares prices across stores and derives recommendations
type PriceService struct {
	store     store.PriceStore
	refresher Refresher
	cfg       Config
	now       func() time.Time
	logger    *zap.Logger
}

// NewPriceService creates a new price service. refresher may be nil, in
// which case comparisons use cached observations only.
func NewPriceService(priceStore store.PriceStore, refresher Refresher, cfg Config) *PriceService {
	return &PriceService{
		store:     priceStore,
		refresher: refresher,
		cfg:       cfg,
		now:       time.Now,
		logger:    util.ComponentLogger("price_service"),
	}
}

// Config returns the service thresholds
func (s *PriceService) Config() Config {
	return s.cfg
}

// Compare builds a comparison for each product. Products without usable data
// are absent from the result; a failure on one product never affects another.
func (s *PriceService) Compare(ctx context.Context, productNames, stores []string, forceRefresh bool) (map[string]*models.PriceComparison, error) {
	ctx, span := util.StartSpan(ctx, "PriceService.Compare")
	defer span.End()

	products, err := normalizeProducts(productNames)
	if err != nil {
		return nil, err
	}
	stores = normalizeStores(stores)

	results := make(map[string]*models.PriceComparison, len(products))
	for _, product := range products {
		cmp, err := s.compareOne(ctx, product, stores, forceRefresh)
		if err != nil {
			util.ComparisonsTotal.WithLabelValues("error").Inc()
			s.logger.Error("Comparison failed",
				zap.String("product", product),
				zap.Error(err))
			continue
		}
		if cmp == nil {
			util.ComparisonsTotal.WithLabelValues("no_data").Inc()
			s.logger.Info("No price data available", zap.String("product", product))
			continue
		}
		util.ComparisonsTotal.WithLabelValues("ok").Inc()
		results[product] = cmp
	}

	return results, nil
}

func (s *PriceService) compareOne(ctx context.Context, product string, stores []string, forceRefresh bool) (cmp *models.PriceComparison, err error) {
	ctx, span := util.StartSpan(ctx, "PriceService.compareOne", "product", product)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic comparing %q: %v", product, r)
		}
	}()

	obs := s.readFresh(ctx, product, stores)

	reason := ""
	switch {
	case forceRefresh:
		reason = "forced"
	case freshStoreCount(obs) < s.cfg.MinFreshStores:
		reason = "insufficient_stores"
	}

	if reason != "" && s.refresher != nil {
		util.PriceRefreshesTotal.WithLabelValues(reason).Inc()
		targets := stores
		if len(targets) == 0 {
			targets = s.cfg.DefaultStores
		}

		result, err := s.refresher.Acquire(ctx, []string{product}, targets)
		if err != nil {
			s.logger.Warn("Price refresh interrupted",
				zap.String("product", product),
				zap.Error(err))
		}
		if result != nil && len(result.Failures) > 0 {
			s.logger.Debug("Some store fetches failed",
				zap.String("product", product),
				zap.Int("failed", len(result.Failures)))
		}

		obs = s.readFresh(ctx, product, stores)
	}

	now := s.now()
	return BuildComparison(product, s.within(obs, now), now, s.cfg.RecentWindow, s.cfg.IdealStoreCount), nil
}

// readFresh returns observations inside the freshness window; a read failure
// is treated as no data
func (s *PriceService) readFresh(ctx context.Context, product string, stores []string) []models.PriceObservation {
	obs, err := s.store.GetObservations(ctx, store.ObservationQuery{
		Product: product,
		Stores:  stores,
		Since:   s.now().Add(-s.cfg.Freshness),
	})
	if err != nil {
		util.PersistenceFailuresTotal.WithLabelValues("read").Inc()
		s.logger.Warn("Failed to read cached prices",
			zap.String("product", product),
			zap.Error(&store.PersistenceError{Op: "read", Err: err}))
		return nil
	}
	return obs
}

// within drops observations older than the freshness window
func (s *PriceService) within(obs []models.PriceObservation, now time.Time) []models.PriceObservation {
	cutoff := now.Add(-s.cfg.Freshness)
	out := obs[:0:0]
	for _, o := range obs {
		if o.ObservedAt.After(cutoff) {
			out = append(out, o)
		}
	}
	return out
}

// FindBestDeals returns products whose savings reach minSavings, largest first
func (s *PriceService) FindBestDeals(ctx context.Context, productNames []string, minSavings float64) ([]models.DealCandidate, error) {
	ctx, span := util.StartSpan(ctx, "PriceService.FindBestDeals")
	defer span.End()

	if minSavings < 0 || math.IsNaN(minSavings) {
		return nil, fmt.Errorf("%w: min_savings must be non-negative", ErrInvalidArgument)
	}

	comparisons, err := s.Compare(ctx, productNames, nil, false)
	if err != nil {
		return nil, err
	}

	deals := SelectDeals(comparisons, minSavings)
	util.DealsFoundTotal.Add(float64(len(deals)))
	return deals, nil
}

// SelectDeals filters comparisons by savings and orders them by savings
// descending, then product name.
func SelectDeals(comparisons map[string]*models.PriceComparison, minSavings float64) []models.DealCandidate {
	deals := make([]models.DealCandidate, 0)
	for name, cmp := range comparisons {
		if cmp == nil || cmp.SavingsOpportunity < minSavings {
			continue
		}
		deals = append(deals, models.DealCandidate{
			ProductName:   name,
			CheapestStore: cmp.CheapestStore,
			CheapestPrice: cmp.CheapestPrice,
			Savings:       cmp.SavingsOpportunity,
			Confidence:    cmp.Confidence,
		})
	}

	sort.Slice(deals, func(i, j int) bool {
		if deals[i].Savings != deals[j].Savings {
			return deals[i].Savings > deals[j].Savings
		}
		return deals[i].ProductName < deals[j].ProductName
	})
	return deals
}

// normalizeProducts trims and deduplicates names, rejecting blanks
func normalizeProducts(names []string) ([]string, error) {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			return nil, fmt.Errorf("%w: product names must not be blank", ErrInvalidArgument)
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out, nil
}

func normalizeStores(stores []string) []string {
	if len(stores) == 0 {
		return nil
	}
	out := make([]string, 0, len(stores))
	seen := make(map[string]struct{}, len(stores))
	for _, s := range stores {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// IngestObservations validates and upserts externally produced observations
func (s *PriceService) IngestObservations(ctx context.Context, obs []models.PriceObservation) (int, error) {
	ctx, span := util.StartSpan(ctx, "PriceService.IngestObservations")
	defer span.End()

	if len(obs) == 0 {
		return 0, fmt.Errorf("%w: no observations", ErrInvalidArgument)
	}
	for i := range obs {
		obs[i].StoreID = strings.ToLower(strings.TrimSpace(obs[i].StoreID))
		obs[i].ProductName = strings.TrimSpace(obs[i].ProductName)
		if obs[i].ObservedAt.IsZero() {
			obs[i].ObservedAt = s.now()
		}
		if err := obs[i].Validate(); err != nil {
			return 0, fmt.Errorf("%w: observation %d: %v", ErrInvalidArgument, i+1, err)
		}
	}

	n, err := s.store.UpsertObservations(ctx, obs, s.now().Add(-s.cfg.Freshness))
	if err != nil {
		util.PersistenceFailuresTotal.WithLabelValues("upsert").Inc()
		return 0, &store.PersistenceError{Op: "upsert", Err: err}
	}
	util.ObservationsUpsertedTotal.Add(float64(n))
	return n, nil
}
