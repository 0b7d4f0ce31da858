package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"grocery-pricing/internal/match"
	"grocery-pricing/internal/models"
	"grocery-pricing/internal/store"
	"grocery-pricing/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	defaultTrendDays     = 30
	maxTrendDays         = 365
	trendThreshold       = 5.0
	substituteCandidates = 10
	maxSubstitutes       = 5
)

// TrackPriceTrends reports how a product's price moved per store over the last days
func (s *PriceService) TrackPriceTrends(ctx context.Context, product string, days int) (*models.PriceTrendReport, error) {
	ctx, span := util.StartSpan(ctx, "PriceService.TrackPriceTrends", "product", product)
	defer span.End()

	product = strings.TrimSpace(product)
	if product == "" {
		return nil, fmt.Errorf("%w: product is required", ErrInvalidArgument)
	}
	if days == 0 {
		days = defaultTrendDays
	}
	if days < 1 || days > maxTrendDays {
		return nil, fmt.Errorf("%w: days must be between 1 and %d", ErrInvalidArgument, maxTrendDays)
	}

	obs, err := s.store.GetObservations(ctx, store.ObservationQuery{
		Product: product,
		Since:   s.now().Add(-time.Duration(days) * 24 * time.Hour),
	})
	if err != nil {
		util.PersistenceFailuresTotal.WithLabelValues("read").Inc()
		return nil, &store.PersistenceError{Op: "read", Err: err}
	}
	if len(obs) == 0 {
		return nil, fmt.Errorf("%w: no price history for %q in the last %d days", ErrNoData, product, days)
	}

	return BuildTrendReport(product, days, obs), nil
}

// BuildTrendReport groups observations per store in time order and classifies
// the move from the first to the last price of each store with two or more points.
func BuildTrendReport(product string, days int, obs []models.PriceObservation) *models.PriceTrendReport {
	sorted := make([]models.PriceObservation, len(obs))
	copy(sorted, obs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ObservedAt.Before(sorted[j].ObservedAt)
	})

	history := make(map[string][]models.PricePoint)
	for _, o := range sorted {
		history[o.StoreID] = append(history[o.StoreID], models.PricePoint{
			Price:       o.Price,
			Date:        o.ObservedAt,
			ProductName: o.ProductName,
		})
	}

	stores := make([]string, 0, len(history))
	analysis := make(map[string]models.StoreTrend)
	for storeID, points := range history {
		stores = append(stores, storeID)
		if len(points) < 2 {
			continue
		}

		first := decimal.NewFromFloat(points[0].Price)
		last := decimal.NewFromFloat(points[len(points)-1].Price)
		change := last.Sub(first)

		percent := decimal.Zero
		if !first.IsZero() {
			percent = change.Div(first).Mul(decimal.NewFromInt(100))
		}
		pct, _ := percent.Round(1).Float64()
		// classify on the unrounded move
		raw, _ := percent.Float64()

		trend := models.TrendStable
		switch {
		case raw > trendThreshold:
			trend = models.TrendIncreasing
		case raw < -trendThreshold:
			trend = models.TrendDecreasing
		}

		analysis[storeID] = models.StoreTrend{
			Trend:         trend,
			ChangeAmount:  roundMoney(change),
			ChangePercent: pct,
			FirstPrice:    points[0].Price,
			LastPrice:     points[len(points)-1].Price,
			DataPoints:    len(points),
		}
	}
	sort.Strings(stores)

	return &models.PriceTrendReport{
		ProductName:     product,
		PeriodDays:      days,
		StoresTracked:   stores,
		TrendAnalysis:   analysis,
		PriceHistory:    history,
		TotalDataPoints: len(sorted),
	}
}

// FindSubstitutes looks for cheaper products sharing the product's main keyword
func (s *PriceService) FindSubstitutes(ctx context.Context, product string, maxPriceDiff float64) ([]models.Substitute, error) {
	ctx, span := util.StartSpan(ctx, "PriceService.FindSubstitutes", "product", product)
	defer span.End()

	product = strings.TrimSpace(product)
	if product == "" {
		return nil, fmt.Errorf("%w: product is required", ErrInvalidArgument)
	}
	if maxPriceDiff < 0 || math.IsNaN(maxPriceDiff) {
		return nil, fmt.Errorf("%w: max_price_diff must be non-negative", ErrInvalidArgument)
	}

	since := s.now().Add(-s.cfg.SubstituteWindow)
	current, err := s.store.GetObservations(ctx, store.ObservationQuery{
		Product:       product,
		Since:         since,
		AvailableOnly: true,
	})
	if err != nil {
		util.PersistenceFailuresTotal.WithLabelValues("read").Inc()
		return nil, &store.PersistenceError{Op: "read", Err: err}
	}
	if len(current) == 0 {
		return nil, fmt.Errorf("%w: no current price for %q", ErrNoData, product)
	}

	keyword := match.MainKeyword(product)
	candidates, err := s.store.GetObservations(ctx, store.ObservationQuery{
		Product:       keyword,
		Since:         since,
		AvailableOnly: true,
	})
	if err != nil {
		util.PersistenceFailuresTotal.WithLabelValues("read").Inc()
		s.logger.Warn("Failed to read substitute candidates",
			zap.String("keyword", keyword),
			zap.Error(err))
		return []models.Substitute{}, nil
	}

	return SelectSubstitutes(product, current, candidates, maxPriceDiff), nil
}

// SelectSubstitutes compares candidates against the product's average current
// price. The most recent distinct candidates below average+maxPriceDiff are
// considered and those cheaper than the average are returned, best savings first.
func SelectSubstitutes(product string, current, candidates []models.PriceObservation, maxPriceDiff float64) []models.Substitute {
	sum := decimal.Zero
	for _, o := range current {
		sum = sum.Add(decimal.NewFromFloat(o.Price))
	}
	avg := sum.Div(decimal.NewFromInt(int64(len(current))))
	ceiling := avg.Add(decimal.NewFromFloat(maxPriceDiff))

	seen := make(map[string]struct{})
	considered := 0
	subs := make([]models.Substitute, 0)
	for i := len(candidates) - 1; i >= 0 && considered < substituteCandidates; i-- {
		c := candidates[i]
		if strings.EqualFold(strings.TrimSpace(c.ProductName), product) {
			continue
		}
		price := decimal.NewFromFloat(c.Price)
		if !price.LessThan(ceiling) {
			continue
		}
		key := strings.ToLower(c.ProductName) + "|" + c.StoreID
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		considered++

		savings := avg.Sub(price)
		if !savings.IsPositive() {
			continue
		}
		percent, _ := savings.Div(avg).Mul(decimal.NewFromInt(100)).Round(1).Float64()
		subs = append(subs, models.Substitute{
			ProductName:    c.ProductName,
			Store:          c.StoreID,
			Price:          c.Price,
			Savings:        roundMoney(savings),
			SavingsPercent: percent,
			MatchScore:     match.KeywordOverlap(product, c.ProductName),
		})
	}

	sort.SliceStable(subs, func(i, j int) bool {
		return subs[i].Savings > subs[j].Savings
	})
	if len(subs) > maxSubstitutes {
		subs = subs[:maxSubstitutes]
	}
	return subs
}
