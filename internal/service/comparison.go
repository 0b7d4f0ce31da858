package service

import (
	"sort"
	"time"

	"grocery-pricing/internal/models"

	"github.com/shopspring/decimal"
)

var (
	highThreshold   = decimal.NewFromFloat(0.8)
	mediumThreshold = decimal.NewFromFloat(0.5)
	one             = decimal.NewFromInt(1)
	two             = decimal.NewFromInt(2)
)

// confidenceWeights maps labels to the numeric weights averaged per store
var confidenceWeights = map[models.Confidence]decimal.Decimal{
	models.ConfidenceHigh:   decimal.NewFromFloat(1.0),
	models.ConfidenceMedium: decimal.NewFromFloat(0.7),
	models.ConfidenceLow:    decimal.NewFromFloat(0.4),
}

// BucketConfidence labels a score in [0, 1]: >= 0.8 high, >= 0.5 medium, else low.
func BucketConfidence(score decimal.Decimal) models.Confidence {
	switch {
	case score.GreaterThanOrEqual(highThreshold):
		return models.ConfidenceHigh
	case score.GreaterThanOrEqual(mediumThreshold):
		return models.ConfidenceMedium
	default:
		return models.ConfidenceLow
	}
}

// ConfidenceScore averages the recency score (share of observations within
// recentWindow of now) and the coverage score (stores / idealStores, capped at 1).
func ConfidenceScore(obs []models.PriceObservation, stores, idealStores int, now time.Time, recentWindow time.Duration) decimal.Decimal {
	if len(obs) == 0 {
		return decimal.Zero
	}

	recent := 0
	for _, o := range obs {
		if now.Sub(o.ObservedAt) <= recentWindow {
			recent++
		}
	}
	recency := decimal.NewFromInt(int64(recent)).Div(decimal.NewFromInt(int64(len(obs))))

	if idealStores <= 0 {
		idealStores = 1
	}
	coverage := decimal.NewFromInt(int64(stores)).Div(decimal.NewFromInt(int64(idealStores)))
	if coverage.GreaterThan(one) {
		coverage = one
	}

	return recency.Add(coverage).Div(two)
}

// BuildComparison aggregates observations of one product into a comparison.
// Only available observations contribute; each store is represented by its
// lowest price. It returns nil when no store has an available observation.
func BuildComparison(product string, obs []models.PriceObservation, now time.Time, recentWindow time.Duration, idealStores int) *models.PriceComparison {
	used := make([]models.PriceObservation, 0, len(obs))
	byStore := make(map[string]models.StorePrice)
	for _, o := range obs {
		if !o.Available {
			continue
		}
		used = append(used, o)

		sp, ok := byStore[o.StoreID]
		if !ok || o.Price < sp.Price {
			lastUpdated := o.ObservedAt
			if ok && sp.LastUpdated.After(lastUpdated) {
				lastUpdated = sp.LastUpdated
			}
			byStore[o.StoreID] = models.StorePrice{
				Price:       o.Price,
				ProductName: o.ProductName,
				Unit:        o.Unit,
				SourceURL:   o.SourceURL,
				LastUpdated: lastUpdated,
			}
			continue
		}
		if o.ObservedAt.After(sp.LastUpdated) {
			sp.LastUpdated = o.ObservedAt
			byStore[o.StoreID] = sp
		}
	}
	if len(byStore) == 0 {
		return nil
	}

	stores := make([]string, 0, len(byStore))
	for s := range byStore {
		stores = append(stores, s)
	}
	sort.Strings(stores)

	cheapestStore := stores[0]
	minPrice := byStore[cheapestStore].Price
	maxPrice := minPrice
	sum := decimal.Zero
	var lastUpdated time.Time
	for _, s := range stores {
		sp := byStore[s]
		if sp.Price < minPrice {
			minPrice = sp.Price
			cheapestStore = s
		}
		if sp.Price > maxPrice {
			maxPrice = sp.Price
		}
		sum = sum.Add(decimal.NewFromFloat(sp.Price))
		if sp.LastUpdated.After(lastUpdated) {
			lastUpdated = sp.LastUpdated
		}
	}

	average, _ := sum.Div(decimal.NewFromInt(int64(len(stores)))).Round(2).Float64()
	savings, _ := decimal.NewFromFloat(maxPrice).Sub(decimal.NewFromFloat(minPrice)).Round(2).Float64()
	score := ConfidenceScore(used, len(stores), idealStores, now, recentWindow)

	return &models.PriceComparison{
		ProductName:        product,
		CheapestPrice:      minPrice,
		CheapestStore:      cheapestStore,
		AveragePrice:       average,
		PriceRange:         [2]float64{minPrice, maxPrice},
		StoresCompared:     len(stores),
		SavingsOpportunity: savings,
		PriceByStore:       byStore,
		Confidence:         BucketConfidence(score),
		LastUpdated:        lastUpdated,
	}
}

// freshStoreCount counts distinct stores with an available observation
func freshStoreCount(obs []models.PriceObservation) int {
	stores := make(map[string]struct{})
	for _, o := range obs {
		if o.Available {
			stores[o.StoreID] = struct{}{}
		}
	}
	return len(stores)
}
