package service

import (
	"context"
	"testing"
	"time"

	"grocery-pricing/internal/models"
	"grocery-pricing/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func comparisonOf(product string, prices map[string]float64) *models.PriceComparison {
	now := time.Now()
	obs := make([]models.PriceObservation, 0, len(prices))
	for storeID, price := range prices {
		obs = append(obs, observation(product, storeID, price, time.Minute, now))
	}
	return BuildComparison(product, obs, now, 2*time.Hour, 3)
}

func TestBuildOptimizationFullCoverage(t *testing.T) {
	comparisons := map[string]*models.PriceComparison{
		"milk":  comparisonOf("milk", map[string]float64{"walmart": 3.29, "target": 3.79, "kroger": 3.49}),
		"bread": comparisonOf("bread", map[string]float64{"walmart": 2.50, "target": 1.99, "kroger": 2.29}),
	}
	items := []models.ShoppingListItem{
		{Item: "milk", Quantity: 2},
		{Item: "bread", Quantity: 1},
	}

	opt := BuildOptimization(items, comparisons, 0.7)

	require.NotNil(t, opt.BestStore)
	assert.Equal(t, "walmart", *opt.BestStore)
	require.NotNil(t, opt.BestTotal)
	assert.Equal(t, 9.08, *opt.BestTotal)

	minTotal := opt.StoreComparisons["walmart"].Total
	for _, st := range opt.StoreComparisons {
		assert.LessOrEqual(t, minTotal, st.Total)
		assert.Equal(t, 2, st.ItemsFound)
		assert.Equal(t, models.ConfidenceHigh, st.Confidence)
	}
	assert.Equal(t, minTotal, *opt.BestTotal)
	assert.Equal(t, 9.57, opt.StoreComparisons["target"].Total)
	assert.Equal(t, 9.27, opt.StoreComparisons["kroger"].Total)

	require.NotNil(t, opt.WorstStore)
	assert.Equal(t, "target", *opt.WorstStore)
	assert.Equal(t, 0.49, *opt.SavingsVsWorst)

	assert.Equal(t, 1.51, opt.PotentialSavings)
	assert.Equal(t, 8.57, opt.CheapestSplitTotal)
	assert.Equal(t, 2, opt.ItemsCompared)
	assert.Equal(t, 2, opt.TotalItems)
	assert.Equal(t, 100.0, opt.Coverage)
	assert.Empty(t, opt.Suggestions)
}

func TestBuildOptimizationCoverageFloorExcludesPartialStores(t *testing.T) {
	comparisons := map[string]*models.PriceComparison{
		"milk":   comparisonOf("milk", map[string]float64{"aldi": 0.99, "walmart": 3.29, "target": 3.79}),
		"bread":  comparisonOf("bread", map[string]float64{"aldi": 0.49, "walmart": 2.29, "target": 2.49}),
		"eggs":   comparisonOf("eggs", map[string]float64{"walmart": 2.99, "target": 3.19}),
		"cheese": comparisonOf("cheese", map[string]float64{"walmart": 4.99}),
	}
	items := []models.ShoppingListItem{
		{Item: "milk"}, {Item: "bread"}, {Item: "eggs"}, {Item: "cheese"}, {Item: "caviar"},
	}

	opt := BuildOptimization(items, comparisons, 0.7)

	assert.Equal(t, 4, opt.ItemsCompared)
	assert.Equal(t, 5, opt.TotalItems)
	assert.Equal(t, 80.0, opt.Coverage)
	assert.Equal(t, []string{"caviar"}, opt.MissingItems)

	// aldi has 2 of 4 priced lines and the lowest partial total
	assert.Equal(t, 2, opt.StoreComparisons["aldi"].ItemsFound)
	assert.Equal(t, 1.48, opt.StoreComparisons["aldi"].Total)

	require.NotNil(t, opt.BestStore)
	assert.NotEqual(t, "aldi", *opt.BestStore)
	assert.Equal(t, "target", *opt.BestStore)
	assert.Equal(t, 9.47, *opt.BestTotal)
	assert.Equal(t, "walmart", *opt.WorstStore)
}

func TestBuildOptimizationNoEligibleStore(t *testing.T) {
	comparisons := map[string]*models.PriceComparison{
		"milk":  comparisonOf("milk", map[string]float64{"walmart": 3.29}),
		"bread": comparisonOf("bread", map[string]float64{"target": 2.29}),
		"eggs":  comparisonOf("eggs", map[string]float64{"kroger": 2.99}),
	}
	items := []models.ShoppingListItem{{Item: "milk"}, {Item: "bread"}, {Item: "eggs"}}

	opt := BuildOptimization(items, comparisons, 0.7)

	assert.Nil(t, opt.BestStore)
	assert.Nil(t, opt.BestTotal)
	assert.Len(t, opt.StoreComparisons, 3)
	assert.NotEmpty(t, opt.Suggestions)
	assert.Equal(t, 8.57, opt.CheapestSplitTotal)
}

func TestBuildOptimizationEmptyList(t *testing.T) {
	opt := BuildOptimization(nil, nil, 0.7)

	assert.Nil(t, opt.BestStore)
	assert.Nil(t, opt.BestTotal)
	assert.Equal(t, 0, opt.ItemsCompared)
	assert.Equal(t, 0, opt.TotalItems)
	assert.Equal(t, 0.0, opt.Coverage)
	assert.Empty(t, opt.StoreComparisons)
}

func TestStoreConfidenceAveragesWeights(t *testing.T) {
	high := comparisonOf("milk", map[string]float64{"walmart": 3.29, "target": 3.49, "kroger": 3.39})
	medium := comparisonOf("bread", map[string]float64{"walmart": 2.29})
	require.Equal(t, models.ConfidenceHigh, high.Confidence)
	require.Equal(t, models.ConfidenceMedium, medium.Confidence)

	opt := BuildOptimization(
		[]models.ShoppingListItem{{Item: "milk"}, {Item: "bread"}},
		map[string]*models.PriceComparison{"milk": high, "bread": medium},
		0.7,
	)

	// (1.0 + 0.7) / 2 = 0.85
	assert.Equal(t, models.ConfidenceHigh, opt.StoreComparisons["walmart"].Confidence)
	assert.Equal(t, models.ConfidenceHigh, opt.StoreComparisons["target"].Confidence)
}

func TestOptimizeShoppingList(t *testing.T) {
	mem := store.NewMemoryStore()
	seed(mem, "Milk", map[string]float64{"walmart": 3.29, "target": 3.79}, time.Hour)
	seed(mem, "Bread", map[string]float64{"walmart": 2.50, "target": 1.99}, time.Hour)
	svc := NewPriceService(mem, nil, DefaultConfig())

	opt, err := svc.OptimizeShoppingList(context.Background(), []models.ShoppingListItem{
		{Item: "milk", Quantity: 2},
		{Item: "bread"},
	})
	require.NoError(t, err)
	require.NotNil(t, opt.BestStore)
	assert.Equal(t, "walmart", *opt.BestStore)
	assert.Equal(t, 9.08, *opt.BestTotal)
	assert.Equal(t, 100.0, opt.Coverage)
}

func TestOptimizeShoppingListValidation(t *testing.T) {
	svc := NewPriceService(store.NewMemoryStore(), nil, DefaultConfig())

	_, err := svc.OptimizeShoppingList(context.Background(), []models.ShoppingListItem{{Item: "milk", Quantity: -1}})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = svc.OptimizeShoppingList(context.Background(), []models.ShoppingListItem{{Item: " "}})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	opt, err := svc.OptimizeShoppingList(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, opt.BestStore)
	assert.Equal(t, 0, opt.TotalItems)
}
