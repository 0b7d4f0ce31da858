package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"grocery-pricing/internal/models"
	"grocery-pricing/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OptimizeShoppingList prices every line of the list at every store and picks
// the cheapest store that carries enough of the priced lines.
func (s *PriceService) OptimizeShoppingList(ctx context.Context, items []models.ShoppingListItem) (*models.ShoppingListOptimization, error) {
	ctx, span := util.StartSpan(ctx, "PriceService.OptimizeShoppingList")
	defer span.End()

	names := make([]string, 0, len(items))
	for i, item := range items {
		if strings.TrimSpace(item.Item) == "" {
			return nil, fmt.Errorf("%w: shopping list line %d has no item", ErrInvalidArgument, i+1)
		}
		if item.Quantity < 0 || math.IsNaN(item.Quantity) || math.IsInf(item.Quantity, 0) {
			return nil, fmt.Errorf("%w: invalid quantity %v for %q", ErrInvalidArgument, item.Quantity, item.Item)
		}
		names = append(names, item.Item)
	}

	comparisons := map[string]*models.PriceComparison{}
	if len(names) > 0 {
		var err error
		comparisons, err = s.Compare(ctx, names, nil, false)
		if err != nil {
			return nil, err
		}
	}

	opt := BuildOptimization(items, comparisons, s.cfg.CoverageFloor)
	if opt.BestStore == nil {
		util.OptimizationsTotal.WithLabelValues("insufficient_coverage").Inc()
		s.logger.Info("No store met the coverage floor",
			zap.Int("total_items", opt.TotalItems),
			zap.Int("items_compared", opt.ItemsCompared))
	} else {
		util.OptimizationsTotal.WithLabelValues("ok").Inc()
	}
	return opt, nil
}

// BuildOptimization aggregates per-line comparisons into per-store totals.
// Lines without a comparison are excluded from the coverage denominator.
func BuildOptimization(items []models.ShoppingListItem, comparisons map[string]*models.PriceComparison, coverageFloor float64) *models.ShoppingListOptimization {
	totals := make(map[string]decimal.Decimal)
	found := make(map[string]int)
	weights := make(map[string]decimal.Decimal)

	resolved := 0
	potential := decimal.Zero
	split := decimal.Zero
	missing := make([]string, 0)

	for _, item := range items {
		cmp := comparisons[strings.TrimSpace(item.Item)]
		if cmp == nil {
			missing = append(missing, item.Item)
			continue
		}
		resolved++

		qty := decimal.NewFromFloat(lineQuantity(item.Quantity))
		weight := confidenceWeights[cmp.Confidence]
		for storeID, sp := range cmp.PriceByStore {
			totals[storeID] = totals[storeID].Add(decimal.NewFromFloat(sp.Price).Mul(qty))
			found[storeID]++
			weights[storeID] = weights[storeID].Add(weight)
		}
		potential = potential.Add(decimal.NewFromFloat(cmp.SavingsOpportunity).Mul(qty))
		split = split.Add(decimal.NewFromFloat(cmp.CheapestPrice).Mul(qty))
	}

	opt := &models.ShoppingListOptimization{
		StoreComparisons:   make(map[string]models.StoreTotal, len(totals)),
		ItemsCompared:      resolved,
		TotalItems:         len(items),
		PotentialSavings:   roundMoney(potential),
		CheapestSplitTotal: roundMoney(split),
		MissingItems:       missing,
	}
	if len(items) > 0 {
		coverage, _ := decimal.NewFromInt(int64(resolved)).
			Div(decimal.NewFromInt(int64(len(items)))).
			Mul(decimal.NewFromInt(100)).
			Round(1).Float64()
		opt.Coverage = coverage
	}

	stores := make([]string, 0, len(totals))
	for storeID := range totals {
		stores = append(stores, storeID)
	}
	sort.Strings(stores)

	required := decimal.NewFromFloat(coverageFloor).Mul(decimal.NewFromInt(int64(resolved)))
	var best, worst string
	for _, storeID := range stores {
		avgWeight := weights[storeID].Div(decimal.NewFromInt(int64(found[storeID])))
		opt.StoreComparisons[storeID] = models.StoreTotal{
			Total:      roundMoney(totals[storeID]),
			ItemsFound: found[storeID],
			Confidence: BucketConfidence(avgWeight),
		}

		if decimal.NewFromInt(int64(found[storeID])).LessThan(required) {
			continue
		}
		if best == "" || totals[storeID].LessThan(totals[best]) {
			best = storeID
		}
		if worst == "" || totals[storeID].GreaterThan(totals[worst]) {
			worst = storeID
		}
	}

	if best == "" {
		opt.Suggestions = coverageSuggestions(resolved, len(items), coverageFloor)
		return opt
	}

	bestTotal := roundMoney(totals[best])
	savingsVsWorst := roundMoney(totals[worst].Sub(totals[best]))
	opt.BestStore = &best
	opt.BestTotal = &bestTotal
	opt.WorstStore = &worst
	opt.SavingsVsWorst = &savingsVsWorst
	return opt
}

func coverageSuggestions(resolved, total int, floor float64) []string {
	if total == 0 {
		return []string{"Add items to the shopping list to compare stores"}
	}
	if resolved == 0 {
		return []string{
			"No prices were found for any item; check the item names",
			"Try again later once store prices have been collected",
		}
	}
	return []string{
		fmt.Sprintf("No single store has prices for at least %.0f%% of the priced items", floor*100),
		"Consider splitting the trip across stores using each item's cheapest store",
		"Add more stores to the comparison to improve coverage",
	}
}

// lineQuantity treats an omitted or zero quantity as one unit
func lineQuantity(q float64) float64 {
	if q == 0 {
		return 1
	}
	return q
}

func roundMoney(d decimal.Decimal) float64 {
	f, _ := d.Round(2).Float64()
	return f
}
