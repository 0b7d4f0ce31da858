package models

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// PriceObservation represents a single price reading for a product at a store
type PriceObservation struct {
	ID          int64     `db:"id" json:"id,omitempty"`
	ProductName string    `db:"product_name" json:"product_name"`
	StoreID     string    `db:"store_id" json:"store_id"`
	Price       float64   `db:"price" json:"price"`
	Unit        string    `db:"unit" json:"unit"`
	Available   bool      `db:"available" json:"available"`
	SourceURL   *string   `db:"source_url" json:"source_url,omitempty"`
	MatchScore  float64   `db:"match_score" json:"match_score"`
	ObservedAt  time.Time `db:"observed_at" json:"observed_at"`
}

// Confidence is the qualitative reliability label of derived price data
type Confidence string

// Confidence levels
const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// StorePrice is the representative price of one store inside a comparison
type StorePrice struct {
	Price       float64   `json:"price"`
	ProductName string    `json:"product_name"`
	Unit        string    `json:"unit"`
	SourceURL   *string   `json:"source_url,omitempty"`
	LastUpdated time.Time `json:"last_updated"`
}

// PriceComparison is the cross-store summary for one product.
// It is derived on every request and never persisted.
type PriceComparison struct {
	ProductName        string                `json:"product_name"`
	CheapestPrice      float64               `json:"cheapest_price"`
	CheapestStore      string                `json:"cheapest_store"`
	AveragePrice       float64               `json:"average_price"`
	PriceRange         [2]float64            `json:"price_range"`
	StoresCompared     int                   `json:"stores_compared"`
	SavingsOpportunity float64               `json:"savings_opportunity"`
	PriceByStore       map[string]StorePrice `json:"price_by_store"`
	Confidence         Confidence            `json:"confidence"`
	LastUpdated        time.Time             `json:"last_updated"`
}

// DealCandidate is a comparison whose savings passed the minimum threshold
type DealCandidate struct {
	ProductName   string     `json:"product_name"`
	CheapestStore string     `json:"cheapest_store"`
	CheapestPrice float64    `json:"cheapest_price"`
	Savings       float64    `json:"savings"`
	Confidence    Confidence `json:"confidence"`
}

// ShoppingListItem is one line of a caller supplied shopping list
type ShoppingListItem struct {
	Item     string  `json:"item" binding:"required"`
	Quantity float64 `json:"quantity"`
}

// StoreTotal is the running total of a shopping list at one store
type StoreTotal struct {
	Total      float64    `json:"total"`
	ItemsFound int        `json:"items_found"`
	Confidence Confidence `json:"confidence"`
}

// ShoppingListOptimization aggregates comparisons against a shopping list.
// BestTotal is the cost of buying every resolved line at BestStore, while
// PotentialSavings and CheapestSplitTotal describe buying each line at its
// own cheapest store.
type ShoppingListOptimization struct {
	BestStore          *string               `json:"best_store"`
	BestTotal          *float64              `json:"best_total"`
	WorstStore         *string               `json:"worst_store,omitempty"`
	SavingsVsWorst     *float64              `json:"savings_vs_worst,omitempty"`
	StoreComparisons   map[string]StoreTotal `json:"store_comparisons"`
	ItemsCompared      int                   `json:"items_compared"`
	TotalItems         int                   `json:"total_items"`
	PotentialSavings   float64               `json:"potential_savings"`
	CheapestSplitTotal float64               `json:"cheapest_split_total"`
	Coverage           float64               `json:"coverage"`
	MissingItems       []string              `json:"missing_items,omitempty"`
	Suggestions        []string              `json:"suggestions,omitempty"`
}

// PricePoint is one entry of a store's price history
type PricePoint struct {
	Price       float64   `json:"price"`
	Date        time.Time `json:"date"`
	ProductName string    `json:"product_name"`
}

// Trend directions
const (
	TrendIncreasing = "increasing"
	TrendDecreasing = "decreasing"
	TrendStable     = "stable"
)

// StoreTrend summarizes price movement at one store over a period
type StoreTrend struct {
	Trend         string  `json:"trend"`
	ChangeAmount  float64 `json:"change_amount"`
	ChangePercent float64 `json:"change_percent"`
	FirstPrice    float64 `json:"first_price"`
	LastPrice     float64 `json:"last_price"`
	DataPoints    int     `json:"data_points"`
}

// PriceTrendReport describes how a product's prices moved per store
type PriceTrendReport struct {
	ProductName     string                  `json:"product_name"`
	PeriodDays      int                     `json:"period_days"`
	StoresTracked   []string                `json:"stores_tracked"`
	TrendAnalysis   map[string]StoreTrend   `json:"trend_analysis"`
	PriceHistory    map[string][]PricePoint `json:"price_history"`
	TotalDataPoints int                     `json:"total_data_points"`
}

// Substitute is a cheaper alternative product found at some store
type Substitute struct {
	ProductName    string  `json:"product_name"`
	Store          string  `json:"store"`
	Price          float64 `json:"price"`
	Savings        float64 `json:"savings"`
	SavingsPercent float64 `json:"savings_percent"`
	MatchScore     float64 `json:"match_score"`
}

// Validate checks the invariants every persisted observation must satisfy
func (o PriceObservation) Validate() error {
	switch {
	case strings.TrimSpace(o.ProductName) == "":
		return errors.New("product name is required")
	case strings.TrimSpace(o.StoreID) == "":
		return errors.New("store id is required")
	case o.Price < 0 || math.IsNaN(o.Price) || math.IsInf(o.Price, 0):
		return fmt.Errorf("invalid price %v for %s at %s", o.Price, o.ProductName, o.StoreID)
	}
	return nil
}
