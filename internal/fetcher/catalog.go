package fetcher

import (
	"context"
	"hash/fnv"
	"net/url"
	"sort"
	"strings"
	"time"

	"grocery-pricing/internal/match"
	"grocery-pricing/internal/models"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// defaultCatalog holds base shelf prices shared by every catalog store
var defaultCatalog = map[string]float64{
	"milk":     3.49,
	"bread":    2.29,
	"eggs":     2.99,
	"chicken":  5.99,
	"rice":     1.99,
	"pasta":    1.49,
	"tomatoes": 2.99,
	"cheese":   4.99,
	"yogurt":   0.99,
	"bananas":  1.29,
	"apples":   3.99,
	"butter":   4.49,
	"cereal":   3.79,
	"coffee":   7.99,
	"potatoes": 3.49,
	"onions":   1.79,
}

// CatalogFetcher serves deterministic offline prices for one store
type CatalogFetcher struct {
	store   string
	baseURL string
	items   []string
	prices  map[string]float64
	now     func() time.Time
}

// NewCatalogFetcher creates a catalog fetcher for a store using the default catalog
func NewCatalogFetcher(store string) *CatalogFetcher {
	return NewCatalogFetcherWith(store, defaultCatalog)
}

// NewCatalogFetcherWith creates a catalog fetcher over a custom base-price table
func NewCatalogFetcherWith(store string, catalog map[string]float64) *CatalogFetcher {
	store = strings.ToLower(strings.TrimSpace(store))
	items := make([]string, 0, len(catalog))
	for item := range catalog {
		items = append(items, item)
	}
	// longest names first so "chicken breast" wins over "chicken"
	sort.Slice(items, func(i, j int) bool {
		if len(items[i]) != len(items[j]) {
			return len(items[i]) > len(items[j])
		}
		return items[i] < items[j]
	})

	return &CatalogFetcher{
		store:   store,
		baseURL: "https://www." + store + ".com",
		items:   items,
		prices:  catalog,
		now:     time.Now,
	}
}

// Store returns the store id
func (c *CatalogFetcher) Store() string {
	return c.store
}

// Fetch returns the catalog price of the first item named in product
func (c *CatalogFetcher) Fetch(ctx context.Context, product string) (*models.PriceObservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	phrase := wordPhrase(product)
	for _, item := range c.items {
		if !strings.Contains(phrase, wordPhrase(item)) {
			continue
		}

		price := decimal.NewFromFloat(c.prices[item]).Add(variation(c.store, item)).Round(2)
		if price.LessThan(decimal.NewFromFloat(0.01)) {
			price = decimal.NewFromFloat(0.01)
		}
		p, _ := price.Float64()

		title := titleCase(c.store) + " " + titleCase(strings.TrimSpace(product))
		source := c.baseURL + "/search?query=" + url.QueryEscape(product)
		return &models.PriceObservation{
			ProductName: title,
			StoreID:     c.store,
			Price:       p,
			Unit:        "each",
			Available:   true,
			SourceURL:   &source,
			MatchScore:  match.KeywordOverlap(product, title),
			ObservedAt:  c.now(),
		}, nil
	}
	return nil, nil
}

// variation derives a stable offset in [-0.50, +0.50] from store and item
func variation(store, item string) decimal.Decimal {
	h := fnv64(store + "|" + item)
	cents := int64(h%101) - 50
	return decimal.New(cents, -2)
}

// fnv64 returns a 64-bit FNV-1a hash for deterministic catalog data
func fnv64(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

// wordPhrase normalizes s to space-delimited lower-case words so that
// containment only matches whole words
func wordPhrase(s string) string {
	return " " + strings.Join(match.Fields(s), " ") + " "
}

// Casers are stateful; fetches run concurrently, so build one per call
func titleCase(s string) string {
	return cases.Title(language.Und).String(strings.Join(strings.Fields(s), " "))
}
