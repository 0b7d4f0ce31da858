package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"grocery-pricing/internal/match"
	"grocery-pricing/internal/models"

	"github.com/go-resty/resty/v2"
)

const (
	defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) grocery-pricing/1.0"
	maxCandidates    = 3
)

var priceDigits = regexp.MustCompile(`\d+(?:\.\d+)?`)

// HTTPFetcher queries a store's JSON search endpoint
type HTTPFetcher struct {
	store   string
	baseURL string
	client  *resty.Client
	now     func() time.Time
}

// HTTPFetcherConfig configures an HTTPFetcher
type HTTPFetcherConfig struct {
	Store     string
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
}

type searchItem struct {
	Name      string          `json:"name"`
	Title     string          `json:"title"`
	Price     json.RawMessage `json:"price"`
	Unit      string          `json:"unit"`
	Available *bool           `json:"available"`
	URL       string          `json:"url"`
}

type searchResponse struct {
	Products []searchItem `json:"products"`
}

// NewHTTPFetcher creates a fetcher for one store's search API
func NewHTTPFetcher(cfg HTTPFetcherConfig) (*HTTPFetcher, error) {
	if cfg.Store == "" || cfg.BaseURL == "" {
		return nil, errors.New("store and base URL are required")
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", cfg.UserAgent).
		SetHeader("Accept", "application/json")

	return &HTTPFetcher{
		store:   strings.ToLower(cfg.Store),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  client,
		now:     time.Now,
	}, nil
}

// Store returns the store id
func (f *HTTPFetcher) Store() string {
	return f.store
}

// Fetch searches the store and returns the best-matching priced result
func (f *HTTPFetcher) Fetch(ctx context.Context, product string) (*models.PriceObservation, error) {
	resp, err := f.client.R().
		SetContext(ctx).
		SetQueryParam("q", product).
		Get(f.baseURL + "/api/search")
	if err != nil {
		return nil, fmt.Errorf("%s search request failed: %w", f.store, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%s search returned status %d", f.store, resp.StatusCode())
	}

	items, err := decodeSearch(resp.Body())
	if err != nil {
		return nil, fmt.Errorf("%s search response: %w", f.store, err)
	}
	if len(items) > maxCandidates {
		items = items[:maxCandidates]
	}

	var best *models.PriceObservation
	for _, item := range items {
		title := item.Name
		if title == "" {
			title = item.Title
		}
		if title == "" {
			continue
		}
		price, ok := parsePrice(item.Price)
		if !ok || price <= 0 {
			continue
		}

		score := match.KeywordOverlap(product, title)
		if best != nil && score <= best.MatchScore {
			continue
		}

		obs := &models.PriceObservation{
			ProductName: title,
			StoreID:     f.store,
			Price:       price,
			Unit:        item.Unit,
			Available:   item.Available == nil || *item.Available,
			MatchScore:  score,
			ObservedAt:  f.now(),
		}
		if item.URL != "" {
			u := item.URL
			obs.SourceURL = &u
		}
		best = obs
	}
	return best, nil
}

// decodeSearch accepts either {"products": [...]} or a bare array
func decodeSearch(body []byte) ([]searchItem, error) {
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "[") {
		var items []searchItem
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, err
		}
		return items, nil
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	return resp.Products, nil
}

// parsePrice reads a numeric price or a display string such as "$3.49"
func parsePrice(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}

	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, true
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	digits := priceDigits.FindString(strings.ReplaceAll(s, ",", ""))
	if digits == "" {
		return 0, false
	}
	n, err := strconv.ParseFloat(digits, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
