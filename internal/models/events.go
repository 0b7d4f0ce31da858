package models

import "time"

// Event types
const (
	EventTypePricesUpdated         = "PRICES_UPDATED"
	EventTypePriceRefreshRequested = "PRICE_REFRESH_REQUESTED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// PricesUpdatedEvent published after fetched observations are persisted
type PricesUpdatedEvent struct {
	BaseEvent
	Products     []string           `json:"products"`
	Stores       []string           `json:"stores"`
	Affected     int                `json:"affected"`
	Observations []ObservationBrief `json:"observations"`
}

// PriceRefreshRequestedEvent asks the refresh worker to acquire fresh prices
type PriceRefreshRequestedEvent struct {
	BaseEvent
	Products []string `json:"products"`
	Stores   []string `json:"stores,omitempty"`
}

// ObservationBrief represents observation data in events
type ObservationBrief struct {
	ProductName string    `json:"product_name"`
	StoreID     string    `json:"store_id"`
	Price       float64   `json:"price"`
	Available   bool      `json:"available"`
	ObservedAt  time.Time `json:"observed_at"`
}
