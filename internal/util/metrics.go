package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ComparisonsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "price_comparisons_total",
		Help: "Total number of per-product comparisons by outcome",
	}, []string{"outcome"})

	PriceRefreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "price_refreshes_total",
		Help: "Total number of comparison driven refreshes by reason",
	}, []string{"reason"})

	FetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "price_fetches_total",
		Help: "Total number of dispatched store fetches by outcome",
	}, []string{"store", "outcome"})

	FetchLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "price_fetch_latency_seconds",
		Help:    "Latency of store fetches",
		Buckets: prometheus.DefBuckets,
	}, []string{"store"})

	AcquisitionSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "price_acquisition_skipped_total",
		Help: "Total number of (product, store) pairs not dispatched by reason",
	}, []string{"reason"})

	RecencyCacheSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "price_acquisition_recency_cache_entries",
		Help: "Number of entries held in the acquisition recency cache",
	})

	ObservationsUpsertedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "price_observations_upserted_total",
		Help: "Total number of observation rows inserted or updated",
	})

	PersistenceFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "price_persistence_failures_total",
		Help: "Total number of failed price store operations",
	}, []string{"op"})

	DealsFoundTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "price_deals_found_total",
		Help: "Total number of deal candidates returned",
	})

	OptimizationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shopping_list_optimizations_total",
		Help: "Total number of shopping list optimizations by outcome",
	}, []string{"outcome"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
