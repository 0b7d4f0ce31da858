package worker

import (
	"context"

	"grocery-pricing/internal/broker"
	"grocery-pricing/internal/models"
	"grocery-pricing/internal/service"
	"grocery-pricing/internal/util"

	"go.uber.org/zap"
)

// RefreshWorker acquires prices for refresh requests read from the event stream
type RefreshWorker struct {
	consumer      *broker.Consumer
	eventHandler  *broker.EventHandler
	refresher     service.Refresher
	defaultStores []string
	logger        *zap.Logger
}

// NewRefreshWorker creates a new refresh worker
func NewRefreshWorker(
	consumer *broker.Consumer,
	refresher service.Refresher,
	defaultStores []string,
) *RefreshWorker {
	w := &RefreshWorker{
		consumer:      consumer,
		eventHandler:  broker.NewEventHandler(),
		refresher:     refresher,
		defaultStores: defaultStores,
		logger:        util.ComponentLogger("refresh_worker"),
	}
	w.eventHandler.OnRefreshRequested(w.HandleRefreshRequested)
	return w
}

// Start starts the worker
func (w *RefreshWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting refresh worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *RefreshWorker) Stop() error {
	w.logger.Info("Stopping refresh worker")
	return w.consumer.Close()
}

// HandleRefreshRequested runs the acquisition gate for one refresh request.
// Fetch and persistence failures are soft; only an interrupted batch is
// returned so the message is redelivered.
func (w *RefreshWorker) HandleRefreshRequested(ctx context.Context, event *models.PriceRefreshRequestedEvent) error {
	ctx, span := util.StartSpan(ctx, "RefreshWorker.HandleRefreshRequested", "event_id", event.EventID)
	defer span.End()

	if len(event.Products) == 0 {
		w.logger.Warn("Refresh request without products", zap.String("event_id", event.EventID))
		return nil
	}

	stores := event.Stores
	if len(stores) == 0 {
		stores = w.defaultStores
	}

	util.PriceRefreshesTotal.WithLabelValues("requested").Inc()
	result, err := w.refresher.Acquire(ctx, event.Products, stores)
	if err != nil {
		return err
	}

	w.logger.Info("Refresh request processed",
		zap.String("event_id", event.EventID),
		zap.Int("dispatched", result.Dispatched),
		zap.Int("fetched", len(result.Observations)),
		zap.Int("failed", len(result.Failures)),
		zap.Int("persisted", result.Persisted))
	return nil
}
