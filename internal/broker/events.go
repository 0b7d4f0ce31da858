package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"grocery-pricing/internal/models"
	"grocery-pricing/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventWriter writes keyed events to the price event stream
type EventWriter interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
}

// EventPublisher handles publishing price events
type EventPublisher struct {
	writer EventWriter
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(writer EventWriter) *EventPublisher {
	return &EventPublisher{writer: writer}
}

// PublishPricesUpdated publishes PricesUpdated event
func (ep *EventPublisher) PublishPricesUpdated(ctx context.Context, event *models.PricesUpdatedEvent) error {
	return ep.writer.PublishEvent(ctx, eventKey(event.Products), event)
}

// PublishRefreshRequested publishes PriceRefreshRequested event
func (ep *EventPublisher) PublishRefreshRequested(ctx context.Context, event *models.PriceRefreshRequestedEvent) error {
	return ep.writer.PublishEvent(ctx, eventKey(event.Products), event)
}

// eventKey keys events by product so updates for one product stay ordered
func eventKey(products []string) string {
	if len(products) == 0 {
		return "prices"
	}
	return "product-" + strings.ToLower(strings.TrimSpace(products[0]))
}

// EventHandler handles incoming events
type EventHandler struct {
	onRefreshRequested func(context.Context, *models.PriceRefreshRequestedEvent) error
	logger             *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.ComponentLogger("event_handler")}
}

// OnRefreshRequested registers a handler for PriceRefreshRequested events
func (eh *EventHandler) OnRefreshRequested(handler func(context.Context, *models.PriceRefreshRequestedEvent) error) {
	eh.onRefreshRequested = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypePriceRefreshRequested:
		if eh.onRefreshRequested != nil {
			var event models.PriceRefreshRequestedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal PriceRefreshRequested event: %w", err)
			}
			return eh.onRefreshRequested(ctx, &event)
		}

	case models.EventTypePricesUpdated:
		// published by this service; nothing to do on receipt

	default:
		eh.logger.Debug("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
