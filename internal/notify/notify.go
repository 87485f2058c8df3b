package notify

import (
	"context"
	"time"

	"furnish-be/internal/logger"

	"go.uber.org/zap"
)

type EventType string

const (
	EventOrderPlaced    EventType = "order.placed"
	EventOrderShipped   EventType = "order.shipped"
	EventOrderCancelled EventType = "order.cancelled"
)

// Event is the payload published for downstream mailers. Rendering and
// delivery of the actual email happen outside this service.
type Event struct {
	Type            EventType `json:"type"`
	OrderID         string    `json:"orderId"`
	UserID          uint      `json:"userId"`
	Email           string    `json:"email,omitempty"`
	Status          string    `json:"status"`
	Total           string    `json:"total,omitempty"`
	TrackingNumber  string    `json:"trackingNumber,omitempty"`
	TrackingCompany string    `json:"trackingCompany,omitempty"`
	TrackingURL     string    `json:"trackingUrl,omitempty"`
	OccurredAt      time.Time `json:"occurredAt"`
}

type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// LogNotifier only logs events. It is used when no broker is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, ev Event) error {
	logger.FromCtx(ctx).Info("order notification",
		zap.String("type", string(ev.Type)),
		zap.String("order_id", ev.OrderID),
		zap.Uint("user_id", ev.UserID),
	)
	return nil
}
