// Package gateway is the exchange boundary. It is the only package permitted
// to place or cancel orders; everything above it speaks the async
// submit/cancel plus fill-notification contract defined here.
package gateway

import (
	"context"
	"time"

	"github.com/alanyoungcy/ultratrader/internal/domain"
)

// eventBuffer sizes every gateway's notification channel. When the buffer
// fills, emits block rather than drop; a lost fill corrupts positions.
const eventBuffer = 1024

// EventType discriminates gateway notifications.
type EventType string

const (
	EventAck       EventType = "ack"
	EventRejected  EventType = "rejected"
	EventFill      EventType = "fill"
	EventCancelled EventType = "cancelled"
)

// Event is an asynchronous notification keyed by order ID. Fill events carry
// the execution record; terminal events carry the reason in Message.
type Event struct {
	Type      EventType
	OrderID   string
	Fill      *domain.Fill
	Message   string
	Timestamp time.Time
}

// Gateway is the async order boundary. Submit and Cancel return promptly;
// fills and terminal notifications arrive on Events. Cancel of an unknown or
// already-terminal order is a successful no-op. Status supports
// reconciliation after an ack timeout.
type Gateway interface {
	Submit(ctx context.Context, order domain.Order) (domain.SubmitResult, error)
	Cancel(ctx context.Context, orderID string) error
	Status(ctx context.Context, orderID string) (domain.OrderStatus, error)
	Events() <-chan Event
}
