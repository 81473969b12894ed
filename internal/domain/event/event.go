// Package event defines the transactional outbox records emitted by order
// workflows.
package event

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/xenking/storefront/internal/domain/order"
)

// Event types published to the broker.
const (
	TypeOrderCreated       = "order.created"
	TypeOrderStatusChanged = "order.status_changed"
	TypeOrderCancelled     = "order.cancelled"
)

// Event is an outbox record. Payload is the JSON body published as-is.
type Event struct {
	ID          string
	Type        string
	AggregateID string
	Payload     []byte
	CreatedAt   time.Time
}

// New builds an Event with a fresh id and payload marshaled to JSON.
func New(typ, aggregateID string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, errors.Wrap(err, "marshal event payload")
	}
	return Event{
		ID:          uuid.New().String(),
		Type:        typ,
		AggregateID: aggregateID,
		Payload:     data,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// TxRepository appends events inside the transaction that produced them.
type TxRepository interface {
	Append(ctx context.Context, e Event) error
}

// Repository is used by the relay to drain the outbox.
type Repository interface {
	Unpublished(ctx context.Context, limit int) ([]Event, error)
	MarkPublished(ctx context.Context, ids []string) error
}

// OrderPayload is the body of every order event.
type OrderPayload struct {
	OrderID    string     `json:"order_id"`
	UserID     string     `json:"user_id"`
	Status     string     `json:"status"`
	Total      string     `json:"total"`
	CouponCode string     `json:"coupon_code,omitempty"`
	Items      []LineItem `json:"items,omitempty"`
}

// LineItem is an order line inside OrderPayload.
type LineItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Price     string `json:"price"`
}

// ForOrder builds an event of type typ describing the current state of o.
func ForOrder(typ string, o *order.Order) (Event, error) {
	p := OrderPayload{
		OrderID:    o.ID,
		UserID:     o.UserID,
		Status:     string(o.Status),
		Total:      o.Total.StringFixed(2),
		CouponCode: o.CouponCode,
	}
	for _, it := range o.Items {
		p.Items = append(p.Items, LineItem{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			Price:     it.Price.StringFixed(2),
		})
	}
	return New(typ, o.ID, p)
}
