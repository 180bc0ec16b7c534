// Package notify broadcasts business events to the users of an organization.
// Services publish an Event when an order, delivery or payment changes; every
// replica's Hub receives it over pub/sub and streams it to the browsers of
// that organization that are connected to the replica.
//
// Delivery is best effort. Events published while a Hub is disconnected, or
// while a browser is not connected, are lost. Clients reload state on
// reconnect.
package notify

import (
	"errors"
	"fmt"
	"time"
)

// Channel is the pub/sub channel events travel on.
const Channel = "notifications"

type EventType string

const (
	OrderCreated      EventType = "order.created"
	OrderUpdated      EventType = "order.updated"
	DeliveryCompleted EventType = "delivery.completed"
	PaymentReceived   EventType = "payment.received"
)

var ErrInvalidEvent = errors.New("invalid event")

func (t EventType) Valid() bool {
	switch t {
	case OrderCreated, OrderUpdated, DeliveryCompleted, PaymentReceived:
		return true
	}
	return false
}

type Event struct {
	Type           EventType      `json:"type"`
	OrganizationID string         `json:"organizationId"`
	EntityID       string         `json:"entityId"`
	Data           map[string]any `json:"data,omitempty"`
	OccurredAt     time.Time      `json:"occurredAt"`

	// Trace carries the publisher's span so that delivery shows up in the
	// same trace.
	Trace map[string]string `json:"trace,omitempty"`
}

func (e Event) Validate() error {
	if !e.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, e.Type)
	}
	if e.OrganizationID == "" {
		return fmt.Errorf("%w: organization missing", ErrInvalidEvent)
	}
	if e.EntityID == "" {
		return fmt.Errorf("%w: entity missing", ErrInvalidEvent)
	}
	return nil
}
