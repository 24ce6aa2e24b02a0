// Package analytics exports delivery outcomes for offline reporting.
package analytics

import (
	"context"
	"time"
)

// Outcome values carried on a DeliveryEvent.
const (
	OutcomeDelivered       = "delivered"
	OutcomeAlreadyAccepted = "already_accepted"
	OutcomeFailed          = "failed"
)

// DeliveryEvent describes one processed push request.
type DeliveryEvent struct {
	TenantID       string    `json:"tenant_id"`
	ClientID       string    `json:"client_id"`
	NotificationID string    `json:"notification_id"`
	PushType       string    `json:"push_type"`
	Encrypted      bool      `json:"encrypted"`
	Outcome        string    `json:"outcome"`
	Error          string    `json:"error,omitempty"`
	At             time.Time `json:"at"`
}

// Exporter ships delivery events. Callers log export failures and carry on.
type Exporter interface {
	Export(ctx context.Context, event DeliveryEvent) error
}

// NoopExporter discards every event.
type NoopExporter struct{}

func (NoopExporter) Export(context.Context, DeliveryEvent) error { return nil }
