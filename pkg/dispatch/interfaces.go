// Package dispatch defines the contracts between the relay core and its
// collaborators: push providers and the tenant, client and notification stores.
package dispatch

import (
	"context"

	"github.com/tinywideclouds/go-push-relay/pkg/notification"
)

// Provider delivers one payload to one device token on a specific backend
// (APNs, FCM, FCM v1 or Noop). Failures are returned as *relayerr.Error values
// carrying a normalized delivery kind.
type Provider interface {
	Kind() notification.ProviderKind
	SendNotification(ctx context.Context, token string, payload notification.MessagePayload) error
}

// TenantStore manages tenants and their provider credentials.
type TenantStore interface {
	CreateTenant(ctx context.Context, tenant *notification.Tenant) error
	// GetTenant returns a relayerr KindTenantNotFound error when absent.
	GetTenant(ctx context.Context, id string) (*notification.Tenant, error)
	// DeleteTenant cascades to the tenant's clients and notifications.
	DeleteTenant(ctx context.Context, id string) error
	UpdateFCM(ctx context.Context, id, apiKey string) error
	UpdateFCMV1(ctx context.Context, id string, credentials []byte) error
	// UpdateAPNs replaces the APNs credential set and clears any suspension.
	UpdateAPNs(ctx context.Context, id string, creds notification.APNsCredentials) error
	SuspendAPNs(ctx context.Context, id string) error
}

// ClientStore manages registered devices. Register is an upsert keyed by
// (tenant, client id).
type ClientStore interface {
	RegisterClient(ctx context.Context, client *notification.Client) error
	// GetClient returns a relayerr KindClientNotFound error when absent.
	GetClient(ctx context.Context, tenantID, clientID string) (*notification.Client, error)
	DeleteClient(ctx context.Context, tenantID, clientID string) error
}

// NotificationStore is the delivery-idempotency ledger.
type NotificationStore interface {
	// CreateOrUpdateNotification inserts the (id, clientID) row or appends payload
	// to its previous payloads, serialized per client. The returned row reports a
	// duplicate through Notification.IsDuplicate.
	CreateOrUpdateNotification(ctx context.Context, id, tenantID, clientID string, payload notification.MessagePayload) (*notification.Notification, error)
}

// Store bundles the three repositories a backend must provide.
type Store interface {
	TenantStore
	ClientStore
	NotificationStore
}
