package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-push-relay/internal/analytics"
	"github.com/tinywideclouds/go-push-relay/internal/relayerr"
	"github.com/tinywideclouds/go-push-relay/pkg/dispatch"
	"github.com/tinywideclouds/go-push-relay/pkg/notification"
)

// Outcome is the result of a successfully processed push.
type Outcome int

const (
	// OutcomeDelivered means the provider accepted the payload.
	OutcomeDelivered Outcome = iota + 1
	// OutcomeAlreadyAccepted means the (id, client) pair was seen before and
	// the provider was not called.
	OutcomeAlreadyAccepted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDelivered:
		return analytics.OutcomeDelivered
	case OutcomeAlreadyAccepted:
		return analytics.OutcomeAlreadyAccepted
	default:
		return "unknown"
	}
}

// ProviderResolver builds the provider for a tenant and push type.
type ProviderResolver interface {
	Resolve(ctx context.Context, tenant *notification.Tenant, kind notification.ProviderKind) (dispatch.Provider, error)
}

type Processor struct {
	store    dispatch.Store
	resolver ProviderResolver
	exporter analytics.Exporter
	logger   *slog.Logger
	now      func() time.Time
}

// NewProcessor wires the push core. exporter may be nil.
func NewProcessor(store dispatch.Store, resolver ProviderResolver, exporter analytics.Exporter, logger *slog.Logger) *Processor {
	if exporter == nil {
		exporter = analytics.NoopExporter{}
	}
	return &Processor{
		store:    store,
		resolver: resolver,
		exporter: exporter,
		logger:   logger.With("component", "PushProcessor"),
		now:      time.Now,
	}
}

// Process delivers msg to one client at most once per message id. The tenant
// and provider are resolved before the ledger is touched, so a provider
// mismatch leaves no record and never reaches a backend.
func (p *Processor) Process(ctx context.Context, tenantID, clientID string, msg notification.PushMessage) (Outcome, error) {
	procLogger := p.logger.With(
		"tenant_id", tenantID,
		"client_id", clientID,
		"notification_id", msg.ID,
	)

	// 1. Tenant, client and provider
	tenant, err := p.store.GetTenant(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	client, err := p.store.GetClient(ctx, tenantID, clientID)
	if err != nil {
		return 0, err
	}
	provider, err := p.resolver.Resolve(ctx, tenant, client.PushType)
	if err != nil {
		procLogger.Warn("Provider not resolvable", "push_type", client.PushType, "err", err)
		return 0, err
	}

	event := analytics.DeliveryEvent{
		TenantID:       tenantID,
		ClientID:       clientID,
		NotificationID: msg.ID,
		PushType:       string(client.PushType),
		Encrypted:      msg.Payload.IsEncrypted(),
	}

	// 2. Idempotency ledger
	record, err := p.store.CreateOrUpdateNotification(ctx, msg.ID, tenantID, clientID, msg.Payload)
	if err != nil {
		procLogger.Error("Failed to record notification", "err", err)
		return 0, err
	}
	if record.IsDuplicate() {
		procLogger.Info("Duplicate notification; skipping delivery", "attempts", len(record.PreviousPayloads))
		p.export(ctx, event, OutcomeAlreadyAccepted.String(), nil)
		return OutcomeAlreadyAccepted, nil
	}

	// 3. Dispatch
	if err := provider.SendNotification(ctx, client.Token, msg.Payload); err != nil {
		procLogger.Warn("Delivery failed", "push_type", client.PushType, "kind", relayerr.KindOf(err).String(), "err", err)
		p.export(ctx, event, analytics.OutcomeFailed, err)
		return 0, err
	}

	procLogger.Info("Notification dispatched", "push_type", client.PushType)
	p.export(ctx, event, OutcomeDelivered.String(), nil)
	return OutcomeDelivered, nil
}

func (p *Processor) export(ctx context.Context, event analytics.DeliveryEvent, outcome string, cause error) {
	event.Outcome = outcome
	event.At = p.now().UTC()
	if cause != nil {
		event.Error = relayerr.KindOf(cause).String()
	}
	if err := p.exporter.Export(ctx, event); err != nil {
		p.logger.Warn("Failed to export delivery event", "notification_id", event.NotificationID, "err", err)
	}
}
