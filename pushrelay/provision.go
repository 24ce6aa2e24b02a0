package pushrelay

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tinywideclouds/go-push-relay/internal/relayerr"
	"github.com/tinywideclouds/go-push-relay/pkg/dispatch"
	"github.com/tinywideclouds/go-push-relay/pkg/notification"
	"github.com/tinywideclouds/go-push-relay/pushrelay/config"
)

// ProvisionDefaultTenant makes sure the single-tenant deployment's tenant
// exists and carries the configured credentials. Credentials absent from
// the configuration leave whatever is stored untouched.
func ProvisionDefaultTenant(ctx context.Context, store dispatch.TenantStore, tenantID string, creds *config.DefaultTenantCredentials, logger *slog.Logger) error {
	logger = logger.With("component", "Provisioner", "tenant_id", tenantID)

	err := store.CreateTenant(ctx, &notification.Tenant{ID: tenantID})
	switch {
	case err == nil:
		logger.Info("Default tenant created")
	case relayerr.Is(err, relayerr.KindTenantExists):
		logger.Debug("Default tenant already exists")
	default:
		return fmt.Errorf("failed to create default tenant: %w", err)
	}

	if creds.FCMAPIKey != "" {
		if err := store.UpdateFCM(ctx, tenantID, creds.FCMAPIKey); err != nil {
			return fmt.Errorf("failed to store FCM key: %w", err)
		}
	}
	if len(creds.FCMV1Credentials) > 0 {
		if err := store.UpdateFCMV1(ctx, tenantID, creds.FCMV1Credentials); err != nil {
			return fmt.Errorf("failed to store FCM v1 credentials: %w", err)
		}
	}
	if creds.APNs != nil {
		if err := store.UpdateAPNs(ctx, tenantID, *creds.APNs); err != nil {
			return fmt.Errorf("failed to store APNs credentials: %w", err)
		}
	}

	tenant, err := store.GetTenant(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("failed to read back default tenant: %w", err)
	}
	logger.Info("Default tenant provisioned", "providers", tenant.Providers(false))
	return nil
}
