// Package platform builds the push provider a tenant's client should be reached through.
package platform

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-push-relay/internal/platform/apns"
	"github.com/tinywideclouds/go-push-relay/internal/platform/fcm"
	"github.com/tinywideclouds/go-push-relay/internal/platform/fcmlegacy"
	"github.com/tinywideclouds/go-push-relay/internal/platform/noop"
	"github.com/tinywideclouds/go-push-relay/internal/relayerr"
	"github.com/tinywideclouds/go-push-relay/pkg/dispatch"
	"github.com/tinywideclouds/go-push-relay/pkg/notification"
)

// Options configures a Resolver.
type Options struct {
	// AllowNoop offers the noop provider to every tenant.
	AllowNoop bool
	// Recorder receives noop deliveries. A fresh one is created when nil.
	Recorder *noop.Recorder
	// FCMLegacyEndpoint overrides the legacy FCM URL.
	FCMLegacyEndpoint string
	HTTPClient        *http.Client
}

type Resolver struct {
	opts   Options
	logger *slog.Logger
}

func NewResolver(opts Options, logger *slog.Logger) *Resolver {
	if opts.Recorder == nil {
		opts.Recorder = noop.NewRecorder()
	}
	return &Resolver{opts: opts, logger: logger.With("component", "ProviderResolver")}
}

// AllowNoop reports whether the noop provider is offered.
func (r *Resolver) AllowNoop() bool { return r.opts.AllowNoop }

// Recorder returns the recorder shared by noop providers.
func (r *Resolver) Recorder() *noop.Recorder { return r.opts.Recorder }

// Resolve builds the provider for kind from the tenant's credentials. It fails
// with KindProviderNotAvailable when the tenant does not support kind, and with
// KindProviderConstruction when stored credentials cannot be parsed.
func (r *Resolver) Resolve(ctx context.Context, tenant *notification.Tenant, kind notification.ProviderKind) (dispatch.Provider, error) {
	if !tenant.Supports(kind, r.opts.AllowNoop) {
		return nil, relayerr.Newf(relayerr.KindProviderNotAvailable, "tenant %s does not support %s", tenant.ID, kind)
	}

	switch kind {
	case notification.ProviderAPNs, notification.ProviderAPNsSandbox:
		if !tenant.APNs.Complete() {
			return nil, relayerr.Newf(relayerr.KindProviderNotAvailable, "tenant %s has incomplete APNs credentials", tenant.ID)
		}
		return apns.NewProvider(tenant.APNs, kind, r.logger)

	case notification.ProviderFCM:
		return fcmlegacy.NewProvider(tenant.FCMAPIKey, r.opts.FCMLegacyEndpoint, r.opts.HTTPClient, r.logger), nil

	case notification.ProviderFCMV1:
		client, err := fcm.NewMessagingClient(ctx, tenant.FCMV1Credentials)
		if err != nil {
			return nil, relayerr.New(relayerr.KindProviderConstruction, err)
		}
		return fcm.NewProvider(client, r.logger), nil

	case notification.ProviderNoop:
		return noop.NewProvider(r.opts.Recorder, r.logger), nil

	default:
		return nil, relayerr.Newf(relayerr.KindProviderNotAvailable, "unknown provider %s", kind)
	}
}

// CheckAPNs parses creds the same way Resolve would, so unusable
// certificates and keys are refused before they are stored.
func (r *Resolver) CheckAPNs(creds notification.APNsCredentials) error {
	_, err := apns.NewProvider(creds, notification.ProviderAPNs, r.logger)
	return err
}

// CheckFCMV1 verifies that credentials can back a messaging client.
func (r *Resolver) CheckFCMV1(ctx context.Context, credentials []byte) error {
	if _, err := fcm.NewMessagingClient(ctx, credentials); err != nil {
		return relayerr.New(relayerr.KindProviderConstruction, err)
	}
	return nil
}
