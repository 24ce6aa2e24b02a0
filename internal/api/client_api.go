package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/render"

	"github.com/tinywideclouds/go-push-relay/internal/auth"
	"github.com/tinywideclouds/go-push-relay/internal/pipeline"
	"github.com/tinywideclouds/go-push-relay/internal/relayerr"
	"github.com/tinywideclouds/go-push-relay/pkg/dispatch"
	"github.com/tinywideclouds/go-push-relay/pkg/notification"
)

// PushProcessor runs one validated push through the delivery core.
type PushProcessor interface {
	Process(ctx context.Context, tenantID, clientID string, msg notification.PushMessage) (pipeline.Outcome, error)
}

// IdentityDecoder verifies a client's bearer token.
type IdentityDecoder interface {
	Decode(token string) (*auth.ClientIdentity, error)
}

type ClientAPI struct {
	Store           dispatch.Store
	Processor       PushProcessor
	Identity        IdentityDecoder
	DefaultTenantID string
	Logger          *slog.Logger
}

// NewClientAPI builds the client handlers. identity may be nil, in which case
// bearer tokens are ignored. defaultTenantID serves routes without a tenant path segment.
func NewClientAPI(store dispatch.Store, processor PushProcessor, identity IdentityDecoder, defaultTenantID string, logger *slog.Logger) *ClientAPI {
	return &ClientAPI{
		Store:           store,
		Processor:       processor,
		Identity:        identity,
		DefaultTenantID: defaultTenantID,
		Logger:          logger.With("component", "ClientAPI"),
	}
}

type RegisterClientRequest struct {
	ClientID string `json:"client_id" validate:"required"`
	PushType string `json:"push_type" validate:"required"`
	Token    string `json:"token" validate:"required"`
}

type ClientView struct {
	ClientID string                    `json:"client_id"`
	TenantID string                    `json:"tenant_id"`
	PushType notification.ProviderKind `json:"push_type"`
}

type PushResponse struct {
	Status  string `json:"status"`
	Outcome string `json:"outcome"`
}

func (api *ClientAPI) tenantID(r *http.Request) string {
	if id := r.PathValue("tenant_id"); id != "" {
		return id
	}
	return api.DefaultTenantID
}

// Register creates or replaces a client registration.
func (api *ClientAPI) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := api.tenantID(r)

	var req RegisterClientRequest
	if err := render.DecodeJSON(http.MaxBytesReader(w, r.Body, maxBodyBytes), &req); err != nil {
		writeError(w, r, api.Logger, relayerr.Newf(relayerr.KindInvalidBody, "failed to decode registration: %w", err))
		return
	}
	if err := pipeline.Validate(&req); err != nil {
		writeError(w, r, api.Logger, err)
		return
	}
	pushType, err := notification.ParseProviderKind(req.PushType)
	if err != nil {
		writeError(w, r, api.Logger, relayerr.WithFields(relayerr.KindInvalidProviderKind, relayerr.Field{
			Field:       "push_type",
			Description: err.Error(),
			Location:    "body",
		}))
		return
	}

	if err := api.verifyIdentity(r, req.ClientID); err != nil {
		api.Logger.Warn("Client identity rejected", "tenant_id", tenantID, "client_id", req.ClientID, "err", err)
		writeError(w, r, api.Logger, err)
		return
	}

	client := &notification.Client{
		ID:       req.ClientID,
		TenantID: tenantID,
		PushType: pushType,
		Token:    req.Token,
	}
	if err := api.Store.RegisterClient(ctx, client); err != nil {
		writeError(w, r, api.Logger, err)
		return
	}
	api.Logger.Info("Client registered", "tenant_id", tenantID, "client_id", client.ID, "push_type", pushType)

	writeJSON(w, r, http.StatusOK, ClientView{ClientID: client.ID, TenantID: tenantID, PushType: pushType})
}

// verifyIdentity checks an optional bearer token against the claimed client id.
// Requests without an Authorization header pass.
func (api *ClientAPI) verifyIdentity(r *http.Request, clientID string) error {
	header := r.Header.Get("Authorization")
	if header == "" || api.Identity == nil {
		return nil
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return relayerr.Newf(relayerr.KindIdentityMalformed, "authorization header is not a bearer token")
	}
	identity, err := api.Identity.Decode(token)
	if err != nil {
		return err
	}
	if identity.ClientID != clientID {
		return relayerr.Newf(relayerr.KindClientIDMismatch, "token identifies %s, request claims %s", identity.ClientID, clientID)
	}
	return nil
}

func (api *ClientAPI) Delete(w http.ResponseWriter, r *http.Request) {
	tenantID := api.tenantID(r)
	clientID := r.PathValue("client_id")

	if err := api.Store.DeleteClient(r.Context(), tenantID, clientID); err != nil {
		writeError(w, r, api.Logger, err)
		return
	}
	api.Logger.Info("Client deleted", "tenant_id", tenantID, "client_id", clientID)
	writeJSON(w, r, http.StatusOK, statusBody{Status: "SUCCESS"})
}

// Push relays one signed webhook to the client. First deliveries and
// duplicates both answer 202.
func (api *ClientAPI) Push(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := api.tenantID(r)
	clientID := r.PathValue("client_id")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, r, api.Logger, relayerr.Newf(relayerr.KindInvalidBody, "failed to read body: %w", err))
		return
	}
	msg, err := pipeline.DecodePushMessage(body)
	if err != nil {
		writeError(w, r, api.Logger, err)
		return
	}

	outcome, err := api.Processor.Process(ctx, tenantID, clientID, *msg)
	if err != nil {
		api.applyFailurePolicy(ctx, tenantID, clientID, err)
		writeError(w, r, api.Logger, err)
		return
	}
	writeJSON(w, r, http.StatusAccepted, PushResponse{Status: "ACCEPTED", Outcome: outcome.String()})
}

// applyFailurePolicy reacts to backend verdicts that invalidate stored state:
// a rejected device token removes the client, an expired APNs certificate
// suspends the tenant's APNs provider until new credentials arrive.
func (api *ClientAPI) applyFailurePolicy(ctx context.Context, tenantID, clientID string, err error) {
	logger := api.Logger.With("tenant_id", tenantID, "client_id", clientID)
	switch relayerr.KindOf(err) {
	case relayerr.KindBadDeviceToken:
		if delErr := api.Store.DeleteClient(ctx, tenantID, clientID); delErr != nil && !relayerr.Is(delErr, relayerr.KindClientNotFound) {
			logger.Error("Failed to remove client with rejected token", "err", delErr)
			return
		}
		logger.Info("Removed client with rejected device token", "reason", relayerr.From(err).Reason)
	case relayerr.KindApnsCertificateExpired:
		if susErr := api.Store.SuspendAPNs(ctx, tenantID); susErr != nil {
			logger.Error("Failed to suspend APNs for tenant", "err", susErr)
			return
		}
		logger.Warn("APNs suspended after certificate expiry")
	}
}
