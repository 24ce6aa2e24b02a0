package api_test

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-relay/internal/api"
	"github.com/tinywideclouds/go-push-relay/internal/auth"
	"github.com/tinywideclouds/go-push-relay/internal/pipeline"
	"github.com/tinywideclouds/go-push-relay/internal/platform"
	"github.com/tinywideclouds/go-push-relay/internal/platform/noop"
	"github.com/tinywideclouds/go-push-relay/internal/ratelimit"
	"github.com/tinywideclouds/go-push-relay/internal/storage/memory"
	"github.com/tinywideclouds/go-push-relay/pkg/notification"
)

type relayHarness struct {
	server   *httptest.Server
	store    *memory.Store
	recorder *noop.Recorder
	priv     ed25519.PrivateKey
}

func newRelayHarness(t *testing.T) *relayHarness {
	t.Helper()
	logger := newTestLogger()
	pub, priv := newKeyPair(t)

	store := memory.NewStore(nil)
	recorder := noop.NewRecorder()
	resolver := platform.NewResolver(platform.Options{AllowNoop: true, Recorder: recorder}, logger)
	processor := pipeline.NewProcessor(store, resolver, nil, logger)

	mux := http.NewServeMux()
	api.RegisterRoutes(mux, api.RouteConfig{
		Clients:              api.NewClientAPI(store, processor, nil, "default", logger),
		Tenants:              api.NewTenantAPI(store, resolver, true, logger),
		RelayKeys:            staticKeys{key: pub},
		ManagementAuth:       requireAdminToken,
		Limiter:              ratelimit.NewMemoryLimiter(ratelimit.Config{MaxRequests: 1000, Window: time.Second}, nil),
		RateLimitFallbackKey: "unknown",
		SingleTenant:         true,
		Logger:               logger,
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &relayHarness{server: server, store: store, recorder: recorder, priv: priv}
}

const adminToken = "admin-token"

// requireAdminToken stands in for the JWKS middleware: one fixed bearer token
// is accepted, anything else is refused with 401.
func requireAdminToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+adminToken {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *relayHarness) do(t *testing.T, method, path string, body any, signed bool) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(method, h.server.URL+path, bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+adminToken)
	if signed {
		sig := ed25519.Sign(h.priv, auth.SignedMessage("1700000000", raw))
		req.Header.Set(auth.SignatureHeader, hex.EncodeToString(sig))
		req.Header.Set(auth.TimestampHeader, "1700000000")
	}
	resp, err := h.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func readJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestRelay_EndToEnd(t *testing.T) {
	ctx := context.Background()
	h := newRelayHarness(t)
	msg := notification.PushMessage{ID: "n1", Payload: notification.MessagePayload{Flags: 1, Blob: "opaque"}}

	// 1. Tenant and noop client
	resp := h.do(t, http.MethodPost, "/tenants", map[string]string{"id": "t1"}, false)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp = h.do(t, http.MethodPost, "/tenants/t1/clients", map[string]string{
		"client_id": "c1", "push_type": "noop", "token": "device",
	}, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	t.Run("Same id twice is delivered once", func(t *testing.T) {
		var first, second api.PushResponse

		resp := h.do(t, http.MethodPost, "/tenants/t1/clients/c1", msg, true)
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
		readJSON(t, resp, &first)

		resp = h.do(t, http.MethodPost, "/tenants/t1/clients/c1", msg, true)
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
		readJSON(t, resp, &second)

		assert.Equal(t, "delivered", first.Outcome)
		assert.Equal(t, "already_accepted", second.Outcome)
		deliveries := h.recorder.Deliveries()
		require.Len(t, deliveries, 1)
		assert.Equal(t, "device", deliveries[0].Token)
	})

	t.Run("Missing timestamp is rejected before any work", func(t *testing.T) {
		raw, _ := json.Marshal(notification.PushMessage{ID: "n2", Payload: notification.MessagePayload{Blob: "x"}})
		req, err := http.NewRequest(http.MethodPost, h.server.URL+"/tenants/t1/clients/c1", bytes.NewReader(raw))
		require.NoError(t, err)
		req.Header.Set(auth.SignatureHeader, hex.EncodeToString(make([]byte, ed25519.SignatureSize)))
		resp, err := h.server.Client().Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		var body api.ErrorBody
		readJSON(t, resp, &body)
		assert.Equal(t, "MissingTimestamp", body.Errors[0].Name)
		assert.Len(t, h.recorder.Deliveries(), 1)
	})

	t.Run("FCM only tenant cannot push to an APNs client", func(t *testing.T) {
		resp := h.do(t, http.MethodPost, "/tenants", map[string]string{"id": "fcm-only"}, false)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		require.NoError(t, h.store.UpdateFCM(ctx, "fcm-only", "server-key"))
		resp = h.do(t, http.MethodPost, "/tenants/fcm-only/clients", map[string]string{
			"client_id": "ios", "push_type": "apns", "token": "apns-token",
		}, false)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp = h.do(t, http.MethodPost, "/tenants/fcm-only/clients/ios", msg, true)

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		var body api.ErrorBody
		readJSON(t, resp, &body)
		assert.Equal(t, "ProviderNotAvailable", body.Errors[0].Name)
		assert.Len(t, h.recorder.Deliveries(), 1)
	})

	t.Run("Single tenant aliases", func(t *testing.T) {
		require.NoError(t, h.store.CreateTenant(ctx, &notification.Tenant{ID: "default"}))
		resp := h.do(t, http.MethodPost, "/clients", map[string]string{
			"client_id": "solo", "push_type": "noop", "token": "solo-device",
		}, false)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp = h.do(t, http.MethodPost, "/clients/solo", msg, true)
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)

		resp = h.do(t, http.MethodDelete, "/clients/solo", nil, false)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("Tenant deletion cascades to clients", func(t *testing.T) {
		resp := h.do(t, http.MethodDelete, "/tenants/t1", nil, false)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp = h.do(t, http.MethodPost, "/tenants/t1/clients/c1", msg, true)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("Management routes require authentication", func(t *testing.T) {
		require.NoError(t, h.store.CreateTenant(ctx, &notification.Tenant{ID: "guarded"}))
		require.NoError(t, h.store.RegisterClient(ctx, &notification.Client{
			ID: "g1", TenantID: "guarded", PushType: notification.ProviderNoop, Token: "device",
		}))

		cases := []struct {
			method, path string
		}{
			{http.MethodPost, "/tenants"},
			{http.MethodGet, "/tenants/guarded"},
			{http.MethodDelete, "/tenants/guarded"},
			{http.MethodPost, "/tenants/guarded/apns"},
			{http.MethodPost, "/tenants/guarded/fcm"},
			{http.MethodPost, "/tenants/guarded/fcm_v1"},
			{http.MethodDelete, "/tenants/guarded/clients/g1"},
			{http.MethodDelete, "/clients/g1"},
		}
		for _, tc := range cases {
			req, err := http.NewRequest(tc.method, h.server.URL+tc.path, nil)
			require.NoError(t, err)
			resp, err := h.server.Client().Do(req)
			require.NoError(t, err)
			_ = resp.Body.Close()
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "%s %s", tc.method, tc.path)
		}

		// Nothing changed behind the refused requests
		tenant, err := h.store.GetTenant(ctx, "guarded")
		require.NoError(t, err)
		assert.Empty(t, tenant.FCMAPIKey)
		_, err = h.store.GetClient(ctx, "guarded", "g1")
		assert.NoError(t, err)

		// Device registration stays open
		raw, _ := json.Marshal(map[string]string{"client_id": "g2", "push_type": "noop", "token": "device"})
		resp, err := h.server.Client().Post(h.server.URL+"/tenants/guarded/clients", "application/json", bytes.NewReader(raw))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("Health", func(t *testing.T) {
		resp, err := h.server.Client().Get(h.server.URL + "/health")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.NotEmpty(t, resp.Header.Get("RateLimit-Limit"))
	})
}
