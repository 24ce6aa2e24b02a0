package fcmlegacy_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-push-relay/internal/platform/fcmlegacy"
	"github.com/tinywideclouds/go-push-relay/internal/relayerr"
	"github.com/tinywideclouds/go-push-relay/pkg/notification"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newLegacyServer(t *testing.T, status int, body string, seen *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key=server-key", r.Header.Get("Authorization"))
		if seen != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(seen))
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSendNotification(t *testing.T) {
	ctx := context.Background()
	encrypted := notification.MessagePayload{Flags: 1, Blob: "opaque", Topic: "chat"}

	t.Run("Success - Encrypted Data Push", func(t *testing.T) {
		var seen map[string]any
		srv := newLegacyServer(t, http.StatusOK, `{"success":1,"failure":0,"results":[{"message_id":"1"}]}`, &seen)
		provider := fcmlegacy.NewProvider("server-key", srv.URL, srv.Client(), newTestLogger())

		err := provider.SendNotification(ctx, "device-token", encrypted)

		require.NoError(t, err)
		assert.Equal(t, "device-token", seen["to"])
		assert.Equal(t, true, seen["content_available"])
		assert.Nil(t, seen["notification"])
		data := seen["data"].(map[string]any)
		assert.Equal(t, "opaque", data["blob"])
	})

	testCases := []struct {
		name   string
		status int
		body   string
		kind   relayerr.Kind
	}{
		{"Not Registered", http.StatusOK, `{"success":0,"failure":1,"results":[{"error":"NotRegistered"}]}`, relayerr.KindBadDeviceToken},
		{"Invalid Registration", http.StatusOK, `{"success":0,"failure":1,"results":[{"error":"InvalidRegistration"}]}`, relayerr.KindBadDeviceToken},
		{"Missing Registration", http.StatusOK, `{"success":0,"failure":1,"results":[{"error":"MissingRegistration"}]}`, relayerr.KindBadDeviceToken},
		{"Other Error", http.StatusOK, `{"success":0,"failure":1,"results":[{"error":"MessageTooBig"}]}`, relayerr.KindFcmResponse},
		{"Unauthorized", http.StatusUnauthorized, `<html>`, relayerr.KindFcmResponse},
		{"Garbage Body", http.StatusOK, `nope`, relayerr.KindFcmResponse},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newLegacyServer(t, tc.status, tc.body, nil)
			provider := fcmlegacy.NewProvider("server-key", srv.URL, srv.Client(), newTestLogger())

			err := provider.SendNotification(ctx, "device-token", encrypted)

			require.Error(t, err)
			assert.Equal(t, tc.kind, relayerr.KindOf(err))
		})
	}

	t.Run("Transport Failure", func(t *testing.T) {
		srv := newLegacyServer(t, http.StatusOK, `{}`, nil)
		url := srv.URL
		srv.Close()
		provider := fcmlegacy.NewProvider("server-key", url, nil, newTestLogger())

		err := provider.SendNotification(ctx, "device-token", encrypted)

		assert.Equal(t, relayerr.KindProviderTransport, relayerr.KindOf(err))
	})
}
