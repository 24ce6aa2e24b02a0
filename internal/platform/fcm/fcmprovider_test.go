package fcm_test

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"testing"

	"firebase.google.com/go/v4/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-push-relay/internal/platform/fcm"
	"github.com/tinywideclouds/go-push-relay/internal/relayerr"
	"github.com/tinywideclouds/go-push-relay/pkg/notification"
)

// MockClient satisfies the MessagingClient interface
type MockClient struct {
	mock.Mock
}

func (m *MockClient) Send(ctx context.Context, msg *messaging.Message) (string, error) {
	args := m.Called(ctx, msg)
	return args.String(0), args.Error(1)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFCMSend_Lifecycle(t *testing.T) {
	logger := newTestLogger()
	ctx := context.Background()

	t.Run("Happy Path - Plain Notification", func(t *testing.T) {
		mockClient := new(MockClient)
		provider := fcm.NewProvider(mockClient, logger)
		blob := base64.StdEncoding.EncodeToString([]byte(`{"title":"Test","body":"Hello","url":"https://example.com"}`))

		mockClient.On("Send", ctx, mock.MatchedBy(func(msg *messaging.Message) bool {
			return msg.Token == "token-1" &&
				msg.Notification != nil &&
				msg.Notification.Title == "Test" &&
				msg.Data["url"] == "https://example.com" &&
				msg.APNS.Payload.Aps.ContentAvailable
		})).Return("projects/p/messages/1", nil)

		err := provider.SendNotification(ctx, "token-1", notification.MessagePayload{Blob: blob})

		require.NoError(t, err)
		mockClient.AssertExpectations(t)
	})

	t.Run("Encrypted - Data Only", func(t *testing.T) {
		mockClient := new(MockClient)
		provider := fcm.NewProvider(mockClient, logger)

		mockClient.On("Send", ctx, mock.MatchedBy(func(msg *messaging.Message) bool {
			return msg.Notification == nil &&
				msg.Data["blob"] == "opaque" &&
				msg.Android.Priority == "high" &&
				msg.APNS.Payload.Aps.ContentAvailable
		})).Return("projects/p/messages/2", nil)

		err := provider.SendNotification(ctx, "token-1", notification.MessagePayload{Flags: 1, Blob: "opaque"})

		require.NoError(t, err)
		mockClient.AssertExpectations(t)
	})

	t.Run("Undecodable Plain Blob", func(t *testing.T) {
		mockClient := new(MockClient)
		provider := fcm.NewProvider(mockClient, logger)

		err := provider.SendNotification(ctx, "token-1", notification.MessagePayload{Blob: "%%%"})

		assert.Equal(t, relayerr.KindPayloadDecode, relayerr.KindOf(err))
		mockClient.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
	})

	t.Run("Transport Failure", func(t *testing.T) {
		mockClient := new(MockClient)
		provider := fcm.NewProvider(mockClient, logger)

		mockClient.On("Send", ctx, mock.Anything).Return("", errors.New("network down"))

		err := provider.SendNotification(ctx, "token-1", notification.MessagePayload{Flags: 1, Blob: "x"})

		require.Error(t, err)
		assert.Equal(t, relayerr.KindProviderTransport, relayerr.KindOf(err))
	})
}

func TestNewMessagingClient_RejectsBadCredentials(t *testing.T) {
	ctx := context.Background()

	_, err := fcm.NewMessagingClient(ctx, []byte("not json"))
	require.Error(t, err)

	_, err = fcm.NewMessagingClient(ctx, []byte(`{"type":"service_account"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "project_id")
}
