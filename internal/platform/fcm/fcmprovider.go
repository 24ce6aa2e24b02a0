// Package fcm delivers pushes through the Firebase Cloud Messaging HTTP v1 API.
package fcm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/errorutils"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"github.com/tinywideclouds/go-push-relay/internal/relayerr"
	"github.com/tinywideclouds/go-push-relay/pkg/notification"
)

// MessagingClient defines the subset of the Firebase Messaging API we use.
// This interface allows us to mock the client for unit testing.
type MessagingClient interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
}

type Provider struct {
	client MessagingClient
	traits errorTraits
	logger *slog.Logger
}

// errorTraits are the SDK error predicates classify consults.
type errorTraits struct {
	invalidArgument func(error) bool
	unregistered    func(error) bool
	thirdPartyAuth  func(error) bool
}

var sdkTraits = errorTraits{
	invalidArgument: messaging.IsInvalidArgument,
	unregistered:    messaging.IsUnregistered,
	thirdPartyAuth:  messaging.IsThirdPartyAuthError,
}

type serviceAccount struct {
	ProjectID string `json:"project_id"`
}

// NewMessagingClient builds a Firebase messaging client from a service-account JSON document.
func NewMessagingClient(ctx context.Context, credentials []byte) (*messaging.Client, error) {
	var sa serviceAccount
	if err := json.Unmarshal(credentials, &sa); err != nil {
		return nil, fmt.Errorf("credentials are not a service account document: %w", err)
	}
	if sa.ProjectID == "" {
		return nil, errors.New("service account has no project_id")
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: sa.ProjectID}, option.WithCredentialsJSON(credentials))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create messaging client: %w", err)
	}
	return client, nil
}

// NewProvider accepts the concrete client but stores it as the interface.
// Note: *messaging.Client automatically satisfies this interface.
func NewProvider(client MessagingClient, logger *slog.Logger) *Provider {
	return &Provider{
		client: client,
		traits: sdkTraits,
		logger: logger.With("component", "FCMProvider"),
	}
}

func (p *Provider) Kind() notification.ProviderKind { return notification.ProviderFCMV1 }

func (p *Provider) SendNotification(ctx context.Context, token string, payload notification.MessagePayload) error {
	msg, err := buildMessage(token, payload)
	if err != nil {
		return err
	}

	id, err := p.client.Send(ctx, msg)
	if err != nil {
		return p.classify(err)
	}
	p.logger.Debug("FCM accepted message", "message_id", id)
	return nil
}

func (p *Provider) classify(err error) error {
	switch {
	case p.traits.unregistered(err):
		return relayerr.New(relayerr.KindBadDeviceToken, err)
	case p.traits.invalidArgument(err) && rejectsToken(err):
		return relayerr.New(relayerr.KindBadDeviceToken, err)
	case p.traits.invalidArgument(err):
		// Malformed message: the device token is still good.
		p.logger.Warn("FCM rejected message as invalid", "err", err)
		e := relayerr.New(relayerr.KindFcmResponse, err)
		e.Reason = "INVALID_ARGUMENT"
		return e
	case p.traits.thirdPartyAuth(err):
		p.logger.Warn("FCM rejected the APNs bridging credential", "err", err)
		return relayerr.New(relayerr.KindBadApnsCredentials, err)
	case errorutils.HTTPResponse(err) != nil:
		p.logger.Warn("FCM rejected message", "err", err)
		e := relayerr.New(relayerr.KindFcmResponse, err)
		e.Reason = errorutils.HTTPResponse(err).Status
		return e
	default:
		p.logger.Error("FCM transport failed", "err", err)
		return relayerr.New(relayerr.KindProviderTransport, err)
	}
}

// rejectsToken reports whether an INVALID_ARGUMENT response blames the
// registration token rather than the message body.
func rejectsToken(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "registration token") || strings.Contains(msg, "message.token")
}

func buildMessage(token string, payload notification.MessagePayload) (*messaging.Message, error) {
	if payload.IsEncrypted() {
		data := map[string]string{"blob": payload.Blob, "encrypted": "1"}
		if payload.Topic != "" {
			data["topic"] = payload.Topic
		}
		return &messaging.Message{
			Token:   token,
			Data:    data,
			Android: &messaging.AndroidConfig{Priority: "high"},
			APNS: &messaging.APNSConfig{
				Headers: map[string]string{
					"apns-push-type": "background",
					"apns-priority":  "5",
				},
				Payload: &messaging.APNSPayload{
					Aps: &messaging.Aps{ContentAvailable: true},
				},
			},
		}, nil
	}

	content, err := notification.DecodePlainContent(payload.Blob)
	if err != nil {
		return nil, relayerr.New(relayerr.KindPayloadDecode, err)
	}
	msg := &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title:    content.Title,
			Body:     content.Body,
			ImageURL: content.Image,
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{ContentAvailable: true},
			},
		},
	}
	if content.URL != "" {
		msg.Data = map[string]string{"url": content.URL}
	}
	if payload.Topic != "" {
		msg.Android = &messaging.AndroidConfig{CollapseKey: payload.Topic}
	}
	return msg, nil
}
