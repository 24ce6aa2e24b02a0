// Package apns provides the client for the Apple Push Notification Service.
package apns

import (
	"context"
	"crypto/x509"
	"errors"
	"log/slog"
	"strings"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/certificate"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
	"github.com/tinywideclouds/go-push-relay/internal/relayerr"
	"github.com/tinywideclouds/go-push-relay/pkg/notification"
)

// APNSClient defines the subset of the apns2.Client methods we use.
// This allows mocking for unit tests.
type APNSClient interface {
	PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error)
}

type Provider struct {
	client APNSClient
	kind   notification.ProviderKind
	topic  string
	logger *slog.Logger
}

// NewProvider builds a provider for the tenant's APNs credentials. Parse failures
// of the certificate or key are returned as KindProviderConstruction errors.
// The development endpoint is used when the tenant is flagged sandbox or when
// kind is apns-sandbox.
func NewProvider(creds notification.APNsCredentials, kind notification.ProviderKind, logger *slog.Logger) (*Provider, error) {
	var client *apns2.Client
	switch creds.Type {
	case notification.APNsAuthCertificate:
		cert, err := certificate.FromP12Bytes(creds.Certificate, creds.CertificatePassword)
		if err != nil {
			return nil, relayerr.Newf(relayerr.KindProviderConstruction, "failed to parse APNs certificate: %w", err)
		}
		client = apns2.NewClient(cert)
	case notification.APNsAuthToken:
		authKey, err := token.AuthKeyFromBytes(creds.PKCS8PEM)
		if err != nil {
			return nil, relayerr.Newf(relayerr.KindProviderConstruction, "failed to parse APNs P8 key: %w", err)
		}
		client = apns2.NewTokenClient(&token.Token{
			AuthKey: authKey,
			KeyID:   creds.KeyID,
			TeamID:  creds.TeamID,
		})
	default:
		return nil, relayerr.Newf(relayerr.KindProviderNotAvailable, "unknown APNs auth type %q", creds.Type)
	}

	if creds.Sandbox || kind == notification.ProviderAPNsSandbox {
		client = client.Development()
	} else {
		client = client.Production()
	}
	return newProvider(client, kind, creds.Topic, logger), nil
}

func newProvider(client APNSClient, kind notification.ProviderKind, topic string, logger *slog.Logger) *Provider {
	return &Provider{
		client: client,
		kind:   kind,
		topic:  topic,
		logger: logger.With("component", "APNSProvider"),
	}
}

func (p *Provider) Kind() notification.ProviderKind { return p.kind }

// SendNotification pushes one payload to one device token.
func (p *Provider) SendNotification(ctx context.Context, deviceToken string, msg notification.MessagePayload) error {
	n, err := p.buildNotification(deviceToken, msg)
	if err != nil {
		return err
	}

	res, err := p.client.PushWithContext(ctx, n)
	if err != nil {
		if isCertificateExpired(err) {
			p.logger.Warn("APNs rejected expired certificate", "topic", p.topic, "err", err)
			return relayerr.New(relayerr.KindApnsCertificateExpired, err)
		}
		p.logger.Error("APNs transport failed", "err", err)
		return relayerr.New(relayerr.KindProviderTransport, err)
	}

	if res.Sent() {
		return nil
	}

	switch res.Reason {
	case apns2.ReasonBadDeviceToken, apns2.ReasonUnregistered, apns2.ReasonDeviceTokenNotForTopic:
		return relayerr.WithReason(relayerr.KindBadDeviceToken, res.Reason)
	default:
		p.logger.Warn("APNs rejected notification", "reason", res.Reason, "status", res.StatusCode)
		return relayerr.WithReason(relayerr.KindApnsResponse, res.Reason)
	}
}

func (p *Provider) buildNotification(deviceToken string, msg notification.MessagePayload) (*apns2.Notification, error) {
	n := &apns2.Notification{
		DeviceToken: deviceToken,
		Topic:       p.topic,
	}

	if msg.IsEncrypted() {
		// Opaque data push; the app decrypts it after being woken.
		builder := payload.NewPayload().
			ContentAvailable().
			MutableContent().
			Custom("blob", msg.Blob)
		if msg.Topic != "" {
			builder.Custom("topic", msg.Topic)
		}
		n.Payload = builder
		n.PushType = apns2.PushTypeBackground
		n.Priority = apns2.PriorityLow
		return n, nil
	}

	content, err := notification.DecodePlainContent(msg.Blob)
	if err != nil {
		return nil, relayerr.New(relayerr.KindPayloadDecode, err)
	}
	builder := payload.NewPayload().
		AlertTitle(content.Title).
		AlertBody(content.Body).
		ContentAvailable()
	if content.URL != "" {
		builder.Custom("url", content.URL)
	}
	if content.Image != "" {
		builder.MutableContent().Custom("image", content.Image)
	}
	if msg.Topic != "" {
		builder.ThreadID(msg.Topic)
	}
	n.Payload = builder
	n.PushType = apns2.PushTypeAlert
	n.Priority = apns2.PriorityHigh
	return n, nil
}

// isCertificateExpired matches the TLS failures APNs produces for a client
// certificate past its validity period.
func isCertificateExpired(err error) bool {
	var certErr x509.CertificateInvalidError
	if errors.As(err, &certErr) && certErr.Reason == x509.Expired {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "certificate expired") ||
		strings.Contains(msg, "expired certificate") ||
		strings.Contains(msg, "certificate has expired")
}
