// Package fcmlegacy delivers pushes through the legacy FCM HTTP endpoint,
// authenticated with a server API key.
package fcmlegacy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tinywideclouds/go-push-relay/internal/relayerr"
	"github.com/tinywideclouds/go-push-relay/pkg/notification"
)

const DefaultEndpoint = "https://fcm.googleapis.com/fcm/send"

type Provider struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewProvider builds a legacy FCM provider. An empty endpoint selects DefaultEndpoint;
// a nil client selects a client with a 10s timeout.
func NewProvider(apiKey, endpoint string, httpClient *http.Client, logger *slog.Logger) *Provider {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Provider{
		apiKey:     apiKey,
		endpoint:   endpoint,
		httpClient: httpClient,
		logger:     logger.With("component", "FCMLegacyProvider"),
	}
}

func (p *Provider) Kind() notification.ProviderKind { return notification.ProviderFCM }

type request struct {
	To               string            `json:"to"`
	Priority         string            `json:"priority,omitempty"`
	ContentAvailable bool              `json:"content_available,omitempty"`
	MutableContent   bool              `json:"mutable_content,omitempty"`
	CollapseKey      string            `json:"collapse_key,omitempty"`
	Notification     *requestAlert     `json:"notification,omitempty"`
	Data             map[string]string `json:"data,omitempty"`
}

type requestAlert struct {
	Title string `json:"title,omitempty"`
	Body  string `json:"body,omitempty"`
	Image string `json:"image,omitempty"`
}

type response struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
	Results []struct {
		MessageID string `json:"message_id"`
		Error     string `json:"error"`
	} `json:"results"`
}

func (p *Provider) SendNotification(ctx context.Context, token string, payload notification.MessagePayload) error {
	body, err := buildRequest(token, payload)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return relayerr.New(relayerr.KindInternal, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(raw))
	if err != nil {
		return relayerr.New(relayerr.KindInternal, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "key="+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.logger.Error("FCM legacy transport failed", "err", err)
		return relayerr.New(relayerr.KindProviderTransport, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return relayerr.New(relayerr.KindProviderTransport, err)
	}
	if resp.StatusCode != http.StatusOK {
		p.logger.Warn("FCM legacy rejected request", "status", resp.StatusCode)
		return relayerr.WithReason(relayerr.KindFcmResponse, fmt.Sprintf("http status %d", resp.StatusCode))
	}

	var parsed response
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return relayerr.Newf(relayerr.KindFcmResponse, "unparseable response: %w", err)
	}
	if parsed.Failure == 0 {
		return nil
	}

	reason := "unknown"
	if len(parsed.Results) > 0 && parsed.Results[0].Error != "" {
		reason = parsed.Results[0].Error
	}
	switch reason {
	case "InvalidRegistration", "NotRegistered", "MissingRegistration":
		return relayerr.WithReason(relayerr.KindBadDeviceToken, reason)
	default:
		p.logger.Warn("FCM legacy rejected message", "reason", reason)
		return relayerr.WithReason(relayerr.KindFcmResponse, reason)
	}
}

func buildRequest(token string, payload notification.MessagePayload) (*request, error) {
	if payload.IsEncrypted() {
		data := map[string]string{"blob": payload.Blob, "encrypted": "1"}
		if payload.Topic != "" {
			data["topic"] = payload.Topic
		}
		return &request{
			To:               token,
			Priority:         "high",
			ContentAvailable: true,
			MutableContent:   true,
			Data:             data,
		}, nil
	}

	content, err := notification.DecodePlainContent(payload.Blob)
	if err != nil {
		return nil, relayerr.New(relayerr.KindPayloadDecode, err)
	}
	req := &request{
		To:               token,
		Priority:         "high",
		ContentAvailable: true,
		CollapseKey:      payload.Topic,
		Notification: &requestAlert{
			Title: content.Title,
			Body:  content.Body,
			Image: content.Image,
		},
	}
	if content.URL != "" {
		req.Data = map[string]string{"url": content.URL}
	}
	return req, nil
}
