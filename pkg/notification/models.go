// Package notification contains the public domain models for the push relay:
// tenants, their registered clients, and the notifications relayed to them.
package notification

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// ProviderKind names one of the fixed push backends.
type ProviderKind string

const (
	ProviderAPNs        ProviderKind = "apns"
	ProviderAPNsSandbox ProviderKind = "apns-sandbox"
	ProviderFCM         ProviderKind = "fcm"
	ProviderFCMV1       ProviderKind = "fcm_v1"
	ProviderNoop        ProviderKind = "noop"
)

// ParseProviderKind validates a push_type string from a request.
func ParseProviderKind(s string) (ProviderKind, error) {
	switch k := ProviderKind(s); k {
	case ProviderAPNs, ProviderAPNsSandbox, ProviderFCM, ProviderFCMV1, ProviderNoop:
		return k, nil
	default:
		return "", fmt.Errorf("unknown push type %q", s)
	}
}

// APNsAuthType selects which of the two APNs credential sets is populated.
type APNsAuthType string

const (
	APNsAuthCertificate APNsAuthType = "certificate"
	APNsAuthToken       APNsAuthType = "token"
)

// APNsCredentials holds at most one populated auth mode.
type APNsCredentials struct {
	Type    APNsAuthType `json:"type,omitempty"`
	Topic   string       `json:"topic,omitempty"`
	Sandbox bool         `json:"sandbox"`

	Certificate         []byte `json:"-"`
	CertificatePassword string `json:"-"`

	PKCS8PEM []byte `json:"-"`
	KeyID    string `json:"-"`
	TeamID   string `json:"-"`
}

// Complete reports whether the populated auth mode has every field it needs.
func (c APNsCredentials) Complete() bool {
	if c.Topic == "" {
		return false
	}
	switch c.Type {
	case APNsAuthCertificate:
		return len(c.Certificate) > 0 && c.CertificatePassword != ""
	case APNsAuthToken:
		return len(c.PKCS8PEM) > 0 && c.KeyID != "" && c.TeamID != ""
	default:
		return false
	}
}

// Tenant is an isolated customer namespace owning clients and provider credentials.
type Tenant struct {
	ID               string
	FCMAPIKey        string
	FCMV1Credentials []byte
	APNs             APNsCredentials
	// APNsSuspended is set when APNs rejected the tenant's certificate as expired,
	// and cleared by the next APNs credential update.
	APNsSuspended bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Providers derives the supported provider set from which credentials are populated.
func (t *Tenant) Providers(allowNoop bool) []ProviderKind {
	var kinds []ProviderKind
	if t.APNs.Type != "" && !t.APNsSuspended {
		kinds = append(kinds, ProviderAPNs, ProviderAPNsSandbox)
	}
	if t.FCMAPIKey != "" {
		kinds = append(kinds, ProviderFCM)
	}
	if len(t.FCMV1Credentials) > 0 {
		kinds = append(kinds, ProviderFCMV1)
	}
	if allowNoop {
		kinds = append(kinds, ProviderNoop)
	}
	return kinds
}

// Supports reports whether kind is in the tenant's provider set.
func (t *Tenant) Supports(kind ProviderKind, allowNoop bool) bool {
	for _, k := range t.Providers(allowNoop) {
		if k == kind {
			return true
		}
	}
	return false
}

// Client is a registered device scoped to a tenant.
type Client struct {
	ID        string
	TenantID  string
	PushType  ProviderKind
	Token     string
	CreatedAt time.Time
}

// MessagePayload is the relay-supplied payload. Bit 0 of Flags marks it encrypted.
type MessagePayload struct {
	Topic string `json:"topic,omitempty"`
	Flags uint32 `json:"flags"`
	Blob  string `json:"blob" validate:"required"`
}

const flagEncrypted uint32 = 1

// IsEncrypted reports whether the blob must be delivered opaquely.
func (p MessagePayload) IsEncrypted() bool {
	return p.Flags&flagEncrypted != 0
}

// PushMessage is the body of a signed push webhook.
type PushMessage struct {
	ID      string         `json:"id" validate:"required"`
	Payload MessagePayload `json:"payload" validate:"required"`
}

// PlainContent is the decoded form of an unencrypted blob.
type PlainContent struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Image string `json:"image,omitempty"`
	URL   string `json:"url,omitempty"`
}

// DecodePlainContent decodes an unencrypted blob: base64 (standard, falling back
// to URL-safe) over a JSON object.
func DecodePlainContent(blob string) (PlainContent, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		var urlErr error
		raw, urlErr = base64.RawURLEncoding.DecodeString(blob)
		if urlErr != nil {
			return PlainContent{}, fmt.Errorf("blob is not base64: %w", err)
		}
	}
	var content PlainContent
	if err := json.Unmarshal(raw, &content); err != nil {
		return PlainContent{}, fmt.Errorf("blob is not a json object: %w", err)
	}
	return content, nil
}

// Notification is the delivery-idempotency record keyed by (ID, ClientID).
type Notification struct {
	ID               string
	ClientID         string
	TenantID         string
	LastPayload      MessagePayload
	PreviousPayloads []MessagePayload
	LastReceivedAt   time.Time
	CreatedAt        time.Time
}

// IsDuplicate reports whether this id was already processed for the client.
func (n *Notification) IsDuplicate() bool {
	return len(n.PreviousPayloads) > 1
}
