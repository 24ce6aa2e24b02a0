package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/tinywideclouds/go-push-relay/pkg/notification"
)

type TenantModel struct {
	ID                      string    `gorm:"primaryKey"`
	FCMAPIKey               string    `gorm:"column:fcm_api_key;not null;default:''"`
	FCMV1Credentials        []byte    `gorm:"column:fcm_v1_credentials;type:bytea"`
	APNsType                string    `gorm:"column:apns_type;not null;default:''"`
	APNsTopic               string    `gorm:"column:apns_topic;not null;default:''"`
	APNsSandbox             bool      `gorm:"column:apns_sandbox;not null;default:false"`
	APNsCertificate         []byte    `gorm:"column:apns_certificate;type:bytea"`
	APNsCertificatePassword string    `gorm:"column:apns_certificate_password;not null;default:''"`
	APNsPKCS8PEM            []byte    `gorm:"column:apns_pkcs8;type:bytea"`
	APNsKeyID               string    `gorm:"column:apns_key_id;not null;default:''"`
	APNsTeamID              string    `gorm:"column:apns_team_id;not null;default:''"`
	APNsSuspended           bool      `gorm:"column:apns_suspended;not null;default:false"`
	CreatedAt               time.Time `gorm:"not null"`
	UpdatedAt               time.Time `gorm:"not null"`
}

func (TenantModel) TableName() string {
	return "tenants"
}

type ClientModel struct {
	TenantID  string    `gorm:"primaryKey"`
	ID        string    `gorm:"primaryKey"`
	PushType  string    `gorm:"not null"`
	Token     string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (ClientModel) TableName() string {
	return "clients"
}

type NotificationModel struct {
	TenantID         string         `gorm:"primaryKey"`
	ID               string         `gorm:"primaryKey"`
	ClientID         string         `gorm:"primaryKey"`
	LastPayload      string         `gorm:"not null"`
	PreviousPayloads pq.StringArray `gorm:"type:text[];not null"`
	LastReceivedAt   time.Time      `gorm:"not null"`
	CreatedAt        time.Time      `gorm:"not null"`
}

func (NotificationModel) TableName() string {
	return "notifications"
}

func tenantFromModel(m TenantModel) *notification.Tenant {
	return &notification.Tenant{
		ID:               m.ID,
		FCMAPIKey:        m.FCMAPIKey,
		FCMV1Credentials: m.FCMV1Credentials,
		APNs: notification.APNsCredentials{
			Type:                notification.APNsAuthType(m.APNsType),
			Topic:               m.APNsTopic,
			Sandbox:             m.APNsSandbox,
			Certificate:         m.APNsCertificate,
			CertificatePassword: m.APNsCertificatePassword,
			PKCS8PEM:            m.APNsPKCS8PEM,
			KeyID:               m.APNsKeyID,
			TeamID:              m.APNsTeamID,
		},
		APNsSuspended: m.APNsSuspended,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func tenantToModel(t *notification.Tenant) TenantModel {
	return TenantModel{
		ID:                      t.ID,
		FCMAPIKey:               t.FCMAPIKey,
		FCMV1Credentials:        t.FCMV1Credentials,
		APNsType:                string(t.APNs.Type),
		APNsTopic:               t.APNs.Topic,
		APNsSandbox:             t.APNs.Sandbox,
		APNsCertificate:         t.APNs.Certificate,
		APNsCertificatePassword: t.APNs.CertificatePassword,
		APNsPKCS8PEM:            t.APNs.PKCS8PEM,
		APNsKeyID:               t.APNs.KeyID,
		APNsTeamID:              t.APNs.TeamID,
		APNsSuspended:           t.APNsSuspended,
		CreatedAt:               t.CreatedAt,
		UpdatedAt:               t.UpdatedAt,
	}
}

func clientFromModel(m ClientModel) *notification.Client {
	return &notification.Client{
		ID:        m.ID,
		TenantID:  m.TenantID,
		PushType:  notification.ProviderKind(m.PushType),
		Token:     m.Token,
		CreatedAt: m.CreatedAt,
	}
}

func notificationFromModel(m NotificationModel) (*notification.Notification, error) {
	n := &notification.Notification{
		ID:             m.ID,
		ClientID:       m.ClientID,
		TenantID:       m.TenantID,
		LastReceivedAt: m.LastReceivedAt,
		CreatedAt:      m.CreatedAt,
	}
	if err := json.Unmarshal([]byte(m.LastPayload), &n.LastPayload); err != nil {
		return nil, fmt.Errorf("decode last payload: %w", err)
	}
	n.PreviousPayloads = make([]notification.MessagePayload, 0, len(m.PreviousPayloads))
	for i, raw := range m.PreviousPayloads {
		var p notification.MessagePayload
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("decode previous payload %d: %w", i, err)
		}
		n.PreviousPayloads = append(n.PreviousPayloads, p)
	}
	return n, nil
}
