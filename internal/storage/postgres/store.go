// Package postgres implements dispatch.Store on PostgreSQL through gorm.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tinywideclouds/go-push-relay/internal/relayerr"
	"github.com/tinywideclouds/go-push-relay/pkg/notification"
)

type Store struct {
	db  *gorm.DB
	now func() time.Time
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func storageErr(err error) error {
	if err == nil {
		return nil
	}
	var re *relayerr.Error
	if errors.As(err, &re) {
		return re
	}
	return relayerr.New(relayerr.KindStorage, err)
}

func (s *Store) CreateTenant(ctx context.Context, tenant *notification.Tenant) error {
	now := s.now()
	tenant.CreatedAt, tenant.UpdatedAt = now, now
	model := tenantToModel(tenant)

	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&model)
	if res.Error != nil {
		return storageErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return relayerr.Newf(relayerr.KindTenantExists, "tenant %s already exists", tenant.ID)
	}
	return nil
}

func (s *Store) GetTenant(ctx context.Context, id string) (*notification.Tenant, error) {
	var model TenantModel
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, relayerr.Newf(relayerr.KindTenantNotFound, "tenant %s not found", id)
		}
		return nil, storageErr(err)
	}
	return tenantFromModel(model), nil
}

// DeleteTenant relies on ON DELETE CASCADE for clients and notifications.
func (s *Store) DeleteTenant(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&TenantModel{})
	if res.Error != nil {
		return storageErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return relayerr.Newf(relayerr.KindTenantNotFound, "tenant %s not found", id)
	}
	return nil
}

func (s *Store) UpdateFCM(ctx context.Context, id, apiKey string) error {
	return s.updateTenant(ctx, id, map[string]any{"fcm_api_key": apiKey})
}

func (s *Store) UpdateFCMV1(ctx context.Context, id string, credentials []byte) error {
	return s.updateTenant(ctx, id, map[string]any{"fcm_v1_credentials": credentials})
}

// UpdateAPNs overwrites every APNs column so the unused auth mode is cleared.
func (s *Store) UpdateAPNs(ctx context.Context, id string, creds notification.APNsCredentials) error {
	return s.updateTenant(ctx, id, map[string]any{
		"apns_type":                 string(creds.Type),
		"apns_topic":                creds.Topic,
		"apns_sandbox":              creds.Sandbox,
		"apns_certificate":          creds.Certificate,
		"apns_certificate_password": creds.CertificatePassword,
		"apns_pkcs8":                creds.PKCS8PEM,
		"apns_key_id":               creds.KeyID,
		"apns_team_id":              creds.TeamID,
		"apns_suspended":            false,
	})
}

func (s *Store) SuspendAPNs(ctx context.Context, id string) error {
	return s.updateTenant(ctx, id, map[string]any{"apns_suspended": true})
}

func (s *Store) updateTenant(ctx context.Context, id string, columns map[string]any) error {
	columns["updated_at"] = s.now()
	res := s.db.WithContext(ctx).Model(&TenantModel{}).Where("id = ?", id).Updates(columns)
	if res.Error != nil {
		return storageErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return relayerr.Newf(relayerr.KindTenantNotFound, "tenant %s not found", id)
	}
	return nil
}

func (s *Store) RegisterClient(ctx context.Context, client *notification.Client) error {
	model := ClientModel{
		TenantID:  client.TenantID,
		ID:        client.ID,
		PushType:  string(client.PushType),
		Token:     client.Token,
		CreatedAt: s.now(),
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&TenantModel{}).Where("id = ?", client.TenantID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return relayerr.Newf(relayerr.KindTenantNotFound, "tenant %s not found", client.TenantID)
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"push_type", "token"}),
		}).Create(&model).Error
	})
	if err != nil {
		return storageErr(err)
	}
	client.CreatedAt = model.CreatedAt
	return nil
}

func (s *Store) GetClient(ctx context.Context, tenantID, clientID string) (*notification.Client, error) {
	var model ClientModel
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, clientID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, relayerr.Newf(relayerr.KindClientNotFound, "client %s not found", clientID)
		}
		return nil, storageErr(err)
	}
	return clientFromModel(model), nil
}

func (s *Store) DeleteClient(ctx context.Context, tenantID, clientID string) error {
	res := s.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, clientID).
		Delete(&ClientModel{})
	if res.Error != nil {
		return storageErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return relayerr.Newf(relayerr.KindClientNotFound, "client %s not found", clientID)
	}
	return nil
}

// clientLockKey maps a tenant-scoped client onto the bigint keyspace of pg
// advisory locks.
func clientLockKey(tenantID, clientID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(tenantID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(clientID))
	return int64(h.Sum64())
}

// CreateOrUpdateNotification takes a transaction-scoped advisory lock on the
// client, upserts the (tenant_id, id, client_id) row appending payload to
// previous_payloads, and reads the row back inside the same transaction.
func (s *Store) CreateOrUpdateNotification(ctx context.Context, id, tenantID, clientID string, payload notification.MessagePayload) (*notification.Notification, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, relayerr.New(relayerr.KindInternal, err)
	}
	now := s.now()
	model := NotificationModel{
		ID:               id,
		ClientID:         clientID,
		TenantID:         tenantID,
		LastPayload:      string(raw),
		PreviousPayloads: pq.StringArray{string(raw)},
		LastReceivedAt:   now,
		CreatedAt:        now,
	}

	var stored NotificationModel
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", clientLockKey(tenantID, clientID)).Error; err != nil {
			return err
		}
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "tenant_id"}, {Name: "id"}, {Name: "client_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"previous_payloads": gorm.Expr("array_append(notifications.previous_payloads, EXCLUDED.last_payload)"),
				"last_payload":      gorm.Expr("EXCLUDED.last_payload"),
				"last_received_at":  gorm.Expr("EXCLUDED.last_received_at"),
			}),
		}).Create(&model).Error
		if err != nil {
			return err
		}
		return tx.Where("tenant_id = ? AND id = ? AND client_id = ?", tenantID, id, clientID).First(&stored).Error
	})
	if err != nil {
		return nil, storageErr(err)
	}

	n, err := notificationFromModel(stored)
	if err != nil {
		return nil, relayerr.New(relayerr.KindStorage, err)
	}
	return n, nil
}
