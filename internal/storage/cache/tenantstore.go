package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tinywideclouds/go-push-relay/pkg/dispatch"
	"github.com/tinywideclouds/go-push-relay/pkg/notification"
)

// invalidationHold is how long a write keeps readers from repopulating a tenant.
const invalidationHold = 10 * time.Second

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get decodes the value into dest, returning ErrCacheMiss when absent.
	Get(ctx context.Context, key string, dest any) error
	// Set stores the value with a TTL, replacing any existing value.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	// SetNX stores the value only when the key is absent.
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
}

// cachedTenant is the cache representation of a tenant. Credential material is
// carried explicitly since the domain type keeps it out of its JSON form, so
// the cache holds APNs keys, certificate passwords and service accounts in
// the clear: the redis instance must be private to the relay, and the TTL
// bounds how long rotated credentials linger there.
//
// A document with Invalidated set is a tombstone left by a write.
type cachedTenant struct {
	Invalidated             bool      `json:"invalidated,omitempty"`
	ID                      string    `json:"id"`
	FCMAPIKey               string    `json:"fcm_api_key,omitempty"`
	FCMV1Credentials        []byte    `json:"fcm_v1_credentials,omitempty"`
	APNsType                string    `json:"apns_type,omitempty"`
	APNsTopic               string    `json:"apns_topic,omitempty"`
	APNsSandbox             bool      `json:"apns_sandbox,omitempty"`
	APNsCertificate         []byte    `json:"apns_certificate,omitempty"`
	APNsCertificatePassword string    `json:"apns_certificate_password,omitempty"`
	APNsPKCS8PEM            []byte    `json:"apns_pkcs8,omitempty"`
	APNsKeyID               string    `json:"apns_key_id,omitempty"`
	APNsTeamID              string    `json:"apns_team_id,omitempty"`
	APNsSuspended           bool      `json:"apns_suspended,omitempty"`
	CreatedAt               time.Time `json:"created_at"`
	UpdatedAt               time.Time `json:"updated_at"`
}

func toCached(t *notification.Tenant) cachedTenant {
	return cachedTenant{
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

func (c cachedTenant) tenant() *notification.Tenant {
	return &notification.Tenant{
		ID:               c.ID,
		FCMAPIKey:        c.FCMAPIKey,
		FCMV1Credentials: c.FCMV1Credentials,
		APNs: notification.APNsCredentials{
			Type:                notification.APNsAuthType(c.APNsType),
			Topic:               c.APNsTopic,
			Sandbox:             c.APNsSandbox,
			Certificate:         c.APNsCertificate,
			CertificatePassword: c.APNsCertificatePassword,
			PKCS8PEM:            c.APNsPKCS8PEM,
			KeyID:               c.APNsKeyID,
			TeamID:              c.APNsTeamID,
		},
		APNsSuspended: c.APNsSuspended,
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
	}
}

// CachedTenantStore is a Decorator that adds Read-Aside caching to any TenantStore.
type CachedTenantStore struct {
	realStore dispatch.TenantStore
	cache     CacheClient
	ttl       time.Duration
}

// NewCachedTenantStore creates the decorator.
func NewCachedTenantStore(realStore dispatch.TenantStore, cache CacheClient, ttl time.Duration) *CachedTenantStore {
	return &CachedTenantStore{
		realStore: realStore,
		cache:     cache,
		ttl:       ttl,
	}
}

// --- READ PATH (Read-Aside) ---

func (s *CachedTenantStore) GetTenant(ctx context.Context, id string) (*notification.Tenant, error) {
	key := s.cacheKey(id)

	// 1. Try Cache
	var cached cachedTenant
	cacheErr := s.cache.Get(ctx, key, &cached)
	if cacheErr == nil && !cached.Invalidated {
		return cached.tenant(), nil
	}

	// 2. Fallback to the source of truth
	fresh, err := s.realStore.GetTenant(ctx, id)
	if err != nil {
		return nil, err
	}

	// 3. Populate Cache on a plain miss. SetNX loses to a tombstone written
	// after our read, so a stale tenant cannot outlive a concurrent update.
	// An unreachable cache only costs a DB read.
	if errors.Is(cacheErr, ErrCacheMiss) {
		_, _ = s.cache.SetNX(ctx, key, toCached(fresh), s.ttl)
	}

	return fresh, nil
}

// --- WRITE PATHS (Invalidate-on-Write) ---

func (s *CachedTenantStore) CreateTenant(ctx context.Context, tenant *notification.Tenant) error {
	if err := s.realStore.CreateTenant(ctx, tenant); err != nil {
		return err
	}
	return s.invalidate(ctx, tenant.ID)
}

// DeleteTenant must clear the cache so pushes stop resolving immediately.
func (s *CachedTenantStore) DeleteTenant(ctx context.Context, id string) error {
	if err := s.realStore.DeleteTenant(ctx, id); err != nil {
		return err
	}
	return s.invalidate(ctx, id)
}

func (s *CachedTenantStore) UpdateFCM(ctx context.Context, id, apiKey string) error {
	if err := s.realStore.UpdateFCM(ctx, id, apiKey); err != nil {
		return err
	}
	return s.invalidate(ctx, id)
}

func (s *CachedTenantStore) UpdateFCMV1(ctx context.Context, id string, credentials []byte) error {
	if err := s.realStore.UpdateFCMV1(ctx, id, credentials); err != nil {
		return err
	}
	return s.invalidate(ctx, id)
}

func (s *CachedTenantStore) UpdateAPNs(ctx context.Context, id string, creds notification.APNsCredentials) error {
	if err := s.realStore.UpdateAPNs(ctx, id, creds); err != nil {
		return err
	}
	return s.invalidate(ctx, id)
}

func (s *CachedTenantStore) SuspendAPNs(ctx context.Context, id string) error {
	if err := s.realStore.SuspendAPNs(ctx, id); err != nil {
		return err
	}
	return s.invalidate(ctx, id)
}

// --- Helpers ---

// invalidate replaces the cached tenant with a short-lived tombstone.
func (s *CachedTenantStore) invalidate(ctx context.Context, id string) error {
	hold := invalidationHold
	if s.ttl > 0 && s.ttl < hold {
		hold = s.ttl
	}
	return s.cache.Set(ctx, s.cacheKey(id), cachedTenant{ID: id, Invalidated: true}, hold)
}

func (s *CachedTenantStore) cacheKey(id string) string {
	return fmt.Sprintf("relay:tenant:%s", id)
}

// Store pairs a cached tenant store with the uncached client and notification
// stores of the same backend.
type Store struct {
	*CachedTenantStore
	dispatch.ClientStore
	dispatch.NotificationStore
}

// WrapStore decorates the tenant half of a full store.
func WrapStore(real dispatch.Store, cache CacheClient, ttl time.Duration) *Store {
	return &Store{
		CachedTenantStore: NewCachedTenantStore(real, cache, ttl),
		ClientStore:       real,
		NotificationStore: real,
	}
}
