// Package memory implements dispatch.Store in process memory. It backs tests and
// single-instance deployments without a database.
package memory

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/tinywideclouds/go-push-relay/internal/relayerr"
	"github.com/tinywideclouds/go-push-relay/pkg/notification"
)

const lockShards = 64

// keyedMutex serializes work per key using a fixed set of shards.
type keyedMutex struct {
	shards [lockShards]sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	m := &k.shards[h.Sum32()%lockShards]
	m.Lock()
	return m.Unlock
}

type clientKey struct{ tenantID, clientID string }

type notificationKey struct{ tenantID, id, clientID string }

type Store struct {
	now func() time.Time

	mu            sync.RWMutex
	tenants       map[string]notification.Tenant
	clients       map[clientKey]notification.Client
	notifications map[notificationKey]*notification.Notification

	clientLocks keyedMutex
}

// NewStore returns an empty store. now may be nil.
func NewStore(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		now:           now,
		tenants:       make(map[string]notification.Tenant),
		clients:       make(map[clientKey]notification.Client),
		notifications: make(map[notificationKey]*notification.Notification),
	}
}

func (s *Store) CreateTenant(_ context.Context, tenant *notification.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tenants[tenant.ID]; ok {
		return relayerr.Newf(relayerr.KindTenantExists, "tenant %s already exists", tenant.ID)
	}
	now := s.now()
	tenant.CreatedAt, tenant.UpdatedAt = now, now
	s.tenants[tenant.ID] = cloneTenant(*tenant)
	return nil
}

func (s *Store) GetTenant(_ context.Context, id string) (*notification.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tenants[id]
	if !ok {
		return nil, relayerr.Newf(relayerr.KindTenantNotFound, "tenant %s not found", id)
	}
	out := cloneTenant(t)
	return &out, nil
}

func (s *Store) DeleteTenant(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tenants[id]; !ok {
		return relayerr.Newf(relayerr.KindTenantNotFound, "tenant %s not found", id)
	}
	delete(s.tenants, id)
	for k := range s.clients {
		if k.tenantID == id {
			delete(s.clients, k)
		}
	}
	for k, n := range s.notifications {
		if n.TenantID == id {
			delete(s.notifications, k)
		}
	}
	return nil
}

func (s *Store) UpdateFCM(_ context.Context, id, apiKey string) error {
	return s.updateTenant(id, func(t *notification.Tenant) { t.FCMAPIKey = apiKey })
}

func (s *Store) UpdateFCMV1(_ context.Context, id string, credentials []byte) error {
	return s.updateTenant(id, func(t *notification.Tenant) {
		t.FCMV1Credentials = append([]byte(nil), credentials...)
	})
}

func (s *Store) UpdateAPNs(_ context.Context, id string, creds notification.APNsCredentials) error {
	return s.updateTenant(id, func(t *notification.Tenant) {
		t.APNs = creds
		t.APNsSuspended = false
	})
}

func (s *Store) SuspendAPNs(_ context.Context, id string) error {
	return s.updateTenant(id, func(t *notification.Tenant) { t.APNsSuspended = true })
}

func (s *Store) updateTenant(id string, fn func(*notification.Tenant)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[id]
	if !ok {
		return relayerr.Newf(relayerr.KindTenantNotFound, "tenant %s not found", id)
	}
	fn(&t)
	t.UpdatedAt = s.now()
	s.tenants[id] = cloneTenant(t)
	return nil
}

func (s *Store) RegisterClient(_ context.Context, client *notification.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tenants[client.TenantID]; !ok {
		return relayerr.Newf(relayerr.KindTenantNotFound, "tenant %s not found", client.TenantID)
	}
	key := clientKey{client.TenantID, client.ID}
	if existing, ok := s.clients[key]; ok {
		client.CreatedAt = existing.CreatedAt
	} else {
		client.CreatedAt = s.now()
	}
	s.clients[key] = *client
	return nil
}

func (s *Store) GetClient(_ context.Context, tenantID, clientID string) (*notification.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[clientKey{tenantID, clientID}]
	if !ok {
		return nil, relayerr.Newf(relayerr.KindClientNotFound, "client %s not found", clientID)
	}
	return &c, nil
}

func (s *Store) DeleteClient(_ context.Context, tenantID, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := clientKey{tenantID, clientID}
	if _, ok := s.clients[key]; !ok {
		return relayerr.Newf(relayerr.KindClientNotFound, "client %s not found", clientID)
	}
	delete(s.clients, key)
	for k, n := range s.notifications {
		if n.TenantID == tenantID && n.ClientID == clientID {
			delete(s.notifications, k)
		}
	}
	return nil
}

// CreateOrUpdateNotification appends payload to the (tenantID, id, clientID)
// record under a per-client lock. The first write leaves one entry in
// PreviousPayloads.
func (s *Store) CreateOrUpdateNotification(_ context.Context, id, tenantID, clientID string, payload notification.MessagePayload) (*notification.Notification, error) {
	unlock := s.clientLocks.lock(tenantID + "/" + clientID)
	defer unlock()

	now := s.now()
	key := notificationKey{tenantID, id, clientID}

	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[key]
	if !ok {
		n = &notification.Notification{
			ID:        id,
			ClientID:  clientID,
			TenantID:  tenantID,
			CreatedAt: now,
		}
		s.notifications[key] = n
	}
	n.LastPayload = payload
	n.PreviousPayloads = append(n.PreviousPayloads, payload)
	n.LastReceivedAt = now

	out := *n
	out.PreviousPayloads = append([]notification.MessagePayload(nil), n.PreviousPayloads...)
	return &out, nil
}

func cloneTenant(t notification.Tenant) notification.Tenant {
	t.FCMV1Credentials = append([]byte(nil), t.FCMV1Credentials...)
	t.APNs.Certificate = append([]byte(nil), t.APNs.Certificate...)
	t.APNs.PKCS8PEM = append([]byte(nil), t.APNs.PKCS8PEM...)
	return t
}
