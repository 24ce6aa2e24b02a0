// Package noop provides a provider that records deliveries instead of sending them.
// It is only offered when the deployment enables debug providers.
package noop

import (
	"context"
	"log/slog"
	"sync"

	"github.com/tinywideclouds/go-push-relay/pkg/notification"
)

// Delivery is one recorded send.
type Delivery struct {
	Token   string
	Payload notification.MessagePayload
}

// Recorder collects deliveries from every noop provider sharing it.
type Recorder struct {
	mu         sync.Mutex
	deliveries []Delivery
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) record(d Delivery) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = append(r.deliveries, d)
}

// Deliveries returns a copy of everything recorded so far.
func (r *Recorder) Deliveries() []Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Delivery, len(r.deliveries))
	copy(out, r.deliveries)
	return out
}

type Provider struct {
	recorder *Recorder
	logger   *slog.Logger
}

func NewProvider(recorder *Recorder, logger *slog.Logger) *Provider {
	return &Provider{recorder: recorder, logger: logger.With("component", "NoopProvider")}
}

func (p *Provider) Kind() notification.ProviderKind { return notification.ProviderNoop }

func (p *Provider) SendNotification(_ context.Context, token string, payload notification.MessagePayload) error {
	p.logger.Debug("Recording noop delivery", "token", token, "encrypted", payload.IsEncrypted())
	p.recorder.record(Delivery{Token: token, Payload: payload})
	return nil
}
