package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/prohmpiriya/membership-gateway/pkg/logger"
)

// DefaultInvalidationSubject is the subject tenant updates are published on
const DefaultInvalidationSubject = "tenant.updated"

// UpdateEvent announces a changed tenant. Every populated attribute names a
// cache key that must be evicted.
type UpdateEvent struct {
	ID        string `json:"id"`
	Slug      string `json:"slug,omitempty"`
	Domain    string `json:"domain,omitempty"`
	Subdomain string `json:"subdomain,omitempty"`
}

// Evictor removes cached tenants
type Evictor interface {
	Invalidate(ctx context.Context, tc *Context)
}

// Invalidator evicts cached tenants when update events arrive over NATS.
// Each gateway instance subscribes without a queue group so that every
// instance drops its local copy.
type Invalidator struct {
	evictor Evictor
	log     *logger.Logger
	sub     *nats.Subscription
}

// NewInvalidator creates a new Invalidator
func NewInvalidator(evictor Evictor, log *logger.Logger) *Invalidator {
	if log == nil {
		log = logger.NewNop()
	}
	return &Invalidator{evictor: evictor, log: log}
}

// Subscribe starts consuming update events on subject
func (i *Invalidator) Subscribe(nc *nats.Conn, subject string) error {
	if subject == "" {
		subject = DefaultInvalidationSubject
	}
	sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
		if err := i.Handle(context.Background(), msg.Data); err != nil {
			i.log.Warn("Ignoring tenant update event",
				zap.String("subject", msg.Subject),
				zap.Error(err),
			)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}
	i.sub = sub
	i.log.Info("Listening for tenant updates", zap.String("subject", subject))
	return nil
}

// Handle decodes an update event and evicts the tenant
func (i *Invalidator) Handle(ctx context.Context, data []byte) error {
	var ev UpdateEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("decode tenant update: %w", err)
	}
	if ev.ID == "" {
		return errors.New("tenant update without id")
	}

	i.evictor.Invalidate(ctx, &Context{
		ID:        ev.ID,
		Slug:      ev.Slug,
		Domain:    ev.Domain,
		Subdomain: ev.Subdomain,
	})
	i.log.Debug("Evicted tenant from cache", zap.String("tenant_id", ev.ID))
	return nil
}

// Close stops the subscription
func (i *Invalidator) Close() error {
	if i.sub == nil {
		return nil
	}
	return i.sub.Unsubscribe()
}

// PublishUpdate announces a tenant change to every gateway instance
func PublishUpdate(nc *nats.Conn, subject string, ev UpdateEvent) error {
	if subject == "" {
		subject = DefaultInvalidationSubject
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode tenant update: %w", err)
	}
	if err := nc.Publish(subject, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}
