// Package service runs the ledger operations. Every operation executes in
// one store unit of work; events are published only after it commits.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"kasirledger/backend/internal/cache"
	"kasirledger/backend/internal/domain"
	"kasirledger/backend/internal/events"
	"kasirledger/backend/internal/payment"
	"kasirledger/backend/internal/store"
	"kasirledger/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Config struct {
	DefaultOutletID string
	DefaultTaxRate  decimal.Decimal
}

type Service struct {
	repo            store.Repository
	payments        *payment.Providers
	publisher       events.Publisher
	dedup           cache.Deduper
	defaultOutletID string
	defaultTaxRate  decimal.Decimal
	now             func() time.Time
}

func New(repo store.Repository, payments *payment.Providers, publisher events.Publisher, dedup cache.Deduper, cfg Config) *Service {
	if cfg.DefaultOutletID == "" {
		cfg.DefaultOutletID = "main-outlet"
	}
	if cfg.DefaultTaxRate.IsNegative() {
		cfg.DefaultTaxRate = defaultTaxRate
	}
	if publisher == nil {
		publisher = events.Noop{}
	}
	if dedup == nil {
		dedup = cache.NoopDeduper{}
	}
	if payments == nil {
		payments = &payment.Providers{Gateway: payment.Noop{}, Webhooks: map[string]payment.WebhookParser{}}
	}
	return &Service{
		repo:            repo,
		payments:        payments,
		publisher:       publisher,
		dedup:           dedup,
		defaultOutletID: cfg.DefaultOutletID,
		defaultTaxRate:  cfg.DefaultTaxRate,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// actorID prefers the explicit employee id and falls back to the
// authenticated actor, then "system".
func actorID(ctx context.Context, employeeID string) string {
	if employeeID != "" {
		return employeeID
	}
	if actor, ok := ActorFromContext(ctx); ok && actor.Username != "" {
		return actor.Username
	}
	return "system"
}

func actorRole(ctx context.Context) string {
	if actor, ok := ActorFromContext(ctx); ok && actor.Role != "" {
		return actor.Role
	}
	return "system"
}

func (s *Service) outletOrDefault(outletID string) string {
	if outletID == "" {
		return s.defaultOutletID
	}
	return outletID
}

// writeAudit appends an audit row inside the unit of work, so a failed
// operation leaves no audit trail behind.
func (s *Service) writeAudit(ctx context.Context, tx store.Tx, entry domain.AuditLog, before any, after any) error {
	entry.ID = xid.New()
	if entry.ActorID == "" {
		entry.ActorID = actorID(ctx, "")
	}
	if entry.ActorRole == "" {
		entry.ActorRole = actorRole(ctx)
	}
	entry.CreatedAt = s.now()
	var err error
	if entry.Before, err = snapshot(before); err != nil {
		return err
	}
	if entry.After, err = snapshot(after); err != nil {
		return err
	}
	return tx.InsertAuditLog(ctx, entry)
}

func snapshot(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// outbox collects events during a unit of work. It is flushed only after
// the commit.
type outbox struct {
	events []events.Event
}

func (o *outbox) add(eventType string, outletID string, key string, payload any) {
	e, err := events.New(eventType, outletID, key, payload)
	if err != nil {
		log.Warn().Err(err).Str("event_type", eventType).Msg("encode event failed")
		return
	}
	o.events = append(o.events, e)
}

func (o *outbox) stockChanged(levels []domain.StockLevel) {
	for _, level := range levels {
		o.add(events.StockLevelChanged, level.OutletID, level.Key().String(), map[string]any{
			"product_id": level.ProductID,
			"variant_id": level.VariantID,
			"quantity":   level.Quantity,
			"low_stock":  level.IsLow(),
		})
	}
}

func (o *outbox) paymentChanged(txn *domain.Transaction, p domain.Payment, from string) {
	o.add(events.PaymentStatusChanged, txn.OutletID, txn.ID, map[string]any{
		"payment_id":     p.ID,
		"transaction_id": txn.ID,
		"method":         p.Method,
		"provider":       p.Provider,
		"from_status":    from,
		"to_status":      p.Status,
		"amount_cents":   p.AmountCents,
	})
}

func (s *Service) flush(ctx context.Context, o *outbox) {
	events.PublishBestEffort(context.WithoutCancel(ctx), s.publisher, o.events...)
}

// notFoundAs converts a store miss into the given business error.
func notFoundAs(err error, mapped error) error {
	if errors.Is(err, store.ErrNotFound) {
		return mapped
	}
	return err
}
