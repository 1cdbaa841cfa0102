// Package events publishes ledger facts to downstream consumers after the
// unit of work that produced them has committed.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"kasirledger/backend/internal/xid"
)

const (
	TransactionCreated   = "TransactionCreated"
	TransactionVoided    = "TransactionVoided"
	TransactionRefunded  = "TransactionRefunded"
	StockLevelChanged    = "StockLevelChanged"
	PaymentStatusChanged = "PaymentStatusChanged"
)

type Event struct {
	EventID   string          `json:"event_id"`
	EventType string          `json:"event_type"`
	OutletID  string          `json:"outlet_id"`
	Key       string          `json:"-"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// New builds an event. Key orders messages on partitioned transports and
// defaults to the outlet.
func New(eventType string, outletID string, key string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	if key == "" {
		key = outletID
	}
	return Event{
		EventID:   xid.New(),
		EventType: eventType,
		OutletID:  outletID,
		Key:       key,
		Payload:   raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
	Close() error
}

type Noop struct{}

func (Noop) Publish(context.Context, ...Event) error { return nil }
func (Noop) Close() error                            { return nil }

// Fanout delivers to every publisher and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, events ...Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, events...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) Close() error {
	var errs []error
	for _, p := range f {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PublishBestEffort logs instead of returning, because the ledger state the
// events describe is already committed.
func PublishBestEffort(ctx context.Context, p Publisher, events ...Event) {
	if p == nil || len(events) == 0 {
		return
	}
	if err := p.Publish(ctx, events...); err != nil {
		log.Warn().Err(err).Int("events", len(events)).Str("event_type", events[0].EventType).Msg("publish events failed")
	}
}
