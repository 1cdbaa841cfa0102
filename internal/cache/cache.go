// Package cache short-circuits repeated webhook deliveries. It sits in
// front of the state-based idempotency of the payment ledger, so a lost or
// expired key only costs a redundant lookup.
package cache

import (
	"context"
	"time"
)

const DefaultDedupTTL = 24 * time.Hour

type Deduper interface {
	// Claim records key and reports whether this caller is the first to see it.
	Claim(ctx context.Context, key string) (bool, error)
	// Release forgets key so a failed delivery can be processed on retry.
	Release(ctx context.Context, key string) error
}

type NoopDeduper struct{}

func (NoopDeduper) Claim(context.Context, string) (bool, error) { return true, nil }
func (NoopDeduper) Release(context.Context, string) error       { return nil }
