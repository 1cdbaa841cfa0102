package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"kasirledger/backend/internal/domain"
	"kasirledger/backend/internal/store"
	"kasirledger/backend/internal/xid"
)

// stockDeltas aggregates the signed quantity change per stock key for the
// tracked lines of a transaction.
func stockDeltas(outletID string, items []domain.TransactionItem, sign int64) map[domain.StockKey]int64 {
	deltas := make(map[domain.StockKey]int64)
	for _, item := range items {
		if !item.TrackStock || item.ProductID == "" {
			continue
		}
		deltas[item.StockKey(outletID)] += sign * item.Quantity
	}
	return deltas
}

type stockMove struct {
	movementType  string
	referenceID   string
	referenceType string
	actorID       string
	at            time.Time
}

// applyStock locks every key in sorted order, so concurrent units of work
// touching overlapping rows cannot deadlock, and writes each new quantity
// with a compare-and-set against the value read under the lock.
func applyStock(ctx context.Context, tx store.Tx, deltas map[domain.StockKey]int64, move stockMove) ([]domain.StockLevel, error) {
	keys := make([]domain.StockKey, 0, len(deltas))
	for key, delta := range deltas {
		if delta != 0 {
			keys = append(keys, key)
		}
	}
	slices.SortFunc(keys, func(a, b domain.StockKey) int {
		return strings.Compare(a.String(), b.String())
	})

	levels := make([]domain.StockLevel, 0, len(keys))
	for _, key := range keys {
		delta := deltas[key]
		current, err := tx.LockStockLevel(ctx, key)
		if errors.Is(err, store.ErrNotFound) {
			current = domain.StockLevel{OutletID: key.OutletID, ProductID: key.ProductID, VariantID: key.VariantID}
		} else if err != nil {
			return nil, fmt.Errorf("lock stock %s: %w", key, err)
		}

		next := current.Quantity + delta
		if next < 0 {
			return nil, domain.InsufficientStock(key, current.Quantity, -delta)
		}
		if err := tx.CompareAndSetStock(ctx, key, current.Quantity, next); err != nil {
			return nil, fmt.Errorf("update stock %s: %w", key, err)
		}
		if err := tx.InsertStockMovement(ctx, domain.StockMovement{
			ID:             xid.New(),
			OutletID:       key.OutletID,
			ProductID:      key.ProductID,
			VariantID:      key.VariantID,
			MovementType:   move.movementType,
			Quantity:       delta,
			QuantityBefore: current.Quantity,
			QuantityAfter:  next,
			ReferenceID:    move.referenceID,
			ReferenceType:  move.referenceType,
			ActorID:        move.actorID,
			CreatedAt:      move.at,
		}); err != nil {
			return nil, fmt.Errorf("record stock movement %s: %w", key, err)
		}

		current.Quantity = next
		current.UpdatedAt = move.at
		levels = append(levels, current)
	}
	return levels, nil
}
