package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"kasirledger/backend/internal/domain"
	"kasirledger/backend/internal/store"
)

// tx operates on the live state while RunInTx holds the store mutex.
type tx struct {
	s *state
}

var _ store.Tx = (*tx)(nil)

func (t *tx) GetOutletSettings(_ context.Context, outletID string) (domain.OutletSettings, error) {
	settings, ok := t.s.outlets[outletID]
	if !ok {
		return domain.OutletSettings{}, store.ErrNotFound
	}
	return settings, nil
}

func (t *tx) GetProducts(_ context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := t.s.products[id]; ok {
			p.Variants = slices.Clone(p.Variants)
			result[id] = p
		}
	}
	return result, nil
}

func (t *tx) LockShift(_ context.Context, id string) (*domain.Shift, error) {
	shift, ok := t.s.shifts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &shift, nil
}

func (t *tx) FindOpenShift(_ context.Context, outletID string, terminalID string) (*domain.Shift, error) {
	for _, shift := range t.s.shifts {
		if shift.OutletID == outletID && shift.TerminalID == terminalID && shift.Status == domain.ShiftStatusOpen {
			return &shift, nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *tx) InsertShift(_ context.Context, shift domain.Shift) error {
	if _, exists := t.s.shifts[shift.ID]; exists {
		return fmt.Errorf("%w: shift %s", store.ErrDuplicate, shift.ID)
	}
	t.s.shifts[shift.ID] = shift
	return nil
}

func (t *tx) UpdateShift(_ context.Context, shift domain.Shift) error {
	if _, exists := t.s.shifts[shift.ID]; !exists {
		return store.ErrNotFound
	}
	t.s.shifts[shift.ID] = shift
	return nil
}

func (t *tx) InsertCashMovement(_ context.Context, movement domain.CashMovement) error {
	t.s.cashMovements = append(t.s.cashMovements, movement)
	return nil
}

func (t *tx) ListCashMovements(_ context.Context, shiftID string) ([]domain.CashMovement, error) {
	result := make([]domain.CashMovement, 0)
	for _, m := range t.s.cashMovements {
		if m.ShiftID == shiftID {
			result = append(result, m)
		}
	}
	return result, nil
}

func (t *tx) ListShiftTransactions(_ context.Context, shiftID string) ([]domain.Transaction, error) {
	result := make([]domain.Transaction, 0)
	for _, id := range t.s.txOrder {
		if t.s.transactions[id].ShiftID != shiftID {
			continue
		}
		txn, err := t.s.transaction(id)
		if err != nil {
			return nil, err
		}
		result = append(result, *txn)
	}
	return result, nil
}

func (t *tx) LockStockLevel(_ context.Context, key domain.StockKey) (domain.StockLevel, error) {
	level, ok := t.s.stock[key]
	if !ok {
		return domain.StockLevel{}, store.ErrNotFound
	}
	return level, nil
}

func (t *tx) CompareAndSetStock(_ context.Context, key domain.StockKey, expected int64, next int64) error {
	level, ok := t.s.stock[key]
	if !ok {
		if expected != 0 {
			return store.ErrStockConflict
		}
		level = domain.StockLevel{OutletID: key.OutletID, ProductID: key.ProductID, VariantID: key.VariantID}
	} else if level.Quantity != expected {
		return store.ErrStockConflict
	}
	level.Quantity = next
	level.UpdatedAt = time.Now().UTC()
	t.s.stock[key] = level
	return nil
}

func (t *tx) InsertStockMovement(_ context.Context, movement domain.StockMovement) error {
	t.s.movements = append(t.s.movements, movement)
	return nil
}

func (t *tx) FindTransactionByIdempotency(_ context.Context, key string) (*domain.Transaction, error) {
	id, ok := t.s.idempotency[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return t.s.transaction(id)
}

func (t *tx) LockTransaction(_ context.Context, id string) (*domain.Transaction, error) {
	return t.s.transaction(id)
}

func (t *tx) ListChildTransactions(_ context.Context, parentID string) ([]domain.Transaction, error) {
	ids := t.s.children[parentID]
	result := make([]domain.Transaction, 0, len(ids))
	for _, id := range ids {
		txn, err := t.s.transaction(id)
		if err != nil {
			return nil, err
		}
		result = append(result, *txn)
	}
	return result, nil
}

func (t *tx) InsertTransaction(ctx context.Context, txn domain.Transaction) error {
	if _, exists := t.s.transactions[txn.ID]; exists {
		return fmt.Errorf("%w: transaction %s", store.ErrDuplicate, txn.ID)
	}
	if txn.IdempotencyKey != "" {
		if _, exists := t.s.idempotency[txn.IdempotencyKey]; exists {
			return fmt.Errorf("%w: idempotency key %s", store.ErrDuplicate, txn.IdempotencyKey)
		}
		t.s.idempotency[txn.IdempotencyKey] = txn.ID
	}

	payments := txn.Payments
	txn.Payments = nil
	txn.Items = slices.Clone(txn.Items)
	for i := range txn.Items {
		txn.Items[i].Modifiers = slices.Clone(txn.Items[i].Modifiers)
	}
	t.s.transactions[txn.ID] = txn
	t.s.txOrder = append(t.s.txOrder, txn.ID)
	if txn.ParentTransactionID != "" {
		t.s.children[txn.ParentTransactionID] = append(slices.Clip(t.s.children[txn.ParentTransactionID]), txn.ID)
	}

	for _, p := range payments {
		p.TransactionID = txn.ID
		if err := t.InsertPayment(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func (t *tx) UpdateTransactionStatus(_ context.Context, txn domain.Transaction) error {
	current, ok := t.s.transactions[txn.ID]
	if !ok {
		return store.ErrNotFound
	}
	current.Status = txn.Status
	current.VoidedBy = txn.VoidedBy
	current.VoidReason = txn.VoidReason
	current.VoidedAt = txn.VoidedAt
	current.ChangeCents = txn.ChangeCents
	current.UpdatedAt = txn.UpdatedAt
	t.s.transactions[txn.ID] = current
	return nil
}

func (t *tx) InsertPayment(_ context.Context, payment domain.Payment) error {
	if _, exists := t.s.payments[payment.ID]; exists {
		return fmt.Errorf("%w: payment %s", store.ErrDuplicate, payment.ID)
	}
	if _, ok := t.s.transactions[payment.TransactionID]; !ok {
		return fmt.Errorf("payment %s: %w: transaction %s", payment.ID, store.ErrNotFound, payment.TransactionID)
	}
	payment.Payload = maps.Clone(payment.Payload)
	t.s.payments[payment.ID] = payment
	t.s.paymentsByTx[payment.TransactionID] = append(slices.Clip(t.s.paymentsByTx[payment.TransactionID]), payment.ID)
	return nil
}

func (t *tx) UpdatePayment(_ context.Context, payment domain.Payment) error {
	current, ok := t.s.payments[payment.ID]
	if !ok {
		return store.ErrNotFound
	}
	current.Status = payment.Status
	current.ProviderRef = payment.ProviderRef
	current.Payload = maps.Clone(payment.Payload)
	current.UpdatedAt = payment.UpdatedAt
	t.s.payments[payment.ID] = current
	return nil
}

func (t *tx) FindPaymentByReference(_ context.Context, refs []string) (*domain.Payment, error) {
	for _, ref := range refs {
		if ref == "" {
			continue
		}
		if p, ok := t.s.payments[ref]; ok {
			p.Payload = maps.Clone(p.Payload)
			return &p, nil
		}
		for _, p := range t.s.payments {
			if p.ProviderRef != "" && p.ProviderRef == ref {
				p.Payload = maps.Clone(p.Payload)
				return &p, nil
			}
		}
	}
	return nil, store.ErrNotFound
}

func (t *tx) InsertAuditLog(_ context.Context, entry domain.AuditLog) error {
	t.s.auditLogs = append(t.s.auditLogs, entry)
	return nil
}
