package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"kasirledger/backend/internal/domain"
	"kasirledger/backend/internal/store"
)

type tx struct {
	q pgx.Tx
}

var _ store.Tx = (*tx)(nil)

func (t *tx) GetOutletSettings(ctx context.Context, outletID string) (domain.OutletSettings, error) {
	settings := domain.OutletSettings{OutletID: outletID}
	err := t.q.QueryRow(ctx, `
		SELECT tax_rate, service_charge_rate FROM outlets WHERE id = $1
	`, outletID).Scan(&settings.TaxRate, &settings.ServiceChargeRate)
	if err != nil {
		return domain.OutletSettings{}, notFound(err)
	}
	return settings, nil
}

func (t *tx) GetProducts(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	rows, err := t.q.Query(ctx, `
		SELECT id, name, category, price_cents, active, track_stock
		FROM products
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.PriceCents, &p.Active, &p.TrackStock); err != nil {
			rows.Close()
			return nil, err
		}
		result[p.ID] = p
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	variants, err := t.q.Query(ctx, `
		SELECT id, product_id, name, price_cents, active
		FROM product_variants
		WHERE product_id = ANY($1)
		ORDER BY product_id, id
	`, ids)
	if err != nil {
		return nil, err
	}
	defer variants.Close()
	for variants.Next() {
		var v domain.ProductVariant
		if err := variants.Scan(&v.ID, &v.ProductID, &v.Name, &v.PriceCents, &v.Active); err != nil {
			return nil, err
		}
		if p, ok := result[v.ProductID]; ok {
			p.Variants = append(p.Variants, v)
			result[v.ProductID] = p
		}
	}
	return result, variants.Err()
}

func (t *tx) LockShift(ctx context.Context, id string) (*domain.Shift, error) {
	return loadShift(ctx, t.q, `WHERE id = $1 FOR UPDATE`, id)
}

func (t *tx) FindOpenShift(ctx context.Context, outletID string, terminalID string) (*domain.Shift, error) {
	return loadShift(ctx, t.q, `WHERE outlet_id = $1 AND terminal_id = $2 AND status = 'open' LIMIT 1`, outletID, terminalID)
}

func (t *tx) InsertShift(ctx context.Context, sh domain.Shift) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO shifts (id, outlet_id, terminal_id, employee_id, opening_float_cents, status, notes, opened_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, sh.ID, sh.OutletID, sh.TerminalID, sh.EmployeeID, sh.OpeningFloatCents, sh.Status, sh.Notes, sh.OpenedAt)
	return mapError(err)
}

func (t *tx) UpdateShift(ctx context.Context, sh domain.Shift) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE shifts
		SET closing_cash_cents = $2, expected_cash_cents = $3, cash_difference_cents = $4,
		    status = $5, notes = $6, closed_at = $7
		WHERE id = $1
	`, sh.ID, sh.ClosingCashCents, sh.ExpectedCashCents, sh.CashDifferenceCents, sh.Status, sh.Notes, sh.ClosedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *tx) InsertCashMovement(ctx context.Context, m domain.CashMovement) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO cash_movements (id, shift_id, outlet_id, employee_id, type, amount_cents, reason, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, m.ID, m.ShiftID, m.OutletID, m.EmployeeID, m.Type, m.AmountCents, m.Reason, m.CreatedAt)
	return err
}

func (t *tx) ListCashMovements(ctx context.Context, shiftID string) ([]domain.CashMovement, error) {
	rows, err := t.q.Query(ctx, `
		SELECT id, shift_id, outlet_id, employee_id, type, amount_cents, reason, created_at
		FROM cash_movements
		WHERE shift_id = $1
		ORDER BY created_at, id
	`, shiftID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.CashMovement, 0, 4)
	for rows.Next() {
		var m domain.CashMovement
		if err := rows.Scan(&m.ID, &m.ShiftID, &m.OutletID, &m.EmployeeID, &m.Type, &m.AmountCents, &m.Reason, &m.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func (t *tx) ListShiftTransactions(ctx context.Context, shiftID string) ([]domain.Transaction, error) {
	return loadTransactions(ctx, t.q, `WHERE shift_id = $1 ORDER BY created_at, id`, shiftID)
}

func (t *tx) LockStockLevel(ctx context.Context, key domain.StockKey) (domain.StockLevel, error) {
	return scanStockLevel(t.q.QueryRow(ctx, `
		SELECT outlet_id, product_id, variant_id, quantity, low_stock_threshold, updated_at
		FROM stock_levels
		WHERE outlet_id = $1 AND product_id = $2 AND variant_id = $3
		FOR UPDATE
	`, key.OutletID, key.ProductID, key.VariantID))
}

func (t *tx) CompareAndSetStock(ctx context.Context, key domain.StockKey, expected int64, next int64) error {
	var (
		query string
		args  = []any{key.OutletID, key.ProductID, key.VariantID, expected, next}
	)
	if expected == 0 {
		query = `
			INSERT INTO stock_levels (outlet_id, product_id, variant_id, quantity, updated_at)
			VALUES ($1, $2, $3, $5, now())
			ON CONFLICT (outlet_id, product_id, variant_id)
			DO UPDATE SET quantity = EXCLUDED.quantity, updated_at = now()
			WHERE stock_levels.quantity = $4`
	} else {
		query = `
			UPDATE stock_levels
			SET quantity = $5, updated_at = now()
			WHERE outlet_id = $1 AND product_id = $2 AND variant_id = $3 AND quantity = $4`
	}

	tag, err := t.q.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s expected %d", store.ErrStockConflict, key, expected)
	}
	return nil
}

func (t *tx) InsertStockMovement(ctx context.Context, m domain.StockMovement) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO stock_movements (id, outlet_id, product_id, variant_id, movement_type, quantity, quantity_before,
			quantity_after, reference_id, reference_type, actor_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, m.ID, m.OutletID, m.ProductID, m.VariantID, m.MovementType, m.Quantity, m.QuantityBefore, m.QuantityAfter,
		m.ReferenceID, m.ReferenceType, m.ActorID, m.CreatedAt)
	return err
}

func (t *tx) FindTransactionByIdempotency(ctx context.Context, key string) (*domain.Transaction, error) {
	var id string
	if err := t.q.QueryRow(ctx, `SELECT id FROM transactions WHERE idempotency_key = $1`, key).Scan(&id); err != nil {
		return nil, notFound(err)
	}
	return loadTransaction(ctx, t.q, id, false)
}

func (t *tx) LockTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	return loadTransaction(ctx, t.q, id, true)
}

func (t *tx) ListChildTransactions(ctx context.Context, parentID string) ([]domain.Transaction, error) {
	return loadTransactions(ctx, t.q, `WHERE parent_transaction_id = $1 ORDER BY created_at, split_index, id`, parentID)
}

func (t *tx) InsertTransaction(ctx context.Context, txn domain.Transaction) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO transactions (id, outlet_id, terminal_id, employee_id, customer_id, shift_id, receipt_number, type,
			order_type, parent_transaction_id, split_index, idempotency_key, subtotal_cents, discount_cents, tax_cents,
			service_charge_cents, grand_total_cents, change_cents, status, notes, voided_by, void_reason, voided_at,
			created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,NULLIF($12, ''),$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25)
	`, txn.ID, txn.OutletID, txn.TerminalID, txn.EmployeeID, txn.CustomerID, txn.ShiftID, txn.ReceiptNumber, txn.Type,
		txn.OrderType, txn.ParentTransactionID, txn.SplitIndex, txn.IdempotencyKey, txn.SubtotalCents, txn.DiscountCents,
		txn.TaxCents, txn.ServiceChargeCents, txn.GrandTotalCents, txn.ChangeCents, txn.Status, txn.Notes, txn.VoidedBy,
		txn.VoidReason, txn.VoidedAt, txn.CreatedAt, txn.UpdatedAt)
	if err != nil {
		return mapError(err)
	}

	batch := &pgx.Batch{}
	for i, item := range txn.Items {
		modifiers, err := json.Marshal(nonNilModifiers(item.Modifiers))
		if err != nil {
			return err
		}
		batch.Queue(`
			INSERT INTO transaction_items (id, transaction_id, line_no, product_id, variant_id, product_name, variant_name,
				quantity, unit_price_cents, discount_cents, subtotal_cents, modifiers, notes, track_stock, original_item_id,
				refund_reason)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		`, item.ID, txn.ID, i+1, item.ProductID, item.VariantID, item.ProductName, item.VariantName, item.Quantity,
			item.UnitPriceCents, item.DiscountCents, item.SubtotalCents, modifiers, item.Notes, item.TrackStock,
			item.OriginalItemID, item.RefundReason)
	}
	if batch.Len() > 0 {
		if err := t.q.SendBatch(ctx, batch).Close(); err != nil {
			return mapError(err)
		}
	}

	for _, p := range txn.Payments {
		p.TransactionID = txn.ID
		if err := t.InsertPayment(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func (t *tx) UpdateTransactionStatus(ctx context.Context, txn domain.Transaction) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE transactions
		SET status = $2, voided_by = $3, void_reason = $4, voided_at = $5, change_cents = $6, updated_at = $7
		WHERE id = $1
	`, txn.ID, txn.Status, txn.VoidedBy, txn.VoidReason, txn.VoidedAt, txn.ChangeCents, txn.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *tx) InsertPayment(ctx context.Context, p domain.Payment) error {
	payload, err := json.Marshal(nonNilPayload(p.Payload))
	if err != nil {
		return err
	}
	_, err = t.q.Exec(ctx, `
		INSERT INTO payments (id, transaction_id, method, amount_cents, provider, provider_ref, status, payload, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, p.ID, p.TransactionID, p.Method, p.AmountCents, p.Provider, p.ProviderRef, p.Status, payload, p.CreatedAt, p.UpdatedAt)
	return mapError(err)
}

func (t *tx) UpdatePayment(ctx context.Context, p domain.Payment) error {
	payload, err := json.Marshal(nonNilPayload(p.Payload))
	if err != nil {
		return err
	}
	tag, err := t.q.Exec(ctx, `
		UPDATE payments SET status = $2, provider_ref = $3, payload = $4, updated_at = $5 WHERE id = $1
	`, p.ID, p.Status, p.ProviderRef, payload, p.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *tx) FindPaymentByReference(ctx context.Context, refs []string) (*domain.Payment, error) {
	candidates := make([]string, 0, len(refs))
	for _, ref := range refs {
		if ref != "" {
			candidates = append(candidates, ref)
		}
	}
	if len(candidates) == 0 {
		return nil, store.ErrNotFound
	}
	payments, err := loadPayments(ctx, t.q, `
		WHERE id = ANY($1) OR (provider_ref <> '' AND provider_ref = ANY($1))
		ORDER BY array_position($1::text[], id) NULLS LAST, array_position($1::text[], provider_ref) NULLS LAST
		LIMIT 1
		FOR UPDATE`, candidates)
	if err != nil {
		return nil, err
	}
	if len(payments) == 0 {
		return nil, store.ErrNotFound
	}
	return &payments[0], nil
}

func (t *tx) InsertAuditLog(ctx context.Context, entry domain.AuditLog) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO audit_logs (id, outlet_id, actor_id, actor_role, action, entity_type, entity_id, before, after, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, entry.ID, entry.OutletID, entry.ActorID, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID,
		nullableJSON(entry.Before), nullableJSON(entry.After), entry.Detail, entry.CreatedAt)
	return err
}

func nonNilModifiers(m []domain.Modifier) []domain.Modifier {
	if m == nil {
		return []domain.Modifier{}
	}
	return m
}

func nonNilPayload(p map[string]string) map[string]string {
	if p == nil {
		return map[string]string{}
	}
	return p
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
