package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"kasirledger/backend/internal/domain"
	"kasirledger/backend/internal/store"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	pool *pgxpool.Pool
}

var _ store.Repository = (*Store)(nil)

// querier is satisfied by both the pool and an open pgx.Tx so reads are
// written once.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}
	poolConfig.MaxConns = 30
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 10 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute
	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// EnsureSchema applies the embedded DDL. Every statement is idempotent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// RunInTx runs fn in a serializable transaction. Stock rows are additionally
// locked with SELECT ... FOR UPDATE inside fn.
func (s *Store) RunInTx(ctx context.Context, fn store.TxFunc) error {
	pgTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = pgTx.Rollback(ctx) }()

	if err := fn(ctx, &tx{q: pgTx}); err != nil {
		return mapError(err)
	}
	if err := pgTx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", mapError(err))
	}
	return nil
}

func (s *Store) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	return loadTransaction(ctx, s.pool, id, false)
}

func (s *Store) GetShift(ctx context.Context, id string) (*domain.Shift, error) {
	return loadShift(ctx, s.pool, `WHERE id = $1`, id)
}

func (s *Store) GetStockLevel(ctx context.Context, key domain.StockKey) (*domain.StockLevel, error) {
	level, err := scanStockLevel(s.pool.QueryRow(ctx, `
		SELECT outlet_id, product_id, variant_id, quantity, low_stock_threshold, updated_at
		FROM stock_levels
		WHERE outlet_id = $1 AND product_id = $2 AND variant_id = $3
	`, key.OutletID, key.ProductID, key.VariantID))
	if err != nil {
		return nil, err
	}
	return &level, nil
}

func (s *Store) ListStockMovements(ctx context.Context, outletID string, productID string, limit int) ([]domain.StockMovement, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, outlet_id, product_id, variant_id, movement_type, quantity, quantity_before, quantity_after,
		       reference_id, reference_type, actor_id, created_at
		FROM stock_movements
		WHERE outlet_id = $1 AND ($2 = '' OR product_id = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, outletID, productID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.StockMovement, 0, limit)
	for rows.Next() {
		var m domain.StockMovement
		if err := rows.Scan(&m.ID, &m.OutletID, &m.ProductID, &m.VariantID, &m.MovementType, &m.Quantity,
			&m.QuantityBefore, &m.QuantityAfter, &m.ReferenceID, &m.ReferenceType, &m.ActorID, &m.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func (s *Store) ListAuditLogs(ctx context.Context, outletID string, entityID string, limit int) ([]domain.AuditLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, outlet_id, actor_id, actor_role, action, entity_type, entity_id, before, after, detail, created_at
		FROM audit_logs
		WHERE ($1 = '' OR outlet_id = $1) AND ($2 = '' OR entity_id = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, outletID, entityID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var (
			entry         domain.AuditLog
			before, after []byte
		)
		if err := rows.Scan(&entry.ID, &entry.OutletID, &entry.ActorID, &entry.ActorRole, &entry.Action,
			&entry.EntityType, &entry.EntityID, &before, &after, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.Before, entry.After = before, after
		result = append(result, entry)
	}
	return result, rows.Err()
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT username, password_hash, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var u domain.UserAccount
		if err := rows.Scan(&u.Username, &u.Password, &u.Role, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET password_hash = $2 WHERE username = $1`, username, password)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func loadShift(ctx context.Context, q querier, where string, args ...any) (*domain.Shift, error) {
	var sh domain.Shift
	err := q.QueryRow(ctx, `
		SELECT id, outlet_id, terminal_id, employee_id, opening_float_cents, closing_cash_cents,
		       expected_cash_cents, cash_difference_cents, status, notes, opened_at, closed_at
		FROM shifts `+where, args...).Scan(
		&sh.ID, &sh.OutletID, &sh.TerminalID, &sh.EmployeeID, &sh.OpeningFloatCents, &sh.ClosingCashCents,
		&sh.ExpectedCashCents, &sh.CashDifferenceCents, &sh.Status, &sh.Notes, &sh.OpenedAt, &sh.ClosedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return &sh, nil
}

func scanStockLevel(row pgx.Row) (domain.StockLevel, error) {
	var l domain.StockLevel
	if err := row.Scan(&l.OutletID, &l.ProductID, &l.VariantID, &l.Quantity, &l.LowStockThreshold, &l.UpdatedAt); err != nil {
		return domain.StockLevel{}, notFound(err)
	}
	return l, nil
}

const transactionColumns = `
	id, outlet_id, terminal_id, employee_id, customer_id, shift_id, receipt_number, type, order_type,
	parent_transaction_id, split_index, COALESCE(idempotency_key, ''), subtotal_cents, discount_cents,
	tax_cents, service_charge_cents, grand_total_cents, change_cents, status, notes, voided_by,
	void_reason, voided_at, created_at, updated_at`

func scanTransaction(row pgx.Row) (domain.Transaction, error) {
	var t domain.Transaction
	err := row.Scan(&t.ID, &t.OutletID, &t.TerminalID, &t.EmployeeID, &t.CustomerID, &t.ShiftID, &t.ReceiptNumber,
		&t.Type, &t.OrderType, &t.ParentTransactionID, &t.SplitIndex, &t.IdempotencyKey, &t.SubtotalCents,
		&t.DiscountCents, &t.TaxCents, &t.ServiceChargeCents, &t.GrandTotalCents, &t.ChangeCents, &t.Status,
		&t.Notes, &t.VoidedBy, &t.VoidReason, &t.VoidedAt, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

func loadTransaction(ctx context.Context, q querier, id string, forUpdate bool) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	t, err := scanTransaction(q.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err)
	}
	if err := loadLines(ctx, q, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func loadTransactions(ctx context.Context, q querier, where string, args ...any) ([]domain.Transaction, error) {
	rows, err := q.Query(ctx, `SELECT `+transactionColumns+` FROM transactions `+where, args...)
	if err != nil {
		return nil, err
	}
	result := make([]domain.Transaction, 0, 8)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		result = append(result, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range result {
		if err := loadLines(ctx, q, &result[i]); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func loadLines(ctx context.Context, q querier, t *domain.Transaction) error {
	rows, err := q.Query(ctx, `
		SELECT id, transaction_id, product_id, variant_id, product_name, variant_name, quantity, unit_price_cents,
		       discount_cents, subtotal_cents, modifiers, notes, track_stock, original_item_id, refund_reason
		FROM transaction_items
		WHERE transaction_id = $1
		ORDER BY line_no
	`, t.ID)
	if err != nil {
		return err
	}
	t.Items = make([]domain.TransactionItem, 0, 8)
	for rows.Next() {
		var (
			item      domain.TransactionItem
			modifiers []byte
		)
		if err := rows.Scan(&item.ID, &item.TransactionID, &item.ProductID, &item.VariantID, &item.ProductName,
			&item.VariantName, &item.Quantity, &item.UnitPriceCents, &item.DiscountCents, &item.SubtotalCents,
			&modifiers, &item.Notes, &item.TrackStock, &item.OriginalItemID, &item.RefundReason); err != nil {
			rows.Close()
			return err
		}
		if len(modifiers) > 0 {
			if err := json.Unmarshal(modifiers, &item.Modifiers); err != nil {
				rows.Close()
				return fmt.Errorf("decode modifiers of item %s: %w", item.ID, err)
			}
		}
		t.Items = append(t.Items, item)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	payments, err := loadPayments(ctx, q, `WHERE transaction_id = $1 ORDER BY created_at, id`, t.ID)
	if err != nil {
		return err
	}
	t.Payments = payments
	return nil
}

func loadPayments(ctx context.Context, q querier, where string, args ...any) ([]domain.Payment, error) {
	rows, err := q.Query(ctx, `
		SELECT id, transaction_id, method, amount_cents, provider, provider_ref, status, payload, created_at, updated_at
		FROM payments `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.Payment, 0, 2)
	for rows.Next() {
		var (
			p       domain.Payment
			payload []byte
		)
		if err := rows.Scan(&p.ID, &p.TransactionID, &p.Method, &p.AmountCents, &p.Provider, &p.ProviderRef,
			&p.Status, &payload, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &p.Payload); err != nil {
				return nil, fmt.Errorf("decode payload of payment %s: %w", p.ID, err)
			}
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func mapError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23505":
		return fmt.Errorf("%w: %s", store.ErrDuplicate, pgErr.ConstraintName)
	case "40001", "40P01":
		return fmt.Errorf("%w: %s", store.ErrStockConflict, pgErr.Message)
	default:
		return err
	}
}
