package store

import (
	"context"
	"errors"

	"kasirledger/backend/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrStockConflict means a compare-and-set saw a quantity other than the
	// one read under the row lock.
	ErrStockConflict = errors.New("stock level changed concurrently")
	ErrDuplicate     = errors.New("duplicate record")
)

// TxFunc runs inside one unit of work. Returning an error rolls back every
// write made through tx.
type TxFunc func(ctx context.Context, tx Tx) error

type Repository interface {
	RunInTx(ctx context.Context, fn TxFunc) error

	GetTransaction(ctx context.Context, id string) (*domain.Transaction, error)
	GetShift(ctx context.Context, id string) (*domain.Shift, error)
	GetStockLevel(ctx context.Context, key domain.StockKey) (*domain.StockLevel, error)
	ListStockMovements(ctx context.Context, outletID string, productID string, limit int) ([]domain.StockMovement, error)
	ListAuditLogs(ctx context.Context, outletID string, entityID string, limit int) ([]domain.AuditLog, error)

	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// Tx is the write side. Reads that feed a decision are made through Tx so
// they observe the same snapshot and locks as the writes that follow.
type Tx interface {
	GetOutletSettings(ctx context.Context, outletID string) (domain.OutletSettings, error)
	GetProducts(ctx context.Context, ids []string) (map[string]domain.Product, error)

	LockShift(ctx context.Context, id string) (*domain.Shift, error)
	FindOpenShift(ctx context.Context, outletID string, terminalID string) (*domain.Shift, error)
	InsertShift(ctx context.Context, shift domain.Shift) error
	UpdateShift(ctx context.Context, shift domain.Shift) error
	InsertCashMovement(ctx context.Context, movement domain.CashMovement) error
	ListCashMovements(ctx context.Context, shiftID string) ([]domain.CashMovement, error)
	ListShiftTransactions(ctx context.Context, shiftID string) ([]domain.Transaction, error)

	// LockStockLevel reads a stock row under a write lock. A missing row
	// returns ErrNotFound.
	LockStockLevel(ctx context.Context, key domain.StockKey) (domain.StockLevel, error)
	// CompareAndSetStock writes next only while the stored quantity still
	// equals expected, creating the row when expected is zero and none exists.
	CompareAndSetStock(ctx context.Context, key domain.StockKey, expected int64, next int64) error
	InsertStockMovement(ctx context.Context, movement domain.StockMovement) error

	FindTransactionByIdempotency(ctx context.Context, key string) (*domain.Transaction, error)
	LockTransaction(ctx context.Context, id string) (*domain.Transaction, error)
	ListChildTransactions(ctx context.Context, parentID string) ([]domain.Transaction, error)
	InsertTransaction(ctx context.Context, txn domain.Transaction) error
	UpdateTransactionStatus(ctx context.Context, txn domain.Transaction) error

	InsertPayment(ctx context.Context, payment domain.Payment) error
	UpdatePayment(ctx context.Context, payment domain.Payment) error
	// FindPaymentByReference matches provider_ref or id against any of refs
	// and locks the row.
	FindPaymentByReference(ctx context.Context, refs []string) (*domain.Payment, error)

	InsertAuditLog(ctx context.Context, entry domain.AuditLog) error
}
