package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasirledger/backend/internal/domain"
	"kasirledger/backend/internal/store"
)

var mieKey = domain.StockKey{OutletID: DefaultOutletID, ProductID: "SKU-MIE-01"}

func TestRunInTxRollsBackEveryWriteOnError(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.CompareAndSetStock(ctx, mieKey, 120, 100))
		require.NoError(t, tx.InsertStockMovement(ctx, domain.StockMovement{ID: "m-1", OutletID: DefaultOutletID, ProductID: "SKU-MIE-01", Quantity: -20}))
		require.NoError(t, tx.InsertTransaction(ctx, domain.Transaction{
			ID:             "t-1",
			IdempotencyKey: "idem-1",
			Payments:       []domain.Payment{{ID: "p-1", Method: domain.MethodCash, AmountCents: 1000, Status: domain.PaymentStatusCompleted}},
		}))
		require.NoError(t, tx.InsertAuditLog(ctx, domain.AuditLog{ID: "a-1", OutletID: DefaultOutletID}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	level, err := s.GetStockLevel(ctx, mieKey)
	require.NoError(t, err)
	assert.Equal(t, int64(120), level.Quantity)
	assert.Zero(t, s.MovementCount())

	_, err = s.GetTransaction(ctx, "t-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, ok := s.Payment("p-1")
	assert.False(t, ok)

	logs, err := s.ListAuditLogs(ctx, DefaultOutletID, "", 10)
	require.NoError(t, err)
	assert.Empty(t, logs)

	// the idempotency key is free again after rollback
	err = s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertTransaction(ctx, domain.Transaction{ID: "t-2", IdempotencyKey: "idem-1"})
	})
	require.NoError(t, err)
}

func TestCompareAndSetStockDetectsConflict(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	err := s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		level, err := tx.LockStockLevel(ctx, mieKey)
		if err != nil {
			return err
		}
		return tx.CompareAndSetStock(ctx, mieKey, level.Quantity-1, 0)
	})
	assert.ErrorIs(t, err, store.ErrStockConflict)

	missing := domain.StockKey{OutletID: DefaultOutletID, ProductID: "SVC-BUNGKUS-01"}
	err = s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.LockStockLevel(ctx, missing)
		assert.ErrorIs(t, err, store.ErrNotFound)
		return tx.CompareAndSetStock(ctx, missing, 0, 5)
	})
	require.NoError(t, err)

	level, err := s.GetStockLevel(ctx, missing)
	require.NoError(t, err)
	assert.Equal(t, int64(5), level.Quantity)
}

func TestFindPaymentByReferenceMatchesIDOrProviderRef(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertTransaction(ctx, domain.Transaction{
			ID: "t-1",
			Payments: []domain.Payment{
				{ID: "pay-1", Method: domain.MethodQRIS, ProviderRef: "qr_abc", Status: domain.PaymentStatusPending, CreatedAt: now},
			},
		})
	}))

	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		byRef, err := tx.FindPaymentByReference(ctx, []string{"missing", "qr_abc"})
		require.NoError(t, err)
		assert.Equal(t, "pay-1", byRef.ID)

		byID, err := tx.FindPaymentByReference(ctx, []string{"pay-1"})
		require.NoError(t, err)
		assert.Equal(t, "t-1", byID.TransactionID)

		_, err = tx.FindPaymentByReference(ctx, []string{"abc"})
		assert.ErrorIs(t, err, store.ErrNotFound)
		return nil
	}))
}

func TestChildTransactionsAreIndexedByParent(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.InsertTransaction(ctx, domain.Transaction{ID: "orig", Type: domain.TxTypeSale}); err != nil {
			return err
		}
		if err := tx.InsertTransaction(ctx, domain.Transaction{ID: "ref-1", Type: domain.TxTypeRefund, ParentTransactionID: "orig"}); err != nil {
			return err
		}
		return tx.InsertTransaction(ctx, domain.Transaction{ID: "child-1", Type: domain.TxTypeSale, ParentTransactionID: "orig", SplitIndex: 1})
	}))

	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		children, err := tx.ListChildTransactions(ctx, "orig")
		require.NoError(t, err)
		require.Len(t, children, 2)
		assert.Equal(t, "ref-1", children[0].ID)
		assert.True(t, children[1].IsSplitChild())
		return nil
	}))
}

func TestSeededStoreHasUsersAndVariantStock(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 3)
	assert.Equal(t, "admin", users[0].Username)

	level, err := s.GetStockLevel(ctx, domain.StockKey{OutletID: DefaultOutletID, ProductID: "SKU-KOPI-01", VariantID: "SKU-KOPI-01-L"})
	require.NoError(t, err)
	assert.Equal(t, int64(120), level.Quantity)
}
