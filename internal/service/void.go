package service

import (
	"context"
	"fmt"
	"strings"

	"kasirledger/backend/internal/domain"
	"kasirledger/backend/internal/events"
	"kasirledger/backend/internal/store"
)

func (s *Service) VoidTransaction(ctx context.Context, req domain.VoidRequest) (domain.VoidResponse, error) {
	if req.TransactionID == "" {
		return domain.VoidResponse{}, domain.Validation("transaction_id is required")
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if req.Reason == "" {
		return domain.VoidResponse{}, domain.Validation("reason is required")
	}
	voidedBy := actorID(ctx, req.EmployeeID)

	var (
		resp domain.VoidResponse
		box  outbox
	)
	err := s.repo.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		txn, err := tx.LockTransaction(ctx, req.TransactionID)
		if err != nil {
			return notFoundAs(err, domain.TransactionNotFound(req.TransactionID))
		}
		if req.OutletID != "" && req.OutletID != txn.OutletID {
			return domain.TransactionNotFound(req.TransactionID)
		}
		if err := s.voidLocked(ctx, tx, txn, voidedBy, req.Reason, &box); err != nil {
			return err
		}
		resp = domain.VoidResponse{
			TransactionID: txn.ID,
			Status:        txn.Status,
			VoidedBy:      txn.VoidedBy,
			VoidedAt:      *txn.VoidedAt,
		}
		return nil
	})
	if err != nil {
		return domain.VoidResponse{}, err
	}
	s.flush(ctx, &box)
	return resp, nil
}

// voidLocked voids a transaction already locked by the caller's unit of
// work and restores its tracked stock. txn is updated in place.
func (s *Service) voidLocked(ctx context.Context, tx store.Tx, txn *domain.Transaction, voidedBy string, reason string, box *outbox) error {
	switch {
	case txn.Status == domain.TxStatusVoided:
		return domain.VoidNotAllowed(txn.ID, "transaction %s is already voided", txn.ID)
	case txn.Status == domain.TxStatusRefunded || txn.Status == domain.TxStatusPartiallyRefunded:
		return domain.VoidNotAllowed(txn.ID, "cannot void a refunded transaction").With("status", txn.Status)
	case txn.Type != domain.TxTypeSale:
		return domain.VoidNotAllowed(txn.ID, "can only void sale transactions").With("type", txn.Type)
	case txn.IsSplitChild():
		return domain.VoidNotAllowed(txn.ID, "split bill %s cannot be voided on its own", txn.ReceiptNumber)
	}
	children, err := tx.ListChildTransactions(ctx, txn.ID)
	if err != nil {
		return fmt.Errorf("list child transactions: %w", err)
	}
	for _, child := range children {
		if child.IsSplitChild() {
			return domain.VoidNotAllowed(txn.ID, "transaction %s has been split", txn.ID)
		}
	}

	now := s.now()
	before := txn.Status
	txn.Status = domain.TxStatusVoided
	txn.VoidedBy = voidedBy
	txn.VoidReason = reason
	txn.VoidedAt = &now
	txn.UpdatedAt = now
	if err := tx.UpdateTransactionStatus(ctx, *txn); err != nil {
		return fmt.Errorf("update transaction %s: %w", txn.ID, err)
	}

	levels, err := applyStock(ctx, tx, stockDeltas(txn.OutletID, txn.Items, 1), stockMove{
		movementType:  domain.MovementReturnStock,
		referenceID:   txn.ID,
		referenceType: domain.ReferenceVoid,
		actorID:       voidedBy,
		at:            now,
	})
	if err != nil {
		return err
	}

	if err := s.writeAudit(ctx, tx, domain.AuditLog{
		OutletID:   txn.OutletID,
		ActorID:    voidedBy,
		Action:     "transaction.void",
		EntityType: "transaction",
		EntityID:   txn.ID,
		Detail:     reason,
	}, map[string]any{"status": before}, map[string]any{"status": txn.Status, "reason": reason}); err != nil {
		return err
	}

	box.add(events.TransactionVoided, txn.OutletID, txn.ID, map[string]any{
		"transaction_id":    txn.ID,
		"receipt_number":    txn.ReceiptNumber,
		"voided_by":         voidedBy,
		"reason":            reason,
		"grand_total_cents": txn.GrandTotalCents,
	})
	box.stockChanged(levels)
	return nil
}
