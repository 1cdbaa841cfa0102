package service

import (
	"context"
	"fmt"

	"kasirledger/backend/internal/domain"
	"kasirledger/backend/internal/store"
	"kasirledger/backend/internal/xid"
)

const (
	SplitModeItems = "items"
	SplitModeEven  = "even"
)

// childDraft is one split bill before its tender is settled.
type childDraft struct {
	txn     *domain.Transaction
	payment domain.PaymentInput
}

// SplitBill divides a completed sale into child sales, each settled by its
// own tender. Groups split by item; SplitCount splits the grand total
// evenly. The original is left untouched and stock does not move.
func (s *Service) SplitBill(ctx context.Context, req domain.SplitRequest) (domain.SplitResponse, error) {
	if req.TransactionID == "" {
		return domain.SplitResponse{}, domain.Validation("transaction_id is required")
	}
	if err := domain.Validate(req); err != nil {
		return domain.SplitResponse{}, err
	}
	mode := SplitModeItems
	switch {
	case len(req.Groups) > 0 && req.SplitCount != 0:
		return domain.SplitResponse{}, domain.InvalidTransaction("choose either groups or split_count, not both")
	case len(req.Groups) == 0:
		mode = SplitModeEven
	}
	employeeID := actorID(ctx, req.EmployeeID)

	var resp domain.SplitResponse
	now := s.now()
	err := s.repo.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		orig, err := tx.LockTransaction(ctx, req.TransactionID)
		if err != nil {
			return notFoundAs(err, domain.TransactionNotFound(req.TransactionID))
		}
		if orig.Type != domain.TxTypeSale || orig.IsSplitChild() || orig.Status != domain.TxStatusCompleted || orig.VoidedAt != nil {
			return domain.InvalidTransaction("only completed sale transactions can be split").
				With("transaction_id", orig.ID).
				With("status", orig.Status)
		}
		children, err := tx.ListChildTransactions(ctx, orig.ID)
		if err != nil {
			return fmt.Errorf("list child transactions: %w", err)
		}
		for _, child := range children {
			if child.IsSplitChild() {
				return domain.InvalidTransaction("transaction %s is already split", orig.ID).With("transaction_id", orig.ID)
			}
		}

		var drafts []childDraft
		if mode == SplitModeItems {
			drafts, err = splitByItems(orig, req.Groups)
		} else {
			drafts, err = splitEvenly(orig, req.SplitCount, req.Payments)
		}
		if err != nil {
			return err
		}

		var sum int64
		for _, d := range drafts {
			sum += d.txn.GrandTotalCents
		}
		if sum != orig.GrandTotalCents {
			return domain.InvalidTransaction("split totals %d do not match transaction total %d", sum, orig.GrandTotalCents)
		}

		resp = domain.SplitResponse{ParentTransactionID: orig.ID, Mode: mode}
		childIDs := make([]string, 0, len(drafts))
		for i, d := range drafts {
			child := d.txn
			child.ID = xid.New()
			child.OutletID = orig.OutletID
			child.TerminalID = orig.TerminalID
			child.EmployeeID = orig.EmployeeID
			child.CustomerID = orig.CustomerID
			child.ShiftID = orig.ShiftID
			child.OrderType = orig.OrderType
			child.Type = domain.TxTypeSale
			child.Status = domain.TxStatusCompleted
			child.ParentTransactionID = orig.ID
			child.SplitIndex = i + 1
			child.ReceiptNumber = xid.SplitReceipt(orig.ReceiptNumber, i+1)
			child.CreatedAt = now
			child.UpdatedAt = now
			for j := range child.Items {
				child.Items[j].TransactionID = child.ID
			}

			if d.payment.AmountCents < child.GrandTotalCents {
				return domain.InsufficientPayment(d.payment.AmountCents, child.GrandTotalCents).With("split_index", i+1)
			}
			_, cash := sumAmounts([]domain.PaymentInput{d.payment})
			child.ChangeCents = changeDue(d.payment.AmountCents, child.GrandTotalCents, cash)
			p, err := s.settle(ctx, child, d.payment, now)
			if err != nil {
				return err
			}
			child.Payments = []domain.Payment{p}

			if err := tx.InsertTransaction(ctx, *child); err != nil {
				return fmt.Errorf("insert split bill %d: %w", i+1, err)
			}
			childIDs = append(childIDs, child.ID)
			resp.Children = append(resp.Children, domain.SplitChild{
				TransactionID:   child.ID,
				ReceiptNumber:   child.ReceiptNumber,
				SplitIndex:      child.SplitIndex,
				GrandTotalCents: child.GrandTotalCents,
				ChangeCents:     child.ChangeCents,
			})
		}

		return s.writeAudit(ctx, tx, domain.AuditLog{
			OutletID:   orig.OutletID,
			ActorID:    employeeID,
			Action:     "transaction.split",
			EntityType: "transaction",
			EntityID:   orig.ID,
			Detail:     mode,
		}, nil, map[string]any{"mode": mode, "children": childIDs})
	})
	if err != nil {
		return domain.SplitResponse{}, err
	}
	return resp, nil
}

// splitByItems builds one child per group. Every item must appear in
// exactly one group. Each group's tax and service charge is its subtotal's
// share of the original's, rounded per group. When that rounding drifts from
// the original total the split is rejected.
func splitByItems(orig *domain.Transaction, groups []domain.SplitGroupInput) ([]childDraft, error) {
	byID := make(map[string]domain.TransactionItem, len(orig.Items))
	for _, item := range orig.Items {
		byID[item.ID] = item
	}
	seen := make(map[string]int, len(orig.Items))
	drafts := make([]childDraft, 0, len(groups))
	for gi, g := range groups {
		if err := validatePayments([]domain.PaymentInput{g.Payment}); err != nil {
			return nil, err
		}
		child := &domain.Transaction{}
		for _, id := range g.ItemIDs {
			item, ok := byID[id]
			if !ok {
				return nil, domain.InvalidTransaction("item %s is not part of transaction %s", id, orig.ID).With("item_id", id)
			}
			if prev, dup := seen[id]; dup {
				return nil, domain.InvalidTransaction("item %s is in groups %d and %d", id, prev, gi+1).With("item_id", id)
			}
			seen[id] = gi + 1
			line := item
			line.ID = xid.New()
			line.OriginalItemID = item.ID
			child.Items = append(child.Items, line)
			child.SubtotalCents += item.SubtotalCents
			child.DiscountCents += item.DiscountCents
		}
		drafts = append(drafts, childDraft{txn: child, payment: g.Payment})
	}
	for _, item := range orig.Items {
		if _, ok := seen[item.ID]; !ok {
			return nil, domain.InvalidTransaction("item %s is not assigned to any group", item.ID).With("item_id", item.ID)
		}
	}

	for _, d := range drafts {
		d.txn.TaxCents = proportion(d.txn.SubtotalCents, orig.TaxCents, orig.SubtotalCents)
		d.txn.ServiceChargeCents = proportion(d.txn.SubtotalCents, orig.ServiceChargeCents, orig.SubtotalCents)
		d.txn.GrandTotalCents = d.txn.SubtotalCents - d.txn.DiscountCents + d.txn.TaxCents + d.txn.ServiceChargeCents
	}
	return drafts, nil
}

// splitEvenly builds n children without items. The first child carries the
// remainder of every component. Each child's subtotal is whatever its share
// leaves after tax and service charge, so every child stays balanced and no
// component goes negative.
func splitEvenly(orig *domain.Transaction, n int, payments []domain.PaymentInput) ([]childDraft, error) {
	if n < 2 {
		return nil, domain.InvalidTransaction("split_count must be at least 2").With("split_count", n)
	}
	if len(payments) != n {
		return nil, domain.InvalidPayment("split_count %d needs exactly %d payments, got %d", n, n, len(payments))
	}
	if err := validatePayments(payments); err != nil {
		return nil, err
	}

	shares := evenShares(orig.GrandTotalCents, n)
	taxes := evenShares(orig.TaxCents, n)
	charges := evenShares(orig.ServiceChargeCents, n)
	discounts := evenShares(orig.DiscountCents, n)
	taxable := make([]int64, n)
	for i := range taxable {
		taxable[i] = shares[i] - taxes[i] - charges[i]
	}
	coverDeficits(taxable, taxes, charges)

	drafts := make([]childDraft, 0, n)
	for i := 0; i < n; i++ {
		child := &domain.Transaction{
			SubtotalCents:      taxable[i] + discounts[i],
			DiscountCents:      discounts[i],
			TaxCents:           taxes[i],
			ServiceChargeCents: charges[i],
			GrandTotalCents:    shares[i],
		}
		drafts = append(drafts, childDraft{txn: child, payment: payments[i]})
	}
	return drafts, nil
}
