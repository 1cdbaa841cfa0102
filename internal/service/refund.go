package service

import (
	"context"
	"errors"
	"fmt"

	"kasirledger/backend/internal/domain"
	"kasirledger/backend/internal/events"
	"kasirledger/backend/internal/payment"
	"kasirledger/backend/internal/store"
	"kasirledger/backend/internal/xid"
)

// Refund returns some or all items of a sale. It writes a mirror refund
// transaction with negated totals, puts tracked stock back and moves the
// original to partially_refunded or refunded.
func (s *Service) Refund(ctx context.Context, req domain.RefundRequest) (domain.RefundResponse, error) {
	if req.TransactionID == "" {
		return domain.RefundResponse{}, domain.Validation("transaction_id is required")
	}
	if err := domain.Validate(req); err != nil {
		return domain.RefundResponse{}, err
	}
	employeeID := actorID(ctx, req.EmployeeID)

	var (
		resp domain.RefundResponse
		box  outbox
	)
	now := s.now()
	err := s.repo.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		orig, err := tx.LockTransaction(ctx, req.TransactionID)
		if err != nil {
			return notFoundAs(err, domain.TransactionNotFound(req.TransactionID))
		}
		switch {
		case orig.Status == domain.TxStatusRefunded:
			return domain.RefundNotAllowed(orig.ID, "transaction %s is already fully refunded", orig.ID)
		case orig.Status != domain.TxStatusCompleted && orig.Status != domain.TxStatusPartiallyRefunded:
			return domain.RefundNotAllowed(orig.ID, "cannot refund a %s transaction", orig.Status).With("status", orig.Status)
		case orig.Type != domain.TxTypeSale:
			return domain.RefundNotAllowed(orig.ID, "can only refund sale transactions").With("type", orig.Type)
		case orig.IsSplitChild():
			return domain.RefundNotAllowed(orig.ID, "refund split bill %s through its original transaction", orig.ReceiptNumber)
		}

		children, err := tx.ListChildTransactions(ctx, orig.ID)
		if err != nil {
			return fmt.Errorf("list child transactions: %w", err)
		}
		var refundedSoFar int64
		refundedQty := make(map[string]int64)
		for _, child := range children {
			if child.Type != domain.TxTypeRefund {
				continue
			}
			refundedSoFar += -child.SubtotalCents
			for _, line := range child.Items {
				refundedQty[line.OriginalItemID] += line.Quantity
			}
		}

		byID := make(map[string]domain.TransactionItem, len(orig.Items))
		for _, item := range orig.Items {
			byID[item.ID] = item
		}
		requested := make(map[string]int64, len(req.Items))
		for _, in := range req.Items {
			item, ok := byID[in.ItemID]
			if !ok {
				return domain.RefundNotAllowed(orig.ID, "item %s is not part of transaction %s", in.ItemID, orig.ID).With("item_id", in.ItemID)
			}
			requested[in.ItemID] += in.Quantity
			if remaining := item.Quantity - refundedQty[in.ItemID]; requested[in.ItemID] > remaining {
				return domain.RefundNotAllowed(orig.ID, "item %s: refund quantity %d exceeds refundable %d", in.ItemID, requested[in.ItemID], remaining).
					With("item_id", in.ItemID).
					With("refundable", remaining)
			}
		}

		refund := &domain.Transaction{
			ID:                  xid.New(),
			OutletID:            orig.OutletID,
			TerminalID:          orig.TerminalID,
			EmployeeID:          employeeID,
			CustomerID:          orig.CustomerID,
			ShiftID:             orig.ShiftID,
			ReceiptNumber:       xid.RefundReceipt(now),
			Type:                domain.TxTypeRefund,
			OrderType:           orig.OrderType,
			ParentTransactionID: orig.ID,
			Status:              domain.TxStatusCompleted,
			Notes:               req.Notes,
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		var refundSubtotal int64
		for _, in := range req.Items {
			item := byID[in.ItemID]
			line := in.Quantity * item.UnitPriceCents
			refundSubtotal += line
			refund.Items = append(refund.Items, domain.TransactionItem{
				ID:             xid.New(),
				TransactionID:  refund.ID,
				ProductID:      item.ProductID,
				VariantID:      item.VariantID,
				ProductName:    item.ProductName,
				VariantName:    item.VariantName,
				Quantity:       in.Quantity,
				UnitPriceCents: item.UnitPriceCents,
				SubtotalCents:  -line,
				Modifiers:      item.Modifiers,
				TrackStock:     item.TrackStock,
				OriginalItemID: item.ID,
				RefundReason:   in.Reason,
			})
		}
		refundTax := proportion(refundSubtotal, orig.TaxCents, orig.SubtotalCents)
		refundAmount := refundSubtotal + refundTax
		refund.SubtotalCents = -refundSubtotal
		refund.TaxCents = -refundTax
		refund.GrandTotalCents = -refundAmount

		p, err := s.refundTender(ctx, orig, refund, req.RefundMethod, refundAmount, req.Items[0].Reason)
		if err != nil {
			return err
		}
		refund.Payments = []domain.Payment{p}

		if err := tx.InsertTransaction(ctx, *refund); err != nil {
			return fmt.Errorf("insert refund transaction: %w", err)
		}
		levels, err := applyStock(ctx, tx, stockDeltas(orig.OutletID, refund.Items, 1), stockMove{
			movementType:  domain.MovementReturnStock,
			referenceID:   refund.ID,
			referenceType: domain.ReferenceRefund,
			actorID:       employeeID,
			at:            now,
		})
		if err != nil {
			return err
		}

		before := orig.Status
		orig.Status = domain.TxStatusPartiallyRefunded
		if refundedSoFar+refundSubtotal >= orig.SubtotalCents {
			orig.Status = domain.TxStatusRefunded
		}
		orig.UpdatedAt = now
		if err := tx.UpdateTransactionStatus(ctx, *orig); err != nil {
			return fmt.Errorf("update transaction %s: %w", orig.ID, err)
		}

		if err := s.writeAudit(ctx, tx, domain.AuditLog{
			OutletID:   orig.OutletID,
			ActorID:    employeeID,
			Action:     "transaction.refund",
			EntityType: "transaction",
			EntityID:   orig.ID,
			Detail:     req.Notes,
		}, map[string]any{"status": before}, map[string]any{
			"status":                orig.Status,
			"refund_transaction_id": refund.ID,
			"refund_amount_cents":   refundAmount,
			"refund_method":         req.RefundMethod,
		}); err != nil {
			return err
		}

		box.add(events.TransactionRefunded, orig.OutletID, orig.ID, map[string]any{
			"transaction_id":        orig.ID,
			"refund_transaction_id": refund.ID,
			"receipt_number":        refund.ReceiptNumber,
			"refund_amount_cents":   refundAmount,
			"original_status":       orig.Status,
		})
		box.stockChanged(levels)

		resp = domain.RefundResponse{
			RefundTransactionID: refund.ID,
			ReceiptNumber:       refund.ReceiptNumber,
			RefundSubtotalCents: refundSubtotal,
			RefundTaxCents:      refundTax,
			RefundAmountCents:   refundAmount,
			OriginalStatus:      orig.Status,
		}
		return nil
	})
	if err != nil {
		return domain.RefundResponse{}, err
	}
	s.flush(ctx, &box)
	return resp, nil
}

// refundTender builds the negative payment row of a refund. original_method
// pays back through the first tender of the sale, at the provider when that
// tender went through one.
func (s *Service) refundTender(ctx context.Context, orig *domain.Transaction, refund *domain.Transaction, method string, amount int64, reason string) (domain.Payment, error) {
	p := domain.Payment{
		ID:            xid.New(),
		TransactionID: refund.ID,
		AmountCents:   -amount,
		Status:        domain.PaymentStatusCompleted,
		CreatedAt:     refund.CreatedAt,
		UpdatedAt:     refund.CreatedAt,
	}
	switch method {
	case domain.RefundMethodCash:
		p.Method = domain.MethodCash
		return p, nil
	case domain.RefundMethodStoreCredit:
		p.Method = domain.MethodStoreCredit
		return p, nil
	case domain.RefundMethodOriginalMethod:
	default:
		return domain.Payment{}, domain.Validation("refund_method %q is not supported", method)
	}

	if len(orig.Payments) == 0 {
		return domain.Payment{}, domain.RefundNotAllowed(orig.ID, "transaction %s has no payment to refund to", orig.ID)
	}
	source := orig.Payments[0]
	p.Method = source.Method
	if !domain.RequiresGateway(source.Method) {
		return p, nil
	}
	if source.Status != domain.PaymentStatusCompleted {
		return domain.Payment{}, domain.RefundNotAllowed(orig.ID, "original payment %s is %s", source.ID, source.Status).With("payment_id", source.ID)
	}

	gw := s.payments.Gateway
	if source.Provider != "" && source.Provider != gw.Name() {
		return domain.Payment{}, domain.InvalidPayment("payment %s was taken by %s, the active provider is %s", source.ID, source.Provider, gw.Name())
	}
	res, err := gw.Refund(ctx, payment.RefundRequest{
		RefundID:    p.ID,
		PaymentID:   source.ID,
		ProviderRef: source.ProviderRef,
		Method:      source.Method,
		Shape:       payment.Shape(source.Payload["shape"]),
		AmountCents: amount,
		Reason:      reason,
	})
	if err != nil {
		return domain.Payment{}, domain.GatewayFailure(gw.Name(), err)
	}
	if !res.Success {
		return domain.Payment{}, domain.GatewayFailure(gw.Name(), errors.New(res.FailureReason))
	}
	p.Provider = gw.Name()
	p.ProviderRef = res.ProviderRef
	if res.Status == payment.StatusPending {
		p.Status = domain.PaymentStatusPending
	}
	p.Payload = map[string]string{"refunded_payment_id": source.ID}
	return p, nil
}
