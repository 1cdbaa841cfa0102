package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog/log"

	"kasirledger/backend/internal/domain"
	"kasirledger/backend/internal/events"
	"kasirledger/backend/internal/store"
	"kasirledger/backend/internal/xid"
)

// totals is the priced basket before anything is written.
type totals struct {
	items         []domain.TransactionItem
	subtotal      int64
	discount      int64
	tax           int64
	serviceCharge int64
	grandTotal    int64
}

// CreateTransaction records a sale: it checks the shift, prices the basket,
// takes stock and settles every tender in one unit of work. A repeated
// idempotency key returns the stored transaction without side effects.
func (s *Service) CreateTransaction(ctx context.Context, req domain.CreateTransactionRequest) (domain.CreateTransactionResponse, error) {
	if err := domain.Validate(req); err != nil {
		return domain.CreateTransactionResponse{}, err
	}
	if err := validatePayments(req.Payments); err != nil {
		return domain.CreateTransactionResponse{}, err
	}
	if req.OrderType == "" {
		req.OrderType = domain.OrderTypeTakeaway
	}
	employeeID := actorID(ctx, req.EmployeeID)

	var (
		resp domain.CreateTransactionResponse
		box  outbox
	)
	now := s.now()
	err := s.repo.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if req.IdempotencyKey != "" {
			existing, err := tx.FindTransactionByIdempotency(ctx, req.IdempotencyKey)
			if err == nil {
				resp = toCreateResponse(existing, true)
				return nil
			}
			if !errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("lookup idempotency key: %w", err)
			}
		}

		shift, err := tx.LockShift(ctx, req.ShiftID)
		if err != nil {
			return notFoundAs(err, domain.ShiftNotOpen(req.ShiftID, ""))
		}
		if shift.Status != domain.ShiftStatusOpen {
			return domain.ShiftNotOpen(shift.ID, shift.Status)
		}
		outletID := req.OutletID
		if outletID == "" {
			outletID = shift.OutletID
		}
		if outletID != shift.OutletID {
			return domain.Validation("shift %s belongs to outlet %s", shift.ID, shift.OutletID).With("outlet_id", outletID)
		}

		priced, err := s.price(ctx, tx, outletID, req.Items, req.Discounts)
		if err != nil {
			return err
		}

		paid, cash := sumAmounts(req.Payments)
		if paid < priced.grandTotal {
			return domain.InsufficientPayment(paid, priced.grandTotal)
		}

		txn := &domain.Transaction{
			ID:                 xid.New(),
			OutletID:           outletID,
			TerminalID:         firstNonEmpty(req.TerminalID, shift.TerminalID),
			EmployeeID:         employeeID,
			CustomerID:         req.CustomerID,
			ShiftID:            shift.ID,
			ReceiptNumber:      xid.SaleReceipt(now),
			Type:               domain.TxTypeSale,
			OrderType:          req.OrderType,
			IdempotencyKey:     req.IdempotencyKey,
			SubtotalCents:      priced.subtotal,
			DiscountCents:      priced.discount,
			TaxCents:           priced.tax,
			ServiceChargeCents: priced.serviceCharge,
			GrandTotalCents:    priced.grandTotal,
			ChangeCents:        changeDue(paid, priced.grandTotal, cash),
			Status:             domain.TxStatusCompleted,
			Notes:              req.Notes,
			CreatedAt:          now,
			UpdatedAt:          now,
			Items:              priced.items,
		}
		for i := range txn.Items {
			txn.Items[i].TransactionID = txn.ID
		}

		levels, err := applyStock(ctx, tx, stockDeltas(outletID, txn.Items, -1), stockMove{
			movementType:  domain.MovementSale,
			referenceID:   txn.ID,
			referenceType: domain.ReferenceSale,
			actorID:       employeeID,
			at:            now,
		})
		if err != nil {
			return err
		}

		for _, in := range req.Payments {
			p, err := s.settle(ctx, txn, in, now)
			if err != nil {
				return err
			}
			txn.Payments = append(txn.Payments, p)
		}

		if err := tx.InsertTransaction(ctx, *txn); err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}
		if err := s.writeAudit(ctx, tx, domain.AuditLog{
			OutletID:   outletID,
			ActorID:    employeeID,
			Action:     "transaction.create",
			EntityType: "transaction",
			EntityID:   txn.ID,
		}, nil, map[string]any{
			"receipt_number":    txn.ReceiptNumber,
			"grand_total_cents": txn.GrandTotalCents,
			"paid_cents":        paid,
			"change_cents":      txn.ChangeCents,
		}); err != nil {
			return err
		}

		box.add(events.TransactionCreated, outletID, txn.ID, transactionPayload(txn))
		box.stockChanged(levels)
		resp = toCreateResponse(txn, false)
		return nil
	})
	if errors.Is(err, store.ErrDuplicate) && req.IdempotencyKey != "" {
		// a concurrent request with the same key may have committed first
		if replay, replayErr := s.replayIdempotent(ctx, req.IdempotencyKey); replayErr == nil {
			return replay, nil
		}
	}
	if err != nil {
		return domain.CreateTransactionResponse{}, err
	}
	s.flush(ctx, &box)
	return resp, nil
}

func (s *Service) replayIdempotent(ctx context.Context, key string) (domain.CreateTransactionResponse, error) {
	var resp domain.CreateTransactionResponse
	err := s.repo.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		existing, err := tx.FindTransactionByIdempotency(ctx, key)
		if err != nil {
			return err
		}
		resp = toCreateResponse(existing, true)
		return nil
	})
	if err != nil {
		return domain.CreateTransactionResponse{}, err
	}
	log.Info().Str("idempotency_key", key).Str("transaction_id", resp.TransactionID).Msg("idempotent replay after concurrent insert")
	return resp, nil
}

// price resolves every line against the catalogue and computes the totals.
// Order-level discounts are spread over the lines in proportion to their
// gross amount, so the line discounts always add up to the header.
func (s *Service) price(ctx context.Context, tx store.Tx, outletID string, inputs []domain.TransactionItemInput, discounts []domain.DiscountInput) (totals, error) {
	ids := make([]string, 0, len(inputs))
	for _, in := range inputs {
		if !slices.Contains(ids, in.ProductID) {
			ids = append(ids, in.ProductID)
		}
	}
	products, err := tx.GetProducts(ctx, ids)
	if err != nil {
		return totals{}, fmt.Errorf("load products: %w", err)
	}

	var out totals
	gross := make([]int64, 0, len(inputs))
	for _, in := range inputs {
		product, ok := products[in.ProductID]
		if !ok || !product.Active {
			return totals{}, domain.ProductNotFoundOrInactive(in.ProductID, in.VariantID)
		}
		item := domain.TransactionItem{
			ID:          xid.New(),
			ProductID:   product.ID,
			ProductName: product.Name,
			Quantity:    in.Quantity,
			Modifiers:   slices.Clone(in.Modifiers),
			Notes:       in.Notes,
			TrackStock:  product.TrackStock,
		}
		unit := product.PriceCents
		if in.VariantID != "" {
			variant, ok := product.Variant(in.VariantID)
			if !ok {
				return totals{}, domain.ProductNotFoundOrInactive(in.ProductID, in.VariantID)
			}
			item.VariantID = variant.ID
			item.VariantName = variant.Name
			if variant.PriceCents > 0 {
				unit = variant.PriceCents
			}
		}
		if in.UnitPriceCents != nil {
			unit = *in.UnitPriceCents
		} else {
			for _, m := range in.Modifiers {
				unit += m.PriceCents
			}
		}
		item.UnitPriceCents = unit
		item.SubtotalCents = unit * in.Quantity
		out.subtotal += item.SubtotalCents
		gross = append(gross, item.SubtotalCents)
		out.items = append(out.items, item)
	}

	out.discount, err = discountAmount(out.subtotal, discounts)
	if err != nil {
		return totals{}, err
	}
	for i, share := range allocate(out.discount, gross) {
		out.items[i].DiscountCents = share
	}

	taxRate, serviceRate := s.defaultTaxRate, zeroRate
	settings, err := tx.GetOutletSettings(ctx, outletID)
	switch {
	case err == nil:
		taxRate, serviceRate = settings.TaxRate, settings.ServiceChargeRate
	case !errors.Is(err, store.ErrNotFound):
		return totals{}, fmt.Errorf("load outlet settings: %w", err)
	}

	taxable := out.subtotal - out.discount
	out.tax = applyRate(taxable, taxRate)
	out.serviceCharge = applyRate(taxable, serviceRate)
	out.grandTotal = taxable + out.tax + out.serviceCharge
	return out, nil
}

func toCreateResponse(txn *domain.Transaction, duplicate bool) domain.CreateTransactionResponse {
	var paid int64
	for _, p := range txn.Payments {
		paid += p.AmountCents
	}
	return domain.CreateTransactionResponse{
		TransactionID:       txn.ID,
		ReceiptNumber:       txn.ReceiptNumber,
		Status:              txn.Status,
		SubtotalCents:       txn.SubtotalCents,
		DiscountCents:       txn.DiscountCents,
		TaxCents:            txn.TaxCents,
		ServiceChargeCents:  txn.ServiceChargeCents,
		GrandTotalCents:     txn.GrandTotalCents,
		PaidCents:           paid,
		ChangeCents:         txn.ChangeCents,
		LoyaltyPointsEarned: 0,
		Payments:            txn.Payments,
		Duplicate:           duplicate,
		CreatedAt:           txn.CreatedAt.Format(time.RFC3339),
	}
}

func transactionPayload(txn *domain.Transaction) map[string]any {
	items := make([]map[string]any, 0, len(txn.Items))
	for _, item := range txn.Items {
		items = append(items, map[string]any{
			"product_id": item.ProductID,
			"variant_id": item.VariantID,
			"quantity":   item.Quantity,
		})
	}
	methods := make([]string, 0, len(txn.Payments))
	for _, p := range txn.Payments {
		methods = append(methods, p.Method)
	}
	return map[string]any{
		"transaction_id":    txn.ID,
		"receipt_number":    txn.ReceiptNumber,
		"type":              txn.Type,
		"status":            txn.Status,
		"shift_id":          txn.ShiftID,
		"employee_id":       txn.EmployeeID,
		"grand_total_cents": txn.GrandTotalCents,
		"items":             items,
		"payment_methods":   methods,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
