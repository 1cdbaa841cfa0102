package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"kasirledger/backend/internal/domain"
	"kasirledger/backend/internal/store"
	"kasirledger/backend/internal/xid"
)

func (s *Service) OpenShift(ctx context.Context, req domain.ShiftOpenRequest) (domain.ShiftResponse, error) {
	if err := domain.Validate(req); err != nil {
		return domain.ShiftResponse{}, err
	}
	req.OutletID = s.outletOrDefault(req.OutletID)
	req.TerminalID = strings.TrimSpace(req.TerminalID)
	employeeID := actorID(ctx, req.EmployeeID)

	var resp domain.ShiftResponse
	err := s.repo.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		open, err := tx.FindOpenShift(ctx, req.OutletID, req.TerminalID)
		if err == nil {
			return domain.Validation("terminal %s already has open shift %s", req.TerminalID, open.ID).With("shift_id", open.ID)
		}
		if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("find open shift: %w", err)
		}

		shift := domain.Shift{
			ID:                xid.New(),
			OutletID:          req.OutletID,
			TerminalID:        req.TerminalID,
			EmployeeID:        employeeID,
			OpeningFloatCents: req.OpeningFloatCents,
			Status:            domain.ShiftStatusOpen,
			OpenedAt:          s.now(),
		}
		if err := tx.InsertShift(ctx, shift); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return domain.Validation("terminal %s already has an open shift", req.TerminalID)
			}
			return fmt.Errorf("insert shift: %w", err)
		}
		if err := s.writeAudit(ctx, tx, domain.AuditLog{
			OutletID:   shift.OutletID,
			ActorID:    employeeID,
			Action:     "shift.open",
			EntityType: "shift",
			EntityID:   shift.ID,
		}, nil, map[string]any{"terminal_id": shift.TerminalID, "opening_float_cents": shift.OpeningFloatCents}); err != nil {
			return err
		}
		resp = domain.ShiftResponse{Shift: shift}
		return nil
	})
	return resp, err
}

// CloseShift counts the drawer: the difference is the counted cash minus
// the expected cash of the shift's ledger.
func (s *Service) CloseShift(ctx context.Context, req domain.ShiftCloseRequest) (domain.ShiftResponse, error) {
	if req.ShiftID == "" {
		return domain.ShiftResponse{}, domain.Validation("shift_id is required")
	}
	if err := domain.Validate(req); err != nil {
		return domain.ShiftResponse{}, err
	}

	var resp domain.ShiftResponse
	err := s.repo.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		shift, err := tx.LockShift(ctx, req.ShiftID)
		if err != nil {
			return notFoundAs(err, domain.ShiftNotOpen(req.ShiftID, ""))
		}
		if shift.Status != domain.ShiftStatusOpen {
			return domain.ShiftNotOpen(shift.ID, shift.Status)
		}
		summary, err := shiftSummary(ctx, tx, shift)
		if err != nil {
			return err
		}

		now := s.now()
		shift.Status = domain.ShiftStatusClosed
		shift.ClosingCashCents = req.ClosingCashCents
		shift.ExpectedCashCents = summary.ExpectedCashCents
		shift.CashDifferenceCents = req.ClosingCashCents - summary.ExpectedCashCents
		shift.Notes = req.Notes
		shift.ClosedAt = &now
		if err := tx.UpdateShift(ctx, *shift); err != nil {
			return fmt.Errorf("update shift: %w", err)
		}
		if err := s.writeAudit(ctx, tx, domain.AuditLog{
			OutletID:   shift.OutletID,
			Action:     "shift.close",
			EntityType: "shift",
			EntityID:   shift.ID,
			Detail:     req.Notes,
		}, map[string]any{"status": domain.ShiftStatusOpen}, map[string]any{
			"status":                shift.Status,
			"closing_cash_cents":    shift.ClosingCashCents,
			"expected_cash_cents":   shift.ExpectedCashCents,
			"cash_difference_cents": shift.CashDifferenceCents,
		}); err != nil {
			return err
		}
		resp = domain.ShiftResponse{Shift: *shift, Summary: &summary}
		return nil
	})
	return resp, err
}

func (s *Service) GetShift(ctx context.Context, id string) (domain.ShiftResponse, error) {
	var resp domain.ShiftResponse
	err := s.repo.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		shift, err := tx.LockShift(ctx, id)
		if err != nil {
			return notFoundAs(err, domain.NewError(domain.CodeNotFound, "shift %s not found", id).With("shift_id", id))
		}
		summary, err := shiftSummary(ctx, tx, shift)
		if err != nil {
			return err
		}
		resp = domain.ShiftResponse{Shift: *shift, Summary: &summary}
		return nil
	})
	return resp, err
}

// shiftSummary derives the expected drawer cash: opening float plus cash
// sales net of change, plus cash in, minus cash out and cash refunds. Voided
// sales are excluded, and a sale that was split counts through its split
// bills instead of its own tenders.
func shiftSummary(ctx context.Context, tx store.Tx, shift *domain.Shift) (domain.ShiftCashSummary, error) {
	summary := domain.ShiftCashSummary{OpeningFloatCents: shift.OpeningFloatCents}

	txns, err := tx.ListShiftTransactions(ctx, shift.ID)
	if err != nil {
		return summary, fmt.Errorf("list shift transactions: %w", err)
	}
	splitParents := make(map[string]bool)
	for _, txn := range txns {
		if txn.IsSplitChild() {
			splitParents[txn.ParentTransactionID] = true
		}
	}
	for _, txn := range txns {
		var cash int64
		for _, p := range txn.Payments {
			if p.Method == domain.MethodCash && p.Status == domain.PaymentStatusCompleted {
				cash += p.AmountCents
			}
		}
		switch {
		case txn.Type == domain.TxTypeRefund:
			summary.CashRefundsCents += -cash
		case txn.Status == domain.TxStatusVoided || splitParents[txn.ID]:
			// no drawer effect
		default:
			summary.CashSalesCents += cash - txn.ChangeCents
		}
	}

	movements, err := tx.ListCashMovements(ctx, shift.ID)
	if err != nil {
		return summary, fmt.Errorf("list cash movements: %w", err)
	}
	for _, m := range movements {
		switch m.Type {
		case domain.CashIn:
			summary.CashInCents += m.AmountCents
		case domain.CashOut:
			summary.CashOutCents += m.AmountCents
		}
	}

	summary.ExpectedCashCents = summary.OpeningFloatCents + summary.CashSalesCents + summary.CashInCents - summary.CashOutCents - summary.CashRefundsCents
	return summary, nil
}
