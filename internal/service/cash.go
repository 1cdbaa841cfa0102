package service

import (
	"context"
	"fmt"
	"strings"

	"kasirledger/backend/internal/domain"
	"kasirledger/backend/internal/store"
	"kasirledger/backend/internal/xid"
)

// RecordCashMovement books cash put into or taken out of the drawer of an
// open shift. Cash out cannot exceed what the drawer is expected to hold.
func (s *Service) RecordCashMovement(ctx context.Context, req domain.CashMovementRequest) (domain.CashMovement, error) {
	if req.ShiftID == "" {
		return domain.CashMovement{}, domain.Validation("shift_id is required")
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if err := domain.Validate(req); err != nil {
		return domain.CashMovement{}, err
	}
	employeeID := actorID(ctx, req.EmployeeID)

	var movement domain.CashMovement
	err := s.repo.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		shift, err := tx.LockShift(ctx, req.ShiftID)
		if err != nil {
			return notFoundAs(err, domain.ShiftNotOpen(req.ShiftID, ""))
		}
		if shift.Status != domain.ShiftStatusOpen {
			return domain.ShiftNotOpen(shift.ID, shift.Status)
		}
		if req.Type == domain.CashOut {
			summary, err := shiftSummary(ctx, tx, shift)
			if err != nil {
				return err
			}
			if req.AmountCents > summary.ExpectedCashCents {
				return domain.Validation("cash out %d exceeds drawer balance %d", req.AmountCents, summary.ExpectedCashCents).
					With("drawer_cents", summary.ExpectedCashCents)
			}
		}

		movement = domain.CashMovement{
			ID:          xid.New(),
			ShiftID:     shift.ID,
			OutletID:    shift.OutletID,
			EmployeeID:  employeeID,
			Type:        req.Type,
			AmountCents: req.AmountCents,
			Reason:      req.Reason,
			CreatedAt:   s.now(),
		}
		if err := tx.InsertCashMovement(ctx, movement); err != nil {
			return fmt.Errorf("insert cash movement: %w", err)
		}
		return s.writeAudit(ctx, tx, domain.AuditLog{
			OutletID:   shift.OutletID,
			ActorID:    employeeID,
			Action:     "shift." + req.Type,
			EntityType: "shift",
			EntityID:   shift.ID,
			Detail:     req.Reason,
		}, nil, map[string]any{"cash_movement_id": movement.ID, "amount_cents": movement.AmountCents})
	})
	if err != nil {
		return domain.CashMovement{}, err
	}
	return movement, nil
}
