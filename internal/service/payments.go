package service

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"kasirledger/backend/internal/domain"
	"kasirledger/backend/internal/payment"
	"kasirledger/backend/internal/store"
	"kasirledger/backend/internal/xid"
)

func validatePayments(payments []domain.PaymentInput) error {
	if len(payments) == 0 {
		return domain.InvalidPayment("at least one payment is required")
	}
	for i, p := range payments {
		if !domain.IsPaymentMethod(p.Method) {
			return domain.InvalidPayment("payments[%d]: unsupported method %q", i, p.Method).With("method", p.Method)
		}
		if p.AmountCents <= 0 {
			return domain.InvalidPayment("payments[%d]: amount must be positive", i)
		}
	}
	return nil
}

// settle records one tender against txn. Cash and store credit settle in
// the ledger. Everything else is initiated at the gateway from inside the
// unit of work, so a provider failure rolls the whole operation back.
func (s *Service) settle(ctx context.Context, txn *domain.Transaction, in domain.PaymentInput, now time.Time) (domain.Payment, error) {
	p := domain.Payment{
		ID:            xid.New(),
		TransactionID: txn.ID,
		Method:        in.Method,
		AmountCents:   in.AmountCents,
		Status:        domain.PaymentStatusCompleted,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if in.Reference != "" {
		p.Payload = map[string]string{"reference": in.Reference}
	}
	if !domain.RequiresGateway(in.Method) {
		return p, nil
	}

	gw := s.payments.Gateway
	meta := maps.Clone(in.Metadata)
	if meta == nil {
		meta = map[string]string{}
	}
	if in.Reference != "" {
		meta["reference"] = in.Reference
	}
	res, err := gw.Initiate(ctx, payment.InitiateRequest{
		PaymentID:     p.ID,
		TransactionID: txn.ID,
		ReceiptNumber: txn.ReceiptNumber,
		OutletID:      txn.OutletID,
		Method:        in.Method,
		AmountCents:   in.AmountCents,
		Metadata:      meta,
	})
	if err != nil {
		return domain.Payment{}, domain.GatewayFailure(gw.Name(), err).With("method", in.Method)
	}
	if !res.Success {
		return domain.Payment{}, domain.GatewayFailure(gw.Name(), errors.New(res.FailureReason)).With("method", in.Method)
	}

	p.Provider = gw.Name()
	p.ProviderRef = res.ProviderRef
	p.Status = string(res.Status)
	if p.Status != domain.PaymentStatusCompleted {
		p.Status = domain.PaymentStatusPending
	}
	payload := res.Payload()
	for k, v := range p.Payload {
		payload[k] = v
	}
	p.Payload = payload
	return p, nil
}

// ApplyPayments settles the outstanding balance of a sale with one or more
// tenders. Payments still pending at the provider are superseded and marked
// failed before the new tenders are applied.
func (s *Service) ApplyPayments(ctx context.Context, req domain.MultiPaymentRequest) (domain.MultiPaymentResponse, error) {
	if req.TransactionID == "" {
		return domain.MultiPaymentResponse{}, domain.Validation("transaction_id is required")
	}
	if err := validatePayments(req.Payments); err != nil {
		return domain.MultiPaymentResponse{}, err
	}

	var (
		resp domain.MultiPaymentResponse
		box  outbox
	)
	now := s.now()
	err := s.repo.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		txn, err := tx.LockTransaction(ctx, req.TransactionID)
		if err != nil {
			return notFoundAs(err, domain.TransactionNotFound(req.TransactionID))
		}
		if txn.Type != domain.TxTypeSale || txn.Status != domain.TxStatusCompleted {
			return domain.InvalidPayment("transaction %s is a %s in status %s and cannot take payments", txn.ID, txn.Type, txn.Status).
				With("transaction_id", txn.ID)
		}

		var settled int64
		superseded := make([]string, 0)
		for _, p := range txn.Payments {
			switch p.Status {
			case domain.PaymentStatusCompleted:
				settled += p.AmountCents
			case domain.PaymentStatusPending:
				before := p.Status
				p.Status = domain.PaymentStatusFailed
				p.UpdatedAt = now
				if p.Payload == nil {
					p.Payload = map[string]string{}
				}
				p.Payload["superseded"] = "true"
				if err := tx.UpdatePayment(ctx, p); err != nil {
					return fmt.Errorf("supersede payment %s: %w", p.ID, err)
				}
				superseded = append(superseded, p.ID)
				box.paymentChanged(txn, p, before)
			}
		}
		outstanding := txn.GrandTotalCents - settled + txn.ChangeCents
		if outstanding <= 0 {
			return domain.InvalidPayment("transaction %s is already settled", txn.ID).With("transaction_id", txn.ID)
		}

		paid, cash := sumAmounts(req.Payments)
		if paid < outstanding {
			return domain.InsufficientPayment(paid, outstanding)
		}
		change := changeDue(paid, outstanding, cash)

		applied := make([]domain.Payment, 0, len(req.Payments))
		for _, in := range req.Payments {
			p, err := s.settle(ctx, txn, in, now)
			if err != nil {
				return err
			}
			if err := tx.InsertPayment(ctx, p); err != nil {
				return fmt.Errorf("insert payment: %w", err)
			}
			applied = append(applied, p)
		}

		before := *txn
		txn.ChangeCents += change
		txn.UpdatedAt = now
		if err := tx.UpdateTransactionStatus(ctx, *txn); err != nil {
			return fmt.Errorf("update transaction %s: %w", txn.ID, err)
		}

		if err := s.writeAudit(ctx, tx, domain.AuditLog{
			OutletID:   txn.OutletID,
			ActorID:    actorID(ctx, req.EmployeeID),
			Action:     "transaction.payment",
			EntityType: "transaction",
			EntityID:   txn.ID,
		}, map[string]any{"paid_cents": settled, "change_cents": before.ChangeCents},
			map[string]any{"paid_cents": settled + paid, "change_cents": txn.ChangeCents, "superseded": superseded}); err != nil {
			return err
		}

		resp = domain.MultiPaymentResponse{
			TransactionID:    txn.ID,
			OutstandingCents: outstanding,
			PaidCents:        paid,
			ChangeCents:      change,
			Payments:         applied,
			Superseded:       superseded,
		}
		return nil
	})
	if err != nil {
		return domain.MultiPaymentResponse{}, err
	}
	s.flush(ctx, &box)
	return resp, nil
}
