package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"kasirledger/backend/internal/domain"
	"kasirledger/backend/internal/payment"
	"kasirledger/backend/internal/store"
)

// HandleWebhook reconciles one provider notification. Authentication and
// parsing errors are returned; once a notification is authentic every
// outcome, including no match and no transition, is a nil error so the
// provider stops retrying.
func (s *Service) HandleWebhook(ctx context.Context, provider string, req payment.WebhookRequest) (domain.WebhookResult, error) {
	parser, ok := s.payments.Webhook(provider)
	if !ok {
		return domain.WebhookResult{}, domain.NewError(domain.CodeNotFound, "unknown payment provider %s", provider).With("provider", provider)
	}
	event, err := parser.ParseWebhook(req)
	if err != nil {
		return domain.WebhookResult{}, err
	}

	result := domain.WebhookResult{Provider: provider, ToStatus: string(event.Status)}
	logger := log.With().Str("provider", provider).Str("event_id", event.EventID).Str("raw_status", event.RawStatus).Logger()

	if event.PendingReview {
		logger.Info().Strs("references", event.References).Msg("payment pending_review after fraud challenge")
	}
	if event.Status == payment.StatusUnknown {
		result.Reason = "ignored status " + event.RawStatus
		logger.Info().Str("event_type", event.EventType).Msg("webhook status ignored")
		return result, nil
	}

	dedupKey := ""
	if event.EventID != "" {
		dedupKey = provider + ":" + event.EventID
		first, err := s.dedup.Claim(ctx, dedupKey)
		switch {
		case err != nil:
			logger.Warn().Err(err).Msg("webhook dedup unavailable")
			dedupKey = ""
		case !first:
			result.Duplicate = true
			result.Reason = "duplicate delivery"
			return result, nil
		}
	}
	release := func() {
		if dedupKey == "" {
			return
		}
		if err := s.dedup.Release(context.WithoutCancel(ctx), dedupKey); err != nil {
			logger.Warn().Err(err).Msg("release webhook dedup key failed")
		}
	}

	var box outbox
	err = s.repo.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		box = outbox{}
		p, err := tx.FindPaymentByReference(ctx, event.References)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("find payment: %w", err)
		}
		result.Matched = true
		result.PaymentID = p.ID
		result.TransactionID = p.TransactionID
		result.FromStatus = p.Status

		target := event.Status
		refundedID := p.Payload["refunded_payment_id"]
		if refundedID != "" && event.Status == payment.StatusRefunded {
			// a confirmed refund settles the pending refund row itself
			target = payment.StatusCompleted
		}
		result.ToStatus = string(target)
		if !payment.CanTransition(p.Status, target) {
			result.Duplicate = p.Status == string(target)
			result.Reason = fmt.Sprintf("no transition from %s to %s", p.Status, target)
			return nil
		}

		txn, err := tx.LockTransaction(ctx, p.TransactionID)
		if err != nil {
			return fmt.Errorf("lock transaction %s: %w", p.TransactionID, err)
		}

		now := s.now()
		from := p.Status
		p.Status = string(target)
		p.UpdatedAt = now
		if p.Payload == nil {
			p.Payload = map[string]string{}
		}
		p.Payload["provider_status"] = event.RawStatus
		if err := tx.UpdatePayment(ctx, *p); err != nil {
			return fmt.Errorf("update payment %s: %w", p.ID, err)
		}

		actor := "webhook:" + provider
		txnBefore := txn.Status
		switch event.Status {
		case payment.StatusFailed:
			if txn.Status == domain.TxStatusCompleted && txn.Type == domain.TxTypeSale && !txn.IsSplitChild() {
				err := s.voidLocked(ctx, tx, txn, actor, fmt.Sprintf("payment %s %s at %s", p.ID, event.RawStatus, provider), &box)
				switch {
				case errors.Is(err, domain.ErrVoidNotAllowed):
					// rejected before any write; the payment still records the failure
					logger.Warn().Err(err).Str("transaction_id", txn.ID).Msg("failed payment left transaction unvoided")
				case err != nil:
					return err
				}
			}
		case payment.StatusRefunded:
			if refundedID != "" {
				if err := settleRefundedSource(ctx, tx, refundedID, event.RawStatus, now, &box); err != nil {
					return err
				}
			} else if txn.Status == domain.TxStatusCompleted || txn.Status == domain.TxStatusPartiallyRefunded {
				txn.Status = domain.TxStatusRefunded
				txn.UpdatedAt = now
				if err := tx.UpdateTransactionStatus(ctx, *txn); err != nil {
					return fmt.Errorf("update transaction %s: %w", txn.ID, err)
				}
			}
		}

		if err := s.writeAudit(ctx, tx, domain.AuditLog{
			OutletID:   txn.OutletID,
			ActorID:    actor,
			ActorRole:  "system",
			Action:     "payment.webhook",
			EntityType: "payment",
			EntityID:   p.ID,
			Detail:     event.EventID,
		}, map[string]any{"status": from, "transaction_status": txnBefore}, map[string]any{
			"status":             p.Status,
			"transaction_status": txn.Status,
			"provider_status":    event.RawStatus,
		}); err != nil {
			return err
		}

		box.paymentChanged(txn, *p, from)
		result.Applied = true
		return nil
	})
	if err != nil {
		release()
		return domain.WebhookResult{}, err
	}

	if !result.Matched {
		// the payment may not be committed yet; let a redelivery try again
		release()
		result.Reason = "no matching payment"
		logger.Warn().Strs("references", event.References).Msg("webhook matched no payment")
		return result, nil
	}
	if result.Applied {
		logger.Info().Str("payment_id", result.PaymentID).Str("from", result.FromStatus).Str("to", result.ToStatus).Msg("payment reconciled")
		s.flush(ctx, &box)
	}
	return result, nil
}

// settleRefundedSource marks the sale payment a confirmed refund paid back
// as refunded, once its sale is fully refunded.
func settleRefundedSource(ctx context.Context, tx store.Tx, paymentID string, rawStatus string, now time.Time, box *outbox) error {
	source, err := tx.FindPaymentByReference(ctx, []string{paymentID})
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("find refunded payment %s: %w", paymentID, err)
	}
	sale, err := tx.LockTransaction(ctx, source.TransactionID)
	if err != nil {
		return fmt.Errorf("lock transaction %s: %w", source.TransactionID, err)
	}
	if sale.Status != domain.TxStatusRefunded || !payment.CanTransition(source.Status, payment.StatusRefunded) {
		return nil
	}

	from := source.Status
	source.Status = string(payment.StatusRefunded)
	source.UpdatedAt = now
	if source.Payload == nil {
		source.Payload = map[string]string{}
	}
	source.Payload["provider_status"] = rawStatus
	if err := tx.UpdatePayment(ctx, *source); err != nil {
		return fmt.Errorf("update payment %s: %w", source.ID, err)
	}
	box.paymentChanged(sale, *source, from)
	return nil
}
