package service

import (
	"context"
	"strings"

	"kasirledger/backend/internal/domain"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func clampLimit(limit int) int {
	if limit < 1 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

func (s *Service) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	txn, err := s.repo.GetTransaction(ctx, id)
	if err != nil {
		return nil, notFoundAs(err, domain.TransactionNotFound(id))
	}
	return txn, nil
}

func (s *Service) GetStockLevel(ctx context.Context, outletID string, productID string, variantID string) (*domain.StockLevel, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return nil, domain.Validation("product_id is required")
	}
	key := domain.StockKey{OutletID: s.outletOrDefault(outletID), ProductID: productID, VariantID: strings.TrimSpace(variantID)}
	level, err := s.repo.GetStockLevel(ctx, key)
	if err != nil {
		return nil, notFoundAs(err, domain.NewError(domain.CodeNotFound, "no stock level for %s", key).With("product_id", productID))
	}
	return level, nil
}

func (s *Service) ListStockMovements(ctx context.Context, outletID string, productID string, limit int) ([]domain.StockMovement, error) {
	return s.repo.ListStockMovements(ctx, s.outletOrDefault(outletID), strings.TrimSpace(productID), clampLimit(limit))
}

func (s *Service) ListAuditLogs(ctx context.Context, outletID string, entityID string, limit int) ([]domain.AuditLog, error) {
	return s.repo.ListAuditLogs(ctx, s.outletOrDefault(outletID), strings.TrimSpace(entityID), clampLimit(limit))
}

// PaymentMethods lists the tender catalogue with the provider that settles
// each gateway method.
func (s *Service) PaymentMethods() []domain.PaymentMethodInfo {
	methods := make([]domain.PaymentMethodInfo, 0, len(domain.PaymentMethods))
	for _, m := range domain.PaymentMethods {
		info := domain.PaymentMethodInfo{Method: m, RequiresGateway: domain.RequiresGateway(m), EWallet: domain.IsEWallet(m)}
		if info.RequiresGateway {
			info.Provider = s.payments.Gateway.Name()
		}
		methods = append(methods, info)
	}
	return methods
}
