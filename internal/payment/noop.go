package payment

import "context"

// Noop settles every charge immediately. It exists for development and
// tests and is refused by the factory in production.
type Noop struct{}

func (Noop) Name() string { return ProviderNoop }

func (Noop) Initiate(_ context.Context, req InitiateRequest) (InitiateResult, error) {
	return InitiateResult{
		Success:     true,
		Provider:    ProviderNoop,
		ProviderRef: "noop-" + req.PaymentID,
		Status:      StatusCompleted,
		Shape:       ShapeImmediate,
	}, nil
}

func (Noop) Refund(_ context.Context, req RefundRequest) (RefundResult, error) {
	return RefundResult{Success: true, ProviderRef: "noop-" + req.RefundID, Status: StatusRefunded}, nil
}

func (Noop) CheckStatus(_ context.Context, providerRef string) (StatusResult, error) {
	return StatusResult{ProviderRef: providerRef, RawStatus: string(StatusCompleted), Status: StatusCompleted}, nil
}
