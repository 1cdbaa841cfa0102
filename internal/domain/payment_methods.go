package domain

const (
	MethodCash         = "cash"
	MethodCard         = "card"
	MethodBankTransfer = "bank_transfer"
	MethodGoPay        = "gopay"
	MethodOVO          = "ovo"
	MethodDANA         = "dana"
	MethodShopeePay    = "shopeepay"
	MethodLinkAja      = "linkaja"
	MethodQRIS         = "qris"
	MethodStoreCredit  = "store_credit"
)

// PaymentMethods is the tender vocabulary shared by creation, multi-tender
// payment and refund requests.
var PaymentMethods = []string{
	MethodCash,
	MethodCard,
	MethodBankTransfer,
	MethodGoPay,
	MethodOVO,
	MethodDANA,
	MethodShopeePay,
	MethodLinkAja,
	MethodQRIS,
	MethodStoreCredit,
}

func IsPaymentMethod(method string) bool {
	for _, m := range PaymentMethods {
		if m == method {
			return true
		}
	}
	return false
}

func IsEWallet(method string) bool {
	switch method {
	case MethodGoPay, MethodOVO, MethodDANA, MethodShopeePay, MethodLinkAja:
		return true
	default:
		return false
	}
}

// RequiresGateway reports whether a tender is settled through the payment
// provider. Cash and store credit notes never leave the ledger.
func RequiresGateway(method string) bool {
	return IsPaymentMethod(method) && method != MethodCash && method != MethodStoreCredit
}

type PaymentMethodInfo struct {
	Method          string `json:"method"`
	RequiresGateway bool   `json:"requires_gateway"`
	EWallet         bool   `json:"e_wallet"`
	Provider        string `json:"provider,omitempty"`
}
