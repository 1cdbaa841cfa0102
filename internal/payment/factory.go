package payment

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Provider    string
	Env         string
	HTTPTimeout time.Duration
	Midtrans    MidtransConfig
	Xendit      XenditConfig
}

// Providers holds the gateway selected for charges and refunds plus a
// webhook parser for every provider, so notifications for payments created
// under a previous provider setting still reconcile.
type Providers struct {
	Gateway  Gateway
	Webhooks map[string]WebhookParser
}

// New resolves the configured provider once at startup.
func New(cfg Config) (*Providers, error) {
	client := newHTTPClient(cfg.HTTPTimeout)
	midtrans := NewMidtrans(cfg.Midtrans, client)
	xendit := NewXendit(cfg.Xendit, client)

	providers := &Providers{
		Webhooks: map[string]WebhookParser{
			ProviderMidtrans: midtrans,
			ProviderXendit:   xendit,
		},
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case ProviderMidtrans:
		providers.Gateway = midtrans
	case ProviderXendit:
		providers.Gateway = xendit
	case ProviderNoop, "":
		if strings.EqualFold(cfg.Env, "production") {
			return nil, fmt.Errorf("payment provider %q is not allowed in production", ProviderNoop)
		}
		providers.Gateway = Noop{}
	default:
		return nil, fmt.Errorf("unknown payment provider %q", cfg.Provider)
	}
	return providers, nil
}

// WithGateway returns a copy using gw for charges. Used by tests.
func (p *Providers) WithGateway(gw Gateway) *Providers {
	cp := *p
	cp.Gateway = gw
	return &cp
}

func (p *Providers) Webhook(provider string) (WebhookParser, bool) {
	parser, ok := p.Webhooks[provider]
	return parser, ok
}
