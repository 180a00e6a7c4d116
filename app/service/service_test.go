package service

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/vibast-solutions/ms-go-donations/app/entity"
	"github.com/vibast-solutions/ms-go-donations/app/metrics"
	"github.com/vibast-solutions/ms-go-donations/app/provider"
	"github.com/vibast-solutions/ms-go-donations/app/repository"
	"github.com/vibast-solutions/ms-go-donations/config"
)

const (
	testPayPaySecret  = "paypay-secret"
	testRakutenSecret = "rakuten-secret"
)

type testEnv struct {
	service   *DonationService
	donations *repository.MemoryDonationRepository
	events    *repository.MemoryPaymentEventRepository
	registry  *prometheus.Registry
}

func defaultDonationsConfig() config.DonationsConfig {
	return config.DonationsConfig{
		DefaultCurrency:   "JPY",
		IdempotencyWindow: time.Hour,
	}
}

func newTestEnv(t *testing.T, cfg config.DonationsConfig, providers ...provider.Provider) *testEnv {
	t.Helper()

	if len(providers) == 0 {
		providers = []provider.Provider{
			provider.NewPayPayProvider(provider.PayPayConfig{
				MerchantID:      "merchant-1",
				WebhookSecret:   testPayPaySecret,
				CheckoutBaseURL: "https://sandbox.paypay.example",
			}),
			provider.NewRakutenProvider(provider.RakutenConfig{
				ServiceID:       "svc-1",
				WebhookSecret:   testRakutenSecret,
				CheckoutBaseURL: "https://sandbox.rakuten.example",
			}),
		}
	}

	donations := repository.NewMemoryDonationRepository()
	events := repository.NewMemoryPaymentEventRepository()
	registry := prometheus.NewRegistry()
	svc, err := NewDonationService(donations, events, provider.NewRegistry(providers...), cfg, metrics.New(registry))
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}

	return &testEnv{service: svc, donations: donations, events: events, registry: registry}
}

type checkoutRequest struct {
	amount         int64
	currency       string
	source         string
	provider       entity.Provider
	idempotencyKey string
}

func (r checkoutRequest) GetAmount() int64             { return r.amount }
func (r checkoutRequest) GetCurrency() string          { return r.currency }
func (r checkoutRequest) GetSource() string            { return r.source }
func (r checkoutRequest) GetProvider() entity.Provider { return r.provider }
func (r checkoutRequest) GetReturnUrl() string         { return "https://donate.example/thanks" }
func (r checkoutRequest) GetCancelUrl() string         { return "https://donate.example/cancel" }
func (r checkoutRequest) GetIdempotencyKey() string    { return r.idempotencyKey }
func (r checkoutRequest) GetDescription() string       { return "" }

type webhookRequest struct {
	provider string
	headers  http.Header
	body     []byte
}

func (r webhookRequest) GetProvider() string     { return r.provider }
func (r webhookRequest) GetHeaders() http.Header { return r.headers }
func (r webhookRequest) GetBody() []byte         { return r.body }

func signedWebhook(providerCode entity.Provider, body string) webhookRequest {
	headers := http.Header{}
	switch providerCode {
	case entity.ProviderPayPay:
		headers.Set(provider.PayPaySignatureHeader, provider.ComputeSignature(testPayPaySecret, []byte(body)))
	case entity.ProviderRakuten:
		headers.Set(provider.RakutenSignatureHeader, provider.ComputeSignature(testRakutenSecret, []byte(body)))
	}
	return webhookRequest{provider: string(providerCode), headers: headers, body: []byte(body)}
}

// fakeProvider counts checkout sessions and can be made to fail.
type fakeProvider struct {
	code     entity.Provider
	createFn func(ctx context.Context, input *provider.CheckoutSessionInput) (*provider.CheckoutSessionResult, error)
	calls    atomic.Int32
}

func (p *fakeProvider) Code() entity.Provider {
	return p.code
}

func (p *fakeProvider) CreateCheckoutSession(ctx context.Context, input *provider.CheckoutSessionInput) (*provider.CheckoutSessionResult, error) {
	n := p.calls.Add(1)
	if p.createFn != nil {
		return p.createFn(ctx, input)
	}
	return &provider.CheckoutSessionResult{
		RedirectURL:     "https://checkout.example/" + input.OrderID,
		ProviderOrderID: string(p.code) + "_fake" + string(rune('a'+n)),
		ExpiresAt:       time.Now().UTC().Add(time.Hour),
	}, nil
}

func (p *fakeProvider) VerifyWebhook(http.Header, []byte) *provider.WebhookVerification {
	return &provider.WebhookVerification{Valid: true, Event: map[string]interface{}{}}
}

func (p *fakeProvider) NormalizeEvent(event map[string]interface{}) *provider.NormalizedEvent {
	return &provider.NormalizedEvent{Status: entity.StatusPending, RawPayload: event}
}
