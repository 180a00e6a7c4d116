package provider

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-donations/app/entity"
	"github.com/vibast-solutions/ms-go-donations/app/factory"
)

const (
	RakutenSignatureHeader = "X-Rakuten-Signature"

	RakutenSandboxCheckoutURL    = "https://sandbox.checkout.rakuten.co.jp"
	RakutenProductionCheckoutURL = "https://checkout.rakuten.co.jp"
)

var rakutenPIIFields = []string{"customer", "buyer_info"}

var rakutenStatuses = map[string]entity.DonationStatus{
	"order.authorized": entity.StatusPending,
	"order.captured":   entity.StatusCompleted,
	"order.completed":  entity.StatusCompleted,
	"order.cancelled":  entity.StatusFailed,
	"order.failed":     entity.StatusFailed,
	"order.refunded":   entity.StatusRefunded,
	"order.expired":    entity.StatusExpired,
}

type RakutenConfig struct {
	ServiceID       string
	WebhookSecret   string
	CheckoutBaseURL string
	SessionTTL      time.Duration
}

type RakutenProvider struct {
	cfg      RakutenConfig
	checkout hostedCheckout
	logger   logrus.FieldLogger
}

func NewRakutenProvider(cfg RakutenConfig) *RakutenProvider {
	if cfg.CheckoutBaseURL == "" {
		cfg.CheckoutBaseURL = RakutenSandboxCheckoutURL
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = defaultSessionTTL
	}

	return &RakutenProvider{
		cfg: cfg,
		checkout: hostedCheckout{
			provider:   entity.ProviderRakuten,
			baseURL:    cfg.CheckoutBaseURL,
			path:       "payment",
			returnKey:  "callback",
			extra:      url.Values{"service_id": {cfg.ServiceID}},
			sessionTTL: cfg.SessionTTL,
		},
		logger: factory.NewModuleLogger("rakuten-provider"),
	}
}

func (p *RakutenProvider) Code() entity.Provider {
	return entity.ProviderRakuten
}

func (p *RakutenProvider) CreateCheckoutSession(ctx context.Context, input *CheckoutSessionInput) (*CheckoutSessionResult, error) {
	result, err := p.checkout.create(ctx, input)
	if err != nil {
		return nil, err
	}

	p.logger.WithFields(logrus.Fields{
		"order_id":          input.OrderID,
		"provider_order_id": result.ProviderOrderID,
		"amount":            input.Amount,
		"expires_at":        result.ExpiresAt.Format(time.RFC3339),
	}).Info("Rakuten Pay checkout session created")

	return result, nil
}

func (p *RakutenProvider) VerifyWebhook(headers http.Header, body []byte) *WebhookVerification {
	result := verifySignedBody(headers, RakutenSignatureHeader, p.cfg.WebhookSecret, body)
	if !result.Valid {
		p.logger.WithField("reason", result.Error).Warn("Rakuten Pay webhook verification failed")
	}
	return result
}

func (p *RakutenProvider) NormalizeEvent(event map[string]interface{}) *NormalizedEvent {
	rawStatus := stringField(event, "event_type")
	orderID := stringField(event, "order_id")

	status, ok := rakutenStatuses[rawStatus]
	if !ok {
		status = entity.StatusPending
	}

	eventID := stringField(event, "event_id")
	if eventID == "" {
		eventID = syntheticEventID(orderID, rawStatus, event)
	}

	return &NormalizedEvent{
		Status:          status,
		ProviderEventID: eventID,
		ProviderOrderID: orderID,
		RawPayload:      maskPayload(event, rakutenPIIFields...),
	}
}
