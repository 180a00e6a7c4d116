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
	PayPaySignatureHeader = "X-PAYPAY-SIGNATURE"

	PayPaySandboxCheckoutURL    = "https://sandbox.paypay.ne.jp"
	PayPayProductionCheckoutURL = "https://api.paypay.ne.jp"
)

var payPayPIIFields = []string{"user_info", "customer_info"}

var payPayStatuses = map[string]entity.DonationStatus{
	"CREATED":    entity.StatusPending,
	"AUTHORIZED": entity.StatusPending,
	"COMPLETED":  entity.StatusCompleted,
	"CAPTURED":   entity.StatusCompleted,
	"EXPIRED":    entity.StatusExpired,
	"CANCELED":   entity.StatusFailed,
	"FAILED":     entity.StatusFailed,
	"REFUNDED":   entity.StatusRefunded,
}

type PayPayConfig struct {
	MerchantID      string
	WebhookSecret   string
	CheckoutBaseURL string
	SessionTTL      time.Duration
}

type PayPayProvider struct {
	cfg      PayPayConfig
	checkout hostedCheckout
	logger   logrus.FieldLogger
}

func NewPayPayProvider(cfg PayPayConfig) *PayPayProvider {
	if cfg.CheckoutBaseURL == "" {
		cfg.CheckoutBaseURL = PayPaySandboxCheckoutURL
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = defaultSessionTTL
	}

	return &PayPayProvider{
		cfg: cfg,
		checkout: hostedCheckout{
			provider:   entity.ProviderPayPay,
			baseURL:    cfg.CheckoutBaseURL,
			path:       "checkout",
			returnKey:  "return_url",
			extra:      url.Values{"merchant_id": {cfg.MerchantID}},
			sessionTTL: cfg.SessionTTL,
		},
		logger: factory.NewModuleLogger("paypay-provider"),
	}
}

func (p *PayPayProvider) Code() entity.Provider {
	return entity.ProviderPayPay
}

func (p *PayPayProvider) CreateCheckoutSession(ctx context.Context, input *CheckoutSessionInput) (*CheckoutSessionResult, error) {
	result, err := p.checkout.create(ctx, input)
	if err != nil {
		return nil, err
	}

	p.logger.WithFields(logrus.Fields{
		"order_id":          input.OrderID,
		"provider_order_id": result.ProviderOrderID,
		"amount":            input.Amount,
		"expires_at":        result.ExpiresAt.Format(time.RFC3339),
	}).Info("PayPay checkout session created")

	return result, nil
}

func (p *PayPayProvider) VerifyWebhook(headers http.Header, body []byte) *WebhookVerification {
	result := verifySignedBody(headers, PayPaySignatureHeader, p.cfg.WebhookSecret, body)
	if !result.Valid {
		p.logger.WithField("reason", result.Error).Warn("PayPay webhook verification failed")
	}
	return result
}

// NormalizeEvent accepts both the current "state"/"order_id" fields and the
// legacy "notification_type"/"merchant_payment_id" ones.
func (p *PayPayProvider) NormalizeEvent(event map[string]interface{}) *NormalizedEvent {
	rawStatus := stringField(event, "state", "notification_type")
	orderID := stringField(event, "order_id", "merchant_payment_id")

	status, ok := payPayStatuses[rawStatus]
	if !ok {
		status = entity.StatusPending
	}

	// PayPay reuses payment_id across state notifications of one payment.
	eventID := stringField(event, "notification_id")
	if eventID == "" {
		if paymentID := stringField(event, "payment_id"); paymentID != "" {
			eventID = paymentID + ":" + rawStatus
		}
	}
	if eventID == "" {
		eventID = syntheticEventID(orderID, rawStatus, event)
	}

	return &NormalizedEvent{
		Status:          status,
		ProviderEventID: eventID,
		ProviderOrderID: orderID,
		RawPayload:      maskPayload(event, payPayPIIFields...),
	}
}
