package provider

import (
	"context"
	"net/http"
	"time"

	"github.com/vibast-solutions/ms-go-donations/app/entity"
)

type CheckoutSessionInput struct {
	Amount      int64
	Currency    string
	OrderID     string
	ReturnURL   string
	CancelURL   string
	Description string
}

type CheckoutSessionResult struct {
	RedirectURL     string
	ProviderOrderID string
	ExpiresAt       time.Time
}

// WebhookVerification is an ordinary result: a rejected webhook is reported
// through Valid=false and a human-readable Error, never as a Go error.
type WebhookVerification struct {
	Valid bool
	Event map[string]interface{}
	Error string
}

type NormalizedEvent struct {
	Status          entity.DonationStatus
	ProviderEventID string
	ProviderOrderID string
	RawPayload      map[string]interface{}
}

type Provider interface {
	Code() entity.Provider
	CreateCheckoutSession(ctx context.Context, input *CheckoutSessionInput) (*CheckoutSessionResult, error)
	VerifyWebhook(headers http.Header, body []byte) *WebhookVerification
	NormalizeEvent(event map[string]interface{}) *NormalizedEvent
}
