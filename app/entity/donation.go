package entity

import (
	"strings"
	"time"
)

type Provider string

const (
	ProviderPayPay  Provider = "paypay"
	ProviderRakuten Provider = "rakuten"
)

// ParseProvider maps a route or request value onto a known provider code.
func ParseProvider(raw string) (Provider, bool) {
	switch Provider(strings.ToLower(strings.TrimSpace(raw))) {
	case ProviderPayPay:
		return ProviderPayPay, true
	case ProviderRakuten:
		return ProviderRakuten, true
	default:
		return "", false
	}
}

type Donation struct {
	ID string

	Amount   int64
	Currency string

	Provider Provider
	Status   DonationStatus
	Source   string

	ProviderOrderID string
	IdempotencyKey  string

	RedirectURL string
	ExpiresAt   time.Time

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}
