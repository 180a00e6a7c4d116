package entity

import "time"

type PaymentEvent struct {
	ID string

	Provider        Provider
	ProviderEventID string
	ProviderOrderID string

	Status         DonationStatus
	RawPayload     map[string]interface{}
	SignatureValid bool

	ReceivedAt time.Time
}
