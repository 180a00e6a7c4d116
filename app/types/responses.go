package types

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type HealthResponse struct {
	Status      string   `json:"status"`
	Environment string   `json:"environment"`
	Providers   []string `json:"providers"`
}

type WebhookResponse struct {
	Status string `json:"status"`
}

type CheckoutResponse struct {
	DonationID  string `json:"donation_id"`
	Provider    string `json:"provider"`
	RedirectURL string `json:"redirect_url"`
	ExpiresAt   string `json:"expires_at"`
	Status      string `json:"status"`
}

type DonationResponse struct {
	DonationID  string  `json:"donation_id"`
	Status      string  `json:"status"`
	Amount      int64   `json:"amount"`
	Currency    string  `json:"currency"`
	Provider    string  `json:"provider"`
	Source      string  `json:"source"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
	CompletedAt *string `json:"completed_at"`
}

type PaymentEventResponse struct {
	EventID         string `json:"event_id"`
	ProviderEventID string `json:"provider_event_id"`
	Status          string `json:"status"`
	ReceivedAt      string `json:"received_at"`
}

type DonationEventsResponse struct {
	DonationID string                 `json:"donation_id"`
	Events     []PaymentEventResponse `json:"events"`
}
