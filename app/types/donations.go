package types

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/labstack/echo/v4"
	"github.com/vibast-solutions/ms-go-donations/app/entity"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	MinDonationAmount = 100
	MaxDonationAmount = 1_000_000

	maxIdempotencyKeyLength = 255
	maxSourceLength         = 100
)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

type CreateCheckoutRequest struct {
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	Source         string `json:"source"`
	Provider       string `json:"provider"`
	ReturnURL      string `json:"return_url"`
	CancelURL      string `json:"cancel_url"`
	IdempotencyKey string `json:"idempotency_key"`
	Description    string `json:"description,omitempty"`
}

func (r *CreateCheckoutRequest) GetAmount() int64 {
	if r == nil {
		return 0
	}
	return r.Amount
}

func (r *CreateCheckoutRequest) GetCurrency() string {
	if r == nil {
		return ""
	}
	return r.Currency
}

func (r *CreateCheckoutRequest) GetSource() string {
	if r == nil {
		return ""
	}
	return r.Source
}

func (r *CreateCheckoutRequest) GetProvider() entity.Provider {
	if r == nil {
		return ""
	}
	return entity.Provider(r.Provider)
}

func (r *CreateCheckoutRequest) GetReturnUrl() string {
	if r == nil {
		return ""
	}
	return r.ReturnURL
}

func (r *CreateCheckoutRequest) GetCancelUrl() string {
	if r == nil {
		return ""
	}
	return r.CancelURL
}

func (r *CreateCheckoutRequest) GetIdempotencyKey() string {
	if r == nil {
		return ""
	}
	return r.IdempotencyKey
}

func (r *CreateCheckoutRequest) GetDescription() string {
	if r == nil {
		return ""
	}
	return r.Description
}

func NewCreateCheckoutRequestFromContext(ctx echo.Context) (*CreateCheckoutRequest, error) {
	var body CreateCheckoutRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}

	body.normalize()
	return &body, nil
}

// NewCreateCheckoutRequestFromStruct reads the gRPC form of the checkout request,
// which carries the same fields as the JSON body.
func NewCreateCheckoutRequestFromStruct(s *structpb.Struct) (*CreateCheckoutRequest, error) {
	if s == nil {
		return nil, errors.New("request body is required")
	}

	raw, err := json.Marshal(s.AsMap())
	if err != nil {
		return nil, err
	}

	var body CreateCheckoutRequest
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, err
	}

	body.normalize()
	return &body, nil
}

func (r *CreateCheckoutRequest) normalize() {
	r.Currency = strings.ToUpper(strings.TrimSpace(r.Currency))
	r.Source = strings.TrimSpace(r.Source)
	r.Provider = strings.ToLower(strings.TrimSpace(r.Provider))
	r.ReturnURL = strings.TrimSpace(r.ReturnURL)
	r.CancelURL = strings.TrimSpace(r.CancelURL)
	r.IdempotencyKey = strings.TrimSpace(r.IdempotencyKey)
	r.Description = strings.TrimSpace(r.Description)
}

func (r *CreateCheckoutRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Amount,
			validation.Required.Error("amount is required"),
			validation.Min(int64(MinDonationAmount)),
			validation.Max(int64(MaxDonationAmount)),
		),
		validation.Field(&r.Currency, validation.Match(currencyPattern).Error("must be a 3-letter currency code")),
		validation.Field(&r.Source, validation.Required, validation.Length(1, maxSourceLength)),
		validation.Field(&r.Provider,
			validation.Required,
			validation.In(string(entity.ProviderPayPay), string(entity.ProviderRakuten)).Error("must be paypay or rakuten"),
		),
		validation.Field(&r.ReturnURL, validation.Required, is.URL),
		validation.Field(&r.CancelURL, validation.Required, is.URL),
		validation.Field(&r.IdempotencyKey, validation.Required, validation.Length(1, maxIdempotencyKeyLength)),
		validation.Field(&r.Description, validation.Length(0, 255)),
	)
}

type GetDonationRequest struct {
	ID string `json:"donation_id"`
}

func (r *GetDonationRequest) GetId() string {
	if r == nil {
		return ""
	}
	return r.ID
}

func NewGetDonationRequestFromContext(ctx echo.Context) (*GetDonationRequest, error) {
	return &GetDonationRequest{ID: strings.TrimSpace(ctx.Param("id"))}, nil
}

func (r *GetDonationRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.ID, validation.Required.Error("donation id is required"), validation.Length(1, 64)),
	)
}

// HandleWebhookRequest carries the untouched request body: signatures are
// computed over the exact bytes the provider sent.
type HandleWebhookRequest struct {
	Provider string
	Headers  http.Header
	Body     []byte
}

func (r *HandleWebhookRequest) GetProvider() string {
	if r == nil {
		return ""
	}
	return r.Provider
}

func (r *HandleWebhookRequest) GetHeaders() http.Header {
	if r == nil {
		return nil
	}
	return r.Headers
}

func (r *HandleWebhookRequest) GetBody() []byte {
	if r == nil {
		return nil
	}
	return r.Body
}

func NewHandleWebhookRequestFromContext(ctx echo.Context) (*HandleWebhookRequest, error) {
	body, err := io.ReadAll(ctx.Request().Body)
	if err != nil {
		return nil, err
	}

	return &HandleWebhookRequest{
		Provider: strings.ToLower(strings.TrimSpace(ctx.Param("provider"))),
		Headers:  ctx.Request().Header.Clone(),
		Body:     body,
	}, nil
}

func (r *HandleWebhookRequest) Validate() error {
	if strings.TrimSpace(r.GetProvider()) == "" {
		return errors.New("provider is required")
	}
	if len(r.GetBody()) == 0 {
		return errors.New("payload is required")
	}
	return nil
}
