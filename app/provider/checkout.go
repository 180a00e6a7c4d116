package provider

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vibast-solutions/ms-go-donations/app/entity"
)

const defaultSessionTTL = time.Hour

// hostedCheckout builds provider-hosted checkout sessions: the payer is sent to
// the provider's page for a locally allocated provider order id.
type hostedCheckout struct {
	provider   entity.Provider
	baseURL    string
	path       string
	returnKey  string
	extra      url.Values
	sessionTTL time.Duration
}

func (h hostedCheckout) create(ctx context.Context, input *CheckoutSessionInput) (*CheckoutSessionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if input == nil {
		return nil, errors.New("checkout session input is required")
	}

	base, err := url.Parse(strings.TrimSpace(h.baseURL))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%s checkout base url is invalid: %q", h.provider, h.baseURL)
	}

	ttl := h.sessionTTL
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}

	providerOrderID := string(h.provider) + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]

	query := url.Values{}
	for key, values := range h.extra {
		for _, v := range values {
			if strings.TrimSpace(v) != "" {
				query.Add(key, v)
			}
		}
	}
	query.Set("amount", strconv.FormatInt(input.Amount, 10))
	query.Set("currency", input.Currency)
	query.Set("order_ref", input.OrderID)
	query.Set(h.returnKey, input.ReturnURL)
	if input.CancelURL != "" {
		query.Set("cancel_url", input.CancelURL)
	}
	if input.Description != "" {
		query.Set("description", input.Description)
	}

	redirect := base.JoinPath(h.path, providerOrderID)
	redirect.RawQuery = query.Encode()

	return &CheckoutSessionResult{
		RedirectURL:     redirect.String(),
		ProviderOrderID: providerOrderID,
		ExpiresAt:       time.Now().UTC().Add(ttl),
	}, nil
}
