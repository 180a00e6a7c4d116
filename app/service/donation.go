package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Yiling-J/theine-go"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-donations/app/entity"
	"github.com/vibast-solutions/ms-go-donations/app/factory"
	"github.com/vibast-solutions/ms-go-donations/app/metrics"
	"github.com/vibast-solutions/ms-go-donations/app/provider"
	"github.com/vibast-solutions/ms-go-donations/config"
	"golang.org/x/sync/singleflight"
)

const defaultIdempotencyCacheSize = 10000

type createCheckoutRequest interface {
	GetAmount() int64
	GetCurrency() string
	GetSource() string
	GetProvider() entity.Provider
	GetReturnUrl() string
	GetCancelUrl() string
	GetIdempotencyKey() string
	GetDescription() string
}

type donationRepository interface {
	Create(ctx context.Context, donation *entity.Donation) error
	FindByID(ctx context.Context, id string) (*entity.Donation, error)
	FindByProviderOrderID(ctx context.Context, provider entity.Provider, providerOrderID string) (*entity.Donation, error)
	FindByIdempotencyKey(ctx context.Context, provider entity.Provider, key string) (*entity.Donation, error)
	UpdateStatus(ctx context.Context, id string, status entity.DonationStatus, completedAt *time.Time) (*entity.Donation, error)
}

type paymentEventRepository interface {
	Create(ctx context.Context, event *entity.PaymentEvent) error
	Exists(ctx context.Context, provider entity.Provider, providerEventID string) (bool, error)
	ListByProviderOrderID(ctx context.Context, provider entity.Provider, providerOrderID string) ([]*entity.PaymentEvent, error)
}

// CheckoutResult is a created donation, or the one an idempotent replay resolved to.
type CheckoutResult struct {
	Donation *entity.Donation
	Replayed bool
}

type DonationService struct {
	donationRepo donationRepository
	eventRepo    paymentEventRepository
	providerReg  *provider.Registry
	cfg          config.DonationsConfig
	metrics      *metrics.Metrics
	logger       logrus.FieldLogger

	checkoutGroup    singleflight.Group
	idempotencyCache *theine.Cache[string, string]

	now func() time.Time
}

func NewDonationService(
	donationRepo donationRepository,
	eventRepo paymentEventRepository,
	providerReg *provider.Registry,
	cfg config.DonationsConfig,
	m *metrics.Metrics,
) (*DonationService, error) {
	if strings.TrimSpace(cfg.DefaultCurrency) == "" {
		cfg.DefaultCurrency = "JPY"
	}
	cacheSize := cfg.IdempotencyCacheSize
	if cacheSize <= 0 {
		cacheSize = defaultIdempotencyCacheSize
	}

	cache, err := theine.NewBuilder[string, string](int64(cacheSize)).Build()
	if err != nil {
		return nil, fmt.Errorf("could not build idempotency cache: %w", err)
	}

	return &DonationService{
		donationRepo:     donationRepo,
		eventRepo:        eventRepo,
		providerReg:      providerReg,
		cfg:              cfg,
		metrics:          m,
		logger:           factory.NewModuleLogger("donations-service"),
		idempotencyCache: cache,
		now:              func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *DonationService) Providers() []entity.Provider {
	return s.providerReg.Codes()
}

func (s *DonationService) CreateCheckout(ctx context.Context, req createCheckoutRequest) (*CheckoutResult, error) {
	if req.GetAmount() <= 0 || strings.TrimSpace(req.GetSource()) == "" {
		return nil, ErrInvalidRequest
	}

	providerCode := req.GetProvider()
	providerClient, err := s.providerReg.Get(providerCode)
	if err != nil {
		s.metrics.Checkout(string(providerCode), "provider_unavailable")
		if errors.Is(err, provider.ErrProviderNotSupported) {
			return nil, fmt.Errorf("%w: %s is not configured", ErrProviderUnavailable, providerCode)
		}
		return nil, err
	}

	key := strings.TrimSpace(req.GetIdempotencyKey())
	if key == "" || s.cfg.IdempotencyWindow <= 0 {
		return s.createCheckout(ctx, providerClient, req)
	}

	cacheKey := idempotencyCacheKey(providerCode, key)
	value, err, _ := s.checkoutGroup.Do(cacheKey, func() (interface{}, error) {
		existing, err := s.findReplay(ctx, providerCode, key)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return &CheckoutResult{Donation: existing, Replayed: true}, nil
		}
		return s.createCheckout(ctx, providerClient, req)
	})
	if err != nil {
		return nil, err
	}

	result := value.(*CheckoutResult)
	if result.Donation.Amount != req.GetAmount() || result.Donation.Source != strings.TrimSpace(req.GetSource()) {
		s.metrics.Checkout(string(providerCode), "idempotency_conflict")
		return nil, ErrIdempotencyConflict
	}
	if result.Replayed {
		s.metrics.Checkout(string(providerCode), "replayed")
		s.logger.WithFields(logrus.Fields{
			"donation_id":     result.Donation.ID,
			"provider":        providerCode,
			"idempotency_key": key,
		}).Info("Checkout replayed from idempotency key")
	}

	return result, nil
}

func (s *DonationService) createCheckout(ctx context.Context, providerClient provider.Provider, req createCheckoutRequest) (*CheckoutResult, error) {
	providerCode := providerClient.Code()
	currency := strings.ToUpper(strings.TrimSpace(req.GetCurrency()))
	if currency == "" {
		currency = s.cfg.DefaultCurrency
	}
	source := strings.TrimSpace(req.GetSource())
	description := strings.TrimSpace(req.GetDescription())
	if description == "" {
		description = "Donation - " + source
	}

	donationID := newDonationID()
	l := s.logger.WithFields(logrus.Fields{
		"donation_id": donationID,
		"provider":    providerCode,
		"amount":      req.GetAmount(),
		"source":      source,
	})
	l.Info("Creating checkout session")

	session, err := providerClient.CreateCheckoutSession(ctx, &provider.CheckoutSessionInput{
		Amount:      req.GetAmount(),
		Currency:    currency,
		OrderID:     donationID,
		ReturnURL:   strings.TrimSpace(req.GetReturnUrl()),
		CancelURL:   strings.TrimSpace(req.GetCancelUrl()),
		Description: description,
	})
	if err != nil {
		l.WithError(err).Error("Provider error during checkout creation")
		s.metrics.Checkout(string(providerCode), "provider_error")
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	now := s.now()
	donation := &entity.Donation{
		ID:              donationID,
		Amount:          req.GetAmount(),
		Currency:        currency,
		Provider:        providerCode,
		Status:          entity.StatusPending,
		Source:          source,
		ProviderOrderID: session.ProviderOrderID,
		IdempotencyKey:  strings.TrimSpace(req.GetIdempotencyKey()),
		RedirectURL:     session.RedirectURL,
		ExpiresAt:       session.ExpiresAt.UTC(),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.donationRepo.Create(ctx, donation); err != nil {
		s.metrics.Checkout(string(providerCode), "store_error")
		return nil, err
	}

	if donation.IdempotencyKey != "" && s.cfg.IdempotencyWindow > 0 {
		s.idempotencyCache.SetWithTTL(idempotencyCacheKey(providerCode, donation.IdempotencyKey), donation.ID, 1, s.cfg.IdempotencyWindow)
	}

	s.metrics.Checkout(string(providerCode), "created")
	l.WithField("provider_order_id", donation.ProviderOrderID).Info("Checkout session created")

	return &CheckoutResult{Donation: donation}, nil
}

// findReplay returns the donation created for (provider, key) inside the
// idempotency window, if any.
func (s *DonationService) findReplay(ctx context.Context, providerCode entity.Provider, key string) (*entity.Donation, error) {
	cacheKey := idempotencyCacheKey(providerCode, key)
	if id, ok := s.idempotencyCache.Get(cacheKey); ok {
		donation, err := s.donationRepo.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if donation != nil && s.withinWindow(donation) {
			return donation, nil
		}
	}

	donation, err := s.donationRepo.FindByIdempotencyKey(ctx, providerCode, key)
	if err != nil {
		return nil, err
	}
	if donation == nil || !s.withinWindow(donation) {
		return nil, nil
	}

	if remaining := s.cfg.IdempotencyWindow - s.now().Sub(donation.CreatedAt); remaining > 0 {
		s.idempotencyCache.SetWithTTL(cacheKey, donation.ID, 1, remaining)
	}
	return donation, nil
}

func (s *DonationService) withinWindow(donation *entity.Donation) bool {
	return s.now().Sub(donation.CreatedAt) <= s.cfg.IdempotencyWindow
}

func (s *DonationService) GetDonation(ctx context.Context, id string) (*entity.Donation, error) {
	donation, err := s.donationRepo.FindByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, err
	}
	if donation == nil {
		return nil, ErrDonationNotFound
	}
	return donation, nil
}

// ListDonationEvents returns the donation with every webhook event recorded
// for its provider order, oldest first.
func (s *DonationService) ListDonationEvents(ctx context.Context, id string) (*entity.Donation, []*entity.PaymentEvent, error) {
	donation, err := s.GetDonation(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	events, err := s.eventRepo.ListByProviderOrderID(ctx, donation.Provider, donation.ProviderOrderID)
	if err != nil {
		return nil, nil, err
	}
	return donation, events, nil
}

func idempotencyCacheKey(providerCode entity.Provider, key string) string {
	return string(providerCode) + "\x00" + key
}

func newDonationID() string {
	return "don_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

func newEventID() string {
	return "evt_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}
