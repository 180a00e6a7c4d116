package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-donations/app/entity"
	"github.com/vibast-solutions/ms-go-donations/app/provider"
	"github.com/vibast-solutions/ms-go-donations/app/repository"
)

const (
	webhookOutcomeProcessed          = "processed"
	webhookOutcomeDuplicate          = "duplicate"
	webhookOutcomeInvalidSignature   = "invalid_signature"
	webhookOutcomeInvalidPayload     = "invalid_payload"
	webhookOutcomeUnknownOrder       = "unknown_order"
	webhookOutcomeTransitionRejected = "transition_rejected"
	webhookOutcomeUnavailable        = "provider_unavailable"

	// Shared label for route values that name no known provider.
	unknownProviderLabel = "unknown"
)

type handleWebhookRequest interface {
	GetProvider() string
	GetHeaders() http.Header
	GetBody() []byte
}

// WebhookResult describes what a processed webhook did. Donation is nil when
// the event referenced an unknown order.
type WebhookResult struct {
	Event    *entity.PaymentEvent
	Donation *entity.Donation
	Applied  bool
}

// ProcessWebhook is the only path that changes a donation after creation.
// The event is recorded before the donation is looked up, so orphaned events
// are kept for audit.
func (s *DonationService) ProcessWebhook(ctx context.Context, req handleWebhookRequest) (*WebhookResult, error) {
	providerCode, ok := entity.ParseProvider(req.GetProvider())
	if !ok {
		s.metrics.Webhook(unknownProviderLabel, webhookOutcomeUnavailable)
		return nil, fmt.Errorf("%w: unknown provider %q", ErrProviderUnavailable, req.GetProvider())
	}

	providerClient, err := s.providerReg.Get(providerCode)
	if err != nil {
		s.metrics.Webhook(string(providerCode), webhookOutcomeUnavailable)
		if errors.Is(err, provider.ErrProviderNotSupported) {
			return nil, fmt.Errorf("%w: %s is not configured", ErrProviderUnavailable, providerCode)
		}
		return nil, err
	}

	l := s.logger.WithField("provider", providerCode)

	verification := providerClient.VerifyWebhook(req.GetHeaders(), req.GetBody())
	if !verification.Valid {
		s.metrics.Webhook(string(providerCode), webhookOutcomeInvalidSignature)
		return nil, fmt.Errorf("%w: %s", ErrInvalidSignature, verification.Error)
	}
	if len(verification.Event) == 0 {
		s.metrics.Webhook(string(providerCode), webhookOutcomeInvalidPayload)
		return nil, fmt.Errorf("%w: empty event payload", ErrInvalidPayload)
	}

	normalized := providerClient.NormalizeEvent(verification.Event)
	l = l.WithFields(logrus.Fields{
		"provider_event_id": normalized.ProviderEventID,
		"provider_order_id": normalized.ProviderOrderID,
		"status":            normalized.Status,
	})
	l.Info("Processing webhook event")

	exists, err := s.eventRepo.Exists(ctx, providerCode, normalized.ProviderEventID)
	if err != nil {
		return nil, err
	}
	if exists {
		s.metrics.Webhook(string(providerCode), webhookOutcomeDuplicate)
		return nil, fmt.Errorf("%w: %s/%s", ErrDuplicateEvent, providerCode, normalized.ProviderEventID)
	}

	now := s.now()
	event := &entity.PaymentEvent{
		ID:              newEventID(),
		Provider:        providerCode,
		ProviderEventID: normalized.ProviderEventID,
		ProviderOrderID: normalized.ProviderOrderID,
		Status:          normalized.Status,
		RawPayload:      normalized.RawPayload,
		SignatureValid:  true,
		ReceivedAt:      now,
	}
	if err := s.eventRepo.Create(ctx, event); err != nil {
		if errors.Is(err, repository.ErrEventAlreadyExists) {
			s.metrics.Webhook(string(providerCode), webhookOutcomeDuplicate)
			return nil, fmt.Errorf("%w: %s/%s", ErrDuplicateEvent, providerCode, normalized.ProviderEventID)
		}
		return nil, err
	}

	donation, err := s.donationRepo.FindByProviderOrderID(ctx, providerCode, normalized.ProviderOrderID)
	if err != nil {
		return nil, err
	}
	if donation == nil {
		l.Warn("Donation not found for webhook event")
		s.metrics.Webhook(string(providerCode), webhookOutcomeUnknownOrder)
		return &WebhookResult{Event: event}, nil
	}

	if s.cfg.EnforceStatusLattice && !entity.CanTransition(donation.Status, normalized.Status) {
		l.WithFields(logrus.Fields{
			"donation_id": donation.ID,
			"old_status":  donation.Status,
		}).Warn("Status transition rejected")
		s.metrics.Webhook(string(providerCode), webhookOutcomeTransitionRejected)
		return &WebhookResult{Event: event, Donation: donation}, nil
	}

	var completedAt *time.Time
	if normalized.Status == entity.StatusCompleted {
		completedAt = &now
	}

	updated, err := s.donationRepo.UpdateStatus(ctx, donation.ID, normalized.Status, completedAt)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		l.WithField("donation_id", donation.ID).Warn("Donation disappeared before status update")
		s.metrics.Webhook(string(providerCode), webhookOutcomeUnknownOrder)
		return &WebhookResult{Event: event}, nil
	}

	l.WithFields(logrus.Fields{
		"donation_id": donation.ID,
		"old_status":  donation.Status,
		"new_status":  updated.Status,
	}).Info("Donation status updated from webhook")
	s.metrics.Webhook(string(providerCode), webhookOutcomeProcessed)

	return &WebhookResult{Event: event, Donation: updated, Applied: true}, nil
}
