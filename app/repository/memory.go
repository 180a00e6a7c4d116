package repository

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/vibast-solutions/ms-go-donations/app/entity"
)

type providerKey struct {
	provider entity.Provider
	value    string
}

// MemoryDonationRepository keeps donations in process memory. It is used in
// sandbox mode and tests; every read and write works on copies.
type MemoryDonationRepository struct {
	mu      sync.RWMutex
	byID    map[string]*entity.Donation
	byOrder map[providerKey]string
}

func NewMemoryDonationRepository() *MemoryDonationRepository {
	return &MemoryDonationRepository{
		byID:    make(map[string]*entity.Donation),
		byOrder: make(map[providerKey]string),
	}
}

func (r *MemoryDonationRepository) Create(_ context.Context, donation *entity.Donation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	orderKey := providerKey{provider: donation.Provider, value: donation.ProviderOrderID}
	if _, ok := r.byID[donation.ID]; ok {
		return ErrDonationAlreadyExists
	}
	if _, ok := r.byOrder[orderKey]; ok {
		return ErrDonationAlreadyExists
	}

	r.byID[donation.ID] = cloneDonation(donation)
	r.byOrder[orderKey] = donation.ID
	return nil
}

func (r *MemoryDonationRepository) FindByID(_ context.Context, id string) (*entity.Donation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return cloneDonation(r.byID[id]), nil
}

func (r *MemoryDonationRepository) FindByProviderOrderID(_ context.Context, provider entity.Provider, providerOrderID string) (*entity.Donation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byOrder[providerKey{provider: provider, value: providerOrderID}]
	if !ok {
		return nil, nil
	}
	return cloneDonation(r.byID[id]), nil
}

func (r *MemoryDonationRepository) FindByIdempotencyKey(_ context.Context, provider entity.Provider, key string) (*entity.Donation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var newest *entity.Donation
	for _, d := range r.byID {
		if d.Provider != provider || d.IdempotencyKey != key {
			continue
		}
		if newest == nil || d.CreatedAt.After(newest.CreatedAt) {
			newest = d
		}
	}
	return cloneDonation(newest), nil
}

func (r *MemoryDonationRepository) UpdateStatus(_ context.Context, id string, status entity.DonationStatus, completedAt *time.Time) (*entity.Donation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	donation, ok := r.byID[id]
	if !ok {
		return nil, nil
	}

	donation.Status = status
	donation.UpdatedAt = time.Now().UTC()
	if completedAt != nil {
		t := *completedAt
		donation.CompletedAt = &t
	}
	return cloneDonation(donation), nil
}

type MemoryPaymentEventRepository struct {
	mu     sync.Mutex
	events map[providerKey]*entity.PaymentEvent
}

func NewMemoryPaymentEventRepository() *MemoryPaymentEventRepository {
	return &MemoryPaymentEventRepository{events: make(map[providerKey]*entity.PaymentEvent)}
}

func (r *MemoryPaymentEventRepository) Create(_ context.Context, event *entity.PaymentEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := providerKey{provider: event.Provider, value: event.ProviderEventID}
	if _, ok := r.events[key]; ok {
		return ErrEventAlreadyExists
	}
	r.events[key] = clonePaymentEvent(event)
	return nil
}

func (r *MemoryPaymentEventRepository) Exists(_ context.Context, provider entity.Provider, providerEventID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.events[providerKey{provider: provider, value: providerEventID}]
	return ok, nil
}

func (r *MemoryPaymentEventRepository) ListByProviderOrderID(_ context.Context, provider entity.Provider, providerOrderID string) ([]*entity.PaymentEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	events := make([]*entity.PaymentEvent, 0)
	for _, e := range r.events {
		if e.Provider == provider && e.ProviderOrderID == providerOrderID {
			events = append(events, clonePaymentEvent(e))
		}
	}
	slices.SortFunc(events, func(a, b *entity.PaymentEvent) int {
		if c := a.ReceivedAt.Compare(b.ReceivedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return events, nil
}

func cloneDonation(d *entity.Donation) *entity.Donation {
	if d == nil {
		return nil
	}
	out := *d
	if d.CompletedAt != nil {
		t := *d.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}

func clonePaymentEvent(e *entity.PaymentEvent) *entity.PaymentEvent {
	if e == nil {
		return nil
	}
	out := *e
	out.RawPayload = clonePayload(e.RawPayload)
	return &out
}
