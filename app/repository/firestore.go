package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/vibast-solutions/ms-go-donations/app/entity"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	donationsCollection     = "donations"
	paymentEventsCollection = "payment_events"
)

type firestoreDonation struct {
	ID              string     `firestore:"id"`
	Amount          int64      `firestore:"amount"`
	Currency        string     `firestore:"currency"`
	Provider        string     `firestore:"provider"`
	Status          string     `firestore:"status"`
	Source          string     `firestore:"source"`
	ProviderOrderID string     `firestore:"provider_order_id"`
	IdempotencyKey  string     `firestore:"idempotency_key"`
	RedirectURL     string     `firestore:"redirect_url"`
	ExpiresAt       time.Time  `firestore:"expires_at"`
	CreatedAt       time.Time  `firestore:"created_at"`
	UpdatedAt       time.Time  `firestore:"updated_at"`
	CompletedAt     *time.Time `firestore:"completed_at"`
}

type firestorePaymentEvent struct {
	ID              string                 `firestore:"id"`
	Provider        string                 `firestore:"provider"`
	ProviderEventID string                 `firestore:"provider_event_id"`
	ProviderOrderID string                 `firestore:"provider_order_id"`
	Status          string                 `firestore:"status"`
	RawPayload      map[string]interface{} `firestore:"raw_payload"`
	SignatureValid  bool                   `firestore:"signature_valid"`
	ReceivedAt      time.Time              `firestore:"received_at"`
}

type FirestoreDonationRepository struct {
	client *firestore.Client
}

func NewFirestoreDonationRepository(client *firestore.Client) *FirestoreDonationRepository {
	return &FirestoreDonationRepository{client: client}
}

func (r *FirestoreDonationRepository) collection() *firestore.CollectionRef {
	return r.client.Collection(donationsCollection)
}

// Create checks the provider order id and writes the document in one
// transaction; Create on the document ref rejects a reused donation id.
func (r *FirestoreDonationRepository) Create(ctx context.Context, donation *entity.Donation) error {
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		iter := tx.Documents(r.collection().
			Where("provider", "==", string(donation.Provider)).
			Where("provider_order_id", "==", donation.ProviderOrderID).
			Limit(1))
		defer iter.Stop()

		if _, err := iter.Next(); err == nil {
			return ErrDonationAlreadyExists
		} else if !errors.Is(err, iterator.Done) {
			return err
		}

		return tx.Create(r.collection().Doc(donation.ID), donationToFirestore(donation))
	})
	if status.Code(err) == codes.AlreadyExists {
		return ErrDonationAlreadyExists
	}
	return err
}

func (r *FirestoreDonationRepository) FindByID(ctx context.Context, id string) (*entity.Donation, error) {
	snap, err := r.collection().Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return donationFromSnapshot(snap)
}

func (r *FirestoreDonationRepository) FindByProviderOrderID(ctx context.Context, provider entity.Provider, providerOrderID string) (*entity.Donation, error) {
	return r.first(ctx, r.collection().
		Where("provider", "==", string(provider)).
		Where("provider_order_id", "==", providerOrderID).
		Limit(1))
}

func (r *FirestoreDonationRepository) FindByIdempotencyKey(ctx context.Context, provider entity.Provider, key string) (*entity.Donation, error) {
	return r.first(ctx, r.collection().
		Where("provider", "==", string(provider)).
		Where("idempotency_key", "==", key).
		OrderBy("created_at", firestore.Desc).
		Limit(1))
}

func (r *FirestoreDonationRepository) UpdateStatus(ctx context.Context, id string, newStatus entity.DonationStatus, completedAt *time.Time) (*entity.Donation, error) {
	ref := r.collection().Doc(id)

	var updated *entity.Donation
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		updated = nil

		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return nil
		}
		if err != nil {
			return err
		}

		donation, err := donationFromSnapshot(snap)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		updates := []firestore.Update{
			{Path: "status", Value: string(newStatus)},
			{Path: "updated_at", Value: now},
		}
		donation.Status = newStatus
		donation.UpdatedAt = now
		if completedAt != nil {
			updates = append(updates, firestore.Update{Path: "completed_at", Value: *completedAt})
			t := *completedAt
			donation.CompletedAt = &t
		}

		if err := tx.Update(ref, updates); err != nil {
			return err
		}
		updated = donation
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *FirestoreDonationRepository) first(ctx context.Context, query firestore.Query) (*entity.Donation, error) {
	iter := query.Documents(ctx)
	defer iter.Stop()

	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return donationFromSnapshot(snap)
}

type FirestorePaymentEventRepository struct {
	client *firestore.Client
}

func NewFirestorePaymentEventRepository(client *firestore.Client) *FirestorePaymentEventRepository {
	return &FirestorePaymentEventRepository{client: client}
}

func (r *FirestorePaymentEventRepository) collection() *firestore.CollectionRef {
	return r.client.Collection(paymentEventsCollection)
}

// Create keys the document by (provider, provider event id), so a second
// writer for the same event gets AlreadyExists from Firestore.
func (r *FirestorePaymentEventRepository) Create(ctx context.Context, event *entity.PaymentEvent) error {
	ref := r.collection().Doc(eventDocumentID(event.Provider, event.ProviderEventID))
	_, err := ref.Create(ctx, paymentEventToFirestore(event))
	if status.Code(err) == codes.AlreadyExists {
		return ErrEventAlreadyExists
	}
	return err
}

func (r *FirestorePaymentEventRepository) Exists(ctx context.Context, provider entity.Provider, providerEventID string) (bool, error) {
	_, err := r.collection().Doc(eventDocumentID(provider, providerEventID)).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *FirestorePaymentEventRepository) ListByProviderOrderID(ctx context.Context, provider entity.Provider, providerOrderID string) ([]*entity.PaymentEvent, error) {
	iter := r.collection().
		Where("provider", "==", string(provider)).
		Where("provider_order_id", "==", providerOrderID).
		OrderBy("received_at", firestore.Asc).
		OrderBy("id", firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	events := make([]*entity.PaymentEvent, 0)
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}

		var doc firestorePaymentEvent
		if err := snap.DataTo(&doc); err != nil {
			return nil, err
		}
		events = append(events, paymentEventFromFirestore(&doc))
	}
	return events, nil
}

func eventDocumentID(provider entity.Provider, providerEventID string) string {
	sum := sha256.Sum256([]byte(string(provider) + "\x00" + providerEventID))
	return hex.EncodeToString(sum[:])
}

func donationFromSnapshot(snap *firestore.DocumentSnapshot) (*entity.Donation, error) {
	var doc firestoreDonation
	if err := snap.DataTo(&doc); err != nil {
		return nil, err
	}
	return donationFromFirestore(&doc), nil
}

func donationToFirestore(d *entity.Donation) *firestoreDonation {
	return &firestoreDonation{
		ID:              d.ID,
		Amount:          d.Amount,
		Currency:        d.Currency,
		Provider:        string(d.Provider),
		Status:          string(d.Status),
		Source:          d.Source,
		ProviderOrderID: d.ProviderOrderID,
		IdempotencyKey:  d.IdempotencyKey,
		RedirectURL:     d.RedirectURL,
		ExpiresAt:       d.ExpiresAt,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
		CompletedAt:     d.CompletedAt,
	}
}

func donationFromFirestore(doc *firestoreDonation) *entity.Donation {
	return &entity.Donation{
		ID:              doc.ID,
		Amount:          doc.Amount,
		Currency:        doc.Currency,
		Provider:        entity.Provider(doc.Provider),
		Status:          entity.DonationStatus(doc.Status),
		Source:          doc.Source,
		ProviderOrderID: doc.ProviderOrderID,
		IdempotencyKey:  doc.IdempotencyKey,
		RedirectURL:     doc.RedirectURL,
		ExpiresAt:       doc.ExpiresAt,
		CreatedAt:       doc.CreatedAt,
		UpdatedAt:       doc.UpdatedAt,
		CompletedAt:     doc.CompletedAt,
	}
}

func paymentEventToFirestore(e *entity.PaymentEvent) *firestorePaymentEvent {
	payload := e.RawPayload
	if payload == nil {
		payload = map[string]interface{}{}
	}
	return &firestorePaymentEvent{
		ID:              e.ID,
		Provider:        string(e.Provider),
		ProviderEventID: e.ProviderEventID,
		ProviderOrderID: e.ProviderOrderID,
		Status:          string(e.Status),
		RawPayload:      payload,
		SignatureValid:  e.SignatureValid,
		ReceivedAt:      e.ReceivedAt,
	}
}

func paymentEventFromFirestore(doc *firestorePaymentEvent) *entity.PaymentEvent {
	return &entity.PaymentEvent{
		ID:              doc.ID,
		Provider:        entity.Provider(doc.Provider),
		ProviderEventID: doc.ProviderEventID,
		ProviderOrderID: doc.ProviderOrderID,
		Status:          entity.DonationStatus(doc.Status),
		RawPayload:      doc.RawPayload,
		SignatureValid:  doc.SignatureValid,
		ReceivedAt:      doc.ReceivedAt,
	}
}
