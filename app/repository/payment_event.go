package repository

import (
	"context"
	"errors"

	"github.com/vibast-solutions/ms-go-donations/app/entity"
)

// ErrEventAlreadyExists is returned when (provider, provider_event_id) has
// already been recorded.
var ErrEventAlreadyExists = errors.New("payment event already exists")

type PaymentEventRepository struct {
	db DBTX
}

func NewPaymentEventRepository(db DBTX) *PaymentEventRepository {
	return &PaymentEventRepository{db: db}
}

func (r *PaymentEventRepository) Create(ctx context.Context, event *entity.PaymentEvent) error {
	payloadJSON, err := serializePayload(event.RawPayload)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO payment_events (
			id, provider, provider_event_id, provider_order_id, status,
			raw_payload, signature_valid, received_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, query,
		event.ID,
		string(event.Provider),
		event.ProviderEventID,
		event.ProviderOrderID,
		string(event.Status),
		payloadJSON,
		event.SignatureValid,
		event.ReceivedAt,
	)
	if err != nil {
		if isDuplicateEntryError(err) {
			return ErrEventAlreadyExists
		}
		return err
	}

	return nil
}

func (r *PaymentEventRepository) Exists(ctx context.Context, provider entity.Provider, providerEventID string) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM payment_events WHERE provider = ? AND provider_event_id = ?
		)
	`

	var exists bool
	if err := r.db.QueryRowContext(ctx, query, string(provider), providerEventID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (r *PaymentEventRepository) ListByProviderOrderID(ctx context.Context, provider entity.Provider, providerOrderID string) ([]*entity.PaymentEvent, error) {
	query := `
		SELECT id, provider, provider_event_id, provider_order_id, status,
			raw_payload, signature_valid, received_at
		FROM payment_events
		WHERE provider = ? AND provider_order_id = ?
		ORDER BY received_at ASC, id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, string(provider), providerOrderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]*entity.PaymentEvent, 0)
	for rows.Next() {
		item, err := scanPaymentEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return events, nil
}

func scanPaymentEvent(row rowScanner) (*entity.PaymentEvent, error) {
	var (
		event       entity.PaymentEvent
		provider    string
		status      string
		payloadJSON string
	)

	if err := row.Scan(
		&event.ID,
		&provider,
		&event.ProviderEventID,
		&event.ProviderOrderID,
		&status,
		&payloadJSON,
		&event.SignatureValid,
		&event.ReceivedAt,
	); err != nil {
		return nil, err
	}

	payload, err := parsePayload(payloadJSON)
	if err != nil {
		return nil, err
	}

	event.Provider = entity.Provider(provider)
	event.Status = entity.DonationStatus(status)
	event.RawPayload = payload
	return &event, nil
}
