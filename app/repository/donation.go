package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/vibast-solutions/ms-go-donations/app/entity"
)

var ErrDonationAlreadyExists = errors.New("donation already exists")

const donationColumns = `id, amount, currency, provider, status, source,
			provider_order_id, idempotency_key, redirect_url, expires_at,
			created_at, updated_at, completed_at`

type DonationRepository struct {
	db DBTX
}

func NewDonationRepository(db DBTX) *DonationRepository {
	return &DonationRepository{db: db}
}

func (r *DonationRepository) Create(ctx context.Context, donation *entity.Donation) error {
	query := `
		INSERT INTO donations (` + donationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		donation.ID,
		donation.Amount,
		donation.Currency,
		string(donation.Provider),
		string(donation.Status),
		donation.Source,
		donation.ProviderOrderID,
		donation.IdempotencyKey,
		donation.RedirectURL,
		donation.ExpiresAt,
		donation.CreatedAt,
		donation.UpdatedAt,
		nullableTimeValue(donation.CompletedAt),
	)
	if err != nil {
		if isDuplicateEntryError(err) {
			return ErrDonationAlreadyExists
		}
		return err
	}

	return nil
}

func (r *DonationRepository) FindByID(ctx context.Context, id string) (*entity.Donation, error) {
	query := `
		SELECT ` + donationColumns + `
		FROM donations
		WHERE id = ?
	`

	return r.findOne(ctx, query, id)
}

func (r *DonationRepository) FindByProviderOrderID(ctx context.Context, provider entity.Provider, providerOrderID string) (*entity.Donation, error) {
	query := `
		SELECT ` + donationColumns + `
		FROM donations
		WHERE provider = ? AND provider_order_id = ?
		LIMIT 1
	`

	return r.findOne(ctx, query, string(provider), providerOrderID)
}

func (r *DonationRepository) FindByIdempotencyKey(ctx context.Context, provider entity.Provider, key string) (*entity.Donation, error) {
	query := `
		SELECT ` + donationColumns + `
		FROM donations
		WHERE provider = ? AND idempotency_key = ?
		ORDER BY created_at DESC
		LIMIT 1
	`

	return r.findOne(ctx, query, string(provider), key)
}

// UpdateStatus returns (nil, nil) when the donation does not exist. A nil
// completedAt keeps the stored completion time.
func (r *DonationRepository) UpdateStatus(ctx context.Context, id string, status entity.DonationStatus, completedAt *time.Time) (*entity.Donation, error) {
	query := `
		UPDATE donations SET
			status = ?,
			completed_at = COALESCE(?, completed_at),
			updated_at = ?
		WHERE id = ?
	`

	if _, err := r.db.ExecContext(ctx, query,
		string(status),
		nullableTimeValue(completedAt),
		time.Now().UTC(),
		id,
	); err != nil {
		return nil, err
	}

	return r.FindByID(ctx, id)
}

func (r *DonationRepository) findOne(ctx context.Context, query string, args ...interface{}) (*entity.Donation, error) {
	donation, err := scanDonation(r.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return donation, nil
}

func scanDonation(row rowScanner) (*entity.Donation, error) {
	var (
		donation    entity.Donation
		provider    string
		status      string
		completedAt sql.NullTime
	)

	if err := row.Scan(
		&donation.ID,
		&donation.Amount,
		&donation.Currency,
		&provider,
		&status,
		&donation.Source,
		&donation.ProviderOrderID,
		&donation.IdempotencyKey,
		&donation.RedirectURL,
		&donation.ExpiresAt,
		&donation.CreatedAt,
		&donation.UpdatedAt,
		&completedAt,
	); err != nil {
		return nil, err
	}

	donation.Provider = entity.Provider(provider)
	donation.Status = entity.DonationStatus(status)
	donation.CompletedAt = timePtrFromNull(completedAt)
	return &donation, nil
}
