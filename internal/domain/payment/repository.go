package payment

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

const paymentColumns = `id, reference, email, phone, plan_tier, amount_kobo, status,
	provider_status, voucher_id, created_at, updated_at`

// Repository is the payments ledger.
type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// CreatePending records an initialized payment.
func (r *Repository) CreatePending(ctx context.Context, p *Payment) error {
	return r.db.GetContext(ctx, p, `
		INSERT INTO payments (reference, email, phone, plan_tier, amount_kobo, status)
		VALUES ($1, $2, $3, $4, $5, 'pending')
		RETURNING `+paymentColumns,
		p.Reference, p.Email, p.Phone, string(p.PlanTier), p.AmountKobo)
}

func (r *Repository) GetByReference(ctx context.Context, reference string) (*Payment, error) {
	var p Payment
	err := r.db.GetContext(ctx, &p, `SELECT `+paymentColumns+` FROM payments WHERE reference = $1`, reference)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// MarkStatus moves a payment that has not been fulfilled. Fulfilled rows
// are final.
func (r *Repository) MarkStatus(ctx context.Context, reference string, status Status, providerStatus string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE payments
		SET status = $2, provider_status = NULLIF($3, ''), updated_at = now()
		WHERE reference = $1 AND status <> 'fulfilled'
	`, reference, string(status), providerStatus)
	return err
}

// RecordFulfilled links the reference to its voucher. Payments started
// outside this API have no pending row yet, so the row is upserted.
func (r *Repository) RecordFulfilled(ctx context.Context, p *Payment) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO payments (reference, email, phone, plan_tier, amount_kobo, status, provider_status, voucher_id)
		VALUES ($1, $2, $3, $4, $5, 'fulfilled', $6, $7)
		ON CONFLICT (reference) DO UPDATE
		SET status = 'fulfilled',
			provider_status = EXCLUDED.provider_status,
			voucher_id = EXCLUDED.voucher_id,
			updated_at = now()
	`, p.Reference, p.Email, p.Phone, string(p.PlanTier), p.AmountKobo, p.ProviderStatus, p.VoucherID)
	return err
}

// List returns recent payments, optionally filtered by status.
func (r *Repository) List(ctx context.Context, status Status, limit int) ([]Payment, error) {
	items := []Payment{}
	var err error
	if status == "" {
		err = r.db.SelectContext(ctx, &items, `SELECT `+paymentColumns+` FROM payments ORDER BY created_at DESC LIMIT $1`, limit)
	} else {
		err = r.db.SelectContext(ctx, &items, `SELECT `+paymentColumns+` FROM payments WHERE status = $1 ORDER BY created_at DESC LIMIT $2`, string(status), limit)
	}
	return items, err
}
