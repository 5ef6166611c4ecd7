package payment

import (
	"time"

	"github.com/athwifi/voucher-api/internal/domain/plan"
)

// Status of a payment in the ledger.
type Status string

const (
	StatusPending    Status = "pending"
	StatusFulfilled  Status = "fulfilled"
	StatusOutOfStock Status = "out_of_stock"
	StatusFailed     Status = "failed"
)

// Payment is one ledger row, keyed by the provider reference.
type Payment struct {
	ID             int64     `db:"id" json:"id"`
	Reference      string    `db:"reference" json:"reference"`
	Email          string    `db:"email" json:"email"`
	Phone          *string   `db:"phone" json:"phone,omitempty"`
	PlanTier       plan.Tier `db:"plan_tier" json:"plan_tier"`
	AmountKobo     int64     `db:"amount_kobo" json:"amount_kobo"`
	Status         Status    `db:"status" json:"status"`
	ProviderStatus *string   `db:"provider_status" json:"provider_status,omitempty"`
	VoucherID      *int64    `db:"voucher_id" json:"voucher_id,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// Fulfilled reports whether the reference already claimed a voucher. It
// stays true after the voucher is purged and VoucherID is cleared.
func (p *Payment) Fulfilled() bool {
	return p.Status == StatusFulfilled
}
