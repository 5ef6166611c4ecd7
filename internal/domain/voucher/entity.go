package voucher

import (
	"time"

	"github.com/athwifi/voucher-api/internal/domain/plan"
)

// Voucher is one pre-generated hotspot credential.
type Voucher struct {
	ID               int64      `db:"id" json:"id"`
	Username         string     `db:"username" json:"username"`
	Password         string     `db:"password" json:"password"`
	PlanTier         plan.Tier  `db:"plan_tier" json:"plan_tier"`
	Consumed         bool       `db:"consumed" json:"consumed"`
	SoldAt           *time.Time `db:"sold_at" json:"sold_at,omitempty"`
	AssignedTo       *string    `db:"assigned_to" json:"assigned_to,omitempty"`
	PaymentReference *string    `db:"payment_reference" json:"payment_reference,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
}

// ExpiresAt is when a sold voucher stops being valid. Unsold vouchers
// never expire.
func (v *Voucher) ExpiresAt() *time.Time {
	if v.SoldAt == nil {
		return nil
	}
	p, ok := plan.Lookup(v.PlanTier)
	if !ok {
		return nil
	}
	t := p.ExpiresAt(*v.SoldAt)
	return &t
}

// Credentials is what the customer gets back.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (v *Voucher) Credentials() Credentials {
	return Credentials{Username: v.Username, Password: v.Password}
}

// ClaimParams is the input of the claim transaction. Tier must already be
// resolved from the verified amount.
type ClaimParams struct {
	Reference string
	Tier      plan.Tier
	Customer  string
	SoldAt    time.Time
}

// ClaimResult is a claimed voucher. Replayed is set when the reference had
// already claimed it and nothing was mutated.
type ClaimResult struct {
	Voucher  Voucher
	Replayed bool
}

// ClaimRequest is a verified payment handed to Service.Claim.
type ClaimRequest struct {
	Reference  string
	AmountKobo int64
	Customer   string
}

// ListFilter narrows the admin listing.
type ListFilter struct {
	Tier     plan.Tier
	Consumed *bool
	Search   string
	Page     int
	Limit    int
}

func (f *ListFilter) normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 || f.Limit > 200 {
		f.Limit = 50
	}
}

// TierStock is the inventory state of one tier.
type TierStock struct {
	Tier      plan.Tier `db:"plan_tier" json:"tier"`
	Available int       `db:"available" json:"available"`
	Consumed  int       `db:"consumed" json:"consumed"`
}

// ImportItem is one row of a bulk load. Plan accepts the tier code or the
// display name.
type ImportItem struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Plan     string `json:"plan"`
}

// ImportReject explains why a row was not loaded.
type ImportReject struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

type ImportResult struct {
	Inserted int            `json:"inserted"`
	Skipped  int            `json:"skipped"`
	Rejected []ImportReject `json:"rejected,omitempty"`
}

// PurgeResult lists what a purge removed.
type PurgeResult struct {
	Deleted   int      `json:"deleted"`
	Usernames []string `json:"usernames"`
}
