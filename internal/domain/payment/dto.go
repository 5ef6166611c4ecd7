package payment

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"

	"github.com/athwifi/voucher-api/internal/domain/plan"
	"github.com/athwifi/voucher-api/internal/domain/voucher"
	"github.com/athwifi/voucher-api/internal/pkg/errorhandler"
)

// NairaAmount accepts 1500, "1500" or "₦1,500".
type NairaAmount int64

func (a *NairaAmount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		v, err := plan.ParseNairaAmount(s)
		if err != nil {
			return err
		}
		*a = NairaAmount(v)
		return nil
	}
	v, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return err
	}
	*a = NairaAmount(v)
	return nil
}

// InitializeRequest is the body of POST /payments/initialize.
type InitializeRequest struct {
	Email  string       `json:"email" validate:"required,email,max=254"`
	Phone  string       `json:"phone" validate:"ng_phone"`
	Plan   string       `json:"plan" validate:"required,max=64"`
	Amount *NairaAmount `json:"amount,omitempty"`
}

// InitializeResponse tells the browser where to pay.
type InitializeResponse struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
	PublicKey        string `json:"public_key,omitempty"`
	AmountKobo       int64  `json:"amount"`
	Currency         string `json:"currency"`
}

// PlanSummary is the plan part of a receipt.
type PlanSummary struct {
	Tier     plan.Tier `json:"tier"`
	Name     string    `json:"name"`
	Price    string    `json:"price"`
	Validity string    `json:"validity"`
}

func summarize(p plan.Plan) PlanSummary {
	return PlanSummary{Tier: p.Tier, Name: p.Name, Price: plan.FormatNaira(p.PriceNaira), Validity: p.ValidityLabel}
}

// Receipt is the success variant of a verification.
type Receipt struct {
	Reference string              `json:"reference"`
	Plan      PlanSummary         `json:"plan"`
	Voucher   voucher.Credentials `json:"voucher"`
	ExpiresAt *time.Time          `json:"expires_at,omitempty"`
	Replayed  bool                `json:"replayed"`
}

// Failure is the failure variant. Kind is one of the errorhandler codes:
// invalid_request, payment_not_verified, sold_out, try_again or
// contact_support.
type Failure struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// VerifyResult holds exactly one of Receipt or Failure.
type VerifyResult struct {
	Receipt *Receipt
	Failure *Failure
}

// ResultOf folds the outcome of Service.Verify into a VerifyResult.
func ResultOf(receipt *Receipt, err error) VerifyResult {
	if err != nil {
		m := errorhandler.Map(err)
		return VerifyResult{Failure: &Failure{Kind: m.Code, Message: m.Message}}
	}
	return VerifyResult{Receipt: receipt}
}
