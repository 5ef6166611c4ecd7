package payment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/athwifi/voucher-api/internal/domain/plan"
	"github.com/athwifi/voucher-api/internal/domain/voucher"
	"github.com/athwifi/voucher-api/internal/pkg/apperr"
	"github.com/athwifi/voucher-api/internal/pkg/email"
	"github.com/athwifi/voucher-api/internal/pkg/paystack"
	"github.com/athwifi/voucher-api/internal/pkg/validator"
)

// Gateway is the payment provider. *paystack.Client implements it.
type Gateway interface {
	Configured() bool
	PublicKey() string
	Currency() string
	Initialize(ctx context.Context, req paystack.InitializeRequest) (*paystack.InitializeData, error)
	Verify(ctx context.Context, reference string) (*paystack.Transaction, error)
}

// Claimer hands out vouchers. *voucher.Service implements it.
type Claimer interface {
	Claim(ctx context.Context, req voucher.ClaimRequest) (*voucher.ClaimResult, error)
	GetByID(ctx context.Context, id int64) (*voucher.Voucher, error)
}

// Ledger stores payment state. *Repository implements it.
type Ledger interface {
	CreatePending(ctx context.Context, p *Payment) error
	GetByReference(ctx context.Context, reference string) (*Payment, error)
	MarkStatus(ctx context.Context, reference string, status Status, providerStatus string) error
	RecordFulfilled(ctx context.Context, p *Payment) error
	List(ctx context.Context, status Status, limit int) ([]Payment, error)
}

// Notifier delivers the credentials out of band. It must not block.
type Notifier interface {
	SendVoucherReceipt(to string, receipt email.VoucherReceipt)
}

// Config holds the URLs used to build provider callbacks.
type Config struct {
	BackendURL string
}

type Service struct {
	gateway  Gateway
	claimer  Claimer
	ledger   Ledger
	notifier Notifier
	config   Config
	now      func() time.Time
}

// NewService wires the payment flow. notifier may be nil.
func NewService(gateway Gateway, claimer Claimer, ledger Ledger, notifier Notifier, cfg Config) *Service {
	return &Service{
		gateway:  gateway,
		claimer:  claimer,
		ledger:   ledger,
		notifier: notifier,
		config:   cfg,
		now:      time.Now,
	}
}

func (s *Service) requireGateway() error {
	if s.gateway == nil || !s.gateway.Configured() {
		return &apperr.ConfigurationError{Setting: "PAYSTACK_SECRET_KEY", Message: "payment provider secret is not configured"}
	}
	return nil
}

// NewReference builds a provider reference like plan_1718000000000_1a2b3c4d.
func (s *Service) NewReference() string {
	return fmt.Sprintf("plan_%d_%s", s.now().UnixMilli(), uuid.NewString()[:8])
}

// Initialize prices the plan, records a pending payment and starts a
// hosted checkout.
func (s *Service) Initialize(ctx context.Context, req InitializeRequest) (*InitializeResponse, error) {
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	req.Phone = strings.TrimSpace(req.Phone)
	if errs := validator.Validate(req); errs != nil {
		return nil, firstInvalid(errs)
	}

	tier, err := plan.ParseTier(req.Plan)
	if err != nil {
		return nil, err
	}
	p := plan.MustLookup(tier)
	if req.Amount != nil && int64(*req.Amount) != p.PriceNaira {
		return nil, apperr.Validation("amount", fmt.Sprintf("%s costs %s", p.Name, plan.FormatNaira(p.PriceNaira)))
	}
	if err := s.requireGateway(); err != nil {
		return nil, err
	}

	payment := &Payment{
		Reference:  s.NewReference(),
		Email:      req.Email,
		PlanTier:   tier,
		AmountKobo: p.PriceKobo(),
	}
	if req.Phone != "" {
		payment.Phone = &req.Phone
	}
	if err := s.ledger.CreatePending(ctx, payment); err != nil {
		return nil, apperr.Store("record pending payment", err)
	}

	data, err := s.gateway.Initialize(ctx, paystack.InitializeRequest{
		Email:       payment.Email,
		AmountKobo:  payment.AmountKobo,
		Reference:   payment.Reference,
		Currency:    s.gateway.Currency(),
		CallbackURL: strings.TrimRight(s.config.BackendURL, "/") + "/api/v1/payments/callback",
		Metadata: &paystack.Metadata{
			Plan:  p.Name,
			Phone: req.Phone,
			CustomFields: []paystack.CustomField{
				{DisplayName: "Plan", VariableName: "plan", Value: p.Name},
				{DisplayName: "Phone", VariableName: "phone", Value: req.Phone},
			},
		},
	})
	if err != nil {
		if markErr := s.ledger.MarkStatus(ctx, payment.Reference, StatusFailed, "initialize_failed"); markErr != nil {
			log.Warn().Err(markErr).Str("reference", payment.Reference).Msg("Failed to mark payment failed")
		}
		var apiErr *paystack.APIError
		if errors.As(err, &apiErr) && apiErr.Unauthorized() {
			log.Error().Err(err).Msg("Paystack rejected the secret key")
			return nil, &apperr.ConfigurationError{Setting: "PAYSTACK_SECRET_KEY", Message: "rejected by the payment provider"}
		}
		return nil, fmt.Errorf("initialize payment: %w", err)
	}

	log.Info().
		Str("reference", payment.Reference).
		Str("tier", string(tier)).
		Int64("amount_kobo", payment.AmountKobo).
		Msg("Payment initialized")

	return &InitializeResponse{
		AuthorizationURL: data.AuthorizationURL,
		AccessCode:       data.AccessCode,
		Reference:        payment.Reference,
		PublicKey:        s.gateway.PublicKey(),
		AmountKobo:       payment.AmountKobo,
		Currency:         s.gateway.Currency(),
	}, nil
}

// Verify re-checks reference with the provider and claims a voucher for
// it. The paid amount and customer come from the provider only. Calling
// it again for the same reference returns the same voucher.
func (s *Service) Verify(ctx context.Context, reference string) (*Receipt, error) {
	reference = strings.TrimSpace(reference)
	if err := validator.ValidateVar(reference, "required,payment_ref"); err != nil {
		return nil, apperr.Validation("reference", "a valid payment reference is required")
	}
	if err := s.requireGateway(); err != nil {
		return nil, err
	}

	row, err := s.ledger.GetByReference(ctx, reference)
	switch {
	case errors.Is(err, ErrPaymentNotFound):
		row = nil
	case err != nil:
		return nil, apperr.Store("load payment", err)
	case row.Fulfilled():
		return s.replay(ctx, row)
	}

	tx, err := s.gateway.Verify(ctx, reference)
	if err != nil {
		reason := "provider verification request failed"
		var apiErr *paystack.APIError
		if errors.As(err, &apiErr) && apiErr.NotFound() {
			reason = "unknown reference"
		}
		return nil, &apperr.ProviderVerificationFailure{Reference: reference, Reason: reason, Err: err}
	}

	if !tx.Succeeded() {
		if isTerminal(tx.Status) {
			s.mark(ctx, row, StatusFailed, tx.Status)
		}
		return nil, &apperr.ProviderVerificationFailure{Reference: reference, Reason: "transaction status is " + tx.Status}
	}
	if !strings.EqualFold(tx.Currency, s.gateway.Currency()) {
		s.mark(ctx, row, StatusFailed, "currency_mismatch")
		return nil, &apperr.ProviderVerificationFailure{
			Reference: reference,
			Reason:    fmt.Sprintf("paid in %q, expected %s", tx.Currency, s.gateway.Currency()),
		}
	}
	if tx.Reference != "" && tx.Reference != reference {
		return nil, &apperr.ProviderVerificationFailure{Reference: reference, Reason: "provider returned a different reference"}
	}
	if tx.AmountKobo <= 0 {
		return nil, &apperr.ProviderVerificationFailure{Reference: reference, Reason: "amount missing"}
	}
	if row != nil && row.AmountKobo != tx.AmountKobo {
		s.mark(ctx, row, StatusFailed, "amount_mismatch")
		return nil, &apperr.ProviderVerificationFailure{
			Reference: reference,
			Reason:    fmt.Sprintf("paid %d kobo, expected %d", tx.AmountKobo, row.AmountKobo),
		}
	}

	customer := strings.TrimSpace(tx.Customer.Email)
	if customer == "" && row != nil {
		customer = row.Email
	}
	if customer == "" {
		return nil, &apperr.ProviderVerificationFailure{Reference: reference, Reason: "customer missing"}
	}

	res, err := s.claimer.Claim(ctx, voucher.ClaimRequest{
		Reference:  reference,
		AmountKobo: tx.AmountKobo,
		Customer:   customer,
	})
	if err != nil {
		switch apperr.KindOf(err) {
		case apperr.KindOutOfStock:
			s.mark(ctx, row, StatusOutOfStock, tx.Status)
			log.Warn().Str("reference", reference).Int64("amount_kobo", tx.AmountKobo).Msg("Paid customer hit empty stock")
		case apperr.KindConfiguration:
			log.Error().Err(err).Str("reference", reference).Int64("amount_kobo", tx.AmountKobo).Msg("Paid amount does not map to a plan")
		}
		return nil, err
	}

	fulfilled := &Payment{
		Reference:      reference,
		Email:          customer,
		PlanTier:       res.Voucher.PlanTier,
		AmountKobo:     tx.AmountKobo,
		ProviderStatus: &tx.Status,
		VoucherID:      &res.Voucher.ID,
	}
	if row != nil {
		fulfilled.Phone = row.Phone
	}
	if err := s.ledger.RecordFulfilled(ctx, fulfilled); err != nil {
		// the voucher row already records the reference, so a replay still works
		log.Error().Err(err).Str("reference", reference).Msg("Failed to record fulfilled payment")
	}

	receipt := buildReceipt(reference, &res.Voucher, res.Replayed)
	if !res.Replayed {
		s.sendReceipt(customer, receipt)
	}
	return receipt, nil
}

// replay answers a fulfilled reference without asking the provider again.
// A purged voucher is reported as expired, never re-claimed.
func (s *Service) replay(ctx context.Context, row *Payment) (*Receipt, error) {
	if row.VoucherID == nil {
		return nil, voucher.ErrClaimExpired
	}
	v, err := s.claimer.GetByID(ctx, *row.VoucherID)
	if errors.Is(err, voucher.ErrVoucherNotFound) {
		return nil, voucher.ErrClaimExpired
	}
	if err != nil {
		return nil, apperr.Store("load fulfilled voucher", err)
	}
	return buildReceipt(row.Reference, v, true), nil
}

// mark records a non-fulfilled outcome for a known payment.
func (s *Service) mark(ctx context.Context, row *Payment, status Status, providerStatus string) {
	if row == nil {
		return
	}
	if err := s.ledger.MarkStatus(ctx, row.Reference, status, providerStatus); err != nil {
		log.Warn().Err(err).Str("reference", row.Reference).Str("status", string(status)).Msg("Failed to update payment status")
	}
}

func (s *Service) sendReceipt(to string, r *Receipt) {
	if s.notifier == nil {
		return
	}
	s.notifier.SendVoucherReceipt(to, email.VoucherReceipt{
		PlanName:  r.Plan.Name,
		Price:     r.Plan.Price,
		Validity:  r.Plan.Validity,
		Username:  r.Voucher.Username,
		Password:  r.Voucher.Password,
		Reference: r.Reference,
	})
}

// List serves the admin reconciliation view.
func (s *Service) List(ctx context.Context, status Status, limit int) ([]Payment, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.ledger.List(ctx, status, limit)
}

func buildReceipt(reference string, v *voucher.Voucher, replayed bool) *Receipt {
	return &Receipt{
		Reference: reference,
		Plan:      summarize(plan.MustLookup(v.PlanTier)),
		Voucher:   v.Credentials(),
		ExpiresAt: v.ExpiresAt(),
		Replayed:  replayed,
	}
}

func firstInvalid(errs map[string]string) error {
	fields := make([]string, 0, len(errs))
	for f := range errs {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return apperr.Validation(fields[0], errs[fields[0]])
}

// isTerminal reports provider states that will never turn into success.
func isTerminal(status string) bool {
	switch status {
	case paystack.StatusFailed, paystack.StatusAbandoned, paystack.StatusReversed:
		return true
	}
	return false
}
