package voucher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/athwifi/voucher-api/internal/domain/plan"
	"github.com/athwifi/voucher-api/internal/domain/provisioning"
	"github.com/athwifi/voucher-api/internal/pkg/apperr"
)

// Publisher receives inventory changes after they commit.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

type Service struct {
	repo   *Repository
	events Publisher
	waker  provisioning.Waker
	now    func() time.Time
}

// NewService creates the inventory service. events may be nil.
func NewService(repo *Repository, events Publisher) *Service {
	return &Service{repo: repo, events: events, now: time.Now}
}

// WithWaker makes committed router jobs visible to the provisioning
// worker immediately instead of on its next poll.
func (s *Service) WithWaker(w provisioning.Waker) *Service {
	s.waker = w
	return s
}

// Claim resolves the paid amount to a tier and claims one voucher for
// the reference. Replaying a reference returns the voucher it already
// claimed.
func (s *Service) Claim(ctx context.Context, req ClaimRequest) (*ClaimResult, error) {
	req.Reference = strings.TrimSpace(req.Reference)
	req.Customer = strings.TrimSpace(req.Customer)
	if req.Reference == "" {
		return nil, apperr.Validation("reference", "is required")
	}
	if req.Customer == "" {
		return nil, apperr.Validation("customer", "is required")
	}

	tier, err := plan.TierForAmountKobo(req.AmountKobo)
	if err != nil {
		return nil, err
	}

	res, err := s.repo.Claim(ctx, ClaimParams{
		Reference: req.Reference,
		Tier:      tier,
		Customer:  req.Customer,
		SoldAt:    s.now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	if !res.Replayed {
		log.Info().
			Str("reference", req.Reference).
			Str("tier", string(tier)).
			Int64("voucher_id", res.Voucher.ID).
			Msg("Voucher claimed")
		s.publish(ctx, Event{Type: EventClaimed, Tier: tier, Count: 1})
		s.wake(ctx)
	}
	return res, nil
}

func (s *Service) GetByReference(ctx context.Context, reference string) (*Voucher, error) {
	return s.repo.GetByReference(ctx, reference)
}

func (s *Service) GetByID(ctx context.Context, id int64) (*Voucher, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, f ListFilter) ([]Voucher, int, error) {
	return s.repo.List(ctx, f)
}

// Stock returns one entry per catalog tier, in catalog order, including
// tiers with no vouchers loaded.
func (s *Service) Stock(ctx context.Context) ([]TierStock, error) {
	rows, err := s.repo.Stock(ctx)
	if err != nil {
		return nil, err
	}
	byTier := make(map[plan.Tier]TierStock, len(rows))
	for _, row := range rows {
		byTier[row.Tier] = row
	}

	out := make([]TierStock, 0, len(plan.Tiers()))
	for _, tier := range plan.Tiers() {
		row := byTier[tier]
		row.Tier = tier
		out = append(out, row)
	}
	return out, nil
}

// AvailableByTier serves the public catalog.
func (s *Service) AvailableByTier(ctx context.Context) (map[plan.Tier]int, error) {
	stock, err := s.Stock(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[plan.Tier]int, len(stock))
	for _, row := range stock {
		out[row.Tier] = row.Available
	}
	return out, nil
}

// Import validates and loads a batch. Invalid rows are rejected
// individually; existing usernames are skipped.
func (s *Service) Import(ctx context.Context, items []ImportItem) (*ImportResult, error) {
	if len(items) == 0 {
		return nil, apperr.Validation("items", "batch is empty")
	}

	res := &ImportResult{}
	seen := make(map[string]bool, len(items))
	valid := make([]Voucher, 0, len(items))
	for i, item := range items {
		username := strings.TrimSpace(item.Username)
		password := strings.TrimSpace(item.Password)
		switch {
		case username == "":
			res.Rejected = append(res.Rejected, ImportReject{Index: i, Reason: "username is required"})
			continue
		case password == "":
			res.Rejected = append(res.Rejected, ImportReject{Index: i, Reason: "password is required"})
			continue
		case seen[username]:
			res.Rejected = append(res.Rejected, ImportReject{Index: i, Reason: "duplicate username in batch"})
			continue
		}
		tier, err := plan.ParseTier(item.Plan)
		if err != nil {
			res.Rejected = append(res.Rejected, ImportReject{Index: i, Reason: fmt.Sprintf("unknown plan %q", item.Plan)})
			continue
		}
		seen[username] = true
		valid = append(valid, Voucher{Username: username, Password: password, PlanTier: tier})
	}

	if len(valid) > 0 {
		inserted, err := s.repo.Insert(ctx, valid)
		if err != nil {
			return nil, apperr.Store("import vouchers", err)
		}
		res.Inserted = inserted
		res.Skipped = len(valid) - inserted
	}

	log.Info().
		Int("inserted", res.Inserted).
		Int("skipped", res.Skipped).
		Int("rejected", len(res.Rejected)).
		Msg("Voucher batch imported")

	if res.Inserted > 0 {
		s.publish(ctx, Event{Type: EventImported, Count: res.Inserted})
	}
	return res, nil
}

// PurgeExpired deletes consumed vouchers past their tier validity.
func (s *Service) PurgeExpired(ctx context.Context) (*PurgeResult, error) {
	usernames, err := s.repo.DeleteExpired(ctx, s.now().UTC())
	if err != nil {
		return nil, apperr.Store("purge expired", err)
	}
	if len(usernames) > 0 {
		log.Info().Int("deleted", len(usernames)).Msg("Purged expired vouchers")
		s.publish(ctx, Event{Type: EventPurged, Count: len(usernames)})
		s.wake(ctx)
	}
	return &PurgeResult{Deleted: len(usernames), Usernames: usernames}, nil
}

func (s *Service) publish(ctx context.Context, event Event) {
	if s.events == nil {
		return
	}
	event.At = s.now().UTC()
	s.events.Publish(ctx, event)
}

func (s *Service) wake(ctx context.Context) {
	if s.waker != nil {
		s.waker.Wake(ctx)
	}
}
