package voucher

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/athwifi/voucher-api/internal/domain/plan"
	"github.com/athwifi/voucher-api/internal/domain/provisioning"
	"github.com/athwifi/voucher-api/internal/pkg/apperr"
)

const voucherColumns = `id, username, password, plan_tier, consumed, sold_at, assigned_to,
	payment_reference, created_at`

const uniqueViolation = "23505"

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// Claim atomically hands out one unconsumed voucher of p.Tier.
//
// Claims for the same reference are serialized on an advisory lock, so a
// replay waits for the first claim and then finds its voucher. Claims for
// different references skip each other's locked rows, so two concurrent
// transactions never observe the same voucher as available.
func (r *Repository) Claim(ctx context.Context, p ClaimParams) (*ClaimResult, error) {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, apperr.Store("begin claim", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, p.Reference); err != nil {
		return nil, apperr.Store("lock reference", err)
	}

	existing, err := getByReference(ctx, tx, p.Reference)
	switch {
	case err == nil:
		return &ClaimResult{Voucher: *existing, Replayed: true}, nil
	case !errors.Is(err, ErrVoucherNotFound):
		return nil, apperr.Store("check reference", err)
	}

	// the voucher is gone but the reference already bought one
	var spent bool
	if err := tx.GetContext(ctx, &spent,
		`SELECT EXISTS (SELECT 1 FROM claimed_references WHERE reference = $1)`, p.Reference); err != nil {
		return nil, apperr.Store("check claimed reference", err)
	}
	if spent {
		return nil, ErrClaimExpired
	}

	var candidateID int64
	err = tx.GetContext(ctx, &candidateID, `
		SELECT id
		FROM vouchers
		WHERE plan_tier = $1 AND NOT consumed
		ORDER BY id
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`, string(p.Tier))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &apperr.OutOfStockError{Tier: string(p.Tier)}
	}
	if err != nil {
		return nil, apperr.Store("select candidate", err)
	}

	var claimed Voucher
	err = tx.GetContext(ctx, &claimed, `
		UPDATE vouchers
		SET consumed = TRUE, sold_at = $2, assigned_to = $3, payment_reference = $4
		WHERE id = $1 AND NOT consumed
		RETURNING `+voucherColumns,
		candidateID, p.SoldAt, p.Customer, p.Reference)
	if err != nil {
		if isUniqueViolation(err) {
			// the reference was claimed outside the advisory lock
			_ = tx.Rollback()
			v, getErr := r.GetByReference(ctx, p.Reference)
			if getErr != nil {
				return nil, apperr.Store("reload replayed claim", getErr)
			}
			return &ClaimResult{Voucher: *v, Replayed: true}, nil
		}
		return nil, apperr.Store("mark consumed", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO claimed_references (reference, voucher_id, plan_tier, claimed_at)
		VALUES ($1, $2, $3, $4)
	`, p.Reference, claimed.ID, string(claimed.PlanTier), p.SoldAt); err != nil {
		return nil, apperr.Store("record claimed reference", err)
	}

	profile := plan.MustLookup(claimed.PlanTier).RouterProfile
	job := provisioning.NewCreateLogin(claimed.ID, claimed.Username, claimed.Password, profile)
	if _, err := provisioning.Enqueue(ctx, tx, job); err != nil {
		return nil, apperr.Store("enqueue provisioning", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apperr.Store("commit claim", err)
	}
	return &ClaimResult{Voucher: claimed}, nil
}

func getByReference(ctx context.Context, q sqlx.QueryerContext, reference string) (*Voucher, error) {
	var v Voucher
	err := sqlx.GetContext(ctx, q, &v, `SELECT `+voucherColumns+` FROM vouchers WHERE payment_reference = $1`, reference)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrVoucherNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *Repository) GetByReference(ctx context.Context, reference string) (*Voucher, error) {
	return getByReference(ctx, r.db, reference)
}

func (r *Repository) GetByID(ctx context.Context, id int64) (*Voucher, error) {
	var v Voucher
	err := r.db.GetContext(ctx, &v, `SELECT `+voucherColumns+` FROM vouchers WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrVoucherNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// List returns a page of vouchers and the total match count.
func (r *Repository) List(ctx context.Context, f ListFilter) ([]Voucher, int, error) {
	f.normalize()

	var (
		conds []string
		args  []interface{}
	)
	if f.Tier != "" {
		args = append(args, string(f.Tier))
		conds = append(conds, fmt.Sprintf("plan_tier = $%d", len(args)))
	}
	if f.Consumed != nil {
		args = append(args, *f.Consumed)
		conds = append(conds, fmt.Sprintf("consumed = $%d", len(args)))
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		args = append(args, "%"+s+"%")
		conds = append(conds, fmt.Sprintf("(username ILIKE $%d OR assigned_to ILIKE $%d)", len(args), len(args)))
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM vouchers`+where, args...); err != nil {
		return nil, 0, err
	}

	args = append(args, f.Limit, (f.Page-1)*f.Limit)
	query := fmt.Sprintf(`SELECT %s FROM vouchers%s ORDER BY id DESC LIMIT $%d OFFSET $%d`,
		voucherColumns, where, len(args)-1, len(args))

	items := []Voucher{}
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// Stock counts available and consumed vouchers per tier present in the table.
func (r *Repository) Stock(ctx context.Context) ([]TierStock, error) {
	var rows []TierStock
	err := r.db.SelectContext(ctx, &rows, `
		SELECT plan_tier,
			COUNT(*) FILTER (WHERE NOT consumed) AS available,
			COUNT(*) FILTER (WHERE consumed) AS consumed
		FROM vouchers
		GROUP BY plan_tier
	`)
	return rows, err
}

// Insert loads vouchers, skipping usernames that already exist. It returns
// how many rows were inserted.
func (r *Repository) Insert(ctx context.Context, items []Voucher) (int, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO vouchers (username, password, plan_tier)
		VALUES ($1, $2, $3)
		ON CONFLICT (username) DO NOTHING
	`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	inserted := 0
	for _, v := range items {
		res, err := stmt.ExecContext(ctx, v.Username, v.Password, string(v.PlanTier))
		if err != nil {
			return 0, fmt.Errorf("insert %s: %w", v.Username, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

// DeleteExpired removes consumed vouchers whose validity ended before now
// and queues removal of their router logins in the same transaction.
func (r *Repository) DeleteExpired(ctx context.Context, now time.Time) ([]string, error) {
	plans := plan.All()
	tiers := make([]string, 0, len(plans))
	ttls := make([]int64, 0, len(plans))
	for _, p := range plans {
		tiers = append(tiers, string(p.Tier))
		ttls = append(ttls, int64(p.Validity/time.Second))
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	usernames := []string{}
	err = tx.SelectContext(ctx, &usernames, `
		DELETE FROM vouchers v
		USING unnest($1::text[], $2::bigint[]) AS ttl(tier, secs)
		WHERE v.plan_tier = ttl.tier
			AND v.consumed
			AND v.sold_at + make_interval(secs => ttl.secs) <= $3
		RETURNING v.username
	`, pq.Array(tiers), pq.Array(ttls), now)
	if err != nil {
		return nil, fmt.Errorf("delete expired vouchers: %w", err)
	}

	for _, username := range usernames {
		if _, err := provisioning.Enqueue(ctx, tx, provisioning.NewRemoveLogin(username)); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return usernames, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
