package provisioning

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

const jobColumns = `id, action, username, password, profile, voucher_id, status, attempts,
	last_error, next_attempt_at, created_at, updated_at, completed_at`

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// Enqueue inserts job through q, which may be a transaction so the job
// commits or rolls back together with the change that caused it.
func Enqueue(ctx context.Context, q sqlx.ExtContext, job Job) (int64, error) {
	var id int64
	err := sqlx.GetContext(ctx, q, &id, `
		INSERT INTO provisioning_jobs (action, username, password, profile, voucher_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, string(job.Action), job.Username, job.Password, job.Profile, job.VoucherID)
	if err != nil {
		return 0, fmt.Errorf("enqueue %s job: %w", job.Action, err)
	}
	return id, nil
}

// Enqueue inserts a standalone job.
func (r *Repository) Enqueue(ctx context.Context, job Job) (int64, error) {
	return Enqueue(ctx, r.db, job)
}

// ClaimDue leases up to limit due jobs. Leased jobs get their attempt
// counted and next_attempt_at pushed out by lease, so a crashed worker's
// jobs come back on their own and concurrent workers skip them.
func (r *Repository) ClaimDue(ctx context.Context, limit int, lease time.Duration) ([]Job, error) {
	var jobs []Job
	err := r.db.SelectContext(ctx, &jobs, `
		WITH due AS (
			SELECT id
			FROM provisioning_jobs
			WHERE status = 'pending' AND next_attempt_at <= now()
			ORDER BY next_attempt_at, id
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE provisioning_jobs j
		SET attempts = j.attempts + 1,
			next_attempt_at = now() + make_interval(secs => $2),
			updated_at = now()
		FROM due
		WHERE j.id = due.id
		RETURNING j.*`,
		limit, lease.Seconds())
	if err != nil {
		return nil, fmt.Errorf("claim due jobs: %w", err)
	}
	return jobs, nil
}

func (r *Repository) MarkDone(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE provisioning_jobs
		SET status = 'done', last_error = NULL, completed_at = now(), updated_at = now()
		WHERE id = $1
	`, id)
	return err
}

// MarkFailed records the error and schedules the next attempt.
func (r *Repository) MarkFailed(ctx context.Context, id int64, lastErr string, next time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE provisioning_jobs
		SET last_error = $2, next_attempt_at = $3, updated_at = now()
		WHERE id = $1
	`, id, lastErr, next)
	return err
}

// MarkDead parks a job that exhausted its attempts.
func (r *Repository) MarkDead(ctx context.Context, id int64, lastErr string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE provisioning_jobs
		SET status = 'dead', last_error = $2, updated_at = now()
		WHERE id = $1
	`, id, lastErr)
	return err
}

// List returns recent jobs, optionally filtered by status.
func (r *Repository) List(ctx context.Context, status Status, limit int) ([]Job, error) {
	jobs := []Job{}
	var err error
	if status == "" {
		err = r.db.SelectContext(ctx, &jobs, `SELECT `+jobColumns+` FROM provisioning_jobs ORDER BY id DESC LIMIT $1`, limit)
	} else {
		err = r.db.SelectContext(ctx, &jobs, `SELECT `+jobColumns+` FROM provisioning_jobs WHERE status = $1 ORDER BY id DESC LIMIT $2`, string(status), limit)
	}
	return jobs, err
}

// Requeue moves a dead job back to pending with a fresh attempt budget.
func (r *Repository) Requeue(ctx context.Context, id int64) error {
	var status Status
	err := r.db.GetContext(ctx, &status, `
		UPDATE provisioning_jobs
		SET status = 'pending', attempts = 0, next_attempt_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'dead'
		RETURNING status
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		var exists bool
		if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM provisioning_jobs WHERE id = $1)`, id); err != nil {
			return err
		}
		if !exists {
			return ErrJobNotFound
		}
		return ErrJobNotDead
	}
	return err
}
