package voucher

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/athwifi/voucher-api/internal/domain/plan"
	"github.com/athwifi/voucher-api/internal/pkg/apperr"
)

var voucherCols = []string{"id", "username", "password", "plan_tier", "consumed", "sold_at",
	"assigned_to", "payment_reference", "created_at"}

func newMockRepo(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRepository(sqlx.NewDb(db, "postgres")), mock
}

func soldRow(id int64, username, password string, tier plan.Tier, ref string, soldAt time.Time) *sqlmock.Rows {
	return sqlmock.NewRows(voucherCols).
		AddRow(id, username, password, string(tier), true, soldAt, "ada@example.com", ref, soldAt.Add(-time.Hour))
}

func claimParams(ref string, tier plan.Tier) ClaimParams {
	return ClaimParams{
		Reference: ref,
		Tier:      tier,
		Customer:  "ada@example.com",
		SoldAt:    time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestClaimMarksOneVoucherAndQueuesLogin(t *testing.T) {
	repo, mock := newMockRepo(t)
	p := claimParams("plan_1_abc", plan.TierQuickSurf)

	mock.ExpectBegin()
	mock.ExpectExec(`pg_advisory_xact_lock`).WithArgs("plan_1_abc").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`FROM vouchers WHERE payment_reference = \$1`).WithArgs("plan_1_abc").WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`FROM claimed_references`).WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery(`FOR UPDATE SKIP LOCKED`).WithArgs("QUICK_SURF").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(3)))
	mock.ExpectQuery(`UPDATE vouchers`).WithArgs(int64(3), sqlmock.AnyArg(), "ada@example.com", "plan_1_abc").
		WillReturnRows(soldRow(3, "ATH-Q1", "pw1", plan.TierQuickSurf, "plan_1_abc", p.SoldAt))
	mock.ExpectExec(`INSERT INTO claimed_references`).WithArgs("plan_1_abc", int64(3), "QUICK_SURF", p.SoldAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO provisioning_jobs`).WithArgs("create_login", "ATH-Q1", "pw1", "2hour", int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectCommit()

	res, err := repo.Claim(context.Background(), p)
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.Equal(t, "ATH-Q1", res.Voucher.Username)
	assert.Equal(t, "pw1", res.Voucher.Password)
	assert.True(t, res.Voucher.Consumed)
	require.NotNil(t, res.Voucher.SoldAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimOutOfStockMutatesNothing(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec(`pg_advisory_xact_lock`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`WHERE payment_reference = \$1`).WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`FROM claimed_references`).WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery(`FOR UPDATE SKIP LOCKED`).WithArgs("MONTHLY_PRO").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := repo.Claim(context.Background(), claimParams("plan_2_abc", plan.TierMonthlyPro))
	var oos *apperr.OutOfStockError
	require.ErrorAs(t, err, &oos)
	assert.Equal(t, "MONTHLY_PRO", oos.Tier)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimReplayReturnsExistingVoucher(t *testing.T) {
	repo, mock := newMockRepo(t)
	p := claimParams("plan_3_abc", plan.TierDailyAccess)

	mock.ExpectBegin()
	mock.ExpectExec(`pg_advisory_xact_lock`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`WHERE payment_reference = \$1`).WithArgs("plan_3_abc").
		WillReturnRows(soldRow(8, "ATH-D8", "pw8", plan.TierDailyAccess, "plan_3_abc", p.SoldAt))
	mock.ExpectRollback()

	res, err := repo.Claim(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, res.Replayed)
	assert.Equal(t, int64(8), res.Voucher.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimUniqueViolationResolvesToReplay(t *testing.T) {
	repo, mock := newMockRepo(t)
	p := claimParams("plan_4_abc", plan.TierPowerUser)

	mock.ExpectBegin()
	mock.ExpectExec(`pg_advisory_xact_lock`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`WHERE payment_reference = \$1`).WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`FROM claimed_references`).WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery(`FOR UPDATE SKIP LOCKED`).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(5)))
	mock.ExpectQuery(`UPDATE vouchers`).WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()
	mock.ExpectQuery(`WHERE payment_reference = \$1`).WithArgs("plan_4_abc").
		WillReturnRows(soldRow(9, "ATH-P9", "pw9", plan.TierPowerUser, "plan_4_abc", p.SoldAt))

	res, err := repo.Claim(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, res.Replayed)
	assert.Equal(t, int64(9), res.Voucher.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimStoreFailureIsRetryable(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec(`pg_advisory_xact_lock`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`WHERE payment_reference = \$1`).WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`FROM claimed_references`).WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery(`FOR UPDATE SKIP LOCKED`).WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	_, err := repo.Claim(context.Background(), claimParams("plan_5_abc", plan.TierQuickSurf))
	assert.Equal(t, apperr.KindStoreTransaction, apperr.KindOf(err))
	assert.ErrorIs(t, err, sql.ErrConnDone)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimPurgedReferenceNeverClaimsAgain(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec(`pg_advisory_xact_lock`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`WHERE payment_reference = \$1`).WithArgs("plan_6_abc").WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`FROM claimed_references`).WithArgs("plan_6_abc").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	_, err := repo.Claim(context.Background(), claimParams("plan_6_abc", plan.TierQuickSurf))
	require.ErrorIs(t, err, ErrClaimExpired)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteExpiredQueuesLoginRemoval(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`DELETE FROM vouchers`).WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), now).
		WillReturnRows(sqlmock.NewRows([]string{"username"}).AddRow("ATH-1").AddRow("ATH-2"))
	mock.ExpectQuery(`INSERT INTO provisioning_jobs`).WithArgs("remove_login", "ATH-1", nil, nil, nil).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectQuery(`INSERT INTO provisioning_jobs`).WithArgs("remove_login", "ATH-2", nil, nil, nil).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(2)))
	mock.ExpectCommit()

	usernames, err := repo.DeleteExpired(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, []string{"ATH-1", "ATH-2"}, usernames)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertCountsSkippedDuplicates(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(`INSERT INTO vouchers`)
	prep.ExpectExec().WithArgs("ATH-1", "a", "QUICK_SURF").WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WithArgs("ATH-2", "b", "QUICK_SURF").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	n, err := repo.Insert(context.Background(), []Voucher{
		{Username: "ATH-1", Password: "a", PlanTier: plan.TierQuickSurf},
		{Username: "ATH-2", Password: "b", PlanTier: plan.TierQuickSurf},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, mock.ExpectationsWereMet())
}
