package payment

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/athwifi/voucher-api/internal/domain/plan"
)

func newMockRepo(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRepository(sqlx.NewDb(db, "postgres")), mock
}

func TestGetByReferenceNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(`FROM payments WHERE reference = \$1`).WithArgs("plan_x").WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByReference(context.Background(), "plan_x")
	assert.ErrorIs(t, err, ErrPaymentNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkStatusNeverTouchesFulfilledRows(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec(`WHERE reference = \$1 AND status <> 'fulfilled'`).
		WithArgs("plan_x", "out_of_stock", "success").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.MarkStatus(context.Background(), "plan_x", StatusOutOfStock, "success"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordFulfilledUpserts(t *testing.T) {
	repo, mock := newMockRepo(t)
	status := "success"
	voucherID := int64(12)
	mock.ExpectExec(`ON CONFLICT \(reference\) DO UPDATE`).
		WithArgs("plan_x", "ada@example.com", nil, "QUICK_SURF", int64(20000), "success", int64(12)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.RecordFulfilled(context.Background(), &Payment{
		Reference:      "plan_x",
		Email:          "ada@example.com",
		PlanTier:       plan.TierQuickSurf,
		AmountKobo:     20000,
		ProviderStatus: &status,
		VoucherID:      &voucherID,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
