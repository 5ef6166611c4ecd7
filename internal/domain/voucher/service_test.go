package voucher

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/athwifi/voucher-api/internal/domain/plan"
	"github.com/athwifi/voucher-api/internal/pkg/apperr"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) Publish(_ context.Context, e Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func newMockService(t *testing.T) (*Service, sqlmock.Sqlmock, *recordingPublisher) {
	repo, mock := newMockRepo(t)
	pub := &recordingPublisher{}
	svc := NewService(repo, pub)
	svc.now = func() time.Time { return time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC) }
	return svc, mock, pub
}

func TestServiceClaimUnmappedAmountIsConfigurationError(t *testing.T) {
	svc, mock, pub := newMockService(t)

	_, err := svc.Claim(context.Background(), ClaimRequest{Reference: "r1", AmountKobo: 99900, Customer: "a@b.c"})
	var cfgErr *apperr.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Empty(t, pub.events)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestServiceClaimValidatesInput(t *testing.T) {
	svc, _, _ := newMockService(t)

	_, err := svc.Claim(context.Background(), ClaimRequest{AmountKobo: 20000, Customer: "a@b.c"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = svc.Claim(context.Background(), ClaimRequest{Reference: "r", AmountKobo: 20000})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestServiceClaimResolvesTierFromAmount(t *testing.T) {
	svc, mock, pub := newMockService(t)
	soldAt := svc.now()

	mock.ExpectBegin()
	mock.ExpectExec(`pg_advisory_xact_lock`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`WHERE payment_reference = \$1`).WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`FOR UPDATE SKIP LOCKED`).WithArgs("DAILY_ACCESS_II").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(4)))
	mock.ExpectQuery(`UPDATE vouchers`).WithArgs(int64(4), soldAt, "ada@example.com", "plan_9_x").
		WillReturnRows(soldRow(4, "ATH-U4", "pw4", plan.TierDailyAccessII, "plan_9_x", soldAt))
	mock.ExpectQuery(`INSERT INTO provisioning_jobs`).WithArgs("create_login", "ATH-U4", "pw4", "24hour-unlimited", int64(4)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectCommit()

	res, err := svc.Claim(context.Background(), ClaimRequest{Reference: "plan_9_x", AmountKobo: 50000, Customer: "ada@example.com"})
	require.NoError(t, err)
	assert.Equal(t, plan.TierDailyAccessII, res.Voucher.PlanTier)
	require.Len(t, pub.events, 1)
	assert.Equal(t, EventClaimed, pub.events[0].Type)
	assert.Equal(t, plan.TierDailyAccessII, pub.events[0].Tier)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestServiceStockListsEveryTier(t *testing.T) {
	svc, mock, _ := newMockService(t)

	mock.ExpectQuery(`GROUP BY plan_tier`).WillReturnRows(
		sqlmock.NewRows([]string{"plan_tier", "available", "consumed"}).
			AddRow("QUICK_SURF", 4, 2).
			AddRow("MONTHLY_PRO", 0, 1))

	stock, err := svc.AvailableByTier(context.Background())
	require.NoError(t, err)
	assert.Len(t, stock, len(plan.Tiers()))
	assert.Equal(t, 4, stock[plan.TierQuickSurf])
	assert.Equal(t, 0, stock[plan.TierMonthlyPro])
	assert.Equal(t, 0, stock[plan.TierWeeklyConnect])
}

func TestServiceImportRejectsBadRows(t *testing.T) {
	svc, mock, pub := newMockService(t)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(`INSERT INTO vouchers`)
	prep.ExpectExec().WithArgs("ATH-1", "a", "QUICK_SURF").WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WithArgs("ATH-2", "b", "WEEKLY_CONNECT").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	res, err := svc.Import(context.Background(), []ImportItem{
		{Username: "ATH-1", Password: "a", Plan: "QUICK_SURF"},
		{Username: "ATH-2", Password: "b", Plan: "Weekly Connect"},
		{Username: "ATH-1", Password: "c", Plan: "QUICK_SURF"},
		{Username: "", Password: "d", Plan: "QUICK_SURF"},
		{Username: "ATH-5", Password: "e", Plan: "GOLD"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 1, res.Skipped)
	require.Len(t, res.Rejected, 3)
	assert.Equal(t, 2, res.Rejected[0].Index)
	require.Len(t, pub.events, 1)
	assert.Equal(t, EventImported, pub.events[0].Type)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestServiceImportEmptyBatch(t *testing.T) {
	svc, _, _ := newMockService(t)
	_, err := svc.Import(context.Background(), nil)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestExpiresAtUsesTierValidity(t *testing.T) {
	soldAt := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	v := Voucher{PlanTier: plan.TierQuickSurf, SoldAt: &soldAt}
	require.NotNil(t, v.ExpiresAt())
	assert.Equal(t, soldAt.Add(2*time.Hour), *v.ExpiresAt())

	unsold := Voucher{PlanTier: plan.TierQuickSurf}
	assert.Nil(t, unsold.ExpiresAt())
}
