package payment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/athwifi/voucher-api/internal/domain/plan"
	"github.com/athwifi/voucher-api/internal/domain/voucher"
	"github.com/athwifi/voucher-api/internal/pkg/apperr"
	"github.com/athwifi/voucher-api/internal/pkg/email"
	"github.com/athwifi/voucher-api/internal/pkg/paystack"
)

type fakeGateway struct {
	configured bool
	initErr    error
	initReq    *paystack.InitializeRequest
	txs        map[string]*paystack.Transaction
	verifyErr  error
	verifies   int
}

func (g *fakeGateway) Configured() bool  { return g.configured }
func (g *fakeGateway) PublicKey() string { return "pk_test" }
func (g *fakeGateway) Currency() string  { return "NGN" }

func (g *fakeGateway) Initialize(_ context.Context, req paystack.InitializeRequest) (*paystack.InitializeData, error) {
	g.initReq = &req
	if g.initErr != nil {
		return nil, g.initErr
	}
	return &paystack.InitializeData{AuthorizationURL: "https://checkout.example/" + req.Reference, AccessCode: "ac", Reference: req.Reference}, nil
}

func (g *fakeGateway) Verify(_ context.Context, reference string) (*paystack.Transaction, error) {
	g.verifies++
	if g.verifyErr != nil {
		return nil, g.verifyErr
	}
	tx, ok := g.txs[reference]
	if !ok {
		return nil, &paystack.APIError{StatusCode: 404, Message: "Transaction reference not found"}
	}
	return tx, nil
}

// fakeClaimer mimics the claim transaction over an in-memory stock.
type fakeClaimer struct {
	mu      sync.Mutex
	stock   map[plan.Tier][]voucher.Voucher
	byRef   map[string]voucher.Voucher
	byID    map[int64]voucher.Voucher
	spent   map[string]bool
	claimed int
}

func newFakeClaimer(vs ...voucher.Voucher) *fakeClaimer {
	c := &fakeClaimer{stock: map[plan.Tier][]voucher.Voucher{}, byRef: map[string]voucher.Voucher{}, byID: map[int64]voucher.Voucher{}, spent: map[string]bool{}}
	for _, v := range vs {
		c.stock[v.PlanTier] = append(c.stock[v.PlanTier], v)
	}
	return c
}

func (c *fakeClaimer) Claim(_ context.Context, req voucher.ClaimRequest) (*voucher.ClaimResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tier, err := plan.TierForAmountKobo(req.AmountKobo)
	if err != nil {
		return nil, err
	}
	if v, ok := c.byRef[req.Reference]; ok {
		return &voucher.ClaimResult{Voucher: v, Replayed: true}, nil
	}
	if c.spent[req.Reference] {
		return nil, voucher.ErrClaimExpired
	}
	if len(c.stock[tier]) == 0 {
		return nil, &apperr.OutOfStockError{Tier: string(tier)}
	}
	v := c.stock[tier][0]
	c.stock[tier] = c.stock[tier][1:]
	now := time.Now()
	ref := req.Reference
	v.Consumed, v.SoldAt, v.AssignedTo, v.PaymentReference = true, &now, &req.Customer, &ref
	c.byRef[ref] = v
	c.byID[v.ID] = v
	c.spent[ref] = true
	c.claimed++
	return &voucher.ClaimResult{Voucher: v}, nil
}

// purge drops a sold voucher the way the expiry purge does.
func (c *fakeClaimer) purge(ref string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.byRef[ref]
	delete(c.byRef, ref)
	delete(c.byID, v.ID)
}

func (c *fakeClaimer) GetByID(_ context.Context, id int64) (*voucher.Voucher, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.byID[id]
	if !ok {
		return nil, voucher.ErrVoucherNotFound
	}
	return &v, nil
}

type memLedger struct {
	mu   sync.Mutex
	rows map[string]*Payment
}

func newMemLedger() *memLedger { return &memLedger{rows: map[string]*Payment{}} }

func (l *memLedger) CreatePending(_ context.Context, p *Payment) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	p.Status = StatusPending
	cp := *p
	l.rows[p.Reference] = &cp
	return nil
}

func (l *memLedger) GetByReference(_ context.Context, ref string) (*Payment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.rows[ref]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (l *memLedger) MarkStatus(_ context.Context, ref string, status Status, _ string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok := l.rows[ref]; ok && p.Status != StatusFulfilled {
		p.Status = status
	}
	return nil
}

func (l *memLedger) RecordFulfilled(_ context.Context, p *Payment) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := *p
	cp.Status = StatusFulfilled
	l.rows[p.Reference] = &cp
	return nil
}

func (l *memLedger) List(context.Context, Status, int) ([]Payment, error) { return nil, nil }

type recordingNotifier struct {
	mu   sync.Mutex
	sent []email.VoucherReceipt
}

func (n *recordingNotifier) SendVoucherReceipt(_ string, r email.VoucherReceipt) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, r)
}

func successTx(ref string, kobo int64) *paystack.Transaction {
	return &paystack.Transaction{Status: paystack.StatusSuccess, Reference: ref, AmountKobo: kobo, Currency: "NGN", Customer: paystack.Customer{Email: "ada@example.com"}}
}

type fixture struct {
	svc      *Service
	gateway  *fakeGateway
	claimer  *fakeClaimer
	ledger   *memLedger
	notifier *recordingNotifier
}

func newFixture(vs ...voucher.Voucher) *fixture {
	f := &fixture{
		gateway:  &fakeGateway{configured: true, txs: map[string]*paystack.Transaction{}},
		claimer:  newFakeClaimer(vs...),
		ledger:   newMemLedger(),
		notifier: &recordingNotifier{},
	}
	f.svc = NewService(f.gateway, f.claimer, f.ledger, f.notifier, Config{BackendURL: "https://api.example/"})
	return f
}

func quickSurf(id int64) voucher.Voucher {
	return voucher.Voucher{ID: id, Username: "ATH-Q" + string(rune('0'+id)), Password: "pw", PlanTier: plan.TierQuickSurf}
}

func TestInitializePricesPlanAndRecordsPending(t *testing.T) {
	f := newFixture()

	out, err := f.svc.Initialize(context.Background(), InitializeRequest{Email: " Ada@Example.com ", Plan: "Weekly Connect", Phone: "08031234567"})
	require.NoError(t, err)
	assert.Equal(t, int64(150000), out.AmountKobo)
	assert.Equal(t, "pk_test", out.PublicKey)
	assert.Regexp(t, `^plan_\d+_[0-9a-f]{8}$`, out.Reference)

	require.NotNil(t, f.gateway.initReq)
	assert.Equal(t, "ada@example.com", f.gateway.initReq.Email)
	assert.Equal(t, "https://api.example/api/v1/payments/callback", f.gateway.initReq.CallbackURL)
	assert.Equal(t, "Weekly Connect", f.gateway.initReq.Metadata.PlanName())

	row, err := f.ledger.GetByReference(context.Background(), out.Reference)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, row.Status)
	assert.Equal(t, plan.TierWeeklyConnect, row.PlanTier)
}

func TestInitializeRejectsMismatchedAmount(t *testing.T) {
	f := newFixture()
	amount := NairaAmount(100)
	_, err := f.svc.Initialize(context.Background(), InitializeRequest{Email: "a@b.co", Plan: "QUICK_SURF", Amount: &amount})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.Nil(t, f.gateway.initReq)
}

func TestInitializeWithoutSecretIsConfigurationError(t *testing.T) {
	f := newFixture()
	f.gateway.configured = false
	_, err := f.svc.Initialize(context.Background(), InitializeRequest{Email: "a@b.co", Plan: "QUICK_SURF"})
	assert.Equal(t, apperr.KindConfiguration, apperr.KindOf(err))
}

func TestInitializeProviderFailureMarksPaymentFailed(t *testing.T) {
	f := newFixture()
	f.gateway.initErr = errors.New("paystack network error")
	_, err := f.svc.Initialize(context.Background(), InitializeRequest{Email: "a@b.co", Plan: "QUICK_SURF"})
	require.Error(t, err)
	require.NotNil(t, f.gateway.initReq)

	row, err := f.ledger.GetByReference(context.Background(), f.gateway.initReq.Reference)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, row.Status)
}

func TestInitializeRejectedKeyIsConfigurationError(t *testing.T) {
	f := newFixture()
	f.gateway.initErr = &paystack.APIError{StatusCode: 401, Message: "Invalid key"}
	_, err := f.svc.Initialize(context.Background(), InitializeRequest{Email: "a@b.co", Plan: "QUICK_SURF"})
	assert.Equal(t, apperr.KindConfiguration, apperr.KindOf(err))

	f.gateway.initErr = &paystack.APIError{StatusCode: 403, Message: "Forbidden"}
	_, err = f.svc.Initialize(context.Background(), InitializeRequest{Email: "a@b.co", Plan: "QUICK_SURF"})
	assert.Equal(t, apperr.KindConfiguration, apperr.KindOf(err))

	f.gateway.initErr = &paystack.APIError{StatusCode: 502, Message: "Bad gateway"}
	_, err = f.svc.Initialize(context.Background(), InitializeRequest{Email: "a@b.co", Plan: "QUICK_SURF"})
	assert.Equal(t, apperr.KindUnknown, apperr.KindOf(err))
}

func TestVerifyClaimsVoucherAndSendsReceipt(t *testing.T) {
	f := newFixture(quickSurf(1))
	f.gateway.txs["plan_1_aaaa"] = successTx("plan_1_aaaa", 20000)

	receipt, err := f.svc.Verify(context.Background(), "plan_1_aaaa")
	require.NoError(t, err)
	assert.Equal(t, "ATH-Q1", receipt.Voucher.Username)
	assert.Equal(t, plan.TierQuickSurf, receipt.Plan.Tier)
	assert.False(t, receipt.Replayed)
	require.NotNil(t, receipt.ExpiresAt)
	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, "ATH-Q1", f.notifier.sent[0].Username)

	row, err := f.ledger.GetByReference(context.Background(), "plan_1_aaaa")
	require.NoError(t, err)
	assert.Equal(t, StatusFulfilled, row.Status)
}

func TestVerifyReplayDoesNotClaimTwice(t *testing.T) {
	f := newFixture(quickSurf(1), quickSurf(2))
	f.gateway.txs["plan_1_aaaa"] = successTx("plan_1_aaaa", 20000)

	first, err := f.svc.Verify(context.Background(), "plan_1_aaaa")
	require.NoError(t, err)
	second, err := f.svc.Verify(context.Background(), "plan_1_aaaa")
	require.NoError(t, err)

	assert.Equal(t, first.Voucher, second.Voucher)
	assert.True(t, second.Replayed)
	assert.Equal(t, 1, f.claimer.claimed)
	assert.Equal(t, 1, f.gateway.verifies, "fulfilled ledger rows skip the provider")
	assert.Len(t, f.notifier.sent, 1)
}

func TestVerifyAfterPurgeReportsExpired(t *testing.T) {
	f := newFixture(quickSurf(1), quickSurf(2))
	f.gateway.txs["plan_1_aaaa"] = successTx("plan_1_aaaa", 20000)

	_, err := f.svc.Verify(context.Background(), "plan_1_aaaa")
	require.NoError(t, err)

	// the purge deletes the voucher and the foreign key clears voucher_id
	f.claimer.purge("plan_1_aaaa")
	f.ledger.rows["plan_1_aaaa"].VoucherID = nil

	_, err = f.svc.Verify(context.Background(), "plan_1_aaaa")
	require.ErrorIs(t, err, voucher.ErrClaimExpired)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.Equal(t, 1, f.claimer.claimed)
	assert.Equal(t, 1, f.gateway.verifies)
	assert.Len(t, f.notifier.sent, 1)

	// without a ledger row the claim itself refuses the spent reference
	delete(f.ledger.rows, "plan_1_aaaa")
	_, err = f.svc.Verify(context.Background(), "plan_1_aaaa")
	require.ErrorIs(t, err, voucher.ErrClaimExpired)
	assert.Equal(t, 1, f.claimer.claimed)
}

func TestVerifyRejectsOtherCurrency(t *testing.T) {
	f := newFixture(quickSurf(1))
	require.NoError(t, f.ledger.CreatePending(context.Background(), &Payment{Reference: "plan_1_aaaa", Email: "a@b.co", PlanTier: plan.TierQuickSurf, AmountKobo: 20000}))
	tx := successTx("plan_1_aaaa", 20000)
	tx.Currency = "USD"
	f.gateway.txs["plan_1_aaaa"] = tx

	_, err := f.svc.Verify(context.Background(), "plan_1_aaaa")
	var pvf *apperr.ProviderVerificationFailure
	require.ErrorAs(t, err, &pvf)
	assert.Contains(t, pvf.Reason, "USD")
	assert.Zero(t, f.claimer.claimed)

	row, _ := f.ledger.GetByReference(context.Background(), "plan_1_aaaa")
	assert.Equal(t, StatusFailed, row.Status)
}

func TestVerifyUnsuccessfulTransactionMutatesNothing(t *testing.T) {
	f := newFixture(quickSurf(1))
	f.gateway.txs["plan_1_aaaa"] = &paystack.Transaction{Status: paystack.StatusAbandoned, Reference: "plan_1_aaaa", AmountKobo: 20000}
	require.NoError(t, f.ledger.CreatePending(context.Background(), &Payment{Reference: "plan_1_aaaa", Email: "a@b.co", PlanTier: plan.TierQuickSurf, AmountKobo: 20000}))

	_, err := f.svc.Verify(context.Background(), "plan_1_aaaa")
	assert.Equal(t, apperr.KindProviderVerification, apperr.KindOf(err))
	assert.Zero(t, f.claimer.claimed)

	row, _ := f.ledger.GetByReference(context.Background(), "plan_1_aaaa")
	assert.Equal(t, StatusFailed, row.Status)
}

func TestVerifyProviderErrors(t *testing.T) {
	f := newFixture(quickSurf(1))

	_, err := f.svc.Verify(context.Background(), "plan_unknown_ref")
	var pvf *apperr.ProviderVerificationFailure
	require.ErrorAs(t, err, &pvf)
	assert.Equal(t, "unknown reference", pvf.Reason)

	f.gateway.verifyErr = errors.New("paystack network error")
	_, err = f.svc.Verify(context.Background(), "plan_other_ref")
	assert.Equal(t, apperr.KindProviderVerification, apperr.KindOf(err))
	assert.Zero(t, f.claimer.claimed)
}

func TestVerifyAmountMismatchWithLedger(t *testing.T) {
	f := newFixture(quickSurf(1))
	require.NoError(t, f.ledger.CreatePending(context.Background(), &Payment{Reference: "plan_1_aaaa", Email: "a@b.co", PlanTier: plan.TierWeeklyConnect, AmountKobo: 150000}))
	f.gateway.txs["plan_1_aaaa"] = successTx("plan_1_aaaa", 20000)

	_, err := f.svc.Verify(context.Background(), "plan_1_aaaa")
	assert.Equal(t, apperr.KindProviderVerification, apperr.KindOf(err))
	assert.Zero(t, f.claimer.claimed)
}

func TestVerifySoldOutIsDistinct(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.ledger.CreatePending(context.Background(), &Payment{Reference: "plan_1_aaaa", Email: "a@b.co", PlanTier: plan.TierQuickSurf, AmountKobo: 20000}))
	f.gateway.txs["plan_1_aaaa"] = successTx("plan_1_aaaa", 20000)

	_, err := f.svc.Verify(context.Background(), "plan_1_aaaa")
	assert.Equal(t, apperr.KindOutOfStock, apperr.KindOf(err))

	row, _ := f.ledger.GetByReference(context.Background(), "plan_1_aaaa")
	assert.Equal(t, StatusOutOfStock, row.Status)
	assert.Empty(t, f.notifier.sent)
}

func TestVerifyUnmappedAmountIsConfigurationError(t *testing.T) {
	f := newFixture(quickSurf(1))
	f.gateway.txs["plan_1_aaaa"] = successTx("plan_1_aaaa", 99900)

	_, err := f.svc.Verify(context.Background(), "plan_1_aaaa")
	assert.Equal(t, apperr.KindConfiguration, apperr.KindOf(err))
	assert.Zero(t, f.claimer.claimed)
}

func TestVerifyRejectsMalformedReference(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Verify(context.Background(), "../../etc")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.Zero(t, f.gateway.verifies)
}

func TestResultOf(t *testing.T) {
	r := ResultOf(nil, &apperr.OutOfStockError{Tier: "QUICK_SURF"})
	require.NotNil(t, r.Failure)
	assert.Nil(t, r.Receipt)
	assert.Equal(t, "sold_out", r.Failure.Kind)

	r = ResultOf(&Receipt{Reference: "x"}, nil)
	assert.Nil(t, r.Failure)
	assert.Equal(t, "x", r.Receipt.Reference)
}
