package billing

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/academy/backend/internal/domain/billing"
	"github.com/academy/backend/internal/domain/shared"
	"github.com/academy/backend/internal/infrastructure/payment"
	"github.com/academy/backend/internal/infrastructure/persistence"
	"github.com/academy/backend/internal/infrastructure/persistence/models"
)

// =============================================================================
// Mock Gateway
// =============================================================================

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) Issue(ctx context.Context, req billing.IssueRequest) (*billing.IssueResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.IssueResult), args.Error(1)
}

func (m *MockGateway) Cancel(ctx context.Context, gatewayBillID string) error {
	args := m.Called(ctx, gatewayBillID)
	return args.Error(0)
}

func (m *MockGateway) Destroy(ctx context.Context, gatewayBillID string) error {
	args := m.Called(ctx, gatewayBillID)
	return args.Error(0)
}

func (m *MockGateway) QueryStatus(ctx context.Context, gatewayBillID string) (*billing.StatusResult, error) {
	args := m.Called(ctx, gatewayBillID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.StatusResult), args.Error(1)
}

func (m *MockGateway) QueryBalance(ctx context.Context) (*billing.Balance, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Balance), args.Error(1)
}

// =============================================================================
// Test fixtures
// =============================================================================

// stepClock advances one second per reading so events get distinct times
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func newStepClock() *stepClock {
	return &stepClock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type testEnv struct {
	store   billing.Store
	gateway *MockGateway
	clock   *stepClock
	svc     *ReconciliationService
	webhook *WebhookService
}

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	// every connection to :memory: is a separate database
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&models.ChargeModel{}, &models.BillModel{}, &models.EventModel{}))
	return db
}

func newTestDecoder(t *testing.T) *payment.PaysSamAdapter {
	cfg, err := payment.NewPaysSamConfigBuilder().
		SetBaseURL("https://api.payssam.test").
		SetCredentials("academy", "test-key").
		SetTimezone("Asia/Seoul").
		Build()
	require.NoError(t, err)
	adapter, err := payment.NewPaysSamAdapter(cfg)
	require.NoError(t, err)
	return adapter
}

func newTestEnv(t *testing.T, opts ...func(*ReconciliationServiceConfig)) *testEnv {
	return newTestEnvWithStore(t, persistence.NewGormBillingStore(setupTestDB(t)), opts...)
}

func newTestEnvWithStore(t *testing.T, store billing.Store, opts ...func(*ReconciliationServiceConfig)) *testEnv {
	env := &testEnv{store: store, gateway: new(MockGateway), clock: newStepClock()}
	cfg := ReconciliationServiceConfig{
		Store:   store,
		Gateway: env.gateway,
		Logger:  zap.NewNop(),
		Clock:   env.clock.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	env.svc = NewReconciliationService(cfg)
	env.webhook = NewWebhookService(WebhookServiceConfig{
		Store:   store,
		Decoder: newTestDecoder(t),
		Clock:   env.clock.Now,
	})
	return env
}

func (e *testEnv) createCharge(t *testing.T, amount int64) *billing.Charge {
	return e.createChargeFor(t, uuid.New(), amount)
}

// createChargeFor creates a charge owned by tenantID
func (e *testEnv) createChargeFor(t *testing.T, tenantID uuid.UUID, amount int64) *billing.Charge {
	charge, err := billing.NewCharge(tenantID, uuid.New(), "Park Jiwoo", "01098765432", "2024-03", "March tuition", amount)
	require.NoError(t, err)
	require.NoError(t, e.store.Charges().Create(context.Background(), charge))
	return charge
}

// sendBill issues a bill through Send with the given gateway id
func (e *testEnv) sendBill(t *testing.T, charge *billing.Charge, gatewayBillID string) *billing.Bill {
	e.gateway.On("Issue", mock.Anything, mock.MatchedBy(func(req billing.IssueRequest) bool {
		return req.ChargeID == charge.ID
	})).Return(&billing.IssueResult{GatewayBillID: gatewayBillID, ShortURL: "https://pay.test/" + gatewayBillID, Sent: true}, nil).Once()

	res, err := e.svc.Send(context.Background(), charge.TenantID, charge.ID, uuid.Nil)
	require.NoError(t, err)
	require.Equal(t, billing.RequestStatusSent, res.Bill.RequestStatus)
	return res.Bill
}

// deliver posts a form-encoded webhook for gatewayBillID in state
func (e *testEnv) deliver(gatewayBillID, state string) *WebhookResult {
	form := url.Values{"bill_id": {gatewayBillID}, "appr_state": {state}}
	if state == "F" {
		form.Set("appr_pay_type", "CARD")
		form.Set("appr_num", "A-"+gatewayBillID)
	}
	return e.webhook.ProcessNotification(context.Background(), []byte(form.Encode()), "application/x-www-form-urlencoded")
}

func (e *testEnv) reloadCharge(t *testing.T, id uuid.UUID) *billing.Charge {
	charge, err := e.store.Charges().FindByID(context.Background(), id)
	require.NoError(t, err)
	return charge
}

func (e *testEnv) reloadBill(t *testing.T, id uuid.UUID) *billing.Bill {
	bill, err := e.store.Bills().FindByID(context.Background(), id)
	require.NoError(t, err)
	return bill
}

func (e *testEnv) events(t *testing.T, chargeID uuid.UUID) []*billing.Event {
	events, err := e.store.Events().ListByCharge(context.Background(), chargeID)
	require.NoError(t, err)
	return events
}

func unavailable(msg string) error {
	return fmt.Errorf("%w: %s", billing.ErrGatewayUnavailable, msg)
}

func rejected(msg string) error {
	return fmt.Errorf("%w: %s", billing.ErrGatewayRejected, msg)
}

// =============================================================================
// Degraded audit store
// =============================================================================

var errEventsDown = errors.New("event log unavailable")

type failingEvents struct{}

func (failingEvents) Append(context.Context, *billing.Event) error    { return errEventsDown }
func (failingEvents) TryAppend(context.Context, *billing.Event) error { return errEventsDown }
func (failingEvents) ListByCharge(context.Context, uuid.UUID) ([]*billing.Event, error) {
	return nil, errEventsDown
}
func (failingEvents) ListByBill(context.Context, uuid.UUID) ([]*billing.Event, error) {
	return nil, errEventsDown
}
func (failingEvents) FindBillIDByGatewayBillID(context.Context, string) (uuid.UUID, error) {
	return uuid.Nil, errEventsDown
}

// failingEventsStore is a store whose event log rejects every write
type failingEventsStore struct {
	billing.Store
}

func (s failingEventsStore) Events() billing.EventRepository { return failingEvents{} }

func (s failingEventsStore) WithinTx(ctx context.Context, fn func(tx billing.Store) error) error {
	return s.Store.WithinTx(ctx, func(tx billing.Store) error {
		return fn(failingEventsStore{Store: tx})
	})
}

// =============================================================================
// Unreachable store
// =============================================================================

var errStoreDown = errors.New("connection refused")

// unreachableBills fails every lookup by gateway id
type unreachableBills struct {
	billing.BillRepository
}

func (unreachableBills) FindByGatewayBillID(context.Context, string) (*billing.Bill, error) {
	return nil, errStoreDown
}

// unreachableStore can be told to fail lookups or transactions
type unreachableStore struct {
	billing.Store
	lookups bool
	writes  bool
}

func (s unreachableStore) Bills() billing.BillRepository {
	if s.lookups {
		return unreachableBills{BillRepository: s.Store.Bills()}
	}
	return s.Store.Bills()
}

func (s unreachableStore) WithinTx(ctx context.Context, fn func(tx billing.Store) error) error {
	if s.writes {
		return errStoreDown
	}
	return s.Store.WithinTx(ctx, fn)
}

func codeOf(err error) string {
	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return ""
}

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return parsed
}
