package scheduler_test

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/subcommerce/billing-engine/internal/domain/event"
	"github.com/subcommerce/billing-engine/internal/domain/gateway"
	"github.com/subcommerce/billing-engine/internal/domain/model"
	"github.com/subcommerce/billing-engine/internal/infrastructure/database"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *database.Repositories {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared",
		strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, database.Migrate(db, zap.NewNop()))
	return database.NewRepositories(db, zap.NewNop())
}

func createPlan(t *testing.T, repos *database.Repositories, code string, priceMinor int64, postpaid bool) *model.Plan {
	t.Helper()

	plan := &model.Plan{
		Code:          code,
		DisplayName:   code,
		PriceMinor:    priceMinor,
		Currency:      "VND",
		BillingPeriod: model.BillingPeriodMonthly,
		PeriodDays:    30,
		GraceDays:     7,
		IsPostpaid:    postpaid,
		IsActive:      true,
	}
	require.NoError(t, repos.DB().Create(plan).Error)
	return plan
}

func createSubscription(t *testing.T, repos *database.Repositories, plan *model.Plan, periodEnd time.Time) *model.Subscription {
	t.Helper()

	token := "tok_" + uuid.New().String()[:8]
	sub := &model.Subscription{
		UserID:             uuid.New(),
		PlanID:             plan.ID,
		PlanSnapshot:       plan.Snapshot(),
		Status:             model.SubscriptionStatusActive,
		CurrentPeriodStart: periodEnd.Add(-plan.PeriodLength()),
		CurrentPeriodEnd:   periodEnd,
		GatewayToken:       &token,
		DunningStage:       model.DunningStageNone,
	}
	require.NoError(t, repos.Subscription.Create(context.Background(), sub))
	return sub
}

func createPendingPayment(t *testing.T, repos *database.Repositories, age time.Duration) *model.Payment {
	t.Helper()

	payment := &model.Payment{
		UserID:      uuid.New(),
		AmountMinor: 299_000,
		Currency:    "VND",
		Status:      model.PaymentStatusPending,
		GatewayRef:  "PAY" + uuid.New().String()[:13],
		PlanCode:    "pro",
		ClientIP:    "203.0.113.10",
		CreatedAt:   time.Now().UTC().Add(-age),
	}
	require.NoError(t, repos.Payment.Create(context.Background(), payment))
	return payment
}

// fakeGateway counts calls and delegates to per-test functions.
type fakeGateway struct {
	mu          sync.Mutex
	queryCalls  int
	chargeCalls int
	queryFn     func(req *gateway.QueryRequest) (*gateway.QueryResponse, error)
	chargeFn    func(req *gateway.ChargeRequest) (*gateway.ChargeResponse, error)
}

func (g *fakeGateway) BuildPaymentURL(req *gateway.PaymentURLRequest) (string, error) {
	return "https://gateway/pay?ref=" + req.Reference, nil
}

func (g *fakeGateway) VerifyCallback(params url.Values) bool {
	return true
}

func (g *fakeGateway) QueryTransaction(_ context.Context, req *gateway.QueryRequest) (*gateway.QueryResponse, error) {
	g.mu.Lock()
	g.queryCalls++
	g.mu.Unlock()
	if g.queryFn == nil {
		return &gateway.QueryResponse{Reference: req.Reference}, nil
	}
	return g.queryFn(req)
}

func (g *fakeGateway) Charge(_ context.Context, req *gateway.ChargeRequest) (*gateway.ChargeResponse, error) {
	g.mu.Lock()
	g.chargeCalls++
	g.mu.Unlock()
	if g.chargeFn == nil {
		return &gateway.ChargeResponse{Reference: req.Reference, ResponseCode: "00"}, nil
	}
	return g.chargeFn(req)
}

func (g *fakeGateway) queryCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.queryCalls
}

func (g *fakeGateway) chargeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.chargeCalls
}

// recordingPublisher captures published events for assertions.
type recordingPublisher struct {
	mu        sync.Mutex
	succeeded []event.PaymentSucceeded
	failed    []event.PaymentFailed
	retries   []event.PaymentRetry
}

func (p *recordingPublisher) PaymentSucceeded(_ context.Context, evt event.PaymentSucceeded) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.succeeded = append(p.succeeded, evt)
}

func (p *recordingPublisher) PaymentFailed(_ context.Context, evt event.PaymentFailed) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failed = append(p.failed, evt)
}

func (p *recordingPublisher) PaymentRetry(_ context.Context, evt event.PaymentRetry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.retries = append(p.retries, evt)
}
