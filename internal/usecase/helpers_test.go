package usecase_test

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
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

func createTestPlan(t *testing.T, repos *database.Repositories, code string, priceMinor int64) *model.Plan {
	t.Helper()

	plan := &model.Plan{
		Code:          code,
		DisplayName:   strings.ToUpper(code[:1]) + code[1:],
		PriceMinor:    priceMinor,
		Currency:      "VND",
		BillingPeriod: model.BillingPeriodMonthly,
		PeriodDays:    30,
		GraceDays:     7,
		IsActive:      true,
	}
	require.NoError(t, repos.DB().Create(plan).Error)
	return plan
}

func createTestSubscription(t *testing.T, repos *database.Repositories, userID uuid.UUID, plan *model.Plan, periodStart time.Time) *model.Subscription {
	t.Helper()

	sub := &model.Subscription{
		UserID:             userID,
		PlanID:             plan.ID,
		PlanSnapshot:       plan.Snapshot(),
		Status:             model.SubscriptionStatusActive,
		CurrentPeriodStart: periodStart,
		CurrentPeriodEnd:   periodStart.Add(plan.PeriodLength()),
		DunningStage:       model.DunningStageNone,
	}
	require.NoError(t, repos.Subscription.Create(context.Background(), sub))
	return sub
}

// MockGatewayClient is a mock implementation of gateway.Client
type MockGatewayClient struct {
	mock.Mock
}

func (m *MockGatewayClient) BuildPaymentURL(req *gateway.PaymentURLRequest) (string, error) {
	args := m.Called(req)
	return args.String(0), args.Error(1)
}

func (m *MockGatewayClient) VerifyCallback(params url.Values) bool {
	args := m.Called(params)
	return args.Bool(0)
}

func (m *MockGatewayClient) QueryTransaction(ctx context.Context, req *gateway.QueryRequest) (*gateway.QueryResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.QueryResponse), args.Error(1)
}

func (m *MockGatewayClient) Charge(ctx context.Context, req *gateway.ChargeRequest) (*gateway.ChargeResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.ChargeResponse), args.Error(1)
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

func (p *recordingPublisher) successCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.succeeded)
}
