package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/subcommerce/billing-engine/internal/domain/gateway"
	"github.com/subcommerce/billing-engine/internal/domain/model"
	"github.com/subcommerce/billing-engine/internal/infrastructure/database"
	apperrors "github.com/subcommerce/billing-engine/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const refCollisionRetries = 3

// PaymentService orchestrates payment creation: plan resolution, proration,
// ledger entry creation and redirect URL generation, all inside one unit of
// work.
type PaymentService struct {
	repos   *database.Repositories
	gateway gateway.Client
	logger  *zap.Logger
}

// NewPaymentService creates a new payment orchestrator.
func NewPaymentService(
	repos *database.Repositories,
	gatewayClient gateway.Client,
	logger *zap.Logger,
) *PaymentService {
	return &PaymentService{
		repos:   repos,
		gateway: gatewayClient,
		logger:  logger,
	}
}

// CreatePaymentInput carries a payment creation request.
type CreatePaymentInput struct {
	UserID         uuid.UUID
	PlanCode       string
	BillingPeriod  string
	IdempotencyKey string
	ClientIP       string
}

// CreatePaymentResult is returned to the caller; the redirect URL is always
// derivable from persisted state and can be regenerated later.
type CreatePaymentResult struct {
	PaymentID   int64  `json:"payment_id"`
	AmountMinor int64  `json:"amount_minor"`
	Currency    string `json:"currency"`
	RedirectURL string `json:"redirect_url"`
}

// CreatePayment creates a pending payment and, when the user already has a
// subscription, a linked draft ledger entry, then builds the signed gateway
// redirect URL. Replaying the same idempotency key returns the original
// payment without any further side effect.
func (s *PaymentService) CreatePayment(ctx context.Context, in CreatePaymentInput) (*CreatePaymentResult, error) {
	if in.UserID == uuid.Nil {
		return nil, apperrors.NewAppError(apperrors.ErrInvalidArgument, "user id is required", nil)
	}
	if in.PlanCode == "" {
		return nil, apperrors.NewAppError(apperrors.ErrInvalidArgument, "plan code is required", nil)
	}

	if in.IdempotencyKey != "" {
		existing, err := s.repos.Payment.GetByIdempotencyKey(ctx, in.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return s.resultFromExisting(existing)
		}
	}

	var result *CreatePaymentResult
	err := s.repos.WithTransaction(ctx, func(repos *database.Repositories) error {
		plan, err := repos.Plan.GetByCode(ctx, in.PlanCode)
		if err != nil {
			return err
		}
		if plan == nil {
			return apperrors.NewAppError(apperrors.ErrNotFound,
				fmt.Sprintf("plan not found: %s", in.PlanCode), nil)
		}
		if in.BillingPeriod != "" && in.BillingPeriod != plan.BillingPeriod {
			return apperrors.NewAppError(apperrors.ErrInvalidArgument,
				fmt.Sprintf("plan %s is billed %s", plan.Code, plan.BillingPeriod), nil)
		}

		sub, err := repos.Subscription.GetActiveByUserID(ctx, in.UserID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		amount := plan.PriceMinor
		action := model.ActionRenew
		proration := ProrationResult{}
		if sub != nil {
			current := snapshotPrice(sub)
			action = ClassifyAction(current, plan.PriceMinor)
			if action == model.ActionUpgrade {
				proration = ProrateAt(current, plan.PriceMinor, now, sub.CurrentPeriodStart, sub.CurrentPeriodEnd)
				amount = proration.AmountMinor
			}
		}

		payment, err := s.createWithUniqueRef(ctx, repos, &model.Payment{
			UserID:      in.UserID,
			AmountMinor: amount,
			Currency:    plan.Currency,
			Status:      model.PaymentStatusPending,
			PlanCode:    plan.Code,
			OrderInfo:   fmt.Sprintf("%s %s", plan.DisplayName, plan.BillingPeriod),
			ClientIP:    in.ClientIP,
		}, in.IdempotencyKey)
		if err != nil {
			return err
		}

		if sub != nil {
			txn := &model.Transaction{
				SubscriptionID:   sub.ID,
				PaymentID:        &payment.ID,
				PlanSnapshot:     plan.Snapshot(),
				AmountSubtotal:   plan.PriceMinor,
				AmountTotal:      amount,
				Currency:         plan.Currency,
				PeriodStart:      sub.CurrentPeriodStart,
				PeriodEnd:        sub.CurrentPeriodEnd,
				EffectiveAction:  action,
				Status:           model.TransactionStatusDraft,
				ProrationApplied: proration.Applied,
				ProrationCharge:  proration.Charge,
			}
			if err := repos.Transaction.Create(ctx, txn); err != nil {
				return fmt.Errorf("failed to create ledger entry: %w", err)
			}
		}

		redirectURL, err := s.gateway.BuildPaymentURL(&gateway.PaymentURLRequest{
			AmountMinor: payment.AmountMinor,
			Currency:    payment.Currency,
			Reference:   payment.GatewayRef,
			OrderInfo:   payment.OrderInfo,
			ClientIP:    payment.ClientIP,
			CreatedAt:   payment.CreatedAt,
		})
		if err != nil {
			return fmt.Errorf("failed to build redirect URL: %w", err)
		}

		result = &CreatePaymentResult{
			PaymentID:   payment.ID,
			AmountMinor: payment.AmountMinor,
			Currency:    payment.Currency,
			RedirectURL: redirectURL,
		}
		return nil
	})
	if err != nil {
		// A concurrent request with the same idempotency key may have won
		// the insert race. Resolve the replay instead of surfacing a
		// constraint error.
		if in.IdempotencyKey != "" && errors.Is(err, gorm.ErrDuplicatedKey) {
			existing, lookupErr := s.repos.Payment.GetByIdempotencyKey(ctx, in.IdempotencyKey)
			if lookupErr == nil && existing != nil {
				return s.resultFromExisting(existing)
			}
		}
		return nil, err
	}

	s.logger.Info("payment created",
		zap.Int64("payment_id", result.PaymentID),
		zap.String("user_id", in.UserID.String()),
		zap.String("plan_code", in.PlanCode),
		zap.Int64("amount_minor", result.AmountMinor))

	return result, nil
}

// GetPayment returns a payment by id.
func (s *PaymentService) GetPayment(ctx context.Context, id int64) (*model.Payment, error) {
	payment, err := s.repos.Payment.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, apperrors.NewAppError(apperrors.ErrNotFound,
			fmt.Sprintf("payment not found: %d", id), nil)
	}
	return payment, nil
}

// RegenerateRedirectURL rebuilds the signed redirect URL for a pending
// payment from persisted state, without re-charging anything.
func (s *PaymentService) RegenerateRedirectURL(ctx context.Context, paymentID int64) (string, error) {
	payment, err := s.GetPayment(ctx, paymentID)
	if err != nil {
		return "", err
	}
	if payment.Status != model.PaymentStatusPending {
		return "", apperrors.NewAppError(apperrors.ErrConflict,
			fmt.Sprintf("payment %d is %s, not pending", paymentID, payment.Status), nil)
	}
	return s.gateway.BuildPaymentURL(&gateway.PaymentURLRequest{
		AmountMinor: payment.AmountMinor,
		Currency:    payment.Currency,
		Reference:   payment.GatewayRef,
		OrderInfo:   payment.OrderInfo,
		ClientIP:    payment.ClientIP,
		CreatedAt:   payment.CreatedAt,
	})
}

// StatusQueryResult is the outcome of an on-demand gateway status query.
type StatusQueryResult struct {
	Status       string `json:"status"`
	ResponseCode string `json:"response_code,omitempty"`
	RetryAfterMs int64  `json:"retry_after_ms,omitempty"`
}

// QueryStatus asks the gateway for the payment's current status. A
// duplicate-request rejection from the gateway is surfaced as throttled
// with a retry hint rather than an error.
func (s *PaymentService) QueryStatus(ctx context.Context, paymentID int64, requesterIP string) (*StatusQueryResult, error) {
	payment, err := s.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	resp, err := s.gateway.QueryTransaction(ctx, &gateway.QueryRequest{
		Reference:   payment.GatewayRef,
		RequesterIP: requesterIP,
		CreatedAt:   payment.CreatedAt,
	})
	if err != nil {
		s.logger.Error("gateway status query failed",
			zap.Int64("payment_id", paymentID),
			zap.Error(err))
		return nil, apperrors.NewAppError(apperrors.ErrTimeout, "gateway status query failed", err)
	}

	if resp.Throttled {
		return &StatusQueryResult{
			Status:       "throttled",
			RetryAfterMs: resp.RetryAfter.Milliseconds(),
		}, nil
	}

	return &StatusQueryResult{
		Status:       string(payment.Status),
		ResponseCode: resp.ResponseCode,
	}, nil
}

// resultFromExisting replays an idempotent creation: the redirect URL is
// rebuilt from the stored payment, with no new rows and no gateway charge.
func (s *PaymentService) resultFromExisting(payment *model.Payment) (*CreatePaymentResult, error) {
	redirectURL, err := s.gateway.BuildPaymentURL(&gateway.PaymentURLRequest{
		AmountMinor: payment.AmountMinor,
		Currency:    payment.Currency,
		Reference:   payment.GatewayRef,
		OrderInfo:   payment.OrderInfo,
		ClientIP:    payment.ClientIP,
		CreatedAt:   payment.CreatedAt,
	})
	if err != nil {
		return nil, err
	}
	return &CreatePaymentResult{
		PaymentID:   payment.ID,
		AmountMinor: payment.AmountMinor,
		Currency:    payment.Currency,
		RedirectURL: redirectURL,
	}, nil
}

// createWithUniqueRef persists the payment, regenerating the gateway
// reference with a suffix when it collides with an existing one.
func (s *PaymentService) createWithUniqueRef(ctx context.Context, repos *database.Repositories, payment *model.Payment, idempotencyKey string) (*model.Payment, error) {
	if idempotencyKey != "" {
		payment.IdempotencyKey = &idempotencyKey
	}

	for attempt := 0; attempt <= refCollisionRetries; attempt++ {
		payment.GatewayRef = generateGatewayRef(attempt)
		err := repos.Payment.Create(ctx, payment)
		if err == nil {
			return payment, nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("failed to create payment: %w", err)
		}
		if idempotencyKey != "" {
			existing, lookupErr := repos.Payment.GetByIdempotencyKey(ctx, idempotencyKey)
			if lookupErr != nil {
				return nil, lookupErr
			}
			if existing != nil {
				return nil, err
			}
		}
		s.logger.Warn("gateway reference collision, retrying",
			zap.String("gateway_ref", payment.GatewayRef),
			zap.Int("attempt", attempt))
	}
	return nil, fmt.Errorf("failed to generate a unique gateway reference")
}

func generateGatewayRef(attempt int) string {
	ref := fmt.Sprintf("PAY%d%s", time.Now().Unix(), uuid.New().String()[:8])
	if attempt > 0 {
		ref = fmt.Sprintf("%s-%d", ref, attempt)
	}
	return ref
}

// snapshotPrice returns the price the subscriber actually pays, preferring
// the grandfathered snapshot over the plan's current price.
func snapshotPrice(sub *model.Subscription) int64 {
	if sub.PlanSnapshot != nil {
		if v, ok := sub.PlanSnapshot["price_minor"]; ok {
			switch price := v.(type) {
			case float64:
				return int64(price)
			case int64:
				return price
			case int:
				return int64(price)
			}
		}
	}
	if sub.Plan != nil {
		return sub.Plan.PriceMinor
	}
	return 0
}
