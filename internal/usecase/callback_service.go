package usecase

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/subcommerce/billing-engine/internal/domain/event"
	"github.com/subcommerce/billing-engine/internal/domain/gateway"
	"github.com/subcommerce/billing-engine/internal/domain/model"
	"github.com/subcommerce/billing-engine/internal/infrastructure/database"
	"github.com/subcommerce/billing-engine/internal/infrastructure/gateway/vnpay"
	apperrors "github.com/subcommerce/billing-engine/pkg/errors"
	"go.uber.org/zap"
)

// CallbackService handles the two gateway callbacks: the browser return
// (informational, user-facing) and the server-to-server IPN (authoritative,
// settles money). Both converge on the same conditional-update settle path,
// so a payment settles exactly once no matter how many callbacks arrive or
// in what order.
type CallbackService struct {
	repos   *database.Repositories
	gateway gateway.Client
	events  event.Publisher
	logger  *zap.Logger
}

// NewCallbackService creates a new callback service.
func NewCallbackService(
	repos *database.Repositories,
	gatewayClient gateway.Client,
	events event.Publisher,
	logger *zap.Logger,
) *CallbackService {
	return &CallbackService{
		repos:   repos,
		gateway: gatewayClient,
		events:  events,
		logger:  logger,
	}
}

// ReturnResult is what the browser return page renders from.
type ReturnResult struct {
	PaymentID         int64               `json:"payment_id"`
	ResponseCode      string              `json:"response_code"`
	TransactionStatus string              `json:"transaction_status"`
	IsVerified        bool                `json:"is_verified"`
	IsSuccess         bool                `json:"is_success"`
	Status            model.PaymentStatus `json:"status"`
}

// IPNResponse is the body the gateway expects back from the IPN endpoint.
// The code tells the gateway whether to stop retrying the notification.
type IPNResponse struct {
	RspCode string `json:"RspCode"`
	Message string `json:"Message"`
}

// HandleReturn processes the browser redirect back from the gateway. It may
// settle the payment when the IPN has not landed yet, but its primary job is
// reporting; an amount mismatch here is logged and tolerated rather than
// rejected because some gateway environments echo the amount in differing
// units on this leg.
func (s *CallbackService) HandleReturn(ctx context.Context, params url.Values) (*ReturnResult, error) {
	verified := s.gateway.VerifyCallback(params)
	ref := params.Get(vnpay.FieldTxnRef)
	responseCode := params.Get(vnpay.FieldResponseCode)
	txnStatus := params.Get(vnpay.FieldTxnStatus)

	if ref == "" {
		return nil, apperrors.NewAppError(apperrors.ErrInvalidArgument, "missing transaction reference", nil)
	}

	payment, err := s.repos.Payment.GetByGatewayRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, apperrors.NewAppError(apperrors.ErrNotFound, "payment not found for reference "+ref, nil)
	}

	result := &ReturnResult{
		PaymentID:         payment.ID,
		ResponseCode:      responseCode,
		TransactionStatus: txnStatus,
		IsVerified:        verified,
		Status:            payment.Status,
	}
	if !verified {
		s.logger.Warn("return callback failed signature verification",
			zap.String("gateway_ref", ref))
		return result, nil
	}

	gotAmount := parseWireAmount(params.Get(vnpay.FieldAmount))
	if !vnpay.TolerantAmountMatch(payment.AmountMinor, gotAmount) {
		s.logger.Warn("return callback amount mismatch",
			zap.String("gateway_ref", ref),
			zap.Int64("expected_minor", payment.AmountMinor),
			zap.Int64("got", gotAmount))
	}

	success := responseCode == vnpay.RspCodeSuccess && txnStatus == vnpay.TxnStatusSuccess
	result.IsSuccess = success

	if success {
		if _, err := s.Settle(ctx, ref, params.Get(vnpay.FieldTransactionNo), time.Now().UTC()); err != nil {
			return nil, err
		}
	} else {
		if _, err := s.Fail(ctx, ref, responseCode, "gateway reported failure on return"); err != nil {
			return nil, err
		}
	}

	payment, err = s.repos.Payment.GetByGatewayRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	if payment != nil {
		result.Status = payment.Status
	}
	return result, nil
}

// HandleIPN processes the server-to-server payment notification. It never
// returns a transport error to the caller: every outcome maps to a gateway
// response code, and anything unexpected answers with the unknown-error code
// so the gateway retries later.
func (s *CallbackService) HandleIPN(ctx context.Context, params url.Values) IPNResponse {
	if !s.gateway.VerifyCallback(params) {
		s.logger.Warn("ipn failed signature verification",
			zap.String("gateway_ref", params.Get(vnpay.FieldTxnRef)))
		return IPNResponse{RspCode: vnpay.RspCodeInvalidSignature, Message: "Invalid signature"}
	}

	ref := params.Get(vnpay.FieldTxnRef)
	payment, err := s.repos.Payment.GetByGatewayRef(ctx, ref)
	if err != nil {
		s.logger.Error("ipn payment lookup failed", zap.String("gateway_ref", ref), zap.Error(err))
		return IPNResponse{RspCode: vnpay.RspCodeUnknownError, Message: "Unknown error"}
	}
	if payment == nil {
		return IPNResponse{RspCode: vnpay.RspCodeOrderNotFound, Message: "Order not found"}
	}

	gotAmount := parseWireAmount(params.Get(vnpay.FieldAmount))
	if !vnpay.ExactAmountMatch(payment.AmountMinor, gotAmount) {
		s.logger.Warn("ipn amount mismatch",
			zap.String("gateway_ref", ref),
			zap.Int64("expected_minor", payment.AmountMinor),
			zap.Int64("got", gotAmount))
		return IPNResponse{RspCode: vnpay.RspCodeInvalidAmount, Message: "Invalid amount"}
	}

	if payment.Status == model.PaymentStatusPaid {
		return IPNResponse{RspCode: vnpay.RspCodeOrderConfirmed, Message: "Order already confirmed"}
	}

	responseCode := params.Get(vnpay.FieldResponseCode)
	txnStatus := params.Get(vnpay.FieldTxnStatus)

	if responseCode == vnpay.RspCodeSuccess && txnStatus == vnpay.TxnStatusSuccess {
		settled, err := s.Settle(ctx, ref, params.Get(vnpay.FieldTransactionNo), time.Now().UTC())
		if err != nil {
			s.logger.Error("ipn settle failed", zap.String("gateway_ref", ref), zap.Error(err))
			return IPNResponse{RspCode: vnpay.RspCodeUnknownError, Message: "Unknown error"}
		}
		if !settled {
			return IPNResponse{RspCode: vnpay.RspCodeOrderConfirmed, Message: "Order already confirmed"}
		}
		return IPNResponse{RspCode: vnpay.RspCodeSuccess, Message: "Confirm success"}
	}

	rows, err := s.Fail(ctx, ref, responseCode, "gateway reported failure on ipn")
	if err != nil {
		s.logger.Error("ipn fail transition failed", zap.String("gateway_ref", ref), zap.Error(err))
		return IPNResponse{RspCode: vnpay.RspCodeUnknownError, Message: "Unknown error"}
	}
	if rows == 0 {
		// A failure notification after the payment already settled is an
		// anomaly worth a permanent trail, not a state change.
		s.audit(ctx, payment, "payment.ipn_failure_after_settle", model.JSONB{
			"response_code":      responseCode,
			"transaction_status": txnStatus,
		})
	}
	return IPNResponse{RspCode: vnpay.RspCodeSuccess, Message: "Confirm success"}
}

// Settle moves a payment to paid exactly once. The conditional update is the
// arbiter: whichever caller flips the row finalizes the draft ledger entry
// and publishes the success event; everyone else sees zero rows and does
// nothing. Returns whether this call performed the flip.
func (s *CallbackService) Settle(ctx context.Context, gatewayRef string, gatewayTxnNo string, paidAt time.Time) (bool, error) {
	var flipped bool
	var paymentID int64
	err := s.repos.WithTransaction(ctx, func(repos *database.Repositories) error {
		rows, err := repos.Payment.MarkPaid(ctx, gatewayRef, gatewayTxnNo, paidAt)
		if err != nil {
			return err
		}
		if rows == 0 {
			return nil
		}
		flipped = true

		payment, err := repos.Payment.GetByGatewayRef(ctx, gatewayRef)
		if err != nil {
			return err
		}
		if payment == nil {
			return apperrors.NewAppError(apperrors.ErrInternal, "paid payment vanished: "+gatewayRef, nil)
		}
		paymentID = payment.ID

		if _, err := repos.Transaction.MarkSucceededByPaymentID(ctx, payment.ID); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if !flipped {
		return false, nil
	}

	s.logger.Info("payment settled",
		zap.String("gateway_ref", gatewayRef),
		zap.Int64("payment_id", paymentID))
	s.events.PaymentSucceeded(ctx, event.PaymentSucceeded{PaymentID: paymentID})
	return true, nil
}

// Fail records a gateway failure on a payment that has not settled, voiding
// its draft ledger entry and publishing the failure event. A payment that
// already settled is left untouched. Returns the number of rows changed.
func (s *CallbackService) Fail(ctx context.Context, gatewayRef string, responseCode string, message string) (int64, error) {
	var rows int64
	var failed *model.Payment
	var txnStatus model.TransactionStatus
	err := s.repos.WithTransaction(ctx, func(repos *database.Repositories) error {
		var err error
		rows, err = repos.Payment.MarkFailed(ctx, gatewayRef, responseCode, message)
		if err != nil {
			return err
		}
		if rows == 0 {
			return nil
		}

		failed, err = repos.Payment.GetByGatewayRef(ctx, gatewayRef)
		if err != nil {
			return err
		}
		if failed == nil {
			return nil
		}
		if _, err := repos.Transaction.VoidByPaymentID(ctx, failed.ID); err != nil {
			return err
		}
		txnStatus = model.TransactionStatusVoid
		return nil
	})
	if err != nil {
		return 0, err
	}

	if failed != nil {
		s.logger.Info("payment failed",
			zap.String("gateway_ref", gatewayRef),
			zap.String("response_code", responseCode))
		s.events.PaymentFailed(ctx, event.PaymentFailed{
			PaymentID:         failed.ID,
			UserID:            failed.UserID.String(),
			AmountMinor:       failed.AmountMinor,
			PlanCode:          failed.PlanCode,
			ErrorCode:         responseCode,
			TransactionStatus: string(txnStatus),
		})
	}
	return rows, nil
}

func (s *CallbackService) audit(ctx context.Context, payment *model.Payment, action string, detail model.JSONB) {
	entry := &model.AuditLog{
		UserID:    &payment.UserID,
		Action:    action,
		Table:     model.Payment{}.TableName(),
		RecordID:  &payment.ID,
		Detail:    detail,
		IPAddress: payment.ClientIP,
	}
	if err := s.repos.AuditLog.Create(ctx, entry); err != nil {
		s.logger.Error("failed to write audit log",
			zap.String("action", action),
			zap.Error(err))
	}
}

func parseWireAmount(raw string) int64 {
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return -1
	}
	return v
}
