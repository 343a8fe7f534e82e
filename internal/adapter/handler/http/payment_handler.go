package http

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/subcommerce/billing-engine/internal/middleware/auth"
	"github.com/subcommerce/billing-engine/internal/usecase"
	apperrors "github.com/subcommerce/billing-engine/pkg/errors"
	"go.uber.org/zap"
)

type PaymentHandler struct {
	payments *usecase.PaymentService
	logger   *zap.Logger
}

func NewPaymentHandler(payments *usecase.PaymentService, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{
		payments: payments,
		logger:   logger,
	}
}

// CreatePaymentRequest is the create-payment request body.
type CreatePaymentRequest struct {
	PlanCode       string `json:"plan_code" validate:"required,max=50"`
	BillingPeriod  string `json:"billing_period" validate:"omitempty,oneof=monthly yearly"`
	IdempotencyKey string `json:"idempotency_key" validate:"omitempty,max=100"`
}

func (h *PaymentHandler) CreatePayment(c echo.Context) error {
	user, err := auth.RequireAuth(c)
	if err != nil {
		return err
	}

	var req CreatePaymentRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": "Invalid request body",
		})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": err.Error(),
		})
	}

	result, err := h.payments.CreatePayment(c.Request().Context(), usecase.CreatePaymentInput{
		UserID:         user.UserID,
		PlanCode:       req.PlanCode,
		BillingPeriod:  req.BillingPeriod,
		IdempotencyKey: req.IdempotencyKey,
		ClientIP:       c.RealIP(),
	})
	if err != nil {
		h.logger.Error("Failed to create payment",
			zap.String("user_id", user.UserID.String()),
			zap.String("plan_code", req.PlanCode),
			zap.Error(err))
		return apperrors.ToHTTPError(err)
	}

	return c.JSON(http.StatusCreated, result)
}

func (h *PaymentHandler) GetPayment(c echo.Context) error {
	user, err := auth.RequireAuth(c)
	if err != nil {
		return err
	}

	id, err := parsePaymentID(c)
	if err != nil {
		return err
	}

	payment, err := h.payments.GetPayment(c.Request().Context(), id)
	if err != nil {
		return apperrors.ToHTTPError(err)
	}
	if payment.UserID != user.UserID {
		return c.JSON(http.StatusNotFound, echo.Map{
			"error": "Payment not found",
		})
	}

	return c.JSON(http.StatusOK, payment)
}

func (h *PaymentHandler) GetRedirectURL(c echo.Context) error {
	user, err := auth.RequireAuth(c)
	if err != nil {
		return err
	}

	id, err := parsePaymentID(c)
	if err != nil {
		return err
	}

	payment, err := h.payments.GetPayment(c.Request().Context(), id)
	if err != nil {
		return apperrors.ToHTTPError(err)
	}
	if payment.UserID != user.UserID {
		return c.JSON(http.StatusNotFound, echo.Map{
			"error": "Payment not found",
		})
	}

	redirectURL, err := h.payments.RegenerateRedirectURL(c.Request().Context(), id)
	if err != nil {
		h.logger.Error("Failed to regenerate redirect URL",
			zap.Int64("payment_id", id),
			zap.Error(err))
		return apperrors.ToHTTPError(err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"payment_id":   id,
		"redirect_url": redirectURL,
	})
}

func (h *PaymentHandler) QueryStatus(c echo.Context) error {
	user, err := auth.RequireAuth(c)
	if err != nil {
		return err
	}

	id, err := parsePaymentID(c)
	if err != nil {
		return err
	}

	payment, err := h.payments.GetPayment(c.Request().Context(), id)
	if err != nil {
		return apperrors.ToHTTPError(err)
	}
	if payment.UserID != user.UserID {
		return c.JSON(http.StatusNotFound, echo.Map{
			"error": "Payment not found",
		})
	}

	result, err := h.payments.QueryStatus(c.Request().Context(), id, c.RealIP())
	if err != nil {
		h.logger.Error("Failed to query payment status",
			zap.Int64("payment_id", id),
			zap.Error(err))
		return apperrors.ToHTTPError(err)
	}

	return c.JSON(http.StatusOK, result)
}

func parsePaymentID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "Invalid payment id")
	}
	return id, nil
}
