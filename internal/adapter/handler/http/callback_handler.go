package http

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/subcommerce/billing-engine/internal/usecase"
	apperrors "github.com/subcommerce/billing-engine/pkg/errors"
	"go.uber.org/zap"
)

// CallbackHandler terminates the two gateway callbacks. The return endpoint
// is browser-facing and may error; the IPN endpoint always answers 200 with
// a gateway response code because the gateway retries on anything else.
type CallbackHandler struct {
	callbacks *usecase.CallbackService
	logger    *zap.Logger
}

func NewCallbackHandler(callbacks *usecase.CallbackService, logger *zap.Logger) *CallbackHandler {
	return &CallbackHandler{
		callbacks: callbacks,
		logger:    logger,
	}
}

func (h *CallbackHandler) HandleReturn(c echo.Context) error {
	result, err := h.callbacks.HandleReturn(c.Request().Context(), c.QueryParams())
	if err != nil {
		h.logger.Error("Failed to handle return callback",
			zap.String("query", c.QueryString()),
			zap.Error(err))
		return apperrors.ToHTTPError(err)
	}

	return c.JSON(http.StatusOK, result)
}

func (h *CallbackHandler) HandleIPN(c echo.Context) error {
	resp := h.callbacks.HandleIPN(c.Request().Context(), c.QueryParams())
	return c.JSON(http.StatusOK, resp)
}
