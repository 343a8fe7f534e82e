package http

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/subcommerce/billing-engine/internal/domain/repository"
	"go.uber.org/zap"
)

type PlansHandler struct {
	plans  repository.PlanRepository
	logger *zap.Logger
}

func NewPlansHandler(plans repository.PlanRepository, logger *zap.Logger) *PlansHandler {
	return &PlansHandler{
		plans:  plans,
		logger: logger,
	}
}

func (h *PlansHandler) GetPlans(c echo.Context) error {
	plans, err := h.plans.ListActive(c.Request().Context())
	if err != nil {
		h.logger.Error("Failed to list plans", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error": "Failed to get plans",
		})
	}

	return c.JSON(http.StatusOK, plans)
}
