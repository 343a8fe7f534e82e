package http

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	handlers "github.com/subcommerce/billing-engine/internal/adapter/handler/http"
	"github.com/subcommerce/billing-engine/internal/config"
	"github.com/subcommerce/billing-engine/internal/middleware/auth"
	"github.com/subcommerce/billing-engine/internal/usecase"
	"github.com/subcommerce/billing-engine/pkg/logger"
	"go.uber.org/zap"
)

type Server struct {
	config    *config.Config
	logger    *zap.Logger
	echo      *echo.Echo
	payments  *usecase.PaymentService
	callbacks *usecase.CallbackService
	plans     *handlers.PlansHandler
}

// requestValidator adapts go-playground/validator to echo's Validator.
type requestValidator struct {
	validate *validator.Validate
}

func (v *requestValidator) Validate(i interface{}) error {
	return v.validate.Struct(i)
}

func NewServer(
	cfg *config.Config,
	log *zap.Logger,
	payments *usecase.PaymentService,
	callbacks *usecase.CallbackService,
	plans *handlers.PlansHandler,
) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Validator = &requestValidator{validate: validator.New()}

	// Middleware
	e.Use(logger.NewEchoRequestLogger(log))
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{cfg.Service.ClientURL},
		AllowMethods: []string{echo.GET, echo.POST, echo.PUT, echo.DELETE},
	}))

	return &Server{
		config:    cfg,
		logger:    log,
		echo:      e,
		payments:  payments,
		callbacks: callbacks,
		plans:     plans,
	}
}

func (s *Server) Start() error {
	s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", s.config.Server.HTTP.Host, s.config.Server.HTTP.Port)
	s.logger.Info("Starting HTTP server", zap.String("address", addr))

	return s.echo.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	// Health check
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "healthy",
			"service": s.config.Service.Name,
		})
	})

	paymentHandler := handlers.NewPaymentHandler(s.payments, s.logger)
	callbackHandler := handlers.NewCallbackHandler(s.callbacks, s.logger)

	// Gateway callbacks: the browser return and the server-to-server IPN.
	// Both are authenticated by the secure hash, not by JWT.
	s.echo.GET("/payment/return", callbackHandler.HandleReturn)
	s.echo.GET("/payment/ipn", callbackHandler.HandleIPN)

	jwtConfig := auth.JWTConfig{
		Secret: s.config.JWT.Secret,
		Logger: s.logger,
		SkipPaths: []string{
			"/health",
			"/payment",
			"/api/v1/plans",
		},
	}

	v1 := s.echo.Group("/api/v1")

	// Plans are public for browsing
	v1.GET("/plans", s.plans.GetPlans)

	protected := v1.Group("", auth.JWTMiddleware(jwtConfig))
	protected.POST("/payments", paymentHandler.CreatePayment)
	protected.GET("/payments/:id", paymentHandler.GetPayment)
	protected.GET("/payments/:id/redirect", paymentHandler.GetRedirectURL)
	protected.POST("/payments/:id/query", paymentHandler.QueryStatus)
}
