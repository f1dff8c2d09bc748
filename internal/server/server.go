package server

import (
	"context"
	"net/http"
	"strconv"

	"donation-platform/internal/handler"
	authmw "donation-platform/internal/middleware"
	"donation-platform/internal/service"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
)

type Server struct {
	echo            *echo.Echo
	log             zerolog.Logger
	jwtSecret       string
	webhookMaxBytes int64
	checkoutHandler *handler.CheckoutHandler
	accessHandler   *handler.AccessHandler
	webhookHandler  *handler.WebhookHandler
}

type Options struct {
	BaseURL         string
	JWTSecret       string
	WebhookMaxBytes int64
}

func NewServer(
	checkoutService service.CheckoutService,
	accessGate service.AccessGate,
	webhookService service.WebhookService,
	opts Options,
	log zerolog.Logger,
) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:      true,
		LogStatus:   true,
		LogMethod:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			evt := log.Info()
			if v.Error != nil || v.Status >= http.StatusInternalServerError {
				evt = log.Error().Err(v.Error)
			}
			evt.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("request")
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	if opts.WebhookMaxBytes <= 0 {
		opts.WebhookMaxBytes = 64 << 10
	}

	s := &Server{
		echo:            e,
		log:             log,
		jwtSecret:       opts.JWTSecret,
		webhookMaxBytes: opts.WebhookMaxBytes,
		checkoutHandler: handler.NewCheckoutHandler(checkoutService, opts.BaseURL),
		accessHandler:   handler.NewAccessHandler(accessGate),
		webhookHandler:  handler.NewWebhookHandler(webhookService),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.echo.Group("/api")

	api.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	// -------- account facing --------
	auth := authmw.Auth(s.jwtSecret)
	checkout := api.Group("/checkout", auth)
	checkout.POST("/subscription", s.checkoutHandler.Subscription)
	checkout.POST("/donation", s.checkoutHandler.Donation)
	checkout.GET("/outcome", s.checkoutHandler.Outcome)
	api.GET("/access", s.accessHandler.Get, auth)

	// -------- stripe webhooks --------
	// authenticated by signature, not by account identity
	api.POST("/stripe/webhook", s.webhookHandler.Stripe,
		middleware.BodyLimit(strconv.FormatInt(s.webhookMaxBytes, 10)+"B"))
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start(address string) error {
	s.log.Info().Str("address", address).Msg("http server listening")
	return s.echo.Start(address)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
