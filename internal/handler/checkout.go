package handler

import (
	"net/http"
	"strings"

	"donation-platform/internal/dto"
	"donation-platform/internal/middleware"
	"donation-platform/internal/service"

	"github.com/labstack/echo/v4"
)

// Stripe substitutes the session id into the success URL on redirect.
const sessionIDPlaceholder = "{CHECKOUT_SESSION_ID}"

type CheckoutHandler struct {
	checkoutService service.CheckoutService
	baseURL         string
}

// NewCheckoutHandler uses baseURL to build the redirect URLs a request leaves out.
func NewCheckoutHandler(checkoutService service.CheckoutService, baseURL string) *CheckoutHandler {
	return &CheckoutHandler{
		checkoutService: checkoutService,
		baseURL:         strings.TrimRight(baseURL, "/"),
	}
}

func (h *CheckoutHandler) redirectURLs(successURL, cancelURL string) (string, string) {
	if h.baseURL == "" {
		return successURL, cancelURL
	}
	if successURL == "" {
		successURL = h.baseURL + "/billing/success?session_id=" + sessionIDPlaceholder
	}
	if cancelURL == "" {
		cancelURL = h.baseURL + "/billing/cancel"
	}
	return successURL, cancelURL
}

func (h *CheckoutHandler) Subscription(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.SubscriptionCheckoutRequest
	if err := bindAndValidate(c, &req); err != nil {
		return httpError(c, err)
	}

	successURL, cancelURL := h.redirectURLs(req.SuccessURL, req.CancelURL)
	ref, err := h.checkoutService.CreateSubscriptionCheckout(ctx, req.PriceID, middleware.AccountID(c), successURL, cancelURL)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, ref)
}

func (h *CheckoutHandler) Donation(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.DonationCheckoutRequest
	if err := bindAndValidate(c, &req); err != nil {
		return httpError(c, err)
	}

	successURL, cancelURL := h.redirectURLs(req.SuccessURL, req.CancelURL)
	ref, err := h.checkoutService.CreateOneTimeCheckout(ctx, req.Amount, middleware.AccountID(c), successURL, cancelURL)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, ref)
}

// Outcome is hit from the success redirect with ?session_id=...
func (h *CheckoutHandler) Outcome(c echo.Context) error {
	ctx := c.Request().Context()

	outcome, err := h.checkoutService.VerifyCheckoutOutcome(ctx, c.QueryParam("session_id"))
	if err != nil {
		return httpError(c, err)
	}
	if caller := middleware.AccountID(c); caller != "" && caller != outcome.AccountID {
		return c.JSON(http.StatusForbidden, dto.ErrorResponse{Error: "checkout belongs to another account"})
	}
	return c.JSON(http.StatusOK, outcome)
}
