package handler

import (
	"io"
	"net/http"

	"donation-platform/internal/apperr"
	"donation-platform/internal/dto"
	"donation-platform/internal/service"

	"github.com/labstack/echo/v4"
)

const signatureHeader = "Stripe-Signature"

type WebhookHandler struct {
	webhookService service.WebhookService
}

func NewWebhookHandler(webhookService service.WebhookService) *WebhookHandler {
	return &WebhookHandler{webhookService: webhookService}
}

// Stripe only retries on non-2xx, so anything we have durably recorded is acknowledged.
func (h *WebhookHandler) Stripe(c echo.Context) error {
	ctx := c.Request().Context()

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "read body failed"})
	}

	res, err := h.webhookService.Receive(ctx, body, c.Request().Header.Get(signatureHeader))
	if err != nil {
		if apperr.Is(err, apperr.KindSignature) {
			// no detail for callers that fail signature checks
			return c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid signature", Kind: string(apperr.KindSignature)})
		}
		return httpError(c, err)
	}

	return c.JSON(http.StatusOK, dto.WebhookResponse{
		Received:  true,
		EventID:   res.EventID,
		Duplicate: res.Duplicate,
	})
}
