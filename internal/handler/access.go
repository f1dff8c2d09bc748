package handler

import (
	"net/http"

	"donation-platform/internal/middleware"
	"donation-platform/internal/service"

	"github.com/labstack/echo/v4"
)

type AccessHandler struct {
	accessGate service.AccessGate
}

func NewAccessHandler(accessGate service.AccessGate) *AccessHandler {
	return &AccessHandler{accessGate: accessGate}
}

func (h *AccessHandler) Get(c echo.Context) error {
	flag, err := h.accessGate.Access(c.Request().Context(), middleware.AccountID(c))
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, flag)
}
