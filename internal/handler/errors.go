package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"donation-platform/internal/apperr"
	"donation-platform/internal/dto"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

var kindStatus = map[apperr.Kind]int{
	apperr.KindInvalidArgument:     http.StatusBadRequest,
	apperr.KindSignature:           http.StatusBadRequest,
	apperr.KindMalformedEvent:      http.StatusBadRequest,
	apperr.KindNotCompleted:        http.StatusConflict,
	apperr.KindMissingCorrelation:  http.StatusUnprocessableEntity,
	apperr.KindNotFound:            http.StatusNotFound,
	apperr.KindUpstreamRejected:    http.StatusBadGateway,
	apperr.KindUpstreamUnavailable: http.StatusServiceUnavailable,
	apperr.KindUpstreamTimeout:     http.StatusGatewayTimeout,
}

// httpError turns a service error into an HTTP response. Server-side failures
// are reported by kind only; the wrapped cause stays in the logs.
func httpError(c echo.Context, err error) error {
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		c.Logger().Error(err)
		return c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "internal error"})
	}

	status, ok := kindStatus[ae.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}

	msg := ae.Msg
	if status >= http.StatusInternalServerError || msg == "" {
		msg = strings.ReplaceAll(string(ae.Kind), "_", " ")
	}
	return c.JSON(status, dto.ErrorResponse{Error: msg, Kind: string(ae.Kind)})
}

func bindAndValidate(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return apperr.New(apperr.KindInvalidArgument, "", "invalid request body")
	}
	if err := dto.Validate.Struct(req); err != nil {
		return apperr.New(apperr.KindInvalidArgument, "", validationMessage(err))
	}
	return nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", fe.Field()))
		case "url":
			msgs = append(msgs, fmt.Sprintf("%s must be a valid URL", fe.Field()))
		case "gt":
			msgs = append(msgs, fmt.Sprintf("%s must be greater than %s", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid", fe.Field()))
		}
	}
	return strings.Join(msgs, "; ")
}
