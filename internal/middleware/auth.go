package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

const (
	AccountIDKey    = "account_id"
	AccountIDHeader = "X-Account-Id"
)

// Auth identifies the calling account. With a JWT secret it requires an HS256
// bearer token and takes the account from the sub claim; without one it trusts
// the X-Account-Id header, which is only meant for local development.
func Auth(jwtSecret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			var accountID string
			if jwtSecret == "" {
				accountID = strings.TrimSpace(c.Request().Header.Get(AccountIDHeader))
			} else {
				id, err := accountFromBearer(c.Request().Header.Get(echo.HeaderAuthorization), jwtSecret)
				if err != nil {
					return echo.NewHTTPError(http.StatusUnauthorized, "invalid or missing bearer token")
				}
				accountID = id
			}

			if accountID == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing account identity")
			}

			c.Set(AccountIDKey, accountID)
			return next(c)
		}
	}
}

func accountFromBearer(header, secret string) (string, error) {
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		return "", errors.New("no bearer token")
	}

	token, err := jwt.Parse(strings.TrimSpace(raw), func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}

	sub, err := token.Claims.GetSubject()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(sub), nil
}

// AccountID returns the identity stored by Auth.
func AccountID(c echo.Context) string {
	id, _ := c.Get(AccountIDKey).(string)
	return id
}
