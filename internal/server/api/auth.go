package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"securevault/internal/server/service"
)

const principalKey = "principal"

// Claims are the token claims the server consumes. The subject is the
// principal id; Admin grants the administrator flag.
type Claims struct {
	jwt.RegisteredClaims
	Admin bool `json:"admin"`
}

// Identity verifies HS256 bearer tokens issued by the identity provider.
type Identity struct {
	secret []byte
}

// NewIdentity creates an Identity for the shared signing secret.
func NewIdentity(secret []byte) (*Identity, error) {
	if len(secret) == 0 {
		return nil, errors.New("jwt secret must not be empty")
	}
	return &Identity{secret: secret}, nil
}

// Middleware authenticates the request and stores the principal in the
// echo context.
func (id *Identity) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			scheme, token, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
				return unauthorized(c, "missing bearer token")
			}

			claims := &Claims{}
			parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
				return id.secret, nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
			if err != nil || !parsed.Valid {
				slog.Debug("token rejected", "ip", c.RealIP(), "error", err)
				return unauthorized(c, "invalid or expired token")
			}

			sub, err := claims.GetSubject()
			if err != nil || sub == "" {
				return unauthorized(c, "token has no subject")
			}

			c.Set(principalKey, service.Principal{ID: sub, Admin: claims.Admin})
			return next(c)
		}
	}
}

// RequireAdmin rejects principals without the administrator flag.
func RequireAdmin() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if p, ok := principalFrom(c); !ok || !p.Admin {
				return writeError(c, http.StatusForbidden, service.CodeForbidden,
					"you do not have permission to perform this action")
			}
			return next(c)
		}
	}
}

func principalFrom(c echo.Context) (service.Principal, bool) {
	p, ok := c.Get(principalKey).(service.Principal)
	return p, ok
}

func unauthorized(c echo.Context, message string) error {
	return writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", message)
}
