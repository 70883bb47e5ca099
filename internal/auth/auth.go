// Package auth resolves who is calling. Tokens are issued by an external
// identity provider and signed with a shared HS256 secret; the service only
// verifies them.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/yurei/config"
)

// Identity is the caller a request is attributed to. Anonymous callers are
// identified by address so they still get a rate-limit window.
type Identity struct {
	Subject   string
	Anonymous bool
}

// Key is the string used for per-caller accounting.
func (i Identity) Key() string {
	if i.Anonymous {
		return "ip:" + i.Subject
	}
	return "user:" + i.Subject
}

var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
)

type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify checks signature and expiry and returns the token subject.
func (v *Verifier) Verify(token string) (string, error) {
	if len(v.secret) == 0 {
		return "", ErrInvalidToken
	}
	parsed, err := jwt.Parse(token, func(*jwt.Token) (interface{}, error) { return v.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return "", ErrInvalidToken
	}
	sub, err := parsed.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", ErrInvalidToken
	}
	return sub, nil
}

// Middleware attaches an Identity to every request. A presented token must
// verify; without one the caller is anonymous unless cfg.Required is set.
func Middleware(cfg config.AuthConfig) echo.MiddlewareFunc {
	v := NewVerifier(cfg.JWTSecret)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tok := extractToken(c)
			var id Identity
			switch {
			case tok != "":
				sub, err := v.Verify(tok)
				if err != nil {
					return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
				}
				id = Identity{Subject: sub}
			case cfg.Required:
				return echo.NewHTTPError(http.StatusUnauthorized, ErrMissingToken.Error())
			default:
				id = Identity{Subject: c.RealIP(), Anonymous: true}
			}
			c.Set("user_id", id.Subject)
			c.SetRequest(c.Request().WithContext(WithIdentity(c.Request().Context(), id)))
			return next(c)
		}
	}
}

func extractToken(c echo.Context) string {
	if h := c.Request().Header.Get(echo.HeaderAuthorization); len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	if ck, err := c.Cookie("auth"); err == nil {
		return ck.Value
	}
	return ""
}

type identityKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the identity stored by Middleware.
func FromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
