package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
)

var (
	errMissingAuthorization = errors.New("missing authorization header")
	errBadAuthorization     = errors.New("bad auth header")
)

// Auth validates bearer JWTs, either HS256 with a shared secret or RS256
// against a JWKS.
type Auth struct {
	JWKS     *keyfunc.JWKS
	Secret   []byte
	Audience string
	Issuer   string

	parser *jwt.Parser
}

// NewAuth creates an Auth. A non-empty secret selects HS256.
func NewAuth(jwks *keyfunc.JWKS, secret []byte, audience, issuer string) *Auth {
	a := &Auth{JWKS: jwks, Secret: secret, Audience: audience, Issuer: issuer}
	if len(secret) > 0 {
		a.parser = jwt.NewParser(jwt.WithValidMethods([]string{"HS256"}))
	} else {
		a.parser = jwt.NewParser(jwt.WithValidMethods([]string{"RS256"}))
	}
	return a
}

// SubjectFromAuthHeader returns the sub claim of a valid bearer token.
func (a *Auth) SubjectFromAuthHeader(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errMissingAuthorization
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.Count(token, ".") != 2 {
		return "", errBadAuthorization
	}

	parsed, err := a.parser.Parse(strings.TrimSpace(token), a.key)
	if err != nil {
		return "", err
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid claims")
	}
	if a.Audience != "" && !claims.VerifyAudience(a.Audience, true) {
		return "", errors.New("invalid audience")
	}
	if a.Issuer != "" && !claims.VerifyIssuer(a.Issuer, true) {
		return "", errors.New("invalid issuer")
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", errors.New("missing sub")
	}
	return sub, nil
}

func (a *Auth) key(t *jwt.Token) (any, error) {
	if len(a.Secret) > 0 {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return a.Secret, nil
	}
	if a.JWKS == nil {
		return nil, errors.New("jwks not configured")
	}
	return a.JWKS.Keyfunc(t)
}

// MintToken signs an HS256 token for sub. The server uses it for its own
// calls to the task store. A zero ttl mints a token without expiry.
func MintToken(secret []byte, sub, audience, issuer string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": sub,
		"iat": now.Unix(),
	}
	if ttl != 0 {
		claims["exp"] = now.Add(ttl).Unix()
	}
	if audience != "" {
		claims["aud"] = audience
	}
	if issuer != "" {
		claims["iss"] = issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// requireAuth rejects /api requests without a valid bearer token. The SSE
// stream also accepts the token as a query parameter.
func requireAuth(auth Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !strings.HasPrefix(c.Request().URL.Path, "/api/") {
				return next(c)
			}
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			if header == "" {
				if token := c.QueryParam("token"); token != "" {
					header = "Bearer " + token
				}
			}
			sub, err := auth.SubjectFromAuthHeader(header)
			if err != nil {
				return writeError(c, http.StatusUnauthorized, "unauthorized", err.Error())
			}
			c.Set("subject", sub)
			return next(c)
		}
	}
}
