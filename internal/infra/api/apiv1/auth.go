package apiv1

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/domain"
	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/infra/logging"
)

// UserClaims is the token the web app hands to the API. Subject carries the user id.
type UserClaims struct {
	TelegramID int64  `json:"tg,omitempty"`
	Lang       string `json:"lang,omitempty"`
	jwt.RegisteredClaims
}

type Authenticator struct {
	secret []byte
	issuer string
	// AccessCookie is read when no Authorization header is sent.
	AccessCookie string
}

func NewAuthenticator(secret, issuer string) *Authenticator {
	return &Authenticator{secret: []byte(secret), issuer: issuer, AccessCookie: "access_token"}
}

// Mint signs a token for userID. Used by tooling and tests; the web app issues its own.
func (a *Authenticator) Mint(userID string, telegramID int64, lang string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := UserClaims{
		TelegramID: telegramID,
		Lang:       lang,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *Authenticator) ParseFromRequest(r *http.Request) (*UserClaims, error) {
	// Authorization: Bearer <jwt>
	if hdr := r.Header.Get("Authorization"); hdr != "" {
		if len(hdr) > 7 && strings.EqualFold(hdr[:7], "bearer ") {
			return a.parse(strings.TrimSpace(hdr[7:]))
		}
		return nil, domain.ErrUnauthorized
	}
	if a.AccessCookie != "" {
		if c, err := r.Cookie(a.AccessCookie); err == nil {
			return a.parse(c.Value)
		}
	}
	return nil, domain.ErrUnauthorized
}

func (a *Authenticator) parse(tok string) (*UserClaims, error) {
	if len(a.secret) == 0 {
		return nil, errors.New("jwt secret is not configured")
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	claims := &UserClaims{}
	tkn, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil || !tkn.Valid || claims.Subject == "" {
		return nil, domain.ErrUnauthorized
	}
	return claims, nil
}

type ctxKey int

const ctxClaims ctxKey = iota

// Require rejects requests without a valid token and stores the claims in the context.
func (a *Authenticator) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := a.ParseFromRequest(r)
		if err != nil {
			writeError(w, r, domain.ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

// Optional stores the claims when a valid token is present and never rejects.
func (a *Authenticator) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if claims, err := a.ParseFromRequest(r); err == nil {
			r = r.WithContext(WithClaims(r.Context(), claims))
		}
		next.ServeHTTP(w, r)
	})
}

func WithClaims(ctx context.Context, c *UserClaims) context.Context {
	ctx = logging.WithUserID(ctx, c.Subject)
	return context.WithValue(ctx, ctxClaims, c)
}

func ClaimsFrom(ctx context.Context) (*UserClaims, bool) {
	c, ok := ctx.Value(ctxClaims).(*UserClaims)
	return c, ok
}
