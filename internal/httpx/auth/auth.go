// Package auth verifies bearer tokens and puts the caller's identity into
// the request context.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/vadim/neo-social/internal/apperr"
	account "github.com/vadim/neo-social/internal/domain/account/entity"
	"github.com/vadim/neo-social/internal/httpx/response"
)

var (
	ErrMissingToken = fmt.Errorf("%w: missing token", apperr.ErrUnauthenticated)
	ErrInvalidToken = fmt.Errorf("%w: invalid token", apperr.ErrUnauthenticated)
)

// UserReader loads the account behind a token subject
type UserReader interface {
	GetByID(ctx context.Context, id string) (*account.User, error)
}

// Verifier checks HS256 tokens whose subject is a user id
type Verifier struct {
	secret []byte
	issuer string
	users  UserReader
}

// NewVerifier creates a token verifier. An empty issuer is not checked.
func NewVerifier(secret, issuer string, users UserReader) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer, users: users}
}

// Issue signs a token for userID valid for ttl
func (v *Verifier) Issue(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    v.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Authenticate resolves the identity of a request. The token is read from
// the Authorization header or, for browser websockets, the token query
// parameter.
func (v *Verifier) Authenticate(r *http.Request) (account.Identity, error) {
	raw := tokenFromRequest(r)
	if raw == "" {
		return account.Identity{}, ErrMissingToken
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil || !token.Valid || claims.Subject == "" {
		return account.Identity{}, ErrInvalidToken
	}

	user, err := v.users.GetByID(r.Context(), claims.Subject)
	if err != nil {
		return account.Identity{}, apperr.Persistence("loading user", err)
	}
	if user == nil {
		return account.Identity{}, ErrInvalidToken
	}
	if !user.IsActive {
		return account.Identity{}, account.ErrInactiveAccount
	}

	return account.IdentityOf(*user), nil
}

// Middleware rejects unauthenticated requests
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := v.Authenticate(r)
		if err != nil {
			response.FromError(w, err, "failed to authenticate")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}

func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

type ctxKey struct{}

// WithIdentity returns a context carrying identity
func WithIdentity(ctx context.Context, identity account.Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, identity)
}

// FromContext returns the identity placed by Middleware
func FromContext(ctx context.Context) (account.Identity, bool) {
	identity, ok := ctx.Value(ctxKey{}).(account.Identity)
	return identity, ok && identity.Valid()
}
